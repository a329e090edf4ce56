// internal/types/events.go
package types

import (
	"sync"
	"time"
)

// EventBus - интерфейс шины событий
type EventBus interface {
	// Publish публикует событие асинхронно
	Publish(event Event) error

	// PublishSync публикует событие синхронно
	PublishSync(event Event) error

	// Subscribe подписывает обработчик на тип события
	Subscribe(eventType EventType, subscriber EventSubscriber)

	// Unsubscribe отписывает обработчика от типа события
	Unsubscribe(eventType EventType, subscriber EventSubscriber)

	// Start запускает EventBus
	Start()

	// Stop останавливает EventBus
	Stop()

	// GetMetrics возвращает метрики
	GetMetrics() *EventBusMetrics
}

// Event - структура события
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	Source    string      `json:"source"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// EventType - тип события
type EventType string

// EventSubscriber - интерфейс подписчика
type EventSubscriber interface {
	HandleEvent(event Event) error
	GetName() string
	GetSubscribedEvents() []EventType
}

// EventBusMetrics - метрики EventBus
type EventBusMetrics struct {
	Mu               sync.RWMutex
	EventsPublished  int64             `json:"events_published"`
	EventsProcessed  int64             `json:"events_processed"`
	EventsFailed     int64             `json:"events_failed"`
	SubscribersCount map[EventType]int `json:"subscribers_count"`
	ProcessingTime   time.Duration     `json:"processing_time"`
}

// Константы типов событий
const (
	EventStatusChanged        EventType = "status_changed"
	EventLogLine              EventType = "log_line"
	EventStreamClosed         EventType = "stream_closed"
	EventOrphanRemoved        EventType = "container_orphan_removed"
	EventReconcileCompleted   EventType = "reconcile_completed"
	EventServiceStarted       EventType = "service_started"
	EventServiceStopped       EventType = "service_stopped"
	EventServiceError         EventType = "service_error"
)

// StatusChangedPayload данные события status_changed
type StatusChangedPayload struct {
	RecordID  string `json:"container_id"`
	Status    string `json:"status"`
	LastError string `json:"last_error,omitempty"`
}

// StreamClosedPayload данные события stream_closed
type StreamClosedPayload struct {
	RecordID string `json:"container_id"`
	Reason   string `json:"reason"`
}

// LogLinePayload данные события log_line
type LogLinePayload struct {
	RecordID string `json:"container_id"`
	Line     string `json:"line"`
}
