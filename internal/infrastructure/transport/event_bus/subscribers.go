// internal/infrastructure/transport/event_bus/subscribers.go
package events

import (
	"trading-bot-orchestrator/internal/types"
	"trading-bot-orchestrator/pkg/logger"
)

// BaseSubscriber - базовая реализация подписчика
type BaseSubscriber struct {
	name             string
	subscribedEvents []types.EventType
	handler          func(types.Event) error
}

// NewBaseSubscriber создает нового подписчика
func NewBaseSubscriber(name string, events []types.EventType, handler func(types.Event) error) *BaseSubscriber {
	return &BaseSubscriber{
		name:             name,
		subscribedEvents: events,
		handler:          handler,
	}
}

// HandleEvent обрабатывает событие
func (s *BaseSubscriber) HandleEvent(event types.Event) error {
	return s.handler(event)
}

// GetName возвращает имя подписчика
func (s *BaseSubscriber) GetName() string {
	return s.name
}

// GetSubscribedEvents возвращает типы событий
func (s *BaseSubscriber) GetSubscribedEvents() []types.EventType {
	return s.subscribedEvents
}

// NewConsoleLoggerSubscriber - подписчик для логирования переходов
// состояний в консоль (диагностика)
func NewConsoleLoggerSubscriber() *BaseSubscriber {
	return NewBaseSubscriber(
		"console_logger",
		[]types.EventType{
			types.EventStatusChanged,
			types.EventStreamClosed,
			types.EventOrphanRemoved,
		},
		func(event types.Event) error {
			switch event.Type {
			case types.EventStatusChanged:
				if data, ok := event.Data.(types.StatusChangedPayload); ok {
					logger.Info("🔁 Контейнер %s → %s", data.RecordID, data.Status)
				}
			case types.EventStreamClosed:
				if data, ok := event.Data.(types.StreamClosedPayload); ok {
					logger.Info("📴 Поток логов %s закрыт: %s", data.RecordID, data.Reason)
				}
			case types.EventOrphanRemoved:
				logger.Warn("🧹 Удалён осиротевший контейнер: %v", event.Data)
			}
			return nil
		},
	)
}
