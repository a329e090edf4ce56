// internal/infrastructure/transport/event_bus/event_bus.go
package events

import (
	"fmt"
	"sync"
	"time"

	"trading-bot-orchestrator/internal/types"
	"trading-bot-orchestrator/pkg/logger"

	"github.com/google/uuid"
)

// EventBus - центральная шина событий оркестратора.
// Через неё расходятся status_changed / stream_closed между
// lifecycle-менеджером, хабом логов и delivery-слоем.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[types.EventType][]types.EventSubscriber
	eventBuffer chan types.Event
	metrics     *types.EventBusMetrics
	config      EventBusConfig
	running     bool
	stopChan    chan struct{}
	wg          sync.WaitGroup
}

// EventBusConfig - конфигурация EventBus
type EventBusConfig struct {
	BufferSize    int  `json:"buffer_size"`
	WorkerCount   int  `json:"worker_count"`
	EnableLogging bool `json:"enable_logging"`
}

// DefaultConfig - конфигурация по умолчанию
var DefaultConfig = EventBusConfig{
	BufferSize:    1000,
	WorkerCount:   4,
	EnableLogging: false,
}

// NewEventBus создает новую шину событий
func NewEventBus(config ...EventBusConfig) *EventBus {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}

	return &EventBus{
		subscribers: make(map[types.EventType][]types.EventSubscriber),
		eventBuffer: make(chan types.Event, cfg.BufferSize),
		metrics: &types.EventBusMetrics{
			SubscribersCount: make(map[types.EventType]int),
		},
		config:   cfg,
		stopChan: make(chan struct{}),
	}
}

// Start запускает EventBus
func (b *EventBus) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return
	}
	b.running = true

	// Запускаем обработчиков событий
	for i := 0; i < b.config.WorkerCount; i++ {
		b.wg.Add(1)
		go b.eventWorker(i)
	}

	logger.Info("🚌 EventBus запущен с %d обработчиками", b.config.WorkerCount)
}

// Stop останавливает EventBus и дожидается воркеров
func (b *EventBus) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	b.mu.Unlock()

	close(b.stopChan)
	b.wg.Wait()

	logger.Info("🛑 EventBus остановлен")
}

// Subscribe подписывает обработчик на тип события
func (b *EventBus) Subscribe(eventType types.EventType, subscriber types.EventSubscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Подписчик обязан заявить этот тип в GetSubscribedEvents
	found := false
	for _, et := range subscriber.GetSubscribedEvents() {
		if et == eventType {
			found = true
			break
		}
	}
	if !found {
		logger.Warn("⚠️ Подписчик %s не заявил событие %s", subscriber.GetName(), eventType)
		return
	}

	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber)
	b.metrics.SubscribersCount[eventType] = len(b.subscribers[eventType])

	if b.config.EnableLogging {
		logger.Debug("✅ %s подписался на %s", subscriber.GetName(), eventType)
	}
}

// Unsubscribe отписывает обработчик от типа события
func (b *EventBus) Unsubscribe(eventType types.EventType, subscriber types.EventSubscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subscribers, exists := b.subscribers[eventType]
	if !exists {
		return
	}

	for i, sub := range subscribers {
		if sub == subscriber {
			b.subscribers[eventType] = append(subscribers[:i], subscribers[i+1:]...)
			b.metrics.SubscribersCount[eventType] = len(b.subscribers[eventType])
			return
		}
	}
}

// Publish публикует событие асинхронно.
// При переполненном буфере событие отбрасывается с ошибкой —
// шина никогда не блокирует публикующего.
func (b *EventBus) Publish(event types.Event) error {
	b.mu.RLock()
	running := b.running
	b.mu.RUnlock()

	if !running {
		return fmt.Errorf("event bus is not running")
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventBuffer <- event:
		b.metrics.Mu.Lock()
		b.metrics.EventsPublished++
		b.metrics.Mu.Unlock()
		return nil
	default:
		if b.config.EnableLogging {
			logger.Warn("⚠️ Буфер событий полон, событие отброшено: %s", event.Type)
		}
		return fmt.Errorf("event buffer is full")
	}
}

// PublishSync публикует событие синхронно, минуя буфер
func (b *EventBus) PublishSync(event types.Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return b.processEvent(event)
}

// GetMetrics возвращает метрики шины
func (b *EventBus) GetMetrics() *types.EventBusMetrics {
	return b.metrics
}

// eventWorker - обработчик событий
func (b *EventBus) eventWorker(id int) {
	defer b.wg.Done()

	for {
		select {
		case event := <-b.eventBuffer:
			b.processEvent(event)
		case <-b.stopChan:
			// Дорабатываем остаток буфера перед выходом
			for {
				select {
				case event := <-b.eventBuffer:
					b.processEvent(event)
				default:
					return
				}
			}
		}
	}
}

// processEvent обрабатывает одно событие
func (b *EventBus) processEvent(event types.Event) error {
	startTime := time.Now()

	defer func() {
		b.metrics.Mu.Lock()
		b.metrics.ProcessingTime += time.Since(startTime)
		b.metrics.EventsProcessed++
		b.metrics.Mu.Unlock()
	}()

	b.mu.RLock()
	subscribers := make([]types.EventSubscriber, len(b.subscribers[event.Type]))
	copy(subscribers, b.subscribers[event.Type])
	b.mu.RUnlock()

	if len(subscribers) == 0 {
		return nil
	}

	var lastError error
	for _, subscriber := range subscribers {
		if err := b.handleEvent(event, subscriber); err != nil {
			lastError = err
			logger.Error("❌ Ошибка обработки события %s подписчиком %s: %v",
				event.Type, subscriber.GetName(), err)

			b.metrics.Mu.Lock()
			b.metrics.EventsFailed++
			b.metrics.Mu.Unlock()
		}
	}

	return lastError
}

// handleEvent вызывает подписчика, перехватывая панику
func (b *EventBus) handleEvent(event types.Event, subscriber types.EventSubscriber) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber %s panicked: %v", subscriber.GetName(), r)
		}
	}()

	return subscriber.HandleEvent(event)
}
