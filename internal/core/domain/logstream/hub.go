// internal/core/domain/logstream/hub.go
package logstream

import (
	"context"
	"sync"

	"trading-bot-orchestrator/internal/infrastructure/config"
	"trading-bot-orchestrator/internal/infrastructure/persistence/postgres/models"
	"trading-bot-orchestrator/internal/types"
	"trading-bot-orchestrator/pkg/logger"
)

// Hub - мультиплексор потоков логов контейнеров.
// На один контейнер движка держится ровно одно подключение к runtime,
// сколько бы зрителей ни смотрело: pump-горутина читает поток и
// раздает строки всем подписчикам. Последний отписавшийся зритель
// освобождает подключение.
type Hub struct {
	config  config.HubConfig
	runtime types.ContainerRuntime
	bus     types.EventBus

	mu      sync.Mutex
	streams map[string]*stream // по record_id
}

// stream - одно живое подключение к выводу контейнера
type stream struct {
	engineID string
	detach   func()
	ring     *ringBuffer

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewHub создает хаб стриминга логов
func NewHub(cfg config.HubConfig, runtime types.ContainerRuntime, bus types.EventBus) *Hub {
	return &Hub{
		config:  cfg,
		runtime: runtime,
		bus:     bus,
		streams: make(map[string]*stream),
	}
}

// Subscribe подключает зрителя к потоку логов записи.
// Первый зритель открывает подключение к runtime (tail истории, затем
// follow); последующие переиспользуют его и получают реплей кольцевого
// буфера, чтобы не потерять уже пролетевшие строки.
func (h *Hub) Subscribe(ctx context.Context, recordID, engineID string) (*Subscription, error) {
	h.mu.Lock()
	st, ok := h.streams[recordID]
	if !ok {
		// Подключение живет дольше первого зрителя: его жизненный
		// цикл определяет detach, а не контекст запроса
		lines, detach, err := h.runtime.AttachOutput(context.Background(), engineID, h.config.AttachTail)
		if err != nil {
			h.mu.Unlock()
			return nil, err
		}

		st = &stream{
			engineID: engineID,
			detach:   detach,
			ring:     newRingBuffer(h.config.RingSize),
			subs:     make(map[*Subscription]struct{}),
		}
		h.streams[recordID] = st

		go h.pump(recordID, st, lines)
		logger.Debug("📡 Открыт поток логов: record=%s", recordID)
	}
	h.mu.Unlock()

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		// Поток закрылся между lookup и подпиской: зритель получит
		// немедленно закрытую подписку с причиной
		sub := newSubscription(h.config.SubscriberBuffer)
		sub.close("stream already closed")
		return sub, nil
	}

	sub := newSubscription(h.config.SubscriberBuffer)

	// Реплей истории до живых строк
	for _, line := range st.ring.Tail(h.config.AttachTail) {
		sub.push(line)
	}

	st.subs[sub] = struct{}{}
	return sub, nil
}

// Unsubscribe отключает зрителя. Последний зритель освобождает
// подключение к runtime.
func (h *Hub) Unsubscribe(recordID string, sub *Subscription) {
	h.mu.Lock()
	st, ok := h.streams[recordID]
	h.mu.Unlock()
	if !ok {
		return
	}

	st.mu.Lock()
	if _, present := st.subs[sub]; !present {
		st.mu.Unlock()
		return
	}
	delete(st.subs, sub)
	sub.close("unsubscribed")
	empty := len(st.subs) == 0 && !st.closed
	st.mu.Unlock()

	if empty {
		h.closeStream(recordID, "no subscribers")
	}
}

// FetchRecentLogs возвращает последние n строк лога записи.
// Живой поток отвечает из кольцевого буфера; без подписчиков строки
// читаются напрямую из runtime.
func (h *Hub) FetchRecentLogs(ctx context.Context, recordID, engineID string, n int) ([]string, error) {
	h.mu.Lock()
	st, ok := h.streams[recordID]
	h.mu.Unlock()

	if ok {
		st.mu.Lock()
		tail := st.ring.Tail(n)
		st.mu.Unlock()

		out := make([]string, len(tail))
		for i, line := range tail {
			out[i] = line.Message
		}
		return out, nil
	}

	return h.runtime.Logs(ctx, engineID, n)
}

// Stop закрывает все потоки (останов сервиса)
func (h *Hub) Stop() {
	h.mu.Lock()
	ids := make([]string, 0, len(h.streams))
	for id := range h.streams {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, id := range ids {
		h.closeStream(id, "hub stopped")
	}

	logger.Info("🛑 Log hub остановлен: закрыто %d потоков", len(ids))
}

// pump читает поток контейнера и раздает строки подписчикам.
// Одна горутина на контейнер; порядок строк сохраняется для всех.
func (h *Hub) pump(recordID string, st *stream, lines <-chan types.LogLine) {
	for line := range lines {
		st.mu.Lock()
		st.ring.Append(line)
		for sub := range st.subs {
			sub.push(line)
		}
		st.mu.Unlock()
	}

	// Канал закрыт: контейнер остановился или attach оборван
	h.closeStream(recordID, "container stopped")
}

// closeStream закрывает поток и все его подписки
func (h *Hub) closeStream(recordID, reason string) {
	h.mu.Lock()
	st, ok := h.streams[recordID]
	if ok {
		delete(h.streams, recordID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	st.mu.Lock()
	alreadyClosed := st.closed
	st.closed = true
	subs := make([]*Subscription, 0, len(st.subs))
	for sub := range st.subs {
		subs = append(subs, sub)
	}
	st.subs = make(map[*Subscription]struct{})
	st.mu.Unlock()

	if alreadyClosed {
		return
	}

	st.detach()

	for _, sub := range subs {
		sub.close(reason)
	}

	logger.Debug("📡 Поток логов закрыт: record=%s (%s)", recordID, reason)

	if h.bus != nil && reason != "no subscribers" {
		err := h.bus.Publish(types.Event{
			Type:   types.EventStreamClosed,
			Source: "log_hub",
			Data: types.StreamClosedPayload{
				RecordID: recordID,
				Reason:   reason,
			},
		})
		if err != nil {
			logger.Debug("⚠️ Событие stream_closed потеряно: record=%s: %v", recordID, err)
		}
	}
}

// ============================================
// ПОДПИСЧИК ШИНЫ СОБЫТИЙ
// ============================================

// HandleEvent закрывает поток логов при переходе записи в терминальный
// статус или начале остановки
func (h *Hub) HandleEvent(event types.Event) error {
	payload, ok := event.Data.(types.StatusChangedPayload)
	if !ok {
		return nil
	}

	switch payload.Status {
	case models.StatusStopping, models.StatusStopped, models.StatusFailed:
		h.closeStream(payload.RecordID, "container "+payload.Status)
	}

	return nil
}

// GetName возвращает имя подписчика
func (h *Hub) GetName() string {
	return "log_stream_hub"
}

// GetSubscribedEvents возвращает события, на которые подписан хаб
func (h *Hub) GetSubscribedEvents() []types.EventType {
	return []types.EventType{types.EventStatusChanged}
}

// компиляционная проверка: хаб — подписчик шины
var _ types.EventSubscriber = (*Hub)(nil)
