// internal/core/domain/logstream/subscription.go
package logstream

import (
	"sync/atomic"

	"trading-bot-orchestrator/internal/types"
)

// Subscription - подписка одного зрителя на поток логов контейнера.
// Медленный зритель не тормозит остальных: при переполнении буфера
// его самые старые строки отбрасываются (счетчик Dropped растет).
type Subscription struct {
	lines   chan types.LogLine
	closed  chan struct{}
	reason  string
	dropped atomic.Int64
}

func newSubscription(buffer int) *Subscription {
	return &Subscription{
		lines:  make(chan types.LogLine, buffer),
		closed: make(chan struct{}),
	}
}

// Lines возвращает канал строк лога.
// Канал закрывается вместе с подпиской.
func (s *Subscription) Lines() <-chan types.LogLine {
	return s.lines
}

// Closed возвращает канал, закрываемый при завершении подписки
func (s *Subscription) Closed() <-chan struct{} {
	return s.closed
}

// CloseReason возвращает причину закрытия (валидна после Closed)
func (s *Subscription) CloseReason() string {
	return s.reason
}

// Dropped возвращает число строк, отброшенных из-за медленного чтения
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// push кладет строку в буфер подписчика, вытесняя старые при
// переполнении. Вызывается единственной pump-горутиной стрима.
func (s *Subscription) push(line types.LogLine) {
	select {
	case s.lines <- line:
		return
	default:
	}

	// Буфер полон: выталкиваем самую старую строку
	select {
	case <-s.lines:
		s.dropped.Add(1)
	default:
	}

	select {
	case s.lines <- line:
	default:
	}
}

// close завершает подписку. Вызывается стримом под его блокировкой,
// строго один раз.
func (s *Subscription) close(reason string) {
	s.reason = reason
	close(s.closed)
	close(s.lines)
}
