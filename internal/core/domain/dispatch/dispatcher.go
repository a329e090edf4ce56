// internal/core/domain/dispatch/dispatcher.go
package dispatch

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"trading-bot-orchestrator/internal/infrastructure/config"
	"trading-bot-orchestrator/internal/types"
	"trading-bot-orchestrator/pkg/logger"
)

// OpKind вид фоновой операции
type OpKind string

const (
	OpSpawn     OpKind = "spawn"
	OpTerminate OpKind = "terminate"
)

// Operation одна фоновая операция над записью контейнера
type Operation struct {
	Kind       OpKind
	RecordID   string
	EnqueuedAt time.Time
}

// Executor выполняет операции жизненного цикла.
// Реализуется lifecycle-менеджером.
type Executor interface {
	// Execute выполняет операцию; транзиентные ошибки
	// (ErrRuntimeUnavailable) диспетчер повторит сам
	Execute(ctx context.Context, op Operation) error

	// OnTerminalFailure вызывается после исчерпания повторов или
	// терминальной ошибки; реализация обязана зафиксировать failed
	// в хранилище до завершения операции
	OnTerminalFailure(ctx context.Context, op Operation, err error)
}

// Stats счетчики диспетчера
type Stats struct {
	Enqueued  int64 `json:"enqueued"`
	Succeeded int64 `json:"succeeded"`
	Retried   int64 `json:"retried"`
	Failed    int64 `json:"failed"`
}

// Dispatcher - пул воркеров для операций жизненного цикла.
// Операции партиционируются по record_id: одна запись всегда попадает
// в очередь одного и того же воркера, что дает FIFO на запись.
// Порядок между разными записями не гарантируется.
type Dispatcher struct {
	config   config.DispatcherConfig
	executor Executor

	queues   []chan Operation
	stopChan chan struct{}
	wg       sync.WaitGroup

	mu      sync.Mutex
	running bool

	enqueued  atomic.Int64
	succeeded atomic.Int64
	retried   atomic.Int64
	failed    atomic.Int64
}

// NewDispatcher создает диспетчер с пулом воркеров
func NewDispatcher(cfg config.DispatcherConfig, executor Executor) *Dispatcher {
	d := &Dispatcher{
		config:   cfg,
		executor: executor,
		queues:   make([]chan Operation, cfg.WorkerCount),
		stopChan: make(chan struct{}),
	}
	for i := range d.queues {
		d.queues[i] = make(chan Operation, cfg.QueueSize)
	}
	return d
}

// Start запускает воркеров
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return
	}
	d.running = true

	for i := 0; i < d.config.WorkerCount; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}

	logger.Info("⚙️  Dispatcher запущен: %d воркеров, очередь %d", d.config.WorkerCount, d.config.QueueSize)
}

// Stop останавливает воркеров, дорабатывая уже принятые операции
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.mu.Unlock()

	close(d.stopChan)
	d.wg.Wait()

	logger.Info("🛑 Dispatcher остановлен")
}

// Enqueue ставит операцию в очередь её воркера.
// Не блокирует вызывающего: переполненная очередь — ошибка.
func (d *Dispatcher) Enqueue(op Operation) error {
	d.mu.Lock()
	running := d.running
	d.mu.Unlock()

	if !running {
		return fmt.Errorf("dispatcher is not running")
	}

	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = time.Now()
	}

	queue := d.queues[d.partition(op.RecordID)]

	select {
	case queue <- op:
		d.enqueued.Add(1)
		logger.Debug("📥 Операция %s/%s поставлена в очередь", op.Kind, op.RecordID)
		return nil
	default:
		return fmt.Errorf("dispatcher queue is full")
	}
}

// Stats возвращает снапшот счетчиков
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Enqueued:  d.enqueued.Load(),
		Succeeded: d.succeeded.Load(),
		Retried:   d.retried.Load(),
		Failed:    d.failed.Load(),
	}
}

// partition выбирает воркера для записи
func (d *Dispatcher) partition(recordID string) int {
	h := fnv.New32a()
	h.Write([]byte(recordID))
	return int(h.Sum32() % uint32(len(d.queues)))
}

// worker обрабатывает свою очередь последовательно
func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()

	queue := d.queues[id]

	for {
		select {
		case op := <-queue:
			d.process(op)
		case <-d.stopChan:
			// Дорабатываем остаток очереди перед выходом
			for {
				select {
				case op := <-queue:
					d.process(op)
				default:
					return
				}
			}
		}
	}
}

// process выполняет операцию с повторами на транзиентных ошибках
func (d *Dispatcher) process(op Operation) {
	ctx := context.Background()

	delay := d.config.RetryDelay

	for attempt := 0; ; attempt++ {
		err := d.executor.Execute(ctx, op)
		if err == nil {
			d.succeeded.Add(1)
			return
		}

		if !types.IsTransient(err) || attempt >= d.config.MaxRetries {
			logger.Error("❌ Операция %s/%s провалена после %d попыток: %v",
				op.Kind, op.RecordID, attempt+1, err)
			d.failed.Add(1)
			d.executor.OnTerminalFailure(ctx, op, err)
			return
		}

		d.retried.Add(1)
		logger.Warn("🔁 Операция %s/%s: runtime недоступен, повтор через %v (попытка %d/%d)",
			op.Kind, op.RecordID, delay, attempt+1, d.config.MaxRetries)

		select {
		case <-time.After(delay):
		case <-d.stopChan:
			// Останов во время backoff: фиксируем провал,
			// reconcile доразберется после рестарта
			d.failed.Add(1)
			d.executor.OnTerminalFailure(ctx, op, err)
			return
		}

		delay *= 2
	}
}
