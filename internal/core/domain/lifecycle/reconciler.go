// internal/core/domain/lifecycle/reconciler.go
package lifecycle

import (
	"context"
	"errors"
	"time"

	"trading-bot-orchestrator/internal/core/domain/dispatch"
	"trading-bot-orchestrator/internal/infrastructure/config"
	"trading-bot-orchestrator/internal/infrastructure/persistence/postgres/models"
	"trading-bot-orchestrator/internal/infrastructure/persistence/postgres/repository/bot_container"
	"trading-bot-orchestrator/internal/types"
	"trading-bot-orchestrator/pkg/logger"
)

// Reconciler сверяет записи в хранилище с фактическим состоянием движка.
// Расхождения лечатся в сторону наблюдаемой реальности: исчезнувшие
// контейнеры помечаются failed, осиротевшие контейнеры удаляются.
type Reconciler struct {
	config     config.ReconcilerConfig
	containers bot_container.BotContainerRepository
	manager    *Manager
	runtime    types.ContainerRuntime
	bus        types.EventBus
}

// NewReconciler создает реконсилятор
func NewReconciler(
	cfg config.ReconcilerConfig,
	containers bot_container.BotContainerRepository,
	manager *Manager,
	runtime types.ContainerRuntime,
	bus types.EventBus,
) *Reconciler {
	return &Reconciler{
		config:     cfg,
		containers: containers,
		manager:    manager,
		runtime:    runtime,
		bus:        bus,
	}
}

// Run выполняет один проход сверки.
// Вызывается планировщиком по интервалу и один раз при старте сервиса.
func (r *Reconciler) Run(ctx context.Context) error {
	started := time.Now()

	// Снимок управляемых контейнеров движка
	engineIDs, err := r.runtime.List(ctx, map[string]string{"managed_by": ManagedByLabel})
	if err != nil {
		// Движок недоступен: пропускаем проход, следующий тик повторит
		logger.Warn("⚠️ Сверка пропущена: движок недоступен: %v", err)
		return err
	}

	known := make(map[string]bool, len(engineIDs))
	for _, id := range engineIDs {
		known[id] = true
	}

	records, err := r.containers.ListByStatus(ctx,
		models.StatusPending, models.StatusStarting, models.StatusRunning, models.StatusStopping)
	if err != nil {
		return err
	}

	var failed, orphans, requeued int

	claimed := make(map[string]bool, len(records))
	for _, record := range records {
		engineID := record.EngineIDString()
		if engineID != "" {
			claimed[engineID] = true
		}

		switch record.Status {
		case models.StatusRunning:
			if r.checkRunning(ctx, record, known) {
				failed++
			}
		case models.StatusPending:
			if r.checkStalePending(ctx, record) {
				failed++
			}
		case models.StatusStarting:
			if r.checkStarting(ctx, record) {
				failed++
			}
		case models.StatusStopping:
			// Terminate мог потеряться вместе с очередью диспетчера
			// (рестарт процесса); executeTerminate идемпотентен,
			// поэтому повторная постановка безвредна
			r.requeueTerminate(record)
			requeued++
		}
	}

	// Контейнеры движка без живой записи — сироты, удаляем
	for _, engineID := range engineIDs {
		if claimed[engineID] {
			continue
		}
		logger.Warn("🧹 Найден осиротевший контейнер %s, удаляю", shortID(engineID))
		if err := r.runtime.Remove(ctx, engineID, true); err != nil {
			if !errors.Is(err, types.ErrNotFound) {
				logger.Error("❌ Не удалось удалить сироту %s: %v", shortID(engineID), err)
				continue
			}
		}
		orphans++
		if r.bus != nil {
			err := r.bus.Publish(types.Event{
				Type:   types.EventOrphanRemoved,
				Source: "reconciler",
				Data:   engineID,
			})
			if err != nil {
				logger.Debug("⚠️ Событие orphan_removed потеряно: %v", err)
			}
		}
	}

	logger.Debug("🔄 Сверка завершена за %v: записей %d, провалено %d, сирот %d, повторных terminate %d",
		time.Since(started), len(records), failed, orphans, requeued)

	if r.bus != nil {
		err := r.bus.Publish(types.Event{
			Type:   types.EventReconcileCompleted,
			Source: "reconciler",
			Data: map[string]interface{}{
				"records":  len(records),
				"failed":   failed,
				"orphans":  orphans,
				"requeued": requeued,
			},
		})
		if err != nil {
			logger.Debug("⚠️ Событие reconcile_completed потеряно: %v", err)
		}
	}

	return nil
}

// checkRunning проверяет, что running-запись подтверждается движком.
// Возвращает true, если запись переведена в failed.
func (r *Reconciler) checkRunning(ctx context.Context, record *models.BotContainer, known map[string]bool) bool {
	engineID := record.EngineIDString()

	if engineID == "" || !known[engineID] {
		logger.Warn("⚠️ Контейнер записи %s исчез из движка", record.RecordID)
		r.failRecord(ctx, record.RecordID, "container vanished from engine")
		return true
	}

	state, err := r.runtime.Inspect(ctx, engineID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			r.failRecord(ctx, record.RecordID, "container vanished from engine")
			return true
		}
		// Транзиентная ошибка: решение отложено до следующего прохода
		return false
	}

	if !state.Running {
		logger.Warn("⚠️ Контейнер записи %s остановился сам (exit code %d)", record.RecordID, state.ExitCode)
		r.failRecord(ctx, record.RecordID, "container exited unexpectedly")
		return true
	}

	return false
}

// checkStarting лечит записи, зависшие в starting: их spawn потерян
// вместе с очередью диспетчера при рестарте процесса. Исчезнувший
// контейнер фейлится сразу, остальные — по окну давности; контейнер,
// оставшийся без живой записи, удалит следующий проход как сироту.
func (r *Reconciler) checkStarting(ctx context.Context, record *models.BotContainer) bool {
	if engineID := record.EngineIDString(); engineID != "" {
		_, err := r.runtime.Inspect(ctx, engineID)
		if errors.Is(err, types.ErrNotFound) {
			logger.Warn("⚠️ Контейнер записи %s исчез из движка", record.RecordID)
			r.failRecord(ctx, record.RecordID, "container vanished from engine")
			return true
		}
		if err != nil {
			// Транзиентная ошибка: решение отложено до следующего прохода
			return false
		}
	}

	if time.Since(record.CreatedAt) < r.config.PendingStaleAfter {
		return false
	}

	logger.Warn("⚠️ Запись %s зависла в starting дольше %v", record.RecordID, r.config.PendingStaleAfter)
	r.failRecord(ctx, record.RecordID, "stuck in starting")
	return true
}

// requeueTerminate повторно ставит terminate для stopping-записи
func (r *Reconciler) requeueTerminate(record *models.BotContainer) {
	if r.manager.enqueuer == nil {
		return
	}
	op := dispatch.Operation{Kind: dispatch.OpTerminate, RecordID: record.RecordID}
	if err := r.manager.enqueuer.Enqueue(op); err != nil {
		logger.Warn("⚠️ Не удалось переставить terminate для %s: %v", record.RecordID, err)
	}
}

// checkStalePending помечает failed записи, зависшие в pending:
// их spawn потерян (падение процесса между create и enqueue)
func (r *Reconciler) checkStalePending(ctx context.Context, record *models.BotContainer) bool {
	if time.Since(record.CreatedAt) < r.config.PendingStaleAfter {
		return false
	}

	logger.Warn("⚠️ Запись %s зависла в pending дольше %v", record.RecordID, r.config.PendingStaleAfter)
	r.failRecord(ctx, record.RecordID, "stuck in pending")
	return true
}

// failRecord переводит запись в failed через менеджер (под per-record
// блокировкой, чтобы не гоняться с операциями диспетчера)
func (r *Reconciler) failRecord(ctx context.Context, recordID, reason string) {
	unlock := r.manager.locks.Lock(recordID)
	defer unlock()

	r.manager.markFailed(ctx, recordID, reason)
}
