// internal/core/domain/lifecycle/reconciler_test.go
package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"trading-bot-orchestrator/internal/core/domain/dispatch"
	"trading-bot-orchestrator/internal/infrastructure/config"
	"trading-bot-orchestrator/internal/infrastructure/persistence/postgres/models"
	"trading-bot-orchestrator/internal/types"
)

func newTestReconciler(env *testEnv) *Reconciler {
	cfg := config.ReconcilerConfig{
		Interval:          30 * time.Second,
		PendingStaleAfter: 5 * time.Minute,
	}
	return NewReconciler(cfg, env.repo, env.manager, env.runtime, nil)
}

func TestReconcileLeavesHealthyRunning(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	record := startRunningBot(t, env)
	rec := newTestReconciler(env)

	if err := rec.Run(ctx); err != nil {
		t.Fatal(err)
	}

	got, _ := env.repo.FindByRecordID(ctx, record.RecordID)
	if got.Status != models.StatusRunning {
		t.Fatalf("healthy running record must be untouched, got %s", got.Status)
	}
	if env.runtime.removeCalls != 0 {
		t.Fatal("nothing must be removed")
	}
}

func TestReconcileMarksVanishedContainerFailed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	record := startRunningBot(t, env)

	// Контейнер исчез из движка (docker rm руками)
	env.runtime.Remove(ctx, record.EngineIDString(), true)
	env.runtime.removeCalls = 0

	rec := newTestReconciler(env)
	if err := rec.Run(ctx); err != nil {
		t.Fatal(err)
	}

	got, _ := env.repo.FindByRecordID(ctx, record.RecordID)
	if got.Status != models.StatusFailed {
		t.Fatalf("vanished container must fail the record, got %s", got.Status)
	}
	if got.LastError == "" {
		t.Fatal("last_error must explain the failure")
	}
}

func TestReconcileMarksExitedContainerFailed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	record := startRunningBot(t, env)

	// Контейнер остановился сам (процесс бота упал)
	env.runtime.Stop(ctx, record.EngineIDString(), 0)
	env.runtime.stopCalls = 0

	rec := newTestReconciler(env)
	if err := rec.Run(ctx); err != nil {
		t.Fatal(err)
	}

	got, _ := env.repo.FindByRecordID(ctx, record.RecordID)
	if got.Status != models.StatusFailed {
		t.Fatalf("exited container must fail the record, got %s", got.Status)
	}
}

func TestReconcileRemovesOrphans(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Контейнер с нашей меткой, но без записи в базе
	orphanID, err := env.runtime.Create(ctx, types.ContainerSpec{
		Image:  "trading-bot:latest",
		Name:   "bot_user1_cred1_0",
		Labels: map[string]string{"managed_by": ManagedByLabel},
	})
	if err != nil {
		t.Fatal(err)
	}

	// Чужой контейнер без метки не трогаем
	foreignID, err := env.runtime.Create(ctx, types.ContainerSpec{
		Image: "postgres:16",
		Name:  "some_other_service",
	})
	if err != nil {
		t.Fatal(err)
	}
	env.runtime.createCalls = 0

	rec := newTestReconciler(env)
	if err := rec.Run(ctx); err != nil {
		t.Fatal(err)
	}

	if _, ok := env.runtime.spec(orphanID); ok {
		t.Fatal("orphan container must be removed")
	}
	if _, ok := env.runtime.spec(foreignID); !ok {
		t.Fatal("unmanaged container must be left alone")
	}
}

func TestReconcileFailsStalePending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	stale, err := env.manager.RequestStart(ctx, 7, 42)
	if err != nil {
		t.Fatal(err)
	}
	env.repo.setCreatedAt(stale.RecordID, time.Now().Add(-10*time.Minute))

	rec := newTestReconciler(env)
	if err := rec.Run(ctx); err != nil {
		t.Fatal(err)
	}

	got, _ := env.repo.FindByRecordID(ctx, stale.RecordID)
	if got.Status != models.StatusFailed {
		t.Fatalf("stale pending must fail, got %s", got.Status)
	}
}

func TestReconcileKeepsFreshPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	record, err := env.manager.RequestStart(ctx, 7, 42)
	if err != nil {
		t.Fatal(err)
	}

	rec := newTestReconciler(env)
	if err := rec.Run(ctx); err != nil {
		t.Fatal(err)
	}

	got, _ := env.repo.FindByRecordID(ctx, record.RecordID)
	if got.Status != models.StatusPending {
		t.Fatalf("fresh pending must be untouched, got %s", got.Status)
	}
}

func TestReconcileFailsVanishedStarting(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	record, err := env.manager.RequestStart(ctx, 7, 42)
	if err != nil {
		t.Fatal(err)
	}

	// Spawn дошел до create, контейнер удален руками,
	// очередь диспетчера потеряна при рестарте процесса
	env.repo.UpdateStatus(ctx, record.RecordID, models.StatusStarting)
	env.repo.SetEngineIDs(ctx, record.RecordID, "engine-ghost", "bot_user42_cred7_0")

	rec := newTestReconciler(env)
	if err := rec.Run(ctx); err != nil {
		t.Fatal(err)
	}

	got, _ := env.repo.FindByRecordID(ctx, record.RecordID)
	if got.Status != models.StatusFailed {
		t.Fatalf("starting record with vanished container must fail, got %s", got.Status)
	}
	if got.LastError == "" {
		t.Fatal("last_error must explain the failure")
	}
}

func TestReconcileFailsStaleStarting(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	record, err := env.manager.RequestStart(ctx, 7, 42)
	if err != nil {
		t.Fatal(err)
	}

	// Spawn потерян до create: engine id так и не появился
	env.repo.UpdateStatus(ctx, record.RecordID, models.StatusStarting)
	env.repo.setCreatedAt(record.RecordID, time.Now().Add(-10*time.Minute))

	rec := newTestReconciler(env)
	if err := rec.Run(ctx); err != nil {
		t.Fatal(err)
	}

	got, _ := env.repo.FindByRecordID(ctx, record.RecordID)
	if got.Status != models.StatusFailed {
		t.Fatalf("stale starting must fail, got %s", got.Status)
	}
}

func TestReconcileKeepsFreshStarting(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	record, err := env.manager.RequestStart(ctx, 7, 42)
	if err != nil {
		t.Fatal(err)
	}
	env.repo.UpdateStatus(ctx, record.RecordID, models.StatusStarting)

	rec := newTestReconciler(env)
	if err := rec.Run(ctx); err != nil {
		t.Fatal(err)
	}

	got, _ := env.repo.FindByRecordID(ctx, record.RecordID)
	if got.Status != models.StatusStarting {
		t.Fatalf("fresh starting must be untouched, got %s", got.Status)
	}
}

func TestReconcileRequeuesLostStop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	record := startRunningBot(t, env)
	if err := env.manager.RequestStop(ctx, record.RecordID); err != nil {
		t.Fatal(err)
	}

	// Очередь диспетчера потеряна при рестарте процесса
	env.enqueuer.mu.Lock()
	env.enqueuer.ops = nil
	env.enqueuer.mu.Unlock()

	rec := newTestReconciler(env)
	if err := rec.Run(ctx); err != nil {
		t.Fatal(err)
	}

	op, ok := env.enqueuer.last()
	if !ok || op.Kind != dispatch.OpTerminate || op.RecordID != record.RecordID {
		t.Fatalf("stopping record must get terminate requeued, got %+v", op)
	}

	// Повторно поставленная операция доводит запись до stopped
	if err := env.manager.Execute(ctx, op); err != nil {
		t.Fatal(err)
	}
	got, _ := env.repo.FindByRecordID(ctx, record.RecordID)
	if got.Status != models.StatusStopped {
		t.Fatalf("requeued terminate must finish the stop, got %s", got.Status)
	}
}

func TestReconcileSkipsWhenEngineUnavailable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	record := startRunningBot(t, env)

	env.runtime.listErr = types.ErrRuntimeUnavailable

	rec := newTestReconciler(env)
	err := rec.Run(ctx)
	if !errors.Is(err, types.ErrRuntimeUnavailable) {
		t.Fatalf("expected runtime unavailable, got %v", err)
	}

	// Недоступный движок не повод перевести живые записи в failed
	got, _ := env.repo.FindByRecordID(ctx, record.RecordID)
	if got.Status != models.StatusRunning {
		t.Fatalf("records must be untouched when engine is down, got %s", got.Status)
	}
}
