// internal/core/domain/dispatch/dispatcher_test.go
package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"trading-bot-orchestrator/internal/infrastructure/config"
	"trading-bot-orchestrator/internal/types"
)

// recordingExecutor собирает выполненные операции
type recordingExecutor struct {
	mu        sync.Mutex
	executed  []Operation
	failures  []Operation
	execErr   func(op Operation, attempt int) error
	attempts  map[string]int
}

func newRecordingExecutor() *recordingExecutor {
	return &recordingExecutor{attempts: make(map[string]int)}
}

func (e *recordingExecutor) Execute(ctx context.Context, op Operation) error {
	e.mu.Lock()
	attempt := e.attempts[op.RecordID]
	e.attempts[op.RecordID] = attempt + 1
	e.mu.Unlock()

	if e.execErr != nil {
		if err := e.execErr(op, attempt); err != nil {
			return err
		}
	}

	e.mu.Lock()
	e.executed = append(e.executed, op)
	e.mu.Unlock()
	return nil
}

func (e *recordingExecutor) OnTerminalFailure(ctx context.Context, op Operation, err error) {
	e.mu.Lock()
	e.failures = append(e.failures, op)
	e.mu.Unlock()
}

func (e *recordingExecutor) executedOps() []Operation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Operation, len(e.executed))
	copy(out, e.executed)
	return out
}

func (e *recordingExecutor) failedOps() []Operation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Operation, len(e.failures))
	copy(out, e.failures)
	return out
}

func testConfig() config.DispatcherConfig {
	return config.DispatcherConfig{
		WorkerCount: 4,
		QueueSize:   64,
		MaxRetries:  3,
		RetryDelay:  5 * time.Millisecond,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestPerKeyFIFOOrder(t *testing.T) {
	exec := newRecordingExecutor()
	d := NewDispatcher(testConfig(), exec)
	d.Start()
	defer d.Stop()

	// 20 чередующихся операций по одной записи
	var want []OpKind
	for i := 0; i < 10; i++ {
		if err := d.Enqueue(Operation{Kind: OpSpawn, RecordID: "rec-1"}); err != nil {
			t.Fatal(err)
		}
		if err := d.Enqueue(Operation{Kind: OpTerminate, RecordID: "rec-1"}); err != nil {
			t.Fatal(err)
		}
		want = append(want, OpSpawn, OpTerminate)
	}

	waitFor(t, 2*time.Second, func() bool { return len(exec.executedOps()) == len(want) })

	got := exec.executedOps()
	for i, op := range got {
		if op.Kind != want[i] {
			t.Fatalf("op %d: got %s, want %s", i, op.Kind, want[i])
		}
	}
}

func TestRetryThenSuccessOnTransient(t *testing.T) {
	exec := newRecordingExecutor()
	exec.execErr = func(op Operation, attempt int) error {
		if attempt < 2 {
			return types.ErrRuntimeUnavailable
		}
		return nil
	}

	d := NewDispatcher(testConfig(), exec)
	d.Start()
	defer d.Stop()

	if err := d.Enqueue(Operation{Kind: OpSpawn, RecordID: "rec-retry"}); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 2*time.Second, func() bool { return len(exec.executedOps()) == 1 })

	if len(exec.failedOps()) != 0 {
		t.Fatalf("unexpected terminal failures: %v", exec.failedOps())
	}
	if stats := d.Stats(); stats.Retried != 2 {
		t.Fatalf("expected 2 retries, got %d", stats.Retried)
	}
}

func TestRetriesExhaustedReportsTerminalFailure(t *testing.T) {
	exec := newRecordingExecutor()
	exec.execErr = func(op Operation, attempt int) error {
		return types.ErrRuntimeUnavailable
	}

	d := NewDispatcher(testConfig(), exec)
	d.Start()
	defer d.Stop()

	if err := d.Enqueue(Operation{Kind: OpSpawn, RecordID: "rec-dead"}); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 2*time.Second, func() bool { return len(exec.failedOps()) == 1 })

	// MaxRetries=3 → 4 попытки всего
	exec.mu.Lock()
	attempts := exec.attempts["rec-dead"]
	exec.mu.Unlock()
	if attempts != 4 {
		t.Fatalf("expected 4 attempts, got %d", attempts)
	}
}

func TestPermanentErrorNotRetried(t *testing.T) {
	exec := newRecordingExecutor()
	exec.execErr = func(op Operation, attempt int) error {
		return types.ErrDecryption
	}

	d := NewDispatcher(testConfig(), exec)
	d.Start()
	defer d.Stop()

	if err := d.Enqueue(Operation{Kind: OpSpawn, RecordID: "rec-perm"}); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 2*time.Second, func() bool { return len(exec.failedOps()) == 1 })

	exec.mu.Lock()
	attempts := exec.attempts["rec-perm"]
	exec.mu.Unlock()
	if attempts != 1 {
		t.Fatalf("permanent error must not be retried, got %d attempts", attempts)
	}
}

func TestEnqueueAfterStopFails(t *testing.T) {
	exec := newRecordingExecutor()
	d := NewDispatcher(testConfig(), exec)
	d.Start()
	d.Stop()

	if err := d.Enqueue(Operation{Kind: OpSpawn, RecordID: "rec-late"}); err == nil {
		t.Fatal("expected error after Stop")
	}
}

func TestDifferentKeysRunConcurrently(t *testing.T) {
	exec := newRecordingExecutor()

	started := make(chan string, 2)
	release := make(chan struct{})
	exec.execErr = func(op Operation, attempt int) error {
		started <- op.RecordID
		<-release
		return nil
	}

	d := NewDispatcher(testConfig(), exec)
	d.Start()
	defer d.Stop()

	// Ключи, попадающие в разные партиции, исполняются параллельно.
	// Подбираем два ключа с разными партициями.
	keyA := "rec-a"
	keyB := keyA
	for _, cand := range []string{"rec-b", "rec-c", "rec-d", "rec-e", "rec-f"} {
		if d.partition(cand) != d.partition(keyA) {
			keyB = cand
			break
		}
	}
	if keyB == keyA {
		t.Skip("could not find keys in different partitions")
	}

	if err := d.Enqueue(Operation{Kind: OpSpawn, RecordID: keyA}); err != nil {
		t.Fatal(err)
	}
	if err := d.Enqueue(Operation{Kind: OpSpawn, RecordID: keyB}); err != nil {
		t.Fatal(err)
	}

	seen := map[string]bool{}
	timeout := time.After(2 * time.Second)
	for len(seen) < 2 {
		select {
		case id := <-started:
			seen[id] = true
		case <-timeout:
			t.Fatalf("both operations must start concurrently, saw %v", seen)
		}
	}
	close(release)
}
