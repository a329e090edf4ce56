// internal/core/domain/logstream/hub_test.go
package logstream

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"trading-bot-orchestrator/internal/infrastructure/config"
	"trading-bot-orchestrator/internal/infrastructure/persistence/postgres/models"
	"trading-bot-orchestrator/internal/types"
)

// streamingRuntime - фейковый runtime с управляемым потоком логов
type streamingRuntime struct {
	mu       sync.Mutex
	attached int
	detached int
	lines    chan types.LogLine
	history  []string
}

func newStreamingRuntime() *streamingRuntime {
	return &streamingRuntime{lines: make(chan types.LogLine, 64)}
}

func (f *streamingRuntime) AttachOutput(ctx context.Context, engineID string, tail int) (<-chan types.LogLine, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attached++
	return f.lines, func() {
		f.mu.Lock()
		f.detached++
		f.mu.Unlock()
	}, nil
}

func (f *streamingRuntime) Logs(ctx context.Context, engineID string, n int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n > len(f.history) {
		n = len(f.history)
	}
	return f.history[len(f.history)-n:], nil
}

func (f *streamingRuntime) emit(msg string) {
	f.lines <- types.LogLine{Timestamp: time.Now(), Message: msg}
}

func (f *streamingRuntime) closeStream() {
	close(f.lines)
}

func (f *streamingRuntime) attachCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attached
}

func (f *streamingRuntime) detachCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detached
}

// Остальные методы ContainerRuntime хабом не используются
func (f *streamingRuntime) Create(ctx context.Context, spec types.ContainerSpec) (string, error) {
	return "", nil
}
func (f *streamingRuntime) Start(ctx context.Context, engineID string) error { return nil }
func (f *streamingRuntime) Stop(ctx context.Context, engineID string, grace time.Duration) error {
	return nil
}
func (f *streamingRuntime) Remove(ctx context.Context, engineID string, force bool) error {
	return nil
}
func (f *streamingRuntime) Inspect(ctx context.Context, engineID string) (types.ContainerState, error) {
	return types.ContainerState{}, nil
}
func (f *streamingRuntime) List(ctx context.Context, labels map[string]string) ([]string, error) {
	return nil, nil
}

func testHubConfig() config.HubConfig {
	return config.HubConfig{
		SubscriberBuffer: 8,
		RingSize:         32,
		AttachTail:       10,
	}
}

func collectLines(t *testing.T, sub *Subscription, n int) []string {
	t.Helper()
	out := make([]string, 0, n)
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case line, ok := <-sub.Lines():
			if !ok {
				t.Fatalf("subscription closed early after %d lines (%s)", len(out), sub.CloseReason())
			}
			out = append(out, line.Message)
		case <-timeout:
			t.Fatalf("timed out after %d of %d lines", len(out), n)
		}
	}
	return out
}

func TestFanOutSingleAttachment(t *testing.T) {
	rt := newStreamingRuntime()
	hub := NewHub(testHubConfig(), rt, nil)
	ctx := context.Background()

	subA, err := hub.Subscribe(ctx, "rec-1", "engine-1")
	if err != nil {
		t.Fatal(err)
	}
	subB, err := hub.Subscribe(ctx, "rec-1", "engine-1")
	if err != nil {
		t.Fatal(err)
	}

	// Сколько бы ни было зрителей — одно подключение к движку
	if rt.attachCount() != 1 {
		t.Fatalf("expected single attachment, got %d", rt.attachCount())
	}

	want := []string{"line-1", "line-2", "line-3"}
	for _, msg := range want {
		rt.emit(msg)
	}

	for _, sub := range []*Subscription{subA, subB} {
		got := collectLines(t, sub, len(want))
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("line %d: got %q, want %q", i, got[i], want[i])
			}
		}
	}
}

func TestLateSubscriberGetsRingReplay(t *testing.T) {
	rt := newStreamingRuntime()
	hub := NewHub(testHubConfig(), rt, nil)
	ctx := context.Background()

	first, err := hub.Subscribe(ctx, "rec-1", "engine-1")
	if err != nil {
		t.Fatal(err)
	}

	rt.emit("early-1")
	rt.emit("early-2")
	collectLines(t, first, 2) // дожидаемся, пока pump их прогонит

	late, err := hub.Subscribe(ctx, "rec-1", "engine-1")
	if err != nil {
		t.Fatal(err)
	}

	got := collectLines(t, late, 2)
	if got[0] != "early-1" || got[1] != "early-2" {
		t.Fatalf("late subscriber must replay history, got %v", got)
	}
}

func TestSlowSubscriberDropsOldestOnly(t *testing.T) {
	cfg := testHubConfig()
	cfg.SubscriberBuffer = 4

	rt := newStreamingRuntime()
	hub := NewHub(cfg, rt, nil)
	ctx := context.Background()

	slow, err := hub.Subscribe(ctx, "rec-1", "engine-1")
	if err != nil {
		t.Fatal(err)
	}
	fast, err := hub.Subscribe(ctx, "rec-1", "engine-1")
	if err != nil {
		t.Fatal(err)
	}

	// Медленный зритель не читает; шлем больше, чем влезает в буфер
	const total = 20
	done := make(chan int)
	go func() {
		seen := 0
		timeout := time.After(2 * time.Second)
		for seen < total {
			select {
			case _, ok := <-fast.Lines():
				if !ok {
					done <- seen
					return
				}
				seen++
			case <-timeout:
				done <- seen
				return
			}
		}
		done <- seen
	}()

	for i := 0; i < total; i++ {
		rt.emit(fmt.Sprintf("line-%d", i))
	}

	if seen := <-done; seen != total {
		t.Fatalf("fast subscriber must not be blocked by the slow one, got %d of %d", seen, total)
	}

	// Медленный потерял старые строки, но последние дошли
	if slow.Dropped() == 0 {
		t.Fatal("slow subscriber must have dropped lines")
	}
	var last string
	for len(slow.Lines()) > 0 {
		line := <-slow.Lines()
		last = line.Message
	}
	if last != fmt.Sprintf("line-%d", total-1) {
		t.Fatalf("slow subscriber must keep the newest lines, last=%q", last)
	}
}

func TestLastUnsubscribeReleasesAttachment(t *testing.T) {
	rt := newStreamingRuntime()
	hub := NewHub(testHubConfig(), rt, nil)
	ctx := context.Background()

	subA, _ := hub.Subscribe(ctx, "rec-1", "engine-1")
	subB, _ := hub.Subscribe(ctx, "rec-1", "engine-1")

	hub.Unsubscribe("rec-1", subA)
	if rt.detachCount() != 0 {
		t.Fatal("attachment must survive while a subscriber remains")
	}

	hub.Unsubscribe("rec-1", subB)
	if rt.detachCount() != 1 {
		t.Fatalf("last unsubscribe must detach, got %d", rt.detachCount())
	}

	select {
	case <-subB.Closed():
	default:
		t.Fatal("subscription must be closed after unsubscribe")
	}
}

func TestContainerStopClosesSubscriptions(t *testing.T) {
	rt := newStreamingRuntime()
	hub := NewHub(testHubConfig(), rt, nil)
	ctx := context.Background()

	sub, err := hub.Subscribe(ctx, "rec-1", "engine-1")
	if err != nil {
		t.Fatal(err)
	}

	rt.closeStream()

	select {
	case <-sub.Closed():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription must close when the container stream ends")
	}
	if sub.CloseReason() != "container stopped" {
		t.Fatalf("got reason %q", sub.CloseReason())
	}
}

func TestStatusChangeClosesStream(t *testing.T) {
	rt := newStreamingRuntime()
	hub := NewHub(testHubConfig(), rt, nil)
	ctx := context.Background()

	sub, err := hub.Subscribe(ctx, "rec-1", "engine-1")
	if err != nil {
		t.Fatal(err)
	}

	err = hub.HandleEvent(types.Event{
		Type: types.EventStatusChanged,
		Data: types.StatusChangedPayload{RecordID: "rec-1", Status: models.StatusStopping},
	})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-sub.Closed():
	case <-time.After(2 * time.Second):
		t.Fatal("stopping status must close the stream")
	}
	if rt.detachCount() != 1 {
		t.Fatal("attachment must be released")
	}
}

func TestFetchRecentLogsWithoutSubscribers(t *testing.T) {
	rt := newStreamingRuntime()
	rt.history = []string{"a", "b", "c", "d"}
	hub := NewHub(testHubConfig(), rt, nil)

	got, err := hub.FetchRecentLogs(context.Background(), "rec-1", "engine-1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "c" || got[1] != "d" {
		t.Fatalf("expected runtime tail, got %v", got)
	}
	if rt.attachCount() != 0 {
		t.Fatal("fetch must not open an attachment")
	}
}

func TestRingBufferTail(t *testing.T) {
	ring := newRingBuffer(3)
	for i := 1; i <= 5; i++ {
		ring.Append(types.LogLine{Message: fmt.Sprintf("l%d", i)})
	}

	tail := ring.Tail(3)
	if len(tail) != 3 {
		t.Fatalf("got %d lines", len(tail))
	}
	for i, want := range []string{"l3", "l4", "l5"} {
		if tail[i].Message != want {
			t.Fatalf("tail[%d] = %q, want %q", i, tail[i].Message, want)
		}
	}

	if got := ring.Tail(10); len(got) != 3 {
		t.Fatalf("tail larger than count must clamp, got %d", len(got))
	}
}
