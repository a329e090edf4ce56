// internal/infrastructure/runtime/docker/docker_service_test.go
package docker

import (
	"bytes"
	"context"
	"io"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/pkg/stdcopy"
)

// frameSource - бесконечный мультиплексированный поток: один и тот же
// кадр stdout по кругу, пока источник не закрыт
type frameSource struct {
	mu     sync.Mutex
	closed bool
	frame  []byte
	off    int
}

func newFrameSource(t *testing.T, line string) *frameSource {
	t.Helper()

	var buf bytes.Buffer
	if _, err := stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(line + "\n")); err != nil {
		t.Fatal(err)
	}
	return &frameSource{frame: buf.Bytes()}
}

func (s *frameSource) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, io.EOF
	}
	n := copy(p, s.frame[s.off:])
	s.off = (s.off + n) % len(s.frame)
	return n, nil
}

func (s *frameSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func TestPumpLinesDeliversDemuxedLines(t *testing.T) {
	var buf bytes.Buffer
	w := stdcopy.NewStdWriter(&buf, stdcopy.Stdout)
	w.Write([]byte("first\n"))
	w.Write([]byte("second\n"))

	reader := io.NopCloser(bytes.NewReader(buf.Bytes()))
	lines := pumpLines(context.Background(), reader)

	var got []string
	for line := range lines {
		got = append(got, line.Message)
	}

	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Fatalf("expected demuxed lines, got %v", got)
	}
}

func TestPumpLinesDetachReleasesDemux(t *testing.T) {
	before := runtime.NumGoroutine()

	src := newFrameSource(t, "tick")
	ctx, cancel := context.WithCancel(context.Background())

	lines := pumpLines(ctx, src)

	line, ok := <-lines
	if !ok || line.Message != "tick" {
		t.Fatalf("expected first line, got %q (ok=%v)", line.Message, ok)
	}

	cancel()

	closed := false
	timeout := time.After(2 * time.Second)
	for !closed {
		select {
		case _, ok := <-lines:
			closed = !ok
		case <-timeout:
			t.Fatal("lines channel not closed after detach")
		}
	}

	// Demux-горутина должна завершиться, а не зависнуть в pw.Write
	drained := false
	for i := 0; i < 200; i++ {
		if runtime.NumGoroutine() <= before {
			drained = true
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !drained {
		t.Fatalf("goroutine leak after detach: %d > %d", runtime.NumGoroutine(), before)
	}

	src.mu.Lock()
	defer src.mu.Unlock()
	if !src.closed {
		t.Fatal("container log stream must be closed on detach")
	}
}
