// internal/core/domain/logstream/ring_buffer.go
package logstream

import "trading-bot-orchestrator/internal/types"

// ringBuffer - кольцевой буфер последних строк лога контейнера.
// Не потокобезопасен: защищается мьютексом владеющего стрима.
type ringBuffer struct {
	lines []types.LogLine
	head  int
	count int
}

func newRingBuffer(size int) *ringBuffer {
	if size <= 0 {
		size = 1
	}
	return &ringBuffer{lines: make([]types.LogLine, size)}
}

// Append добавляет строку, вытесняя самую старую при переполнении
func (r *ringBuffer) Append(line types.LogLine) {
	idx := (r.head + r.count) % len(r.lines)
	r.lines[idx] = line
	if r.count < len(r.lines) {
		r.count++
	} else {
		r.head = (r.head + 1) % len(r.lines)
	}
}

// Tail возвращает последние n строк в хронологическом порядке
func (r *ringBuffer) Tail(n int) []types.LogLine {
	if n <= 0 || r.count == 0 {
		return nil
	}
	if n > r.count {
		n = r.count
	}

	out := make([]types.LogLine, n)
	start := r.head + r.count - n
	for i := 0; i < n; i++ {
		out[i] = r.lines[(start+i)%len(r.lines)]
	}
	return out
}

// Len возвращает число строк в буфере
func (r *ringBuffer) Len() int {
	return r.count
}
