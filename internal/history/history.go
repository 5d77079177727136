// Package history implements a fixed-capacity FIFO of latency samples used to
// compute trend-aware metrics across measurement cycles.
package history

// History is a ring buffer of latency samples in milliseconds. When full,
// pushing a new sample evicts the oldest one.
//
// History is not safe for concurrent use.
type History struct {
	buf  []float64
	head int // index of the oldest sample
	size int
}

// New returns an empty History holding at most capacity samples. It panics if
// capacity is not positive.
func New(capacity int) *History {
	if capacity <= 0 {
		panic("history capacity must be positive")
	}
	return &History{
		buf: make([]float64, capacity),
	}
}

// Len returns the number of samples currently stored.
func (h *History) Len() int {
	return h.size
}

// Push appends a sample, evicting the oldest one if the History is full.
func (h *History) Push(sample float64) {
	if h.size < len(h.buf) {
		h.buf[(h.head+h.size)%len(h.buf)] = sample
		h.size++
		return
	}
	h.buf[h.head] = sample
	h.head = (h.head + 1) % len(h.buf)
}

// Samples returns a copy of the stored samples, oldest first.
func (h *History) Samples() []float64 {
	out := make([]float64, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.at(i)
	}
	return out
}

// Mean returns the mean of the stored samples, or zero if empty.
func (h *History) Mean() float64 {
	if h.size == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < h.size; i++ {
		sum += h.at(i)
	}
	return sum / float64(h.size)
}

// Jitter returns the mean absolute difference between consecutive samples,
// or zero if fewer than two samples are stored.
func (h *History) Jitter() float64 {
	if h.size < 2 {
		return 0
	}
	var sum float64
	prev := h.at(0)
	for i := 1; i < h.size; i++ {
		cur := h.at(i)
		diff := cur - prev
		if diff < 0 {
			diff = -diff
		}
		sum += diff
		prev = cur
	}
	return sum / float64(h.size-1)
}

// at returns the i-th oldest sample.
func (h *History) at(i int) float64 {
	return h.buf[(h.head+i)%len(h.buf)]
}
