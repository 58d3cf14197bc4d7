// Package dsp implements the sliding-window matched filter: a fixed-length
// ring of the most recent samples correlated against a reference template.
package dsp

// Window is a fixed-capacity circular buffer of samples, initialised to
// silence. Every pushed sample evicts the oldest one, so the buffer always
// holds exactly Len() samples.
//
// A Window is not safe for concurrent use.
type Window struct {
	data []float32
	head int // index of the oldest sample
}

// NewWindow creates a zero-filled window of the given capacity.
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{data: make([]float32, capacity)}
}

// Len returns the window capacity. It never changes.
func (w *Window) Len() int {
	return len(w.data)
}

// PushChunk appends the samples in order, evicting one old sample per new
// sample. A chunk longer than the window leaves only its last Len() samples.
func (w *Window) PushChunk(chunk []float32) {
	n := len(w.data)
	if len(chunk) >= n {
		copy(w.data, chunk[len(chunk)-n:])
		w.head = 0
		return
	}

	// head is both the oldest sample and the next write slot
	first := copy(w.data[w.head:], chunk)
	if first < len(chunk) {
		copy(w.data, chunk[first:])
	}
	w.head = (w.head + len(chunk)) % n
}

// Push appends a single sample.
func (w *Window) Push(sample float32) {
	w.data[w.head] = sample
	w.head++
	if w.head == len(w.data) {
		w.head = 0
	}
}

// Snapshot returns the window contents oldest-first as two spans. The
// second span is empty when the ring is not wrapped. The spans alias the
// window's storage and are invalidated by the next push.
func (w *Window) Snapshot() (a, b []float32) {
	return w.data[w.head:], w.data[:w.head]
}

// CopyTo writes the window contents oldest-first into dst and returns the
// number of samples copied.
func (w *Window) CopyTo(dst []float32) int {
	a, b := w.Snapshot()
	n := copy(dst, a)
	n += copy(dst[n:], b)
	return n
}

// Samples returns a linearised copy of the window.
func (w *Window) Samples() []float32 {
	out := make([]float32, len(w.data))
	w.CopyTo(out)
	return out
}

// Reset refills the window with silence.
func (w *Window) Reset() {
	clear(w.data)
	w.head = 0
}
