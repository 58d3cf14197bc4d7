package dsp

import (
	"errors"
	"math"
)

// ErrNilTemplate is returned when an engine is created without a template
var ErrNilTemplate = errors.New("template is required")

// EngineConfig holds correlation engine options
type EngineConfig struct {
	// NormalizeWindow divides the score by the window energy as well as the
	// template energy, turning it into a cosine similarity that no longer
	// depends on input loudness. Off by default.
	NormalizeWindow bool
}

// Engine correlates a sliding window of the input against a template at a
// single fixed lag: window index 0 (the oldest retained sample) lines up with
// template index 0. The event is assumed to fill the whole window at the
// moment it is detected.
//
// An Engine is owned by the capture goroutine and is not safe for
// concurrent use.
type Engine struct {
	window    *Window
	template  *Template
	normalize bool
	score     float32
}

// NewEngine creates an engine whose window length equals the template length.
func NewEngine(template *Template, config EngineConfig) (*Engine, error) {
	if template == nil {
		return nil, ErrNilTemplate
	}

	return &Engine{
		window:    NewWindow(template.Len()),
		template:  template,
		normalize: config.NormalizeWindow,
	}, nil
}

// ProcessChunk pushes the chunk into the window and returns the new score.
func (e *Engine) ProcessChunk(chunk []float32) float32 {
	e.window.PushChunk(chunk)
	e.score = e.correlate()
	return e.score
}

// Score returns the most recent score.
func (e *Engine) Score() float32 {
	return e.score
}

// WindowLen returns the window length in samples.
func (e *Engine) WindowLen() int {
	return e.window.Len()
}

// Reset clears the window back to silence.
func (e *Engine) Reset() {
	e.window.Reset()
	e.score = 0
}

// correlate computes the dot product of window and template over the two
// physical spans of the ring.
func (e *Engine) correlate() float32 {
	a, b := e.window.Snapshot()
	t := e.template.samples

	var dot, energy float32
	for i, s := range a {
		dot += s * t[i]
		energy += s * s
	}
	off := len(a)
	for i, s := range b {
		dot += s * t[off+i]
		energy += s * s
	}

	if !e.normalize {
		return dot / e.template.norm
	}
	if energy == 0 {
		return 0
	}
	return dot / float32(math.Sqrt(float64(e.template.norm)*float64(energy)))
}
