// Package pipeline connects an audio source to the correlation engine, the
// detector and the event queue, and keeps the presentation history current.
package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/frosk-go/frosk/internal/audio"
	"github.com/frosk-go/frosk/internal/detect"
	"github.com/frosk-go/frosk/internal/dsp"
	"github.com/frosk-go/frosk/internal/history"
	"github.com/frosk-go/frosk/internal/logger"
	"github.com/frosk-go/frosk/internal/metrics"
	"github.com/frosk-go/frosk/internal/queue"
)

// State represents the pipeline lifecycle
type State int32

const (
	// Idle means no source is running
	Idle State = iota
	// Listening means a source is delivering chunks
	Listening
	// Stopped means the source has ended
	Stopped
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Listening:
		return "Listening"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// DefaultHopSize is the sub-chunk length scored at a time
const DefaultHopSize = 10

// Config holds pipeline settings
type Config struct {
	// HopSize splits incoming chunks so one score is produced per HopSize
	// samples. Zero or less scores whole chunks.
	HopSize      int
	Retention    int
	EventLogSize int
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		HopSize:      DefaultHopSize,
		Retention:    history.DefaultRetention,
		EventLogSize: history.DefaultEventLogSize,
	}
}

// Listener is notified of every emitted event from the capture goroutine.
// It must not block.
type Listener func(detect.Event)

// Pipeline owns the engine and detector. Consume runs on the source's
// goroutine; everything else may be called concurrently.
type Pipeline struct {
	engine   *dsp.Engine
	detector *detect.Detector
	queue    *queue.Queue
	scores   *history.Scores
	events   *history.Events
	logger   *logger.Logger
	metrics  *metrics.Metrics
	hop      int

	state    atomic.Int32
	paused   atomic.Bool
	listener atomic.Pointer[Listener]
	dropWarn rate.Sometimes
}

// New creates a pipeline. log and m may be nil.
func New(engine *dsp.Engine, detector *detect.Detector, q *queue.Queue, config Config, log *logger.Logger, m *metrics.Metrics) *Pipeline {
	if log == nil {
		log = logger.Discard()
	}
	return &Pipeline{
		engine:   engine,
		detector: detector,
		queue:    q,
		scores:   history.NewScores(config.Retention),
		events:   history.NewEvents(config.EventLogSize),
		logger:   log,
		metrics:  m,
		hop:      config.HopSize,
		dropWarn: rate.Sometimes{Interval: 5 * time.Second},
	}
}

// Run starts src and feeds it into Consume until src returns.
func (p *Pipeline) Run(ctx context.Context, src audio.Source) error {
	if !p.state.CompareAndSwap(int32(Idle), int32(Listening)) {
		return fmt.Errorf("pipeline already started (state %s)", p.State())
	}
	defer p.state.Store(int32(Stopped))

	p.logger.Info("Listening (window %d samples, hop %d, threshold %.3f, mode %s)",
		p.engine.WindowLen(), p.hop, p.detector.Threshold(), p.detector.Mode())
	return src.Start(ctx, p.Consume)
}

// Consume scores one chunk. It is an audio.Consumer. Empty chunks carry no
// audio and are ignored.
func (p *Pipeline) Consume(chunk []float32) {
	if len(chunk) == 0 {
		return
	}
	if p.hop <= 0 || len(chunk) <= p.hop {
		p.process(chunk)
		return
	}
	for start := 0; start < len(chunk); start += p.hop {
		end := min(start+p.hop, len(chunk))
		p.process(chunk[start:end])
	}
}

func (p *Pipeline) process(sub []float32) {
	score := p.engine.ProcessChunk(sub)
	p.scores.Push(score)
	p.metrics.RecordScore(len(sub), score)

	// the window keeps filling while paused so resuming never scores stale audio
	if p.paused.Load() {
		return
	}

	ev, ok := p.detector.Determine(score)
	if !ok {
		return
	}
	p.events.Append(ev)
	p.metrics.RecordEvent()
	p.logger.Info("Match %s (score %.3f)", ev.ID, ev.Score)

	if l := p.listener.Load(); l != nil {
		(*l)(ev)
	}

	if p.queue.Push(ev) {
		p.metrics.RecordDrop(string(p.queue.Policy()))
		p.dropWarn.Do(func() {
			p.logger.Warn("Event queue full, %d events dropped so far (%s)", p.queue.Dropped(), p.queue.Policy())
		})
	}
}

// OnEvent registers fn to observe emitted events; nil removes it.
func (p *Pipeline) OnEvent(fn Listener) {
	if fn == nil {
		p.listener.Store(nil)
		return
	}
	p.listener.Store(&fn)
}

// Pause stops event detection. Scores are still computed and recorded.
func (p *Pipeline) Pause() {
	if !p.paused.Swap(true) {
		p.logger.Info("Detection paused")
	}
	p.metrics.SetPaused(true)
}

// Resume restarts event detection with a fresh debounce state.
func (p *Pipeline) Resume() {
	if p.paused.Swap(false) {
		p.detector.Reset()
		p.logger.Info("Detection resumed")
	}
	p.metrics.SetPaused(false)
}

// Toggle flips the paused flag and returns the new value
func (p *Pipeline) Toggle() bool {
	if p.Paused() {
		p.Resume()
		return false
	}
	p.Pause()
	return true
}

// Paused reports whether detection is paused
func (p *Pipeline) Paused() bool {
	return p.paused.Load()
}

// State returns the lifecycle state
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// SetThreshold changes the detection threshold live
func (p *Pipeline) SetThreshold(threshold float32) {
	p.detector.SetThreshold(threshold)
}

// SetCooldown changes the detector cooldown live
func (p *Pipeline) SetCooldown(cooldown time.Duration) {
	p.detector.SetCooldown(cooldown)
}

// Scores returns the score history
func (p *Pipeline) Scores() *history.Scores {
	return p.scores
}

// Events returns the event log
func (p *Pipeline) Events() *history.Events {
	return p.events
}

// Status is a point-in-time summary for status surfaces
type Status struct {
	State        string        `json:"state"`
	Paused       bool          `json:"paused"`
	Score        float32       `json:"score"`
	Scores       uint64        `json:"scores"`
	Events       uint64        `json:"events"`
	Queued       int           `json:"queued"`
	Dropped      uint64        `json:"dropped"`
	Threshold    float32       `json:"threshold"`
	Mode         detect.Mode   `json:"mode"`
	Cooldown     time.Duration `json:"cooldown_ns"`
	WindowLength int           `json:"window_length"`
}

// Status returns a snapshot of the pipeline
func (p *Pipeline) Status() Status {
	score, n := p.scores.Last()
	return Status{
		State:        p.State().String(),
		Paused:       p.Paused(),
		Score:        score,
		Scores:       n,
		Events:       p.events.Total(),
		Queued:       p.queue.Len(),
		Dropped:      p.queue.Dropped(),
		Threshold:    p.detector.Threshold(),
		Mode:         p.detector.Mode(),
		Cooldown:     p.detector.Cooldown(),
		WindowLength: p.engine.WindowLen(),
	}
}
