// Package detect turns a stream of correlation scores into discrete events.
package detect

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Kind identifies what an event represents
type Kind int

const (
	// AcousticMatch is emitted when the correlation score exceeds the threshold
	AcousticMatch Kind = iota
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case AcousticMatch:
		return "AcousticMatch"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "AcousticMatch":
		*k = AcousticMatch
		return nil
	default:
		return fmt.Errorf("unknown event kind %q", text)
	}
}

// Event is a detected occurrence of the reference sound
type Event struct {
	ID    string    `json:"id"`
	Kind  Kind      `json:"kind"`
	Score float32   `json:"score"`
	Time  time.Time `json:"time"`
}

// Mode selects how consecutive above-threshold scores are debounced
type Mode string

const (
	// ModeEvery emits an event for every score above the threshold
	ModeEvery Mode = "every"
	// ModeEdge emits only when the score crosses from at-or-below to above
	ModeEdge Mode = "edge"
)

// ParseMode validates a mode string
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeEvery, ModeEdge:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("invalid detection mode %q (want %q or %q)", s, ModeEvery, ModeEdge)
	}
}

// Config holds detector settings
type Config struct {
	Threshold float32
	Mode      Mode
	// Cooldown suppresses events for this long after one is emitted.
	// Zero disables it.
	Cooldown time.Duration
}

// DefaultConfig returns the settings the application ships with
func DefaultConfig() Config {
	return Config{
		Threshold: 0.3,
		Mode:      ModeEdge,
		Cooldown:  2 * time.Second,
	}
}

// Detector decides whether a score constitutes an event. Determine is called
// from the capture goroutine only; the threshold and cooldown may be changed
// from any goroutine.
type Detector struct {
	threshold atomic.Uint32 // math.Float32bits
	cooldown  atomic.Int64

	mu        sync.Mutex
	mode      Mode
	above     bool
	lastEvent time.Time

	now func() time.Time
}

// New creates a detector. An empty mode means ModeEvery.
func New(config Config) *Detector {
	d := &Detector{
		mode: config.Mode,
		now:  time.Now,
	}
	if d.mode == "" {
		d.mode = ModeEvery
	}
	d.SetThreshold(config.Threshold)
	d.SetCooldown(config.Cooldown)
	return d
}

// Threshold returns the current threshold
func (d *Detector) Threshold() float32 {
	return math.Float32frombits(d.threshold.Load())
}

// SetThreshold replaces the threshold; takes effect on the next score
func (d *Detector) SetThreshold(threshold float32) {
	d.threshold.Store(math.Float32bits(threshold))
}

// Cooldown returns the current cooldown
func (d *Detector) Cooldown() time.Duration {
	return time.Duration(d.cooldown.Load())
}

// SetCooldown replaces the cooldown
func (d *Detector) SetCooldown(cooldown time.Duration) {
	if cooldown < 0 {
		cooldown = 0
	}
	d.cooldown.Store(int64(cooldown))
}

// Mode returns the debounce mode
func (d *Detector) Mode() Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// Determine reports whether score produces an event. The comparison is
// strict: a score equal to the threshold does not fire. NaN never fires.
func (d *Detector) Determine(score float32) (Event, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	over := score > d.Threshold()
	wasAbove := d.above

	if !over {
		d.above = false
		return Event{}, false
	}
	if d.mode == ModeEdge && wasAbove {
		return Event{}, false
	}

	// a crossing swallowed by the cooldown stays pending, so the first
	// score above threshold after the cooldown still fires
	now := d.now()
	if cd := d.Cooldown(); cd > 0 && !d.lastEvent.IsZero() && now.Sub(d.lastEvent) < cd {
		return Event{}, false
	}
	d.above = true
	d.lastEvent = now

	return Event{
		ID:    uuid.NewString(),
		Kind:  AcousticMatch,
		Score: score,
		Time:  now,
	}, true
}

// Reset forgets the crossing state and the cooldown timer
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.above = false
	d.lastEvent = time.Time{}
}
