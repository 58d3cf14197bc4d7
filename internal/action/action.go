// Package action performs the scripted key presses triggered by a detection.
package action

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-vgo/robotgo"

	"github.com/frosk-go/frosk/internal/detect"
	"github.com/frosk-go/frosk/internal/logger"
)

// ErrNoSteps is returned when a sequence has nothing to press
var ErrNoSteps = errors.New("key sequence has no steps")

// Keyboard sends key presses to the focused window
type Keyboard interface {
	KeyTap(key string) error
	Focus(pid int) error
}

// Step presses Key Repeat times, waiting Delay after each press
type Step struct {
	Key    string        `yaml:"key" json:"key"`
	Repeat int           `yaml:"repeat" json:"repeat"`
	Delay  time.Duration `yaml:"delay" json:"delay"`
}

// Config holds action settings
type Config struct {
	Steps []Step
	// FocusPID, when non-zero, brings that process to the front before typing
	FocusPID int
}

// DefaultSteps returns the built-in sequence: F9, a one second pause, then
// F10 ten times 200ms apart.
func DefaultSteps() []Step {
	return []Step{
		{Key: "f9", Repeat: 1, Delay: time.Second},
		{Key: "f10", Repeat: 10, Delay: 200 * time.Millisecond},
	}
}

// Validate checks the key sequence
func Validate(steps []Step) error {
	if len(steps) == 0 {
		return ErrNoSteps
	}
	for i, s := range steps {
		if strings.TrimSpace(s.Key) == "" {
			return fmt.Errorf("step %d: key is required", i)
		}
		if s.Repeat < 0 {
			return fmt.Errorf("step %d: repeat must not be negative", i)
		}
		if s.Delay < 0 {
			return fmt.Errorf("step %d: delay must not be negative", i)
		}
	}
	return nil
}

// KeySequence is a dispatch handler that replays a fixed key sequence
type KeySequence struct {
	keyboard Keyboard
	steps    []Step
	focusPID int
	logger   *logger.Logger
}

// NewKeySequence creates the handler. A nil keyboard uses robotgo.
func NewKeySequence(kb Keyboard, config Config, log *logger.Logger) (*KeySequence, error) {
	steps := config.Steps
	if len(steps) == 0 {
		steps = DefaultSteps()
	}
	if err := Validate(steps); err != nil {
		return nil, err
	}
	if kb == nil {
		kb = RobotKeyboard{}
	}
	if log == nil {
		log = logger.Discard()
	}

	return &KeySequence{
		keyboard: kb,
		steps:    append([]Step(nil), steps...),
		focusPID: config.FocusPID,
		logger:   log,
	}, nil
}

// Handle runs the sequence. It stops early, returning ctx.Err(), if ctx is
// cancelled during a delay.
func (k *KeySequence) Handle(ctx context.Context, ev detect.Event) error {
	k.logger.Debug("Running key sequence for event %s", ev.ID)

	if k.focusPID != 0 {
		if err := k.keyboard.Focus(k.focusPID); err != nil {
			// typing into whatever has focus is still better than nothing
			k.logger.Warn("Failed to focus pid %d: %v", k.focusPID, err)
		}
	}

	for _, step := range k.steps {
		repeat := step.Repeat
		if repeat == 0 {
			repeat = 1
		}
		for range repeat {
			if err := k.keyboard.KeyTap(step.Key); err != nil {
				return fmt.Errorf("failed to press %s: %w", step.Key, err)
			}
			if err := sleep(ctx, step.Delay); err != nil {
				return err
			}
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RobotKeyboard presses keys through robotgo
type RobotKeyboard struct{}

// KeyTap presses and releases key
func (RobotKeyboard) KeyTap(key string) error {
	return robotgo.KeyTap(key)
}

// Focus activates the window owned by pid
func (RobotKeyboard) Focus(pid int) error {
	return robotgo.ActivePid(pid)
}
