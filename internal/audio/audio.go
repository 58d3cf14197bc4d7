// Package audio defines where samples come from: live devices, system
// loopback, or a WAV file replayed in real time.
package audio

import (
	"context"
	"errors"
)

var (
	// ErrInvalidFile is returned when a replay file is missing or not a usable WAV file
	ErrInvalidFile = errors.New("invalid audio file")
	// ErrUnsupported is returned when a capture backend is unavailable on this platform
	ErrUnsupported = errors.New("audio capture not supported on this platform")
	// ErrDeviceNotFound is returned when no device matches the requested name
	ErrDeviceNotFound = errors.New("audio device not found")
	// ErrShortBuffer is returned when a capture buffer holds fewer bytes than its frame count implies
	ErrShortBuffer = errors.New("capture buffer shorter than reported frames")
)

// Consumer receives one chunk of mono float samples. The slice is only valid
// for the duration of the call; sources may reuse its backing array.
type Consumer func(chunk []float32)

// Source produces chunks. Start blocks until the source is exhausted, ctx is
// cancelled (both return nil) or a fatal error occurs.
type Source interface {
	Start(ctx context.Context, consume Consumer) error
}

// SourceFunc adapts a function to Source
type SourceFunc func(ctx context.Context, consume Consumer) error

// Start calls f
func (f SourceFunc) Start(ctx context.Context, consume Consumer) error {
	return f(ctx, consume)
}

// Device represents an audio input device
type Device struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"isDefault"`
	Backend   string `json:"backend"`
}

// LatencyMode defines the latency priority
type LatencyMode int

const (
	// LowLatency prioritizes low latency (real-time)
	LowLatency LatencyMode = iota
	// HighStability prioritizes stability (larger buffer)
	HighStability
)

// SampleRate is the rate every live source captures at
const SampleRate = 44100
