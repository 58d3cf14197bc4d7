// Package capture records the audio rendered by one process (and its child
// processes) through the platform's process-loopback API.
//
// The Driver owns the lifecycle as an explicit state machine and talks to the
// OS through the Backend interface. Windows 10 2004+ on amd64/arm64 ships a
// WASAPI backend; other platforms report ErrUnsupported.
package capture

import (
	"errors"
	"fmt"
	"time"

	"github.com/frosk-go/frosk/internal/audio"
)

var (
	// ErrUnsupported is returned when process loopback is unavailable
	ErrUnsupported = audio.ErrUnsupported
	// ErrShortBuffer is returned when the OS buffer holds fewer bytes than
	// its frame count implies
	ErrShortBuffer = audio.ErrShortBuffer
	// ErrStall is returned when no buffer arrives within the stall timeout
	ErrStall = errors.New("no audio buffer within stall timeout")
	// ErrActivation is returned when the OS does not complete activation
	ErrActivation = errors.New("process loopback activation failed")
	// ErrProcessNotFound is returned when the target pid is not running
	ErrProcessNotFound = errors.New("target process not found")
)

// State is a step in the capture lifecycle
type State int

const (
	StateIdle State = iota
	StateActivationRequested
	StateActivationCompleted
	StateStreamInitialized
	StateStreaming
	StateDraining
	StateStopped
	StateFailed
)

var stateNames = [...]string{
	StateIdle:                "Idle",
	StateActivationRequested: "ActivationRequested",
	StateActivationCompleted: "ActivationCompleted",
	StateStreamInitialized:   "StreamInitialized",
	StateStreaming:           "Streaming",
	StateDraining:            "Draining",
	StateStopped:             "Stopped",
	StateFailed:              "Failed",
}

// String returns the state name
func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// DriverError records which operation failed and in which state
type DriverError struct {
	State State
	Op    string
	Err   error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("capture %s failed in state %s: %v", e.Op, e.State, e.Err)
}

func (e *DriverError) Unwrap() error {
	return e.Err
}

// Format is the stream format requested from the OS
type Format struct {
	Channels   int
	SampleRate int
	Encoding   audio.Encoding
}

// DefaultFormat is mono 44.1 kHz signed 32-bit little-endian PCM
func DefaultFormat() Format {
	return Format{
		Channels:   1,
		SampleRate: audio.SampleRate,
		Encoding:   audio.EncodingInt32,
	}
}

// BitsPerSample is 32 for every supported encoding
func (f Format) BitsPerSample() int {
	return audio.BytesPerSample * 8
}

// BlockAlign returns the bytes per frame
func (f Format) BlockAlign() int {
	return f.decoder().BlockAlign()
}

func (f Format) decoder() audio.Decoder {
	return audio.Decoder{Encoding: f.Encoding, Channels: f.Channels}
}

// Packet is one OS capture buffer. Data aliases OS memory and is valid
// until the matching ReleaseBuffer.
type Packet struct {
	Data   []byte
	Frames uint32
	Flags  uint32
}

// Backend starts process-loopback activation
type Backend interface {
	// ActivateProcessLoopback requests a capture client for pid and its
	// descendants. onComplete is invoked, possibly on an OS thread and
	// possibly before this call returns, once Result may be called.
	ActivateProcessLoopback(pid uint32, onComplete func()) (Activation, error)
}

// Activation is a pending activation. Exactly one of Result or Cancel is
// called, on the thread that requested it.
type Activation interface {
	Result() (Client, error)
	// Cancel abandons an activation whose completion never arrived and
	// releases what the request acquired
	Cancel()
}

// Client is an activated capture stream
type Client interface {
	Initialize(format Format, bufferDuration time.Duration) error
	Start() error
	Stop() error
	// WaitReady blocks until the OS signals buffered data or timeout passes
	WaitReady(timeout time.Duration) (bool, error)
	NextPacketSize() (uint32, error)
	GetBuffer() (Packet, error)
	ReleaseBuffer(frames uint32) error
	Close() error
}
