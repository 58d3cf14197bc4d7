package device

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/smallnest/ringbuffer"

	"github.com/frosk-go/frosk/internal/audio"
)

// BackendMiniaudio names devices enumerated through malgo
const BackendMiniaudio = "miniaudio"

// ErrDeviceStopped is returned when the OS stops the capture device under us
var ErrDeviceStopped = errors.New("capture device stopped unexpectedly")

// LoopbackConfig configures system loopback capture through miniaudio
type LoopbackConfig struct {
	// DeviceName selects a capture device by substring. Empty means system
	// loopback of the default output on WASAPI and the default capture
	// device elsewhere.
	DeviceName  string
	SampleRate  int
	Encoding    audio.Encoding
	ChunkFrames int
	// PollInterval is how often staged bytes are decoded and delivered
	PollInterval time.Duration
	// BufferSize is the byte capacity of the staging ring
	BufferSize int
}

// DefaultLoopbackConfig returns mono float capture at 44.1 kHz, delivered in 10ms chunks
func DefaultLoopbackConfig() LoopbackConfig {
	return LoopbackConfig{
		SampleRate:   audio.SampleRate,
		Encoding:     audio.EncodingFloat32,
		ChunkFrames:  441,
		PollInterval: 10 * time.Millisecond,
		BufferSize:   audio.SampleRate * audio.BytesPerSample, // one second
	}
}

// LoopbackSource captures what the system plays, or a named capture device,
// through miniaudio. The device callback only copies bytes into a ring; Start
// decodes and delivers chunks on its own goroutine.
type LoopbackSource struct {
	config  LoopbackConfig
	overrun atomic.Uint64
}

// NewLoopbackSource creates a miniaudio capture source
func NewLoopbackSource(config LoopbackConfig) *LoopbackSource {
	def := DefaultLoopbackConfig()
	if config.SampleRate <= 0 {
		config.SampleRate = def.SampleRate
	}
	if config.Encoding == "" {
		config.Encoding = def.Encoding
	}
	if config.ChunkFrames <= 0 {
		config.ChunkFrames = def.ChunkFrames
	}
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.BufferSize <= 0 {
		config.BufferSize = def.BufferSize
	}
	return &LoopbackSource{config: config}
}

// Overruns returns how many callback writes did not fit in the staging ring
func (s *LoopbackSource) Overruns() uint64 {
	return s.overrun.Load()
}

// Start captures until ctx is cancelled or the device stops.
func (s *LoopbackSource) Start(ctx context.Context, consume audio.Consumer) error {
	mctx, err := malgo.InitContext([]malgo.Backend{platformBackend()}, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize audio context: %w", err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	deviceType := malgo.Capture
	if s.config.DeviceName == "" && runtime.GOOS == "windows" {
		deviceType = malgo.Loopback
	}

	cfg := malgo.DefaultDeviceConfig(deviceType)
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(s.config.SampleRate)
	cfg.Capture.Format = malgo.FormatF32
	if s.config.Encoding == audio.EncodingInt32 {
		cfg.Capture.Format = malgo.FormatS32
	}

	if s.config.DeviceName != "" {
		infos, err := mctx.Devices(malgo.Capture)
		if err != nil {
			return fmt.Errorf("failed to enumerate capture devices: %w", err)
		}
		idx := matchDevice(infos, s.config.DeviceName)
		if idx < 0 {
			return fmt.Errorf("%w: no capture device matching %q", audio.ErrDeviceNotFound, s.config.DeviceName)
		}
		cfg.Capture.DeviceID = infos[idx].ID.Pointer()
	}

	stage := newStager(s.config.BufferSize, audio.Decoder{Encoding: s.config.Encoding, Channels: 1}, s.config.ChunkFrames)
	stopped := make(chan struct{}, 1)

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) {
			if !stage.write(in) {
				s.overrun.Add(1)
			}
		},
		Stop: func() {
			select {
			case stopped <- struct{}{}:
			default:
			}
		},
	}

	dev, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		return fmt.Errorf("failed to initialize capture device: %w", err)
	}
	defer dev.Uninit()

	if err := dev.Start(); err != nil {
		return fmt.Errorf("failed to start capture device: %w", err)
	}

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = dev.Stop()
			return nil
		case <-stopped:
			if ctx.Err() != nil {
				return nil
			}
			return ErrDeviceStopped
		case <-ticker.C:
			if err := stage.drain(consume); err != nil {
				_ = dev.Stop()
				return err
			}
		}
	}
}

// stager moves raw callback bytes to the consumer goroutine
type stager struct {
	ring       *ringbuffer.RingBuffer
	decoder    audio.Decoder
	chunkBytes int
	readBuf    []byte
	pending    []byte
	samples    []float32
}

func newStager(capacity int, decoder audio.Decoder, chunkFrames int) *stager {
	chunkBytes := chunkFrames * decoder.BlockAlign()
	if capacity < 2*chunkBytes {
		capacity = 2 * chunkBytes
	}
	return &stager{
		ring:       ringbuffer.New(capacity),
		decoder:    decoder,
		chunkBytes: chunkBytes,
		readBuf:    make([]byte, capacity),
		pending:    make([]byte, 0, capacity+chunkBytes),
		samples:    make([]float32, 0, chunkFrames),
	}
}

// write stages p and reports whether all of it fit
func (s *stager) write(p []byte) bool {
	n, err := s.ring.Write(p)
	return err == nil && n == len(p)
}

// drain delivers every complete chunk currently staged; a partial chunk
// waits for the next call
func (s *stager) drain(consume audio.Consumer) error {
	n, err := s.ring.Read(s.readBuf)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
		return fmt.Errorf("failed to read staged audio: %w", err)
	}
	s.pending = append(s.pending, s.readBuf[:n]...)

	frames := s.chunkBytes / s.decoder.BlockAlign()
	off := 0
	for len(s.pending)-off >= s.chunkBytes {
		s.samples, err = s.decoder.Decode(s.samples, s.pending[off:off+s.chunkBytes], frames)
		if err != nil {
			return err
		}
		consume(s.samples)
		off += s.chunkBytes
	}
	s.pending = s.pending[:copy(s.pending, s.pending[off:])]
	return nil
}

func platformBackend() malgo.Backend {
	switch runtime.GOOS {
	case "linux":
		return malgo.BackendAlsa
	case "windows":
		return malgo.BackendWasapi
	case "darwin":
		return malgo.BackendCoreaudio
	default:
		return malgo.BackendNull
	}
}

func matchDevice(infos []malgo.DeviceInfo, name string) int {
	want := strings.ToLower(name)
	for i := range infos {
		if strings.Contains(strings.ToLower(infos[i].Name()), want) {
			return i
		}
	}
	return -1
}

// ListMiniaudio returns the capture devices miniaudio can open
func ListMiniaudio() ([]audio.Device, error) {
	mctx, err := malgo.InitContext([]malgo.Backend{platformBackend()}, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate capture devices: %w", err)
	}

	devices := make([]audio.Device, 0, len(infos))
	for i := range infos {
		name := infos[i].Name()
		// miniaudio's null backend device
		if strings.Contains(name, "Discard all samples") {
			continue
		}
		devices = append(devices, audio.Device{
			ID:        i,
			Name:      name,
			IsDefault: infos[i].IsDefault != 0,
			Backend:   BackendMiniaudio,
		})
	}
	return devices, nil
}
