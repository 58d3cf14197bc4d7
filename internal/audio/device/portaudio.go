package device

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/frosk-go/frosk/internal/audio"
)

// BackendPortAudio names devices enumerated through PortAudio
const BackendPortAudio = "portaudio"

var paMu sync.Mutex

// withPortAudio runs fn between Initialize and Terminate. PortAudio keeps a
// reference count, so nested sessions are fine.
func withPortAudio(fn func() error) error {
	paMu.Lock()
	err := portaudio.Initialize()
	paMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer func() {
		paMu.Lock()
		_ = portaudio.Terminate()
		paMu.Unlock()
	}()
	return fn()
}

// PortAudioConfig selects and configures a PortAudio input device
type PortAudioConfig struct {
	// DeviceName matches the first input device whose name contains it
	// (case-insensitive). Empty selects the default input.
	DeviceName      string
	SampleRate      int
	FramesPerBuffer int
	Latency         audio.LatencyMode
}

// DefaultPortAudioConfig returns mono capture at 44.1 kHz
func DefaultPortAudioConfig() PortAudioConfig {
	return PortAudioConfig{
		SampleRate:      audio.SampleRate,
		FramesPerBuffer: 441,
		Latency:         audio.HighStability,
	}
}

// PortAudioSource captures a named input device such as "Stereo Mix" or a
// virtual cable, delivering mono float chunks from the PortAudio callback.
type PortAudioSource struct {
	config PortAudioConfig
}

// NewPortAudioSource creates a PortAudio capture source
func NewPortAudioSource(config PortAudioConfig) *PortAudioSource {
	def := DefaultPortAudioConfig()
	if config.SampleRate <= 0 {
		config.SampleRate = def.SampleRate
	}
	if config.FramesPerBuffer <= 0 {
		config.FramesPerBuffer = def.FramesPerBuffer
	}
	return &PortAudioSource{config: config}
}

// Start opens the device and streams until ctx is cancelled.
func (s *PortAudioSource) Start(ctx context.Context, consume audio.Consumer) error {
	return withPortAudio(func() error {
		device, err := s.findDevice()
		if err != nil {
			return err
		}

		params := portaudio.StreamParameters{
			Input: portaudio.StreamDeviceParameters{
				Device:   device,
				Channels: 1,
				Latency:  latencyFor(device, s.config.Latency),
			},
			SampleRate:      float64(s.config.SampleRate),
			FramesPerBuffer: s.config.FramesPerBuffer,
		}

		stream, err := portaudio.OpenStream(params, func(in []float32) {
			consume(in)
		})
		if err != nil {
			return fmt.Errorf("failed to open stream on %q: %w", device.Name, err)
		}
		defer stream.Close()

		if err := stream.Start(); err != nil {
			return fmt.Errorf("failed to start stream on %q: %w", device.Name, err)
		}

		<-ctx.Done()

		if err := stream.Stop(); err != nil {
			return fmt.Errorf("failed to stop stream: %w", err)
		}
		return nil
	})
}

func (s *PortAudioSource) findDevice() (*portaudio.DeviceInfo, error) {
	if s.config.DeviceName == "" {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to get default input device: %w", err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	want := strings.ToLower(s.config.DeviceName)
	for _, d := range devices {
		if d.MaxInputChannels > 0 && strings.Contains(strings.ToLower(d.Name), want) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: no input device matching %q", audio.ErrDeviceNotFound, s.config.DeviceName)
}

// ListPortAudio returns the input devices PortAudio can open
func ListPortAudio() ([]audio.Device, error) {
	var result []audio.Device
	err := withPortAudio(func() error {
		devices, err := portaudio.Devices()
		if err != nil {
			return fmt.Errorf("failed to list devices: %w", err)
		}

		defaultInput, err := portaudio.DefaultInputDevice()
		if err != nil {
			defaultInput = nil
		}

		for i, dev := range devices {
			if dev.MaxInputChannels <= 0 {
				continue
			}
			result = append(result, audio.Device{
				ID:        i,
				Name:      dev.Name,
				IsDefault: defaultInput != nil && dev.Name == defaultInput.Name,
				Backend:   BackendPortAudio,
			})
		}
		return nil
	})
	return result, err
}

func latencyFor(d *portaudio.DeviceInfo, mode audio.LatencyMode) time.Duration {
	if mode == audio.LowLatency {
		return d.DefaultLowInputLatency
	}
	return d.DefaultHighInputLatency
}
