package capture

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/frosk-go/frosk/internal/audio"
	"github.com/frosk-go/frosk/internal/logger"
	"github.com/frosk-go/frosk/internal/metrics"
)

// Config holds capture driver settings
type Config struct {
	PID    uint32
	Format Format
	// BufferDuration is the OS-side buffer length requested at Initialize
	BufferDuration time.Duration
	// WaitSlice bounds each wait for the buffer-ready signal so cancellation
	// is noticed promptly
	WaitSlice time.Duration
	// StallTimeout fails the stream after this long without a buffer
	StallTimeout time.Duration
	// ActivationTimeout bounds each wait for the activation callback
	ActivationTimeout time.Duration
	// ActivationRetries is how many times a failed activation is retried
	ActivationRetries uint64
	// RetryInterval is the first backoff delay between activation attempts
	RetryInterval time.Duration
}

// DefaultConfig returns the driver defaults for pid
func DefaultConfig(pid uint32) Config {
	return Config{
		PID:               pid,
		Format:            DefaultFormat(),
		BufferDuration:    20 * time.Millisecond,
		WaitSlice:         100 * time.Millisecond,
		StallTimeout:      100 * time.Second,
		ActivationTimeout: 10 * time.Second,
		ActivationRetries: 3,
		RetryInterval:     500 * time.Millisecond,
	}
}

// Driver runs one capture session. It is not reusable.
type Driver struct {
	backend Backend
	config  Config
	logger  *logger.Logger
	metrics *metrics.Metrics

	state   atomic.Int32
	packets atomic.Uint64
	frames  atomic.Uint64
}

// NewDriver creates a driver. Zero config fields take their defaults; m may be nil.
func NewDriver(backend Backend, config Config, log *logger.Logger, m *metrics.Metrics) *Driver {
	def := DefaultConfig(config.PID)
	if config.Format.Channels <= 0 {
		config.Format.Channels = def.Format.Channels
	}
	if config.Format.SampleRate <= 0 {
		config.Format.SampleRate = def.Format.SampleRate
	}
	if config.Format.Encoding == "" {
		config.Format.Encoding = def.Format.Encoding
	}
	if config.BufferDuration <= 0 {
		config.BufferDuration = def.BufferDuration
	}
	if config.WaitSlice <= 0 {
		config.WaitSlice = def.WaitSlice
	}
	if config.StallTimeout <= 0 {
		config.StallTimeout = def.StallTimeout
	}
	if config.ActivationTimeout <= 0 {
		config.ActivationTimeout = def.ActivationTimeout
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = def.RetryInterval
	}
	if log == nil {
		log = logger.Discard()
	}

	d := &Driver{
		backend: backend,
		config:  config,
		logger:  log,
		metrics: m,
	}
	d.state.Store(int32(StateIdle))
	return d
}

// State returns the current lifecycle state
func (d *Driver) State() State {
	return State(d.state.Load())
}

// Stats returns how many packets and frames have been delivered
func (d *Driver) Stats() (packets, frames uint64) {
	return d.packets.Load(), d.frames.Load()
}

func (d *Driver) setState(s State) {
	prev := State(d.state.Swap(int32(s)))
	d.logger.Debug("Capture state %s -> %s (pid %d)", prev, s, d.config.PID)
	d.metrics.SetCaptureState(s.String())
}

func (d *Driver) fail(op string, err error) error {
	state := d.State()
	d.setState(StateFailed)
	d.metrics.RecordCaptureError(op)
	return &DriverError{State: state, Op: op, Err: err}
}

// Run activates the stream and delivers decoded chunks to consume until ctx
// is cancelled (returns nil) or the stream fails (returns *DriverError).
func (d *Driver) Run(ctx context.Context, consume audio.Consumer) error {
	if d.State() != StateIdle {
		return fmt.Errorf("capture driver already used (state %s)", d.State())
	}

	// COM objects stay on the thread that created them
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	client, err := d.activate(ctx)
	if err != nil {
		if ctx.Err() != nil {
			d.setState(StateStopped)
			return nil
		}
		return d.fail("Activate", err)
	}
	defer client.Close()

	if err := client.Initialize(d.config.Format, d.config.BufferDuration); err != nil {
		return d.fail("Initialize", err)
	}
	d.setState(StateStreamInitialized)

	if err := client.Start(); err != nil {
		return d.fail("Start", err)
	}
	d.setState(StateStreaming)
	d.logger.Info("Capturing pid %d (%d Hz, %d ch, %s)", d.config.PID, d.config.Format.SampleRate, d.config.Format.Channels, d.config.Format.Encoding)

	if err := d.stream(ctx, client, consume); err != nil {
		_ = client.Stop()
		return err
	}

	d.setState(StateDraining)
	drainErr := d.drain(client, consume)
	stopErr := client.Stop()
	if drainErr != nil {
		return drainErr
	}
	if stopErr != nil {
		return d.fail("Stop", stopErr)
	}
	d.setState(StateStopped)
	return nil
}

// activate requests activation and waits for the OS callback, retrying
// transient failures with exponential backoff.
func (d *Driver) activate(ctx context.Context) (Client, error) {
	var client Client
	attempt := 0

	op := func() error {
		attempt++
		completion := NewCompletion()
		d.setState(StateActivationRequested)

		act, err := d.backend.ActivateProcessLoopback(d.config.PID, completion.Signal)
		if err != nil {
			if errors.Is(err, ErrUnsupported) || errors.Is(err, ErrProcessNotFound) {
				return backoff.Permanent(err)
			}
			return err
		}

		waitCtx, cancel := context.WithTimeout(ctx, d.config.ActivationTimeout)
		defer cancel()
		if err := completion.Wait(waitCtx); err != nil {
			act.Cancel()
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("%w: no completion within %v", ErrActivation, d.config.ActivationTimeout)
		}

		c, err := act.Result()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrActivation, err)
		}
		client = c
		d.setState(StateActivationCompleted)
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.config.RetryInterval
	b := backoff.WithContext(backoff.WithMaxRetries(policy, d.config.ActivationRetries), ctx)

	err := backoff.RetryNotify(op, b, func(err error, next time.Duration) {
		d.logger.Warn("Activation attempt %d for pid %d failed: %v (retrying in %v)", attempt, d.config.PID, err, next.Round(time.Millisecond))
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

// stream is the capture loop. It returns nil when ctx is cancelled.
func (d *Driver) stream(ctx context.Context, client Client, consume audio.Consumer) error {
	var idle time.Duration
	decoder := d.config.Format.decoder()
	samples := make([]float32, 0, 4096)

	for {
		if ctx.Err() != nil {
			return nil
		}

		ready, err := client.WaitReady(d.config.WaitSlice)
		if err != nil {
			return d.fail("WaitReady", err)
		}
		if !ready {
			idle += d.config.WaitSlice
			if idle >= d.config.StallTimeout {
				return d.fail("WaitReady", fmt.Errorf("%w (%v)", ErrStall, d.config.StallTimeout))
			}
			continue
		}
		idle = 0

		if err := d.readPackets(client, decoder, &samples, consume); err != nil {
			return err
		}
	}
}

// drain delivers whatever the OS still holds after cancellation
func (d *Driver) drain(client Client, consume audio.Consumer) error {
	samples := make([]float32, 0, 4096)
	return d.readPackets(client, d.config.Format.decoder(), &samples, consume)
}

func (d *Driver) readPackets(client Client, decoder audio.Decoder, samples *[]float32, consume audio.Consumer) error {
	for {
		size, err := client.NextPacketSize()
		if err != nil {
			return d.fail("NextPacketSize", err)
		}
		if size == 0 {
			return nil
		}

		pkt, err := client.GetBuffer()
		if err != nil {
			return d.fail("GetBuffer", err)
		}

		*samples, err = decoder.Decode(*samples, pkt.Data, int(pkt.Frames))
		if err != nil {
			_ = client.ReleaseBuffer(0)
			return d.fail("GetBuffer", err)
		}
		consume(*samples)

		if err := client.ReleaseBuffer(pkt.Frames); err != nil {
			return d.fail("ReleaseBuffer", err)
		}
		d.packets.Add(1)
		d.frames.Add(uint64(pkt.Frames))
	}
}
