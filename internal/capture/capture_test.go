package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/frosk-go/frosk/internal/audio"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func int32Packet(vals ...int32) Packet {
	data := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(data[i*4:], uint32(v))
	}
	return Packet{Data: data, Frames: uint32(len(vals))}
}

// fakeClient replays a script of ready signals and packets
type fakeClient struct {
	mu        sync.Mutex
	packets   []Packet
	readyErr  error
	getErr    error
	released  []uint32
	calls     []string
	neverData bool
	onWait    func()
}

func (c *fakeClient) record(name string) {
	c.mu.Lock()
	c.calls = append(c.calls, name)
	c.mu.Unlock()
}

func (c *fakeClient) Initialize(Format, time.Duration) error { c.record("Initialize"); return nil }
func (c *fakeClient) Start() error                           { c.record("Start"); return nil }
func (c *fakeClient) Stop() error                            { c.record("Stop"); return nil }
func (c *fakeClient) Close() error                           { c.record("Close"); return nil }

func (c *fakeClient) WaitReady(time.Duration) (bool, error) {
	if c.onWait != nil {
		c.onWait()
	}
	if c.readyErr != nil {
		return false, c.readyErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.neverData || len(c.packets) == 0 {
		// let the caller's cancellation be observed without spinning
		time.Sleep(time.Millisecond)
		return false, nil
	}
	return true, nil
}

func (c *fakeClient) NextPacketSize() (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.packets) == 0 {
		return 0, nil
	}
	return c.packets[0].Frames, nil
}

func (c *fakeClient) GetBuffer() (Packet, error) {
	if c.getErr != nil {
		return Packet{}, c.getErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.packets[0]
	c.packets = c.packets[1:]
	return p, nil
}

func (c *fakeClient) ReleaseBuffer(frames uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released = append(c.released, frames)
	return nil
}

type fakeActivation struct {
	client  Client
	err     error
	backend *fakeBackend
}

func (a fakeActivation) Result() (Client, error) { return a.client, a.err }

func (a fakeActivation) Cancel() {
	a.backend.mu.Lock()
	a.backend.cancelled++
	a.backend.mu.Unlock()
}

// fakeBackend completes activation either synchronously (before returning)
// or from another goroutine after a delay
type fakeBackend struct {
	mu        sync.Mutex
	attempts  int
	failFirst int
	err       error
	async     time.Duration
	never     bool
	cancelled int
	client    Client
	wg        sync.WaitGroup
}

func (b *fakeBackend) ActivateProcessLoopback(_ uint32, onComplete func()) (Activation, error) {
	b.mu.Lock()
	b.attempts++
	attempt := b.attempts
	b.mu.Unlock()

	if b.err != nil {
		return nil, b.err
	}
	if attempt <= b.failFirst {
		return nil, errors.New("device busy")
	}
	switch {
	case b.never:
	case b.async > 0:
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			time.Sleep(b.async)
			onComplete()
		}()
	default:
		onComplete()
	}
	return fakeActivation{client: b.client, backend: b}, nil
}

func testConfig() Config {
	return Config{
		PID:               1234,
		WaitSlice:         time.Millisecond,
		StallTimeout:      time.Second,
		ActivationTimeout: time.Second,
		ActivationRetries: 3,
		RetryInterval:     time.Millisecond,
	}
}

func collect(mu *sync.Mutex, out *[]float32) audio.Consumer {
	return func(chunk []float32) {
		mu.Lock()
		*out = append(*out, chunk...)
		mu.Unlock()
	}
}

func TestCompletionSignalBeforeWait(t *testing.T) {
	c := NewCompletion()
	c.Signal()
	assert.True(t, c.Done())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx))
	// a second wait also returns at once
	require.NoError(t, c.Wait(ctx))
}

func TestCompletionSignalFromOtherGoroutine(t *testing.T) {
	c := NewCompletion()
	go func() {
		time.Sleep(5 * time.Millisecond)
		c.Signal()
		c.Signal()
	}()
	require.NoError(t, c.Wait(context.Background()))
}

func TestCompletionWaitCancelled(t *testing.T) {
	c := NewCompletion()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Wait(ctx), context.DeadlineExceeded)
	assert.False(t, c.Done())
}

func TestDriverStreamsUntilCancelled(t *testing.T) {
	client := &fakeClient{packets: []Packet{
		int32Packet(math.MaxInt32, 0),
		int32Packet(-math.MaxInt32),
	}}
	backend := &fakeBackend{client: client, async: 2 * time.Millisecond}
	d := NewDriver(backend, testConfig(), nil, nil)
	assert.Equal(t, StateIdle, d.State())

	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	var got []float32
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, collect(&mu, &got)) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, time.Millisecond)
	assert.Equal(t, StateStreaming, d.State())

	cancel()
	require.NoError(t, <-done)
	backend.wg.Wait()

	assert.Equal(t, StateStopped, d.State())
	assert.Equal(t, []float32{1, 0, -1}, got)
	assert.Equal(t, []uint32{2, 1}, client.released)
	assert.Equal(t, []string{"Initialize", "Start", "Stop", "Close"}, client.calls)

	packets, frames := d.Stats()
	assert.Equal(t, uint64(2), packets)
	assert.Equal(t, uint64(3), frames)
}

func TestDriverSynchronousCompletion(t *testing.T) {
	client := &fakeClient{packets: []Packet{int32Packet(1)}}
	d := NewDriver(&fakeBackend{client: client}, testConfig(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	client.onWait = func() {
		client.mu.Lock()
		empty := len(client.packets) == 0
		client.mu.Unlock()
		if empty {
			cancel()
		}
	}
	require.NoError(t, d.Run(ctx, func([]float32) {}))
	assert.Equal(t, StateStopped, d.State())
}

func TestDriverStall(t *testing.T) {
	client := &fakeClient{neverData: true}
	cfg := testConfig()
	cfg.StallTimeout = 5 * time.Millisecond
	d := NewDriver(&fakeBackend{client: client}, cfg, nil, nil)

	err := d.Run(context.Background(), func([]float32) {})
	require.ErrorIs(t, err, ErrStall)

	var de *DriverError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, StateStreaming, de.State)
	assert.Equal(t, "WaitReady", de.Op)
	assert.Equal(t, StateFailed, d.State())
	assert.Contains(t, client.calls, "Stop")
	assert.Contains(t, client.calls, "Close")
}

func TestDriverShortBuffer(t *testing.T) {
	short := int32Packet(1, 2)
	short.Frames = 3
	client := &fakeClient{packets: []Packet{short}}
	d := NewDriver(&fakeBackend{client: client}, testConfig(), nil, nil)

	called := false
	err := d.Run(context.Background(), func([]float32) { called = true })
	assert.ErrorIs(t, err, ErrShortBuffer)
	assert.False(t, called)
	assert.Equal(t, StateFailed, d.State())
}

func TestDriverIgnoresBytesBeyondFrames(t *testing.T) {
	long := int32Packet(math.MaxInt32, math.MaxInt32, math.MaxInt32)
	long.Frames = 1
	long.Flags = 0x2
	client := &fakeClient{packets: []Packet{long}}
	d := NewDriver(&fakeBackend{client: client}, testConfig(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	var got []float32
	require.NoError(t, d.Run(ctx, func(c []float32) {
		got = append(got, c...)
		cancel()
	}))
	assert.Equal(t, []float32{1}, got)
}

func TestDriverWaitError(t *testing.T) {
	client := &fakeClient{readyErr: errors.New("wait failed")}
	d := NewDriver(&fakeBackend{client: client}, testConfig(), nil, nil)

	err := d.Run(context.Background(), func([]float32) {})
	var de *DriverError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "WaitReady", de.Op)
	assert.ErrorContains(t, err, "wait failed")
}

func TestDriverGetBufferError(t *testing.T) {
	client := &fakeClient{packets: []Packet{int32Packet(1)}, getErr: errors.New("device lost")}
	d := NewDriver(&fakeBackend{client: client}, testConfig(), nil, nil)

	err := d.Run(context.Background(), func([]float32) {})
	var de *DriverError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "GetBuffer", de.Op)
}

func TestActivationRetriesTransientFailures(t *testing.T) {
	client := &fakeClient{}
	backend := &fakeBackend{client: client, failFirst: 2}
	d := NewDriver(backend, testConfig(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	client.onWait = cancel
	require.NoError(t, d.Run(ctx, func([]float32) {}))
	assert.Equal(t, 3, backend.attempts)
}

func TestActivationGivesUp(t *testing.T) {
	backend := &fakeBackend{failFirst: 100}
	cfg := testConfig()
	cfg.ActivationRetries = 2
	d := NewDriver(backend, cfg, nil, nil)

	err := d.Run(context.Background(), func([]float32) {})
	var de *DriverError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "Activate", de.Op)
	assert.Equal(t, StateActivationRequested, de.State)
	assert.Equal(t, 3, backend.attempts)
}

func TestActivationPermanentErrors(t *testing.T) {
	for _, perm := range []error{ErrUnsupported, ErrProcessNotFound} {
		backend := &fakeBackend{err: perm}
		d := NewDriver(backend, testConfig(), nil, nil)

		err := d.Run(context.Background(), func([]float32) {})
		assert.ErrorIs(t, err, perm)
		assert.Equal(t, 1, backend.attempts)
	}
}

func TestActivationTimeout(t *testing.T) {
	backend := &fakeBackend{never: true}
	cfg := testConfig()
	cfg.ActivationTimeout = 5 * time.Millisecond
	cfg.ActivationRetries = 0
	d := NewDriver(backend, cfg, nil, nil)

	err := d.Run(context.Background(), func([]float32) {})
	assert.ErrorIs(t, err, ErrActivation)
}

func TestActivationTimeoutReleasesEachAttempt(t *testing.T) {
	backend := &fakeBackend{never: true}
	cfg := testConfig()
	cfg.ActivationTimeout = 5 * time.Millisecond
	cfg.ActivationRetries = 2
	d := NewDriver(backend, cfg, nil, nil)

	err := d.Run(context.Background(), func([]float32) {})
	assert.ErrorIs(t, err, ErrActivation)
	assert.Equal(t, 3, backend.attempts)
	assert.Equal(t, backend.attempts, backend.cancelled, "every timed out activation is cancelled")
}

func TestCancelDuringActivation(t *testing.T) {
	backend := &fakeBackend{never: true}
	d := NewDriver(backend, testConfig(), nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.NoError(t, d.Run(ctx, func([]float32) {}))
	assert.Equal(t, StateStopped, d.State())
	assert.Equal(t, 1, backend.cancelled)
}

func TestDriverNotReusable(t *testing.T) {
	client := &fakeClient{}
	d := NewDriver(&fakeBackend{client: client}, testConfig(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Run(ctx, func([]float32) {}))
	assert.Error(t, d.Run(context.Background(), func([]float32) {}))
}

func TestProcessSource(t *testing.T) {
	client := &fakeClient{packets: []Packet{int32Packet(0)}}
	src := NewProcessSource(&fakeBackend{client: client}, testConfig(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	var n int
	require.NoError(t, src.Start(ctx, func(c []float32) {
		n += len(c)
		cancel()
	}))
	assert.Equal(t, 1, n)
}

func TestFormat(t *testing.T) {
	f := DefaultFormat()
	assert.Equal(t, 4, f.BlockAlign())
	assert.Equal(t, 32, f.BitsPerSample())
	assert.Equal(t, audio.EncodingInt32, f.Encoding)
	assert.Equal(t, 44100, f.SampleRate)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "ActivationRequested", StateActivationRequested.String())
	assert.Equal(t, "Failed", StateFailed.String())
	assert.Equal(t, "State(42)", State(42).String())
}
