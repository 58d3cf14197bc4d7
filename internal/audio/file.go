package audio

import (
	"context"
	"time"
)

const (
	// DefaultReplayChunk is the number of samples delivered per replay tick
	DefaultReplayChunk = 440
	// DefaultReplayInterval is the delay between replay chunks
	DefaultReplayInterval = 10 * time.Millisecond
)

// FileSource replays a WAV file as if it were captured live
type FileSource struct {
	Path      string
	ChunkSize int
	Interval  time.Duration
	// Loop restarts from the beginning after the last chunk
	Loop bool
}

// NewFileSource creates a replay source with default pacing
func NewFileSource(path string) *FileSource {
	return &FileSource{
		Path:      path,
		ChunkSize: DefaultReplayChunk,
		Interval:  DefaultReplayInterval,
	}
}

// Start decodes the whole file up front, then delivers one chunk per tick.
// The final chunk may be shorter than ChunkSize.
func (s *FileSource) Start(ctx context.Context, consume Consumer) error {
	samples, _, err := ReadWAV(s.Path)
	if err != nil {
		return err
	}
	return Replay(ctx, samples, s.ChunkSize, s.Interval, s.Loop, consume)
}

// Replay partitions samples into chunks of size and hands one to consume per
// interval. A non-positive interval delivers as fast as possible.
func Replay(ctx context.Context, samples []float32, size int, interval time.Duration, loop bool, consume Consumer) error {
	if size <= 0 {
		size = DefaultReplayChunk
	}
	if len(samples) == 0 {
		return nil
	}

	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	chunk := make([]float32, size)
	for {
		for off := 0; off < len(samples); off += size {
			if ctx.Err() != nil {
				return nil
			}
			if tick != nil {
				select {
				case <-ctx.Done():
					return nil
				case <-tick:
				}
			}

			n := copy(chunk, samples[off:])
			consume(chunk[:n])
		}
		if !loop {
			return nil
		}
	}
}
