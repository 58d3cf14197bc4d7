package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, DefaultConfig().Save(path))

	w := NewWatcher(path, DefaultConfig(), nil)

	var mu sync.Mutex
	var got []float32
	w.OnReload(func(c *Config) {
		mu.Lock()
		got = append(got, c.Detection.Threshold)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// give the watcher time to register before writing
	time.Sleep(50 * time.Millisecond)

	cfg := DefaultConfig()
	cfg.Detection.Threshold = 0.6
	require.NoError(t, cfg.Save(path))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0 && got[len(got)-1] == 0.6
	}, 2*time.Second, 10*time.Millisecond)
	assert.InDelta(t, 0.6, w.Get().Detection.Threshold, 1e-6)

	// invalid files are ignored
	require.NoError(t, os.WriteFile(path, []byte("queue:\n  policy: block\n"), 0644))
	time.Sleep(3 * reloadDelay)
	assert.InDelta(t, 0.6, w.Get().Detection.Threshold, 1e-6)

	cancel()
	require.NoError(t, <-done)
}

func TestWatcherMissingDirectory(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "missing", "config.yaml"), DefaultConfig(), nil)
	assert.Error(t, w.Run(context.Background()))
}
