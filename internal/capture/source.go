package capture

import (
	"context"

	"github.com/frosk-go/frosk/internal/audio"
	"github.com/frosk-go/frosk/internal/logger"
	"github.com/frosk-go/frosk/internal/metrics"
)

// ProcessSource is an audio.Source that captures one process tree
type ProcessSource struct {
	backend Backend
	config  Config
	logger  *logger.Logger
	metrics *metrics.Metrics
}

// NewProcessSource creates a source for config.PID. A nil backend selects
// the platform backend.
func NewProcessSource(backend Backend, config Config, log *logger.Logger, m *metrics.Metrics) *ProcessSource {
	if backend == nil {
		backend = DefaultBackend()
	}
	return &ProcessSource{backend: backend, config: config, logger: log, metrics: m}
}

// Start runs a fresh driver session until ctx is cancelled or capture fails.
func (s *ProcessSource) Start(ctx context.Context, consume audio.Consumer) error {
	return NewDriver(s.backend, s.config, s.logger, s.metrics).Run(ctx, consume)
}
