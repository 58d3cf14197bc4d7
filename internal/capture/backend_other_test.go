//go:build !(windows && (amd64 || arm64))

package capture

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultBackendUnsupported(t *testing.T) {
	src := NewProcessSource(nil, DefaultConfig(1), nil, nil)
	err := src.Start(context.Background(), func([]float32) {})
	assert.ErrorIs(t, err, ErrUnsupported)
}
