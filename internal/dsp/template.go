package dsp

import (
	"errors"
	"fmt"

	"github.com/frosk-go/frosk/internal/audio"
)

var (
	// ErrEmptyTemplate is returned when a template has no samples
	ErrEmptyTemplate = errors.New("template has no samples")
	// ErrZeroEnergy is returned when a template is all silence
	ErrZeroEnergy = errors.New("template has zero energy")
	// ErrInvalidTemplateFile is returned when the reference file is not a usable WAV file
	ErrInvalidTemplateFile = errors.New("invalid template file")
)

// Template is the reference waveform together with its energy
// (sum of squares). It is immutable after construction.
type Template struct {
	samples    []float32
	norm       float32
	sampleRate int
}

// NewTemplate copies samples into a new template.
func NewTemplate(samples []float32, sampleRate int) (*Template, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyTemplate
	}

	var norm float32
	for _, s := range samples {
		norm += s * s
	}
	if norm <= 0 {
		return nil, ErrZeroEnergy
	}

	owned := make([]float32, len(samples))
	copy(owned, samples)

	return &Template{
		samples:    owned,
		norm:       norm,
		sampleRate: sampleRate,
	}, nil
}

// Len returns the number of samples in the template.
func (t *Template) Len() int {
	return len(t.samples)
}

// Norm returns the template energy.
func (t *Template) Norm() float32 {
	return t.norm
}

// SampleRate returns the sample rate the template was recorded at,
// or 0 when unknown.
func (t *Template) SampleRate() int {
	return t.sampleRate
}

// Samples returns a copy of the template waveform.
func (t *Template) Samples() []float32 {
	out := make([]float32, len(t.samples))
	copy(out, t.samples)
	return out
}

// LoadTemplate reads a WAV file and builds a template from it. Multi-channel
// files are averaged down to mono; integer samples are scaled to [-1, 1]
// by the file's bit depth and float samples are taken as stored.
func LoadTemplate(path string) (*Template, error) {
	samples, rate, err := audio.ReadWAV(path)
	if err != nil {
		if errors.Is(err, audio.ErrInvalidFile) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTemplateFile, err)
		}
		return nil, err
	}
	return NewTemplate(samples, rate)
}
