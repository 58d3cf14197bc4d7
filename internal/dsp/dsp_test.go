package dsp

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sineBurst(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(math.Sin(2 * math.Pi * 440 * float64(i) / 44100))
	}
	return out
}

func TestWindowStartsSilent(t *testing.T) {
	w := NewWindow(4)
	assert.Equal(t, 4, w.Len())
	assert.Equal(t, []float32{0, 0, 0, 0}, w.Samples())
}

func TestWindowPushChunk(t *testing.T) {
	tests := []struct {
		name   string
		chunks [][]float32
		want   []float32
	}{
		{"partial", [][]float32{{1, 2}}, []float32{0, 0, 1, 2}},
		{"exact", [][]float32{{1, 2, 3, 4}}, []float32{1, 2, 3, 4}},
		{"wraps", [][]float32{{1, 2, 3}, {4, 5, 6}}, []float32{3, 4, 5, 6}},
		{"oversized", [][]float32{{1, 2, 3, 4, 5, 6, 7}}, []float32{4, 5, 6, 7}},
		{"oversized after wrap", [][]float32{{1}, {2, 3, 4, 5, 6, 7}}, []float32{4, 5, 6, 7}},
		{"empty", [][]float32{{1, 2}, {}}, []float32{0, 0, 1, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWindow(4)
			for _, c := range tt.chunks {
				w.PushChunk(c)
			}
			assert.Equal(t, tt.want, w.Samples())
			assert.Equal(t, 4, w.Len())
		})
	}
}

func TestWindowPushMatchesPushChunk(t *testing.T) {
	a := NewWindow(5)
	b := NewWindow(5)
	for i := range 13 {
		a.Push(float32(i))
	}
	b.PushChunk([]float32{0, 1, 2})
	b.PushChunk([]float32{3, 4, 5, 6, 7, 8})
	b.PushChunk([]float32{9, 10, 11, 12})
	assert.Equal(t, a.Samples(), b.Samples())
	assert.Equal(t, []float32{8, 9, 10, 11, 12}, a.Samples())
}

func TestWindowSnapshotSpans(t *testing.T) {
	w := NewWindow(4)
	w.PushChunk([]float32{1, 2, 3, 4, 5})

	first, second := w.Snapshot()
	assert.Len(t, first, 4)
	assert.Empty(t, second)

	w.PushChunk([]float32{6})
	first, second = w.Snapshot()
	assert.Equal(t, []float32{3, 4, 5}, first)
	assert.Equal(t, []float32{6}, second)
}

func TestWindowReset(t *testing.T) {
	w := NewWindow(3)
	w.PushChunk([]float32{1, 2})
	w.Reset()
	assert.Equal(t, []float32{0, 0, 0}, w.Samples())
}

func TestNewTemplateErrors(t *testing.T) {
	_, err := NewTemplate(nil, 44100)
	assert.ErrorIs(t, err, ErrEmptyTemplate)

	_, err = NewTemplate([]float32{0, 0, 0}, 44100)
	assert.ErrorIs(t, err, ErrZeroEnergy)
}

func TestNewTemplateNorm(t *testing.T) {
	src := []float32{1, -2, 2}
	tmpl, err := NewTemplate(src, 8000)
	require.NoError(t, err)

	assert.Equal(t, 3, tmpl.Len())
	assert.InDelta(t, 9.0, tmpl.Norm(), 1e-6)
	assert.Equal(t, 8000, tmpl.SampleRate())

	src[0] = 100
	assert.Equal(t, []float32{1, -2, 2}, tmpl.Samples())
}

func TestEngineRequiresTemplate(t *testing.T) {
	_, err := NewEngine(nil, EngineConfig{})
	assert.ErrorIs(t, err, ErrNilTemplate)
}

func TestEngineScores(t *testing.T) {
	burst := sineBurst(440)
	tmpl, err := NewTemplate(burst, 44100)
	require.NoError(t, err)

	t.Run("silence scores zero", func(t *testing.T) {
		e, err := NewEngine(tmpl, EngineConfig{})
		require.NoError(t, err)
		assert.Equal(t, float32(0), e.ProcessChunk(make([]float32, 100)))
	})

	t.Run("aligned template scores one", func(t *testing.T) {
		e, err := NewEngine(tmpl, EngineConfig{})
		require.NoError(t, err)
		assert.InDelta(t, 1.0, e.ProcessChunk(burst), 1e-4)
		assert.InDelta(t, 1.0, e.Score(), 1e-4)
	})

	t.Run("inverted template scores minus one", func(t *testing.T) {
		e, err := NewEngine(tmpl, EngineConfig{})
		require.NoError(t, err)
		inv := make([]float32, len(burst))
		for i, s := range burst {
			inv[i] = -s
		}
		assert.InDelta(t, -1.0, e.ProcessChunk(inv), 1e-4)
	})

	t.Run("score scales with amplitude", func(t *testing.T) {
		e, err := NewEngine(tmpl, EngineConfig{})
		require.NoError(t, err)
		loud := make([]float32, len(burst))
		for i, s := range burst {
			loud[i] = 2 * s
		}
		assert.InDelta(t, 2.0, e.ProcessChunk(loud), 1e-3)
	})

	t.Run("window normalization removes amplitude", func(t *testing.T) {
		e, err := NewEngine(tmpl, EngineConfig{NormalizeWindow: true})
		require.NoError(t, err)
		assert.Equal(t, float32(0), e.ProcessChunk(make([]float32, 10)))

		loud := make([]float32, len(burst))
		for i, s := range burst {
			loud[i] = 3 * s
		}
		assert.InDelta(t, 1.0, e.ProcessChunk(loud), 1e-3)
	})
}

func TestEngineChunkedStreamPeaksAtAlignment(t *testing.T) {
	burst := sineBurst(440)
	tmpl, err := NewTemplate(burst, 44100)
	require.NoError(t, err)
	e, err := NewEngine(tmpl, EngineConfig{})
	require.NoError(t, err)

	stream := append(make([]float32, 4400), burst...)

	var scores []float32
	for off := 0; off < len(stream); off += 110 {
		scores = append(scores, e.ProcessChunk(stream[off:off+110]))
	}

	last := scores[len(scores)-1]
	assert.InDelta(t, 1.0, last, 1e-4)
	for _, s := range scores[:len(scores)-1] {
		assert.Less(t, s, float32(0.9))
	}
}

func TestEngineReset(t *testing.T) {
	burst := sineBurst(64)
	tmpl, err := NewTemplate(burst, 44100)
	require.NoError(t, err)
	e, err := NewEngine(tmpl, EngineConfig{})
	require.NoError(t, err)

	e.ProcessChunk(burst)
	e.Reset()
	assert.Equal(t, float32(0), e.Score())
	assert.Equal(t, 64, e.WindowLen())
	assert.Equal(t, float32(0), e.ProcessChunk(nil))
}

func writeWAV(t *testing.T, path string, channels, bitDepth int, data []int) {
	t.Helper()
	encodeWAV(t, path, channels, bitDepth, 1, data)
}

// writeFloatWAV stores samples as 32-bit IEEE float (format tag 3)
func writeFloatWAV(t *testing.T, path string, channels int, samples ...float32) {
	t.Helper()
	data := make([]int, len(samples))
	for i, v := range samples {
		data[i] = int(int32(math.Float32bits(v)))
	}
	encodeWAV(t, path, channels, 32, 3, data)
}

func encodeWAV(t *testing.T, path string, channels, bitDepth, format int, data []int) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, 44100, bitDepth, channels, format)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: 44100},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
}

func TestLoadTemplate(t *testing.T) {
	dir := t.TempDir()

	t.Run("mono 16-bit", func(t *testing.T) {
		path := filepath.Join(dir, "mono.wav")
		writeWAV(t, path, 1, 16, []int{16384, -16384, 0, 8192})

		tmpl, err := LoadTemplate(path)
		require.NoError(t, err)
		assert.Equal(t, 44100, tmpl.SampleRate())
		got := tmpl.Samples()
		require.Len(t, got, 4)
		assert.InDelta(t, 0.5, got[0], 1e-4)
		assert.InDelta(t, -0.5, got[1], 1e-4)
		assert.InDelta(t, 0.25, got[3], 1e-4)
	})

	t.Run("stereo is averaged", func(t *testing.T) {
		path := filepath.Join(dir, "stereo.wav")
		writeWAV(t, path, 2, 16, []int{16384, 0, -16384, -16384})

		tmpl, err := LoadTemplate(path)
		require.NoError(t, err)
		got := tmpl.Samples()
		require.Len(t, got, 2)
		assert.InDelta(t, 0.25, got[0], 1e-4)
		assert.InDelta(t, -0.5, got[1], 1e-4)
	})

	t.Run("32-bit float", func(t *testing.T) {
		path := filepath.Join(dir, "float.wav")
		writeFloatWAV(t, path, 1, 0.5, -0.25, 1.0)

		tmpl, err := LoadTemplate(path)
		require.NoError(t, err)
		assert.Equal(t, []float32{0.5, -0.25, 1.0}, tmpl.Samples())
	})

	t.Run("silent file", func(t *testing.T) {
		path := filepath.Join(dir, "silent.wav")
		writeWAV(t, path, 1, 16, []int{0, 0, 0})

		_, err := LoadTemplate(path)
		assert.ErrorIs(t, err, ErrZeroEnergy)
	})

	t.Run("not a wav", func(t *testing.T) {
		path := filepath.Join(dir, "junk.wav")
		require.NoError(t, os.WriteFile(path, []byte("definitely not RIFF"), 0o644))

		_, err := LoadTemplate(path)
		assert.ErrorIs(t, err, ErrInvalidTemplateFile)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadTemplate(filepath.Join(dir, "nope.wav"))
		assert.Error(t, err)
	})
}
