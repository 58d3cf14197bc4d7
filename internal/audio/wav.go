package audio

import (
	"fmt"
	"math"
	"os"

	"github.com/go-audio/wav"
)

// WAV format tags from the fmt chunk
const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE
)

// ReadWAV decodes a whole PCM or IEEE-float WAV file into mono float samples
// in [-1, 1]. Multi-channel files are averaged down to mono.
func ReadWAV(path string) (samples []float32, sampleRate int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return nil, 0, fmt.Errorf("%w: %s is not a valid WAV file", ErrInvalidFile, path)
	}

	convert, err := sampleConverter(int(decoder.WavAudioFormat), int(decoder.BitDepth))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s: %v", ErrInvalidFile, path, err)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: failed to decode %s: %v", ErrInvalidFile, path, err)
	}

	channels := int(decoder.NumChans)
	if channels < 1 {
		channels = 1
	}

	frames := len(buf.Data) / channels
	samples = make([]float32, frames)
	for i := range frames {
		var sum float32
		for c := range channels {
			sum += convert(buf.Data[i*channels+c])
		}
		samples[i] = sum / float32(channels)
	}

	return samples, int(decoder.SampleRate), nil
}

// sampleConverter maps a decoded sample to [-1, 1]. The decoder hands float
// files over as the raw 32-bit patterns.
func sampleConverter(format, bitDepth int) (func(int) float32, error) {
	switch format {
	case wavFormatFloat:
		if bitDepth != 32 {
			return nil, fmt.Errorf("unsupported float bit depth %d", bitDepth)
		}
		return func(v int) float32 { return math.Float32frombits(uint32(v)) }, nil
	case wavFormatPCM, wavFormatExtensible:
		divisor, err := fullScale(bitDepth)
		if err != nil {
			return nil, err
		}
		return func(v int) float32 { return float32(v) / divisor }, nil
	default:
		return nil, fmt.Errorf("unsupported audio format %d", format)
	}
}

// fullScale returns the largest magnitude of a PCM sample at bitDepth
func fullScale(bitDepth int) (float32, error) {
	switch bitDepth {
	case 16:
		return 32768.0, nil
	case 24:
		return 8388608.0, nil
	case 32:
		return 2147483647.0, nil
	default:
		return 0, fmt.Errorf("unsupported bit depth %d", bitDepth)
	}
}
