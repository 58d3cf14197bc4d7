package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Encoding is the sample representation of raw capture bytes
type Encoding string

const (
	// EncodingInt32 is signed 32-bit little-endian PCM
	EncodingInt32 Encoding = "int32"
	// EncodingFloat32 is IEEE 754 32-bit little-endian float
	EncodingFloat32 Encoding = "float32"
)

// ParseEncoding validates an encoding name
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(s) {
	case EncodingInt32, EncodingFloat32:
		return Encoding(s), nil
	default:
		return "", fmt.Errorf("unsupported sample encoding %q", s)
	}
}

// BytesPerSample is 4 for both supported encodings
const BytesPerSample = 4

// Decoder converts interleaved little-endian frames into mono float samples
type Decoder struct {
	Encoding Encoding
	Channels int
}

// BlockAlign returns the number of bytes in one frame
func (d Decoder) BlockAlign() int {
	return d.channels() * BytesPerSample
}

func (d Decoder) channels() int {
	if d.Channels < 1 {
		return 1
	}
	return d.Channels
}

// Decode converts exactly frames frames from data, appending to dst[:0].
// Bytes past frames*BlockAlign are ignored; fewer bytes is ErrShortBuffer.
// Multi-channel frames are averaged.
func (d Decoder) Decode(dst []float32, data []byte, frames int) ([]float32, error) {
	need := frames * d.BlockAlign()
	if frames < 0 || len(data) < need {
		return dst[:0], fmt.Errorf("%w: %d frames need %d bytes, have %d", ErrShortBuffer, frames, need, len(data))
	}

	dst = dst[:0]
	ch := d.channels()
	for f := range frames {
		var sum float32
		base := f * ch * BytesPerSample
		for c := range ch {
			sum += d.sample(data[base+c*BytesPerSample:])
		}
		dst = append(dst, sum/float32(ch))
	}
	return dst, nil
}

func (d Decoder) sample(b []byte) float32 {
	bits := binary.LittleEndian.Uint32(b)
	if d.Encoding == EncodingFloat32 {
		return math.Float32frombits(bits)
	}
	return float32(int32(bits)) / math.MaxInt32
}
