package speech

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Decode errors
var (
	ErrEmptyAudio = errors.New("empty audio payload")
	ErrOddLength  = errors.New("pcm16 payload has odd length")
)

// DecodePCM16 converts signed 16-bit little-endian mono PCM to samples in
// [-1, 1) by dividing by 32768.
func DecodePCM16(data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrOddLength, len(data))
	}

	samples := make([]float32, len(data)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = float32(v) / 32768.0
	}
	return samples, nil
}

// Clip is a decoded, playable utterance
type Clip struct {
	// Gen is the pipeline generation the clip belongs to
	Gen        uint64
	Samples    []float32
	SampleRate int
	// PCM is the undecoded payload, forwarded to remote players
	PCM []byte
}

// Duration is how long the clip plays at its sample rate
func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}
