package audio

import (
	"encoding/binary"
	"math"
)

const bitsPerSample = 16

func pcmBitrate(rate, channels int) int {
	return rate * channels * bitsPerSample
}

// wavEncoder converts float32 samples to little-endian 16-bit PCM. The header
// is written once with unknown (max) sizes so fragments can be streamed.
type wavEncoder struct {
	rate, channels int
	headerSent     bool
	pending        []byte
}

func newWAVEncoder(rate, channels int) *wavEncoder {
	return &wavEncoder{rate: rate, channels: channels}
}

// Write appends samples, clamped to [-1, 1].
func (e *wavEncoder) Write(samples []float32) {
	for _, s := range samples {
		v := math.Max(-1, math.Min(1, float64(s)))
		e.pending = binary.LittleEndian.AppendUint16(e.pending, uint16(int16(v*math.MaxInt16)))
	}
}

// Flush returns the buffered bytes, prefixed by the header on the first
// non-empty flush. It returns nil while no samples are pending, so a recording
// with no audio stays empty.
func (e *wavEncoder) Flush() []byte {
	if len(e.pending) == 0 {
		return nil
	}
	out := e.pending
	e.pending = nil
	if !e.headerSent {
		e.headerSent = true
		out = append(wavHeader(e.rate, e.channels), out...)
	}
	return out
}

func wavHeader(rate, channels int) []byte {
	const unknownSize = math.MaxUint32
	blockAlign := channels * bitsPerSample / 8

	h := make([]byte, 0, 44)
	h = append(h, "RIFF"...)
	h = binary.LittleEndian.AppendUint32(h, unknownSize)
	h = append(h, "WAVE"...)
	h = append(h, "fmt "...)
	h = binary.LittleEndian.AppendUint32(h, 16)
	h = binary.LittleEndian.AppendUint16(h, 1) // PCM
	h = binary.LittleEndian.AppendUint16(h, uint16(channels))
	h = binary.LittleEndian.AppendUint32(h, uint32(rate))
	h = binary.LittleEndian.AppendUint32(h, uint32(rate*blockAlign))
	h = binary.LittleEndian.AppendUint16(h, uint16(blockAlign))
	h = binary.LittleEndian.AppendUint16(h, bitsPerSample)
	h = append(h, "data"...)
	h = binary.LittleEndian.AppendUint32(h, unknownSize)
	return h
}
