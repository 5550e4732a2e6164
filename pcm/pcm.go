// Package pcm turns PCM byte streams into the 12-bit words the PWM FIFO
// consumes, one word per output channel, two channels per sample.
package pcm

import "fmt"

// Source fills one DMA buffer.
//
// len(buf) is even and non-zero. Fill returns the number of words written,
// always even, and 0 if and only if the source is exhausted.
type Source interface {
	Fill(buf []uint32) int
}

// OutputBits is the width of the normalised PWM payload.
const OutputBits = 12

// Format describes an interleaved little-endian PCM stream.
//
// 8-bit samples are unsigned, 16-bit samples are signed.
type Format struct {
	Channels      int
	BitsPerSample int
}

// Validate checks the format against what the converter supports.
func (f Format) Validate() error {
	if f.Channels != 1 && f.Channels != 2 {
		return fmt.Errorf("pcm: unsupported channel count %d", f.Channels)
	}
	if f.BitsPerSample != 8 && f.BitsPerSample != 16 {
		return fmt.Errorf("pcm: unsupported bits per sample %d", f.BitsPerSample)
	}
	return nil
}

// FrameBytes is the size of one sample across all channels.
func (f Format) FrameBytes() int {
	return f.Channels * f.BitsPerSample / 8
}

// Normalize converts one raw channel value into the 12-bit PWM payload.
//
// raw holds the bytes as stored: for 16-bit samples the two's complement
// value is offset to unsigned before rescaling.
func Normalize(raw uint32, bits int) uint32 {
	v := raw
	if bits > 8 {
		v = (v + 0x8000) & 0xFFFF
	}
	if bits >= OutputBits {
		return v >> uint(bits-OutputBits)
	}
	return v << uint(OutputBits-bits)
}

func checkCapacity(buf []uint32) {
	if len(buf) == 0 || len(buf)&1 != 0 {
		panic(fmt.Sprintf("pcm: fill capacity %d must be even and non-zero", len(buf)))
	}
}
