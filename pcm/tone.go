package pcm

import "math"

// Tone is a synthetic sine source, identical on both channels.
type Tone struct {
	step      float64
	phase     float64
	amplitude float64
	remaining int
}

// NewTone returns a tone of freq Hz at sampleRate lasting samples samples.
// amplitude is a fraction of full scale in (0, 1].
func NewTone(freq float64, sampleRate, samples int, amplitude float64) *Tone {
	if amplitude <= 0 || amplitude > 1 {
		amplitude = 1
	}
	return &Tone{
		step:      2 * math.Pi * freq / float64(sampleRate),
		amplitude: amplitude * 32767,
		remaining: samples,
	}
}

// Remaining returns the number of samples left.
func (t *Tone) Remaining() int { return t.remaining }

// Fill implements Source.
func (t *Tone) Fill(buf []uint32) int {
	checkCapacity(buf)

	n := 0
	for n < len(buf) && t.remaining > 0 {
		s := int16(math.Round(t.amplitude * math.Sin(t.phase)))
		v := Normalize(uint32(uint16(s)), 16)
		buf[n] = v
		buf[n+1] = v
		n += 2

		t.phase += t.step
		if t.phase >= 2*math.Pi {
			t.phase -= 2 * math.Pi
		}
		t.remaining--
	}
	return n
}
