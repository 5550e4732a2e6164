package pcm

// Stream is a Source over PCM bytes held in memory.
type Stream struct {
	data      []byte
	pos       int
	remaining int
	format    Format
}

// NewStream wraps data. Trailing bytes that do not form a whole sample are
// ignored.
func NewStream(data []byte, f Format) (*Stream, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &Stream{
		data:      data,
		remaining: len(data) / f.FrameBytes(),
		format:    f,
	}, nil
}

// Remaining returns the number of samples not yet converted.
func (s *Stream) Remaining() int { return s.remaining }

// Format returns the stream format.
func (s *Stream) Format() Format { return s.format }

func (s *Stream) channel() uint32 {
	v := uint32(s.data[s.pos])
	s.pos++
	if s.format.BitsPerSample > 8 {
		v |= uint32(s.data[s.pos]) << 8
		s.pos++
	}
	return Normalize(v, s.format.BitsPerSample)
}

// Fill implements Source.
func (s *Stream) Fill(buf []uint32) int {
	checkCapacity(buf)
	if s.remaining == 0 {
		return 0
	}

	n := 0
	for n < len(buf) {
		left := s.channel()
		right := left
		if s.format.Channels == 2 {
			right = s.channel()
		}
		buf[n] = left
		buf[n+1] = right
		n += 2

		s.remaining--
		if s.remaining == 0 {
			break
		}
	}
	return n
}
