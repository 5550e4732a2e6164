package pcm

import (
	"errors"
	"io"
)

// ReaderSource is a Source over a sequential PCM stream, such as a decoder.
//
// The reader is never rewound. A read error other than io.EOF ends the
// stream and is reported by Err.
type ReaderSource struct {
	r      io.Reader
	format Format
	frame  []byte
	done   bool
	err    error
	frames uint64
}

// NewReaderSource wraps r.
func NewReaderSource(r io.Reader, f Format) (*ReaderSource, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &ReaderSource{r: r, format: f, frame: make([]byte, f.FrameBytes())}, nil
}

// Err returns the error that ended the stream, if any.
func (s *ReaderSource) Err() error { return s.err }

// Frames returns the number of samples converted so far.
func (s *ReaderSource) Frames() uint64 { return s.frames }

func (s *ReaderSource) next() bool {
	if s.done {
		return false
	}
	if _, err := io.ReadFull(s.r, s.frame); err != nil {
		s.done = true
		if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			s.err = err
		}
		return false
	}
	return true
}

func (s *ReaderSource) channel(i int) uint32 {
	if s.format.BitsPerSample == 8 {
		return Normalize(uint32(s.frame[i]), 8)
	}
	off := i * 2
	return Normalize(uint32(s.frame[off])|uint32(s.frame[off+1])<<8, 16)
}

// Fill implements Source.
func (s *ReaderSource) Fill(buf []uint32) int {
	checkCapacity(buf)

	n := 0
	for n < len(buf) && s.next() {
		left := s.channel(0)
		right := left
		if s.format.Channels == 2 {
			right = s.channel(1)
		}
		buf[n] = left
		buf[n+1] = right
		n += 2
		s.frames++
	}
	return n
}
