package pcm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ADPCM files carry IMA ADPCM audio in fixed-size blocks after a 16-byte
// header:
//
//	0  "PWA1"
//	4  uint32 sample rate
//	8  uint32 frames
//	12 uint16 samples per block
//	14 uint8  channels
//	15 uint8  reserved, zero
//
// A block holds one run per channel. A run is the first sample as int16,
// the step index as uint8, then one nibble for every further sample, low
// nibble first.
const (
	adpcmMagic     = "PWA1"
	ADPCMHeaderLen = 16

	// MaxSamplesPerBlock bounds the decoder's block buffer.
	MaxSamplesPerBlock = 4096
)

var ErrADPCM = errors.New("pcm: bad adpcm data")

// ADPCMHeader describes an ADPCM file.
type ADPCMHeader struct {
	SampleRate      uint32
	Frames          uint32
	SamplesPerBlock int
	Channels        int
}

func (h ADPCMHeader) validate() error {
	if h.SampleRate == 0 {
		return fmt.Errorf("%w: zero sample rate", ErrADPCM)
	}
	if h.Channels != 1 && h.Channels != 2 {
		return fmt.Errorf("%w: %d channels", ErrADPCM, h.Channels)
	}
	if h.SamplesPerBlock < 1 || h.SamplesPerBlock > MaxSamplesPerBlock {
		return fmt.Errorf("%w: %d samples per block", ErrADPCM, h.SamplesPerBlock)
	}
	return nil
}

func runBytes(samplesPerBlock int) int { return 3 + samplesPerBlock/2 }

// BlockBytes is the encoded size of one block.
func (h ADPCMHeader) BlockBytes() int { return h.Channels * runBytes(h.SamplesPerBlock) }

// WriteADPCMHeader writes h.
func WriteADPCMHeader(w io.Writer, h ADPCMHeader) error {
	if err := h.validate(); err != nil {
		return err
	}
	var b [ADPCMHeaderLen]byte
	copy(b[0:4], adpcmMagic)
	binary.LittleEndian.PutUint32(b[4:8], h.SampleRate)
	binary.LittleEndian.PutUint32(b[8:12], h.Frames)
	binary.LittleEndian.PutUint16(b[12:14], uint16(h.SamplesPerBlock))
	b[14] = byte(h.Channels)
	_, err := w.Write(b[:])
	return err
}

// ReadADPCMHeader reads and checks a header.
func ReadADPCMHeader(r io.Reader) (ADPCMHeader, error) {
	var b [ADPCMHeaderLen]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return ADPCMHeader{}, fmt.Errorf("%w: header: %v", ErrADPCM, err)
	}
	if string(b[0:4]) != adpcmMagic || b[15] != 0 {
		return ADPCMHeader{}, fmt.Errorf("%w: not an adpcm file", ErrADPCM)
	}
	h := ADPCMHeader{
		SampleRate:      binary.LittleEndian.Uint32(b[4:8]),
		Frames:          binary.LittleEndian.Uint32(b[8:12]),
		SamplesPerBlock: int(binary.LittleEndian.Uint16(b[12:14])),
		Channels:        int(b[14]),
	}
	return h, h.validate()
}

var imaSteps = [89]int32{
	7, 8, 9, 10, 11, 12, 13, 14, 16, 17,
	19, 21, 23, 25, 28, 31, 34, 37, 41, 45,
	50, 55, 60, 66, 73, 80, 88, 97, 107, 118,
	130, 143, 157, 173, 190, 209, 230, 253, 279, 307,
	337, 371, 408, 449, 494, 544, 598, 658, 724, 796,
	876, 963, 1060, 1166, 1282, 1411, 1552, 1707, 1878, 2066,
	2272, 2499, 2749, 3024, 3327, 3660, 4026, 4428, 4871, 5358,
	5894, 6484, 7132, 7845, 8630, 9493, 10442, 11487, 12635, 13899,
	15289, 16818, 18500, 20350, 22385, 24623, 27086, 29794, 32767,
}

var imaIndexDelta = [8]int8{-1, -1, -1, -1, 2, 4, 6, 8}

// ima is the codec state shared by the encoder and the decoder.
type ima struct {
	pred  int32
	index int32
}

// step applies nibble n and returns the new prediction.
func (s *ima) step(n uint8) int16 {
	step := imaSteps[s.index]
	diff := step >> 3
	if n&4 != 0 {
		diff += step
	}
	if n&2 != 0 {
		diff += step >> 1
	}
	if n&1 != 0 {
		diff += step >> 2
	}
	if n&8 != 0 {
		s.pred -= diff
	} else {
		s.pred += diff
	}
	s.pred = min(max(s.pred, -32768), 32767)
	s.index = min(max(s.index+int32(imaIndexDelta[n&7]), 0), 88)
	return int16(s.pred)
}

// encode picks the nibble closest to v and applies it.
func (s *ima) encode(v int16) uint8 {
	step := imaSteps[s.index]
	diff := int32(v) - s.pred
	var n uint8
	if diff < 0 {
		n = 8
		diff = -diff
	}
	if diff >= step {
		n |= 4
		diff -= step
	}
	if diff >= step>>1 {
		n |= 2
		diff -= step >> 1
	}
	if diff >= step>>2 {
		n |= 1
	}
	s.step(n)
	return n
}

func decodeRun(run []byte, out []int16) error {
	if len(run) != runBytes(len(out)) || run[2] > 88 {
		return ErrADPCM
	}
	s := ima{pred: int32(int16(binary.LittleEndian.Uint16(run))), index: int32(run[2])}
	out[0] = int16(s.pred)
	for i := 1; i < len(out); i++ {
		b := run[3+(i-1)/2]
		if i&1 == 0 {
			b >>= 4
		}
		out[i] = s.step(b & 0xF)
	}
	return nil
}

// encodeRun encodes samples into run starting from s. The prediction is
// reset to the first sample while the step index carries over.
func encodeRun(s *ima, samples []int16, run []byte) {
	s.pred = int32(samples[0])
	binary.LittleEndian.PutUint16(run, uint16(samples[0]))
	run[2] = byte(s.index)
	for i := range run[3:] {
		run[3+i] = 0
	}
	for i := 1; i < len(samples); i++ {
		n := s.encode(samples[i])
		if i&1 == 0 {
			n <<= 4
		}
		run[3+(i-1)/2] |= n
	}
}

// ADPCMSource is a Source over an ADPCM stream. Fill does not allocate.
type ADPCMSource struct {
	r      io.Reader
	header ADPCMHeader
	block  []byte
	pcm    [2][]int16
	pos    int
	left   uint32
	err    error
}

// NewADPCMSource reads the header from r.
func NewADPCMSource(r io.Reader) (*ADPCMSource, error) {
	h, err := ReadADPCMHeader(r)
	if err != nil {
		return nil, err
	}
	s := &ADPCMSource{
		r:      r,
		header: h,
		block:  make([]byte, h.BlockBytes()),
		left:   h.Frames,
		pos:    h.SamplesPerBlock,
	}
	for c := 0; c < h.Channels; c++ {
		s.pcm[c] = make([]int16, h.SamplesPerBlock)
	}
	return s, nil
}

// Header returns the stream header.
func (s *ADPCMSource) Header() ADPCMHeader { return s.header }

// Err returns the error that ended the stream, if any.
func (s *ADPCMSource) Err() error { return s.err }

func (s *ADPCMSource) next() bool {
	if s.left == 0 || s.err != nil {
		return false
	}
	if s.pos < s.header.SamplesPerBlock {
		return true
	}
	if _, err := io.ReadFull(s.r, s.block); err != nil {
		s.err = fmt.Errorf("%w: block: %v", ErrADPCM, err)
		return false
	}
	n := runBytes(s.header.SamplesPerBlock)
	for c := 0; c < s.header.Channels; c++ {
		if err := decodeRun(s.block[c*n:(c+1)*n], s.pcm[c]); err != nil {
			s.err = err
			return false
		}
	}
	s.pos = 0
	return true
}

// Fill implements Source.
func (s *ADPCMSource) Fill(buf []uint32) int {
	checkCapacity(buf)

	n := 0
	for n < len(buf) && s.next() {
		left := s.pcm[0][s.pos]
		right := left
		if s.header.Channels == 2 {
			right = s.pcm[1][s.pos]
		}
		buf[n] = Normalize(uint32(uint16(left)), 16)
		buf[n+1] = Normalize(uint32(uint16(right)), 16)
		n += 2
		s.pos++
		s.left--
	}
	return n
}

// ADPCMEncoder writes ADPCM blocks. The header is the caller's: Frames
// reports the count to store in it once encoding is done.
type ADPCMEncoder struct {
	w       io.Writer
	header  ADPCMHeader
	state   [2]ima
	pending [2][]int16
	n       int
	block   []byte
	frames  uint32
}

// NewADPCMEncoder encodes frames shaped by h into w.
func NewADPCMEncoder(w io.Writer, h ADPCMHeader) (*ADPCMEncoder, error) {
	if err := h.validate(); err != nil {
		return nil, err
	}
	e := &ADPCMEncoder{w: w, header: h, block: make([]byte, h.BlockBytes())}
	for c := 0; c < h.Channels; c++ {
		e.pending[c] = make([]int16, h.SamplesPerBlock)
	}
	return e, nil
}

// WriteFrame adds one frame. right is ignored for mono.
func (e *ADPCMEncoder) WriteFrame(left, right int16) error {
	e.pending[0][e.n] = left
	if e.header.Channels == 2 {
		e.pending[1][e.n] = right
	}
	e.n++
	e.frames++
	if e.n == e.header.SamplesPerBlock {
		return e.flush()
	}
	return nil
}

// Frames returns the number of frames written.
func (e *ADPCMEncoder) Frames() uint32 { return e.frames }

func (e *ADPCMEncoder) flush() error {
	n := runBytes(e.header.SamplesPerBlock)
	for c := 0; c < e.header.Channels; c++ {
		encodeRun(&e.state[c], e.pending[c], e.block[c*n:(c+1)*n])
	}
	e.n = 0
	_, err := e.w.Write(e.block)
	return err
}

// Close pads and writes a partial last block.
func (e *ADPCMEncoder) Close() error {
	if e.n == 0 {
		return nil
	}
	for c := 0; c < e.header.Channels; c++ {
		last := e.pending[c][e.n-1]
		for i := e.n; i < e.header.SamplesPerBlock; i++ {
			e.pending[c][i] = last
		}
	}
	return e.flush()
}
