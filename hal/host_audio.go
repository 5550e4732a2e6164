//go:build !tinygo

package hal

import (
	"io"
	"sync"
)

// AudioSink plays the words leaving the PWM FIFO on the host sound card.
// Words arrive interleaved left, right.
type AudioSink interface {
	WriteFIFO(words []uint32)
	Close() error
}

// PWMSample converts a 12-bit PWM word to a signed 16-bit sample.
func PWMSample(w uint32) int16 {
	return int16((int32(w&0xFFF) - 0x800) << 4)
}

// pcmRing buffers converted samples between the FIFO writer and an audio
// player reading 16-bit little-endian stereo.
type pcmRing struct {
	mu   sync.Mutex
	cond *sync.Cond

	buf []int16
	r   int
	w   int
	n   int

	closed bool
}

func newPCMRing(sampleRate int) *pcmRing {
	size := sampleRate / 5 // ~100ms of stereo.
	if size < 2048 {
		size = 2048
	}
	if size > 16384 {
		size = 16384
	}
	r := &pcmRing{buf: make([]int16, size)}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// WriteFIFO blocks while the ring is full.
func (r *pcmRing) WriteFIFO(words []uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range words {
		for !r.closed && r.n == len(r.buf) {
			r.cond.Wait()
		}
		if r.closed {
			return
		}
		r.buf[r.w] = PWMSample(w)
		r.w++
		if r.w == len(r.buf) {
			r.w = 0
		}
		r.n++
		r.cond.Broadcast()
	}
}

// Read blocks until at least one whole stereo frame is available.
func (r *pcmRing) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for !r.closed && r.n < 2 {
		r.cond.Wait()
	}
	if r.closed {
		return 0, io.EOF
	}
	i := 0
	for ; i+3 < len(p) && r.n >= 2; i += 4 {
		for j := 0; j < 2; j++ {
			s := r.buf[r.r]
			r.r++
			if r.r == len(r.buf) {
				r.r = 0
			}
			r.n--
			p[i+2*j] = byte(s)
			p[i+2*j+1] = byte(s >> 8)
		}
	}
	r.cond.Broadcast()
	return i, nil
}

func (r *pcmRing) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

func (r *pcmRing) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.n, r.r, r.w = 0, 0, 0
	r.cond.Broadcast()
	return nil
}
