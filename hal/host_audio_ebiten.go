//go:build !tinygo && cgo

package hal

import (
	"fmt"
	"time"

	"github.com/hajimehoshi/ebiten/v2/audio"
)

type ebitenSink struct {
	*pcmRing
	player *audio.Player
}

// NewEbitenSink plays FIFO output through Ebiten's audio package. Ebiten
// allows one audio context per process, so every sink must share its rate.
func NewEbitenSink(sampleRate int) (AudioSink, error) {
	ctx := audio.CurrentContext()
	if ctx == nil {
		ctx = audio.NewContext(sampleRate)
	} else if ctx.SampleRate() != sampleRate {
		return nil, fmt.Errorf("ebiten audio: context runs at %d Hz, not %d", ctx.SampleRate(), sampleRate)
	}

	ring := newPCMRing(sampleRate)
	p, err := ctx.NewPlayer(ring)
	if err != nil {
		return nil, err
	}
	p.SetBufferSize(100 * time.Millisecond)
	p.Play()
	return &ebitenSink{pcmRing: ring, player: p}, nil
}

func (s *ebitenSink) Close() error {
	_ = s.pcmRing.Close()
	return s.player.Close()
}
