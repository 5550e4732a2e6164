//go:build !tinygo && cgo

package hal

import (
	"fmt"

	"github.com/ebitengine/oto/v3"
)

type otoSink struct {
	*pcmRing
	ctx    *oto.Context
	player *oto.Player
}

// NewOtoSink plays FIFO output through oto directly.
func NewOtoSink(sampleRate int) (AudioSink, error) {
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 2,
		Format:       oto.FormatSignedInt16LE,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("oto: %w", err)
	}
	<-ready

	ring := newPCMRing(sampleRate)
	p := ctx.NewPlayer(ring)
	p.Play()
	return &otoSink{pcmRing: ring, ctx: ctx, player: p}, nil
}

func (s *otoSink) Close() error {
	_ = s.pcmRing.Close()
	err := s.player.Close()
	if serr := s.ctx.Suspend(); err == nil {
		err = serr
	}
	return err
}
