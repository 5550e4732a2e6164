//go:build tinygo && baremetal

package main

import (
	"fmt"
	"time"

	"sndpwm/dma"
	"sndpwm/hal"
	"sndpwm/internal/buildinfo"
	"sndpwm/pcm"
	"sndpwm/pwmsound"
)

const (
	toneHz      = 440
	toneSeconds = 2
	pause       = time.Second
)

func main() {
	h := hal.New()
	log := h.Logger()
	log.WriteLineString(buildinfo.String())

	dev, err := pwmsound.New(h, nil, pwmsound.Config{Channel: dma.ChannelLite, Sleep: hal.Sleep})
	if err != nil {
		halt(log, err)
	}
	if err := dev.Init(); err != nil {
		halt(log, err)
	}

	rate := int(dev.SampleRate())
	for {
		if err := dev.SetSource(pcm.NewTone(toneHz, rate, toneSeconds*rate, 0.5)); err != nil {
			halt(log, err)
		}
		if err := dev.Start(); err != nil {
			halt(log, err)
		}
		for !stopped(dev.State()) {
			dev.LogEvents()
			hal.Sleep(10 * time.Millisecond)
		}
		dev.LogEvents()

		if dev.State() == pwmsound.StateError {
			log.WriteLineString("sndpwm: dma error, reinitialising")
			if err := dev.Init(); err != nil {
				halt(log, err)
			}
		}
		hal.Sleep(pause)
	}
}

func stopped(st pwmsound.State) bool {
	return st == pwmsound.StateIdle || st == pwmsound.StateError
}

func halt(log hal.Logger, err error) {
	log.WriteLineString(fmt.Sprintf("sndpwm: %v", err))
	for {
		hal.Sleep(time.Second)
	}
}
