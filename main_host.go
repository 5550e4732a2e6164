//go:build !tinygo

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"sndpwm/dma"
	"sndpwm/hal"
	"sndpwm/hal/sim"
	"sndpwm/internal/buildinfo"
	"sndpwm/internal/ui"
	"sndpwm/kernel"
	"sndpwm/pcm"
	"sndpwm/pwmsound"
)

type options struct {
	rate    uint
	chunk   int
	channel uint

	tone    float64
	seconds float64

	pcmPath     string
	pcmChannels int
	pcmBits     int
	wavPath     string
	mp3Path     string
	adpcmPath   string

	audio string
	tui   bool
	trace bool
}

func main() {
	var (
		o       options
		version bool
	)
	flag.UintVar(&o.rate, "rate", 0, "Sample rate in Hz (0 = from the source, else 44100).")
	flag.IntVar(&o.chunk, "chunk", pwmsound.DefaultChunkSize, "Buffer size in words.")
	flag.UintVar(&o.channel, "channel", uint(dma.ChannelLite), "DMA channel 0..12, 16 (normal) or 17 (lite).")
	flag.Float64Var(&o.tone, "tone", 440, "Test tone frequency when no input file is given.")
	flag.Float64Var(&o.seconds, "seconds", 2, "Test tone length.")
	flag.StringVar(&o.pcmPath, "pcm", "", "Raw little-endian PCM input file.")
	flag.IntVar(&o.pcmChannels, "pcm-channels", 2, "Channels in the -pcm file.")
	flag.IntVar(&o.pcmBits, "pcm-bits", 16, "Bits per sample in the -pcm file (8 unsigned, 16 signed).")
	flag.StringVar(&o.wavPath, "wav", "", "PCM WAV input file.")
	flag.StringVar(&o.mp3Path, "mp3", "", "MP3 input file.")
	flag.StringVar(&o.adpcmPath, "adpcm", "", "ADPCM input file written by mkpcm.")
	flag.StringVar(&o.audio, "audio", "ebiten", "Host audio backend: ebiten|oto|none.")
	flag.BoolVar(&o.tui, "tui", false, "Show the terminal status view.")
	flag.BoolVar(&o.trace, "trace", false, "Log every control block the DMA engine loads.")
	flag.BoolVar(&version, "version", false, "Print the build version and exit.")
	flag.Parse()

	if version {
		fmt.Println(buildinfo.String())
		return
	}

	var logger hal.Logger = hal.NewHostLogger(os.Stderr)
	if o.tui {
		logger = hal.NewHostLogger(io.Discard)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, o, logger); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type source struct {
	pcm.Source
	rate   uint32
	closer io.Closer
}

func (s source) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func openSource(o options) (source, error) {
	switch {
	case o.mp3Path != "":
		f, err := os.Open(o.mp3Path)
		if err != nil {
			return source{}, err
		}
		src, rate, err := pcm.OpenMP3(f)
		if err != nil {
			_ = f.Close()
			return source{}, err
		}
		return source{Source: src, rate: uint32(rate), closer: f}, nil

	case o.adpcmPath != "":
		f, err := os.Open(o.adpcmPath)
		if err != nil {
			return source{}, err
		}
		src, err := pcm.NewADPCMSource(bufio.NewReader(f))
		if err != nil {
			_ = f.Close()
			return source{}, err
		}
		return source{Source: src, rate: src.Header().SampleRate, closer: f}, nil

	case o.wavPath != "":
		f, err := os.Open(o.wavPath)
		if err != nil {
			return source{}, err
		}
		src, wi, err := pcm.OpenWAV(f)
		if err != nil {
			_ = f.Close()
			return source{}, err
		}
		return source{Source: src, rate: wi.SampleRate, closer: f}, nil

	case o.pcmPath != "":
		data, err := os.ReadFile(o.pcmPath)
		if err != nil {
			return source{}, err
		}
		src, err := pcm.NewStream(data, pcm.Format{Channels: o.pcmChannels, BitsPerSample: o.pcmBits})
		if err != nil {
			return source{}, err
		}
		return source{Source: src}, nil
	}
	return source{}, nil
}

func openSink(name string, rate uint32) (hal.AudioSink, error) {
	switch name {
	case "ebiten":
		return hal.NewEbitenSink(int(rate))
	case "oto":
		return hal.NewOtoSink(int(rate))
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown audio backend %q", name)
	}
}

// run plays one source through the simulated SoC until it ends, ctx is
// cancelled, or the DMA engine reports an error.
func run(ctx context.Context, o options, logger hal.Logger) error {
	src, err := openSource(o)
	if err != nil {
		return err
	}
	defer src.Close()

	rate := uint32(o.rate)
	if rate == 0 {
		rate = src.rate
	}
	if rate == 0 {
		rate = pwmsound.DefaultSampleRate
	}
	if src.Source == nil {
		src.Source = pcm.NewTone(o.tone, int(rate), int(o.seconds*float64(rate)), 0.5)
	}

	sink, err := openSink(o.audio, rate)
	if errors.Is(err, hal.ErrNotImplemented) {
		logger.WriteLineString(fmt.Sprintf("sndpwm: %s audio unavailable in this build, playing silently", o.audio))
		sink, err = nil, nil
	}
	if err != nil {
		return err
	}

	var cfg sim.Config
	if sink != nil {
		defer sink.Close()
		cfg.Sink = sink
	}
	if o.trace {
		cfg.Logger = logger
	}
	soc := sim.New(cfg)

	dev, err := pwmsound.New(soc.HAL(logger), src, pwmsound.Config{
		SampleRate: rate,
		ChunkSize:  o.chunk,
		Channel:    dma.Channel(o.channel),
	})
	if err != nil {
		return err
	}
	if err := dev.Init(); err != nil {
		return err
	}
	defer dev.Close()

	if err := dev.Start(); err != nil {
		return err
	}

	engine, stopEngine := context.WithCancel(context.Background())
	defer stopEngine()
	go soc.Run(engine)

	if o.tui {
		err = ui.Run(func() ui.StatusMsg { return status(dev) }, dev)
		if err != nil {
			dev.Cancel()
		}
		wait(context.Background(), dev, logger)
	} else {
		err = wait(ctx, dev, logger)
	}
	if err != nil {
		return err
	}
	if dev.State() == pwmsound.StateError {
		return errors.New("dma transfer error")
	}

	st := dev.Stats()
	logger.WriteLineString(fmt.Sprintf("sndpwm: done: %d interrupts, %d words, %d events dropped",
		st.Interrupts, st.Words, st.DroppedEvents))
	return nil
}

// wait drains device events into logger until the device stops. A
// cancelled ctx cancels playback once.
func wait(ctx context.Context, dev *pwmsound.Device, logger hal.Logger) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	done := ctx.Done()
	for {
		dev.LogEvents()
		if st := dev.State(); st == pwmsound.StateIdle || st == pwmsound.StateError {
			return nil
		}
		select {
		case <-done:
			logger.WriteLineString("sndpwm: cancelling")
			dev.Cancel()
			done = nil
		case <-ticker.C:
		}
	}
}

func status(dev *pwmsound.Device) ui.StatusMsg {
	var events []string
	dev.DrainEvents(func(ev kernel.Event) {
		events = append(events, pwmsound.FormatEvent(ev))
	})
	st := dev.Stats()
	state := dev.State()
	return ui.StatusMsg{
		State:      state.String(),
		SampleRate: dev.SampleRate(),
		Channel:    dev.Channel(),
		Range:      dev.Range(),
		Chunk:      dev.ChunkSize(),
		Interrupts: st.Interrupts,
		Refills:    st.Refills,
		Words:      st.Words,
		Errors:     st.Errors,
		Dropped:    st.DroppedEvents,
		Events:     events,
		Done:       state == pwmsound.StateIdle || state == pwmsound.StateError,
	}
}
