// Package pwmsound plays PCM through the BCM2835 PWM block using a pair of
// chained DMA control blocks refilled from the DMA completion interrupt.
package pwmsound

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"sndpwm/bcm2835"
	"sndpwm/dma"
	"sndpwm/hal"
	"sndpwm/kernel"
	"sndpwm/pcm"
)

const (
	DefaultSampleRate = 44100
	DefaultChunkSize  = 2048

	// DefaultClockDivider divides PLLD down to the PWM clock.
	DefaultClockDivider = 2

	minRange = 1 << 8
	maxRange = 1 << 16

	resetPolls = 100000
)

var (
	ErrNoData    = errors.New("pwmsound: source has no data")
	ErrRange     = errors.New("pwmsound: PWM range out of bounds")
	ErrChunkSize = errors.New("pwmsound: invalid chunk size")
	ErrBusy      = errors.New("pwmsound: device is active")
)

// Config selects the output format and DMA resources.
type Config struct {
	SampleRate uint32
	// ChunkSize is the buffer size in words, two words per sample.
	ChunkSize int
	// Channel is an engine index or a dma.ChannelNormal / dma.ChannelLite
	// request. The zero value is DMA channel 0.
	Channel dma.Channel

	// ClockFreq and ClockDivider describe the PWM clock; zero means PLLD / 2.
	ClockFreq    uint32
	ClockDivider uint32

	// Sleep implements the settle delays of the init sequence. Nil sleeps
	// with time.Sleep.
	Sleep func(time.Duration)
}

// DefaultConfig plays 44.1 kHz in 2048-word buffers on any lite channel.
func DefaultConfig() Config {
	return Config{
		SampleRate: DefaultSampleRate,
		ChunkSize:  DefaultChunkSize,
		Channel:    dma.ChannelLite,
	}
}

func (c Config) withDefaults() Config {
	if c.SampleRate == 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.ClockFreq == 0 {
		c.ClockFreq = bcm2835.PLLDFreq
	}
	if c.ClockDivider == 0 {
		c.ClockDivider = DefaultClockDivider
	}
	if c.Sleep == nil {
		c.Sleep = time.Sleep
	}
	return c
}

// Range returns the PWM range for a sample rate, rounded to nearest.
func Range(clockFreq, divider, sampleRate uint32) uint32 {
	return (clockFreq/divider + sampleRate/2) / sampleRate
}

// Device is one PWM sound output.
type Device struct {
	h     hal.HAL
	bus   hal.Bus
	log   hal.Logger
	cfg   Config
	rng   uint32
	ch    uint32
	irq   int
	pair  *dma.Pair
	src   pcm.Source
	ready bool

	irqConnected bool

	// lock guards read-modify-write of state and cursor. state is also
	// read without the lock by IsActive.
	lock   kernel.SpinLock
	state  atomic.Uint32
	cursor int

	events kernel.Mailbox

	interrupts atomic.Uint64
	refills    atomic.Uint64
	words      atomic.Uint64
	errors     atomic.Uint64
}

type nopLogger struct{}

func (nopLogger) WriteLineString(string) {}
func (nopLogger) WriteLineBytes([]byte)  {}

// New validates cfg and returns an uninitialised device playing src.
func New(h hal.HAL, src pcm.Source, cfg Config) (*Device, error) {
	cfg = cfg.withDefaults()

	ch, err := dma.Allocate(cfg.Channel)
	if err != nil {
		return nil, err
	}
	if cfg.ChunkSize <= 0 || cfg.ChunkSize&1 != 0 {
		return nil, fmt.Errorf("%w: %d words is not even and positive", ErrChunkSize, cfg.ChunkSize)
	}
	if max := dma.MaxTransferLen(ch); uint64(cfg.ChunkSize)*4 > uint64(max) {
		return nil, fmt.Errorf("%w: %d words exceeds %d bytes on dma%d", ErrChunkSize, cfg.ChunkSize, max, ch)
	}
	rng := Range(cfg.ClockFreq, cfg.ClockDivider, cfg.SampleRate)
	if rng < minRange || rng >= maxRange {
		return nil, fmt.Errorf("%w: %d at %d Hz", ErrRange, rng, cfg.SampleRate)
	}

	log := h.Logger()
	if log == nil {
		log = nopLogger{}
	}
	return &Device{
		h:    h,
		bus:  h.Bus(),
		log:  log,
		cfg:  cfg,
		rng:  rng,
		ch:   ch,
		irq:  bcm2835.IRQForDMAChannel(ch),
		pair: dma.NewPair(h.DMA(), h.Cache(), cfg.ChunkSize),
		src:  src,
	}, nil
}

func (d *Device) RangeMin() uint32 { return 0 }
func (d *Device) RangeMax() uint32 { return d.rng - 1 }

// Range is the same as RangeMax.
func (d *Device) Range() uint32 { return d.RangeMax() }

// Channel returns the DMA engine in use.
func (d *Device) Channel() uint32 { return d.ch }

// ChunkSize returns the buffer size in words.
func (d *Device) ChunkSize() int { return d.cfg.ChunkSize }

// SampleRate returns the configured sample rate.
func (d *Device) SampleRate() uint32 { return d.cfg.SampleRate }

// Pair exposes the buffers for inspection.
func (d *Device) Pair() *dma.Pair { return d.pair }

// SetSource replaces the sample source. The device must be idle.
func (d *Device) SetSource(src pcm.Source) error {
	if d.IsActive() {
		return ErrBusy
	}
	d.src = src
	return nil
}

// Init allocates the buffers, starts the PWM block and resets the DMA
// channel. It also recovers a device left in StateError.
func (d *Device) Init() error {
	switch d.State() {
	case StateIdle, StateError:
	default:
		return ErrBusy
	}

	for id := 0; id < 2 && !d.pair.Ready(); id++ {
		if err := d.pair.Setup(id); err != nil {
			return fmt.Errorf("pwmsound: init: %w", err)
		}
	}
	d.pair.Reclaim()
	d.pair.Link()

	if err := d.runPWM(); err != nil {
		return fmt.Errorf("pwmsound: init: %w", err)
	}

	d.bus.Write32(bcm2835.DMAEnable, d.bus.Read32(bcm2835.DMAEnable)|1<<d.ch)
	d.cfg.Sleep(time.Millisecond)

	d.bus.Write32(bcm2835.DMAChannelCS(d.ch), bcm2835.CSReset)
	reset := false
	for i := 0; i < resetPolls; i++ {
		if d.bus.Read32(bcm2835.DMAChannelCS(d.ch))&bcm2835.CSReset == 0 {
			reset = true
			break
		}
	}
	if !reset {
		return fmt.Errorf("pwmsound: init: dma%d stuck in reset", d.ch)
	}

	d.state.Store(uint32(StateIdle))
	d.ready = true
	d.log.WriteLineString(fmt.Sprintf("sndpwm: dma%d irq %d range %d chunk %d rate %d",
		d.ch, d.irq, d.rng, d.cfg.ChunkSize, d.cfg.SampleRate))
	return nil
}

func (d *Device) runPWM() error {
	if err := d.h.PWMClock().Start(d.cfg.ClockDivider); err != nil {
		return err
	}
	d.cfg.Sleep(2 * time.Millisecond)

	d.bus.Write32(bcm2835.PWMRng1, d.rng)
	d.bus.Write32(bcm2835.PWMRng2, d.rng)
	d.bus.Write32(bcm2835.PWMCtl, bcm2835.PWMCtlPWEN1|bcm2835.PWMCtlUSEF1|
		bcm2835.PWMCtlPWEN2|bcm2835.PWMCtlUSEF2|
		bcm2835.PWMCtlCLRF1)

	d.cfg.Sleep(2 * time.Millisecond)
	return nil
}

func (d *Device) stopPWM() error {
	d.bus.Write32(bcm2835.PWMDMAC, 0)
	d.bus.Write32(bcm2835.PWMCtl, 0)

	d.cfg.Sleep(2 * time.Millisecond)
	err := d.h.PWMClock().Stop()
	d.cfg.Sleep(2 * time.Millisecond)
	return err
}

// Close stops the PWM block, releases the DMA channel and frees the buffers.
func (d *Device) Close() error {
	if st := d.State(); st != StateIdle && st != StateError {
		return ErrBusy
	}
	err := d.stopPWM()
	d.bus.Write32(bcm2835.DMAEnable, d.bus.Read32(bcm2835.DMAEnable)&^(1<<d.ch))
	if d.irqConnected {
		d.h.IRQ().Disconnect(d.irq)
		d.irqConnected = false
	}
	if cerr := d.pair.Close(); err == nil {
		err = cerr
	}
	d.ready = false
	d.state.Store(uint32(StateIdle))
	return err
}

// Stats returns the running counters.
func (d *Device) Stats() Stats {
	return Stats{
		Interrupts:    d.interrupts.Load(),
		Refills:       d.refills.Load(),
		Words:         d.words.Load(),
		Errors:        d.errors.Load(),
		DroppedEvents: d.events.Dropped(),
	}
}

// DrainEvents passes every queued interrupt event to fn and returns how many
// there were. Call it from mainline code only.
func (d *Device) DrainEvents(fn func(kernel.Event)) int {
	n := 0
	for {
		ev, ok := d.events.TryRecv()
		if !ok {
			return n
		}
		n++
		if fn != nil {
			fn(ev)
		}
	}
}

// LogEvents drains the event queue into the device logger.
func (d *Device) LogEvents() int {
	return d.DrainEvents(func(ev kernel.Event) {
		d.log.WriteLineString(FormatEvent(ev))
	})
}
