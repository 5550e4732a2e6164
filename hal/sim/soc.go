// Package sim is a host-side model of the BCM2835 pieces the PWM sound
// driver touches: DMA engines, the PWM block, the PWM clock, the interrupt
// controller and cached SDRAM.
//
// The model is driven either step by step (Step) from tests or in real time
// (Run) from the host runner. Interrupt handlers run on the goroutine that
// completes a transfer, which plays the role of interrupt context.
package sim

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"sndpwm/bcm2835"
	"sndpwm/dma"
	"sndpwm/hal"
)

// FIFOSink receives the words the DMA engine pushes into the PWM FIFO.
type FIFOSink interface {
	WriteFIFO(words []uint32)
}

// Config controls the simulated SoC.
type Config struct {
	// Sink receives PWM FIFO output. May be nil.
	Sink FIFOSink
	// Record keeps every FIFO word for inspection through Output.
	Record bool
	// Logger traces control block loads when non-nil.
	Logger hal.Logger
}

const numChannels = bcm2835.DMAChannelMax + 1

type channel struct {
	cs, conblk, ti, src, dst, txlen, stride, next, debug uint32

	injectErr bool
}

type pwm struct {
	ctl, sta, dmac, rng1, rng2, dat1, dat2 uint32
}

type clock struct {
	ctl, div uint32
}

// SoC is the simulated system.
type SoC struct {
	cfg Config
	mem *Memory
	irq *IRQController

	mu        sync.Mutex
	ch        [numChannels]channel
	intStatus uint32
	enable    uint32
	pwm       pwm
	clk       clock
	output    []uint32
	other     map[uint32]uint32
	transfers uint64

	wake chan struct{}
}

// New returns a reset SoC.
func New(cfg Config) *SoC {
	return &SoC{
		cfg:   cfg,
		mem:   NewMemory(),
		irq:   newIRQController(),
		other: make(map[uint32]uint32),
		wake:  make(chan struct{}, 1),
	}
}

// Memory returns the simulated SDRAM; it is also the hal.Cache and
// hal.Allocator.
func (s *SoC) Memory() *Memory { return s.mem }

// IRQ returns the interrupt controller.
func (s *SoC) IRQ() *IRQController { return s.irq }

func (s *SoC) logf(format string, args ...any) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.WriteLineString(fmt.Sprintf(format, args...))
	}
}

// Read32 implements hal.Bus.
func (s *SoC) Read32(addr uint32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n, off, ok := bcm2835.DMAChannelOf(addr); ok && n < numChannels {
		c := &s.ch[n]
		switch off {
		case bcm2835.DMARegCS:
			return c.cs
		case bcm2835.DMARegConblkAd:
			return c.conblk
		case bcm2835.DMARegTI:
			return c.ti
		case bcm2835.DMARegSourceAd:
			return c.src
		case bcm2835.DMARegDestAd:
			return c.dst
		case bcm2835.DMARegTxfrLen:
			return c.txlen
		case bcm2835.DMARegStride:
			return c.stride
		case bcm2835.DMARegNextConbk:
			return c.next
		case bcm2835.DMARegDebug:
			return c.debug
		}
	}

	switch addr {
	case bcm2835.DMAIntStatus:
		return s.intStatus
	case bcm2835.DMAEnable:
		return s.enable
	case bcm2835.PWMCtl:
		return s.pwm.ctl
	case bcm2835.PWMSta:
		return s.pwm.sta
	case bcm2835.PWMDMAC:
		return s.pwm.dmac
	case bcm2835.PWMRng1:
		return s.pwm.rng1
	case bcm2835.PWMRng2:
		return s.pwm.rng2
	case bcm2835.PWMDat1:
		return s.pwm.dat1
	case bcm2835.PWMDat2:
		return s.pwm.dat2
	case bcm2835.CMPWMCtl:
		return s.clk.ctl
	case bcm2835.CMPWMDiv:
		return s.clk.div
	}
	return s.other[addr]
}

// Write32 implements hal.Bus.
func (s *SoC) Write32(addr uint32, v uint32) {
	var fifo []uint32

	s.mu.Lock()
	if n, off, ok := bcm2835.DMAChannelOf(addr); ok && n < numChannels {
		s.writeChannel(n, off, v)
		s.mu.Unlock()
		return
	}

	switch addr {
	case bcm2835.DMAIntStatus:
		s.intStatus &^= v
	case bcm2835.DMAEnable:
		s.enable = v
	case bcm2835.PWMCtl:
		if v&bcm2835.PWMCtlCLRF1 != 0 {
			s.pwm.sta |= bcm2835.PWMStaEmpty1
		}
		s.pwm.ctl = v &^ bcm2835.PWMCtlCLRF1
	case bcm2835.PWMSta:
		s.pwm.sta &^= v & bcm2835.PWMStaBerr
	case bcm2835.PWMDMAC:
		s.pwm.dmac = v
	case bcm2835.PWMRng1:
		s.pwm.rng1 = v
	case bcm2835.PWMRng2:
		s.pwm.rng2 = v
	case bcm2835.PWMDat1:
		s.pwm.dat1 = v
	case bcm2835.PWMDat2:
		s.pwm.dat2 = v
	case bcm2835.PWMFif1:
		fifo = []uint32{v}
		s.record(fifo)
	case bcm2835.CMPWMCtl:
		if v&0xFF000000 != bcm2835.CMPassword {
			break
		}
		ctl := v & 0xFFFF
		if ctl&bcm2835.CMCtlEnable != 0 {
			ctl |= bcm2835.CMCtlBusy
		}
		s.clk.ctl = ctl
	case bcm2835.CMPWMDiv:
		if v&0xFF000000 == bcm2835.CMPassword {
			s.clk.div = v & 0xFFFFFF
		}
	default:
		s.other[addr] = v
	}
	sink := s.cfg.Sink
	s.mu.Unlock()

	if fifo != nil && sink != nil {
		sink.WriteFIFO(fifo)
	}
}

const csWritable = bcm2835.CSDisableDebug | bcm2835.CSWaitForOutstandingWrites |
	0xF<<bcm2835.CSPanicPriorityShift | 0xF<<bcm2835.CSPriorityShift

func (s *SoC) writeChannel(n, off, v uint32) {
	c := &s.ch[n]
	switch off {
	case bcm2835.DMARegCS:
		if v&bcm2835.CSReset != 0 {
			*c = channel{}
			s.intStatus &^= 1 << n
			return
		}
		c.cs &^= v & (bcm2835.CSInt | bcm2835.CSEnd)
		c.cs = c.cs&^csWritable | v&csWritable
		if v&bcm2835.CSAbort != 0 {
			c.next = 0
		}
		switch {
		case v&bcm2835.CSActive != 0 && c.cs&bcm2835.CSActive == 0:
			if c.conblk == 0 {
				return
			}
			if err := s.load(n, c.conblk); err != nil {
				c.cs |= bcm2835.CSError
				s.logf("sim: dma%d: %v", n, err)
				return
			}
			c.cs |= bcm2835.CSActive
			s.kick()
		case v&bcm2835.CSActive == 0:
			c.cs &^= bcm2835.CSActive
		}
	case bcm2835.DMARegConblkAd:
		c.conblk = v
	case bcm2835.DMARegNextConbk:
		c.next = v
	case bcm2835.DMARegDebug:
		c.debug &^= v & 0x7
	}
}

// load fetches the control block at bus address cb into channel n.
func (s *SoC) load(n, cb uint32) error {
	b, err := s.mem.read(bcm2835.PhysAddress(cb), dma.ControlBlockSize)
	if err != nil {
		return err
	}
	block := dma.DecodeControlBlock(b)
	c := &s.ch[n]
	c.conblk = cb
	c.ti = block.TransferInfo
	c.src = block.SourceAddr
	c.dst = block.DestAddr
	c.txlen = block.TransferLen
	c.stride = block.Stride
	c.next = block.NextBlock
	s.logf("sim: dma%d: load %08x %s", n, cb, block)
	return nil
}

func (s *SoC) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *SoC) record(words []uint32) {
	if s.cfg.Record {
		s.output = append(s.output, words...)
	}
}

// InjectError makes the next transfer on channel n fail with CS.ERROR.
func (s *SoC) InjectError(n uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ch[n].injectErr = true
}

// RaiseInterrupt flags a completion on channel n without a transfer and
// raises its interrupt line.
func (s *SoC) RaiseInterrupt(n uint32) {
	s.mu.Lock()
	s.ch[n].cs |= bcm2835.CSInt | bcm2835.CSEnd
	s.intStatus |= 1 << n
	s.mu.Unlock()
	s.irq.raise(bcm2835.IRQForDMAChannel(n))
}

// Step completes the in-flight control block of the first active, enabled
// channel, then raises its interrupt. It returns false when no channel could
// make progress.
func (s *SoC) Step() bool {
	s.mu.Lock()
	n, ok := s.runnable()
	if !ok {
		s.mu.Unlock()
		return false
	}
	c := &s.ch[n]
	words, err := s.transfer(c)
	switch {
	case err != nil:
		c.cs |= bcm2835.CSError | bcm2835.CSInt
		c.cs &^= bcm2835.CSActive
		s.intStatus |= 1 << n
		s.logf("sim: dma%d: %v", n, err)
	default:
		s.record(words)
		s.transfers++
		c.cs |= bcm2835.CSEnd
		if c.ti&bcm2835.TIIntEnable != 0 {
			c.cs |= bcm2835.CSInt
			s.intStatus |= 1 << n
		}
		if c.next != 0 {
			if lerr := s.load(n, c.next); lerr != nil {
				c.cs |= bcm2835.CSError
				c.cs &^= bcm2835.CSActive
				s.logf("sim: dma%d: %v", n, lerr)
			}
		} else {
			c.conblk = 0
			c.cs &^= bcm2835.CSActive
		}
	}
	raise := c.cs&bcm2835.CSInt != 0
	sink := s.cfg.Sink
	s.mu.Unlock()

	if len(words) > 0 && sink != nil {
		sink.WriteFIFO(words)
	}
	if raise {
		s.irq.raise(bcm2835.IRQForDMAChannel(n))
	}
	return true
}

func (s *SoC) runnable() (uint32, bool) {
	for n := uint32(0); n < numChannels; n++ {
		c := &s.ch[n]
		if c.cs&bcm2835.CSActive == 0 || s.enable&(1<<n) == 0 {
			continue
		}
		if c.ti&bcm2835.TIDestDREQ != 0 && s.pwm.dmac&bcm2835.PWMDMACEnable == 0 {
			// Paced on a DREQ nobody raises.
			continue
		}
		return n, true
	}
	return 0, false
}

func (s *SoC) transfer(c *channel) ([]uint32, error) {
	if c.injectErr {
		c.injectErr = false
		return nil, fmt.Errorf("injected error")
	}
	if bcm2835.IOPhysAddress(c.dst) != bcm2835.PWMFif1 {
		return nil, fmt.Errorf("unsupported destination %08x", c.dst)
	}
	if c.txlen == 0 || c.txlen%4 != 0 {
		return nil, fmt.Errorf("bad transfer length %d", c.txlen)
	}
	b, err := s.mem.read(bcm2835.PhysAddress(c.src), int(c.txlen))
	if err != nil {
		return nil, err
	}
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(b[4*i:])
	}
	return words, nil
}

// Output returns a copy of every recorded FIFO word.
func (s *SoC) Output() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint32(nil), s.output...)
}

// Transfers counts completed control blocks.
func (s *SoC) Transfers() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transfers
}

// SampleRate derives the PWM sample rate from the clock and range registers.
func (s *SoC) SampleRate() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	div := s.clk.div >> bcm2835.CMDivIShift
	if div == 0 || s.pwm.rng1 == 0 || s.clk.ctl&bcm2835.CMCtlEnable == 0 {
		return 0
	}
	return bcm2835.PLLDFreq / div / s.pwm.rng1
}

// Run completes transfers in real time until ctx is done: each control
// block takes as long as its samples would take to play.
func (s *SoC) Run(ctx context.Context) {
	done := ctx.Done()
	next := time.Now()
	for {
		s.mu.Lock()
		n, ok := s.runnable()
		var words uint32
		if ok {
			words = s.ch[n].txlen / 4
		}
		s.mu.Unlock()

		if !ok {
			select {
			case <-done:
				return
			case <-s.wake:
			case <-time.After(10 * time.Millisecond):
			}
			next = time.Now()
			continue
		}

		if rate := s.SampleRate(); rate > 0 {
			next = next.Add(time.Duration(words/2) * time.Second / time.Duration(rate))
			if d := time.Until(next); d > 0 {
				select {
				case <-done:
					return
				case <-time.After(d):
				}
			}
		}
		s.Step()
	}
}

// HAL returns a hal.HAL backed by the simulation.
func (s *SoC) HAL(logger hal.Logger) hal.HAL {
	return &simHAL{soc: s, logger: logger, clk: hal.NewPWMClock(s, nil)}
}

type simHAL struct {
	soc    *SoC
	logger hal.Logger
	clk    hal.PWMClock
}

func (h *simHAL) Logger() hal.Logger           { return h.logger }
func (h *simHAL) Bus() hal.Bus                 { return h.soc }
func (h *simHAL) Cache() hal.Cache             { return h.soc.mem }
func (h *simHAL) DMA() hal.Allocator           { return h.soc.mem }
func (h *simHAL) IRQ() hal.InterruptController { return h.soc.irq }
func (h *simHAL) PWMClock() hal.PWMClock       { return h.clk }
