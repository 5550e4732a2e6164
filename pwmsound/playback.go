package pwmsound

import (
	"fmt"

	"sndpwm/bcm2835"
	"sndpwm/dma"
)

// State returns the current playback state.
func (d *Device) State() State { return State(d.state.Load()) }

// IsActive reports whether the device is anything other than idle.
func (d *Device) IsActive() bool { return d.State() != StateIdle }

// Start fills both buffers and starts the DMA chain.
//
// It returns ErrNoData, leaving the device idle, when the source yields
// nothing. Calling Start on a device that is not idle panics.
//
// Both slots are filled before the channel is activated, so the first
// interrupt always finds the chain complete.
func (d *Device) Start() error {
	if st := d.State(); st != StateIdle {
		panic(fmt.Sprintf("pwmsound: start while %s", st))
	}
	if !d.ready {
		panic("pwmsound: start before init")
	}
	if d.src == nil {
		panic("pwmsound: start without a source")
	}

	d.pair.Reclaim()
	d.pair.Link()

	d.lock.Acquire()
	d.cursor = 0
	d.lock.Release()

	n := d.refill()
	if n == 0 {
		return ErrNoData
	}

	if !d.irqConnected {
		if err := d.h.IRQ().Connect(d.irq, d); err != nil {
			d.pair.Reclaim()
			return fmt.Errorf("pwmsound: irq %d: %w", d.irq, err)
		}
		d.irqConnected = true
	}
	d.state.Store(uint32(StateRunning))
	d.events.TrySend(EventStarted, uint32(n), 0)

	if d.refill() == 0 {
		// Single buffer: the engine loads a zero NEXTCONBK with cb0.
		d.state.Store(uint32(StateTerminating))
		d.pair.Terminate(0)
		d.events.TrySend(EventTerminating, 0, 0)
	}

	csAddr := bcm2835.DMAChannelCS(d.ch)
	if d.bus.Read32(csAddr)&bcm2835.CSInt != 0 {
		panic(fmt.Sprintf("pwmsound: dma%d interrupt pending at start", d.ch))
	}
	if d.bus.Read32(bcm2835.DMAIntStatus)&(1<<d.ch) != 0 {
		panic(fmt.Sprintf("pwmsound: dma%d interrupt status set at start", d.ch))
	}

	d.bus.Write32(bcm2835.PWMDMAC, bcm2835.PWMDMACEnable|
		7<<bcm2835.PWMDMACPanicShift|7<<bcm2835.PWMDMACDREQShift)
	d.bus.Write32(bcm2835.PWMCtl, d.bus.Read32(bcm2835.PWMCtl)&^
		(bcm2835.PWMCtlRPTL1|bcm2835.PWMCtlRPTL2))

	// From here on the interrupt handler owns the mailbox producer side.
	d.bus.Write32(bcm2835.DMAChannelConblkAd(d.ch), d.pair.ControlBlockBus(0))
	d.bus.Write32(csAddr, bcm2835.CSWaitForOutstandingWrites|
		bcm2835.DefaultPanicPriority<<bcm2835.CSPanicPriorityShift|
		bcm2835.DefaultPriority<<bcm2835.CSPriorityShift|
		bcm2835.CSActive)
	return nil
}

// Cancel asks a running playback to stop at the next buffer boundary. It
// does nothing in any other state.
func (d *Device) Cancel() {
	d.lock.Acquire()
	if State(d.state.Load()) == StateRunning {
		d.state.Store(uint32(StateCancelled))
	}
	d.lock.Release()
}

// refill fills the slot under the cursor from the source and hands it to
// the engine. It returns the number of words written, 0 when the source is
// exhausted.
func (d *Device) refill() int {
	d.lock.Acquire()
	id := d.cursor
	d.lock.Release()

	n := d.src.Fill(d.pair.Words(id))
	if n == 0 {
		return 0
	}
	if uint32(n)*4 > dma.MaxTransferLen(d.ch) {
		panic(fmt.Sprintf("pwmsound: %d words exceed dma%d transfer length", n, d.ch))
	}
	d.pair.Commit(id, n)
	d.pair.Arm(id)

	d.lock.Acquire()
	d.cursor ^= 1
	d.lock.Release()

	d.refills.Add(1)
	d.words.Add(uint64(n))
	return n
}

// terminate moves a running or cancelled device to Terminating and clears
// the next pointer of the in-flight control block. It reports whether the
// transition happened.
func (d *Device) terminate() bool {
	d.lock.Acquire()
	st := State(d.state.Load())
	ok := st == StateRunning || st == StateCancelled
	if ok {
		d.state.Store(uint32(StateTerminating))
	}
	playing := d.cursor ^ 1
	d.lock.Release()
	if !ok {
		return false
	}

	d.bus.Write32(bcm2835.DMAChannelNextConbk(d.ch), 0)
	d.pair.Terminate(playing)
	d.events.TrySend(EventTerminating, uint32(playing), 0)
	return true
}

// HandleIRQ services the completion interrupt of the DMA channel. It runs
// in interrupt context: it never blocks, allocates or logs.
func (d *Device) HandleIRQ(int) {
	if d.State() == StateIdle {
		panic(fmt.Sprintf("pwmsound: dma%d interrupt while idle", d.ch))
	}

	mask := uint32(1) << d.ch
	if d.bus.Read32(bcm2835.DMAIntStatus)&mask == 0 {
		panic(fmt.Sprintf("pwmsound: dma%d interrupt without status", d.ch))
	}
	d.bus.Write32(bcm2835.DMAIntStatus, mask)

	csAddr := bcm2835.DMAChannelCS(d.ch)
	cs := d.bus.Read32(csAddr)
	if cs&bcm2835.CSInt == 0 {
		panic(fmt.Sprintf("pwmsound: dma%d interrupt without CS.INT", d.ch))
	}
	d.bus.Write32(csAddr, cs)
	d.interrupts.Add(1)

	if cs&bcm2835.CSError != 0 {
		d.lock.Acquire()
		d.state.Store(uint32(StateError))
		d.lock.Release()
		d.errors.Add(1)
		d.events.TrySend(EventError, cs, 0)
		return
	}

	d.lock.Acquire()
	st := State(d.state.Load())
	cursor := d.cursor
	d.lock.Release()

	switch st {
	case StateRunning:
		d.pair.Complete(cursor)
		if n := d.refill(); n > 0 {
			d.events.TrySend(EventRefill, uint32(cursor), uint32(n))
			return
		}
	case StateCancelled:
		d.pair.Complete(cursor)
	case StateTerminating:
		d.pair.Reclaim()
		d.lock.Acquire()
		if State(d.state.Load()) == StateTerminating {
			d.state.Store(uint32(StateIdle))
		}
		d.lock.Release()
		d.events.TrySend(EventIdle, 0, 0)
		return
	default:
		return
	}

	if d.terminate() {
		// Hold the last sample instead of dropping to zero.
		d.bus.Write32(bcm2835.PWMCtl, d.bus.Read32(bcm2835.PWMCtl)|
			bcm2835.PWMCtlRPTL1|bcm2835.PWMCtlRPTL2)
	}
}
