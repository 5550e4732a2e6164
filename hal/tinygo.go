//go:build tinygo && baremetal

package hal

import (
	"errors"
	"runtime/volatile"
	"unsafe"

	"device/arm"

	"sndpwm/bcm2835"
)

type tinyGoHAL struct {
	logger *uartLogger
	bus    mmioBus
	cache  armCache
	mem    heapAllocator
	ic     *icController
	clk    PWMClock
}

var irqController *icController

var errIRQInUse = errors.New("hal: irq already connected")

// New returns the BCM2835 bare-metal HAL.
//
// UART0 is expected to be set up by the firmware at 115200 8N1. Peripheral
// and SDRAM addresses are identity mapped.
func New() HAL {
	bus := mmioBus{}
	irqController = &icController{bus: bus}
	return &tinyGoHAL{
		logger: &uartLogger{bus: bus},
		bus:    bus,
		ic:     irqController,
		clk:    NewPWMClock(bus, delaySleep),
	}
}

func (h *tinyGoHAL) Logger() Logger           { return h.logger }
func (h *tinyGoHAL) Bus() Bus                 { return h.bus }
func (h *tinyGoHAL) Cache() Cache             { return h.cache }
func (h *tinyGoHAL) DMA() Allocator           { return h.mem }
func (h *tinyGoHAL) IRQ() InterruptController { return h.ic }
func (h *tinyGoHAL) PWMClock() PWMClock       { return h.clk }

type mmioBus struct{}

func reg(addr uint32) *volatile.Register32 {
	return (*volatile.Register32)(unsafe.Pointer(uintptr(addr)))
}

func (mmioBus) Read32(addr uint32) uint32     { return reg(addr).Get() }
func (mmioBus) Write32(addr uint32, v uint32) { reg(addr).Set(v) }

// armCache cleans and invalidates the ARM1176 data cache by address.
type armCache struct{}

const dcacheLine = 32

func (armCache) CleanAndInvalidate(addr uint32, n int) {
	if n <= 0 {
		return
	}
	end := addr + uint32(n)
	for mva := addr &^ (dcacheLine - 1); mva < end; mva += dcacheLine {
		arm.AsmFull("mcr p15, 0, {mva}, c7, c14, 1", map[string]interface{}{"mva": mva})
	}
	// Data synchronisation barrier.
	arm.AsmFull("mcr p15, 0, {zero}, c7, c10, 4", map[string]interface{}{"zero": uint32(0)})
}

// heapAllocator hands out aligned Go memory. Memory is identity mapped, so
// the buffer address is its physical address.
type heapAllocator struct{}

type heapMem struct {
	words []uint32
	buf   []byte
}

func (m *heapMem) Buf() []byte { return m.buf }

func (m *heapMem) PhysAddr() uint32 {
	return uint32(uintptr(unsafe.Pointer(&m.words[0])))
}

func (m *heapMem) Close() error {
	m.words, m.buf = nil, nil
	return nil
}

func (heapAllocator) Alloc(size, align int) (Mem, error) {
	w, err := AlignedWords((size+3)/4, align)
	if err != nil {
		return nil, err
	}
	return &heapMem{words: w, buf: WordBytes(w)[:size]}, nil
}

// icController drives the first bank of the ARM interrupt controller,
// which holds the DMA lines.
type icController struct {
	bus      mmioBus
	handlers [32]IRQHandler
}

func (c *icController) Connect(irq int, h IRQHandler) error {
	if irq < 0 || irq >= len(c.handlers) {
		return ErrNotImplemented
	}
	if c.handlers[irq] != nil && c.handlers[irq] != h {
		return errIRQInUse
	}
	c.handlers[irq] = h
	c.bus.Write32(bcm2835.ICEnable1, 1<<uint(irq))
	arm.Asm("cpsie i")
	return nil
}

func (c *icController) Disconnect(irq int) {
	if irq < 0 || irq >= len(c.handlers) {
		return
	}
	c.bus.Write32(bcm2835.ICDisable1, 1<<uint(irq))
	c.handlers[irq] = nil
}

func (c *icController) dispatch() {
	pending := c.bus.Read32(bcm2835.ICPending1)
	for irq := 0; pending != 0 && irq < len(c.handlers); irq++ {
		if pending&(1<<uint(irq)) == 0 {
			continue
		}
		pending &^= 1 << uint(irq)
		if h := c.handlers[irq]; h != nil {
			h.HandleIRQ(irq)
		}
	}
}

// DispatchIRQ is called from the IRQ exception vector.
//
//export sndpwm_irq
func DispatchIRQ() {
	if irqController != nil {
		irqController.dispatch()
	}
}

type uartLogger struct {
	bus mmioBus
}

func (l *uartLogger) writeByte(b byte) {
	for l.bus.Read32(bcm2835.UART0FR)&bcm2835.UARTFRTXFF != 0 {
	}
	l.bus.Write32(bcm2835.UART0DR, uint32(b))
}

func (l *uartLogger) WriteLineString(s string) {
	for i := 0; i < len(s); i++ {
		l.writeByte(s[i])
	}
	l.writeByte('\r')
	l.writeByte('\n')
}

func (l *uartLogger) WriteLineBytes(b []byte) {
	for i := 0; i < len(b); i++ {
		l.writeByte(b[i])
	}
	l.writeByte('\r')
	l.writeByte('\n')
}
