package hal

import "errors"

// Logger writes newline-delimited log lines.
type Logger interface {
	WriteLineString(s string)
	WriteLineBytes(b []byte)
}

var ErrNotImplemented = errors.New("not implemented")

// Bus is volatile 32-bit access to the peripheral register window.
//
// Addresses are ARM physical addresses (see package bcm2835).
type Bus interface {
	Read32(addr uint32) uint32
	Write32(addr uint32, v uint32)
}

// Cache is the data-cache maintenance contract for memory shared with DMA.
//
// CleanAndInvalidate must be called after the CPU writes a range and before
// a bus master may read it.
type Cache interface {
	CleanAndInvalidate(addr uint32, n int)
}

// Mem is a physically contiguous region usable by the DMA controller.
type Mem interface {
	Buf() []byte
	// PhysAddr is the ARM physical address of Buf()[0].
	PhysAddr() uint32
	Close() error
}

// Allocator hands out DMA-capable memory.
type Allocator interface {
	// Alloc returns size bytes aligned to align (a power of two).
	Alloc(size, align int) (Mem, error)
}

// IRQHandler is invoked in interrupt context.
//
// It must not block.
type IRQHandler interface {
	HandleIRQ(irq int)
}

// InterruptController routes peripheral interrupt lines to handlers.
type InterruptController interface {
	Connect(irq int, h IRQHandler) error
	Disconnect(irq int)
}

// PWMClock is the clock manager feeding the PWM peripheral.
type PWMClock interface {
	// Start runs the PWM clock from PLLD divided by divider.
	Start(divider uint32) error
	Stop() error
}

// HAL provides the only contact point between the driver and the SoC.
type HAL interface {
	Logger() Logger
	Bus() Bus
	Cache() Cache
	DMA() Allocator
	IRQ() InterruptController
	PWMClock() PWMClock
}
