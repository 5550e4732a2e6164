package sim

import (
	"fmt"
	"sync"
	"sync/atomic"

	"sndpwm/hal"
)

// IRQController dispatches simulated interrupt lines to handlers.
type IRQController struct {
	mu       sync.Mutex
	handlers map[int]hal.IRQHandler

	raised   atomic.Uint64
	spurious atomic.Uint64
}

func newIRQController() *IRQController {
	return &IRQController{handlers: make(map[int]hal.IRQHandler)}
}

// Connect implements hal.InterruptController.
func (c *IRQController) Connect(irq int, h hal.IRQHandler) error {
	if h == nil {
		return fmt.Errorf("sim: irq %d: nil handler", irq)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.handlers[irq]; ok && old != h {
		return fmt.Errorf("sim: irq %d already connected", irq)
	}
	c.handlers[irq] = h
	return nil
}

// Disconnect implements hal.InterruptController.
func (c *IRQController) Disconnect(irq int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, irq)
}

// Connected reports whether irq has a handler.
func (c *IRQController) Connected(irq int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.handlers[irq]
	return ok
}

func (c *IRQController) raise(irq int) {
	c.raised.Add(1)
	c.mu.Lock()
	h := c.handlers[irq]
	c.mu.Unlock()
	if h == nil {
		c.spurious.Add(1)
		return
	}
	h.HandleIRQ(irq)
}

// Raised counts raised interrupts.
func (c *IRQController) Raised() uint64 { return c.raised.Load() }

// Spurious counts interrupts raised with no handler connected.
func (c *IRQController) Spurious() uint64 { return c.spurious.Load() }
