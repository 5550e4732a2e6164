//go:build tinygo && baremetal

package kernel

import "runtime/interrupt"

// SpinLock is a non-sleeping lock shared between mainline code and interrupt
// handlers. Critical sections must be short and must not touch registers.
//
// The target is single-core: masking interrupts is the whole lock.
type SpinLock struct {
	_     [0]func() // prevent accidental copying.
	state interrupt.State
	held  bool
}

// Acquire masks interrupts.
func (l *SpinLock) Acquire() {
	st := interrupt.Disable()
	l.state = st
	l.held = true
}

// Release restores the interrupt mask saved by Acquire.
func (l *SpinLock) Release() {
	if !l.held {
		panic("kernel: release of unlocked spinlock")
	}
	l.held = false
	interrupt.Restore(l.state)
}
