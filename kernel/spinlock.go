//go:build !tinygo || !baremetal

package kernel

import (
	"runtime"
	"sync/atomic"
)

// SpinLock is a non-sleeping lock shared between mainline code and interrupt
// handlers. Critical sections must be short and must not touch registers.
//
// On hosts the "interrupt context" is another goroutine, so the lock spins.
type SpinLock struct {
	_      [0]func() // prevent accidental copying.
	locked atomic.Uint32
}

// Acquire takes the lock.
func (l *SpinLock) Acquire() {
	for !l.locked.CompareAndSwap(0, 1) {
		runtime.Gosched()
	}
}

// Release drops the lock.
func (l *SpinLock) Release() {
	if l.locked.Swap(0) == 0 {
		panic("kernel: release of unlocked spinlock")
	}
}
