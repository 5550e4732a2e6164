package sim

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"

	"sndpwm/hal"
)

// LineSize is the simulated data cache line size.
const LineSize = 32

// memBase is where simulated DMA memory starts in the physical map.
const memBase uint32 = 0x00100000

// Memory models SDRAM behind a write-back data cache.
//
// Every region has a CPU view (Buf) and a RAM image. CPU writes stay in the
// CPU view until CleanAndInvalidate copies the covering lines to RAM. Bus
// masters only ever see RAM, so a missing flush shows up as stale data and
// is counted by StaleReads.
type Memory struct {
	mu      sync.Mutex
	next    uint32
	regions []*region
	stale   atomic.Uint64
	flushes atomic.Uint64
}

// NewMemory returns an empty memory map.
func NewMemory() *Memory {
	return &Memory{next: memBase}
}

type region struct {
	m      *Memory
	phys   uint32
	cpu    []byte
	ram    []byte
	closed bool
}

func (r *region) Buf() []byte      { return r.cpu }
func (r *region) PhysAddr() uint32 { return r.phys }

func (r *region) Close() error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.closed {
		return fmt.Errorf("sim: region %#08x closed twice", r.phys)
	}
	r.closed = true
	return nil
}

// Alloc implements hal.Allocator.
func (m *Memory) Alloc(size, align int) (hal.Mem, error) {
	if size <= 0 {
		return nil, fmt.Errorf("sim: invalid allocation size %d", size)
	}
	if align < 4 || align&(align-1) != 0 {
		return nil, fmt.Errorf("sim: invalid alignment %d", align)
	}
	words, err := hal.AlignedWords((size+3)/4, align)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	phys := (m.next + uint32(align) - 1) &^ uint32(align-1)
	r := &region{
		m:    m,
		phys: phys,
		cpu:  hal.WordBytes(words)[:size],
		ram:  make([]byte, size),
	}
	// Regions never share a cache line.
	m.next = (phys + uint32(size) + LineSize - 1) &^ (LineSize - 1)
	m.regions = append(m.regions, r)
	return r, nil
}

// CleanAndInvalidate implements hal.Cache over whole lines.
func (m *Memory) CleanAndInvalidate(addr uint32, n int) {
	if n <= 0 {
		return
	}
	start := addr &^ (LineSize - 1)
	end := (addr + uint32(n) + LineSize - 1) &^ (LineSize - 1)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes.Add(1)
	for _, r := range m.regions {
		lo, hi := overlap(r, start, end)
		if lo >= hi {
			continue
		}
		copy(r.ram[lo:hi], r.cpu[lo:hi])
	}
}

func overlap(r *region, start, end uint32) (lo, hi uint32) {
	rEnd := r.phys + uint32(len(r.ram))
	if end <= r.phys || start >= rEnd {
		return 0, 0
	}
	if start < r.phys {
		start = r.phys
	}
	if end > rEnd {
		end = rEnd
	}
	return start - r.phys, end - r.phys
}

// read returns a copy of n bytes of RAM at phys as a bus master sees it.
func (m *Memory) read(phys uint32, n int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.regions {
		if phys < r.phys || phys+uint32(n) > r.phys+uint32(len(r.ram)) {
			continue
		}
		if r.closed {
			return nil, fmt.Errorf("sim: bus read of freed memory at %#08x", phys)
		}
		off := phys - r.phys
		if !bytes.Equal(r.ram[off:off+uint32(n)], r.cpu[off:off+uint32(n)]) {
			m.stale.Add(1)
		}
		out := make([]byte, n)
		copy(out, r.ram[off:])
		return out, nil
	}
	return nil, fmt.Errorf("sim: bus read of unmapped memory at %#08x+%d", phys, n)
}

// StaleReads counts bus reads that found RAM differing from the CPU view.
func (m *Memory) StaleReads() uint64 { return m.stale.Load() }

// Flushes counts cache maintenance calls.
func (m *Memory) Flushes() uint64 { return m.flushes.Load() }
