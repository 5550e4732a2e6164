package dma

import (
	"fmt"

	"sndpwm/bcm2835"
	"sndpwm/hal"
)

// Owner records which side may touch a slot.
type Owner uint8

const (
	// OwnerCPU slots may be filled and rewritten.
	OwnerCPU Owner = iota
	// OwnerDMA slots are reachable from the hardware chain.
	OwnerDMA
)

func (o Owner) String() string {
	switch o {
	case OwnerCPU:
		return "cpu"
	case OwnerDMA:
		return "dma"
	default:
		return fmt.Sprintf("owner(%d)", uint8(o))
	}
}

type slot struct {
	buf   hal.Mem
	words []uint32
	cb    hal.Mem
	owner Owner
}

// Pair is the two sample buffers and their control blocks.
//
// A slot belongs to the CPU until Arm, then to the DMA engine until
// Complete. Filling a DMA-owned slot is a programming error and panics.
type Pair struct {
	alloc hal.Allocator
	cache hal.Cache
	chunk int
	dest  uint32
	slots [2]slot
}

// NewPair prepares a pair of chunk-word buffers. Nothing is allocated until
// Setup.
func NewPair(alloc hal.Allocator, cache hal.Cache, chunk int) *Pair {
	return &Pair{
		alloc: alloc,
		cache: cache,
		chunk: chunk,
		dest:  bcm2835.IOBusAddress(bcm2835.PWMFif1),
	}
}

// Chunk returns the buffer capacity in words.
func (p *Pair) Chunk() int { return p.chunk }

// Ready reports whether both slots are set up.
func (p *Pair) Ready() bool { return p.slots[0].cb != nil && p.slots[1].cb != nil }

func (p *Pair) slot(id int) *slot {
	if id != 0 && id != 1 {
		panic(fmt.Sprintf("dma: slot %d out of range", id))
	}
	s := &p.slots[id]
	if s.cb == nil {
		panic(fmt.Sprintf("dma: slot %d used before setup", id))
	}
	return s
}

// Setup allocates slot id and installs the fixed control block fields.
func (p *Pair) Setup(id int) error {
	if id != 0 && id != 1 {
		panic(fmt.Sprintf("dma: slot %d out of range", id))
	}
	buf, err := p.alloc.Alloc(p.chunk*4, 4)
	if err != nil {
		return fmt.Errorf("dma: alloc buffer %d: %w", id, err)
	}
	cb, err := p.alloc.Alloc(ControlBlockSize, ControlBlockSize)
	if err != nil {
		_ = buf.Close()
		return fmt.Errorf("dma: alloc control block %d: %w", id, err)
	}

	s := &p.slots[id]
	s.buf = buf
	s.words = hal.Words(buf)
	s.cb = cb
	s.owner = OwnerCPU

	block := ControlBlock{
		TransferInfo: PWMTransferInfo(),
		SourceAddr:   bcm2835.BusAddress(buf.PhysAddr()),
		DestAddr:     p.dest,
	}
	block.Encode(cb.Buf())
	hal.Flush(p.cache, cb, ControlBlockSize)
	return nil
}

// Link chains the two control blocks into a ring.
func (p *Pair) Link() {
	a, b := p.slot(0), p.slot(1)
	p.setNext(a, bcm2835.BusAddress(b.cb.PhysAddr()))
	p.setNext(b, bcm2835.BusAddress(a.cb.PhysAddr()))
}

// Terminate clears the next pointer of slot id, ending the chain after it.
func (p *Pair) Terminate(id int) {
	p.setNext(p.slot(id), 0)
}

func (p *Pair) setNext(s *slot, next uint32) {
	block := DecodeControlBlock(s.cb.Buf())
	block.NextBlock = next
	block.Encode(s.cb.Buf())
	hal.Flush(p.cache, s.cb, ControlBlockSize)
}

// Words returns the buffer of a CPU-owned slot for filling.
func (p *Pair) Words(id int) []uint32 {
	s := p.slot(id)
	if s.owner != OwnerCPU {
		panic(fmt.Sprintf("dma: slot %d is owned by %s", id, s.owner))
	}
	return s.words
}

// Commit publishes n filled words of slot id: it sets the transfer length
// and flushes buffer and control block so the engine sees them.
func (p *Pair) Commit(id, n int) {
	s := p.slot(id)
	if s.owner != OwnerCPU {
		panic(fmt.Sprintf("dma: commit of slot %d owned by %s", id, s.owner))
	}
	if n <= 0 || n > len(s.words) {
		panic(fmt.Sprintf("dma: commit of %d words into slot %d of %d", n, id, len(s.words)))
	}
	length := uint32(n * 4)

	block := DecodeControlBlock(s.cb.Buf())
	block.TransferLen = length
	block.Encode(s.cb.Buf())

	hal.Flush(p.cache, s.buf, int(length))
	hal.Flush(p.cache, s.cb, ControlBlockSize)
}

// Arm hands slot id to the DMA engine.
func (p *Pair) Arm(id int) {
	s := p.slot(id)
	if s.owner != OwnerCPU {
		panic(fmt.Sprintf("dma: slot %d armed twice", id))
	}
	s.owner = OwnerDMA
}

// Complete returns slot id to the CPU after its completion interrupt.
func (p *Pair) Complete(id int) {
	p.slot(id).owner = OwnerCPU
}

// Reclaim returns every slot to the CPU. Only valid once the engine is idle.
func (p *Pair) Reclaim() {
	for i := range p.slots {
		p.slots[i].owner = OwnerCPU
	}
}

// Owner reports who holds slot id.
func (p *Pair) Owner(id int) Owner { return p.slot(id).owner }

// ControlBlock decodes the CPU view of slot id's control block.
func (p *Pair) ControlBlock(id int) ControlBlock {
	return DecodeControlBlock(p.slot(id).cb.Buf())
}

// ControlBlockBus returns the bus address of slot id's control block.
func (p *Pair) ControlBlockBus(id int) uint32 {
	return bcm2835.BusAddress(p.slot(id).cb.PhysAddr())
}

// Close releases the DMA memory.
func (p *Pair) Close() error {
	var first error
	for i := range p.slots {
		s := &p.slots[i]
		for _, m := range []hal.Mem{s.buf, s.cb} {
			if m == nil {
				continue
			}
			if err := m.Close(); err != nil && first == nil {
				first = err
			}
		}
		*s = slot{}
	}
	return first
}
