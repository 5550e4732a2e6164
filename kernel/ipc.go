package kernel

import "sync/atomic"

// Event is a fixed-size record posted from interrupt context.
type Event struct {
	Seq  uint32
	Kind uint8
	A    uint32
	B    uint32
}

const mailboxSlots = 64

// Mailbox is a fixed-size single-producer, single-consumer event queue.
// It is designed for interrupt handlers: no allocations, no locks, TrySend
// never blocks.
type Mailbox struct {
	_       [0]func() // prevent accidental copying.
	head    atomic.Uint32
	tail    atomic.Uint32
	seq     atomic.Uint32
	dropped atomic.Uint32
	slots   [mailboxSlots]Event
}

// TrySend attempts to enqueue an event, returning false if the mailbox is
// full. A dropped event is counted.
func (mb *Mailbox) TrySend(kind uint8, a, b uint32) bool {
	head := mb.head.Load()
	tail := mb.tail.Load()
	if head-tail >= mailboxSlots {
		mb.dropped.Add(1)
		return false
	}

	mb.slots[head%mailboxSlots] = Event{Seq: mb.seq.Add(1), Kind: kind, A: a, B: b}
	mb.head.Store(head + 1)
	return true
}

// TryRecv attempts to dequeue one event, returning false if empty.
func (mb *Mailbox) TryRecv() (Event, bool) {
	tail := mb.tail.Load()
	head := mb.head.Load()
	if tail == head {
		return Event{}, false
	}

	ev := mb.slots[tail%mailboxSlots]
	mb.tail.Store(tail + 1)
	return ev, true
}

// Dropped returns how many events were lost to a full mailbox.
func (mb *Mailbox) Dropped() uint32 {
	return mb.dropped.Load()
}
