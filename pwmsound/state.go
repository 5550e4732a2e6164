package pwmsound

import (
	"fmt"

	"sndpwm/kernel"
)

// State is the playback lifecycle.
type State uint32

const (
	// StateIdle is the initial state and the only one Start accepts.
	StateIdle State = iota
	StateRunning
	// StateCancelled waits for the next completion to stop the chain.
	StateCancelled
	// StateTerminating waits for the final completion.
	StateTerminating
	// StateError is terminal until Init.
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCancelled:
		return "cancelled"
	case StateTerminating:
		return "terminating"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", uint32(s))
	}
}

// Event kinds posted from interrupt context. A and B carry kind-specific
// values.
const (
	// EventStarted: A = words in the first buffer.
	EventStarted uint8 = iota + 1
	// EventRefill: A = slot, B = words.
	EventRefill
	// EventTerminating: A = slot whose next pointer was cleared.
	EventTerminating
	EventIdle
	// EventError: A = channel CS register.
	EventError
)

// EventName returns a short label for an event kind.
func EventName(kind uint8) string {
	switch kind {
	case EventStarted:
		return "started"
	case EventRefill:
		return "refill"
	case EventTerminating:
		return "terminating"
	case EventIdle:
		return "idle"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("event(%d)", kind)
	}
}

// FormatEvent renders an event as a log line.
func FormatEvent(ev kernel.Event) string {
	switch ev.Kind {
	case EventStarted:
		return fmt.Sprintf("sndpwm: #%d started (%d words)", ev.Seq, ev.A)
	case EventRefill:
		return fmt.Sprintf("sndpwm: #%d refill slot %d (%d words)", ev.Seq, ev.A, ev.B)
	case EventTerminating:
		return fmt.Sprintf("sndpwm: #%d terminating after slot %d", ev.Seq, ev.A)
	case EventError:
		return fmt.Sprintf("sndpwm: #%d dma error cs=%08x", ev.Seq, ev.A)
	default:
		return fmt.Sprintf("sndpwm: #%d %s", ev.Seq, EventName(ev.Kind))
	}
}

// Stats are running counters.
type Stats struct {
	Interrupts    uint64
	Refills       uint64
	Words         uint64
	Errors        uint64
	DroppedEvents uint32
}
