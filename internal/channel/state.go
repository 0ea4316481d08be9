// Package channel implements the top-level controller: the per-channel
// state machine and the bring-up/tear-down scripts that drive the
// command channel, the configuration-access lease, and the stream
// engine's workers in the order the protocol requires.
package channel

import "github.com/jgressmann/supercan-go/internal/scerr"

// State is one point in the channel's lifecycle.
type State uint8

const (
	StateClosed State = iota
	StateOpened
	StateConfigured
	StateOnBus
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpened:
		return "OPENED"
	case StateConfigured:
		return "CONFIGURED"
	case StateOnBus:
		return "ON_BUS"
	default:
		return "UNKNOWN"
	}
}

// validTransitions enumerates the edges the state machine allows. A
// device-gone event is handled outside this table: it jumps straight to
// StateClosed from any state.
var validTransitions = map[State][]State{
	StateClosed:     {StateOpened},
	StateOpened:     {StateConfigured, StateClosed},
	StateConfigured: {StateOnBus, StateClosed},
	StateOnBus:      {StateConfigured, StateClosed},
}

// Machine tracks a single channel's lifecycle state.
type Machine struct {
	current State
}

// NewMachine creates a Machine starting in StateClosed.
func NewMachine() *Machine {
	return &Machine{current: StateClosed}
}

// Current returns the current state.
func (m *Machine) Current() State { return m.current }

// Transition moves to next if the edge from the current state is valid,
// otherwise returns a KindInvalidParam error describing the illegal
// transition.
func (m *Machine) Transition(next State) error {
	for _, allowed := range validTransitions[m.current] {
		if allowed == next {
			m.current = next
			return nil
		}
	}
	return scerr.New("channel.transition", scerr.KindInvalidParam, "illegal channel state transition: "+m.current.String()+" -> "+next.String())
}

// Require returns a KindInvalidParam error unless the machine is
// currently in want.
func (m *Machine) Require(want State) error {
	if m.current != want {
		return scerr.New("channel.require_state", scerr.KindInvalidParam, "operation requires "+want.String()+", channel is "+m.current.String())
	}
	return nil
}

// HandleDeviceGone jumps straight to StateClosed regardless of the
// current state, per the unplug behavior the protocol mandates.
func (m *Machine) HandleDeviceGone() {
	m.current = StateClosed
}
