// Package stream implements the CAN data-pipe stream engine: inbound
// message parsing and dispatch, outbound frame encoding and submission,
// echo/TXR pairing, and the bus-state machine driven by CAN_STATUS.
package stream

import "github.com/jgressmann/supercan-go/internal/wire"

// BusState mirrors the device's reported CAN bus status, re-exported here
// so callers outside this package don't need to import wire directly for
// state-machine decisions.
type BusState = wire.BusStatus

const (
	StateErrorActive  = wire.BusErrorActive
	StateErrorWarning = wire.BusErrorWarning
	StateErrorPassive = wire.BusErrorPassive
	StateBusOff       = wire.BusOff
)

// TxRDesync is the CAN_STATUS flags bit that forces an immediate
// transition to BUS_OFF regardless of the reported bus_status, signaling
// that the device's TXR accounting has lost synchronization with the
// host's track-id map.
const TxRDesync uint8 = 1 << 0

// BusStateMachine tracks one channel's bus state, driven exclusively by
// CAN_STATUS reports. Not safe for concurrent use; the stream engine's RX
// worker is the sole writer.
type BusStateMachine struct {
	current BusState
}

// NewBusStateMachine returns a machine starting in ERROR_ACTIVE, the
// state a channel is in immediately after going on-bus.
func NewBusStateMachine() *BusStateMachine {
	return &BusStateMachine{current: StateErrorActive}
}

// Current returns the machine's current state.
func (m *BusStateMachine) Current() BusState { return m.current }

// Apply updates the machine from a CAN_STATUS report, returning the new
// state and whether it changed from the previous one. A set TxRDesync
// flag forces BUS_OFF regardless of the reported status.
func (m *BusStateMachine) Apply(status wire.CANStatus) (BusState, bool) {
	next := status.BusStatus
	if status.Flags&TxRDesync != 0 {
		next = StateBusOff
	}
	changed := next != m.current
	m.current = next
	return next, changed
}

// Reset returns the machine to ERROR_ACTIVE, used when the channel goes
// back on-bus after a bus-off/bus-on cycle.
func (m *BusStateMachine) Reset() {
	m.current = StateErrorActive
}
