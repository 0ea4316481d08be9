package broker

import (
	"sync"

	"github.com/jgressmann/supercan-go/internal/scerr"
	"github.com/jgressmann/supercan-go/internal/stream"
)

// MaxClients bounds the fixed-size client table a single channel's
// broker maintains. A handful of simultaneous attachments (a CLI tool,
// a monitor, a logger) is the expected load; this is not meant to scale
// to many tenants.
const MaxClients = 8

// clientSlot is one entry of the broker's client table.
type clientSlot struct {
	id   ClientID
	ring *Ring
	live bool
	echo stream.EchoMode
}

// ClientTable is the broker's fixed-size table of attached clients, each
// with its own RX-direction ring. Slot indices double as ClientIDs so a
// TXR's track-id can be demultiplexed back to an owning slot in O(1).
type ClientTable struct {
	mu      sync.RWMutex
	slots   [MaxClients]clientSlot
	ringCap int
}

// NewClientTable creates an empty table whose per-client rings are
// created with ringCapacity slots (must be a power of two).
func NewClientTable(ringCapacity int) *ClientTable {
	return &ClientTable{ringCap: ringCapacity}
}

// Add attaches a new client, allocating it a fresh ring, and returns its
// ClientID. Fails with KindDeviceBusy if the table is full.
func (t *ClientTable) Add() (ClientID, *Ring, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.slots {
		if !t.slots[i].live {
			ring, err := NewRing(t.ringCap)
			if err != nil {
				return 0, nil, err
			}
			t.slots[i] = clientSlot{id: ClientID(i), ring: ring, live: true, echo: stream.EchoLate}
			return ClientID(i), ring, nil
		}
	}
	return 0, nil, scerr.New("broker.client_add", scerr.KindDeviceBusy, "client table is full")
}

// Remove detaches a client. Removing an already-detached or unknown
// client is a no-op.
func (t *ClientTable) Remove(id ClientID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(id) < 0 || int(id) >= MaxClients {
		return
	}
	t.slots[id] = clientSlot{}
}

// Ring returns the ring belonging to a live client, or nil if the client
// is unknown or detached.
func (t *ClientTable) Ring(id ClientID) *Ring {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if int(id) < 0 || int(id) >= MaxClients || !t.slots[id].live {
		return nil
	}
	return t.slots[id].ring
}

// SetEchoMode sets id's receive_own_messages opt-in, gating whether (and
// how) a later CAN_TXR for a frame id submitted is echoed back to it. A
// no-op if id is unknown or detached.
func (t *ClientTable) SetEchoMode(id ClientID, mode stream.EchoMode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(id) < 0 || int(id) >= MaxClients || !t.slots[id].live {
		return
	}
	t.slots[id].echo = mode
}

// EchoMode reports id's current receive_own_messages opt-in. ok is false
// if id is unknown or detached.
func (t *ClientTable) EchoMode(id ClientID) (stream.EchoMode, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if int(id) < 0 || int(id) >= MaxClients || !t.slots[id].live {
		return stream.EchoOff, false
	}
	return t.slots[id].echo, true
}

// Live returns the ClientIDs of every currently-attached client, in slot
// order. Used both for RX fan-out and for round-robin TX arbitration.
func (t *ClientTable) Live() []ClientID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var live []ClientID
	for i := range t.slots {
		if t.slots[i].live {
			live = append(live, ClientID(i))
		}
	}
	return live
}

// Count returns the number of currently-attached clients.
func (t *ClientTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for i := range t.slots {
		if t.slots[i].live {
			n++
		}
	}
	return n
}

// SetAllGone marks every attached client's ring as belonging to a
// detached device, used when the USB device is unplugged.
func (t *ClientTable) SetAllGone() {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i := range t.slots {
		if t.slots[i].live {
			t.slots[i].ring.SetGone()
		}
	}
}

// ReconnectAll bumps every attached client's ring generation and clears
// Gone, used when a previously-unplugged device reappears.
func (t *ClientTable) ReconnectAll() {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i := range t.slots {
		if t.slots[i].live {
			t.slots[i].ring.Reconnect()
		}
	}
}
