// Package broker implements the shared-access multiplexer: the per-client
// ring table, RX fan-out, TX arbitration, the configuration-access lease,
// and the notify/acknowledge-barrier protocol used to add or remove a
// client without racing in-flight frames.
package broker

import (
	"context"
	"sync"
	"time"

	"github.com/jgressmann/supercan-go/internal/logging"
	"github.com/jgressmann/supercan-go/internal/stream"
	"github.com/jgressmann/supercan-go/internal/timestamp"
	"github.com/jgressmann/supercan-go/internal/usbtransport"
	"github.com/jgressmann/supercan-go/internal/wire"
)

// DefaultRingCapacity is the per-client ring size used when a caller
// doesn't override it. Must stay a power of two.
const DefaultRingCapacity = 256

// Broker owns one channel's shared state: its client table, the
// configuration-access lease, the track-id pool shared by every
// client's transmits, the TX arbiter that serializes them onto the
// single outbound pipe, and the notifier used to barrier ADD/REMOVE/SET
// across attached clients. It implements stream.Dispatcher so a
// channel's inbound Parser can hand decoded events straight to it.
type Broker struct {
	mu      sync.Mutex
	log     *logging.Logger
	clients *ClientTable
	lease   *Lease
	pool    *usbtransport.TrackPool
	arbiter *TxArbiter
	notify  *Notifier
	bus     *stream.BusStateMachine
	tracker *timestamp.Tracker

	// trackOwner maps a reserved track-id back to the client that
	// submitted it, so a CAN_TXR can be delivered only to its
	// originator rather than broadcast to every client.
	trackOwner map[uint8]ClientID

	// trackPending holds the submitted frame content for a reserved
	// track-id until its CAN_TXR arrives, so the late-echo record
	// delivered to the originating client carries the actual frame
	// rather than just the bare receipt.
	trackPending map[uint8]stream.PendingTx

	// taps are read-only observers of the RX fan-out (CAN_RX/STATUS/
	// ERROR only, never TXR) that do not occupy a client-table slot —
	// used by the control plane's StreamFrames so an inspecting process
	// never competes with the MaxClients budget real clients need.
	taps []*tap
}

// tap is one subscriber registered through Broker.Tap.
type tap struct {
	ch chan Element
}

// New creates a Broker with ringCapacity-sized per-client rings and a
// track-id pool sized for trackSlots concurrent in-flight transmits.
func New(ringCapacity, trackSlots int) *Broker {
	clients := NewClientTable(ringCapacity)
	return &Broker{
		log:          logging.Default().With("broker"),
		clients:      clients,
		lease:        NewLease(0),
		pool:         usbtransport.NewTrackPool(trackSlots),
		arbiter:      NewTxArbiter(clients),
		notify:       NewNotifier(),
		bus:          stream.NewBusStateMachine(),
		tracker:      timestamp.New(),
		trackOwner:   make(map[uint8]ClientID),
		trackPending: make(map[uint8]stream.PendingTx),
	}
}

// Attach adds a new client, barriers a NotifyAdd past every
// already-attached client, and subscribes it to future notifications.
func (b *Broker) Attach(ctx context.Context) (ClientID, *Ring, <-chan Notification, error) {
	id, ring, err := b.clients.Add()
	if err != nil {
		return 0, nil, nil, err
	}
	ch := b.notify.Subscribe(id)
	if err := b.notify.Notify(ctx, Notification{Kind: NotifyAdd, ClientID: id}, id); err != nil {
		b.clients.Remove(id)
		b.notify.Unsubscribe(id)
		return 0, nil, nil, err
	}
	return id, ring, ch, nil
}

// Detach barriers a NotifyRemove past every other attached client, then
// removes id from the table and releases its lease and notification
// subscription.
func (b *Broker) Detach(ctx context.Context, id ClientID) error {
	if err := b.notify.Notify(ctx, Notification{Kind: NotifyRemove, ClientID: id}, id); err != nil {
		b.log.Warn("remove barrier did not complete cleanly", "client", id, "err", err)
	}
	_ = b.lease.Release(id)
	b.arbiter.DropClient(id)
	b.forceReleaseTracks(id)
	b.notify.Unsubscribe(id)
	b.clients.Remove(id)
	return nil
}

// forceReleaseTracks reclaims every track-id still reserved for id: with
// the client gone, no completion bulk-out callback or CAN_TXR for those
// ids will ever arrive to release them through the normal path.
func (b *Broker) forceReleaseTracks(id ClientID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for trackID, owner := range b.trackOwner {
		if owner == id {
			delete(b.trackOwner, trackID)
			delete(b.trackPending, trackID)
			b.pool.ForceRelease(trackID)
		}
	}
}

// SetEchoMode sets id's receive_own_messages opt-in (spec.md §9's
// Off|Submit|Receipt tri-state, modeled as stream.EchoMode), gating
// whether and how id's own transmitted frames are echoed back to it.
func (b *Broker) SetEchoMode(id ClientID, mode stream.EchoMode) {
	b.clients.SetEchoMode(id, mode)
}

// AcquireConfigurationAccess claims the configuration-access lease for
// id, barriering a NotifySet past the other attached clients so they
// observe the pending configuration change before it's applied.
func (b *Broker) AcquireConfigurationAccess(ctx context.Context, id ClientID) error {
	if err := b.lease.Acquire(id, time.Now()); err != nil {
		return err
	}
	return b.notify.Notify(ctx, Notification{Kind: NotifySet, ClientID: id}, id)
}

// ReleaseConfigurationAccess releases id's configuration-access lease,
// if held.
func (b *Broker) ReleaseConfigurationAccess(id ClientID) error {
	return b.lease.Release(id)
}

// CheckConfigurationAccess reports whether id currently holds a
// non-expired configuration-access lease, without claiming or extending
// it. Mutating channel operations (bit-timing, features, bus on/off)
// call this before acting.
func (b *Broker) CheckConfigurationAccess(id ClientID) error {
	return b.lease.Check(id, time.Now())
}

// SetOnBus records the channel's bus on/off state, which governs
// whether the configuration lease may transfer between clients.
func (b *Broker) SetOnBus(onBus bool) {
	b.lease.SetOnBus(onBus)
}

// QueueTx enqueues a transmit request on behalf of id for the next TX
// batch.
func (b *Broker) QueueTx(id ClientID, req stream.TxRequest) {
	b.arbiter.Queue(id, req)
}

// DrainTxBatch runs one round-robin batch over clients with queued
// transmits, encoding and submitting each through enc/w and recording
// track-id ownership so the matching CAN_TXR routes back to its
// originator. Returns the number of frames submitted.
func (b *Broker) DrainTxBatch(ctx context.Context, enc *stream.Encoder, w stream.Writer) (int, error) {
	b.arbiter.BatchBegin()
	defer b.arbiter.BatchEnd()

	n := 0
	for {
		slot, ok, err := b.arbiter.BatchNext(b.pool)
		if err != nil {
			return n, err
		}
		if !ok {
			break
		}

		b.mu.Lock()
		b.trackOwner[slot.TrackID] = slot.Client
		b.trackPending[slot.TrackID] = stream.PendingTx{
			ClientTrackID: slot.TrackID,
			CANID:         slot.Req.CANID,
			DLC:           slot.Req.DLC,
			Flags:         slot.Req.Flags,
			Data:          slot.Req.Data,
		}
		b.mu.Unlock()

		encoded := enc.Encode(slot.TrackID, slot.Req)
		if err := stream.Submit(ctx, w, encoded); err != nil {
			return n, err
		}
		// The bulk-out write has completed (TX_BACK); the slot still
		// waits on TXR_BACK before it returns to the free stack.
		b.pool.MarkTxBack(slot.TrackID)
		n++
	}
	return n, nil
}

// OnCANRx implements stream.Dispatcher: fan the frame out to every live
// client's ring.
func (b *Broker) OnCANRx(frame wire.CANRx, hostTimestampUs uint64) {
	elem := Element{
		Kind:            ElemRX,
		CANID:           frame.CANID,
		DLC:             frame.DLC,
		Flags:           uint8(frame.Flags),
		Data:            frame.Data,
		HostTimestampUs: hostTimestampUs,
	}
	b.fanOut(elem)
}

// OnCANStatus implements stream.Dispatcher: fan the status out to every
// live client's ring.
func (b *Broker) OnCANStatus(status wire.CANStatus, state stream.BusState, changed bool, hostTimestampUs uint64) {
	b.fanOut(Element{
		Kind:            ElemStatus,
		BusStatus:       uint8(state),
		HostTimestampUs: hostTimestampUs,
	})
}

// OnCANError implements stream.Dispatcher: fan the error event out to
// every live client's ring.
func (b *Broker) OnCANError(ev wire.CANErrorEvent, hostTimestampUs uint64) {
	b.fanOut(Element{
		Kind:            ElemError,
		ErrorCode:       uint8(ev.Error),
		HostTimestampUs: hostTimestampUs,
	})
}

// OnCANTxR implements stream.Dispatcher: release trackID's URB slot and,
// if its owning client opted into receive_own_messages, route the
// late-echo record back to that single client (never to every client). A
// TXR for a track-id with no recorded owner (already detached, or a
// stale device retransmit after reconnect) only releases the pool slot.
func (b *Broker) OnCANTxR(trackID uint8, flags wire.FrameFlag, hostTimestampUs uint64) {
	b.pool.MarkTxRBack(trackID)

	b.mu.Lock()
	owner, ok := b.trackOwner[trackID]
	pending, hasPending := b.trackPending[trackID]
	if ok {
		delete(b.trackOwner, trackID)
	}
	delete(b.trackPending, trackID)
	b.mu.Unlock()

	if !ok {
		b.log.Warn("CAN_TXR for unowned track-id dropped", "track_id", trackID)
		return
	}

	mode, ok := b.clients.EchoMode(owner)
	if !ok || mode == stream.EchoOff || !hasPending {
		return
	}

	echo := pending.Resolve(flags, hostTimestampUs)
	if echo.Dropped {
		// Late-echo never delivers an echo for a frame that was never
		// sent; only its track-id is released (above).
		return
	}

	ring := b.clients.Ring(owner)
	if ring == nil {
		return
	}
	ring.Push(Element{
		Kind:            ElemTxR,
		TrackID:         echo.TrackID,
		CANID:           echo.CANID,
		DLC:             echo.DLC,
		Flags:           uint8(echo.Flags),
		Data:            echo.Data,
		HostTimestampUs: echo.HostTimestampUs,
	})
}

// fanOut pushes elem onto every currently-attached client's ring,
// counting drops per ring via the ring's own lost counters rather than
// failing the call: a slow client must never block delivery to others.
func (b *Broker) fanOut(elem Element) {
	for _, id := range b.clients.Live() {
		ring := b.clients.Ring(id)
		if ring == nil {
			continue
		}
		ring.Push(elem)
	}

	b.mu.Lock()
	taps := append([]*tap(nil), b.taps...)
	b.mu.Unlock()
	for _, t := range taps {
		select {
		case t.ch <- elem:
		default:
			// A slow tap observer drops frames rather than ever
			// blocking delivery to real clients.
		}
	}
}

// Tap registers a read-only observer of the RX fan-out (CAN_RX/STATUS/
// ERROR) that does not consume a client-table slot. Returns a channel of
// delivered elements and a cancel function that unregisters and closes
// it. buffer sizes the channel (DefaultRingCapacity if <= 0).
func (b *Broker) Tap(buffer int) (<-chan Element, func()) {
	if buffer <= 0 {
		buffer = DefaultRingCapacity
	}
	t := &tap{ch: make(chan Element, buffer)}
	b.mu.Lock()
	b.taps = append(b.taps, t)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		for i, x := range b.taps {
			if x == t {
				b.taps = append(b.taps[:i], b.taps[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		close(t.ch)
	}
	return t.ch, cancel
}

// AckNotification acknowledges id's receipt of the most recent
// notification delivered to it, releasing the barrier the raiser of
// Attach/Detach/AcquireConfigurationAccess is blocked on. Every
// subscriber must call this once per notification it receives from the
// channel returned by Attach.
func (b *Broker) AckNotification(id ClientID) {
	b.notify.Ack(id)
}

// HandleDeviceGone marks every attached client's ring Gone, used when
// the USB device is unplugged out from under an open channel.
func (b *Broker) HandleDeviceGone() {
	b.clients.SetAllGone()
}

// HandleDeviceReconnect bumps every attached client's ring generation
// and clears Gone, used when a previously-unplugged device reappears
// and the channel is re-opened against it.
func (b *Broker) HandleDeviceReconnect() {
	b.clients.ReconnectAll()
	b.tracker.Reset()
	b.bus.Reset()
}

// ClientCount reports how many clients are currently attached.
func (b *Broker) ClientCount() int {
	return b.clients.Count()
}

// ClientIDs returns every currently-attached client, for callers (the
// control plane's ListClients) that need to report per-client state
// without reaching into the client table directly.
func (b *Broker) ClientIDs() []ClientID {
	return b.clients.Live()
}

// RingLostCounts returns id's ring's lost_* counters. ok is false if id
// is not currently attached.
func (b *Broker) RingLostCounts(id ClientID) (rx, tx, status, errs, log uint32, ok bool) {
	ring := b.clients.Ring(id)
	if ring == nil {
		return 0, 0, 0, 0, 0, false
	}
	rx, tx, status, errs, log = ring.LostCounts()
	return rx, tx, status, errs, log, true
}

// LeaseHolder reports the configuration-access lease's current holder,
// if held and unexpired, as of now.
func (b *Broker) LeaseHolder() (ClientID, bool) {
	return b.lease.Holder(time.Now())
}

// BusStateMachine returns the bus-state machine this broker shares with
// the channel's inbound Parser, so both observe and reset the same
// underlying state (rather than each keeping a redundant copy).
func (b *Broker) BusStateMachine() *stream.BusStateMachine {
	return b.bus
}

// Tracker returns the device-time tracker this broker shares with the
// channel's inbound Parser, for the same reason as BusStateMachine.
func (b *Broker) Tracker() *timestamp.Tracker {
	return b.tracker
}
