package broker

import (
	"github.com/jgressmann/supercan-go/internal/scerr"
	"github.com/jgressmann/supercan-go/internal/stream"
)

// TxSlot is one client's pending transmit request together with the
// track-id the arbiter reserves for it from the shared track pool.
type TxSlot struct {
	Client  ClientID
	TrackID uint8
	Req     stream.TxRequest
}

// TxArbiter serializes concurrent clients' transmit requests onto the
// single outbound message pipe a channel owns, in round-robin order
// across live clients so no single high-rate producer starves the
// others. A batch is the unit of fairness: BatchBegin snapshots which
// clients currently have something queued, BatchNext walks that snapshot
// exactly once per client per batch, and BatchEnd clears it.
type TxArbiter struct {
	clients *ClientTable
	pending map[ClientID][]stream.TxRequest
	order   []ClientID
	cursor  int
}

// NewTxArbiter creates an arbiter fed by clients' liveness.
func NewTxArbiter(clients *ClientTable) *TxArbiter {
	return &TxArbiter{clients: clients, pending: make(map[ClientID][]stream.TxRequest)}
}

// Queue enqueues req on behalf of client for the next batch.
func (a *TxArbiter) Queue(client ClientID, req stream.TxRequest) {
	a.pending[client] = append(a.pending[client], req)
}

// BatchBegin snapshots the round-robin order for this batch: every live
// client that currently has at least one request queued, starting at a
// live-list offset that advances by one for every request served, so the
// same client does not always land first.
func (a *TxArbiter) BatchBegin() {
	live := a.clients.Live()
	a.order = a.order[:0]
	if len(live) == 0 {
		return
	}
	start := a.cursor % len(live)
	for i := 0; i < len(live); i++ {
		id := live[(start+i)%len(live)]
		if len(a.pending[id]) > 0 {
			a.order = append(a.order, id)
		}
	}
}

// BatchNext pops the next (client, request) pair in this batch's
// round-robin order, reserving trackID for it from pool. Returns
// ok=false once the batch is exhausted.
func (a *TxArbiter) BatchNext(pool interface{ Acquire() (uint8, error) }) (TxSlot, bool, error) {
	if len(a.order) == 0 {
		return TxSlot{}, false, nil
	}
	client := a.order[0]
	a.order = a.order[1:]

	reqs := a.pending[client]
	req := reqs[0]
	if len(reqs) == 1 {
		delete(a.pending, client)
	} else {
		a.pending[client] = reqs[1:]
	}

	trackID, err := pool.Acquire()
	if err != nil {
		return TxSlot{}, false, scerr.Wrap("broker.tx_arbiter_next", scerr.KindDeviceBusy, err)
	}
	a.cursor++
	return TxSlot{Client: client, TrackID: trackID, Req: req}, true, nil
}

// BatchEnd clears whatever remained of this batch's order, letting a
// fresh BatchBegin recompute it from current queue state.
func (a *TxArbiter) BatchEnd() {
	a.order = a.order[:0]
}

// Pending reports how many requests client has queued.
func (a *TxArbiter) Pending(client ClientID) int {
	return len(a.pending[client])
}

// DropClient discards client's queued requests and removes it from the
// in-progress batch order, used when a client disconnects mid-batch so
// its pending queue indices don't linger past the acknowledge barrier.
func (a *TxArbiter) DropClient(client ClientID) {
	delete(a.pending, client)
	for i := 0; i < len(a.order); i++ {
		if a.order[i] == client {
			a.order = append(a.order[:i], a.order[i+1:]...)
			i--
		}
	}
}
