package broker

import (
	"context"
	"sync"

	"github.com/jgressmann/supercan-go/internal/scerr"
)

// NotifyKind is the reason a broker-wide notification was raised.
type NotifyKind uint8

const (
	// NotifyAdd reports a new client attached.
	NotifyAdd NotifyKind = iota
	// NotifyRemove reports a client detached.
	NotifyRemove
	// NotifySet reports a configuration change (bit timing, features,
	// bus on/off) applied by the lease holder.
	NotifySet
	// NotifyShutdown reports the channel is tearing down; every
	// subscriber must stop consuming its ring and acknowledge promptly.
	NotifyShutdown
)

// Notification is one broadcast event plus the implicit barrier every
// live client must acknowledge before the originator's call returns.
// This mirrors the bring-up script's requirement that ADD/REMOVE/SET
// take effect for every attached client before the operation that
// triggered them is reported complete — a late-joining reader must
// never observe half-applied state.
type Notification struct {
	Kind     NotifyKind
	ClientID ClientID
}

// ackBarrier is a one-shot semaphore-style barrier: Notify sets the
// number of expected acknowledgements, each subscriber acknowledges
// exactly once via Ack, and Notify's caller blocks on done until all
// have arrived or ctx is done.
type ackBarrier struct {
	mu      sync.Mutex
	pending int
	done    chan struct{}
}

func (b *ackBarrier) ack() {
	b.mu.Lock()
	b.pending--
	done := b.pending == 0
	b.mu.Unlock()
	if done {
		close(b.done)
	}
}

// Notifier fans a Notification out to every currently-subscribed
// listener and blocks the raiser until each listener has acknowledged
// receipt, or the context is done.
type Notifier struct {
	mu        sync.Mutex
	listeners map[ClientID]chan Notification
	pending   map[ClientID]*ackBarrier
}

// NewNotifier creates an empty Notifier.
func NewNotifier() *Notifier {
	return &Notifier{
		listeners: make(map[ClientID]chan Notification),
		pending:   make(map[ClientID]*ackBarrier),
	}
}

// Subscribe registers id to receive future notifications on the
// returned channel. Re-subscribing an id replaces its prior channel.
func (n *Notifier) Subscribe(id ClientID) <-chan Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch := make(chan Notification, 4)
	n.listeners[id] = ch
	return ch
}

// Unsubscribe removes id from future notifications and closes its
// channel.
func (n *Notifier) Unsubscribe(id ClientID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if ch, ok := n.listeners[id]; ok {
		close(ch)
		delete(n.listeners, id)
	}
}

// Notify broadcasts note to every current subscriber other than
// excluding (typically the raiser itself, if it's also a subscriber)
// and blocks until all of them have called Ack for this notification,
// or ctx is done. A subscriber that never acknowledges blocks this
// call until ctx fires; callers should apply the same per-call deadline
// discipline the command channel uses for device replies.
func (n *Notifier) Notify(ctx context.Context, note Notification, excluding ClientID) error {
	n.mu.Lock()
	targets := make(map[ClientID]chan Notification, len(n.listeners))
	for id, ch := range n.listeners {
		if id == excluding {
			continue
		}
		targets[id] = ch
	}
	if len(targets) == 0 {
		n.mu.Unlock()
		return nil
	}
	barrier := &ackBarrier{pending: len(targets), done: make(chan struct{})}
	for id := range targets {
		n.pending[id] = barrier
	}
	n.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- note:
		case <-ctx.Done():
			return scerr.Wrap("broker.notify", scerr.KindTimeout, ctx.Err())
		}
	}

	select {
	case <-barrier.done:
		return nil
	case <-ctx.Done():
		return scerr.Wrap("broker.notify", scerr.KindTimeout, ctx.Err())
	}
}

// Ack acknowledges receipt of the most recent notification delivered to
// id. Must be called exactly once per delivered Notification; a second
// call with nothing pending is a no-op.
func (n *Notifier) Ack(id ClientID) {
	n.mu.Lock()
	barrier := n.pending[id]
	delete(n.pending, id)
	n.mu.Unlock()

	if barrier != nil {
		barrier.ack()
	}
}
