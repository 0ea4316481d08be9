package broker

import (
	"sync"
	"time"

	"github.com/jgressmann/supercan-go/internal/scerr"
)

// ClientID identifies one attached client within a channel's client
// table.
type ClientID uint32

// DefaultLeaseTimeout is the configuration-access lease's auto-expiry
// window.
const DefaultLeaseTimeout = 8 * time.Second

// Lease is the exclusive configuration-access lease gating bit-timing,
// feature and bus on/off mutation. Only one client may hold it; while
// the holder's claim is unexpired no other client can take it, on-bus or
// off. A bus-off does not release the lease; only Release or expiry
// makes it available to another client.
type Lease struct {
	mu        sync.Mutex
	holder    ClientID
	held      bool
	claimedAt time.Time
	timeout   time.Duration
	onBus     bool
}

// NewLease creates an unheld lease with the given timeout (DefaultLeaseTimeout
// if zero).
func NewLease(timeout time.Duration) *Lease {
	if timeout <= 0 {
		timeout = DefaultLeaseTimeout
	}
	return &Lease{timeout: timeout}
}

// Acquire claims the lease for client, or extends it if client already
// holds it. While the channel is on-bus, a different client cannot take
// the lease from its current holder.
func (l *Lease) Acquire(client ClientID, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held && !l.expired(now) && l.holder != client {
		if l.onBus {
			return scerr.New("broker.lease_acquire", scerr.KindAccessDenied, "lease held by another client while on-bus")
		}
		return scerr.New("broker.lease_acquire", scerr.KindDeviceBusy, "lease held by another client")
	}

	l.holder = client
	l.held = true
	l.claimedAt = now
	return nil
}

// Release gives up the lease if client currently holds it. Releasing a
// lease you don't hold is a no-op error, not a panic — callers that lost
// a race against expiry should see AccessDenied rather than corrupt state.
func (l *Lease) Release(client ClientID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held || l.holder != client {
		return scerr.New("broker.lease_release", scerr.KindAccessDenied, "client does not hold the lease")
	}
	l.held = false
	return nil
}

// Check reports whether client currently holds a non-expired lease,
// consulting now for expiry.
func (l *Lease) Check(client ClientID, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held || l.expired(now) || l.holder != client {
		return scerr.New("broker.lease_check", scerr.KindAccessDenied, "lease not held by caller")
	}
	return nil
}

// SetOnBus records the channel's bus-on/off state, which governs whether
// the lease may be transferred between clients.
func (l *Lease) SetOnBus(onBus bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onBus = onBus
}

// expired reports whether the lease has outlived its timeout. Must be
// called with l.mu held.
func (l *Lease) expired(now time.Time) bool {
	return l.held && now.Sub(l.claimedAt) > l.timeout
}

// Holder returns the current holder and whether the lease is held (and
// unexpired) as of now.
func (l *Lease) Holder(now time.Time) (ClientID, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held || l.expired(now) {
		return 0, false
	}
	return l.holder, true
}
