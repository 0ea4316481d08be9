package usbtransport

import (
	"sync"

	"github.com/jgressmann/supercan-go/internal/scerr"
)

// slotState tracks which of the two independent completion signals a
// reserved track-id has seen. A slot only returns to the free stack once
// both bits are set, so a track-id whose CAN_TXR is still in flight can
// never be handed out again even though its URB already completed.
type slotState uint8

const (
	txBack  slotState = 1 << 0
	txrBack slotState = 1 << 1
	bothBack = txBack | txrBack
)

// TrackPool hands out track-ids (and their paired TX URB slot) as a LIFO
// free stack, exactly as the firmware-facing driver does: acquiring pops
// the top of the stack, releasing pushes back onto it. A slot is only
// released once both TX_BACK (host write completed) and TXR_BACK (device
// acknowledged the frame) have fired for it.
type TrackPool struct {
	mu        sync.Mutex
	cond      *sync.Cond
	available []uint8 // LIFO stack of free slot indices
	state     []slotState
	closed    bool
}

// NewTrackPool creates a pool of n track-ids, all initially free.
func NewTrackPool(n int) *TrackPool {
	p := &TrackPool{
		available: make([]uint8, n),
		state:     make([]slotState, n),
	}
	for i := 0; i < n; i++ {
		p.available[i] = uint8(i)
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Acquire pops a free track-id, blocking until one is available or the
// pool is closed.
func (p *TrackPool) Acquire() (uint8, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.available) == 0 && !p.closed {
		p.cond.Wait()
	}
	if p.closed {
		return 0, scerr.New("usbtransport.trackpool_acquire", scerr.KindAborted, "pool closed")
	}
	top := len(p.available) - 1
	id := p.available[top]
	p.available = p.available[:top]
	p.state[id] = 0
	return id, nil
}

// TryAcquire pops a free track-id without blocking, reporting false if
// none is currently available.
func (p *TrackPool) TryAcquire() (uint8, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.available) == 0 {
		return 0, false
	}
	top := len(p.available) - 1
	id := p.available[top]
	p.available = p.available[:top]
	p.state[id] = 0
	return id, true
}

// MarkTxBack records that id's host-side URB write has completed.
func (p *TrackPool) MarkTxBack(id uint8) {
	p.mark(id, txBack)
}

// MarkTxRBack records that id's device-side CAN_TXR has been received.
func (p *TrackPool) MarkTxRBack(id uint8) {
	p.mark(id, txrBack)
}

func (p *TrackPool) mark(id uint8, bit slotState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	wasEmpty := len(p.available) == 0
	p.state[id] |= bit
	if p.state[id] == bothBack {
		p.available = append(p.available, id)
		if wasEmpty {
			p.cond.Broadcast()
		}
	}
}

// ForceRelease returns id to the free stack regardless of its current
// TX_BACK/TXR_BACK state, for a track-id stranded by a client disconnect
// that will never see its matching bulk-out completion or CAN_TXR.
func (p *TrackPool) ForceRelease(id uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	wasEmpty := len(p.available) == 0
	p.state[id] = bothBack
	p.available = append(p.available, id)
	if wasEmpty {
		p.cond.Broadcast()
	}
}

// Len reports the number of currently free track-ids.
func (p *TrackPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.available)
}

// Close wakes any blocked Acquire callers with an Aborted error. Further
// Acquire calls also fail; release operations are still accepted so
// in-flight completions can be drained.
func (p *TrackPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cond.Broadcast()
}
