// Package broker implements the shared-access multiplexer: the per-client
// ring table, RX fan-out, TX arbitration, the configuration-access lease,
// and the notify/acknowledge-barrier protocol used to add or remove a
// client without racing in-flight frames.
//
// The ring here implements the exact algorithmic contract the protocol
// describes for a named cross-process shared-memory mapping (atomic
// indices, per-kind lost counters, a generation counter for reconnect) but
// backs it with an in-process byte-addressable buffer rather than an OS
// shared-memory mapping: no repo in this stack's dependency pack wires a
// cross-platform shared-memory library, and the ring's producer/consumer
// discipline is identical either way. A future transport swap only needs
// to replace the backing buffer's allocation, not this type.
package broker

import (
	"sync/atomic"

	"github.com/jgressmann/supercan-go/internal/scerr"
)

// ElementKind tags the payload carried by one ring slot.
type ElementKind uint8

const (
	ElemStatus ElementKind = iota
	ElemRX
	ElemTx
	ElemTxR
	ElemError
	ElemLog
)

// Element is one tagged ring entry. Exactly one of the kind-specific
// fields is meaningful, selected by Kind.
type Element struct {
	Kind            ElementKind
	CANID           uint32
	DLC             uint8
	Flags           uint8
	Data            []byte
	TrackID         uint8
	HostTimestampUs uint64
	BusStatus       uint8
	ErrorCode       uint8
	LogLine         string
}

// RingFlag is a bit in a ring's Flags header field.
type RingFlag uint32

// Gone is set on every client ring when the device is unplugged, and
// cleared (alongside bumping Generation) on reconnect.
const Gone RingFlag = 1 << 0

// Ring is a single-producer/single-consumer ring buffer with atomic
// indices and per-kind lost counters, matching the shared-memory layout
// the protocol describes. Capacity must be a power of two.
type Ring struct {
	getIndex   uint32
	putIndex   uint32
	flags      uint32
	generation uint32

	lostRx     uint32
	lostTx     uint32
	lostStatus uint32
	lostError  uint32
	lostLog    uint32

	capacity uint32
	mask     uint32
	slots    []Element
}

// NewRing creates a ring with the given power-of-two capacity.
func NewRing(capacity int) (*Ring, error) {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		return nil, scerr.New("broker.new_ring", scerr.KindInvalidParam, "capacity must be a power of two")
	}
	return &Ring{
		capacity: uint32(capacity),
		mask:     uint32(capacity - 1),
		slots:    make([]Element, capacity),
	}, nil
}

// Push is the producer-side operation: it writes elem at put_index,
// publishes the advanced put_index, and reports whether it succeeded. A
// full ring (put-get == capacity) drops the element and increments the
// matching lost counter instead of blocking — a slow consumer never
// back-pressures the producer.
func (r *Ring) Push(elem Element) bool {
	get := atomic.LoadUint32(&r.getIndex)
	put := atomic.LoadUint32(&r.putIndex)
	if put-get >= r.capacity {
		r.incrLost(elem.Kind)
		return false
	}
	r.slots[put&r.mask] = elem
	atomic.StoreUint32(&r.putIndex, put+1)
	return true
}

// Pop is the consumer-side operation: it reads the next published element
// and advances get_index, or reports ok=false if the ring is empty.
func (r *Ring) Pop() (Element, bool) {
	get := atomic.LoadUint32(&r.getIndex)
	put := atomic.LoadUint32(&r.putIndex)
	if get == put {
		return Element{}, false
	}
	elem := r.slots[get&r.mask]
	atomic.StoreUint32(&r.getIndex, get+1)
	return elem, true
}

// Len reports the number of unread elements.
func (r *Ring) Len() int {
	get := atomic.LoadUint32(&r.getIndex)
	put := atomic.LoadUint32(&r.putIndex)
	return int(put - get)
}

func (r *Ring) incrLost(kind ElementKind) {
	switch kind {
	case ElemRX:
		atomic.AddUint32(&r.lostRx, 1)
	case ElemTx, ElemTxR:
		atomic.AddUint32(&r.lostTx, 1)
	case ElemStatus:
		atomic.AddUint32(&r.lostStatus, 1)
	case ElemError:
		atomic.AddUint32(&r.lostError, 1)
	case ElemLog:
		atomic.AddUint32(&r.lostLog, 1)
	}
}

// LostCounts returns a snapshot of the per-kind loss counters.
func (r *Ring) LostCounts() (rx, tx, status, errs, log uint32) {
	return atomic.LoadUint32(&r.lostRx),
		atomic.LoadUint32(&r.lostTx),
		atomic.LoadUint32(&r.lostStatus),
		atomic.LoadUint32(&r.lostError),
		atomic.LoadUint32(&r.lostLog)
}

// SetGone marks the ring as belonging to a now-detached device, waking
// any consumer that polls Flags.
func (r *Ring) SetGone() {
	atomic.StoreUint32(&r.flags, uint32(Gone))
}

// Reconnect clears Gone and bumps the generation counter; a consumer
// observing a generation change must reset its local indices.
func (r *Ring) Reconnect() {
	atomic.AddUint32(&r.generation, 1)
	atomic.StoreUint32(&r.flags, 0)
}

// Generation returns the current generation counter.
func (r *Ring) Generation() uint32 {
	return atomic.LoadUint32(&r.generation)
}

// IsGone reports whether the Gone flag is currently set.
func (r *Ring) IsGone() bool {
	return atomic.LoadUint32(&r.flags)&uint32(Gone) != 0
}
