// Package control implements C12, the out-of-band control plane: a
// gRPC service a separate process (such as the monitor TUI)
// can dial to inspect a running channel — its identity,
// attached-client table, lease status and traffic counters — without
// occupying one of the channel's scarce client-ring slots.
//
// Because no protoc toolchain is available in this exercise, the
// service is defined by hand over a gob.Codec registered as a gRPC
// encoding.Codec (codec.go) rather than generated protoc-gen-go message
// types: google.golang.org/grpc itself (transport, stream multiplexing,
// the codec extension point) stays load-bearing while sidestepping
// hand-authored proto.Message/protoreflect boilerplate that would be
// unverifiable without the generator.
package control

import (
	"sync"

	"github.com/jgressmann/supercan-go/internal/broker"
	"github.com/jgressmann/supercan-go/internal/channel"
	"github.com/jgressmann/supercan-go/internal/metrics"
	"github.com/jgressmann/supercan-go/internal/scerr"
)

// ChannelHandle is everything the control plane needs to answer
// questions about one open channel.
type ChannelHandle struct {
	ID      string
	Ctrl    *channel.Controller
	Broker  *broker.Broker
	Stats   *metrics.Stats
}

// Registry maps a channel ID (index or serial, per spec.md §6.4) to its
// live handle. A process hosting more than one channel (e.g. a
// multi-interface adapter) registers each one under its own ID.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]*ChannelHandle
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]*ChannelHandle)}
}

// Register adds or replaces the handle for id.
func (r *Registry) Register(id string, h *ChannelHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h.ID = id
	r.channels[id] = h
}

// Unregister removes id, if present.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, id)
}

// Lookup returns the handle for id, or a NotImplemented-flavored
// InvalidParam error (there is no such channel to query) if absent.
func (r *Registry) Lookup(id string) (*ChannelHandle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.channels[id]
	if !ok {
		return nil, scerr.New("control.lookup", scerr.KindInvalidParam, "unknown channel id: "+id)
	}
	return h, nil
}

// IDs returns every currently-registered channel ID.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.channels))
	for id := range r.channels {
		ids = append(ids, id)
	}
	return ids
}
