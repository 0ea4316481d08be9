package control

import (
	"context"
	"strings"

	"github.com/jgressmann/supercan-go/internal/broker"
	"github.com/jgressmann/supercan-go/internal/metrics"
	"google.golang.org/grpc"
)

// ServiceName is the gRPC service path prefix, mirroring the style a
// protoc-generated package would produce (`<pkg>.<Service>`) even though
// no .proto file exists.
const ServiceName = "supercan.control.v1.Control"

// Server implements the control plane's RPC surface over a Registry. It
// is also used directly, in-process, by internal/httpapi — a read-only
// REST surface in front of the same four queries — so a single binary
// never needs to dial its own control socket to serve HTTP.
type Server struct {
	Registry *Registry
}

// NewServer creates a Server backed by reg.
func NewServer(reg *Registry) *Server {
	return &Server{Registry: reg}
}

// GetChannelInfo returns the cached device/CAN identity and current
// lifecycle state for one channel.
func (s *Server) GetChannelInfo(_ context.Context, req *ChannelInfoRequest) (*ChannelInfoResponse, error) {
	h, err := s.Registry.Lookup(req.ChannelID)
	if err != nil {
		return nil, err
	}
	dev := h.Ctrl.DeviceInfo()
	info := h.Ctrl.CANInfo()
	return &ChannelInfoResponse{
		State:         h.Ctrl.State().String(),
		FeaturePerm:   dev.FeaturePerm,
		FeatureConf:   dev.FeatureConf,
		FirmwareMajor: dev.FirmwareMajor,
		FirmwareMinor: dev.FirmwareMinor,
		FirmwarePatch: dev.FirmwarePatch,
		Serial:        strings.TrimRight(string(dev.Serial[:]), "\x00"),
		Name:          dev.Name,
		ClockHz:       info.ClockHz,
		MsgBufferSize: info.MsgBufferSize,
		FifoSizeRx:    info.FifoSizeRx,
		FifoSizeTx:    info.FifoSizeTx,
	}, nil
}

// ListClients enumerates one channel's currently-attached clients and
// their per-ring loss counters.
func (s *Server) ListClients(_ context.Context, req *ListClientsRequest) (*ListClientsResponse, error) {
	h, err := s.Registry.Lookup(req.ChannelID)
	if err != nil {
		return nil, err
	}
	resp := &ListClientsResponse{}
	for _, id := range h.Broker.ClientIDs() {
		rx, tx, status, errs, _, ok := h.Broker.RingLostCounts(id)
		if !ok {
			continue
		}
		resp.Clients = append(resp.Clients, ClientSummary{
			ClientID:   uint32(id),
			LostRx:     rx,
			LostTx:     tx,
			LostStatus: status,
			LostError:  errs,
		})
	}
	return resp, nil
}

// GetLeaseStatus reports the configuration-access lease's current
// holder, if any.
func (s *Server) GetLeaseStatus(_ context.Context, req *LeaseStatusRequest) (*LeaseStatusResponse, error) {
	h, err := s.Registry.Lookup(req.ChannelID)
	if err != nil {
		return nil, err
	}
	holder, held := h.Broker.LeaseHolder()
	return &LeaseStatusResponse{Held: held, HolderID: uint32(holder)}, nil
}

// GetStats returns the channel's traffic counters plus a host CPU/memory
// sample.
func (s *Server) GetStats(_ context.Context, req *GetStatsRequest) (*GetStatsResponse, error) {
	h, err := s.Registry.Lookup(req.ChannelID)
	if err != nil {
		return nil, err
	}
	snap := h.Stats.Snapshot()
	resp := &GetStatsResponse{
		FramesRx:     snap.FramesRx,
		FramesTx:     snap.FramesTx,
		BytesRx:      snap.BytesRx,
		BytesTx:      snap.BytesTx,
		LostRx:       snap.LostRx,
		LostTx:       snap.LostTx,
		LostStatus:   snap.LostStatus,
		LostError:    snap.LostError,
		LostLog:      snap.LostLog,
		LeaseGrants:  snap.LeaseGrants,
		LeaseDenials: snap.LeaseDenials,
	}
	if host, err := metrics.SampleHost(); err == nil {
		resp.HostCPUPct = host.CPUPercent
		resp.HostMemPct = host.MemPercent
		resp.HostMemUsed = host.MemUsedBytes
		resp.HostMemTotal = host.MemTotalBytes
	}
	return resp, nil
}

// StreamFrames tees one channel's RX fan-out (CAN_RX/STATUS/ERROR) to
// the caller without occupying a client-table slot, via Broker.Tap.
func (s *Server) StreamFrames(req *StreamFramesRequest, stream grpc.ServerStream) error {
	h, err := s.Registry.Lookup(req.ChannelID)
	if err != nil {
		return err
	}
	ch, cancel := h.Broker.Tap(0)
	defer cancel()

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case elem, ok := <-ch:
			if !ok {
				return nil
			}
			ev := &FrameEvent{
				Kind:        uint8(elem.Kind),
				CANID:       elem.CANID,
				DLC:         elem.DLC,
				Flags:       elem.Flags,
				Data:        elem.Data,
				TimestampUs: elem.HostTimestampUs,
				BusStatus:   elem.BusStatus,
				ErrorCode:   elem.ErrorCode,
			}
			if err := stream.SendMsg(ev); err != nil {
				return err
			}
		}
	}
}

// ensure Element's Kind constants line up with FrameEvent.Kind's
// documented meaning; referenced so the broker package stays imported
// for godoc purposes even though only elem.Kind's underlying value is
// used above.
var _ = broker.ElemRX
