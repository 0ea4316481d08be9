package control

// Every request/response pair below is a plain Go struct encoded with
// the gob.Codec in codec.go, standing in for protoc-gen-go message
// types per this package's doc comment.

// ChannelInfoRequest selects a channel by its registry ID.
type ChannelInfoRequest struct {
	ChannelID string
}

// ChannelInfoResponse mirrors the handshake-cached device identity
// (spec.md §3 "Device descriptor") plus the current lifecycle state.
type ChannelInfoResponse struct {
	State         string
	FeaturePerm   uint32
	FeatureConf   uint32
	FirmwareMajor uint8
	FirmwareMinor uint8
	FirmwarePatch uint8
	Serial        string
	Name          string
	ClockHz       uint32
	MsgBufferSize uint16
	FifoSizeRx    uint16
	FifoSizeTx    uint16
}

// ListClientsRequest selects a channel by its registry ID.
type ListClientsRequest struct {
	ChannelID string
}

// ClientSummary is one attached client's externally-visible state.
type ClientSummary struct {
	ClientID   uint32
	LostRx     uint32
	LostTx     uint32
	LostStatus uint32
	LostError  uint32
}

// ListClientsResponse enumerates every currently-attached client.
type ListClientsResponse struct {
	Clients []ClientSummary
}

// LeaseStatusRequest selects a channel by its registry ID.
type LeaseStatusRequest struct {
	ChannelID string
}

// LeaseStatusResponse reports the configuration-access lease's current
// holder, if any.
type LeaseStatusResponse struct {
	Held     bool
	HolderID uint32
}

// GetStatsRequest selects a channel by its registry ID.
type GetStatsRequest struct {
	ChannelID string
}

// GetStatsResponse carries the channel's traffic counters plus a
// point-in-time host CPU/memory sample.
type GetStatsResponse struct {
	FramesRx      uint64
	FramesTx      uint64
	BytesRx       uint64
	BytesTx       uint64
	LostRx        uint64
	LostTx        uint64
	LostStatus    uint64
	LostError     uint64
	LostLog       uint64
	LeaseGrants   uint64
	LeaseDenials  uint64
	HostCPUPct    float64
	HostMemPct    float64
	HostMemUsed   uint64
	HostMemTotal  uint64
}

// StreamFramesRequest selects a channel by its registry ID. StreamFrames
// is a read-only tee of the RX fan-out: it never occupies a client-table
// slot and carries no filter beyond the channel selector.
type StreamFramesRequest struct {
	ChannelID string
}

// FrameEvent is one CAN_RX/STATUS/ERROR event delivered over the
// StreamFrames tee, shaped after broker.Element but decoupled from that
// package's internal representation.
type FrameEvent struct {
	Kind            uint8 // mirrors broker.ElementKind
	CANID           uint32
	DLC             uint8
	Flags           uint8
	Data            []byte
	TimestampUs     uint64
	BusStatus       uint8
	ErrorCode       uint8
}
