package stream

import "github.com/jgressmann/supercan-go/internal/wire"

// EchoMode selects when a transmitted frame's echo/receipt is made
// available to the originating client.
type EchoMode uint8

const (
	// EchoOff means the client did not opt into receive_own_messages: its
	// own transmitted frames are never echoed back to it, only the TXR's
	// completion effects (track-id release) apply.
	EchoOff EchoMode = iota
	// EchoLate places the echo record on TXR receipt, carrying the
	// device's TXR timestamp. This is the default opted-in mode: it
	// reports the frame's actual transmission time rather than its
	// submission time, and never delivers an echo for a dropped frame.
	// Kept as the default per the correctness requirement that supersedes
	// the legacy behavior below.
	EchoLate
	// EchoEarly names the early-echo policy (echo record placed at TX
	// submission time, before the device has acknowledged it). The broker
	// does not place echoes at submission: a client set to EchoEarly gets
	// its echo on TXR receipt, exactly as under EchoLate.
	EchoEarly
)

// EchoRecord is what a client receives when its own transmitted frame is
// echoed back to it.
type EchoRecord struct {
	TrackID         uint8
	CANID           uint32
	DLC             uint8
	Flags           wire.FrameFlag
	Data            []byte
	HostTimestampUs uint64
	Dropped         bool
}

// PendingTx is the record an outbound submission keeps until its TXR
// arrives, whatever the client's echo mode.
type PendingTx struct {
	ClientTrackID uint8 // track-id reported in the echo: the one reserved from the shared pool (TxRequest carries no client-assigned id)
	CANID         uint32
	DLC           uint8
	Flags         wire.FrameFlag
	Data          []byte
}

// Resolve builds the EchoRecord a client should receive for p once the
// device's CAN_TXR has arrived, stamping it with the device-derived host
// timestamp. DRP-flagged frames are reported as dropped; under EchoLate
// policy a caller should skip delivering a dropped echo entirely, since
// late-echo never delivers an echo for a frame that was never sent.
func (p PendingTx) Resolve(txrFlags wire.FrameFlag, hostTimestampUs uint64) EchoRecord {
	return EchoRecord{
		TrackID:         p.ClientTrackID,
		CANID:           p.CANID,
		DLC:             p.DLC,
		Flags:           p.Flags,
		Data:            p.Data,
		HostTimestampUs: hostTimestampUs,
		Dropped:         txrFlags.Has(wire.FlagDRP),
	}
}
