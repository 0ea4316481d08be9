package stream

import (
	"context"

	"github.com/jgressmann/supercan-go/internal/scerr"
	"github.com/jgressmann/supercan-go/internal/wire"
)

// Mode describes the frame kinds a channel currently accepts for
// transmission, derived from its configured bus mode.
type Mode struct {
	FD bool
}

// TxRequest is a logical transmit request from a client, before a
// track-id has been reserved.
type TxRequest struct {
	CANID uint32
	DLC   uint8
	Flags wire.FrameFlag
	Data  []byte
}

// Validate checks req against m: classic channels reject FDF frames,
// RTR and FDF are mutually exclusive, and the payload length must match
// what the DLC implies.
func (m Mode) Validate(req TxRequest) error {
	if req.Flags.Has(wire.FlagFDF) && !m.FD {
		return scerr.New("stream.validate_tx", scerr.KindInvalidParam, "FD frame submitted on a classic channel")
	}
	if req.Flags.Has(wire.FlagRTR) && req.Flags.Has(wire.FlagFDF) {
		return scerr.New("stream.validate_tx", scerr.KindInvalidParam, "RTR and FDF are mutually exclusive")
	}
	if req.Flags.Has(wire.FlagRTR) {
		return nil // RTR frames carry no data regardless of DLC
	}
	if want := int(wire.DLCToLen(req.DLC)); want != len(req.Data) {
		return scerr.New("stream.validate_tx", scerr.KindInvalidParam, "payload length does not match DLC")
	}
	return nil
}

// Writer is the minimal bulk message-pipe surface Submit needs; satisfied
// by *usbtransport.Transport.
type Writer interface {
	WriteMessage(ctx context.Context, data []byte) (int, error)
	MessageMaxPacketSize() int
}

// Encoder builds wire CAN_TX messages, applying LEN_MULTIPLE padding and
// the 4-byte zero terminator needed when msg_buffer_size exceeds the
// endpoint's max packet size and the encoded length lands exactly on a
// packet boundary (avoiding a bulk-out hang on devices that require
// either a short packet or an explicit ZLP).
type Encoder struct {
	order         wire.ByteOrder
	msgBufferSize int
	epSize        int
}

// NewEncoder creates an Encoder for a channel's negotiated msg_buffer_size
// and the message-out endpoint's max packet size.
func NewEncoder(order wire.ByteOrder, msgBufferSize, epSize int) *Encoder {
	return &Encoder{order: order, msgBufferSize: msgBufferSize, epSize: epSize}
}

// Encode writes trackID/req as a padded CAN_TX message into a
// freshly-allocated buffer, appending a zero terminator chunk when the
// encoded length would otherwise land exactly on an endpoint packet
// boundary.
func (e *Encoder) Encode(trackID uint8, req TxRequest) []byte {
	bodyLen := 8 + len(req.Data)
	msgLen := wire.PadLen(wire.HeaderSize + bodyLen)

	total := msgLen
	if e.msgBufferSize > e.epSize && total%e.epSize == 0 {
		total += 4
	}

	buf := make([]byte, total)
	wire.EncodeHeader(buf, wire.Header{ID: wire.MsgCANTx, Len: uint8(msgLen)})
	wire.EncodeCANTx(buf[wire.HeaderSize:], e.order, wire.CANTx{
		TrackID: trackID,
		CANID:   req.CANID,
		DLC:     req.DLC,
		Flags:   req.Flags,
		Data:    req.Data,
	})
	return buf
}

// Submit writes an already-encoded CAN_TX message to w.
func Submit(ctx context.Context, w Writer, encoded []byte) error {
	_, err := w.WriteMessage(ctx, encoded)
	if err != nil {
		return scerr.Wrap("stream.submit", scerr.KindDeviceFailure, err)
	}
	return nil
}
