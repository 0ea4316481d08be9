package stream

import (
	"encoding/hex"

	"github.com/jgressmann/supercan-go/internal/logging"
	"github.com/jgressmann/supercan-go/internal/timestamp"
	"github.com/jgressmann/supercan-go/internal/wire"
)

// Dispatcher receives decoded inbound events from a Parser. Implemented
// by the broker, which fans each event out to subscribed clients.
type Dispatcher interface {
	OnCANRx(frame wire.CANRx, hostTimestampUs uint64)
	OnCANStatus(status wire.CANStatus, state BusState, changed bool, hostTimestampUs uint64)
	OnCANError(ev wire.CANErrorEvent, hostTimestampUs uint64)
	OnCANTxR(trackID uint8, flags wire.FrameFlag, hostTimestampUs uint64)
}

// Parser walks a completed bulk-in buffer message by message, lifts
// device timestamps through a Tracker, advances the bus-state machine and
// delivers each decoded message to a Dispatcher. Not safe for concurrent
// use — one Parser per channel's RX worker.
type Parser struct {
	order   wire.ByteOrder
	tracker *timestamp.Tracker
	bus     *BusStateMachine
	log     *logging.Logger
}

// NewParser creates a Parser for a channel using the given byte order,
// sharing the channel's time tracker and bus-state machine (both of
// which persist across buffers).
func NewParser(order wire.ByteOrder, tracker *timestamp.Tracker, bus *BusStateMachine) *Parser {
	return &Parser{order: order, tracker: tracker, bus: bus, log: logging.Default().With("stream")}
}

// Parse walks buf, dispatching each recognized message to d. It stops at
// the EOF/zero-length terminator. A length violation aborts the
// remainder of this buffer (logging its contents) without returning an
// error, since a single malformed buffer on a streaming pipe is not fatal
// to the channel.
func (p *Parser) Parse(buf []byte, d Dispatcher) {
	off := 0
	for off+wire.HeaderSize <= len(buf) {
		hdr, err := wire.DecodeHeader(buf[off:])
		if err != nil {
			p.log.Warn("malformed inbound message, aborting buffer", "offset", off, "hex", hex.EncodeToString(buf[off:]))
			return
		}
		if hdr.IsTerminator() {
			return
		}
		if off+int(hdr.Len) > len(buf) {
			p.log.Warn("message exceeds buffer bounds, aborting buffer", "offset", off, "len", hdr.Len)
			return
		}
		body := buf[off+wire.HeaderSize : off+int(hdr.Len)]
		p.dispatch(hdr, body, d)
		off += int(hdr.Len)
	}
}

func (p *Parser) dispatch(hdr wire.Header, body []byte, d Dispatcher) {
	switch hdr.ID {
	case wire.MsgCANRx:
		frame, err := wire.DecodeCANRx(body, p.order)
		if err != nil {
			p.log.Warn("dropping malformed CAN_RX", "err", err)
			return
		}
		ts := p.tracker.Track(frame.TimestampUs)
		d.OnCANRx(frame, ts)

	case wire.MsgCANStatus:
		status, err := wire.DecodeCANStatus(body, p.order)
		if err != nil {
			p.log.Warn("dropping malformed CAN_STATUS", "err", err)
			return
		}
		state, changed := p.bus.Apply(status)
		ts := p.tracker.Track(status.TimestampUs)
		d.OnCANStatus(status, state, changed, ts)

	case wire.MsgCANError:
		ev, err := wire.DecodeCANErrorEvent(body, p.order)
		if err != nil {
			p.log.Warn("dropping malformed CAN_ERROR", "err", err)
			return
		}
		if ev.Error == wire.CANErrorNone {
			return
		}
		ts := p.tracker.Track(ev.TimestampUs)
		d.OnCANError(ev, ts)

	case wire.MsgCANTxR:
		txr, err := wire.DecodeCANTxR(body, p.order)
		if err != nil {
			p.log.Warn("dropping malformed CAN_TXR", "err", err)
			return
		}
		ts := p.tracker.Track(txr.TimestampUs)
		d.OnCANTxR(txr.TrackID, txr.Flags, ts)

	default:
		// Unknown message IDs are skipped, not fatal: the protocol is
		// forward-compatible.
	}
}
