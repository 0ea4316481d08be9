// Package wire implements the supercan USB framing protocol: the
// {id, len} message header, LEN_MULTIPLE padding, byte-order negotiation
// and the chunker used when a logical buffer must be split across
// multiple bulk transfers.
package wire

import (
	"fmt"

	"github.com/jgressmann/supercan-go/internal/scerr"
)

// LenMultiple is the padding granularity every message length must be a
// multiple of.
const LenMultiple = 4

// HeaderSize is the size in bytes of the {id, len} message header.
const HeaderSize = 2

// Message IDs, host<->device. Values follow the core set named in the
// protocol description; the exact numeric assignment is local to this
// module.
type MsgID uint8

const (
	MsgEOF MsgID = iota
	MsgHelloDevice
	MsgHelloHost
	MsgDeviceInfo
	MsgCANInfo
	MsgFeatures
	MsgNMBitTiming
	MsgDTBitTiming
	MsgBus
	MsgCANTx
	MsgCANRx
	MsgCANTxR
	MsgCANStatus
	MsgCANError
	MsgError
)

func (id MsgID) String() string {
	switch id {
	case MsgEOF:
		return "EOF"
	case MsgHelloDevice:
		return "HELLO_DEVICE"
	case MsgHelloHost:
		return "HELLO_HOST"
	case MsgDeviceInfo:
		return "DEVICE_INFO"
	case MsgCANInfo:
		return "CAN_INFO"
	case MsgFeatures:
		return "FEATURES"
	case MsgNMBitTiming:
		return "NM_BITTIMING"
	case MsgDTBitTiming:
		return "DT_BITTIMING"
	case MsgBus:
		return "BUS"
	case MsgCANTx:
		return "CAN_TX"
	case MsgCANRx:
		return "CAN_RX"
	case MsgCANTxR:
		return "CAN_TXR"
	case MsgCANStatus:
		return "CAN_STATUS"
	case MsgCANError:
		return "CAN_ERROR"
	case MsgError:
		return "ERROR"
	default:
		return fmt.Sprintf("MsgID(%d)", uint8(id))
	}
}

// PadLen rounds n up to the next multiple of LenMultiple.
func PadLen(n int) int {
	if n%LenMultiple == 0 {
		return n
	}
	return n + (LenMultiple - n%LenMultiple)
}

// Header is the {id, len} prefix common to every message on the command
// and message pipes.
type Header struct {
	ID  MsgID
	Len uint8
}

// DecodeHeader reads a Header from the front of buf. The caller has
// already established byte order via the HELLO handshake, but the header
// itself is single-byte fields and order-independent.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, scerr.New("wire.decode_header", scerr.KindProtocolViolation, "buffer shorter than header")
	}
	h := Header{ID: MsgID(buf[0]), Len: buf[1]}
	if h.IsTerminator() {
		return h, nil
	}
	if int(h.Len)%LenMultiple != 0 {
		return Header{}, scerr.New("wire.decode_header", scerr.KindProtocolViolation, fmt.Sprintf("len %d not a multiple of %d", h.Len, LenMultiple))
	}
	return h, nil
}

// EncodeHeader writes h to the front of buf, which must have room for at
// least HeaderSize bytes.
func EncodeHeader(buf []byte, h Header) {
	buf[0] = byte(h.ID)
	buf[1] = h.Len
}

// IsTerminator reports whether h marks the end of a message buffer: id==0
// (EOF) or len==0.
func (h Header) IsTerminator() bool {
	return h.ID == MsgEOF || h.Len == 0
}
