// Package command implements the synchronous request/reply exchange over
// the device's command bulk pipe: HELLO, DEVICE_INFO, CAN_INFO, BUS,
// BITTIMING and FEATURES all go through the single blocking call this
// package exposes.
package command

import (
	"context"
	"time"

	"github.com/jgressmann/supercan-go/internal/logging"
	"github.com/jgressmann/supercan-go/internal/scerr"
	"github.com/jgressmann/supercan-go/internal/wire"
)

// DefaultTimeout is CMD_TIMEOUT_MS from the protocol description: the
// deadline for a full request/reply round trip on the command pipe.
const DefaultTimeout = 3000 * time.Millisecond

// Transport is the minimal bulk command-pipe surface the channel needs;
// satisfied by *usbtransport.Transport.
type Transport interface {
	WriteCommand(ctx context.Context, data []byte) (int, error)
	ReadCommand(ctx context.Context, buf []byte) (int, error)
	CommandMaxPacketSize() int
}

// DeviceErrorCode is the device's own {error:u8} reply code, distinct
// from the host-side scerr.Kind taxonomy it maps onto.
type DeviceErrorCode uint8

const (
	DeviceErrorNone DeviceErrorCode = iota
	DeviceErrorShort
	DeviceErrorParam
	DeviceErrorBusy
	DeviceErrorUnsupported
	DeviceErrorUnknown
)

// kindOf maps a device error code to the host error taxonomy.
func (c DeviceErrorCode) kindOf() scerr.Kind {
	switch c {
	case DeviceErrorNone:
		return ""
	case DeviceErrorShort, DeviceErrorParam:
		return scerr.KindInvalidParam
	case DeviceErrorBusy:
		return scerr.KindDeviceBusy
	case DeviceErrorUnsupported:
		return scerr.KindDeviceUnsupported
	default:
		return scerr.KindDeviceFailure
	}
}

// Channel drives one round trip at a time over the command pipe; callers
// serialize concurrent requests externally (the channel-level mutex
// described in the concurrency model covers this).
type Channel struct {
	t    Transport
	log  *logging.Logger
	bufSize int
}

// New creates a Channel bound to t, sizing its reply buffer to t's max
// packet size unless bufSize overrides it.
func New(t Transport, bufSize int) *Channel {
	if bufSize <= 0 {
		bufSize = t.CommandMaxPacketSize()
	}
	return &Channel{t: t, log: logging.Default().With("command"), bufSize: bufSize}
}

// Do submits req on the command-out pipe and waits for a reply within
// timeout (DefaultTimeout if zero), returning the decoded reply body
// (everything after the leading ERROR message, starting with the requested
// message's own header). The leading ERROR message's code is mapped to the host
// error taxonomy; a non-NONE code returns both the decoded reply (nil)
// and a *scerr.Error.
func (c *Channel) Do(ctx context.Context, req []byte, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := c.t.WriteCommand(wctx, req); err != nil {
		return nil, scerr.Wrap("command.do", timeoutAwareKind(err), err)
	}

	buf := make([]byte, c.bufSize)
	n, err := c.t.ReadCommand(wctx, buf)
	if err != nil {
		return nil, scerr.Wrap("command.do", timeoutAwareKind(err), err)
	}
	buf = buf[:n]

	hdr, err := wire.DecodeHeader(buf)
	if err != nil {
		return nil, err
	}
	if hdr.ID != wire.MsgError {
		return nil, scerr.New("command.do", scerr.KindProtocolViolation, "reply does not begin with ERROR")
	}
	if int(hdr.Len) < wire.HeaderSize+1 {
		return nil, scerr.New("command.do", scerr.KindProtocolViolation, "ERROR body too short")
	}

	reply, err := wire.DecodeErrorReply(buf[wire.HeaderSize:])
	if err != nil {
		return nil, err
	}
	code := DeviceErrorCode(reply.Code)
	if kind := code.kindOf(); kind != "" {
		c.log.Warn("command rejected by device", "code", reply.Code)
		return nil, scerr.New("command.do", kind, "device rejected command")
	}

	rest := buf[int(hdr.Len):]
	return rest, nil
}

func timeoutAwareKind(err error) scerr.Kind {
	if scerr.Is(err, scerr.KindTimeout) {
		return scerr.KindTimeout
	}
	if scerr.Is(err, scerr.KindAborted) {
		return scerr.KindAborted
	}
	return scerr.KindDeviceFailure
}
