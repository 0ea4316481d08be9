// Package usbtransport binds the supercan wire protocol to a physical USB
// device over two bulk endpoint pairs: a command pipe (synchronous
// request/reply) and a message pipe (streaming CAN traffic). It wraps
// gousb's Context/Device/Config/Interface/Endpoint lifecycle the way a
// vendor-class USB peripheral driver does: claim on open, release on
// close, re-claim is never implicit.
package usbtransport

import (
	"context"
	"fmt"
	"time"

	"github.com/google/gousb"
	"github.com/jgressmann/supercan-go/internal/logging"
	"github.com/jgressmann/supercan-go/internal/scerr"
)

// Identity selects which physical device to open.
type Identity struct {
	VendorID  gousb.ID
	ProductID gousb.ID
	// Serial, when non-empty, additionally constrains the match to a
	// device whose iSerialNumber descriptor equals this value — used when
	// more than one matching VID/PID device is attached.
	Serial string
	// ConfigNum and InterfaceNum select the vendor-class configuration
	// and interface carrying the command/message endpoint pairs.
	ConfigNum    int
	InterfaceNum int
	AltSetting   int
}

// EndpointAddrs names the four bulk endpoint addresses the device exposes
// on its vendor-class interface.
type EndpointAddrs struct {
	CommandOut gousb.EndpointAddress
	CommandIn  gousb.EndpointAddress
	MessageOut gousb.EndpointAddress
	MessageIn  gousb.EndpointAddress
}

// Transport owns one claimed USB interface and its four bulk endpoints.
// Not safe for concurrent Open/Close; the command and message pipes may
// be driven from separate goroutines once open.
type Transport struct {
	log *logging.Logger

	ctx    *gousb.Context
	device *gousb.Device
	config *gousb.Config
	intf   *gousb.Interface

	cmdOut *gousb.OutEndpoint
	cmdIn  *gousb.InEndpoint
	msgOut *gousb.OutEndpoint
	msgIn  *gousb.InEndpoint
}

// Open claims id's interface and endpoints, returning a ready Transport.
// The caller must Close it to release the USB context.
func Open(id Identity, eps EndpointAddrs) (*Transport, error) {
	ctx := gousb.NewContext()

	device, err := ctx.OpenDeviceWithVIDPID(id.VendorID, id.ProductID)
	if err != nil {
		ctx.Close()
		return nil, scerr.Wrap("usbtransport.open", scerr.KindDeviceFailure, err)
	}
	if device == nil {
		ctx.Close()
		return nil, scerr.New("usbtransport.open", scerr.KindDeviceUnsupported,
			fmt.Sprintf("no device matches vid:0x%04x pid:0x%04x", id.VendorID, id.ProductID))
	}

	if id.Serial != "" {
		serial, serr := device.SerialNumber()
		if serr != nil || serial != id.Serial {
			device.Close()
			ctx.Close()
			return nil, scerr.New("usbtransport.open", scerr.KindDeviceUnsupported, "serial number does not match")
		}
	}

	config, err := device.Config(id.ConfigNum)
	if err != nil {
		device.Close()
		ctx.Close()
		return nil, scerr.Wrap("usbtransport.open", scerr.KindDeviceFailure, err)
	}

	intf, err := config.Interface(id.InterfaceNum, id.AltSetting)
	if err != nil {
		config.Close()
		device.Close()
		ctx.Close()
		return nil, scerr.Wrap("usbtransport.open", scerr.KindDeviceBusy, err)
	}

	t := &Transport{
		log:    logging.Default().With("usbtransport"),
		ctx:    ctx,
		device: device,
		config: config,
		intf:   intf,
	}

	if err := t.openEndpoints(eps); err != nil {
		t.Close()
		return nil, err
	}

	t.log.Info("device opened", "vid", id.VendorID, "pid", id.ProductID)
	return t, nil
}

func (t *Transport) openEndpoints(eps EndpointAddrs) error {
	var err error
	if t.cmdOut, err = t.intf.OutEndpoint(int(eps.CommandOut)); err != nil {
		return scerr.Wrap("usbtransport.open_endpoints", scerr.KindDeviceFailure, err)
	}
	if t.cmdIn, err = t.intf.InEndpoint(int(eps.CommandIn)); err != nil {
		return scerr.Wrap("usbtransport.open_endpoints", scerr.KindDeviceFailure, err)
	}
	if t.msgOut, err = t.intf.OutEndpoint(int(eps.MessageOut)); err != nil {
		return scerr.Wrap("usbtransport.open_endpoints", scerr.KindDeviceFailure, err)
	}
	if t.msgIn, err = t.intf.InEndpoint(int(eps.MessageIn)); err != nil {
		return scerr.Wrap("usbtransport.open_endpoints", scerr.KindDeviceFailure, err)
	}
	return nil
}

// Close releases the interface, configuration, device handle and USB
// context, in that order, tolerating any of them being nil.
func (t *Transport) Close() error {
	if t.intf != nil {
		t.intf.Close()
		t.intf = nil
	}
	if t.config != nil {
		t.config.Close()
		t.config = nil
	}
	if t.device != nil {
		t.device.Close()
		t.device = nil
	}
	if t.ctx != nil {
		t.ctx.Close()
		t.ctx = nil
	}
	return nil
}

// CommandMaxPacketSize returns the command-out endpoint's max packet size,
// used by the command channel to decide chunking.
func (t *Transport) CommandMaxPacketSize() int {
	return t.cmdOut.Desc.MaxPacketSize
}

// MessageMaxPacketSize returns the message-out endpoint's max packet size,
// used by the stream engine to decide ZLP/terminator policy.
func (t *Transport) MessageMaxPacketSize() int {
	return t.msgOut.Desc.MaxPacketSize
}

// WriteCommand writes data to the command-out endpoint.
func (t *Transport) WriteCommand(ctx context.Context, data []byte) (int, error) {
	return writeEndpoint(ctx, t.cmdOut, data)
}

// ReadCommand reads a reply from the command-in endpoint into buf.
func (t *Transport) ReadCommand(ctx context.Context, buf []byte) (int, error) {
	return readEndpoint(ctx, t.cmdIn, buf)
}

// WriteMessage writes data to the message-out endpoint.
func (t *Transport) WriteMessage(ctx context.Context, data []byte) (int, error) {
	return writeEndpoint(ctx, t.msgOut, data)
}

// ReadMessage reads from the message-in endpoint into buf.
func (t *Transport) ReadMessage(ctx context.Context, buf []byte) (int, error) {
	return readEndpoint(ctx, t.msgIn, buf)
}

func writeEndpoint(ctx context.Context, ep *gousb.OutEndpoint, data []byte) (int, error) {
	n, err := ep.WriteContext(ctx, data)
	if err != nil {
		return n, scerr.Wrap("usbtransport.write", classifyUSBError(err), err)
	}
	return n, nil
}

func readEndpoint(ctx context.Context, ep *gousb.InEndpoint, buf []byte) (int, error) {
	n, err := ep.ReadContext(ctx, buf)
	if err != nil {
		return n, scerr.Wrap("usbtransport.read", classifyUSBError(err), err)
	}
	return n, nil
}

// classifyUSBError maps a transfer error to a taxonomy Kind. Context
// deadline/cancellation surfaces as Timeout/Aborted respectively; anything
// else from the USB stack is treated as a device failure, which callers
// upgrade to Gone once they observe the device has been unplugged.
func classifyUSBError(err error) scerr.Kind {
	switch err {
	case context.DeadlineExceeded:
		return scerr.KindTimeout
	case context.Canceled:
		return scerr.KindAborted
	default:
		return scerr.KindDeviceFailure
	}
}

// WithTimeout is a convenience wrapper pairing context.WithTimeout with
// the caller's defer, mirroring the teacher's single-shot bulk-read
// pattern: one well-timed read per logical operation.
func WithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, d)
}
