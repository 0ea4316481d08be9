package channel

import (
	"context"
	"sync"

	"github.com/jgressmann/supercan-go/internal/bittiming"
	"github.com/jgressmann/supercan-go/internal/broker"
	"github.com/jgressmann/supercan-go/internal/command"
	"github.com/jgressmann/supercan-go/internal/logging"
	"github.com/jgressmann/supercan-go/internal/scerr"
	"github.com/jgressmann/supercan-go/internal/wire"
)

// BitTimingRequest is a caller's nominal or data bit-timing request,
// expressed the way a client specifies it (bitrate + sample point),
// before it's solved against the hardware ranges CAN_INFO reported.
type BitTimingRequest struct {
	Bitrate      uint32
	SamplePoint  float64 // 0 means "use the CiA default for this bitrate"
	SJW          uint16  // 0 means "as large as TSEG2 allows"
	MinTQs       uint16
}

// BringUpRequest is everything SetBus(on) needs to run the bring-up
// script in one call.
type BringUpRequest struct {
	Nominal BitTimingRequest
	Data    BitTimingRequest // ignored unless FD is true
	FD      bool
	DAR     bool
}

// Controller owns one channel's USB handle (through the command
// channel), its cached identity, the lease/broker that arbitrates
// multi-client access, and the lifecycle state machine. It exposes the
// operations a client-facing API layer calls: Open, Close,
// SetNominalBitTiming, SetDataBitTiming, SetFeatureFlags, SetBus. It has
// no scan operation; device enumeration lives in internal/discovery.
type Controller struct {
	mu    sync.Mutex
	log   *logging.Logger
	cmd   *command.Channel
	state *Machine
	br    *broker.Broker

	order  wire.ByteOrder
	device wire.DeviceInfo
	info   wire.CANInfo

	fd bool // whether the channel is currently configured for CAN-FD
}

// New creates a Controller bound to cmd (the command-channel transport)
// and br (the broker owning this channel's clients/lease/track pool).
func New(cmd *command.Channel, br *broker.Broker) *Controller {
	return &Controller{
		log:   logging.Default().With("channel"),
		cmd:   cmd,
		state: NewMachine(),
		br:    br,
		order: wire.LittleEndian,
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Current()
}

// DeviceInfo returns the cached identity reported at Open.
func (c *Controller) DeviceInfo() wire.DeviceInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.device
}

// CANInfo returns the cached hardware description reported at Open.
func (c *Controller) CANInfo() wire.CANInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

// IsFD reports whether the channel was last brought on-bus with CAN-FD
// requested and granted.
func (c *Controller) IsFD() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fd
}

// Open runs the handshake: HELLO_DEVICE establishes byte order and the
// command buffer size, then DEVICE_INFO and CAN_INFO fetch the static
// identity and hardware ranges cached for the rest of the attached
// lifetime.
func (c *Controller) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.state.Require(StateClosed); err != nil {
		return err
	}

	helloReq := make([]byte, wire.HeaderSize)
	wire.EncodeHeader(helloReq, wire.Header{ID: wire.MsgHelloDevice, Len: uint8(wire.HeaderSize)})
	rest, err := c.cmd.Do(ctx, helloReq, 0)
	if err != nil {
		return scerr.Wrap("channel.open_hello", scerr.KindDeviceFailure, err)
	}
	_, body, err := splitMessage(rest, wire.MsgHelloHost)
	if err != nil {
		return err
	}
	hello, err := wire.DecodeHelloHost(body)
	if err != nil {
		return err
	}
	c.order = wire.FromHelloFlag(hello.ByteOrderFlag)

	diReq := make([]byte, wire.HeaderSize)
	wire.EncodeHeader(diReq, wire.Header{ID: wire.MsgDeviceInfo, Len: uint8(wire.HeaderSize)})
	rest, err = c.cmd.Do(ctx, diReq, 0)
	if err != nil {
		return scerr.Wrap("channel.open_device_info", scerr.KindDeviceFailure, err)
	}
	_, body, err = splitMessage(rest, wire.MsgDeviceInfo)
	if err != nil {
		return err
	}
	device, err := wire.DecodeDeviceInfo(body, c.order)
	if err != nil {
		return err
	}
	c.device = device

	ciReq := make([]byte, wire.HeaderSize)
	wire.EncodeHeader(ciReq, wire.Header{ID: wire.MsgCANInfo, Len: uint8(wire.HeaderSize)})
	rest, err = c.cmd.Do(ctx, ciReq, 0)
	if err != nil {
		return scerr.Wrap("channel.open_can_info", scerr.KindDeviceFailure, err)
	}
	_, body, err = splitMessage(rest, wire.MsgCANInfo)
	if err != nil {
		return err
	}
	info, err := wire.DecodeCANInfo(body, c.order)
	if err != nil {
		return err
	}
	c.info = info

	return c.state.Transition(StateOpened)
}

// Close cancels outstanding work and returns the channel to Closed from
// any open state.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Current() == StateClosed {
		return nil
	}
	if c.state.Current() == StateOnBus {
		if err := c.setBusLocked(ctx, false); err != nil {
			c.log.Warn("bus-off during close did not complete cleanly", "err", err)
		}
	}
	return c.state.Transition(StateClosed)
}

// HandleDeviceGone jumps the state machine straight to Closed and marks
// every attached client's ring Gone, per the unplug behavior the
// protocol mandates.
func (c *Controller) HandleDeviceGone() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.HandleDeviceGone()
	c.br.HandleDeviceGone()
}

// nominalHardware derives bittiming.HardwareConstraints from the cached
// CAN_INFO's nominal range.
func (c *Controller) nominalHardware() bittiming.HardwareConstraints {
	return bittiming.HardwareConstraints{
		ClockHz:  c.info.ClockHz,
		BrpMin:   uint32(c.info.NMBrpMin),
		BrpMax:   uint32(c.info.NMBrpMax),
		BrpStep:  1,
		Tseg1Min: uint32(c.info.NMTseg1Min),
		Tseg1Max: uint32(c.info.NMTseg1Max),
		Tseg2Min: uint32(c.info.NMTseg2Min),
		Tseg2Max: uint32(c.info.NMTseg2Max),
		SjwMax:   uint32(c.info.NMSjwMax),
	}
}

// dataHardware derives bittiming.HardwareConstraints from the cached
// CAN_INFO's data-phase range.
func (c *Controller) dataHardware() bittiming.HardwareConstraints {
	return bittiming.HardwareConstraints{
		ClockHz:  c.info.ClockHz,
		BrpMin:   uint32(c.info.DTBrpMin),
		BrpMax:   uint32(c.info.DTBrpMax),
		BrpStep:  1,
		Tseg1Min: uint32(c.info.DTTseg1Min),
		Tseg1Max: uint32(c.info.DTTseg1Max),
		Tseg2Min: uint32(c.info.DTTseg2Min),
		Tseg2Max: uint32(c.info.DTTseg2Max),
		SjwMax:   uint32(c.info.DTSjwMax),
	}
}

// SetNominalBitTiming validates client holds the configuration-access
// lease, solves req against the nominal hardware range, clamping inputs
// to it, and sends the result as an NM_BITTIMING message.
func (c *Controller) SetNominalBitTiming(ctx context.Context, client broker.ClientID, req BitTimingRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.br.CheckConfigurationAccess(client); err != nil {
		return err
	}
	settings, err := c.solveClassic(req, c.nominalHardware())
	if err != nil {
		return err
	}
	return c.sendBitTiming(ctx, wire.MsgNMBitTiming, settings)
}

// SetDataBitTiming validates client holds the lease and the channel
// permits FD, solves req against the data-phase hardware range, and
// sends the result as a DT_BITTIMING message.
func (c *Controller) SetDataBitTiming(ctx context.Context, client broker.ClientID, req BitTimingRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.br.CheckConfigurationAccess(client); err != nil {
		return err
	}
	if wire.FeatureFlag(c.device.FeaturePerm)&wire.FeatureFDF == 0 {
		return scerr.New("channel.set_data_bittiming", scerr.KindDeviceUnsupported, "device does not permit CAN-FD")
	}
	settings, err := c.solveClassic(req, c.dataHardware())
	if err != nil {
		return err
	}
	return c.sendBitTiming(ctx, wire.MsgDTBitTiming, settings)
}

func (c *Controller) solveClassic(req BitTimingRequest, hw bittiming.HardwareConstraints) (bittiming.Settings, error) {
	sp := req.SamplePoint
	if sp == 0 {
		sp = float64(bittiming.DefaultSamplePoint(req.Bitrate)) / bittiming.SamplePointScale
	}
	return bittiming.SolveClassicFraction(hw, bittiming.RequestFraction{
		Bitrate:     req.Bitrate,
		SamplePoint: sp,
		SJW:         uint32(req.SJW),
		MinTQs:      uint32(req.MinTQs),
	})
}

func (c *Controller) sendBitTiming(ctx context.Context, id wire.MsgID, s bittiming.Settings) error {
	body := make([]byte, 8)
	wire.EncodeBitTiming(body, c.order, wire.BitTiming{
		Brp:   uint16(s.Brp),
		Sjw:   uint16(s.SJW),
		Tseg1: uint16(s.Tseg1),
		Tseg2: uint16(s.Tseg2),
	})
	msg := make([]byte, wire.HeaderSize+len(body))
	wire.EncodeHeader(msg, wire.Header{ID: id, Len: uint8(len(msg))})
	copy(msg[wire.HeaderSize:], body)
	_, err := c.cmd.Do(ctx, msg, 0)
	return err
}

// SetFeatureFlags validates client holds the lease and sends a FEATURES
// message applying op/arg, clamped to the device's permanent feature
// mask so a caller can never request a bit the hardware doesn't permit.
func (c *Controller) SetFeatureFlags(ctx context.Context, client broker.ClientID, op wire.FeatureOp, arg wire.FeatureFlag) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.br.CheckConfigurationAccess(client); err != nil {
		return err
	}
	clamped := arg & wire.FeatureFlag(c.device.FeaturePerm)
	return c.sendFeatures(ctx, op, clamped)
}

func (c *Controller) sendFeatures(ctx context.Context, op wire.FeatureOp, arg wire.FeatureFlag) error {
	body := make([]byte, 8)
	wire.EncodeFeatures(body, c.order, wire.Features{Op: op, Arg: uint32(arg)})
	msg := make([]byte, wire.HeaderSize+len(body))
	wire.EncodeHeader(msg, wire.Header{ID: wire.MsgFeatures, Len: uint8(len(msg))})
	copy(msg[wire.HeaderSize:], body)
	_, err := c.cmd.Do(ctx, msg, 0)
	return err
}

// SetBus drives the bring-up script (on=true) or a plain bus-off
// (on=false). The caller must hold the configuration-access lease.
// Bring-up runs, in strict order: clear features, set target features
// (TXR always, FDF/DAR if requested, clamped to feat_perm), set nominal
// bit-timing, set data bit-timing (only if FD requested and permitted),
// BUS on. The channel is only marked OnBus once every step succeeds; any
// failure triggers a BUS(off) and the state stays Configured.
func (c *Controller) SetBus(ctx context.Context, client broker.ClientID, on bool, req BringUpRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.br.CheckConfigurationAccess(client); err != nil {
		return err
	}
	if !on {
		return c.setBusLocked(ctx, false)
	}
	return c.bringUpLocked(ctx, req)
}

func (c *Controller) bringUpLocked(ctx context.Context, req BringUpRequest) error {
	cur := c.state.Current()
	if cur != StateOpened && cur != StateConfigured {
		return scerr.New("channel.bring_up", scerr.KindInvalidParam, "bus on requires the channel to be opened or configured, got "+cur.String())
	}

	if err := c.sendFeatures(ctx, wire.FeatureOpClear, 0xFFFFFFFF); err != nil {
		return scerr.Wrap("channel.bring_up_clear_features", scerr.KindDeviceFailure, err)
	}

	target := wire.FeatureTXR
	if req.FD {
		target |= wire.FeatureFDF
	}
	if req.DAR {
		target |= wire.FeatureDAR
	}
	target &= wire.FeatureFlag(c.device.FeaturePerm)
	if err := c.sendFeatures(ctx, wire.FeatureOpOr, target); err != nil {
		return c.unwind(ctx, scerr.Wrap("channel.bring_up_set_features", scerr.KindDeviceFailure, err))
	}

	nominal, err := c.solveClassic(req.Nominal, c.nominalHardware())
	if err != nil {
		return c.unwind(ctx, err)
	}
	if err := c.sendBitTiming(ctx, wire.MsgNMBitTiming, nominal); err != nil {
		return c.unwind(ctx, scerr.Wrap("channel.bring_up_nominal_bittiming", scerr.KindDeviceFailure, err))
	}

	if req.FD && target.Has(wire.FeatureFDF) {
		data, err := c.solveClassic(req.Data, c.dataHardware())
		if err != nil {
			return c.unwind(ctx, err)
		}
		if err := c.sendBitTiming(ctx, wire.MsgDTBitTiming, data); err != nil {
			return c.unwind(ctx, scerr.Wrap("channel.bring_up_data_bittiming", scerr.KindDeviceFailure, err))
		}
	}

	if cur == StateOpened {
		if err := c.state.Transition(StateConfigured); err != nil {
			return c.unwind(ctx, err)
		}
	}

	if err := c.setBusLocked(ctx, true); err != nil {
		return c.unwind(ctx, err)
	}

	c.fd = req.FD
	c.br.SetOnBus(true)
	if err := c.state.Transition(StateOnBus); err != nil {
		return c.unwind(ctx, err)
	}
	return nil
}

// unwind runs BUS(off) after a bring-up step fails, and returns the
// original error (a failed unwind is logged, not escalated, since the
// original failure is the one the caller needs to see).
func (c *Controller) unwind(ctx context.Context, cause error) error {
	if err := c.setBusLocked(ctx, false); err != nil {
		c.log.Warn("bus-off unwind after failed bring-up did not complete cleanly", "err", err)
	}
	return cause
}

func (c *Controller) setBusLocked(ctx context.Context, on bool) error {
	body := make([]byte, 4)
	wire.EncodeBus(body, wire.Bus{On: on})
	msg := make([]byte, wire.HeaderSize+len(body))
	wire.EncodeHeader(msg, wire.Header{ID: wire.MsgBus, Len: uint8(len(msg))})
	copy(msg[wire.HeaderSize:], body)
	if _, err := c.cmd.Do(ctx, msg, 0); err != nil {
		return scerr.Wrap("channel.set_bus", scerr.KindDeviceFailure, err)
	}
	if !on {
		c.br.SetOnBus(false)
		_ = c.state.Transition(StateConfigured)
	}
	return nil
}

// splitMessage decodes a single wire.Header at the start of buf and
// verifies it carries wantID, returning the header and its body slice.
func splitMessage(buf []byte, wantID wire.MsgID) (wire.Header, []byte, error) {
	hdr, err := wire.DecodeHeader(buf)
	if err != nil {
		return wire.Header{}, nil, err
	}
	if hdr.ID != wantID {
		return wire.Header{}, nil, scerr.New("channel.split_message", scerr.KindProtocolViolation, "unexpected reply message id")
	}
	if int(hdr.Len) > len(buf) {
		return wire.Header{}, nil, scerr.New("channel.split_message", scerr.KindProtocolViolation, "reply shorter than declared length")
	}
	return hdr, buf[wire.HeaderSize:hdr.Len], nil
}

