package channel

import (
	"context"
	"testing"

	"github.com/jgressmann/supercan-go/internal/broker"
	"github.com/jgressmann/supercan-go/internal/command"
	"github.com/jgressmann/supercan-go/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport replays a queue of scripted replies, one per Do() call,
// and records every outbound write for assertions on call order.
type fakeTransport struct {
	replies [][]byte
	next    int
	writes  [][]byte
}

func (f *fakeTransport) WriteCommand(ctx context.Context, data []byte) (int, error) {
	f.writes = append(f.writes, append([]byte(nil), data...))
	return len(data), nil
}

func (f *fakeTransport) ReadCommand(ctx context.Context, buf []byte) (int, error) {
	reply := f.replies[f.next]
	f.next++
	return copy(buf, reply), nil
}

func (f *fakeTransport) CommandMaxPacketSize() int { return 256 }

func okErrorMsg() []byte {
	total := wire.PadLen(wire.HeaderSize + 3)
	buf := make([]byte, total)
	wire.EncodeHeader(buf, wire.Header{ID: wire.MsgError, Len: uint8(total)})
	return buf
}

func msgWithBody(id wire.MsgID, body []byte) []byte {
	total := wire.PadLen(wire.HeaderSize + len(body))
	buf := make([]byte, total)
	wire.EncodeHeader(buf, wire.Header{ID: id, Len: uint8(total)})
	copy(buf[wire.HeaderSize:], body)
	return buf
}

func reply(id wire.MsgID, body []byte) []byte {
	return append(okErrorMsg(), msgWithBody(id, body)...)
}

func helloHostReply() []byte {
	body := make([]byte, 4)
	wire.EncodeHelloHost(body, wire.HelloHost{ProtoVersion: 3, ByteOrderFlag: 0, CmdBufferSize: 256})
	return reply(wire.MsgHelloHost, body)
}

func deviceInfoReply(perm uint32) []byte {
	info := wire.DeviceInfo{FeaturePerm: perm, FeatureConf: 0, Name: "chan0"}
	body := make([]byte, wire.PadLen(28+len(info.Name)))
	n := wire.EncodeDeviceInfo(body, wire.LittleEndian, info)
	return reply(wire.MsgDeviceInfo, body[:n])
}

func canInfoReply() []byte {
	info := wire.CANInfo{
		ClockHz: 80_000_000,
		NMBrpMin: 1, NMBrpMax: 32,
		NMTseg1Min: 1, NMTseg1Max: 256,
		NMTseg2Min: 1, NMTseg2Max: 128,
		NMSjwMax: 128,
		DTBrpMin: 1, DTBrpMax: 32,
		DTTseg1Min: 1, DTTseg1Max: 32,
		DTTseg2Min: 1, DTTseg2Max: 16,
		DTSjwMax: 16,
	}
	body := make([]byte, 40)
	wire.EncodeCANInfo(body, wire.LittleEndian, info)
	return reply(wire.MsgCANInfo, body)
}

func okReply() []byte {
	return okErrorMsg()
}

func errorReply(code byte) []byte {
	body := []byte{code, 0, 0}
	total := wire.PadLen(wire.HeaderSize + len(body))
	buf := make([]byte, total)
	wire.EncodeHeader(buf, wire.Header{ID: wire.MsgError, Len: uint8(total)})
	copy(buf[wire.HeaderSize:], body)
	return buf
}

func openedController(t *testing.T, perm uint32) (*Controller, *fakeTransport, broker.ClientID) {
	t.Helper()
	ft := &fakeTransport{replies: [][]byte{helloHostReply(), deviceInfoReply(perm), canInfoReply()}}
	cmd := command.New(ft, 0)
	br := broker.New(broker.DefaultRingCapacity, 8)
	c := New(cmd, br)

	require.NoError(t, c.Open(context.Background()))
	assert.Equal(t, StateOpened, c.State())

	id, _, _, err := br.Attach(context.Background())
	require.NoError(t, err)
	require.NoError(t, br.AcquireConfigurationAccess(context.Background(), id))
	return c, ft, id
}

func TestOpenRunsHandshakeAndCachesIdentity(t *testing.T) {
	c, _, _ := openedController(t, 0xFFFFFFFF)
	assert.Equal(t, StateOpened, c.State())
	assert.Equal(t, "chan0", c.DeviceInfo().Name)
	assert.EqualValues(t, 80_000_000, c.CANInfo().ClockHz)
}

func TestOpenRejectsWhenNotClosed(t *testing.T) {
	c, _, _ := openedController(t, 0xFFFFFFFF)
	err := c.Open(context.Background())
	require.Error(t, err)
}

func TestSetNominalBitTimingRequiresConfigurationAccess(t *testing.T) {
	c, _, _ := openedController(t, 0xFFFFFFFF)
	err := c.SetNominalBitTiming(context.Background(), broker.ClientID(99), BitTimingRequest{Bitrate: 500_000})
	require.Error(t, err)
}

func TestSetNominalBitTimingSendsSolvedSettings(t *testing.T) {
	c, ft, id := openedController(t, 0xFFFFFFFF)
	ft.replies = append(ft.replies, okReply())

	err := c.SetNominalBitTiming(context.Background(), id, BitTimingRequest{Bitrate: 500_000})
	require.NoError(t, err)

	last := ft.writes[len(ft.writes)-1]
	hdr, err := wire.DecodeHeader(last)
	require.NoError(t, err)
	assert.Equal(t, wire.MsgNMBitTiming, hdr.ID)
}

func TestSetDataBitTimingRejectedWithoutFDPermission(t *testing.T) {
	c, _, id := openedController(t, 0) // no FeatureFDF permitted
	err := c.SetDataBitTiming(context.Background(), id, BitTimingRequest{Bitrate: 2_000_000})
	require.Error(t, err)
}

func TestBringUpRunsScriptInOrderAndReachesOnBus(t *testing.T) {
	c, ft, id := openedController(t, uint32(wire.FeatureTXR|wire.FeatureFDF|wire.FeatureDAR))
	// clear features, set features, nominal bittiming, data bittiming, bus-on
	ft.replies = append(ft.replies, okReply(), okReply(), okReply(), okReply(), okReply())

	err := c.SetBus(context.Background(), id, true, BringUpRequest{
		Nominal: BitTimingRequest{Bitrate: 500_000},
		Data:    BitTimingRequest{Bitrate: 2_000_000},
		FD:      true,
	})
	require.NoError(t, err)
	assert.Equal(t, StateOnBus, c.State())

	ids := make([]wire.MsgID, 0, len(ft.writes))
	for _, w := range ft.writes[3:] { // skip hello/device-info/can-info
		hdr, derr := wire.DecodeHeader(w)
		require.NoError(t, derr)
		ids = append(ids, hdr.ID)
	}
	require.Len(t, ids, 5)
	assert.Equal(t, wire.MsgFeatures, ids[0])
	assert.Equal(t, wire.MsgFeatures, ids[1])
	assert.Equal(t, wire.MsgNMBitTiming, ids[2])
	assert.Equal(t, wire.MsgDTBitTiming, ids[3])
	assert.Equal(t, wire.MsgBus, ids[4])
}

func TestBringUpUnwindsOnFeatureFailureAndStaysConfigured(t *testing.T) {
	c, ft, id := openedController(t, uint32(wire.FeatureTXR))
	// clear-features ok, set-features fails -> unwind sends bus-off
	ft.replies = append(ft.replies, okReply())
	ft.replies = append(ft.replies, errorReply(3)) // DeviceErrorBusy
	ft.replies = append(ft.replies, okReply())                            // unwind bus-off

	err := c.SetBus(context.Background(), id, true, BringUpRequest{
		Nominal: BitTimingRequest{Bitrate: 500_000},
	})
	require.Error(t, err)
	assert.Equal(t, StateConfigured, c.State())
}

func TestSetBusOffTransitionsToConfigured(t *testing.T) {
	c, ft, id := openedController(t, uint32(wire.FeatureTXR))
	ft.replies = append(ft.replies, okReply(), okReply(), okReply(), okReply())

	require.NoError(t, c.SetBus(context.Background(), id, true, BringUpRequest{
		Nominal: BitTimingRequest{Bitrate: 500_000},
	}))
	assert.Equal(t, StateOnBus, c.State())

	ft.replies = append(ft.replies, okReply())
	require.NoError(t, c.SetBus(context.Background(), id, false, BringUpRequest{}))
	assert.Equal(t, StateConfigured, c.State())
}

func TestHandleDeviceGoneForcesClosed(t *testing.T) {
	c, _, _ := openedController(t, 0xFFFFFFFF)
	c.HandleDeviceGone()
	assert.Equal(t, StateClosed, c.State())
}

func TestCloseIsIdempotentFromClosed(t *testing.T) {
	cmd := command.New(&fakeTransport{}, 0)
	br := broker.New(broker.DefaultRingCapacity, 8)
	c := New(cmd, br)
	require.NoError(t, c.Close(context.Background()))
	assert.Equal(t, StateClosed, c.State())
}
