package control

import (
	"context"
	"testing"

	"github.com/jgressmann/supercan-go/internal/broker"
	"github.com/jgressmann/supercan-go/internal/channel"
	"github.com/jgressmann/supercan-go/internal/command"
	"github.com/jgressmann/supercan-go/internal/metrics"
	"github.com/jgressmann/supercan-go/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport replays scripted command replies, mirroring the harness
// internal/channel's own controller tests use to drive Open without a
// real USB device.
type fakeTransport struct {
	replies [][]byte
	next    int
}

func (f *fakeTransport) WriteCommand(ctx context.Context, data []byte) (int, error) {
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

func deviceInfoReply() []byte {
	info := wire.DeviceInfo{FeaturePerm: 0xFF, FeatureConf: 0, Name: "chan0"}
	body := make([]byte, wire.PadLen(28+len(info.Name)))
	n := wire.EncodeDeviceInfo(body, wire.LittleEndian, info)
	return reply(wire.MsgDeviceInfo, body[:n])
}

func canInfoReply() []byte {
	info := wire.CANInfo{
		ClockHz:    80_000_000,
		NMBrpMin:   1, NMBrpMax: 32,
		NMTseg1Min: 1, NMTseg1Max: 256,
		NMTseg2Min: 1, NMTseg2Max: 128,
		NMSjwMax:   128,
		DTBrpMin:   1, DTBrpMax: 32,
		DTTseg1Min: 1, DTTseg1Max: 32,
		DTTseg2Min: 1, DTTseg2Max: 16,
		DTSjwMax:   16,
	}
	body := make([]byte, 40)
	wire.EncodeCANInfo(body, wire.LittleEndian, info)
	return reply(wire.MsgCANInfo, body)
}

func newTestHandle(t *testing.T) (*ChannelHandle, broker.ClientID) {
	t.Helper()
	ft := &fakeTransport{replies: [][]byte{helloHostReply(), deviceInfoReply(), canInfoReply()}}
	cmd := command.New(ft, 0)
	br := broker.New(broker.DefaultRingCapacity, 8)
	ctrl := channel.New(cmd, br)
	require.NoError(t, ctrl.Open(context.Background()))

	id, _, _, err := br.Attach(context.Background())
	require.NoError(t, err)

	return &ChannelHandle{Ctrl: ctrl, Broker: br, Stats: metrics.New()}, id
}

func TestGetChannelInfoReturnsCachedIdentity(t *testing.T) {
	reg := NewRegistry()
	h, _ := newTestHandle(t)
	reg.Register("0", h)

	srv := NewServer(reg)
	resp, err := srv.GetChannelInfo(context.Background(), &ChannelInfoRequest{ChannelID: "0"})
	require.NoError(t, err)
	assert.Equal(t, "chan0", resp.Name)
	assert.EqualValues(t, 80_000_000, resp.ClockHz)
	assert.Equal(t, "OPENED", resp.State)
}

func TestGetChannelInfoUnknownIDFails(t *testing.T) {
	srv := NewServer(NewRegistry())
	_, err := srv.GetChannelInfo(context.Background(), &ChannelInfoRequest{ChannelID: "missing"})
	assert.Error(t, err)
}

func TestListClientsReportsAttachedClient(t *testing.T) {
	reg := NewRegistry()
	h, id := newTestHandle(t)
	reg.Register("0", h)

	srv := NewServer(reg)
	resp, err := srv.ListClients(context.Background(), &ListClientsRequest{ChannelID: "0"})
	require.NoError(t, err)
	require.Len(t, resp.Clients, 1)
	assert.EqualValues(t, id, resp.Clients[0].ClientID)
}

func TestGetLeaseStatusReportsHolder(t *testing.T) {
	reg := NewRegistry()
	h, id := newTestHandle(t)
	reg.Register("0", h)
	require.NoError(t, h.Broker.AcquireConfigurationAccess(context.Background(), id))

	srv := NewServer(reg)
	resp, err := srv.GetLeaseStatus(context.Background(), &LeaseStatusRequest{ChannelID: "0"})
	require.NoError(t, err)
	assert.True(t, resp.Held)
	assert.EqualValues(t, id, resp.HolderID)
}

func TestGetStatsReturnsTrafficCounters(t *testing.T) {
	reg := NewRegistry()
	h, _ := newTestHandle(t)
	h.Stats.AddRx(8)
	h.Stats.AddTx(16)
	reg.Register("0", h)

	srv := NewServer(reg)
	resp, err := srv.GetStats(context.Background(), &GetStatsRequest{ChannelID: "0"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, resp.FramesRx)
	assert.EqualValues(t, 1, resp.FramesTx)
}
