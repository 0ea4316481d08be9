package stream

import (
	"testing"

	"github.com/jgressmann/supercan-go/internal/timestamp"
	"github.com/jgressmann/supercan-go/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusStateMachineTracksStatus(t *testing.T) {
	m := NewBusStateMachine()
	assert.Equal(t, StateErrorActive, m.Current())

	state, changed := m.Apply(wire.CANStatus{BusStatus: wire.BusErrorWarning})
	assert.Equal(t, StateErrorWarning, state)
	assert.True(t, changed)

	state, changed = m.Apply(wire.CANStatus{BusStatus: wire.BusErrorWarning})
	assert.Equal(t, StateErrorWarning, state)
	assert.False(t, changed)
}

func TestBusStateMachineDesyncForcesOff(t *testing.T) {
	m := NewBusStateMachine()
	state, changed := m.Apply(wire.CANStatus{BusStatus: wire.BusErrorActive, Flags: TxRDesync})
	assert.Equal(t, StateBusOff, state)
	assert.True(t, changed)
}

type recordingDispatcher struct {
	rx       []wire.CANRx
	statuses []BusState
	errors   []wire.CANErrorEvent
	txrs     []uint8
}

func (r *recordingDispatcher) OnCANRx(frame wire.CANRx, hostTimestampUs uint64) {
	r.rx = append(r.rx, frame)
}
func (r *recordingDispatcher) OnCANStatus(status wire.CANStatus, state BusState, changed bool, hostTimestampUs uint64) {
	r.statuses = append(r.statuses, state)
}
func (r *recordingDispatcher) OnCANError(ev wire.CANErrorEvent, hostTimestampUs uint64) {
	r.errors = append(r.errors, ev)
}
func (r *recordingDispatcher) OnCANTxR(trackID uint8, flags wire.FrameFlag, hostTimestampUs uint64) {
	r.txrs = append(r.txrs, trackID)
}

func TestParserDispatchesUntilTerminator(t *testing.T) {
	order := wire.LittleEndian
	var buf []byte

	rxBody := make([]byte, 12+8)
	order.PutUint32(rxBody[4:8], 0x123)
	rxBody[1] = 8 // DLC
	order.PutUint32(rxBody[8:12], 1000)

	msgLen := wire.PadLen(wire.HeaderSize + len(rxBody))
	rxMsg := make([]byte, msgLen)
	wire.EncodeHeader(rxMsg, wire.Header{ID: wire.MsgCANRx, Len: uint8(msgLen)})
	copy(rxMsg[wire.HeaderSize:], rxBody)
	buf = append(buf, rxMsg...)

	// terminator
	buf = append(buf, 0, 0)

	// trailing garbage after EOF must not be parsed
	garbage := make([]byte, wire.HeaderSize)
	wire.EncodeHeader(garbage, wire.Header{ID: wire.MsgCANRx, Len: 4})
	buf = append(buf, garbage...)

	p := NewParser(order, timestamp.New(), NewBusStateMachine())
	d := &recordingDispatcher{}
	p.Parse(buf, d)

	require.Len(t, d.rx, 1)
	assert.EqualValues(t, 0x123, d.rx[0].CANID)
}

// A zero-length message with a non-zero id still terminates the buffer
// per spec.md §6.2 ("id==0 (EOF) or len==0 terminates a buffer"), not
// just the canonical id==0 EOF marker.
func TestParserStopsOnNonEOFZeroLengthTerminator(t *testing.T) {
	order := wire.LittleEndian
	buf := []byte{byte(wire.MsgCANRx), 0}

	garbage := make([]byte, wire.HeaderSize)
	wire.EncodeHeader(garbage, wire.Header{ID: wire.MsgCANRx, Len: 4})
	buf = append(buf, garbage...)

	p := NewParser(order, timestamp.New(), NewBusStateMachine())
	d := &recordingDispatcher{}
	p.Parse(buf, d)

	assert.Empty(t, d.rx, "nothing after a zero-length terminator should be parsed")
}

func TestPendingTxResolveMarksDropped(t *testing.T) {
	p := PendingTx{ClientTrackID: 9, CANID: 0x42, DLC: 0}
	rec := p.Resolve(wire.FlagDRP, 5000)
	assert.True(t, rec.Dropped)
	assert.EqualValues(t, 9, rec.TrackID)
	assert.EqualValues(t, 5000, rec.HostTimestampUs)
}

func TestModeValidateRejectsFDOnClassicChannel(t *testing.T) {
	m := Mode{FD: false}
	err := m.Validate(TxRequest{DLC: 0, Flags: wire.FlagFDF})
	require.Error(t, err)
}

func TestModeValidateRejectsRTRAndFDFTogether(t *testing.T) {
	m := Mode{FD: true}
	err := m.Validate(TxRequest{DLC: 0, Flags: wire.FlagRTR | wire.FlagFDF})
	require.Error(t, err)
}

func TestModeValidateChecksPayloadLength(t *testing.T) {
	m := Mode{FD: false}
	err := m.Validate(TxRequest{DLC: 8, Data: []byte{1, 2, 3}})
	require.Error(t, err)

	err = m.Validate(TxRequest{DLC: 8, Data: make([]byte, 8)})
	require.NoError(t, err)
}

func TestEncoderAppendsZLPWhenLengthLandsOnPacketBoundary(t *testing.T) {
	// msgBufferSize > epSize and encoded length is an exact multiple of
	// epSize: a 4-byte zero terminator chunk must be appended.
	enc := NewEncoder(wire.LittleEndian, 128, 20)
	req := TxRequest{CANID: 1, DLC: 8, Data: make([]byte, 8)}
	out := enc.Encode(3, req)

	// header(2) + body(8+8)=16 -> padded to 20, exactly epSize -> +4 terminator
	assert.Equal(t, 24, len(out))
	assert.Equal(t, byte(0), out[20])
	assert.Equal(t, byte(0), out[23])
}

func TestEncoderSkipsZLPWhenNotOnBoundary(t *testing.T) {
	enc := NewEncoder(wire.LittleEndian, 128, 64)
	req := TxRequest{CANID: 1, DLC: 8, Data: make([]byte, 8)}
	out := enc.Encode(3, req)
	assert.Equal(t, 20, len(out))
}
