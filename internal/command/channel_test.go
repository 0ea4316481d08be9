package command

import (
	"context"
	"testing"
	"time"

	"github.com/jgressmann/supercan-go/internal/scerr"
	"github.com/jgressmann/supercan-go/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	reply   []byte
	writeErr error
	readErr  error
	sawWrite []byte
}

func (f *fakeTransport) WriteCommand(ctx context.Context, data []byte) (int, error) {
	f.sawWrite = append([]byte(nil), data...)
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	return len(data), nil
}

func (f *fakeTransport) ReadCommand(ctx context.Context, buf []byte) (int, error) {
	if f.readErr != nil {
		return 0, f.readErr
	}
	n := copy(buf, f.reply)
	return n, nil
}

func (f *fakeTransport) CommandMaxPacketSize() int { return 64 }

func encodeErrorReply(code byte, tail []byte) []byte {
	body := append([]byte{code, 0, 0}, tail...)
	total := wire.PadLen(wire.HeaderSize + len(body))
	buf := make([]byte, total)
	wire.EncodeHeader(buf, wire.Header{ID: wire.MsgError, Len: uint8(total)})
	copy(buf[wire.HeaderSize:], body)
	return buf
}

func TestDoSucceedsOnNoneErrorCode(t *testing.T) {
	ft := &fakeTransport{reply: encodeErrorReply(byte(DeviceErrorNone), nil)}
	ch := New(ft, 0)

	rest, err := ch.Do(context.Background(), []byte{1, 2, 3, 4}, time.Second)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Equal(t, []byte{1, 2, 3, 4}, ft.sawWrite)
}

func TestDoMapsBusyDeviceError(t *testing.T) {
	ft := &fakeTransport{reply: encodeErrorReply(byte(DeviceErrorBusy), nil)}
	ch := New(ft, 0)

	_, err := ch.Do(context.Background(), []byte{1, 2, 3, 4}, time.Second)
	require.Error(t, err)
	assert.True(t, scerr.Is(err, scerr.KindDeviceBusy))
}

func TestDoRejectsReplyNotStartingWithError(t *testing.T) {
	buf := make([]byte, 4)
	wire.EncodeHeader(buf, wire.Header{ID: wire.MsgDeviceInfo, Len: 4})
	ft := &fakeTransport{reply: buf}
	ch := New(ft, 0)

	_, err := ch.Do(context.Background(), []byte{1}, time.Second)
	require.Error(t, err)
	assert.True(t, scerr.Is(err, scerr.KindProtocolViolation))
}

func TestDoPropagatesWriteTimeout(t *testing.T) {
	ft := &fakeTransport{writeErr: scerr.New("fake", scerr.KindTimeout, "timed out")}
	ch := New(ft, 0)

	_, err := ch.Do(context.Background(), []byte{1}, time.Second)
	require.Error(t, err)
	assert.True(t, scerr.Is(err, scerr.KindTimeout))
}
