package supercan

import (
	"context"
	"testing"

	"github.com/jgressmann/supercan-go/internal/broker"
	"github.com/jgressmann/supercan-go/internal/channel"
	"github.com/jgressmann/supercan-go/internal/command"
	"github.com/jgressmann/supercan-go/internal/logging"
	"github.com/jgressmann/supercan-go/internal/metrics"
	"github.com/jgressmann/supercan-go/internal/stream"
	"github.com/jgressmann/supercan-go/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestEngine builds an Engine around a real Broker/Controller pair
// without touching usbtransport, the same way internal/channel's own
// tests drive a Controller through a fake command transport rather than
// a real USB device. The Controller is left in StateClosed, which is
// enough to exercise Send's FD/classic mode gate.
func newTestEngine(t *testing.T) (*Engine, broker.ClientID) {
	t.Helper()
	br := broker.New(broker.DefaultRingCapacity, 8)
	ctrl := channel.New(command.New(nil, 0), br)
	e := &Engine{Controller: ctrl, Broker: br, Stats: metrics.New(), log: logging.Default()}

	client, _, _, err := br.Attach(context.Background())
	require.NoError(t, err)
	return e, client
}

func TestSendRejectsFDFrameBeforeBusIsUp(t *testing.T) {
	e, client := newTestEngine(t)
	err := e.Send(client, stream.TxRequest{CANID: 0x123, DLC: 8, Flags: wire.FlagFDF, Data: make([]byte, 8)})
	assert.Error(t, err)
}

func TestSendAcceptsClassicFrame(t *testing.T) {
	e, client := newTestEngine(t)
	req := stream.TxRequest{CANID: 0x123, DLC: 2, Data: []byte{1, 2}}
	assert.NoError(t, e.Send(client, req))
}

func TestSendRejectsMismatchedPayloadLength(t *testing.T) {
	e, client := newTestEngine(t)
	err := e.Send(client, stream.TxRequest{CANID: 0x1, DLC: 8, Data: []byte{1}})
	assert.Error(t, err)
}
