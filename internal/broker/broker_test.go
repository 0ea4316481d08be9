package broker

import (
	"context"
	"testing"
	"time"

	"github.com/jgressmann/supercan-go/internal/stream"
	"github.com/jgressmann/supercan-go/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drainAcks(t *testing.T, ch <-chan Notification, n *Notifier, id ClientID, stop <-chan struct{}) {
	t.Helper()
	go func() {
		for {
			select {
			case _, ok := <-ch:
				if !ok {
					return
				}
				n.Ack(id)
			case <-stop:
				return
			}
		}
	}()
}

func TestBrokerAttachAndDetach(t *testing.T) {
	b := New(4, 8)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	id, ring, _, err := b.Attach(ctx)
	require.NoError(t, err)
	assert.NotNil(t, ring)
	assert.Equal(t, 1, b.ClientCount())

	require.NoError(t, b.Detach(ctx, id))
	assert.Equal(t, 0, b.ClientCount())
}

func TestBrokerFanOutReachesAllClients(t *testing.T) {
	b := New(4, 8)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	stop := make(chan struct{})
	defer close(stop)

	id1, ring1, ch1, err := b.Attach(ctx)
	require.NoError(t, err)
	drainAcks(t, ch1, b.notify, id1, stop)

	id2, ring2, ch2, err := b.Attach(ctx)
	require.NoError(t, err)
	drainAcks(t, ch2, b.notify, id2, stop)

	b.OnCANRx(wire.CANRx{CANID: 0x10, DLC: 0}, 100)

	e1, ok := ring1.Pop()
	require.True(t, ok)
	assert.EqualValues(t, 0x10, e1.CANID)

	e2, ok := ring2.Pop()
	require.True(t, ok)
	assert.EqualValues(t, 0x10, e2.CANID)
}

func TestBrokerTxRRoutesOnlyToOwner(t *testing.T) {
	b := New(4, 8)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	stop := make(chan struct{})
	defer close(stop)

	idA, ringA, chA, err := b.Attach(ctx)
	require.NoError(t, err)
	drainAcks(t, chA, b.notify, idA, stop)

	idB, ringB, chB, err := b.Attach(ctx)
	require.NoError(t, err)
	drainAcks(t, chB, b.notify, idB, stop)

	b.QueueTx(idA, stream.TxRequest{CANID: 0x55, DLC: 0})

	enc := stream.NewEncoder(wire.LittleEndian, 128, 64)
	w := &fakeWriter{}
	n, err := b.DrainTxBatch(ctx, enc, w)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// discover which track-id got reserved by inspecting trackOwner
	var trackID uint8
	for tid, owner := range b.trackOwner {
		if owner == idA {
			trackID = tid
		}
	}

	b.OnCANTxR(trackID, 0, 500)

	e, ok := ringA.Pop()
	require.True(t, ok)
	assert.Equal(t, ElemTxR, e.Kind)

	_, ok = ringB.Pop()
	assert.False(t, ok)
}

func TestBrokerTxRReleasesTrackID(t *testing.T) {
	b := New(4, 1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	stop := make(chan struct{})
	defer close(stop)

	id, _, ch, err := b.Attach(ctx)
	require.NoError(t, err)
	drainAcks(t, ch, b.notify, id, stop)

	enc := stream.NewEncoder(wire.LittleEndian, 128, 64)
	w := &fakeWriter{}

	b.QueueTx(id, stream.TxRequest{CANID: 0x1, DLC: 0})
	n, err := b.DrainTxBatch(ctx, enc, w)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, b.pool.Len(), "the single slot must be reserved, not free, mid-flight")

	var trackID uint8
	for tid := range b.trackOwner {
		trackID = tid
	}
	b.OnCANTxR(trackID, 0, 100)
	assert.Equal(t, 1, b.pool.Len(), "TX_BACK+TXR_BACK must return the slot to the free stack")

	// A second submission must not block now that the only slot is free
	// again — proves the track-id was not leaked.
	b.QueueTx(id, stream.TxRequest{CANID: 0x2, DLC: 0})
	n, err = b.DrainTxBatch(ctx, enc, w)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBrokerTxREchoHonorsOptOut(t *testing.T) {
	b := New(4, 8)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	stop := make(chan struct{})
	defer close(stop)

	id, ring, ch, err := b.Attach(ctx)
	require.NoError(t, err)
	drainAcks(t, ch, b.notify, id, stop)
	b.SetEchoMode(id, stream.EchoOff)

	enc := stream.NewEncoder(wire.LittleEndian, 128, 64)
	w := &fakeWriter{}
	b.QueueTx(id, stream.TxRequest{CANID: 0x10, DLC: 0})
	_, err = b.DrainTxBatch(ctx, enc, w)
	require.NoError(t, err)

	var trackID uint8
	for tid := range b.trackOwner {
		trackID = tid
	}
	b.OnCANTxR(trackID, 0, 100)

	_, ok := ring.Pop()
	assert.False(t, ok, "a client that opted out of receive_own_messages must not see its own echo")
}

func TestBrokerTxRSuppressesDroppedEcho(t *testing.T) {
	b := New(4, 8)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	stop := make(chan struct{})
	defer close(stop)

	id, ring, ch, err := b.Attach(ctx)
	require.NoError(t, err)
	drainAcks(t, ch, b.notify, id, stop)

	enc := stream.NewEncoder(wire.LittleEndian, 128, 64)
	w := &fakeWriter{}
	b.QueueTx(id, stream.TxRequest{CANID: 0x10, DLC: 0})
	_, err = b.DrainTxBatch(ctx, enc, w)
	require.NoError(t, err)

	var trackID uint8
	for tid := range b.trackOwner {
		trackID = tid
	}
	b.OnCANTxR(trackID, wire.FlagDRP, 100)

	_, ok := ring.Pop()
	assert.False(t, ok, "late-echo never delivers an echo for a dropped frame")
}

func TestBrokerDetachForceReleasesStrandedTrackIDs(t *testing.T) {
	b := New(4, 1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	stop := make(chan struct{})
	defer close(stop)

	id, _, ch, err := b.Attach(ctx)
	require.NoError(t, err)
	drainAcks(t, ch, b.notify, id, stop)

	enc := stream.NewEncoder(wire.LittleEndian, 128, 64)
	w := &fakeWriter{}
	b.QueueTx(id, stream.TxRequest{CANID: 0x10, DLC: 0})
	_, err = b.DrainTxBatch(ctx, enc, w)
	require.NoError(t, err)
	assert.Equal(t, 0, b.pool.Len())

	require.NoError(t, b.Detach(ctx, id))
	assert.Equal(t, 1, b.pool.Len(), "detach must force-release track-ids stranded by the departing client")
}

func TestBrokerConfigurationLeaseGatesSecondClient(t *testing.T) {
	b := New(4, 8)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	stop := make(chan struct{})
	defer close(stop)

	idA, _, chA, err := b.Attach(ctx)
	require.NoError(t, err)
	drainAcks(t, chA, b.notify, idA, stop)

	idB, _, chB, err := b.Attach(ctx)
	require.NoError(t, err)
	drainAcks(t, chB, b.notify, idB, stop)

	require.NoError(t, b.AcquireConfigurationAccess(ctx, idA))
	err = b.AcquireConfigurationAccess(ctx, idB)
	require.Error(t, err)
}

func TestBrokerHandleDeviceGoneAndReconnect(t *testing.T) {
	b := New(4, 8)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, ring, ch, err := b.Attach(ctx)
	require.NoError(t, err)
	_ = ch

	b.HandleDeviceGone()
	assert.True(t, ring.IsGone())

	b.HandleDeviceReconnect()
	assert.False(t, ring.IsGone())
}

type fakeWriter struct{}

func (f *fakeWriter) WriteMessage(ctx context.Context, data []byte) (int, error) {
	return len(data), nil
}
func (f *fakeWriter) MessageMaxPacketSize() int { return 64 }
