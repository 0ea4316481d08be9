package broker

import (
	"testing"

	"github.com/jgressmann/supercan-go/internal/stream"
	"github.com/jgressmann/supercan-go/internal/usbtransport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTxArbiterRoundRobinsAcrossLiveClients(t *testing.T) {
	ct := NewClientTable(4)
	id1, _, _ := ct.Add()
	id2, _, _ := ct.Add()

	a := NewTxArbiter(ct)
	a.Queue(id1, stream.TxRequest{CANID: 1})
	a.Queue(id1, stream.TxRequest{CANID: 2})
	a.Queue(id2, stream.TxRequest{CANID: 3})

	pool := usbtransport.NewTrackPool(8)

	a.BatchBegin()
	var served []ClientID
	for {
		slot, ok, err := a.BatchNext(pool)
		require.NoError(t, err)
		if !ok {
			break
		}
		served = append(served, slot.Client)
	}
	a.BatchEnd()

	require.Len(t, served, 2)
	assert.Contains(t, served, id1)
	assert.Contains(t, served, id2)

	// id1's second request is still pending for the next batch.
	assert.Equal(t, 1, a.Pending(id1))
}

func TestTxArbiterBatchBeginSkipsClientsWithNothingQueued(t *testing.T) {
	ct := NewClientTable(4)
	id1, _, _ := ct.Add()
	_, _, _ = ct.Add()

	a := NewTxArbiter(ct)
	a.Queue(id1, stream.TxRequest{CANID: 9})

	pool := usbtransport.NewTrackPool(8)
	a.BatchBegin()
	slot, ok, err := a.BatchNext(pool)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id1, slot.Client)

	_, ok, _ = a.BatchNext(pool)
	assert.False(t, ok)
}

func TestTxArbiterDropClientDiscardsQueuedAndInFlightOrder(t *testing.T) {
	ct := NewClientTable(4)
	id1, _, _ := ct.Add()
	id2, _, _ := ct.Add()

	a := NewTxArbiter(ct)
	a.Queue(id1, stream.TxRequest{CANID: 1})
	a.Queue(id1, stream.TxRequest{CANID: 2})
	a.Queue(id2, stream.TxRequest{CANID: 3})

	a.BatchBegin()
	a.DropClient(id1)
	assert.Equal(t, 0, a.Pending(id1))

	pool := usbtransport.NewTrackPool(8)
	var served []ClientID
	for {
		slot, ok, err := a.BatchNext(pool)
		require.NoError(t, err)
		if !ok {
			break
		}
		served = append(served, slot.Client)
	}
	a.BatchEnd()

	assert.Equal(t, []ClientID{id2}, served, "a dropped client's in-progress order entry must not be served")
}

func TestTxArbiterEmptyBatchIsNoop(t *testing.T) {
	ct := NewClientTable(4)
	a := NewTxArbiter(ct)
	a.BatchBegin()
	pool := usbtransport.NewTrackPool(8)
	_, ok, err := a.BatchNext(pool)
	require.NoError(t, err)
	assert.False(t, ok)
}
