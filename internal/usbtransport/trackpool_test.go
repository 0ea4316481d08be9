package usbtransport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// E4 — TX / TXR pairing: the slot only returns to the free stack once
// both TX_BACK and TXR_BACK have fired for it.
func TestTrackPoolReleasesOnlyAfterBothBitsSet(t *testing.T) {
	p := NewTrackPool(2)
	id, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, 1, p.Len())

	p.MarkTxBack(id)
	assert.Equal(t, 1, p.Len(), "must not return after only TX_BACK")

	p.MarkTxRBack(id)
	assert.Equal(t, 2, p.Len(), "must return once both bits are set")
}

func TestTrackPoolOrderDoesNotMatter(t *testing.T) {
	p := NewTrackPool(1)
	id, err := p.Acquire()
	require.NoError(t, err)

	p.MarkTxRBack(id)
	assert.Equal(t, 0, p.Len())
	p.MarkTxBack(id)
	assert.Equal(t, 1, p.Len())
}

func TestTrackPoolIsLIFO(t *testing.T) {
	p := NewTrackPool(3)
	a, _ := p.Acquire()
	b, _ := p.Acquire()
	c, _ := p.Acquire()
	assert.Equal(t, 0, p.Len())

	p.MarkTxBack(c)
	p.MarkTxRBack(c)
	got, ok := p.TryAcquire()
	require.True(t, ok)
	assert.Equal(t, c, got)

	_ = a
	_ = b
}

func TestTrackPoolAcquireBlocksUntilRelease(t *testing.T) {
	p := NewTrackPool(1)
	id, err := p.Acquire()
	require.NoError(t, err)

	_, ok := p.TryAcquire()
	assert.False(t, ok)

	done := make(chan uint8, 1)
	go func() {
		got, err := p.Acquire()
		if err == nil {
			done <- got
		}
	}()

	time.Sleep(10 * time.Millisecond)
	p.MarkTxBack(id)
	p.MarkTxRBack(id)

	select {
	case got := <-done:
		assert.Equal(t, id, got)
	case <-time.After(time.Second):
		t.Fatal("Acquire did not unblock after release")
	}
}

func TestTrackPoolForceReleaseIgnoresPendingBits(t *testing.T) {
	p := NewTrackPool(1)
	id, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, 0, p.Len())

	p.ForceRelease(id)
	assert.Equal(t, 1, p.Len(), "a stranded track-id must return even with neither bit set")

	got, ok := p.TryAcquire()
	require.True(t, ok)
	assert.Equal(t, id, got)
}

func TestTrackPoolCloseUnblocksWaiters(t *testing.T) {
	p := NewTrackPool(1)
	_, err := p.Acquire()
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Acquire()
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	p.Close()

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock waiter")
	}
}
