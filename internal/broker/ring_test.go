package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRingRejectsNonPowerOfTwo(t *testing.T) {
	_, err := NewRing(3)
	require.Error(t, err)
}

func TestRingPushPopOrdersFIFO(t *testing.T) {
	r, err := NewRing(4)
	require.NoError(t, err)

	require.True(t, r.Push(Element{Kind: ElemRX, CANID: 1}))
	require.True(t, r.Push(Element{Kind: ElemRX, CANID: 2}))

	e, ok := r.Pop()
	require.True(t, ok)
	assert.EqualValues(t, 1, e.CANID)

	e, ok = r.Pop()
	require.True(t, ok)
	assert.EqualValues(t, 2, e.CANID)

	_, ok = r.Pop()
	assert.False(t, ok)
}

func TestRingPushDropsAndCountsLostOnOverflow(t *testing.T) {
	r, err := NewRing(2)
	require.NoError(t, err)

	require.True(t, r.Push(Element{Kind: ElemRX}))
	require.True(t, r.Push(Element{Kind: ElemRX}))
	require.False(t, r.Push(Element{Kind: ElemRX}))

	rx, _, _, _, _ := r.LostCounts()
	assert.EqualValues(t, 1, rx)
}

func TestRingLostCountersArePerKind(t *testing.T) {
	r, err := NewRing(1)
	require.NoError(t, err)

	require.True(t, r.Push(Element{Kind: ElemTx}))
	require.False(t, r.Push(Element{Kind: ElemTx}))
	require.False(t, r.Push(Element{Kind: ElemError}))
	require.False(t, r.Push(Element{Kind: ElemLog}))

	rx, tx, status, errs, log := r.LostCounts()
	assert.EqualValues(t, 0, rx)
	assert.EqualValues(t, 1, tx)
	assert.EqualValues(t, 0, status)
	assert.EqualValues(t, 1, errs)
	assert.EqualValues(t, 1, log)
}

func TestRingLen(t *testing.T) {
	r, err := NewRing(4)
	require.NoError(t, err)
	assert.Equal(t, 0, r.Len())
	r.Push(Element{Kind: ElemStatus})
	r.Push(Element{Kind: ElemStatus})
	assert.Equal(t, 2, r.Len())
	r.Pop()
	assert.Equal(t, 1, r.Len())
}

func TestRingGoneAndReconnect(t *testing.T) {
	r, err := NewRing(2)
	require.NoError(t, err)
	assert.False(t, r.IsGone())
	assert.EqualValues(t, 0, r.Generation())

	r.SetGone()
	assert.True(t, r.IsGone())

	r.Reconnect()
	assert.False(t, r.IsGone())
	assert.EqualValues(t, 1, r.Generation())
}

func TestRingWrapsAroundIndexSpace(t *testing.T) {
	r, err := NewRing(2)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.True(t, r.Push(Element{Kind: ElemRX, CANID: uint32(i)}))
		e, ok := r.Pop()
		require.True(t, ok)
		assert.EqualValues(t, i, e.CANID)
	}
}
