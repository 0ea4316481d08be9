package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatsAccumulatesTraffic(t *testing.T) {
	s := New()
	s.AddRx(8)
	s.AddRx(64)
	s.AddTx(16)

	snap := s.Snapshot()
	assert.Equal(t, uint64(2), snap.FramesRx)
	assert.Equal(t, uint64(72), snap.BytesRx)
	assert.Equal(t, uint64(1), snap.FramesTx)
	assert.Equal(t, uint64(16), snap.BytesTx)
}

func TestStatsSetLostOverwritesAbsoluteCounts(t *testing.T) {
	s := New()
	s.SetLost(1, 2, 3, 4, 5)
	s.SetLost(10, 20, 30, 40, 50)

	snap := s.Snapshot()
	assert.Equal(t, uint64(10), snap.LostRx)
	assert.Equal(t, uint64(20), snap.LostTx)
	assert.Equal(t, uint64(30), snap.LostStatus)
	assert.Equal(t, uint64(40), snap.LostError)
	assert.Equal(t, uint64(50), snap.LostLog)
}

func TestStatsRecordsLeaseOutcomes(t *testing.T) {
	s := New()
	s.RecordLeaseGrant()
	s.RecordLeaseGrant()
	s.RecordLeaseDenial()

	snap := s.Snapshot()
	assert.Equal(t, uint64(2), snap.LeaseGrants)
	assert.Equal(t, uint64(1), snap.LeaseDenials)
}

func TestSampleHostReturnsPlausibleReading(t *testing.T) {
	sample, err := SampleHost()
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, sample.MemTotalBytes, sample.MemUsedBytes)
}
