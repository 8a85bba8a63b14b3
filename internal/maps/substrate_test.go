package maps

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardfw/ward/internal/errors"
	"github.com/wardfw/ward/internal/wire"
)

func testTuple() wire.FlowTuple {
	return wire.FlowTuple{SrcIP: 0x0A000001, DstIP: 0x0A000002, SrcPort: 54321, DstPort: 80, Protocol: wire.ProtoTCP}
}

func TestSubstrateACLRoundTrip(t *testing.T) {
	s := NewMemorySubstrate(4, 4, 1)
	tup := testTuple()

	_, found, err := s.LookupACL(tup)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.UpsertACL(tup, wire.ACLValue{Action: wire.ActionDrop, Priority: 100}))

	v, found, err := s.LookupACL(tup)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint8(wire.ActionDrop), v.Action)
	assert.Equal(t, int32(100), v.Priority)

	require.NoError(t, s.DeleteACL(tup))
	_, found, err = s.LookupACL(tup)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSubstrateACLCapacityExhausted(t *testing.T) {
	s := NewMemorySubstrate(1, 1, 1)
	tup1 := testTuple()
	tup2 := wire.FlowTuple{SrcIP: 1, DstIP: 2, SrcPort: 3, DstPort: 4, Protocol: wire.ProtoUDP}

	require.NoError(t, s.UpsertACL(tup1, wire.ACLValue{Action: wire.ActionAllow}))
	err := s.UpsertACL(tup2, wire.ACLValue{Action: wire.ActionAllow})
	require.Error(t, err)
	assert.Equal(t, errors.KindCapacityExhausted, errors.GetKind(err))
}

func TestSubstrateSessionLifecycle(t *testing.T) {
	s := NewMemorySubstrate(4, 4, 1)
	tup := testTuple()

	rec := wire.SessionRecord{State: wire.SessionNew, LastSeen: 1000}
	require.NoError(t, s.UpsertSession(tup, rec))

	got, found, err := s.LookupSession(tup)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, wire.SessionNew, got.State)

	var seen []wire.FlowTuple
	require.NoError(t, s.IterateSessions(func(tt wire.FlowTuple, _ wire.SessionRecord) bool {
		seen = append(seen, tt)
		return true
	}))
	assert.Len(t, seen, 1)
	assert.Equal(t, tup, seen[0])
}

func TestSubstrateStatsReadWrite(t *testing.T) {
	s := NewMemorySubstrate(4, 4, 1)

	rec, err := s.ReadStats(0)
	require.NoError(t, err)
	assert.Equal(t, wire.StatsRecord{}, rec)

	rec.TotalPackets = 10
	rec.AllowCount = 10
	require.NoError(t, s.WriteStats(0, rec))

	got, err := s.ReadStats(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), got.TotalPackets)
}

func TestIsExpired(t *testing.T) {
	now := uint64(400 * time.Second)
	rec := wire.SessionRecord{LastSeen: 0}
	assert.True(t, IsExpired(rec, now, 300*time.Second))
	assert.False(t, IsExpired(rec, uint64(200*time.Second), 300*time.Second))
}

func TestMemoryTableKeyFormat(t *testing.T) {
	tbl := NewMemoryTable(13, 8, 10)
	err := tbl.Update([]byte{1, 2, 3}, make([]byte, 8))
	require.Error(t, err)
	assert.Equal(t, errors.KindKeyFormat, errors.GetKind(err))
}
