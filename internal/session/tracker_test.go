package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardfw/ward/internal/maps"
	"github.com/wardfw/ward/internal/wire"
)

func tuple() wire.FlowTuple {
	return wire.FlowTuple{SrcIP: 1, DstIP: 2, SrcPort: 1000, DstPort: 80, Protocol: wire.ProtoTCP}
}

func newTestTracker() (*Tracker, *maps.Substrate) {
	sub := maps.NewMemorySubstrate(16, 16, 1)
	return New(sub, nil, nil), sub
}

func TestWithTimeoutsOverridesDefaults(t *testing.T) {
	sub := maps.NewMemorySubstrate(16, 16, 1)
	tr := New(sub, nil, nil, WithTimeouts(5*time.Second, 6*time.Second, 7*time.Second))
	assert.Equal(t, 5*time.Second, tr.idleTimeoutFor(wire.ProtoTCP))
	assert.Equal(t, 6*time.Second, tr.idleTimeoutFor(wire.ProtoUDP))
	assert.Equal(t, 7*time.Second, tr.idleTimeoutFor(wire.ProtoICMP))
}

func TestWithTimeoutsZeroLeavesDefaults(t *testing.T) {
	sub := maps.NewMemorySubstrate(16, 16, 1)
	tr := New(sub, nil, nil, WithTimeouts(0, 0, 0))
	assert.Equal(t, DefaultTCPIdleTimeout, tr.idleTimeoutFor(wire.ProtoTCP))
}

func TestCountReflectsSessionTable(t *testing.T) {
	tr, sub := newTestTracker()
	assert.Equal(t, 0, tr.Count())

	require.NoError(t, sub.UpsertSession(tuple(), wire.SessionRecord{State: wire.SessionNew, LastSeen: 1}))
	assert.Equal(t, 1, tr.Count())
}

func TestUpsertCreatesNewSession(t *testing.T) {
	tr, sub := newTestTracker()
	created, err := tr.Upsert(tuple(), 100)
	require.NoError(t, err)
	assert.True(t, created)

	rec, found, err := sub.LookupSession(tuple())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint8(wire.SessionNew), rec.State)
	assert.Equal(t, uint64(100), rec.BytesRx)
}

func TestUpsertReverseProbePromotesToEstablished(t *testing.T) {
	tr, sub := newTestTracker()
	_, err := tr.Upsert(tuple(), 100)
	require.NoError(t, err)

	rev := reverseOf(tuple())
	created, err := tr.Upsert(rev, 50)
	require.NoError(t, err)
	assert.True(t, created)

	revRec, found, err := sub.LookupSession(rev)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint8(wire.SessionEstablished), revRec.State)

	fwdRec, found, err := sub.LookupSession(tuple())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint8(wire.SessionEstablished), fwdRec.State)
}

func TestUpsertTimeElapsedPromotesToEstablished(t *testing.T) {
	tr, sub := newTestTracker()
	_, err := tr.Upsert(tuple(), 10)
	require.NoError(t, err)

	tr.meta[tupleKey(tuple())].firstSeen = time.Now().Add(-3 * time.Second)

	_, err = tr.Upsert(tuple(), 10)
	require.NoError(t, err)

	rec, found, err := sub.LookupSession(tuple())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint8(wire.SessionEstablished), rec.State)
}

func TestMarkClosedTransitionsState(t *testing.T) {
	tr, sub := newTestTracker()
	_, err := tr.Upsert(tuple(), 10)
	require.NoError(t, err)

	require.NoError(t, tr.MarkClosed(tuple()))

	rec, found, err := sub.LookupSession(tuple())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint8(wire.SessionClosing), rec.State)
}

func TestSweepRemovesIdleSession(t *testing.T) {
	tr, sub := newTestTracker()
	_, err := tr.Upsert(tuple(), 10)
	require.NoError(t, err)

	rec, _, err := sub.LookupSession(tuple())
	require.NoError(t, err)
	rec.LastSeen = 0
	require.NoError(t, sub.UpsertSession(tuple(), rec))

	n, err := tr.Sweep(time.Unix(0, int64(DefaultTCPIdleTimeout)+int64(time.Second)))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, found, err := sub.LookupSession(tuple())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSweepRemovesClosingAfterGrace(t *testing.T) {
	tr, sub := newTestTracker()
	_, err := tr.Upsert(tuple(), 10)
	require.NoError(t, err)
	require.NoError(t, tr.MarkClosed(tuple()))

	rec, _, err := sub.LookupSession(tuple())
	require.NoError(t, err)
	rec.LastSeen = 0
	require.NoError(t, sub.UpsertSession(tuple(), rec))

	n, err := tr.Sweep(time.Unix(0, int64(ClosingGrace)+int64(time.Second)))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCapacityExhaustedEvictsOldest(t *testing.T) {
	sub := maps.NewMemorySubstrate(16, 1, 1)
	tr := New(sub, nil, nil)

	old := wire.FlowTuple{SrcIP: 10, DstIP: 20, SrcPort: 1, DstPort: 2, Protocol: wire.ProtoUDP}
	_, err := tr.Upsert(old, 1)
	require.NoError(t, err)

	rec, _, err := sub.LookupSession(old)
	require.NoError(t, err)
	rec.LastSeen = 1
	require.NoError(t, sub.UpsertSession(old, rec))

	next := wire.FlowTuple{SrcIP: 30, DstIP: 40, SrcPort: 3, DstPort: 4, Protocol: wire.ProtoUDP}
	created, err := tr.Upsert(next, 1)
	require.NoError(t, err)
	assert.True(t, created)

	_, found, err := sub.LookupSession(old)
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = sub.LookupSession(next)
	require.NoError(t, err)
	assert.True(t, found)
}
