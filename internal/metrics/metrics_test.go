package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Each Collector owns its own registry (see NewCollector), so building
// a fresh one per test is cheap and collision-free.

func TestObserveStatsAddsOnlyTheDelta(t *testing.T) {
	c := NewCollector()
	c.ObserveStats(10, 1000, 2, 8, 0, 10, 8)
	assert.Equal(t, float64(10), testutil.ToFloat64(c.PacketsTotal))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.PacketsDropped))
	assert.Equal(t, float64(8), testutil.ToFloat64(c.PacketsAllowed))

	c.ObserveStats(15, 1500, 3, 12, 0, 15, 12)
	assert.Equal(t, float64(15), testutil.ToFloat64(c.PacketsTotal))
	assert.Equal(t, float64(3), testutil.ToFloat64(c.PacketsDropped))
	assert.Equal(t, float64(12), testutil.ToFloat64(c.PacketsAllowed))
}

func TestObserveStatsNeverDecreasesOnAStaleSnapshot(t *testing.T) {
	c := NewCollector()
	c.ObserveStats(100, 1000, 10, 90, 0, 100, 90)
	before := testutil.ToFloat64(c.PacketsTotal)

	c.ObserveStats(50, 500, 5, 45, 0, 50, 45)
	assert.Equal(t, before, testutil.ToFloat64(c.PacketsTotal))
}

func TestGaugeSetters(t *testing.T) {
	c := NewCollector()
	c.SetActiveRules(7)
	c.SetActiveSessions(42)
	c.SetSubscriberCount(2)
	assert.Equal(t, float64(7), testutil.ToFloat64(c.ActiveRules))
	assert.Equal(t, float64(42), testutil.ToFloat64(c.ActiveSessions))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.SubscriberCount))
}

func TestAddEventsDroppedAccumulates(t *testing.T) {
	c := NewCollector()
	before := testutil.ToFloat64(c.EventsDropped)
	c.AddEventsDropped(3)
	c.AddEventsDropped(0)
	assert.Equal(t, before+3, testutil.ToFloat64(c.EventsDropped))
}

func TestStopWithoutStartIsANoOp(t *testing.T) {
	c := NewCollector()
	require.NoError(t, c.Stop(context.Background()))
}
