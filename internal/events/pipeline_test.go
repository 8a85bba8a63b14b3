package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drainUntil(t *testing.T, ch <-chan Event, n int, timeout time.Duration) []Event {
	t.Helper()
	var out []Event
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case evt := <-ch:
			out = append(out, evt)
		case <-deadline:
			t.Fatalf("timed out waiting for %d events, got %d", n, len(out))
		}
	}
	return out
}

func TestSubscribeReceivesEmittedEvent(t *testing.T) {
	p := NewPipeline(nil)
	defer p.Close()

	ch, cancel, err := p.Subscribe()
	require.NoError(t, err)
	defer cancel()

	require.True(t, p.Emit(Event{Kind: KindConfigChange, Message: "rule added"}))

	got := drainUntil(t, ch, 1, time.Second)
	assert.Equal(t, KindConfigChange, got[0].Kind)
	assert.NotZero(t, got[0].ID)
	assert.NotZero(t, got[0].Timestamp)
}

func TestMaxSubscriptionsEnforced(t *testing.T) {
	p := NewPipeline(nil)
	defer p.Close()

	var cancels []func()
	for i := 0; i < MaxSubscriptions; i++ {
		_, cancel, err := p.Subscribe()
		require.NoError(t, err)
		cancels = append(cancels, cancel)
	}
	defer func() {
		for _, c := range cancels {
			c()
		}
	}()

	_, _, err := p.Subscribe()
	require.Error(t, err)
}

func TestRateLimitSuppressesExcessRuleMatchEvents(t *testing.T) {
	p := NewPipeline(nil)
	defer p.Close()

	ch, cancel, err := p.Subscribe()
	require.NoError(t, err)
	defer cancel()

	p.limiters[KindRuleMatch].SetBurst(1)
	p.limiters[KindRuleMatch].SetLimit(0)

	require.True(t, p.Emit(Event{Kind: KindRuleMatch}))
	require.True(t, p.Emit(Event{Kind: KindRuleMatch}))

	got := drainUntil(t, ch, 1, time.Second)
	assert.Len(t, got, 1)

	select {
	case <-ch:
		t.Fatal("expected second rule-match event to be rate-limited")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNewPipelineWithRingCapacity(t *testing.T) {
	p := NewPipeline(nil, WithRingCapacity(4))
	defer p.Close()

	assert.Equal(t, 4, len(p.r.slots))
}

func TestRingDropsWhenFull(t *testing.T) {
	r := newRing(DefaultRingCapacity)
	for i := 0; i < DefaultRingCapacity; i++ {
		require.True(t, r.push(Event{ID: uint64(i)}))
	}
	assert.False(t, r.push(Event{ID: 99999}))
	assert.Equal(t, uint64(1), r.droppedCount())

	evt, ok := r.pop()
	require.True(t, ok)
	assert.Equal(t, uint64(0), evt.ID)
}

func TestLaggingSubscriberGetsDroppedSinceMetadata(t *testing.T) {
	p := NewPipeline(nil)
	defer p.Close()

	ch, cancel, err := p.Subscribe()
	require.NoError(t, err)
	defer cancel()

	sub := p.subs[p.nextSubID]
	sub.lagging.Store(true)
	sub.dropped.Add(3)

	require.True(t, p.Emit(Event{Kind: KindSystem}))
	got := drainUntil(t, ch, 1, time.Second)
	assert.Equal(t, "3", got[0].Metadata["dropped_since"])
}
