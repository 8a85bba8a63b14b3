package ctlplane

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardfw/ward/internal/events"
	"github.com/wardfw/ward/internal/maps"
	"github.com/wardfw/ward/internal/rulestore"
	"github.com/wardfw/ward/internal/wire"
)

func newTestServer() *Server {
	sub := maps.NewMemorySubstrate(16, 16, 1)
	store := rulestore.New(sub, nil)
	pipeline := events.NewPipeline(nil)
	return New(sub, store, pipeline, rulestore.MaxRules, nil)
}

func sampleRule(id string) Rule {
	return Rule{
		ID:        id,
		Action:    rulestore.ActionDrop,
		SrcIP:     "10.0.0.1/32",
		DstIP:     "10.0.0.2/32",
		DstPort:   443,
		Protocol:  rulestore.ProtocolTCP,
		Direction: rulestore.DirectionInbound,
		Priority:  10,
		Enabled:   true,
	}
}

func TestAddRuleThenGetAndList(t *testing.T) {
	s := newTestServer()

	var addReply RuleReply
	require.NoError(t, s.AddRule(&AddRuleArgs{Rule: sampleRule("")}, &addReply))
	require.True(t, addReply.Success)
	require.NotEmpty(t, addReply.Rule.ID)

	var getReply RuleReply
	require.NoError(t, s.GetRule(&GetRuleArgs{ID: addReply.Rule.ID}, &getReply))
	assert.True(t, getReply.Success)
	assert.Equal(t, rulestore.ActionDrop, getReply.Rule.Action)

	var listReply ListRulesReply
	require.NoError(t, s.ListRules(&ListRulesArgs{Limit: 10}, &listReply))
	assert.Equal(t, 1, listReply.Total)
	assert.Len(t, listReply.Rules, 1)
}

func TestAddRuleDuplicateIDFailsAlreadyExists(t *testing.T) {
	s := newTestServer()

	var first RuleReply
	require.NoError(t, s.AddRule(&AddRuleArgs{Rule: sampleRule("dup")}, &first))
	require.True(t, first.Success)

	var second RuleReply
	require.NoError(t, s.AddRule(&AddRuleArgs{Rule: sampleRule("dup")}, &second))
	assert.False(t, second.Success)
	assert.Equal(t, "already_exists", second.ErrorCode)
}

func TestUpdateMissingRuleFailsNotFound(t *testing.T) {
	s := newTestServer()

	var reply RuleReply
	require.NoError(t, s.UpdateRule(&UpdateRuleArgs{ID: "missing", Rule: sampleRule("missing")}, &reply))
	assert.False(t, reply.Success)
	assert.Equal(t, "not_found", reply.ErrorCode)
}

func TestDeleteMissingRuleFailsNotFound(t *testing.T) {
	s := newTestServer()

	var reply Response
	require.NoError(t, s.DeleteRule(&DeleteRuleArgs{ID: "missing"}, &reply))
	assert.False(t, reply.Success)
	assert.Equal(t, "not_found", reply.ErrorCode)
}

func TestBackupRestoreRoundTripViaRPC(t *testing.T) {
	s := newTestServer()

	var addReply RuleReply
	require.NoError(t, s.AddRule(&AddRuleArgs{Rule: sampleRule("to-backup")}, &addReply))

	var backupReply BackupReply
	require.NoError(t, s.BackupConfig(&Empty{}, &backupReply))
	require.True(t, backupReply.Success)
	require.NotEmpty(t, backupReply.Blob)

	s2 := newTestServer()
	var restoreReply Response
	require.NoError(t, s2.RestoreConfig(&RestoreArgs{Blob: backupReply.Blob, Force: true}, &restoreReply))
	assert.True(t, restoreReply.Success)

	var listReply ListRulesReply
	require.NoError(t, s2.ListRules(&ListRulesArgs{Limit: 10}, &listReply))
	assert.Equal(t, 1, listReply.Total)
}

func TestGetStatisticsReflectsRuleCount(t *testing.T) {
	s := newTestServer()

	var addReply RuleReply
	require.NoError(t, s.AddRule(&AddRuleArgs{Rule: sampleRule("counted")}, &addReply))

	var statsReply StatisticsReply
	require.NoError(t, s.GetStatistics(&Empty{}, &statsReply))
	assert.True(t, statsReply.Success)
	assert.Equal(t, int32(1), statsReply.Statistics.ActiveRules)
}

func TestGetStatisticsReflectsActiveConnections(t *testing.T) {
	s := newTestServer()
	defer s.Close()

	tuple := wire.FlowTuple{SrcIP: 1, DstIP: 2, SrcPort: 3, DstPort: 4, Protocol: wire.ProtoTCP}
	require.NoError(t, s.substrate.UpsertSession(tuple, wire.SessionRecord{State: wire.SessionNew, LastSeen: 1}))

	var statsReply StatisticsReply
	require.NoError(t, s.GetStatistics(&Empty{}, &statsReply))
	assert.Equal(t, int32(1), statsReply.Statistics.ActiveConnections)
}

func TestRuleMutationsPublishConfigChangeEvents(t *testing.T) {
	s := newTestServer()
	defer s.Close()

	var subReply SubscribeReply
	require.NoError(t, s.Subscribe(&SubscribeArgs{}, &subReply))

	var addReply RuleReply
	require.NoError(t, s.AddRule(&AddRuleArgs{Rule: sampleRule("watched")}, &addReply))

	var drainReply DrainEventsReply
	require.Eventually(t, func() bool {
		drainReply = DrainEventsReply{}
		require.NoError(t, s.DrainEvents(&DrainEventsArgs{SubscriptionID: subReply.SubscriptionID}, &drainReply))
		return len(drainReply.Events) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "config-change", drainReply.Events[0].Kind)
	assert.Equal(t, "watched", drainReply.Events[0].RuleID)
}

func TestRestoreRejectedEmitsConfigChangeEvent(t *testing.T) {
	s := newTestServer()
	defer s.Close()

	var addReply RuleReply
	require.NoError(t, s.AddRule(&AddRuleArgs{Rule: sampleRule("r1")}, &addReply))

	var backupReply BackupReply
	require.NoError(t, s.BackupConfig(&Empty{}, &backupReply))
	blob := append([]byte(nil), backupReply.Blob...)
	blob[4], blob[5] = 0xff, 0xff // corrupt the schema version to an unsupported future value

	var subReply SubscribeReply
	require.NoError(t, s.Subscribe(&SubscribeArgs{}, &subReply))

	var restoreReply Response
	require.NoError(t, s.RestoreConfig(&RestoreArgs{Blob: blob, Force: true}, &restoreReply))
	assert.False(t, restoreReply.Success)
	assert.Equal(t, "version_incompatible", restoreReply.ErrorCode)

	var drainReply DrainEventsReply
	require.Eventually(t, func() bool {
		drainReply = DrainEventsReply{}
		require.NoError(t, s.DrainEvents(&DrainEventsArgs{SubscriptionID: subReply.SubscriptionID}, &drainReply))
		return len(drainReply.Events) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "config-change", drainReply.Events[0].Kind)
	assert.Equal(t, "restore-rejected", drainReply.Events[0].Message)

	var listReply ListRulesReply
	require.NoError(t, s.ListRules(&ListRulesArgs{Limit: 10}, &listReply))
	assert.Equal(t, 1, listReply.Total)
}

func TestSubscribeAndDrainEvents(t *testing.T) {
	s := newTestServer()
	defer s.Close()

	var subReply SubscribeReply
	require.NoError(t, s.Subscribe(&SubscribeArgs{}, &subReply))
	require.True(t, subReply.Success)
	require.NotEmpty(t, subReply.SubscriptionID)

	s.pipeline.Emit(events.Event{Kind: events.KindSystem, Message: "hello"})

	var drainReply DrainEventsReply
	require.Eventually(t, func() bool {
		drainReply = DrainEventsReply{}
		require.NoError(t, s.DrainEvents(&DrainEventsArgs{SubscriptionID: subReply.SubscriptionID}, &drainReply))
		return len(drainReply.Events) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "hello", drainReply.Events[0].Message)
}

func TestUnsubscribeRejectsFurtherDrain(t *testing.T) {
	s := newTestServer()
	defer s.Close()

	var subReply SubscribeReply
	require.NoError(t, s.Subscribe(&SubscribeArgs{}, &subReply))

	var unsubReply Response
	require.NoError(t, s.Unsubscribe(&UnsubscribeArgs{SubscriptionID: subReply.SubscriptionID}, &unsubReply))
	assert.True(t, unsubReply.Success)

	var drainReply DrainEventsReply
	require.NoError(t, s.DrainEvents(&DrainEventsArgs{SubscriptionID: subReply.SubscriptionID}, &drainReply))
	assert.False(t, drainReply.Success)
}

func TestRestartDataPlaneInvokesHook(t *testing.T) {
	s := newTestServer()
	defer s.Close()

	called := false
	s.SetRestartHook(func(ctx context.Context) error {
		called = true
		return nil
	})

	var reply Response
	require.NoError(t, s.RestartDataPlane(&RestartDataPlaneArgs{}, &reply))
	assert.True(t, reply.Success)
	assert.True(t, called)
}

func TestRestartDataPlaneUsesConfiguredTimeout(t *testing.T) {
	s := newTestServer()
	defer s.Close()

	s.SetRestartTimeout(10 * time.Millisecond)
	s.SetRestartHook(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	var reply Response
	require.NoError(t, s.RestartDataPlane(&RestartDataPlaneArgs{}, &reply))
	assert.False(t, reply.Success)
	assert.Equal(t, "deadline_exceeded", reply.ErrorCode)
}
