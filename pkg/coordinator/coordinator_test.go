package coordinator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autodrivecore/coordinator/pkg/budget"
	"github.com/autodrivecore/coordinator/pkg/config"
	"github.com/autodrivecore/coordinator/pkg/intervention"
	"github.com/autodrivecore/coordinator/pkg/retry"
	"github.com/autodrivecore/coordinator/pkg/scheduler"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	tokenBudget := uint64(1000)
	cfg := &config.Config{
		CheckpointEnabled:  true,
		CheckpointDir:      t.TempDir(),
		CheckpointInterval: 2,
		DiagnosticsEnabled: true,
		Budget:             config.BudgetConfig{TokenBudget: &tokenBudget},
	}
	cfg.SetDefaults()
	return cfg
}

func TestStartSessionTransitionsToRunning(t *testing.T) {
	c := New(newTestConfig(t))
	c.StartSession(context.Background(), "ship the release", "sess-1")
	assert.Equal(t, "sess-1", c.Session().ID)
	assert.Equal(t, "ship the release", c.Session().Goal)

	entries := c.Audit.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "session_start", entries[0].Operation.Tag())
}

func TestRecordTurnBudgetWarningThenExceeded(t *testing.T) {
	c := New(newTestConfig(t))
	c.StartSession(context.Background(), "goal", "sess-2")

	c.RecordTurn(800)
	events := c.TakeEvents()
	require.Len(t, events, 1)
	require.Equal(t, EventBudgetAlert, events[0].Kind)
	assert.Equal(t, budget.AlertTokenWarning, events[0].Budget.Kind)
	assert.False(t, c.InterventionPending())

	c.RecordTurn(201)
	events = c.TakeEvents()
	require.Len(t, events, 3)
	assert.Equal(t, EventBudgetAlert, events[0].Kind)
	assert.Equal(t, budget.AlertTokenExceeded, events[0].Budget.Kind)
	assert.Equal(t, EventInterventionRequired, events[1].Kind)
	assert.Equal(t, EventCheckpointSaved, events[2].Kind, "second turn hits the checkpoint interval")
	assert.True(t, c.InterventionPending())
	assert.Equal(t, "PausedBudget", string(c.Session().Phase))
}

func TestRecordTurnSavesCheckpointAtInterval(t *testing.T) {
	c := New(newTestConfig(t))
	c.StartSession(context.Background(), "goal", "sess-3")
	c.UpdateHistory([]interface{}{"goal turn"})

	c.RecordTurn(10)
	assert.Empty(t, filterKind(c.TakeEvents(), EventCheckpointSaved))

	c.RecordTurn(10)
	saved := filterKind(c.TakeEvents(), EventCheckpointSaved)
	require.Len(t, saved, 1)
	assert.Equal(t, "sess-3", saved[0].CheckpointSaved.SessionID)
}

func TestInterventionResolvesAndExtendsBudget(t *testing.T) {
	c := New(newTestConfig(t))
	c.StartSession(context.Background(), "goal", "sess-4")
	c.RecordTurn(1000)
	c.TakeEvents()
	require.True(t, c.InterventionPending())

	extra := uint64(500)
	c.HandleIntervention(intervention.ExtendBudgetAction(&extra, nil))
	action := c.TakeInterventionAction()
	require.NotNil(t, action)
	assert.Equal(t, intervention.ActionExtendBudget, action.Kind)
	assert.False(t, c.InterventionPending())
	assert.Equal(t, "Running", string(c.Session().Phase))

	alert := c.Budget.CheckBudget()
	assert.Nil(t, alert, "budget should no longer be exceeded after extension")
}

func TestScheduleAndCollectAgents(t *testing.T) {
	c := New(newTestConfig(t))
	c.StartSession(context.Background(), "goal", "sess-5")

	c.ScheduleAgents([]scheduler.Task{{ID: 1, Prompt: "a"}, {ID: 2, Prompt: "b"}}, scheduler.Blocking)

	t1 := c.NextAgent()
	require.NotNil(t, t1)
	assert.Equal(t, 1, t1.ID)
	assert.Nil(t, c.NextAgent(), "blocking mode caps at one running task")

	c.ReportAgentCompletion(t1.ID, "r1", nil)
	t2 := c.NextAgent()
	require.NotNil(t, t2)
	c.ReportAgentCompletion(t2.ID, "r2", nil)

	results := c.CollectAgentResults()
	require.Len(t, results, 2)
	assert.Equal(t, 0, results[0].DispatchOrder)
	assert.Equal(t, 1, results[1].DispatchOrder)
}

func TestHandleTurnFailureClassifiesDecision(t *testing.T) {
	c := New(newTestConfig(t))
	c.StartSession(context.Background(), "goal", "sess-6")

	d := c.HandleTurnFailure(&retry.TurnError{Class: retry.ErrNetwork}, 0)
	assert.Equal(t, DecisionRetry, d.Kind)
	assert.Greater(t, d.Delay.Seconds(), 0.0)

	d = c.HandleTurnFailure(&retry.TurnError{Class: retry.ErrAuthenticationFailed}, 0)
	assert.Equal(t, DecisionFatal, d.Kind)
	assert.Equal(t, "Failed", string(c.Session().Phase))
}

func TestEndSessionSavesFinalCheckpoint(t *testing.T) {
	c := New(newTestConfig(t))
	c.StartSession(context.Background(), "goal", "sess-7")
	c.RecordTurn(5)
	c.TakeEvents()

	c.EndSession(true)
	saved := filterKind(c.TakeEvents(), EventCheckpointSaved)
	require.Len(t, saved, 1)
	assert.Equal(t, "Completed", string(c.Session().Phase))
}

func TestResetReturnsToPristineState(t *testing.T) {
	c := New(newTestConfig(t))
	c.StartSession(context.Background(), "goal", "sess-8")
	c.RecordTurn(10)
	c.TakeEvents()

	c.Reset()
	assert.Equal(t, "", c.Session().ID)
	assert.Empty(t, c.TakeEvents())
	assert.Equal(t, uint64(0), c.Budget.Usage().Tokens)
}

func filterKind(events []Event, kind EventKind) []Event {
	var out []Event
	for _, e := range events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
