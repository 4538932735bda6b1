package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGoalMovesToInitializing(t *testing.T) {
	c := New()
	vm := c.BuildViewModel()
	assert.Equal(t, PhaseAwaitingGoal, vm.Phase)
	assert.False(t, vm.IsActive)

	c.SetGoal("ship the release")
	vm = c.BuildViewModel()
	assert.Equal(t, PhaseInitializing, vm.Phase)
	require.NotNil(t, vm.Goal)
	assert.Equal(t, "ship the release", *vm.Goal)
	assert.True(t, vm.IsActive)
}

func TestBudgetAlertTransitionsPhase(t *testing.T) {
	c := New()
	c.SetGoal("goal")
	c.SetPhase(PhaseRunning)

	c.SetBudgetAlert("token budget at 85%")
	vm := c.BuildViewModel()
	assert.Equal(t, PhasePausedBudget, vm.Phase)
	require.NotNil(t, vm.BudgetAlert)
	assert.False(t, vm.IsActive)
}

func TestDiagnosticAlertTransitionsPhase(t *testing.T) {
	c := New()
	c.SetDiagnosticAlert("loop detected")
	vm := c.BuildViewModel()
	assert.Equal(t, PhasePausedDiagnostic, vm.Phase)
	require.NotNil(t, vm.DiagnosticAlert)
}

func TestClearAlerts(t *testing.T) {
	c := New()
	c.SetBudgetAlert("alert")
	c.ClearAlerts()
	vm := c.BuildViewModel()
	assert.Nil(t, vm.BudgetAlert)
	assert.Nil(t, vm.DiagnosticAlert)
}

func TestIsActiveDerivationAcrossPhases(t *testing.T) {
	active := []Phase{PhaseRunning, PhaseInitializing, PhaseAwaitingConfirmation, PhaseCheckpointing, PhaseRecovering}
	inactive := []Phase{PhaseAwaitingGoal, PhasePausedBudget, PhasePausedDiagnostic, PhaseAwaitingIntervention, PhaseCompleted, PhaseStopped, PhaseFailed}

	for _, p := range active {
		c := New()
		c.SetPhase(p)
		assert.True(t, c.BuildViewModel().IsActive, "phase %s should be active", p)
	}
	for _, p := range inactive {
		c := New()
		c.SetPhase(p)
		assert.False(t, c.BuildViewModel().IsActive, "phase %s should not be active", p)
	}
}

func TestRecordTurnAndAgentStatus(t *testing.T) {
	c := New()
	c.RecordTurn(3, 45*time.Second, TokenMetrics{Tokens: 900, Turns: 3})
	c.SetAgentStatus(1, "running")
	c.SetAgentStatus(2, "completed")

	vm := c.BuildViewModel()
	assert.Equal(t, 3, vm.TurnsCompleted)
	assert.Equal(t, 45*time.Second, vm.Elapsed)
	assert.Equal(t, uint64(900), vm.TokenMetrics.Tokens)
	assert.Len(t, vm.Agents, 2)
}

func TestRecordCompactionSurfacesInViewModel(t *testing.T) {
	c := New()
	c.RecordCompaction(10000, 6000, 5, "removed 5 low-importance items")
	vm := c.BuildViewModel()
	require.NotNil(t, vm.Compaction)
	assert.Equal(t, 5, vm.Compaction.ItemsRemoved)
	assert.Equal(t, 4000, vm.Compaction.TokensSaved())
	assert.InDelta(t, 40.0, vm.Compaction.SavingsPercentage(), 0.001)

	c.ClearCompaction()
	assert.Nil(t, c.BuildViewModel().Compaction)
}

func TestStatusString(t *testing.T) {
	c := New()
	assert.Equal(t, "Awaiting goal", c.BuildViewModel().StatusString())

	c.SetPhase(PhaseRunning)
	c.RecordTurn(4, time.Minute, TokenMetrics{})
	assert.Equal(t, "Running (turn 4)", c.BuildViewModel().StatusString())

	c.SetPhase(PhaseCompleted)
	assert.Equal(t, "Completed (4 turns)", c.BuildViewModel().StatusString())
}

func TestResetReturnsToPristineState(t *testing.T) {
	c := New()
	c.SetGoal("goal")
	c.SetPhase(PhaseRunning)
	c.RecordTurn(2, time.Minute, TokenMetrics{Tokens: 10})
	c.SetAgentStatus(1, "running")
	c.SetBudgetAlert("alert")
	c.RecordCompaction(100, 50, 1, "summary")

	c.Reset()
	vm := c.BuildViewModel()
	assert.Equal(t, PhaseAwaitingGoal, vm.Phase)
	assert.Equal(t, 0, vm.TurnsCompleted)
	assert.Nil(t, vm.Goal)
	assert.Nil(t, vm.BudgetAlert)
	assert.Nil(t, vm.Compaction)
	assert.Empty(t, vm.Agents)
}
