package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParallelConcurrencyCap(t *testing.T) {
	s := New(2)
	s.Schedule([]Task{{ID: 1}, {ID: 2}, {ID: 3}}, Parallel)

	t1 := s.NextRunnable()
	t2 := s.NextRunnable()
	require.NotNil(t, t1)
	require.NotNil(t, t2)
	assert.Nil(t, s.NextRunnable())

	assert.Equal(t, 2, s.ActiveCount())
	assert.Equal(t, 1, s.PendingCount())
}

func TestBlockingAllowsOnlyOneRunning(t *testing.T) {
	s := New(4)
	s.Schedule([]Task{{ID: 1}, {ID: 2}}, Blocking)

	t1 := s.NextRunnable()
	require.NotNil(t, t1)
	assert.Nil(t, s.NextRunnable())

	s.ReportCompletionWithOrder(t1.ID, "r1", nil)
	t2 := s.NextRunnable()
	require.NotNil(t, t2)
}

func TestBlockingResultOrderingMatchesDispatchOrder(t *testing.T) {
	s := New(4)
	s.Schedule([]Task{{ID: 1}, {ID: 2}, {ID: 3}}, Blocking)

	for i := 0; i < 3; i++ {
		task := s.NextRunnable()
		require.NotNil(t, task)
		s.ReportCompletionWithOrder(task.ID, "R", nil)
	}

	results := s.CollectResults()
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, i, r.DispatchOrder)
	}
}

func TestParallelResultOrderingMatchesCompletionOrder(t *testing.T) {
	s := New(3)
	s.Schedule([]Task{{ID: 1}, {ID: 2}, {ID: 3}}, Parallel)

	tasks := []*Task{s.NextRunnable(), s.NextRunnable(), s.NextRunnable()}
	// Complete out of dispatch order.
	s.ReportCompletionWithOrder(tasks[2].ID, "R3", nil)
	s.ReportCompletionWithOrder(tasks[0].ID, "R1", nil)
	s.ReportCompletionWithOrder(tasks[1].ID, "R2", nil)

	results := s.CollectResults()
	require.Len(t, results, 3)
	for i := 1; i < len(results); i++ {
		assert.Greater(t, results[i].CompletionOrder, results[i-1].CompletionOrder)
	}
}

func TestReportFailureKeepsTaskInStateMapForIsComplete(t *testing.T) {
	s := New(2)
	s.Schedule([]Task{{ID: 1}, {ID: 2}}, Parallel)
	t1 := s.NextRunnable()
	t2 := s.NextRunnable()
	s.ReportCompletionWithOrder(t1.ID, "ok", nil)
	s.ReportFailure(t2.ID, assertError("boom"))

	assert.True(t, s.IsComplete())
	st, ok := s.GetState(t2.ID)
	require.True(t, ok)
	assert.Equal(t, StateFailed, st.Kind)
}

func TestResetClearsEverything(t *testing.T) {
	s := New(1)
	s.Schedule([]Task{{ID: 1}}, Blocking)
	s.NextRunnable()
	s.Reset()
	assert.Equal(t, 0, s.PendingCount())
	assert.Equal(t, 0, s.ActiveCount())
	assert.True(t, s.IsComplete())
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func assertError(msg string) error { return simpleErr(msg) }

func TestRolesForCountDistribution(t *testing.T) {
	assert.Len(t, RolesForCount(1), 1)
	assert.Len(t, RolesForCount(3), 3)
	assert.Len(t, RolesForCount(5), 5)
	assert.Len(t, RolesForCount(10), 5, "clamped to five instances")

	roles := RolesForCount(4)
	assert.Equal(t, RoleCoordinator, roles[0].Kind)
	assert.Equal(t, RoleReviewer, roles[3].Kind)
	assert.Equal(t, "Executor-2", roles[2].Name())
}

func TestMergeRoleResultsOrdersSections(t *testing.T) {
	merged := MergeRoleResults([]RoleResult{
		{Role: Role{Kind: RoleReviewer}, Response: "looks right", Success: true},
		{Role: Role{Kind: RoleExecutor, ExecutorID: 1}, Response: "patch applied", Success: true},
		{Role: Role{Kind: RoleExecutor, ExecutorID: 2}, Response: "ignored", Success: false},
		{Role: Role{Kind: RoleCoordinator}, Response: "split into two parts", Success: true},
	})

	planIdx := indexOfStr(merged, "[Coordinator Plan]")
	execIdx := indexOfStr(merged, "[Executor-1]")
	reviewIdx := indexOfStr(merged, "[Reviewer Analysis]")
	require.NotEqual(t, -1, planIdx)
	require.NotEqual(t, -1, execIdx)
	require.NotEqual(t, -1, reviewIdx)
	assert.Less(t, planIdx, execIdx)
	assert.Less(t, execIdx, reviewIdx)
	assert.NotContains(t, merged, "ignored", "failed executors are dropped")
}

func indexOfStr(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
