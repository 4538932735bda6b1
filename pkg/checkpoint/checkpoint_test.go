package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	return NewStorage(t.TempDir())
}

func TestCheckpointRoundTrip(t *testing.T) {
	storage := newTestStorage(t)
	cp := NewCheckpoint("session-1", "write a changelog")
	cp.Update([]interface{}{"turn one"}, 1, TokenUsage{InputTokens: 100, OutputTokens: 50, TotalTokens: 150}, PhaseRunning)

	require.NoError(t, storage.Save(cp))

	restored, err := storage.Restore("session-1")
	require.NoError(t, err)
	require.NotNil(t, restored)
	assert.Equal(t, cp.SessionID, restored.SessionID)
	assert.Equal(t, cp.Goal, restored.Goal)
	assert.Equal(t, cp.TurnsCompleted, restored.TurnsCompleted)
	assert.Equal(t, cp.TokenUsage, restored.TokenUsage)
	assert.True(t, restored.Validate())
}

func TestCheckpointTamperDetection(t *testing.T) {
	storage := newTestStorage(t)
	cp := NewCheckpoint("session-2", "tampered goal test")
	require.NoError(t, storage.Save(cp))

	path := storage.path("session-2")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	tampered := replaceGoal(string(data), "a different goal entirely")
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0o644))

	restored, err := storage.Restore("session-2")
	assert.Nil(t, restored)
	require.Error(t, err)
	var corruptionErr *ErrCorruption
	require.ErrorAs(t, err, &corruptionErr)
	assert.Equal(t, "session-2", corruptionErr.SessionID)
}

// replaceGoal performs a minimal textual substitution of the goal field
// value, simulating an external editor corrupting the file without
// recomputing the checksum.
func replaceGoal(json, newGoal string) string {
	marker := `"goal": "`
	start := indexOf(json, marker)
	if start == -1 {
		return json
	}
	start += len(marker)
	end := indexOf(json[start:], `"`)
	if end == -1 {
		return json
	}
	end += start
	return json[:start] + newGoal + json[end:]
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

func TestRestoreMissingSessionReturnsNilNil(t *testing.T) {
	storage := newTestStorage(t)
	cp, err := storage.Restore("does-not-exist")
	assert.NoError(t, err)
	assert.Nil(t, cp)
}

func TestListRecoverableSortedByUpdatedAtDescending(t *testing.T) {
	storage := newTestStorage(t)

	older := NewCheckpoint("session-old", "goal a")
	older.CreatedAt = time.Now().Add(-2 * time.Hour)
	older.UpdatedAt = time.Now().Add(-2 * time.Hour)
	older.Recompute()
	require.NoError(t, storage.Save(older))

	newer := NewCheckpoint("session-new", "goal b")
	newer.CreatedAt = time.Now().Add(-1 * time.Minute)
	newer.UpdatedAt = time.Now().Add(-1 * time.Minute)
	newer.Recompute()
	require.NoError(t, storage.Save(newer))

	summaries, err := storage.ListRecoverable()
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "session-new", summaries[0].SessionID)
	assert.Equal(t, "session-old", summaries[1].SessionID)
}

func TestCleanupRemovesOnlyStaleCheckpoints(t *testing.T) {
	storage := newTestStorage(t)

	stale := NewCheckpoint("session-stale", "old work")
	stale.CreatedAt = time.Now().Add(-48 * time.Hour)
	stale.UpdatedAt = time.Now().Add(-48 * time.Hour)
	stale.Recompute()
	require.NoError(t, storage.Save(stale))

	fresh := NewCheckpoint("session-fresh", "recent work")
	require.NoError(t, storage.Save(fresh))

	removed, err := storage.Cleanup(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(filepath.Join(storage.dir, "session-stale.json"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(storage.dir, "session-fresh.json"))
	assert.NoError(t, err)
}

func TestPhaseToWireMapping(t *testing.T) {
	cases := []struct {
		phase Phase
		wire  WirePhase
	}{
		{PhaseInitialized, WireIdle},
		{PhaseRunning, WireActive},
		{PhaseIterationEnd, WireActive},
		{PhaseToolApproval, WirePaused},
		{PhaseIntervention, WirePaused},
		{PhaseCompleted, WireCompleted},
		{PhaseStopped, WireCompleted},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.wire, tc.phase.ToWire(), "phase %s", tc.phase)
	}
}

func TestManagerDisabledSkipsPersistence(t *testing.T) {
	dir := t.TempDir()
	disabled := false
	cfg := &Config{Enabled: &disabled, Dir: dir, Interval: 5}
	mgr := NewManager(cfg)

	cp := mgr.Create("session-disabled", "goal")
	require.NoError(t, mgr.Save(cp))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestManagerEnabledPersistsAndRestores(t *testing.T) {
	dir := t.TempDir()
	enabled := true
	cfg := &Config{Enabled: &enabled, Dir: dir, Interval: 2}
	mgr := NewManager(cfg)

	cp := mgr.Create("session-enabled", "ship the release")
	cp.Update([]interface{}{"step"}, 2, TokenUsage{TotalTokens: 10}, PhaseIterationEnd)
	require.NoError(t, mgr.Save(cp))

	restored, err := mgr.Restore("session-enabled")
	require.NoError(t, err)
	require.NotNil(t, restored)
	assert.Equal(t, 2, restored.TurnsCompleted)

	summaries, err := mgr.ListRecoverable()
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "session-enabled", summaries[0].SessionID)
}

func TestHooksCheckpointOnErrorAndComplete(t *testing.T) {
	dir := t.TempDir()
	enabled := true
	cfg := &Config{Enabled: &enabled, Dir: dir, Interval: 1}
	mgr := NewManager(cfg)
	hooks := NewHooks(mgr)

	cp := mgr.Create("session-hooks", "goal")
	hooks.OnError(cp, assertTestErr("boom"))
	assert.Equal(t, PhaseError, cp.InternalPhase())

	restored, err := mgr.Restore("session-hooks")
	require.NoError(t, err)
	require.NotNil(t, restored)
	assert.Equal(t, WireActive, restored.Phase)

	hooks.OnComplete(cp, PhaseCompleted)
	restored, err = mgr.Restore("session-hooks")
	require.NoError(t, err)
	assert.Equal(t, WireCompleted, restored.Phase)
}

type assertTestErr string

func (e assertTestErr) Error() string { return string(e) }
