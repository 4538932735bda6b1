package compaction

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompactionPreservesGoalAndErrors(t *testing.T) {
	items := []ItemClassification{
		{Index: 0, Importance: ImportanceCritical, Tokens: 100, IsGoal: true},
		{Index: 1, Importance: ImportanceHigh, Tokens: 200, IsError: true},
		{Index: 2, Importance: ImportanceLow, Tokens: 200},
	}
	e := NewEngine(Config{
		TargetTokens:      100,
		MinTokens:         50,
		KeepRecent:        0,
		PreserveErrors:    true,
		PreserveDecisions: true,
	})

	result := e.Compact(items)
	assert.Equal(t, []int{0, 1}, result.KeepIndices)
	assert.Equal(t, []int{2}, result.RemoveIndices)
	assert.True(t, result.GoalPreserved)
}

func TestGoalAlwaysPreserved(t *testing.T) {
	items := []ItemClassification{
		{Index: 0, Importance: ImportanceCritical, Tokens: 5000, IsGoal: true},
		{Index: 1, Importance: ImportanceLow, Tokens: 100},
	}
	e := NewEngine(Config{TargetTokens: 10, MinTokens: 0, KeepRecent: 0})
	result := e.Compact(items)
	assert.Contains(t, result.KeepIndices, 0)
	assert.True(t, result.GoalPreserved)
}

func TestMinTokensFloor(t *testing.T) {
	items := []ItemClassification{
		{Index: 0, Importance: ImportanceCritical, Tokens: 8000, IsGoal: true},
		{Index: 1, Importance: ImportanceLow, Tokens: 3000},
		{Index: 2, Importance: ImportanceLow, Tokens: 3000},
	}
	e := NewEngine(Config{TargetTokens: 1000, MinTokens: 10000, KeepRecent: 0})
	result := e.Compact(items)
	assert.GreaterOrEqual(t, result.TokensAfter, e.Config().MinTokens)
}

func TestRecentWindowNeverRemoved(t *testing.T) {
	items := []ItemClassification{
		{Index: 0, Importance: ImportanceCritical, Tokens: 100, IsGoal: true},
		{Index: 1, Importance: ImportanceLow, Tokens: 500},
		{Index: 2, Importance: ImportanceLow, Tokens: 500},
	}
	e := NewEngine(Config{TargetTokens: 0, MinTokens: 0, KeepRecent: 2})
	result := e.Compact(items)
	assert.Contains(t, result.KeepIndices, 1)
	assert.Contains(t, result.KeepIndices, 2)
}

func TestShouldCompact(t *testing.T) {
	e := NewEngine(Config{MaxContextRatio: 0.70})
	assert.True(t, e.ShouldCompact(8000, 10000))
	assert.False(t, e.ShouldCompact(6000, 10000))
}

func TestClassifyItem(t *testing.T) {
	goal := ClassifyItem(0, "build a web scraper", 10, true)
	assert.True(t, goal.IsGoal)
	assert.Equal(t, ImportanceCritical, goal.Importance)

	errItem := ClassifyItem(1, "Traceback: something failed", 10, false)
	assert.True(t, errItem.IsError)
	assert.Equal(t, ImportanceHigh, errItem.Importance)

	decisionItem := ClassifyItem(2, "Decision: use postgres", 10, false)
	assert.True(t, decisionItem.IsDecision)
	assert.Equal(t, ImportanceHigh, decisionItem.Importance)

	noteItem := ClassifyItem(3, "NOTE: remember to check this", 10, false)
	assert.Equal(t, ImportanceNormal, noteItem.Importance)

	plain := ClassifyItem(4, "sure, sounds good", 10, false)
	assert.Equal(t, ImportanceLow, plain.Importance)
}
