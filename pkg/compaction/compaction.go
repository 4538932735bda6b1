// Copyright 2025 Autodrive Core Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package compaction decides which history items to drop under a target
// token budget while preserving the goal, errors, decisions, and recent
// items. The policy is classification-driven rather than a simple LIFO
// window: each item carries an importance rank and preservation flags,
// and removal walks the removable set lowest-importance-oldest-first.
package compaction

import (
	"fmt"
	"sort"
	"strings"
)

// Importance ranks how essential a history item is to keep.
type Importance int

const (
	ImportanceLow Importance = iota
	ImportanceNormal
	ImportanceHigh
	ImportanceCritical
)

// ItemClassification is the per-item metadata the engine compacts over.
// The host owns the actual HistoryItem content; the engine only ever
// references items by integer index.
type ItemClassification struct {
	Index      int
	Importance Importance
	Tokens     int
	IsGoal     bool
	IsError    bool
	IsDecision bool
	Summary    string
}

// Config tunes the compaction algorithm.
type Config struct {
	TargetTokens      int     `yaml:"target_tokens"`
	MinTokens         int     `yaml:"min_tokens"`
	MaxContextRatio   float64 `yaml:"max_context_ratio"`
	PreserveErrors    bool    `yaml:"preserve_errors"`
	PreserveDecisions bool    `yaml:"preserve_decisions"`
	KeepRecent        int     `yaml:"keep_recent"`
}

// SetDefaults applies the documented defaults for any zero-valued fields.
func (c *Config) SetDefaults() {
	if c.TargetTokens == 0 {
		c.TargetTokens = 50_000
	}
	if c.MinTokens == 0 {
		c.MinTokens = 10_000
	}
	if c.MaxContextRatio == 0 {
		c.MaxContextRatio = 0.70
	}
	if c.KeepRecent == 0 {
		c.KeepRecent = 5
	}
}

// Result is the outcome of one compaction pass.
type Result struct {
	KeepIndices    []int
	RemoveIndices  []int
	TokensBefore   int
	TokensAfter    int
	RemovalSummary string
	GoalPreserved  bool
}

// TokensSaved returns how many tokens the pass freed.
func (r Result) TokensSaved() int {
	if r.TokensAfter >= r.TokensBefore {
		return 0
	}
	return r.TokensBefore - r.TokensAfter
}

// SavingsPercentage returns the freed fraction as a percentage of the
// pre-compaction total, 0 for an empty history.
func (r Result) SavingsPercentage() float64 {
	if r.TokensBefore == 0 {
		return 0
	}
	return float64(r.TokensSaved()) / float64(r.TokensBefore) * 100
}

// Engine is the compaction engine. It holds no mutable state between
// calls; Compact is a pure function of its inputs and Config.
type Engine struct {
	config Config
}

// NewEngine creates a compaction engine with defaults applied to every
// zero-valued field except KeepRecent, which is used as given: zero
// disables the recent-window protection.
func NewEngine(cfg Config) *Engine {
	keepRecent := cfg.KeepRecent
	cfg.SetDefaults()
	cfg.KeepRecent = keepRecent
	return &Engine{config: cfg}
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config { return e.config }

// ShouldCompact reports whether currentTokens exceeds
// contextLimit * MaxContextRatio.
func (e *Engine) ShouldCompact(currentTokens, contextLimit int) bool {
	return float64(currentTokens) > float64(contextLimit)*e.config.MaxContextRatio
}

// Compact applies the priority-ordered removal algorithm and returns the
// keep/remove index sets.
func (e *Engine) Compact(items []ItemClassification) Result {
	tokensBefore := 0
	for _, it := range items {
		tokensBefore += it.Tokens
	}

	removable := make(map[int]bool, len(items))
	lastIdx := len(items) - 1

	for _, it := range items {
		removable[it.Index] = true
	}

	for i, it := range items {
		// Recent-window protection: last KeepRecent items are never removable.
		if lastIdx-i < e.config.KeepRecent {
			removable[it.Index] = false
			continue
		}
		if it.IsGoal {
			removable[it.Index] = false
			continue
		}
		if e.config.PreserveErrors && it.IsError {
			removable[it.Index] = false
			continue
		}
		if e.config.PreserveDecisions && it.IsDecision {
			removable[it.Index] = false
			continue
		}
		if it.Importance == ImportanceCritical {
			removable[it.Index] = false
			continue
		}
	}

	var candidates []ItemClassification
	for _, it := range items {
		if removable[it.Index] {
			candidates = append(candidates, it)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Importance != candidates[j].Importance {
			return candidates[i].Importance < candidates[j].Importance
		}
		return candidates[i].Index < candidates[j].Index
	})

	removed := make(map[int]bool, len(candidates))
	tokensAfter := tokensBefore
	removedCount := 0
	for _, cand := range candidates {
		if tokensAfter <= e.config.TargetTokens {
			break
		}
		if tokensAfter-cand.Tokens < e.config.MinTokens {
			break
		}
		removed[cand.Index] = true
		tokensAfter -= cand.Tokens
		removedCount++
	}

	var keep, remove []int
	goalPreserved := true
	for _, it := range items {
		if removed[it.Index] {
			remove = append(remove, it.Index)
			if it.IsGoal {
				goalPreserved = false
			}
			continue
		}
		keep = append(keep, it.Index)
	}

	return Result{
		KeepIndices:    keep,
		RemoveIndices:  remove,
		TokensBefore:   tokensBefore,
		TokensAfter:    tokensAfter,
		RemovalSummary: fmt.Sprintf("removed %d item(s), freed %d token(s)", removedCount, tokensBefore-tokensAfter),
		GoalPreserved:  goalPreserved,
	}
}

var (
	errorKeywords     = []string{"error", "failed", "exception", "panic", "traceback"}
	decisionKeywords  = []string{"decision:", "decided to", "choosing", "selected", "approach:"}
	importantKeywords = []string{"important", "note:", "warning", "todo", "fixme"}
)

// ClassifyItem derives an ItemClassification from raw content via
// case-insensitive substring matching. The keyword lists are intentionally
// simple; the contract is the importance ordering, not the exact terms.
func ClassifyItem(index int, content string, tokens int, isFirst bool) ItemClassification {
	lower := strings.ToLower(content)

	isGoal := isFirst
	isError := containsAny(lower, errorKeywords)
	isDecision := containsAny(lower, decisionKeywords)
	isImportantNormal := containsAny(lower, importantKeywords)

	var importance Importance
	switch {
	case isGoal:
		importance = ImportanceCritical
	case isError || isDecision:
		importance = ImportanceHigh
	case isImportantNormal:
		importance = ImportanceNormal
	default:
		importance = ImportanceLow
	}

	return ItemClassification{
		Index:      index,
		Importance: importance,
		Tokens:     tokens,
		IsGoal:     isGoal,
		IsError:    isError,
		IsDecision: isDecision,
	}
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
