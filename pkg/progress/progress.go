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

// Package progress assembles a read-only view-model of session progress
// for a host UI or CLI to poll. BuildViewModel is a pure projection of
// the collector's current state.
package progress

import (
	"fmt"
	"sync"
	"time"
)

// Phase is the session lifecycle phase tracked by the progress collector.
type Phase string

const (
	PhaseAwaitingGoal         Phase = "AwaitingGoal"
	PhaseInitializing         Phase = "Initializing"
	PhaseRunning              Phase = "Running"
	PhaseAwaitingConfirmation Phase = "AwaitingConfirmation"
	PhasePausedBudget         Phase = "PausedBudget"
	PhasePausedDiagnostic     Phase = "PausedDiagnostic"
	PhaseAwaitingIntervention Phase = "AwaitingIntervention"
	PhaseCheckpointing        Phase = "Checkpointing"
	PhaseRecovering           Phase = "Recovering"
	PhaseCompleted            Phase = "Completed"
	PhaseStopped              Phase = "Stopped"
	PhaseFailed               Phase = "Failed"
)

// TokenMetrics is the token-usage snapshot surfaced to a host UI.
type TokenMetrics struct {
	Tokens uint64
	Turns  uint64
}

// AgentStatus is the per-agent progress row surfaced to a host UI.
type AgentStatus struct {
	AgentID int
	State   string
}

// CompactionNotification records that history was compacted.
type CompactionNotification struct {
	TokensBefore int
	TokensAfter  int
	ItemsRemoved int
	Summary      string
}

// TokensSaved returns how many tokens the compaction pass freed.
func (n CompactionNotification) TokensSaved() int {
	if n.TokensAfter >= n.TokensBefore {
		return 0
	}
	return n.TokensBefore - n.TokensAfter
}

// SavingsPercentage returns the freed fraction as a percentage of the
// pre-compaction total, 0 when nothing was tracked.
func (n CompactionNotification) SavingsPercentage() float64 {
	if n.TokensBefore == 0 {
		return 0
	}
	return float64(n.TokensSaved()) / float64(n.TokensBefore) * 100
}

// Collector accumulates session progress state and projects it into a
// read-only view-model.
type Collector struct {
	mu sync.Mutex

	phase           Phase
	turnsCompleted  int
	elapsed         time.Duration
	tokenMetrics    TokenMetrics
	agents          map[int]AgentStatus
	budgetAlert     *string
	diagnosticAlert *string
	compaction      *CompactionNotification
	goal            *string
}

// New creates a collector in the AwaitingGoal phase.
func New() *Collector {
	return &Collector{phase: PhaseAwaitingGoal, agents: make(map[int]AgentStatus)}
}

// SetGoal records the session goal and advances to Initializing.
func (c *Collector) SetGoal(goal string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.goal = &goal
	c.phase = PhaseInitializing
}

// SetPhase transitions to an arbitrary phase directly (used by the
// Coordinator for Running/Checkpointing/Recovering/terminal transitions).
func (c *Collector) SetPhase(p Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = p
}

// RecordTurn updates turn count, elapsed time, and token metrics.
func (c *Collector) RecordTurn(turnsCompleted int, elapsed time.Duration, tokens TokenMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turnsCompleted = turnsCompleted
	c.elapsed = elapsed
	c.tokenMetrics = tokens
}

// SetAgentStatus records or updates one agent's progress row.
func (c *Collector) SetAgentStatus(agentID int, state string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agents[agentID] = AgentStatus{AgentID: agentID, State: state}
}

// SetBudgetAlert records a budget alert and transitions the phase to
// PausedBudget.
func (c *Collector) SetBudgetAlert(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.budgetAlert = &message
	c.phase = PhasePausedBudget
}

// SetDiagnosticAlert records a diagnostic alert and transitions the phase
// to PausedDiagnostic.
func (c *Collector) SetDiagnosticAlert(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.diagnosticAlert = &message
	c.phase = PhasePausedDiagnostic
}

// ClearAlerts clears any recorded budget/diagnostic alerts, e.g. after an
// intervention resolves them.
func (c *Collector) ClearAlerts() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.budgetAlert = nil
	c.diagnosticAlert = nil
}

// RecordCompaction records a compaction notification for the next
// view-model build.
func (c *Collector) RecordCompaction(tokensBefore, tokensAfter, itemsRemoved int, summary string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.compaction = &CompactionNotification{
		TokensBefore: tokensBefore,
		TokensAfter:  tokensAfter,
		ItemsRemoved: itemsRemoved,
		Summary:      summary,
	}
}

// ClearCompaction drops any recorded compaction notification, e.g. once a
// host UI has displayed it.
func (c *Collector) ClearCompaction() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.compaction = nil
}

// ViewModel is the pure, read-only projection returned by
// BuildViewModel.
type ViewModel struct {
	Phase           Phase
	TurnsCompleted  int
	Elapsed         time.Duration
	TokenMetrics    TokenMetrics
	Agents          []AgentStatus
	BudgetAlert     *string
	DiagnosticAlert *string
	Compaction      *CompactionNotification
	Goal            *string
	IsActive        bool
}

var activePhases = map[Phase]bool{
	PhaseRunning:              true,
	PhaseInitializing:         true,
	PhaseAwaitingConfirmation: true,
	PhaseCheckpointing:        true,
	PhaseRecovering:           true,
}

// StatusString returns a human-readable one-line status for the view
// model's phase.
func (vm ViewModel) StatusString() string {
	switch vm.Phase {
	case PhaseAwaitingGoal:
		return "Awaiting goal"
	case PhaseInitializing:
		return "Initializing..."
	case PhaseRunning:
		return fmt.Sprintf("Running (turn %d)", vm.TurnsCompleted)
	case PhaseAwaitingConfirmation:
		return "Awaiting confirmation"
	case PhasePausedBudget:
		return "Paused (budget)"
	case PhasePausedDiagnostic:
		return "Paused (diagnostic)"
	case PhaseAwaitingIntervention:
		return "Awaiting intervention"
	case PhaseCheckpointing:
		return "Saving checkpoint..."
	case PhaseRecovering:
		return "Recovering..."
	case PhaseCompleted:
		return fmt.Sprintf("Completed (%d turns)", vm.TurnsCompleted)
	case PhaseStopped:
		return "Stopped"
	case PhaseFailed:
		return "Failed"
	default:
		return string(vm.Phase)
	}
}

// BuildViewModel is a pure read that derives IsActive from the current
// phase.
func (c *Collector) BuildViewModel() ViewModel {
	c.mu.Lock()
	defer c.mu.Unlock()

	agents := make([]AgentStatus, 0, len(c.agents))
	for _, a := range c.agents {
		agents = append(agents, a)
	}

	return ViewModel{
		Phase:           c.phase,
		TurnsCompleted:  c.turnsCompleted,
		Elapsed:         c.elapsed,
		TokenMetrics:    c.tokenMetrics,
		Agents:          agents,
		BudgetAlert:     c.budgetAlert,
		DiagnosticAlert: c.diagnosticAlert,
		Compaction:      c.compaction,
		Goal:            c.goal,
		IsActive:        activePhases[c.phase],
	}
}

// Reset returns the collector to its pristine AwaitingGoal state.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = PhaseAwaitingGoal
	c.turnsCompleted = 0
	c.elapsed = 0
	c.tokenMetrics = TokenMetrics{}
	c.agents = make(map[int]AgentStatus)
	c.budgetAlert = nil
	c.diagnosticAlert = nil
	c.compaction = nil
	c.goal = nil
}
