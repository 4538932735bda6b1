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

// Package coordinator composes the budget, diagnostics, compaction,
// scheduler, checkpoint, intervention, retry, audit, telemetry, and
// progress subsystems into the session state machine and public API. One
// struct owns every collaborator and serializes access to them behind a
// single mutex; the core stays cooperative and single-threaded while any
// real concurrency lives in the host that drives it.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/autodrivecore/coordinator/pkg/audit"
	"github.com/autodrivecore/coordinator/pkg/budget"
	"github.com/autodrivecore/coordinator/pkg/checkpoint"
	"github.com/autodrivecore/coordinator/pkg/compaction"
	"github.com/autodrivecore/coordinator/pkg/config"
	"github.com/autodrivecore/coordinator/pkg/diagnostics"
	"github.com/autodrivecore/coordinator/pkg/intervention"
	"github.com/autodrivecore/coordinator/pkg/progress"
	"github.com/autodrivecore/coordinator/pkg/retry"
	"github.com/autodrivecore/coordinator/pkg/scheduler"
	"github.com/autodrivecore/coordinator/pkg/telemetry"
)

// Coordinator is the composition root. All exported methods are safe for
// sequential use by a single-threaded turn loop; concurrent callers are
// serialized behind an internal mutex, but the design intent is one
// logical caller per session.
type Coordinator struct {
	mu sync.Mutex

	cfg *config.Config

	Budget       *budget.Controller
	Diagnostics  *diagnostics.Engine
	Compaction   *compaction.Engine
	Scheduler    *scheduler.Scheduler
	Checkpoints  *checkpoint.Manager
	Intervention *intervention.Handler
	Failures     *retry.FailureCounter
	Audit        *audit.Logger
	Telemetry    *telemetry.Collector
	Progress     *progress.Collector

	session              Session
	history              []interface{}
	activeCheckpoint     *checkpoint.Checkpoint
	turnsSinceCheckpoint uint32
	turnSpan             *telemetry.TurnHandle
	events               []Event
}

// New creates a Coordinator wiring all ten subsystems from cfg. Passing
// nil uses config.Default().
func New(cfg *config.Config) *Coordinator {
	if cfg == nil {
		cfg = config.Default()
	} else {
		cfg.SetDefaults()
	}

	c := &Coordinator{
		cfg:          cfg,
		Budget:       budget.NewController(),
		Diagnostics:  diagnostics.NewEngine().WithLoopThreshold(cfg.LoopThreshold),
		Compaction:   compaction.NewEngine(cfg.Compaction),
		Scheduler:    scheduler.New(cfg.MaxConcurrentAgents),
		Checkpoints:  checkpoint.NewManager(cfg.ToCheckpointConfig()),
		Intervention: intervention.New(),
		Failures:     retry.NewFailureCounter(0),
		Audit:        audit.New("", nil),
		Telemetry:    telemetry.New(),
		Progress:     progress.New(),
	}
	c.Budget.Configure(cfg.Budget.ToBudgetConfig())
	return c
}

func (c *Coordinator) pushEvent(e Event) {
	c.events = append(c.events, e)
}

// StartSession transitions AwaitingGoal -> Initializing -> Running,
// wiring the goal into diagnostics, starting the budget timer and
// telemetry session, creating the initial checkpoint, and logging a
// SessionStart audit entry.
func (c *Coordinator) StartSession(ctx context.Context, goal, sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.session = Session{ID: sessionID, Goal: goal, CreatedAt: time.Now(), Phase: progress.PhaseInitializing}
	c.history = nil
	c.turnsSinceCheckpoint = 0

	c.Diagnostics.SetGoal(goal)
	c.Budget.Start()
	c.Telemetry.StartSession(ctx, goal, sessionID)
	c.Progress.SetGoal(goal)

	c.activeCheckpoint = c.Checkpoints.Create(sessionID, goal)
	if err := c.Checkpoints.Save(c.activeCheckpoint); err != nil {
		slog.Warn("initial checkpoint save failed", "session_id", sessionID, "error", err)
	}

	c.Audit.Record(
		audit.Operation{Kind: audit.OpSessionStart, Name: sessionID},
		audit.Outcome{Kind: audit.OutcomeSuccess},
		map[string]string{"goal": goal},
	)

	c.session.Phase = progress.PhaseRunning
	c.Progress.SetPhase(progress.PhaseRunning)
}

// UpdateHistory replaces the coordinator's snapshot of the opaque history
// the host maintains. The Coordinator never interprets item content; it
// only forwards this slice into checkpoint snapshots.
func (c *Coordinator) UpdateHistory(items []interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = items
}

// BeginTurn opens a telemetry turn span for the turn about to execute.
// Calling it is optional: RecordTurn opens and immediately closes a span
// of its own if the host never calls BeginTurn, but doing so yields an
// accurate per-turn duration instead of a zero-width one.
func (c *Coordinator) BeginTurn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	turnNumber := int(c.Budget.Usage().Turns) + 1
	c.turnSpan = c.Telemetry.StartTurn(turnNumber)
}

// RecordTurn feeds the budget controller and progress collector, bumps
// the checkpoint counter, consults budget and diagnostics, and raises
// interventions when either alerts pause-worthy, and saves a checkpoint
// once the interval is reached. Events raised within this call are pushed
// in a fixed order: BudgetAlert? -> InterventionRequired? ->
// DiagnosticAlert* -> CheckpointSaved?.
func (c *Coordinator) RecordTurn(tokensUsed uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Budget.RecordUsage(tokensUsed, true)
	c.turnsSinceCheckpoint++

	usage := c.Budget.Usage()
	c.Diagnostics.UpdateTokenUsage(usage.Tokens)
	c.Progress.RecordTurn(int(usage.Turns), usage.Elapsed, progress.TokenMetrics{Tokens: usage.Tokens, Turns: usage.Turns})

	handle := c.turnSpan
	c.turnSpan = nil
	if handle == nil {
		handle = c.Telemetry.StartTurn(int(usage.Turns))
	}
	c.Telemetry.EndTurn(handle, telemetry.Outcome{Kind: telemetry.OutcomeSuccess, TokensUsed: tokensUsed})

	budgetAlert := c.Budget.CheckBudget()
	if budgetAlert != nil {
		c.pushEvent(Event{Kind: EventBudgetAlert, Budget: budgetAlert})
		if !budgetAlert.ShouldPause() {
			c.Audit.Record(
				audit.Operation{Kind: audit.OpBudgetWarning, Name: string(budgetAlert.Kind)},
				audit.Outcome{Kind: audit.OutcomeSuccess},
				map[string]string{"detail": budgetAlertMessage(*budgetAlert)},
			)
		}
	}

	var report diagnostics.Report
	if c.cfg.DiagnosticsEnabled {
		report = c.Diagnostics.GenerateReport(c.session.Goal)
	}

	// At most one intervention per turn: a pause-worthy budget alert wins,
	// otherwise the first diagnostic alert.
	if budgetAlert != nil && budgetAlert.ShouldPause() {
		msg := budgetAlertMessage(*budgetAlert)
		c.Progress.SetBudgetAlert(msg)
		c.Intervention.RequestForBudget(msg)
		c.pushEvent(Event{Kind: EventInterventionRequired, Intervention: &InterventionRequiredPayload{Reason: msg, Source: "budget"}})
		c.session.Phase = progress.PhasePausedBudget
	} else if len(report.Alerts) > 0 {
		msg := diagnosticAlertMessage(report.Alerts[0])
		c.Progress.SetDiagnosticAlert(msg)
		c.Intervention.RequestForDiagnostic(msg)
		c.pushEvent(Event{Kind: EventInterventionRequired, Intervention: &InterventionRequiredPayload{Reason: msg, Source: "diagnostic"}})
		c.session.Phase = progress.PhasePausedDiagnostic
	}

	for i := range report.Alerts {
		alert := report.Alerts[i]
		c.pushEvent(Event{Kind: EventDiagnosticAlert, Diagnostic: &alert})
	}

	if c.Checkpoints.IsEnabled() && c.turnsSinceCheckpoint >= c.cfg.CheckpointInterval {
		c.saveCheckpointLocked(checkpoint.PhaseIterationEnd)
		c.turnsSinceCheckpoint = 0
	}
}

// RecordToolCall feeds the diagnostics engine's loop detector and appends
// a successful audit entry.
func (c *Coordinator) RecordToolCall(toolName string, argsHash uint64) {
	c.RecordToolCallResult(toolName, argsHash, diagnostics.ToolOutcome{Kind: diagnostics.ToolSuccess})
}

// RecordToolCallResult records a tool call with its outcome, mapping
// failures and timeouts to failure audit entries.
func (c *Coordinator) RecordToolCallResult(toolName string, argsHash uint64, outcome diagnostics.ToolOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Diagnostics.RecordToolCallResult(toolName, argsHash, outcome)

	auditOutcome := audit.Outcome{Kind: audit.OutcomeSuccess}
	switch outcome.Kind {
	case diagnostics.ToolFailure:
		auditOutcome = audit.Outcome{Kind: audit.OutcomeFailure, Message: outcome.Message}
	case diagnostics.ToolTimeout:
		auditOutcome = audit.Outcome{Kind: audit.OutcomeFailure, Message: "timeout"}
	}
	c.Audit.Record(
		audit.Operation{Kind: audit.OpToolExecution, Name: toolName},
		auditOutcome,
		nil,
	)
}

// RecordResponse feeds the diagnostics engine's repetitive-response
// detector.
func (c *Coordinator) RecordResponse(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Diagnostics.RecordResponse(text)
}

// ScheduleAgents delegates to the scheduler and seeds progress rows for
// every task.
func (c *Coordinator) ScheduleAgents(tasks []scheduler.Task, timing scheduler.Timing) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Scheduler.Schedule(tasks, timing)
	for _, t := range tasks {
		c.Progress.SetAgentStatus(t.ID, "pending")
	}
}

// NextAgent pulls the next runnable task, if the concurrency cap allows
// one, and records an AgentProgress event.
func (c *Coordinator) NextAgent() *scheduler.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.Scheduler.NextRunnable()
	if t != nil {
		c.Progress.SetAgentStatus(t.ID, "running")
		c.pushEvent(Event{Kind: EventAgentProgress, AgentProgress: &AgentProgressPayload{AgentID: t.ID, State: "running"}})
	}
	return t
}

// ReportAgentCompletion records a successful agent result, updates
// progress, and logs an audit entry.
func (c *Coordinator) ReportAgentCompletion(id int, output string, dispatchOrder *int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Scheduler.ReportCompletionWithOrder(id, output, dispatchOrder)
	c.Progress.SetAgentStatus(id, "completed")
	c.Audit.Record(
		audit.Operation{Kind: audit.OpAgentDispatch, Name: fmt.Sprintf("%d", id)},
		audit.Outcome{Kind: audit.OutcomeSuccess},
		nil,
	)
	c.pushEvent(Event{Kind: EventAgentProgress, AgentProgress: &AgentProgressPayload{AgentID: id, State: "completed"}})
}

// ReportAgentFailure records a failed agent, updates progress, and logs
// an audit entry.
func (c *Coordinator) ReportAgentFailure(id int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Scheduler.ReportFailure(id, err)
	c.Progress.SetAgentStatus(id, "failed")
	c.Audit.Record(
		audit.Operation{Kind: audit.OpAgentDispatch, Name: fmt.Sprintf("%d", id)},
		audit.Outcome{Kind: audit.OutcomeFailure, Message: err.Error()},
		nil,
	)
	c.pushEvent(Event{Kind: EventAgentProgress, AgentProgress: &AgentProgressPayload{AgentID: id, State: "failed"}})
}

// CollectAgentResults drains the scheduler's completed results.
func (c *Coordinator) CollectAgentResults() []scheduler.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Scheduler.CollectResults()
}

// ShouldCompact reports whether currentTokens warrants a compaction pass.
func (c *Coordinator) ShouldCompact(currentTokens, contextLimit int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Compaction.ShouldCompact(currentTokens, contextLimit)
}

// CompactHistory runs one compaction pass, records the notification into
// progress, and emits a HistoryCompacted event.
func (c *Coordinator) CompactHistory(items []compaction.ItemClassification) compaction.Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := c.Compaction.Compact(items)
	c.Progress.RecordCompaction(result.TokensBefore, result.TokensAfter, len(result.RemoveIndices), result.RemovalSummary)
	c.pushEvent(Event{Kind: EventHistoryCompacted, Compaction: &HistoryCompactedPayload{
		TokensBefore: result.TokensBefore,
		TokensAfter:  result.TokensAfter,
		ItemsRemoved: len(result.RemoveIndices),
		Timestamp:    time.Now(),
	}})
	return result
}

// HandleIntervention resolves the pending intervention with action.
func (c *Coordinator) HandleIntervention(action intervention.Action) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Intervention.Resolve(action)
}

// TakeInterventionAction drains the resolved intervention action, if any,
// and applies its side effects (extending the budget, resuming, or
// stopping the session).
func (c *Coordinator) TakeInterventionAction() *intervention.Action {
	c.mu.Lock()
	defer c.mu.Unlock()
	action := c.Intervention.TakeAction()
	if action == nil {
		return nil
	}
	c.applyInterventionActionLocked(*action)
	return action
}

func (c *Coordinator) applyInterventionActionLocked(action intervention.Action) {
	switch action.Kind {
	case intervention.ActionStop:
		c.session.Phase = progress.PhaseStopped
		c.Progress.SetPhase(progress.PhaseStopped)
	case intervention.ActionExtendBudget:
		if action.ExtraTokens != nil && c.cfg.Budget.TokenBudget != nil {
			extended := *c.cfg.Budget.TokenBudget + *action.ExtraTokens
			c.cfg.Budget.TokenBudget = &extended
		}
		if action.ExtraTurns != nil && c.cfg.Budget.TurnLimit != nil {
			extended := *c.cfg.Budget.TurnLimit + *action.ExtraTurns
			c.cfg.Budget.TurnLimit = &extended
		}
		c.Budget.Configure(c.cfg.Budget.ToBudgetConfig())
		c.session.Phase = progress.PhaseRunning
		c.Progress.SetPhase(progress.PhaseRunning)
		c.Progress.ClearAlerts()
	default:
		c.session.Phase = progress.PhaseRunning
		c.Progress.SetPhase(progress.PhaseRunning)
		c.Progress.ClearAlerts()
	}
}

// InterventionPending reports whether an intervention currently awaits
// resolution.
func (c *Coordinator) InterventionPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Intervention.Pending()
}

// HandleTurnFailure classifies a turn-loop error and decides whether the
// host should retry, pause for an intervention, or surface the error as
// fatal.
func (c *Coordinator) HandleTurnFailure(turnErr *retry.TurnError, attempt int) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Failures.RecordFailure(turnErr)
	c.Audit.Record(
		audit.Operation{Kind: audit.OpToolExecution, Name: "turn"},
		audit.Outcome{Kind: audit.OutcomeFailure, Message: turnErr.Error()},
		nil,
	)

	switch {
	case turnErr.Class.Fatal():
		c.session.Phase = progress.PhaseFailed
		c.Progress.SetPhase(progress.PhaseFailed)
		return Decision{Kind: DecisionFatal}

	case turnErr.Class.RequiresIntervention():
		reason := turnErr.Error()
		if turnErr.Class == retry.ErrBudgetExceeded {
			c.Intervention.RequestForBudget(reason)
		} else {
			c.Intervention.RequestForDiagnostic(reason)
		}
		c.pushEvent(Event{Kind: EventInterventionRequired, Intervention: &InterventionRequiredPayload{Reason: reason, Source: "turn_error"}})
		return Decision{Kind: DecisionIntervene}

	case turnErr.Class.Retryable():
		strategy := retry.StrategyFor(turnErr)
		if !strategy.ShouldRetry(attempt) {
			return Decision{Kind: DecisionFatal}
		}
		return Decision{Kind: DecisionRetry, Delay: retry.Delay(strategy, attempt)}

	default:
		return Decision{Kind: DecisionFatal}
	}
}

// RecordTurnSuccess resets the consecutive-failure counter.
func (c *Coordinator) RecordTurnSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Failures.RecordSuccess()
}

// EndSession finalizes telemetry, sets the terminal phase, and saves a
// final checkpoint when checkpointing is enabled. Checkpoint I/O errors
// are logged but never returned: a failed final save does not turn an
// otherwise-successful session into a failure.
func (c *Coordinator) EndSession(success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if success {
		c.session.Phase = progress.PhaseCompleted
	} else if c.session.Phase != progress.PhaseFailed {
		c.session.Phase = progress.PhaseStopped
	}
	c.Progress.SetPhase(c.session.Phase)
	c.Telemetry.EndSession()

	outcome := audit.Outcome{Kind: audit.OutcomeSuccess}
	if !success {
		outcome = audit.Outcome{Kind: audit.OutcomeFailure, Message: "session ended without completing its goal"}
	}
	c.Audit.Record(audit.Operation{Kind: audit.OpSessionEnd, Name: c.session.ID}, outcome, nil)

	if c.Checkpoints.IsEnabled() && c.activeCheckpoint != nil {
		phase := checkpoint.PhaseCompleted
		if !success {
			phase = checkpoint.PhaseStopped
		}
		c.saveCheckpointLocked(phase)
	}
}

func (c *Coordinator) saveCheckpointLocked(phase checkpoint.Phase) {
	if c.activeCheckpoint == nil {
		return
	}
	usage := c.Budget.Usage()
	c.activeCheckpoint.Update(c.history, int(usage.Turns), checkpoint.TokenUsage{TotalTokens: usage.Tokens}, phase)

	if err := c.Checkpoints.Save(c.activeCheckpoint); err != nil {
		slog.Warn("checkpoint save failed", "session_id", c.session.ID, "error", err)
		c.Audit.Record(
			audit.Operation{Kind: audit.OpCheckpointSave, Name: c.session.ID},
			audit.Outcome{Kind: audit.OutcomeFailure, Message: err.Error()},
			nil,
		)
		return
	}
	c.Audit.Record(
		audit.Operation{Kind: audit.OpCheckpointSave, Name: c.session.ID},
		audit.Outcome{Kind: audit.OutcomeSuccess},
		nil,
	)
	c.pushEvent(Event{Kind: EventCheckpointSaved, CheckpointSaved: &CheckpointSavedPayload{
		SessionID:      c.session.ID,
		TurnsCompleted: int(usage.Turns),
	}})
}

// RestoreSession loads a checkpoint by session ID and, if found, rehydrates
// the Coordinator's session state from it. A CheckpointCorruption error is
// fatal for the restore attempt only: the caller may still start a fresh
// session.
func (c *Coordinator) RestoreSession(sessionID string) (*checkpoint.Checkpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.session.Phase = progress.PhaseRecovering
	c.Progress.SetPhase(progress.PhaseRecovering)

	cp, err := c.Checkpoints.Restore(sessionID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, nil
	}

	c.activeCheckpoint = cp
	c.session = Session{ID: cp.SessionID, Goal: cp.Goal, CreatedAt: cp.CreatedAt, Phase: progress.PhaseRunning}
	c.history = cp.History
	c.turnsSinceCheckpoint = 0

	c.Diagnostics.SetGoal(cp.Goal)
	c.Progress.SetGoal(cp.Goal)
	c.Progress.SetPhase(progress.PhaseRunning)

	return cp, nil
}

// ListRecoverableSessions lists every checkpoint summary on disk.
func (c *Coordinator) ListRecoverableSessions() ([]checkpoint.Summary, error) {
	return c.Checkpoints.ListRecoverable()
}

// Session returns a snapshot of the coordinator's current session record.
func (c *Coordinator) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// TakeEvents drains and returns every event pushed since the last call,
// preserving push order.
func (c *Coordinator) TakeEvents() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	events := c.events
	c.events = nil
	return events
}

// Reset returns the Coordinator to its pristine, pre-session state,
// clearing every component.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Budget.Reset()
	c.Diagnostics.Reset()
	c.Scheduler.Reset()
	c.Intervention.Reset()
	c.Failures = retry.NewFailureCounter(0)
	c.Audit.Reset()
	c.Telemetry.Reset()
	c.Progress.Reset()

	c.session = Session{}
	c.history = nil
	c.activeCheckpoint = nil
	c.turnsSinceCheckpoint = 0
	c.turnSpan = nil
	c.events = nil
}
