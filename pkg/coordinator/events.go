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

package coordinator

import (
	"time"

	"github.com/autodrivecore/coordinator/pkg/budget"
	"github.com/autodrivecore/coordinator/pkg/diagnostics"
)

// EventKind discriminates the event variants the Coordinator mux emits.
type EventKind int

const (
	EventBudgetAlert EventKind = iota
	EventInterventionRequired
	EventDiagnosticAlert
	EventHistoryCompacted
	EventCheckpointSaved
	EventAgentProgress
)

// InterventionRequiredPayload accompanies EventInterventionRequired.
type InterventionRequiredPayload struct {
	Reason string
	Source string // "budget", "diagnostic", or "turn_error"
}

// HistoryCompactedPayload accompanies EventHistoryCompacted.
type HistoryCompactedPayload struct {
	TokensBefore int
	TokensAfter  int
	ItemsRemoved int
	Timestamp    time.Time
}

// CheckpointSavedPayload accompanies EventCheckpointSaved.
type CheckpointSavedPayload struct {
	SessionID      string
	TurnsCompleted int
}

// AgentProgressPayload accompanies EventAgentProgress.
type AgentProgressPayload struct {
	AgentID int
	State   string
}

// Event is the tagged union muxed from the budget, diagnostics,
// scheduler, checkpoint, and intervention modules into one serialized
// stream drained by TakeEvents.
type Event struct {
	Kind EventKind

	Budget          *budget.Alert
	Intervention    *InterventionRequiredPayload
	Diagnostic      *diagnostics.Alert
	Compaction      *HistoryCompactedPayload
	CheckpointSaved *CheckpointSavedPayload
	AgentProgress   *AgentProgressPayload
}
