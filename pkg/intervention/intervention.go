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

// Package intervention drives the pause/edit/resume dialog state machine
// that gives a human operator a say over a running session. State is a
// mutex-guarded, Kind-tagged struct resolved at most once per request.
package intervention

import "sync"

// StateKind discriminates InterventionState's sum type.
type StateKind int

const (
	StateNone StateKind = iota
	StatePending
	StateEditingPrompt
	StateModifyingGoal
	StateResolved
)

func (k StateKind) String() string {
	switch k {
	case StateNone:
		return "None"
	case StatePending:
		return "Pending"
	case StateEditingPrompt:
		return "EditingPrompt"
	case StateModifyingGoal:
		return "ModifyingGoal"
	case StateResolved:
		return "Resolved"
	default:
		return "Unknown"
	}
}

// RequestKind is the compact alert-kind enum that request_for_budget and
// request_for_diagnostic project rich alerts into before entering Pending.
type RequestKind int

const (
	RequestBudget RequestKind = iota
	RequestDiagnostic
	RequestManual
)

// ActionKind discriminates InterventionAction's sum type.
type ActionKind int

const (
	ActionResume ActionKind = iota
	ActionResumeWithPrompt
	ActionResumeWithGoal
	ActionSkipStep
	ActionStop
	ActionExtendBudget
)

// Action is the resolution payload carried out of Pending/EditingPrompt/
// ModifyingGoal into Resolved.
type Action struct {
	Kind        ActionKind
	Prompt      string
	Goal        string
	ExtraTokens *uint64
	ExtraTurns  *uint64
}

// ResumeAction builds a plain Resume action.
func ResumeAction() Action { return Action{Kind: ActionResume} }

// ResumeWithPromptAction builds a ResumeWithPrompt action.
func ResumeWithPromptAction(prompt string) Action {
	return Action{Kind: ActionResumeWithPrompt, Prompt: prompt}
}

// ResumeWithGoalAction builds a ResumeWithGoal action.
func ResumeWithGoalAction(goal string) Action {
	return Action{Kind: ActionResumeWithGoal, Goal: goal}
}

// SkipStepAction builds a SkipStep action.
func SkipStepAction() Action { return Action{Kind: ActionSkipStep} }

// StopAction builds a Stop action.
func StopAction() Action { return Action{Kind: ActionStop} }

// ExtendBudgetAction builds an ExtendBudget action with optional extra
// tokens and/or extra turns.
func ExtendBudgetAction(extraTokens, extraTurns *uint64) Action {
	return Action{Kind: ActionExtendBudget, ExtraTokens: extraTokens, ExtraTurns: extraTurns}
}

// State is the current intervention dialog state.
type State struct {
	Kind          StateKind
	Reason        string
	RequestKind   RequestKind
	OriginalValue string // the prompt or goal being edited, for EditingPrompt/ModifyingGoal
	Action        *Action
}

// Handler drives the intervention state machine for a single session.
// Only one intervention may be pending at a time.
type Handler struct {
	mu            sync.Mutex
	state         State
	clarification *string
}

// New creates a Handler in the None state.
func New() *Handler {
	return &Handler{state: State{Kind: StateNone}}
}

// Request moves None -> Pending with a free-form reason and a manual
// request kind.
func (h *Handler) Request(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = State{Kind: StatePending, Reason: reason, RequestKind: RequestManual}
}

// RequestForBudget is sugar that projects a budget alert into Pending.
func (h *Handler) RequestForBudget(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = State{Kind: StatePending, Reason: reason, RequestKind: RequestBudget}
}

// RequestForDiagnostic is sugar that projects a diagnostic alert into
// Pending.
func (h *Handler) RequestForDiagnostic(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = State{Kind: StatePending, Reason: reason, RequestKind: RequestDiagnostic}
}

// StartEditPrompt moves to EditingPrompt, recording the original prompt.
func (h *Handler) StartEditPrompt(original string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = State{Kind: StateEditingPrompt, OriginalValue: original}
}

// StartModifyGoal moves to ModifyingGoal, recording the original goal.
func (h *Handler) StartModifyGoal(original string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = State{Kind: StateModifyingGoal, OriginalValue: original}
}

// Resolve attaches an action to the current Pending/EditingPrompt/
// ModifyingGoal state, transitioning to Resolved. It is a no-op if no
// intervention is currently pending or being edited.
func (h *Handler) Resolve(action Action) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch h.state.Kind {
	case StatePending, StateEditingPrompt, StateModifyingGoal:
		h.state = State{Kind: StateResolved, Action: &action}
	}
}

// TakeAction returns the resolved action and atomically clears state back
// to None. Subsequent calls with no new resolution return nil.
func (h *Handler) TakeAction() *Action {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.Kind != StateResolved || h.state.Action == nil {
		return nil
	}
	action := h.state.Action
	h.state = State{Kind: StateNone}
	return action
}

// Pending reports whether an intervention is currently awaiting
// resolution (Pending, EditingPrompt, or ModifyingGoal).
func (h *Handler) Pending() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch h.state.Kind {
	case StatePending, StateEditingPrompt, StateModifyingGoal:
		return true
	default:
		return false
	}
}

// CurrentState returns a snapshot of the handler's state.
func (h *Handler) CurrentState() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// StatusMessage returns a human-readable description of the current
// intervention state for a host UI, or nil when no intervention is in
// flight.
func (h *Handler) StatusMessage() *string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var msg string
	switch h.state.Kind {
	case StateNone:
		return nil
	case StatePending:
		if h.state.Reason != "" {
			msg = h.state.Reason
		} else {
			switch h.state.RequestKind {
			case RequestBudget:
				msg = "Budget decision needed"
			case RequestDiagnostic:
				msg = "Diagnostic review needed"
			default:
				msg = "Paused by user"
			}
		}
	case StateEditingPrompt:
		msg = "Editing prompt..."
	case StateModifyingGoal:
		msg = "Modifying goal..."
	case StateResolved:
		switch h.state.Action.Kind {
		case ActionResume:
			msg = "Resuming..."
		case ActionResumeWithPrompt:
			msg = "Resuming with new prompt..."
		case ActionResumeWithGoal:
			msg = "Resuming with new goal..."
		case ActionSkipStep:
			msg = "Skipping step..."
		case ActionStop:
			msg = "Stopping..."
		case ActionExtendBudget:
			msg = "Extending budget..."
		}
	}
	return &msg
}

// SetClarification records a clarification string independent of the
// main state machine.
func (h *Handler) SetClarification(s string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clarification = &s
}

// TakeClarification returns and clears any pending clarification.
func (h *Handler) TakeClarification() *string {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := h.clarification
	h.clarification = nil
	return c
}

// Reset returns the handler to its pristine None state.
func (h *Handler) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = State{Kind: StateNone}
	h.clarification = nil
}
