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

// Package checkpoint provides atomic on-disk session persistence,
// restore, listing, and age-based cleanup. Each checkpoint is one
// checksummed JSON file per session; tampering with any checksummed
// field is detected on restore.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Phase is the fine-grained execution phase recorded at checkpoint time.
// It is a superset of the four coarse wire phases and records *why* a
// checkpoint was taken; serialization collapses it back to the coarse
// wire value.
type Phase string

const (
	PhaseInitialized   Phase = "initialized"
	PhaseRunning       Phase = "running"
	PhaseIterationEnd  Phase = "iteration_end"
	PhaseToolApproval  Phase = "tool_approval"
	PhaseIntervention  Phase = "intervention"
	PhaseCheckpointing Phase = "checkpointing"
	PhaseCompleted     Phase = "completed"
	PhaseStopped       Phase = "stopped"
	PhaseError         Phase = "error"
)

// WirePhase is the coarse four-value phase recorded in the on-disk
// checkpoint file.
type WirePhase string

const (
	WireIdle      WirePhase = "Idle"
	WireActive    WirePhase = "Active"
	WirePaused    WirePhase = "Paused"
	WireCompleted WirePhase = "Completed"
)

// ToWire maps the fine-grained Phase down to the coarse wire enum.
func (p Phase) ToWire() WirePhase {
	switch p {
	case PhaseInitialized:
		return WireIdle
	case PhaseCompleted, PhaseStopped:
		return WireCompleted
	case PhaseToolApproval, PhaseIntervention:
		return WirePaused
	default:
		return WireActive
	}
}

// TokenUsage mirrors the wire format's token_usage object.
type TokenUsage struct {
	InputTokens  uint64 `json:"input_tokens"`
	OutputTokens uint64 `json:"output_tokens"`
	TotalTokens  uint64 `json:"total_tokens"`
}

// Checkpoint is the full persisted snapshot of session state.
type Checkpoint struct {
	Version        uint32        `json:"version"`
	SessionID      string        `json:"session_id"`
	Goal           string        `json:"goal"`
	History        []interface{} `json:"history"`
	TurnsCompleted int           `json:"turns_completed"`
	TokenUsage     TokenUsage    `json:"token_usage"`
	Phase          WirePhase     `json:"phase"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	Checksum       string        `json:"checksum"`
	internalPhase  Phase
}

const currentVersion uint32 = 1

// NewCheckpoint creates a fresh checkpoint for a session with its goal,
// computing the initial checksum.
func NewCheckpoint(sessionID, goal string) *Checkpoint {
	now := time.Now()
	c := &Checkpoint{
		Version:       currentVersion,
		SessionID:     sessionID,
		Goal:          goal,
		History:       []interface{}{},
		Phase:         WireIdle,
		CreatedAt:     now,
		UpdatedAt:     now,
		internalPhase: PhaseInitialized,
	}
	c.Recompute()
	return c
}

// WithPhase sets the fine-grained phase (and its coarse wire projection).
func (c *Checkpoint) WithPhase(p Phase) *Checkpoint {
	c.internalPhase = p
	c.Phase = p.ToWire()
	c.UpdatedAt = time.Now()
	return c
}

// InternalPhase returns the fine-grained phase most recently set via
// WithPhase (zero value if never set, e.g. after deserialization).
func (c *Checkpoint) InternalPhase() Phase { return c.internalPhase }

// Update refreshes history, turn count, token usage, and phase, then
// recomputes the checksum. This is the mutation entry point used every
// checkpoint_interval turns and on terminal transitions.
func (c *Checkpoint) Update(history []interface{}, turnsCompleted int, usage TokenUsage, phase Phase) {
	c.History = history
	c.TurnsCompleted = turnsCompleted
	c.TokenUsage = usage
	c.internalPhase = phase
	c.Phase = phase.ToWire()
	c.UpdatedAt = time.Now()
	c.Recompute()
}

// checksumInput builds the byte sequence the checksum covers: version,
// session id, goal, turns completed, total tokens, and the created-at
// unix seconds, concatenated in that order.
func (c *Checkpoint) checksumInput() []byte {
	var buf []byte
	buf = append(buf, []byte(strconv.FormatUint(uint64(c.Version), 10))...)
	buf = append(buf, []byte(c.SessionID)...)
	buf = append(buf, []byte(c.Goal)...)
	buf = append(buf, []byte(strconv.Itoa(c.TurnsCompleted))...)
	buf = append(buf, []byte(strconv.FormatUint(c.TokenUsage.TotalTokens, 10))...)
	buf = append(buf, []byte(strconv.FormatInt(c.CreatedAt.Unix(), 10))...)
	return buf
}

// Recompute recalculates and stores the checksum over the current fields.
func (c *Checkpoint) Recompute() {
	sum := sha256.Sum256(c.checksumInput())
	c.Checksum = hex.EncodeToString(sum[:])
}

// Validate reports whether the stored checksum matches a freshly computed
// one over the current field values -- false if any non-checksum field
// was tampered with after the checkpoint was saved.
func (c *Checkpoint) Validate() bool {
	sum := sha256.Sum256(c.checksumInput())
	return hex.EncodeToString(sum[:]) == c.Checksum
}

// GoalPreview returns the goal truncated to at most maxLen runes, for use
// in recoverable-session summaries.
func (c *Checkpoint) GoalPreview(maxLen int) string {
	runes := []rune(c.Goal)
	if len(runes) <= maxLen {
		return c.Goal
	}
	return string(runes[:maxLen])
}

// Summary is the compact listing row returned by ListRecoverable.
type Summary struct {
	SessionID      string
	GoalPreview    string
	TurnsCompleted int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (c *Checkpoint) summary() Summary {
	return Summary{
		SessionID:      c.SessionID,
		GoalPreview:    c.GoalPreview(100),
		TurnsCompleted: c.TurnsCompleted,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

// ErrCorruption is returned by Restore when the stored file fails to
// parse or its checksum disagrees with a freshly computed one.
type ErrCorruption struct {
	SessionID string
	Reason    string
}

func (e *ErrCorruption) Error() string {
	return fmt.Sprintf("checkpoint corruption for session %s: %s", e.SessionID, e.Reason)
}
