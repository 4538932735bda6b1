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

package checkpoint

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Manager orchestrates checkpoint creation, persistence, and recovery,
// splitting responsibility between config, storage, and hooks.
type Manager struct {
	config  *Config
	storage *Storage

	mu           sync.RWMutex
	watcher      *fsnotify.Watcher
	cacheDirty   bool
	listingCache []Summary
}

// NewManager creates a checkpoint manager backed by file storage under
// cfg.Dir.
func NewManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.SetDefaults()
	return &Manager{
		config:     cfg,
		storage:    NewStorage(cfg.Dir),
		cacheDirty: true,
	}
}

// IsEnabled reports whether checkpointing is enabled.
func (m *Manager) IsEnabled() bool { return m.config.IsEnabled() }

// Config returns the checkpoint configuration.
func (m *Manager) Config() *Config { return m.config }

// Create builds a fresh checkpoint for a new session.
func (m *Manager) Create(sessionID, goal string) *Checkpoint {
	return NewCheckpoint(sessionID, goal)
}

// Save persists a checkpoint if checkpointing is enabled.
func (m *Manager) Save(cp *Checkpoint) error {
	if !m.IsEnabled() {
		return nil
	}
	if err := m.storage.Save(cp); err != nil {
		return err
	}
	m.markDirty()
	return nil
}

// Restore loads a checkpoint by session ID, or (nil, nil) if none exists.
func (m *Manager) Restore(sessionID string) (*Checkpoint, error) {
	return m.storage.Restore(sessionID)
}

// Validate reports whether cp's checksum matches its current fields.
func (m *Manager) Validate(cp *Checkpoint) bool {
	return cp.Validate()
}

// ListRecoverable returns cached summaries when the fsnotify watch is
// active and no changes have landed since the last listing, falling back
// to a fresh directory scan otherwise.
func (m *Manager) ListRecoverable() ([]Summary, error) {
	m.mu.RLock()
	if m.watcher != nil && !m.cacheDirty && m.listingCache != nil {
		defer m.mu.RUnlock()
		return m.listingCache, nil
	}
	m.mu.RUnlock()

	summaries, err := m.storage.ListRecoverable()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.listingCache = summaries
	m.cacheDirty = false
	m.mu.Unlock()

	return summaries, nil
}

// Cleanup deletes checkpoints older than maxAge and returns how many were
// removed.
func (m *Manager) Cleanup(maxAge time.Duration) (int, error) {
	n, err := m.storage.Cleanup(maxAge)
	if err == nil && n > 0 {
		m.markDirty()
	}
	return n, err
}

func (m *Manager) markDirty() {
	m.mu.Lock()
	m.cacheDirty = true
	m.mu.Unlock()
}

// WatchDir starts an fsnotify watch on the checkpoint directory so
// external writers (an operator pruning files by hand, or a sibling
// process) invalidate the in-process listing cache without a manual
// Cleanup/Save call. It is optional: hosts that never call it get a
// fresh directory scan on every ListRecoverable call.
func (m *Manager) WatchDir() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(m.config.Dir); err != nil {
		_ = w.Close()
		return err
	}

	m.mu.Lock()
	m.watcher = w
	m.mu.Unlock()

	go func() {
		for {
			select {
			case _, ok := <-w.Events:
				if !ok {
					return
				}
				m.markDirty()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("checkpoint directory watch error", "error", err)
			}
		}
	}()
	return nil
}

// StopWatch closes the fsnotify watcher, if one was started.
func (m *Manager) StopWatch() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watcher == nil {
		return nil
	}
	err := m.watcher.Close()
	m.watcher = nil
	return err
}

// Hooks exposes checkpoint integration points for a host's turn loop.
type Hooks struct {
	manager *Manager
}

// NewHooks creates checkpoint hooks bound to manager.
func NewHooks(manager *Manager) *Hooks {
	if manager == nil {
		return nil
	}
	return &Hooks{manager: manager}
}

// BeforeTurn checkpoints the pre-turn state, if enabled.
func (h *Hooks) BeforeTurn(cp *Checkpoint) {
	if h == nil || !h.manager.IsEnabled() {
		return
	}
	cp.WithPhase(PhaseRunning)
	if err := h.manager.Save(cp); err != nil {
		slog.Warn("failed to save pre-turn checkpoint", "session_id", cp.SessionID, "error", err)
	}
}

// AfterTurn checkpoints the post-turn state at a configured interval.
func (h *Hooks) AfterTurn(cp *Checkpoint, turnsSinceLast uint32) {
	if h == nil || !h.manager.config.ShouldCheckpointAtTurn(turnsSinceLast) {
		return
	}
	cp.WithPhase(PhaseIterationEnd)
	if err := h.manager.Save(cp); err != nil {
		slog.Warn("failed to save iteration checkpoint", "session_id", cp.SessionID, "error", err)
	}
}

// OnToolApprovalRequired checkpoints when a human-in-the-loop pause begins.
func (h *Hooks) OnToolApprovalRequired(cp *Checkpoint) {
	if h == nil || !h.manager.IsEnabled() {
		return
	}
	cp.WithPhase(PhaseToolApproval)
	if err := h.manager.Save(cp); err != nil {
		slog.Warn("failed to save tool-approval checkpoint", "session_id", cp.SessionID, "error", err)
	}
}

// OnError checkpoints when a turn fails.
func (h *Hooks) OnError(cp *Checkpoint, cause error) {
	if h == nil || !h.manager.IsEnabled() {
		return
	}
	cp.WithPhase(PhaseError)
	if err := h.manager.Save(cp); err != nil {
		slog.Warn("failed to save error checkpoint", "session_id", cp.SessionID, "original_error", cause, "save_error", err)
	}
}

// OnComplete checkpoints the terminal state of a session.
func (h *Hooks) OnComplete(cp *Checkpoint, phase Phase) {
	if h == nil || !h.manager.IsEnabled() {
		return
	}
	cp.WithPhase(phase)
	if err := h.manager.Save(cp); err != nil {
		slog.Warn("failed to save final checkpoint", "session_id", cp.SessionID, "error", err)
	}
}
