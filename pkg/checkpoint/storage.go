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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Storage persists checkpoints to disk under a directory, one JSON file
// per session named "<session_id>.json". Saves are atomic: serialize,
// write to a ".tmp" sibling, then rename over the final name, so a reader
// never observes a partially written file. The rename is the only
// serialization mechanism: there are no lock files, and concurrent
// writers resolve last-writer-wins at the filesystem level.
type Storage struct {
	dir string
}

// NewStorage creates file-based checkpoint storage rooted at dir.
func NewStorage(dir string) *Storage {
	return &Storage{dir: dir}
}

func (s *Storage) path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".json")
}

// Save atomically persists a checkpoint.
func (s *Storage) Save(cp *Checkpoint) error {
	if cp == nil {
		return fmt.Errorf("cannot save nil checkpoint")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint: %w", err)
	}

	finalPath := s.path(cp.SessionID)
	tmpPath := finalPath + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("failed to commit checkpoint file: %w", err)
	}
	return nil
}

// Restore loads a checkpoint by session ID. It returns (nil, nil) if the
// file is absent, and an *ErrCorruption if the file fails to parse or its
// checksum does not match a freshly computed one.
func (s *Storage) Restore(sessionID string) (*Checkpoint, error) {
	data, err := os.ReadFile(s.path(sessionID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, &ErrCorruption{SessionID: sessionID, Reason: "invalid JSON: " + err.Error()}
	}
	if !cp.Validate() {
		return nil, &ErrCorruption{SessionID: sessionID, Reason: "checksum mismatch"}
	}
	return &cp, nil
}

// ListRecoverable scans the directory for "*.json" files, parses each,
// and returns summaries sorted by UpdatedAt descending. Files that fail
// to parse are skipped.
func (s *Storage) ListRecoverable() ([]Summary, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoint directory: %w", err)
	}

	var summaries []Summary
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			continue
		}
		var cp Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			continue
		}
		summaries = append(summaries, cp.summary())
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}

// Cleanup deletes every checkpoint file whose UpdatedAt is older than
// now-maxAge, returning the number of files removed.
func (s *Storage) Cleanup(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to list checkpoint directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		full := filepath.Join(s.dir, name)
		data, err := os.ReadFile(full)
		if err != nil {
			continue
		}
		var cp Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			continue
		}
		if cp.UpdatedAt.Before(cutoff) {
			if err := os.Remove(full); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
