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
	"fmt"
	"time"
)

// Config configures checkpoint behavior. Enabled is a pointer so an
// absent field is distinguishable from an explicit false; SetDefaults
// turns an absent field off.
type Config struct {
	Enabled  *bool  `yaml:"checkpoint_enabled,omitempty"`
	Dir      string `yaml:"checkpoint_dir,omitempty"`
	Interval uint32 `yaml:"checkpoint_interval,omitempty"`
}

// SetDefaults applies documented defaults (checkpoint_interval: 5).
func (c *Config) SetDefaults() {
	if c.Enabled == nil {
		enabled := false
		c.Enabled = &enabled
	}
	if c.Interval == 0 {
		c.Interval = 5
	}
	if c.Dir == "" {
		c.Dir = ".autodrive/checkpoints"
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Interval == 0 {
		return fmt.Errorf("checkpoint interval must be positive")
	}
	return nil
}

// IsEnabled reports whether checkpointing is enabled.
func (c *Config) IsEnabled() bool {
	return c != nil && c.Enabled != nil && *c.Enabled
}

// ShouldCheckpointAtTurn reports whether turnsSinceLast has reached
// Interval.
func (c *Config) ShouldCheckpointAtTurn(turnsSinceLast uint32) bool {
	if !c.IsEnabled() {
		return false
	}
	return turnsSinceLast >= c.Interval
}

// MaxAgeDefault is the default cleanup horizon used by cmd/autodrive when
// no explicit max age is supplied.
const MaxAgeDefault = 7 * 24 * time.Hour
