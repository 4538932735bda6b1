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

// Package config loads and validates the coordinator's recognized
// configuration options. Every nested section follows the same
// SetDefaults()/Validate() pair convention so a zero-valued document is
// always usable.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/autodrivecore/coordinator/pkg/budget"
	"github.com/autodrivecore/coordinator/pkg/checkpoint"
	"github.com/autodrivecore/coordinator/pkg/compaction"
)

// BudgetConfig is the optional token/turn/duration limit triple. Nil
// pointers mean the corresponding limit is unset.
type BudgetConfig struct {
	TokenBudget   *uint64        `yaml:"token_budget,omitempty"`
	TurnLimit     *uint64        `yaml:"turn_limit,omitempty"`
	DurationLimit *time.Duration `yaml:"duration_limit,omitempty"`
}

// ToBudgetConfig projects BudgetConfig into budget.Config.
func (b BudgetConfig) ToBudgetConfig() budget.Config {
	return budget.Config{
		TokenLimit:    b.TokenBudget,
		TurnLimit:     b.TurnLimit,
		DurationLimit: b.DurationLimit,
	}
}

// Config is the full recognized-options document.
type Config struct {
	CheckpointEnabled  bool   `yaml:"checkpoint_enabled,omitempty"`
	CheckpointDir      string `yaml:"checkpoint_dir,omitempty"`
	CheckpointInterval uint32 `yaml:"checkpoint_interval,omitempty"`

	DiagnosticsEnabled bool `yaml:"diagnostics_enabled,omitempty"`
	LoopThreshold      int  `yaml:"loop_threshold,omitempty"`

	Budget BudgetConfig `yaml:"budget,omitempty"`

	MaxConcurrentAgents int `yaml:"max_concurrent_agents,omitempty"`

	AuditEnabled bool   `yaml:"audit_enabled,omitempty"`
	AuditPath    string `yaml:"audit_path,omitempty"`

	TelemetryEnabled bool `yaml:"telemetry_enabled,omitempty"`

	Compaction compaction.Config `yaml:"compaction,omitempty"`
}

// SetDefaults applies the documented defaults for every zero-valued
// field, mirroring compaction.Config.SetDefaults and checkpoint.Config.SetDefaults.
func (c *Config) SetDefaults() {
	if c.CheckpointInterval == 0 {
		c.CheckpointInterval = 5
	}
	if c.CheckpointDir == "" {
		c.CheckpointDir = ".autodrive/checkpoints"
	}
	if c.LoopThreshold == 0 {
		c.LoopThreshold = 3
	}
	if c.MaxConcurrentAgents == 0 {
		c.MaxConcurrentAgents = 4
	}
	if c.AuditPath == "" {
		c.AuditPath = ".autodrive/audit.json"
	}
	c.Compaction.SetDefaults()
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.CheckpointInterval == 0 {
		return fmt.Errorf("checkpoint_interval must be positive")
	}
	if c.LoopThreshold < 1 {
		return fmt.Errorf("loop_threshold must be at least 1")
	}
	if c.MaxConcurrentAgents < 1 {
		return fmt.Errorf("max_concurrent_agents must be at least 1")
	}
	if c.Compaction.TargetTokens <= 0 {
		return fmt.Errorf("compaction.target_tokens must be positive")
	}
	if c.Compaction.MinTokens > c.Compaction.TargetTokens {
		return fmt.Errorf("compaction.min_tokens must not exceed target_tokens")
	}
	if c.Compaction.MaxContextRatio <= 0 || c.Compaction.MaxContextRatio > 1 {
		return fmt.Errorf("compaction.max_context_ratio must be in (0, 1]")
	}
	if c.Budget.TokenBudget != nil && *c.Budget.TokenBudget == 0 {
		return fmt.Errorf("budget.token_budget must be positive when set")
	}
	return nil
}

// ToCheckpointConfig projects the checkpoint-related fields into
// checkpoint.Config.
func (c *Config) ToCheckpointConfig() *checkpoint.Config {
	enabled := c.CheckpointEnabled
	return &checkpoint.Config{
		Enabled:  &enabled,
		Dir:      c.CheckpointDir,
		Interval: c.CheckpointInterval,
	}
}

// Default returns a Config with every documented default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// Load reads and parses a YAML configuration document from path,
// applying defaults and validating the result. Environment files
// (.env.local, .env) are loaded first and ${VAR}-style references in the
// document are expanded before parsing.
func Load(path string) (*Config, error) {
	if err := LoadEnvFiles(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
