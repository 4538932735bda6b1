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

// Package budget tracks token, turn, and wall-clock usage against an
// optional budget and raises two-tier alerts: a warning at 80% of the
// token limit and a hard exceeded alert at 100%.
package budget

import (
	"math"
	"sync"
	"time"
)

const (
	// warningRatio is the usage/limit fraction that triggers a warning alert.
	warningRatio = 0.80
)

// AlertKind discriminates the budget alert variants.
type AlertKind string

const (
	AlertTokenWarning     AlertKind = "token_warning"
	AlertTokenExceeded    AlertKind = "token_exceeded"
	AlertTurnLimitReached AlertKind = "turn_limit_reached"
	AlertDurationExceeded AlertKind = "duration_exceeded"
)

// Alert is a tagged value describing a threshold crossing.
type Alert struct {
	Kind AlertKind

	// Used/Limit apply to AlertTokenWarning, AlertTokenExceeded, AlertTurnLimitReached.
	Used  uint64
	Limit uint64

	// Percentage applies to AlertTokenWarning.
	Percentage float64

	// Elapsed/DurationLimit apply to AlertDurationExceeded.
	Elapsed       time.Duration
	DurationLimit time.Duration
}

// ShouldPause reports whether this alert kind should pause the session.
// Warnings never pause.
func (a Alert) ShouldPause() bool {
	switch a.Kind {
	case AlertTokenExceeded, AlertTurnLimitReached, AlertDurationExceeded:
		return true
	default:
		return false
	}
}

// Config is the optional budget triple.
type Config struct {
	TokenLimit    *uint64        `yaml:"token_budget,omitempty"`
	TurnLimit     *uint64        `yaml:"turn_limit,omitempty"`
	DurationLimit *time.Duration `yaml:"duration_limit,omitempty"`
}

// Usage tracks cumulative resource consumption for a session.
type Usage struct {
	Tokens  uint64
	Turns   uint64
	Elapsed time.Duration
}

// Controller is the budget controller. It is not safe for reentrant
// calls from strategy code, but is safe for concurrent access from the
// host.
type Controller struct {
	mu        sync.Mutex
	config    Config
	usage     Usage
	startedAt time.Time
	started   bool
}

// NewController creates a budget controller with no limits configured.
func NewController() *Controller {
	return &Controller{}
}

// Configure installs the budget triple. Passing a zero Config disables all
// thresholds.
func (c *Controller) Configure(cfg Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config = cfg
}

// Start begins wall-clock accounting. Tokens and turns are accumulated
// whether or not the controller has been started; elapsed time is only
// tracked once it has.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startedAt = time.Now()
	c.started = true
}

// RecordUsage adds tokens to the running total and, if turnCompleted,
// increments the turn counter. Elapsed time is recalculated from the
// start time when the controller has been started.
func (c *Controller) RecordUsage(tokens uint64, turnCompleted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.usage.Tokens += tokens
	if turnCompleted {
		c.usage.Turns++
	}
	if c.started {
		c.usage.Elapsed = time.Since(c.startedAt)
	}
}

// CheckBudget evaluates tokens, then turns, then duration (first match
// wins) and returns the resulting alert, or nil if nothing has crossed a
// threshold.
func (c *Controller) CheckBudget() *Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checkBudgetLocked()
}

func (c *Controller) checkBudgetLocked() *Alert {
	if c.config.TokenLimit != nil && *c.config.TokenLimit > 0 {
		limit := *c.config.TokenLimit
		used := c.usage.Tokens
		if used >= limit {
			return &Alert{Kind: AlertTokenExceeded, Used: used, Limit: limit}
		}
		ratio := float64(used) / float64(limit)
		if ratio >= warningRatio {
			return &Alert{Kind: AlertTokenWarning, Used: used, Limit: limit, Percentage: ratio * 100}
		}
	}

	if c.config.TurnLimit != nil && *c.config.TurnLimit > 0 {
		limit := *c.config.TurnLimit
		if c.usage.Turns >= limit {
			return &Alert{Kind: AlertTurnLimitReached, Used: c.usage.Turns, Limit: limit}
		}
	}

	if c.config.DurationLimit != nil && *c.config.DurationLimit > 0 {
		limit := *c.config.DurationLimit
		if c.usage.Elapsed >= limit {
			return &Alert{Kind: AlertDurationExceeded, Elapsed: c.usage.Elapsed, DurationLimit: limit}
		}
	}

	return nil
}

// ShouldPause reports whether the current budget state demands a pause.
func (c *Controller) ShouldPause() bool {
	alert := c.CheckBudget()
	return alert != nil && alert.ShouldPause()
}

// Remaining returns the saturating-subtraction remainder for each budget
// dimension. An unset limit reports the maximum value of its type.
func (c *Controller) Remaining() Usage {
	c.mu.Lock()
	defer c.mu.Unlock()

	remaining := Usage{
		Tokens:  math.MaxUint64,
		Turns:   math.MaxUint64,
		Elapsed: time.Duration(math.MaxInt64),
	}

	if c.config.TokenLimit != nil {
		remaining.Tokens = saturatingSub(*c.config.TokenLimit, c.usage.Tokens)
	}
	if c.config.TurnLimit != nil {
		remaining.Turns = saturatingSub(*c.config.TurnLimit, c.usage.Turns)
	}
	if c.config.DurationLimit != nil {
		limit := *c.config.DurationLimit
		if c.usage.Elapsed >= limit {
			remaining.Elapsed = 0
		} else {
			remaining.Elapsed = limit - c.usage.Elapsed
		}
	}

	return remaining
}

func saturatingSub(limit, used uint64) uint64 {
	if used >= limit {
		return 0
	}
	return limit - used
}

// Usage returns a copy of the current cumulative usage.
func (c *Controller) Usage() Usage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

// Reset clears usage and start time back to pristine state.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.usage = Usage{}
	c.startedAt = time.Time{}
	c.started = false
}
