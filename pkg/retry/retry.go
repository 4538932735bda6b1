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

// Package retry classifies turn-loop failures into a fixed taxonomy and
// computes exponential backoff with jitter per class. Each error class
// carries its own base delay, cap, attempt budget, and jitter factor
// instead of sharing a single generic retry config.
package retry

import (
	"math"
	"math/rand"
	"time"
)

// ErrorClass discriminates the coordinator's fixed error taxonomy.
type ErrorClass int

const (
	ErrRateLimit ErrorClass = iota
	ErrNetwork
	ErrMalformedResponse
	ErrBudgetExceeded
	ErrDiagnosticAlert
	ErrCheckpointCorruption
	ErrQuotaExceeded
	ErrAuthenticationFailed
	ErrInternal
)

func (c ErrorClass) String() string {
	switch c {
	case ErrRateLimit:
		return "RateLimit"
	case ErrNetwork:
		return "Network"
	case ErrMalformedResponse:
		return "MalformedResponse"
	case ErrBudgetExceeded:
		return "BudgetExceeded"
	case ErrDiagnosticAlert:
		return "DiagnosticAlert"
	case ErrCheckpointCorruption:
		return "CheckpointCorruption"
	case ErrQuotaExceeded:
		return "QuotaExceeded"
	case ErrAuthenticationFailed:
		return "AuthenticationFailed"
	case ErrInternal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// Retryable reports whether c's class is retried in-loop (RateLimit,
// Network, MalformedResponse).
func (c ErrorClass) Retryable() bool {
	switch c {
	case ErrRateLimit, ErrNetwork, ErrMalformedResponse:
		return true
	default:
		return false
	}
}

// RequiresIntervention reports whether c's class pauses the session for
// a human decision (BudgetExceeded, DiagnosticAlert).
func (c ErrorClass) RequiresIntervention() bool {
	switch c {
	case ErrBudgetExceeded, ErrDiagnosticAlert:
		return true
	default:
		return false
	}
}

// Fatal reports whether c's class propagates to the caller unconditionally
// (CheckpointCorruption, QuotaExceeded, AuthenticationFailed).
func (c ErrorClass) Fatal() bool {
	switch c {
	case ErrCheckpointCorruption, ErrQuotaExceeded, ErrAuthenticationFailed:
		return true
	default:
		return false
	}
}

// TurnError is the tagged error carried through the turn loop, mirroring
// the error taxonomy's payload fields (retry_after, alert, msg).
type TurnError struct {
	Class      ErrorClass
	Message    string
	RetryAfter *time.Duration // RateLimit only
	Alert      interface{}    // BudgetExceeded / DiagnosticAlert payload
	Cause      error
}

func (e *TurnError) Error() string {
	if e.Message != "" {
		return e.Class.String() + ": " + e.Message
	}
	return e.Class.String()
}

func (e *TurnError) Unwrap() error { return e.Cause }

// Strategy is the backoff parameters for one error class.
type Strategy struct {
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	JitterFactor float64
}

// strategies maps each error class to its backoff parameters.
var strategies = map[ErrorClass]Strategy{
	ErrRateLimit:         {BaseDelay: 30 * time.Second, MaxDelay: 300 * time.Second, MaxAttempts: 10, JitterFactor: 0.10},
	ErrNetwork:           {BaseDelay: 5 * time.Second, MaxDelay: 60 * time.Second, MaxAttempts: 5, JitterFactor: 0.20},
	ErrMalformedResponse: {BaseDelay: time.Second, MaxDelay: 10 * time.Second, MaxAttempts: 3, JitterFactor: 0.00},
}

var defaultStrategy = Strategy{BaseDelay: 5 * time.Second, MaxDelay: 60 * time.Second, MaxAttempts: 3, JitterFactor: 0.10}

// StrategyFor returns the backoff strategy for an error class, falling
// back to the default strategy for classes without a dedicated entry.
func StrategyFor(err *TurnError) Strategy {
	if err == nil {
		return defaultStrategy
	}
	if err.Class == ErrRateLimit && err.RetryAfter != nil && *err.RetryAfter > 0 {
		s := strategies[ErrRateLimit]
		s.BaseDelay = *err.RetryAfter
		return s
	}
	if s, ok := strategies[err.Class]; ok {
		return s
	}
	return defaultStrategy
}

// ShouldRetry reports whether attempt (0-indexed, the attempt about to be
// made) is still within s.MaxAttempts.
func (s Strategy) ShouldRetry(attempt int) bool {
	return attempt < s.MaxAttempts
}

// Delay computes the backoff delay for attempt n (0-indexed):
// min(base*2^n, max) * (1 + U[0, jitter]).
func Delay(s Strategy, attempt int) time.Duration {
	backoff := float64(s.BaseDelay) * math.Pow(2, float64(attempt))
	if max := float64(s.MaxDelay); backoff > max {
		backoff = max
	}
	jittered := backoff * (1 + rand.Float64()*s.JitterFactor)
	return time.Duration(jittered)
}

// FailureCounter tracks consecutive failures and the most recent error,
// resetting on any recorded success.
type FailureCounter struct {
	Threshold int
	count     int
	lastError *TurnError
}

// NewFailureCounter creates a counter with the given threshold. Passing
// 0 uses the default of 5.
func NewFailureCounter(threshold int) *FailureCounter {
	if threshold <= 0 {
		threshold = 5
	}
	return &FailureCounter{Threshold: threshold}
}

// RecordFailure increments the count and caches err.
func (f *FailureCounter) RecordFailure(err *TurnError) {
	f.count++
	f.lastError = err
}

// RecordSuccess resets the count and last error to zero/none.
func (f *FailureCounter) RecordSuccess() {
	f.count = 0
	f.lastError = nil
}

// Count returns the current consecutive-failure count.
func (f *FailureCounter) Count() int { return f.count }

// LastError returns the most recently recorded failure, or nil.
func (f *FailureCounter) LastError() *TurnError { return f.lastError }

// ThresholdReached reports whether count >= Threshold.
func (f *FailureCounter) ThresholdReached() bool { return f.count >= f.Threshold }
