package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorClassClassification(t *testing.T) {
	assert.True(t, ErrRateLimit.Retryable())
	assert.True(t, ErrNetwork.Retryable())
	assert.True(t, ErrMalformedResponse.Retryable())
	assert.False(t, ErrBudgetExceeded.Retryable())

	assert.True(t, ErrBudgetExceeded.RequiresIntervention())
	assert.True(t, ErrDiagnosticAlert.RequiresIntervention())
	assert.False(t, ErrNetwork.RequiresIntervention())

	assert.True(t, ErrCheckpointCorruption.Fatal())
	assert.True(t, ErrQuotaExceeded.Fatal())
	assert.True(t, ErrAuthenticationFailed.Fatal())
	assert.False(t, ErrInternal.Fatal())
}

func TestStrategyForKnownClasses(t *testing.T) {
	rl := StrategyFor(&TurnError{Class: ErrRateLimit})
	assert.Equal(t, 30*time.Second, rl.BaseDelay)
	assert.Equal(t, 300*time.Second, rl.MaxDelay)
	assert.Equal(t, 10, rl.MaxAttempts)

	net := StrategyFor(&TurnError{Class: ErrNetwork})
	assert.Equal(t, 5*time.Second, net.BaseDelay)
	assert.Equal(t, 5, net.MaxAttempts)

	malformed := StrategyFor(&TurnError{Class: ErrMalformedResponse})
	assert.Equal(t, time.Second, malformed.BaseDelay)
	assert.Equal(t, 0.0, malformed.JitterFactor)

	// RateLimit base delay invariant: for retry_after >= 5s, >= network base.
	assert.GreaterOrEqual(t, rl.BaseDelay, net.BaseDelay)
}

func TestStrategyForUnknownClassUsesDefault(t *testing.T) {
	s := StrategyFor(&TurnError{Class: ErrInternal})
	assert.Equal(t, defaultStrategy, s)
}

func TestStrategyForRateLimitWithExplicitRetryAfter(t *testing.T) {
	retryAfter := 90 * time.Second
	s := StrategyFor(&TurnError{Class: ErrRateLimit, RetryAfter: &retryAfter})
	assert.Equal(t, 90*time.Second, s.BaseDelay)
	assert.Equal(t, 300*time.Second, s.MaxDelay)
}

func TestDelayRespectsMaxAndGrowsExponentially(t *testing.T) {
	s := Strategy{BaseDelay: time.Second, MaxDelay: 10 * time.Second, MaxAttempts: 5, JitterFactor: 0}
	d0 := Delay(s, 0)
	d1 := Delay(s, 1)
	d2 := Delay(s, 2)
	d5 := Delay(s, 5)

	assert.Equal(t, time.Second, d0)
	assert.Equal(t, 2*time.Second, d1)
	assert.Equal(t, 4*time.Second, d2)
	assert.Equal(t, 10*time.Second, d5, "clamped to MaxDelay")
}

func TestDelayJitterStaysWithinBounds(t *testing.T) {
	s := Strategy{BaseDelay: time.Second, MaxDelay: time.Minute, MaxAttempts: 3, JitterFactor: 0.2}
	for i := 0; i < 50; i++ {
		d := Delay(s, 0)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, time.Duration(float64(time.Second)*1.2)+time.Millisecond)
	}
}

func TestFailureCounterThreshold(t *testing.T) {
	fc := NewFailureCounter(3)
	assert.False(t, fc.ThresholdReached())

	fc.RecordFailure(&TurnError{Class: ErrNetwork, Message: "boom"})
	fc.RecordFailure(&TurnError{Class: ErrNetwork, Message: "boom again"})
	assert.False(t, fc.ThresholdReached())
	assert.Equal(t, 2, fc.Count())

	fc.RecordFailure(&TurnError{Class: ErrNetwork})
	assert.True(t, fc.ThresholdReached())
	assert.NotNil(t, fc.LastError())

	fc.RecordSuccess()
	assert.Equal(t, 0, fc.Count())
	assert.Nil(t, fc.LastError())
	assert.False(t, fc.ThresholdReached())
}

func TestFailureCounterDefaultThreshold(t *testing.T) {
	fc := NewFailureCounter(0)
	assert.Equal(t, 5, fc.Threshold)
}

func TestRecoveryGuidanceMessages(t *testing.T) {
	schema := GuidanceForSchemaViolation("expected object, got array")
	assert.Contains(t, schema.GuidanceMessage, "expected object, got array")
	assert.True(t, schema.RequestSchemaValidation)

	missing := GuidanceForMissingField("user_response")
	assert.Contains(t, missing.GuidanceMessage, "'user_response'")

	invalid := GuidanceForInvalidValue("cli_command", "a string of at most 400 characters")
	assert.Contains(t, invalid.GuidanceMessage, "'cli_command'")
	assert.Contains(t, invalid.GuidanceMessage, "at most 400 characters")
}
