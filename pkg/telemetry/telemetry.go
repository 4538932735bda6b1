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

// Package telemetry models one root session span and one child turn span
// per turn, and aggregates turn outcomes into exportable metrics. Spans
// go through an OpenTelemetry TracerProvider; counters and histograms
// are registered on a dedicated Prometheus registry so a host can expose
// them without inheriting the default registry's collectors.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// OutcomeKind discriminates how a turn span ended.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeFailure
	OutcomeSkipped
)

// Outcome carries the outcome-specific payload for end_turn.
type Outcome struct {
	Kind       OutcomeKind
	TokensUsed uint64 // Success
	Error      string // Failure
	SkipReason string // Skipped
}

// TurnHandle identifies an in-flight turn span returned by StartTurn.
type TurnHandle struct {
	span       trace.Span
	ctx        context.Context
	turnNumber int
	startedAt  time.Time
}

// Collector models the session/turn span hierarchy and aggregates
// turn-outcome metrics.
type Collector struct {
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
	meterProvider  *sdkmetric.MeterProvider
	registry       *prometheus.Registry

	turnCounter  otelmetric.Int64Counter
	tokenCounter otelmetric.Int64Counter

	turnsTotal   *prometheus.CounterVec
	turnDuration prometheus.Histogram
	tokensTotal  prometheus.Counter

	debugEnabled bool

	mu              sync.Mutex
	sessionSpan     trace.Span
	sessionCtx      context.Context
	totalTurns      int
	successfulTurns int
	failedTurns     int
	skippedTurns    int
	totalTokens     uint64
	totalDuration   time.Duration
	errors          []string
}

// New creates a telemetry collector backed by a fresh in-process
// TracerProvider (no OTLP exporter wired -- spans stay local to this
// process) and a dedicated Prometheus registry.
func New() *Collector {
	tp := sdktrace.NewTracerProvider()
	mp := sdkmetric.NewMeterProvider()
	meter := mp.Meter("autodrivecore/coordinator")
	turnCounter, _ := meter.Int64Counter("autodrive.coordinator.turns",
		otelmetric.WithDescription("Turns recorded, by outcome"))
	tokenCounter, _ := meter.Int64Counter("autodrive.coordinator.tokens",
		otelmetric.WithDescription("Tokens consumed across successful turns"))
	registry := prometheus.NewRegistry()

	turnsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autodrive",
			Subsystem: "coordinator",
			Name:      "turns_total",
			Help:      "Total number of turns recorded, by outcome",
		},
		[]string{"outcome"},
	)
	turnDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "autodrive",
			Subsystem: "coordinator",
			Name:      "turn_duration_seconds",
			Help:      "Turn duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)
	tokensTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "autodrive",
			Subsystem: "coordinator",
			Name:      "tokens_total",
			Help:      "Total tokens consumed across successful turns",
		},
	)
	registry.MustRegister(turnsTotal, turnDuration, tokensTotal)

	return &Collector{
		tracerProvider: tp,
		tracer:         tp.Tracer("autodrivecore/coordinator"),
		meterProvider:  mp,
		registry:       registry,
		turnCounter:    turnCounter,
		tokenCounter:   tokenCounter,
		turnsTotal:     turnsTotal,
		turnDuration:   turnDuration,
		tokensTotal:    tokensTotal,
	}
}

// Registry returns the Prometheus registry backing this collector, for
// mounting a /metrics handler.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// WithDebug enables decision and state-transition logging.
func (c *Collector) WithDebug(enabled bool) *Collector {
	c.debugEnabled = enabled
	return c
}

// RecordError records a session-level error: it is folded into the
// exported metrics and attached to the session span.
func (c *Collector) RecordError(err error) {
	if err == nil {
		return
	}
	msg := err.Error()
	slog.Error("session error", "error", msg)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, msg)
	if c.sessionSpan != nil {
		c.sessionSpan.SetAttributes(attribute.String("error", msg))
	}
}

// LogDecision logs a coordinator decision in debug mode.
func (c *Collector) LogDecision(decisionJSON string) {
	if c.debugEnabled {
		slog.Debug("coordinator decision", "decision", decisionJSON)
	}
}

// LogStateTransition logs a phase transition in debug mode.
func (c *Collector) LogStateTransition(from, to string) {
	if c.debugEnabled {
		slog.Debug("state transition", "from", from, "to", to)
	}
}

// StartSession creates the root session span with {goal, session_id}
// attributes.
func (c *Collector) StartSession(ctx context.Context, goal, sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sessionCtx, span := c.tracer.Start(ctx, "session",
		trace.WithAttributes(
			attribute.String("goal", goal),
			attribute.String("session_id", sessionID),
		),
	)
	c.sessionCtx = sessionCtx
	c.sessionSpan = span
}

// StartTurn opens a child turn span parented to the session span.
func (c *Collector) StartTurn(turnNumber int) *TurnHandle {
	c.mu.Lock()
	parentCtx := c.sessionCtx
	c.mu.Unlock()
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	ctx, span := c.tracer.Start(parentCtx, "turn",
		trace.WithAttributes(attribute.Int("turn_number", turnNumber)),
	)
	return &TurnHandle{span: span, ctx: ctx, turnNumber: turnNumber, startedAt: time.Now()}
}

// EndTurn finalizes a turn span with duration and outcome-specific
// attributes, and folds the outcome into the collector's aggregates.
func (c *Collector) EndTurn(h *TurnHandle, outcome Outcome) {
	if h == nil {
		return
	}
	duration := time.Since(h.startedAt)
	h.span.SetAttributes(
		attribute.Int("turn_number", h.turnNumber),
		attribute.Int64("duration_ms", duration.Milliseconds()),
	)

	c.mu.Lock()
	c.totalTurns++
	c.totalDuration += duration
	switch outcome.Kind {
	case OutcomeSuccess:
		c.successfulTurns++
		c.totalTokens += outcome.TokensUsed
		h.span.SetAttributes(attribute.Int64("tokens_used", int64(outcome.TokensUsed)))
		c.turnsTotal.WithLabelValues("success").Inc()
		c.tokensTotal.Add(float64(outcome.TokensUsed))
		c.tokenCounter.Add(h.ctx, int64(outcome.TokensUsed))
		c.turnCounter.Add(h.ctx, 1, otelmetric.WithAttributes(attribute.String("outcome", "success")))
	case OutcomeFailure:
		c.failedTurns++
		c.errors = append(c.errors, outcome.Error)
		h.span.SetAttributes(attribute.String("error", outcome.Error))
		c.turnsTotal.WithLabelValues("failure").Inc()
		c.turnCounter.Add(h.ctx, 1, otelmetric.WithAttributes(attribute.String("outcome", "failure")))
	case OutcomeSkipped:
		c.skippedTurns++
		h.span.SetAttributes(attribute.String("skip_reason", outcome.SkipReason))
		c.turnsTotal.WithLabelValues("skipped").Inc()
		c.turnCounter.Add(h.ctx, 1, otelmetric.WithAttributes(attribute.String("outcome", "skipped")))
	}
	c.mu.Unlock()

	c.turnDuration.Observe(duration.Seconds())
	h.span.End()
}

// EndSession finalizes the root session span.
func (c *Collector) EndSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionSpan != nil {
		c.sessionSpan.End()
	}
}

// Metrics is the aggregate view returned by ExportMetrics.
type Metrics struct {
	TotalTurns          int
	SuccessfulTurns     int
	FailedTurns         int
	SkippedTurns        int
	TotalTokens         uint64
	TotalDuration       time.Duration
	AverageTurnDuration time.Duration
	Errors              []string
}

// ExportMetrics computes the aggregate view over every turn recorded so
// far.
func (c *Collector) ExportMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	var avg time.Duration
	if c.totalTurns > 0 {
		avg = c.totalDuration / time.Duration(c.totalTurns)
	}

	errs := make([]string, len(c.errors))
	copy(errs, c.errors)

	return Metrics{
		TotalTurns:          c.totalTurns,
		SuccessfulTurns:     c.successfulTurns,
		FailedTurns:         c.failedTurns,
		SkippedTurns:        c.skippedTurns,
		TotalTokens:         c.totalTokens,
		TotalDuration:       c.totalDuration,
		AverageTurnDuration: avg,
		Errors:              errs,
	}
}

// Reset clears all aggregated turn metrics. It does not reset the
// Prometheus registry, which is process-lifetime by convention.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalTurns = 0
	c.successfulTurns = 0
	c.failedTurns = 0
	c.skippedTurns = 0
	c.totalTokens = 0
	c.totalDuration = 0
	c.errors = nil
	c.sessionSpan = nil
	c.sessionCtx = nil
}

// Shutdown flushes and releases the underlying tracer and meter providers.
func (c *Collector) Shutdown(ctx context.Context) error {
	return errors.Join(
		c.tracerProvider.Shutdown(ctx),
		c.meterProvider.Shutdown(ctx),
	)
}
