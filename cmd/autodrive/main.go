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

// Command autodrive drives the Auto-Drive Coordinator Core against a
// scripted stub turn executor, for local exercising of the coordinator
// without a real LLM transport or TUI front-end.
//
// Usage:
//
//	autodrive serve --goal "write release notes" --turns 8
//	autodrive validate --config autodrive.yaml
//	autodrive version
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"
	"time"

	"github.com/alecthomas/kong"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/autodrivecore/coordinator/pkg/checkpoint"
	"github.com/autodrivecore/coordinator/pkg/compaction"
	"github.com/autodrivecore/coordinator/pkg/config"
	"github.com/autodrivecore/coordinator/pkg/coordinator"
	"github.com/autodrivecore/coordinator/pkg/diagnostics"
	"github.com/autodrivecore/coordinator/pkg/intervention"
	"github.com/autodrivecore/coordinator/pkg/scheduler"
	"github.com/autodrivecore/coordinator/pkg/userreply"
	"github.com/autodrivecore/coordinator/pkg/xlog"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Run a scripted coordinator session against a stub turn executor."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`
	Schema   SchemaCmd   `cmd:"" help:"Print the JSON Schema for the user-reply contract."`

	Config   string `short:"c" help:"Path to config file." type:"path"`
	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info"`
}

// VersionCmd prints build version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("autodrive %s\n", version)
	return nil
}

// ValidateCmd loads and validates a configuration file.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if cli.Config == "" {
		fmt.Println("no --config given; the built-in defaults are always valid")
		return nil
	}
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	fmt.Printf("%s is valid (checkpoint_interval=%d, max_concurrent_agents=%d)\n",
		cli.Config, cfg.CheckpointInterval, cfg.MaxConcurrentAgents)
	return nil
}

// ServeCmd runs a scripted session loop: each turn feeds a deterministic
// stub turn executor into the coordinator, periodically dispatching a
// small batch of sub-agents through an errgroup-driven runner that
// exercises the scheduler's concurrency cap from real goroutines.
type ServeCmd struct {
	Goal        string `help:"Session goal." default:"draft a release announcement"`
	SessionID   string `help:"Session ID (random UUID if empty)."`
	Turns       int    `help:"Number of turns to simulate." default:"8"`
	TokenStep   uint64 `name:"token-step" help:"Tokens consumed per turn." default:"120"`
	MetricsAddr string `name:"metrics-addr" help:"Address to serve Prometheus metrics on (e.g. :9090). Disabled when empty."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	logger := xlog.New(cli.LogLevel, os.Stderr)
	slog.SetDefault(logger)

	var cfg *config.Config
	var err error
	if cli.Config != "" {
		cfg, err = config.Load(cli.Config)
	} else {
		cfg = config.Default()
		cfg.DiagnosticsEnabled = true
		cfg.TelemetryEnabled = true
		cfg.AuditEnabled = true
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	sessionID := c.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	coord := coordinator.New(cfg)

	if c.MetricsAddr != "" {
		srv := startMetricsServer(c.MetricsAddr, coord)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	ctx := context.Background()
	coord.StartSession(ctx, c.Goal, sessionID)
	slog.Info("session started", "session_id", sessionID, "goal", c.Goal)

	history := []interface{}{c.Goal}

	for turn := 1; turn <= c.Turns; turn++ {
		coord.BeginTurn()
		history = append(history, fmt.Sprintf("turn %d response", turn))
		coord.UpdateHistory(history)

		coord.RecordToolCall("search_docs", diagnostics.HashArguments(fmt.Sprintf("query-%d", turn)))
		coord.RecordResponse(fmt.Sprintf("turn %d response text", turn))
		coord.RecordTurn(c.TokenStep)

		if turn%3 == 0 {
			runAgentBatch(coord, turn)
		}

		if coord.ShouldCompact(len(history)*500, 10_000) {
			runCompaction(coord, history)
		}

		drainEvents(coord)

		if coord.InterventionPending() {
			resolveScriptedIntervention(coord)
		}

		if coord.Session().Phase == "Failed" || coord.Session().Phase == "Stopped" {
			break
		}
	}

	coord.EndSession(true)
	drainEvents(coord)

	if n, err := coord.Checkpoints.Cleanup(checkpoint.MaxAgeDefault); err != nil {
		slog.Warn("checkpoint cleanup failed", "error", err)
	} else if n > 0 {
		slog.Info("stale checkpoints removed", "count", n)
	}

	metrics := coord.Telemetry.ExportMetrics()
	slog.Info("session complete",
		"turns", metrics.TotalTurns,
		"tokens", metrics.TotalTokens,
		"avg_turn_duration", metrics.AverageTurnDuration,
	)

	if cfg.AuditEnabled {
		data, err := coord.Audit.ExportJSON()
		if err != nil {
			return fmt.Errorf("failed to export audit log: %w", err)
		}
		fmt.Println(string(data))
	}
	return nil
}

// startMetricsServer exposes the telemetry collector's Prometheus
// registry on a chi router at /metrics, plus a trivial /healthz.
func startMetricsServer(addr string, coord *coordinator.Coordinator) *http.Server {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(coord.Telemetry.Registry(), promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Warn("metrics server stopped", "error", err)
		}
	}()
	slog.Info("metrics server listening", "addr", addr)
	return srv
}

func runAgentBatch(coord *coordinator.Coordinator, turn int) {
	base := turn * 10
	tasks := []scheduler.Task{
		{ID: base + 1, Prompt: "summarize recent changes"},
		{ID: base + 2, Prompt: "check open questions"},
	}
	coord.ScheduleAgents(tasks, scheduler.Parallel)

	var g errgroup.Group
	for {
		task := coord.NextAgent()
		if task == nil {
			break
		}
		t := task
		g.Go(func() error {
			time.Sleep(5 * time.Millisecond)
			coord.ReportAgentCompletion(t.ID, fmt.Sprintf("result for %q", t.Prompt), nil)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range coord.CollectAgentResults() {
		slog.Debug("agent result", "agent_id", r.AgentID, "output", r.Output)
	}
}

func runCompaction(coord *coordinator.Coordinator, history []interface{}) {
	items := make([]compaction.ItemClassification, len(history))
	for i, h := range history {
		items[i] = compaction.ClassifyItem(i, fmt.Sprintf("%v", h), 500, i == 0)
	}
	result := coord.CompactHistory(items)
	slog.Info("history compacted", "removed", len(result.RemoveIndices), "summary", result.RemovalSummary)
}

// resolveScriptedIntervention stands in for a real operator: it parses a
// canned reply through the coordinator<->user JSON contract (wrapped in
// prose to exercise salvage mode) and resumes or stops accordingly.
func resolveScriptedIntervention(coord *coordinator.Coordinator) {
	payload := []byte(`The operator replied: {"user_response": "resume", "cli_command": null} (auto-generated)`)
	reply, err := userreply.Parse(payload)
	if err != nil || reply.UserResponse == nil {
		slog.Warn("unusable operator reply; stopping session", "error", err)
		coord.HandleIntervention(intervention.StopAction())
		coord.TakeInterventionAction()
		return
	}
	slog.Warn("intervention requested; operator reply accepted", "response", *reply.UserResponse)
	coord.HandleIntervention(intervention.ResumeAction())
	coord.TakeInterventionAction()
}

func drainEvents(coord *coordinator.Coordinator) {
	for _, ev := range coord.TakeEvents() {
		switch ev.Kind {
		case coordinator.EventBudgetAlert:
			slog.Warn("budget alert", "kind", ev.Budget.Kind)
		case coordinator.EventInterventionRequired:
			slog.Warn("intervention required", "reason", ev.Intervention.Reason, "source", ev.Intervention.Source)
		case coordinator.EventDiagnosticAlert:
			slog.Warn("diagnostic alert", "kind", ev.Diagnostic.Kind)
		case coordinator.EventHistoryCompacted:
			slog.Info("history compacted event", "items_removed", ev.Compaction.ItemsRemoved)
		case coordinator.EventCheckpointSaved:
			slog.Info("checkpoint saved", "session_id", ev.CheckpointSaved.SessionID, "turns", ev.CheckpointSaved.TurnsCompleted)
		case coordinator.EventAgentProgress:
			slog.Debug("agent progress", "agent_id", ev.AgentProgress.AgentID, "state", ev.AgentProgress.State)
		}
	}
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("autodrive"),
		kong.Description("Auto-Drive Coordinator Core demo CLI."),
	)
	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
