// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/spf13/cobra"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/aleutian-labs/locusagent/pkg/logging"
	"github.com/aleutian-labs/locusagent/pkg/telemetry"
	"github.com/aleutian-labs/locusagent/services/core/agent"
	"github.com/aleutian-labs/locusagent/services/core/eventbus"
	"github.com/aleutian-labs/locusagent/services/core/llm"
	"github.com/aleutian-labs/locusagent/services/core/memory"
	"github.com/aleutian-labs/locusagent/services/core/mode"
	"github.com/aleutian-labs/locusagent/services/core/orchestrator"
	"github.com/aleutian-labs/locusagent/services/core/patch"
	"github.com/aleutian-labs/locusagent/services/core/sandbox"
	"github.com/aleutian-labs/locusagent/services/core/taskdag"
	"github.com/aleutian-labs/locusagent/services/core/toolbus"
)

var runFlags struct {
	mode     string
	repo     string
	provider string
	model    string
	prompt   string
}

var rootCmd = &cobra.Command{
	Use:   "locusagent",
	Short: "locusagent runs one coding task against a local repository",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run a task prompt against --repo in the given --mode",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVar(&runFlags.mode, "mode", string(mode.Smart), "rush|smart|deep")
	runCmd.Flags().StringVar(&runFlags.repo, "repo", "", "repository root (defaults to the current git checkout)")
	runCmd.Flags().StringVar(&runFlags.provider, "provider", "openai", "LLM provider: openai|fake")
	runCmd.Flags().StringVar(&runFlags.model, "model", "gpt-4o-mini", "model name passed to the provider")
	runCmd.Flags().StringVarP(&runFlags.prompt, "prompt", "p", "", "task prompt (required)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, _ []string) error {
	if runFlags.prompt == "" {
		return withCode(exitUnrecoverable, fmt.Errorf("locusagent: --prompt is required"))
	}
	m, err := mode.Parse(runFlags.mode)
	if err != nil {
		return withCode(exitUnrecoverable, err)
	}

	logger := logging.Default()
	defer logger.Close()

	shutdownTelemetry, err := telemetry.Init(cmd.Context(), "locusagent", traceWriterFromEnv())
	if err != nil {
		return withCode(exitUnrecoverable, err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	repoRoot, err := resolveRepoRoot(runFlags.repo)
	if err != nil {
		return withCode(exitRepoRootDetection, err)
	}

	gate, err := sandbox.NewGate(repoRoot, filepath.Join(os.TempDir(), "locusagent"))
	if err != nil {
		return withCode(exitSandboxConfig, err)
	}

	bus := eventbus.New()
	unsub := attachStatusPrinter(bus)
	defer unsub()

	table, err := mode.LoadOverride(filepath.Join(repoRoot, "locus.yaml"), mode.Default())
	if err != nil {
		return withCode(exitUnrecoverable, err)
	}
	modeCtl, err := mode.NewController(m, table, bus)
	if err != nil {
		return withCode(exitUnrecoverable, err)
	}

	memoryAd, closeMemory, memoryDB, err := buildMemoryAdapter(repoRoot, bus, logger)
	if err != nil {
		return withCode(exitUnrecoverable, err)
	}
	defer closeMemory()

	lease := patch.NewWriteLease()
	perms := toolbus.NewPermissionTable(stdinApprover(), toolbus.WithRuleStore(memoryDB))
	if err := perms.LoadPersisted(); err != nil {
		logger.Warn("locusagent: failed to load persisted permission rules, starting with an empty table", "error", err)
	}
	tools := toolbus.New(gate, perms, bus, toolbus.WithWriteLease(lease))
	registerHandlers(tools, gate, repoRoot)

	oracle, err := buildOracle(runFlags.provider, runFlags.model)
	if err != nil {
		return withCode(exitUnrecoverable, err)
	}

	deps := agent.Deps{Oracle: oracle, Tools: tools}
	catalogue := map[taskdag.AgentKind]agent.Agent{
		taskdag.KindRepo:         agent.NewRepoAgent(deps),
		taskdag.KindSearch:       agent.NewSearchAgent(deps),
		taskdag.KindConstraint:   agent.NewConstraintAgent(deps),
		taskdag.KindMemoryRecall: agent.NewMemoryRecallAgent(deps),
		taskdag.KindPatch:        agent.NewPatchAgent(deps),
		taskdag.KindTest:         agent.NewTestAgent(deps, testCommandFor(repoRoot)),
		taskdag.KindDebug:        agent.NewDebugAgent(deps),
		taskdag.KindCommit:       agent.NewCommitAgent(deps),
	}

	orch := orchestrator.New(orchestrator.Config{
		Catalogue: catalogue,
		Memory:    memoryAd,
		Lease:     lease,
		Bus:       bus,
		ModeCtl:   modeCtl,
		RepoRoot:  repoRoot,
		Logger:    logger.Logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go orch.Serve(ctx)

	_, err = orch.Run(ctx, runFlags.prompt)
	if err != nil {
		if ctx.Err() != nil {
			return withCode(exitUserCancel, err)
		}
		return withCode(exitUnrecoverable, err)
	}
	return nil
}

// traceWriterFromEnv enables span export to stderr only when asked:
// the default run prioritizes a clean status-printer stream over
// trace noise, matching logging's own stderr-is-for-humans stance.
func traceWriterFromEnv() io.Writer {
	if os.Getenv("LOCUSAGENT_TRACE") == "" {
		return nil
	}
	return os.Stderr
}

// resolveRepoRoot defaults to the enclosing git checkout's top level
// when --repo is unset, the way a terminal-native assistant infers its
// working scope from the caller's cwd.
func resolveRepoRoot(flag string) (string, error) {
	if flag != "" {
		abs, err := filepath.Abs(flag)
		if err != nil {
			return "", fmt.Errorf("locusagent: resolve --repo: %w", err)
		}
		return abs, nil
	}
	out, err := exec.Command("git", "rev-parse", "--show-toplevel").Output()
	if err != nil {
		return "", fmt.Errorf("locusagent: not inside a git repository and --repo not set: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

func registerHandlers(tools *toolbus.ToolBus, gate *sandbox.Gate, repoRoot string) {
	tools.Register(&toolbus.FileReadHandler{Gate: gate})
	tools.Register(&toolbus.FileWriteHandler{Gate: gate})
	tools.Register(&toolbus.GrepHandler{Gate: gate})
	tools.Register(&toolbus.GlobHandler{Gate: gate})
	tools.Register(&toolbus.RunCmdHandler{Gate: gate, RepoRoot: repoRoot, SandboxHome: filepath.Join(os.TempDir(), "locusagent", "home")})
	tools.Register(toolbus.NewGitStatusHandler(repoRoot))
	tools.Register(toolbus.NewGitDiffHandler(repoRoot))
	tools.Register(toolbus.NewGitAddHandler(repoRoot))
	tools.Register(toolbus.NewGitCommitHandler(repoRoot))
	tools.Register(toolbus.NewGitPushHandler(repoRoot))
}

func testCommandFor(repoRoot string) string {
	if _, err := os.Stat(filepath.Join(repoRoot, "go.mod")); err == nil {
		return "go test ./..."
	}
	if _, err := os.Stat(filepath.Join(repoRoot, "package.json")); err == nil {
		return "npm test"
	}
	return "make test"
}

func buildOracle(provider, model string) (llm.Oracle, error) {
	switch provider {
	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("locusagent: OPENAI_API_KEY not set")
		}
		return llm.NewOpenAIOracle(apiKey, model), nil
	case "fake":
		return &llm.FakeOracle{}, nil
	default:
		return nil, fmt.Errorf("locusagent: unknown provider %q", provider)
	}
}

// buildMemoryAdapter wires LocusGraph per §4.7/§4.8. A remote store is
// optional: the runtime degrades to the local badger queue alone, the
// same lightweight-mode pattern the wider stack uses when its own
// vector store env var is unset. It also returns the queue's
// underlying badger handle so other components that want
// restart-durable local state (toolbus's permission rule table) can
// share this database instead of opening their own.
func buildMemoryAdapter(repoRoot string, bus *eventbus.Bus, logger *logging.Logger) (*memory.Adapter, func(), *badger.DB, error) {
	queueDir := filepath.Join(repoRoot, ".locus", "locus_graph_cache")
	var remote memory.LocusGraphClient

	if raw := os.Getenv("LOCUSGRAPH_URL"); raw != "" {
		parsed, err := url.Parse(raw)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			logger.Warn("locusagent: LOCUSGRAPH_URL is invalid, running without remote memory", "url", raw)
		} else {
			wc, err := weaviate.NewClient(weaviate.Config{Host: parsed.Host, Scheme: parsed.Scheme})
			if err != nil {
				logger.Warn("locusagent: failed to build LocusGraph client, running without remote memory", "error", err)
			} else if remote, err = memory.NewWeaviateClient(wc, filepath.Base(repoRoot)); err != nil {
				logger.Warn("locusagent: failed to scope LocusGraph client, running without remote memory", "error", err)
				remote = nil
			}
		}
	}

	queue, err := memory.NewQueue(queueDir, remote, logger.Logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("locusagent: open memory queue: %w", err)
	}
	adapter := memory.NewAdapter(remote, queue, bus, "cl100k_base")
	return adapter, func() { _ = queue.Close() }, queue.DB(), nil
}

// stdinApprover prompts on the controlling terminal for every write/
// execute/git-write decision, persisting "always" answers for the rest
// of the process the way toolbus.PermissionTable's rule table expects.
// This is the minimal concrete approval surface a non-interactive core
// needs from *some* CLI front end; the full review/diff UI is out of
// this runtime's scope (§1 Non-goals).
func stdinApprover() toolbus.Approver {
	reader := bufio.NewReader(os.Stdin)
	return func(capability toolbus.Capability, scope string) (yes bool, always bool) {
		fmt.Fprintf(os.Stderr, "locusagent: allow %s on %q? [y/N/always] ", capability, scope)
		line, _ := reader.ReadString('\n')
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, false
		case "always", "a":
			return true, true
		default:
			return false, false
		}
	}
}

// attachStatusPrinter writes a one-line human-readable status to
// stderr per runtime event, the terminal-native stand-in for a full
// TUI event renderer (out of scope per §1).
func attachStatusPrinter(bus *eventbus.Bus) func() {
	sub := bus.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for evt := range sub.C {
			fmt.Fprintf(os.Stderr, "[%s] %s\n", evt.Type, evt.TaskID)
		}
	}()
	return func() {
		bus.Unsubscribe(sub.ID)
		<-done
	}
}
