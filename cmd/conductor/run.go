// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teradata-labs/conductor/internal/log"
	"github.com/teradata-labs/conductor/pkg/agent"
	"github.com/teradata-labs/conductor/pkg/events"
	"github.com/teradata-labs/conductor/pkg/llm"
	"github.com/teradata-labs/conductor/pkg/llm/anthropic"
	"github.com/teradata-labs/conductor/pkg/mcp"
	"github.com/teradata-labs/conductor/pkg/orchestration"
	"github.com/teradata-labs/conductor/pkg/prompts"
	"github.com/teradata-labs/conductor/pkg/session"
	"github.com/teradata-labs/conductor/pkg/types"
)

var (
	runResume string
	runModel  string
	runArgs   []string
)

var runCmd = &cobra.Command{
	Use:   "run <command>",
	Short: "Execute a command pipeline",
	Long: `Execute a command pipeline end to end. The command's YAML descriptor is
loaded from the commands directory, its stages run as a dependency DAG, and
the run's exit code reports the outcome: 0 success, 1 partial, 2 failure,
130 cancelled.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := runPipeline(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if code != 0 {
			os.Exit(code)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runResume, "resume", "", "resume a session by id instead of starting a new one")
	runCmd.Flags().StringVar(&runModel, "model", "", "model override for this run")
	runCmd.Flags().StringArrayVar(&runArgs, "arg", nil, "pipeline argument as key=value (repeatable)")
	rootCmd.AddCommand(runCmd)
}

func runPipeline(ctx context.Context, commandName string) (int, error) {
	logger := log.Logger()
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	args, err := parseRunArgs(runArgs)
	if err != nil {
		return 0, err
	}

	descriptor, err := loadCommand(commandName)
	if err != nil {
		return 0, err
	}

	promptReg := prompts.NewRegistry(config.Prompts.Dir, logger)
	if err := promptReg.Load(); err != nil {
		return 0, fmt.Errorf("failed to load prompts from %s: %w", config.Prompts.Dir, err)
	}
	if err := promptReg.ValidateGraph(); err != nil {
		return 0, err
	}

	agentReg := agent.NewRegistry(logger)
	if err := agentReg.LoadFile(config.Agents.File); err != nil {
		return 0, fmt.Errorf("failed to load agents from %s: %w", config.Agents.File, err)
	}

	store, err := session.NewFileStore(ctx, config.Sessions.Dir, logger)
	if err != nil {
		return 0, fmt.Errorf("failed to open session store: %w", err)
	}
	defer func() { _ = store.Close() }()

	provider, err := buildProvider()
	if err != nil {
		return 0, err
	}

	bus := events.NewBus(logger)

	// Tool servers are optional: a run without any configured server gets
	// no tool caller, and stages declaring tools fail as unconfigured.
	var tools orchestration.ToolCaller
	mcpConfig, err := mcp.LoadConfigFile(config.MCP.ConfigFile)
	if err != nil {
		return 0, err
	}
	if len(mcpConfig.Servers) > 0 {
		approvals := mcp.NewApprovalCache(config.DataDir, logger)
		manager, merr := mcp.NewClientManager(mcpConfig, approvals, bus, logger)
		if merr != nil {
			return 0, merr
		}
		defer manager.Close()
		tools = manager
	}

	dispatcher, err := llm.NewDispatcher(llm.Config{
		Provider:        provider,
		Bus:             bus,
		Logger:          logger,
		WarnThreshold:   config.LLM.WarnThreshold,
		HardThreshold:   config.LLM.HardThreshold,
		SerialiseModels: config.LLM.SerialiseModels,
	})
	if err != nil {
		return 0, err
	}

	sched, err := orchestration.NewScheduler(orchestration.SchedulerConfig{
		Prompts:    promptReg,
		Agents:     agentReg,
		Dispatcher: dispatcher,
		Store:      store,
		Bus:        bus,
		Tools:      tools,
		Logger:     logger,
	})
	if err != nil {
		return 0, err
	}

	orch, err := orchestration.NewOrchestrator(orchestration.OrchestratorConfig{
		Scheduler:  sched,
		Dispatcher: dispatcher,
		Store:      store,
		Bus:        bus,
		Logger:     logger,
	})
	if err != nil {
		return 0, err
	}

	result, err := orch.Run(ctx, descriptor, args, orchestration.RunOptions{
		ResumeSessionID: runResume,
		Model:           runModel,
	})
	if err != nil {
		logger.Error("Pipeline failed",
			zap.String("kind", string(types.KindOf(err))),
			zap.Error(err))
		return 0, err
	}

	printResult(result)
	return result.Outcome.ExitCode(), nil
}

// loadCommand resolves a command name to its descriptor file. A name with a
// path separator or .yaml suffix is treated as a direct path.
func loadCommand(name string) (*orchestration.CommandDescriptor, error) {
	path := name
	if !strings.ContainsRune(name, os.PathSeparator) && !strings.HasSuffix(name, ".yaml") {
		path = filepath.Join(config.Commands.Dir, name+".yaml")
	}
	return orchestration.LoadCommandFile(path)
}

func buildProvider() (llm.Provider, error) {
	switch config.LLM.Provider {
	case "", "anthropic":
		apiKey := config.LLM.AnthropicAPIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("anthropic API key required: set llm.anthropic_api_key or ANTHROPIC_API_KEY")
		}
		model := config.LLM.Model
		if runModel != "" {
			model = runModel
		}
		return anthropic.NewClient(anthropic.Config{
			APIKey:    apiKey,
			Model:     model,
			Endpoint:  config.LLM.Endpoint,
			Timeout:   config.LLM.Timeout(),
			MaxTokens: config.LLM.MaxTokens,
		}), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", config.LLM.Provider)
	}
}

func parseRunArgs(pairs []string) (map[string]string, error) {
	args := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --arg %q: expected key=value", pair)
		}
		args[key] = value
	}
	return args, nil
}

func printResult(result *types.RunResult) {
	fmt.Printf("Session:  %s\n", result.SessionID)
	fmt.Printf("Outcome:  %s\n", strings.ToUpper(string(result.Outcome)))
	fmt.Printf("Duration: %s\n", result.Duration.Round(10*time.Millisecond))
	fmt.Printf("Tokens:   %d prompt / %d output\n", result.PromptTokens, result.OutputTokens)
	if len(result.FailedStages) > 0 {
		fmt.Printf("Failed:   %s\n", strings.Join(result.FailedStages, ", "))
	}
	if len(result.Skipped) > 0 {
		fmt.Printf("Skipped:  %s\n", strings.Join(result.Skipped, ", "))
	}
}
