// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package orchestration executes command pipelines: it layers the stage DAG,
// schedules cohorts, applies retry and escalation policy, and drives a
// command to SUCCESS, PARTIAL, or FAILURE.
package orchestration

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teradata-labs/conductor/pkg/types"
)

// DefaultMaxConcurrency bounds parallel cohort fan-out when a command does
// not declare its own limit.
const DefaultMaxConcurrency = 4

// EscalationAction is what the scheduler does when a stage exhausts retries.
type EscalationAction string

const (
	EscalateToAgent EscalationAction = "escalate-to-agent"
	FallbackPrompt  EscalationAction = "fallback-prompt"
	AbortStage      EscalationAction = "abort"
)

// EscalationTrigger narrows when an escalation fires. An empty trigger
// matches every failure.
type EscalationTrigger struct {
	// ConfidenceBelow fires when the parsed `confidence` output is below
	// this threshold. Zero disables the check.
	ConfidenceBelow float64 `yaml:"confidence_below"`

	// ErrorKinds restricts escalation to these failure kinds.
	ErrorKinds []types.ErrorKind `yaml:"error_kinds"`
}

// Matches reports whether a failure kind fires this trigger.
func (t EscalationTrigger) Matches(kind types.ErrorKind) bool {
	if len(t.ErrorKinds) == 0 {
		return true
	}
	for _, k := range t.ErrorKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Escalation is a stage's post-retry recovery policy.
type Escalation struct {
	Trigger EscalationTrigger `yaml:"trigger"`
	Action  EscalationAction  `yaml:"action"`

	// FallbackPromptID is the prompt used by the fallback-prompt action.
	FallbackPromptID string `yaml:"fallback_prompt"`
}

// RetryPolicy is the declarative stage retry policy. Durations are
// milliseconds in the YAML form.
type RetryPolicy struct {
	MaxAttempts       int     `yaml:"max_attempts"`
	BackoffMs         int     `yaml:"backoff_ms"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	JitterMs          int     `yaml:"jitter_ms"`
}

// ToolCall declares one external tool invocation a stage performs before its
// prompt dispatch. Arguments use the same source syntax as inputs_map, and
// the decoded result joins the stage's inputs under the save_as name.
type ToolCall struct {
	Server string            `yaml:"server"`
	Tool   string            `yaml:"tool"`
	Args   map[string]string `yaml:"args"`

	// SaveAs names the input the result is stored under. Empty defaults
	// to the tool name.
	SaveAs string `yaml:"save_as"`
}

// ResultName returns the input name the call's result is merged under.
func (c ToolCall) ResultName() string {
	if c.SaveAs != "" {
		return c.SaveAs
	}
	return c.Tool
}

// Stage is one node of the command DAG.
type Stage struct {
	Name     string `yaml:"name"`
	PromptID string `yaml:"prompt_id"`
	Agent    string `yaml:"agent"`

	// Domain is the task domain used for agent escalation lookups.
	Domain string `yaml:"domain"`

	DependsOn     []string `yaml:"depends_on"`
	ParallelGroup string   `yaml:"parallel_group"`

	RetryPolicy *RetryPolicy `yaml:"retry_policy"`
	Escalation  *Escalation  `yaml:"escalation"`

	TimeoutMs int `yaml:"timeout_ms"`

	// InputsMap assembles the prompt's inputs: input name to a source
	// reference ("stage:<name>.<field>", "arg:<name>", "session:<key>")
	// or a literal value.
	InputsMap map[string]string `yaml:"inputs_map"`

	// Tools are external tool calls executed before the prompt dispatch,
	// in order, their results feeding the prompt's inputs.
	Tools []ToolCall `yaml:"tools"`

	// Model overrides the provider default for this stage.
	Model           string `yaml:"model"`
	MaxOutputTokens int    `yaml:"max_output_tokens"`

	// Optional stages may fail without demoting the run outcome (see
	// CommandDescriptor.OptionalFailureDemotes).
	Optional bool `yaml:"optional"`

	// MayShortCircuit lets the stage halt the remaining pipeline by
	// producing a truthy `halt` output.
	MayShortCircuit bool `yaml:"may_short_circuit"`
}

// Timeout returns the stage's hard deadline, defaulting to 5 minutes.
func (s *Stage) Timeout() time.Duration {
	if s.TimeoutMs <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// CommandDescriptor is the declarative definition of one command pipeline.
type CommandDescriptor struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Stages      []Stage `yaml:"stages"`

	// MaxConcurrency bounds parallel cohort fan-out. Zero selects the
	// default of 4.
	MaxConcurrency int `yaml:"max_concurrency"`

	// RequiredOutputs lists the stage names whose outputs are mandatory
	// for the command to count as anything better than FAILURE.
	RequiredOutputs []string `yaml:"required_outputs"`

	// OptionalFailureDemotes demotes the run to PARTIAL when a stage
	// marked optional fails. Default false: optional failures never
	// demote.
	OptionalFailureDemotes bool `yaml:"optional_failure_demotes"`
}

// ParseCommand decodes and validates a command descriptor from YAML.
func ParseCommand(data []byte) (*CommandDescriptor, error) {
	var cmd CommandDescriptor
	if err := yaml.Unmarshal(data, &cmd); err != nil {
		return nil, types.WrapError(types.ErrCommandInvalid, err, "failed to parse command")
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return &cmd, nil
}

// LoadCommandFile reads a command descriptor from disk.
func LoadCommandFile(path string) (*CommandDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.WrapError(types.ErrCommandInvalid, err, "failed to read command file %s", path)
	}
	return ParseCommand(data)
}

// Validate checks structural validity: unique stage names, resolvable
// dependencies, an acyclic graph, and sane policy values.
func (c *CommandDescriptor) Validate() error {
	if c.Name == "" {
		return types.NewError(types.ErrCommandInvalid, "command name is required")
	}
	if len(c.Stages) == 0 {
		return types.NewError(types.ErrCommandInvalid, "command %s has no stages", c.Name)
	}
	if c.MaxConcurrency < 0 {
		return types.NewError(types.ErrCommandInvalid, "max_concurrency must be >= 0")
	}

	names := make(map[string]bool, len(c.Stages))
	for i := range c.Stages {
		stage := &c.Stages[i]
		if stage.Name == "" {
			return types.NewError(types.ErrCommandInvalid, "stage %d has no name", i)
		}
		if names[stage.Name] {
			return types.NewError(types.ErrCommandInvalid, "duplicate stage name %q", stage.Name)
		}
		names[stage.Name] = true

		if stage.PromptID == "" {
			return types.NewError(types.ErrCommandInvalid, "stage %q has no prompt_id", stage.Name)
		}
		if stage.Agent == "" {
			return types.NewError(types.ErrCommandInvalid, "stage %q has no agent", stage.Name)
		}
		for j, call := range stage.Tools {
			if call.Server == "" {
				return types.NewError(types.ErrCommandInvalid, "stage %q tool call %d has no server", stage.Name, j)
			}
			if call.Tool == "" {
				return types.NewError(types.ErrCommandInvalid, "stage %q tool call %d has no tool", stage.Name, j)
			}
		}
		if stage.RetryPolicy != nil && stage.RetryPolicy.MaxAttempts < 1 {
			return types.NewError(types.ErrCommandInvalid, "stage %q retry max_attempts must be >= 1", stage.Name)
		}
		if stage.Escalation != nil {
			switch stage.Escalation.Action {
			case EscalateToAgent, AbortStage:
			case FallbackPrompt:
				if stage.Escalation.FallbackPromptID == "" {
					return types.NewError(types.ErrCommandInvalid, "stage %q fallback escalation needs fallback_prompt", stage.Name)
				}
			default:
				return types.NewError(types.ErrCommandInvalid, "stage %q has unknown escalation action %q", stage.Name, stage.Escalation.Action)
			}
		}
	}

	for i := range c.Stages {
		for _, dep := range c.Stages[i].DependsOn {
			if !names[dep] {
				return types.NewError(types.ErrCommandInvalid,
					"stage %q depends on unknown stage %q", c.Stages[i].Name, dep)
			}
		}
	}

	for _, required := range c.RequiredOutputs {
		if !names[required] {
			return types.NewError(types.ErrCommandInvalid, "required output references unknown stage %q", required)
		}
	}

	if _, err := topoLayers(c.Stages); err != nil {
		return err
	}
	return nil
}

// Concurrency returns the effective cohort bound.
func (c *CommandDescriptor) Concurrency() int {
	if c.MaxConcurrency <= 0 {
		return DefaultMaxConcurrency
	}
	return c.MaxConcurrency
}

// stageByName returns the stage with the given name.
func (c *CommandDescriptor) stageByName(name string) *Stage {
	for i := range c.Stages {
		if c.Stages[i].Name == name {
			return &c.Stages[i]
		}
	}
	return nil
}

func (c *CommandDescriptor) String() string {
	return fmt.Sprintf("command %s (%d stages)", c.Name, len(c.Stages))
}
