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

// Package types contains shared types used across the conductor framework.
// This package breaks import cycles by providing the event model, session
// records, and error taxonomy that every other package depends on.
package types

import "time"

// EventKind identifies a pipeline event variant.
type EventKind string

const (
	EventPipelineStart    EventKind = "pipeline_start"
	EventPipelineComplete EventKind = "pipeline_complete"
	EventPipelineError    EventKind = "pipeline_error"

	EventStageStart    EventKind = "stage_start"
	EventStageProgress EventKind = "stage_progress"
	EventStageComplete EventKind = "stage_complete"
	EventStageError    EventKind = "stage_error"

	EventLLMRequest    EventKind = "llm_request"
	EventLLMResponse   EventKind = "llm_response"
	EventAgentThinking EventKind = "agent_thinking"

	EventEscalationTriggered EventKind = "escalation_triggered"
	EventEscalationResolved  EventKind = "escalation_resolved"
	EventEscalationAborted   EventKind = "escalation_aborted"

	EventToolHookTriggered EventKind = "tool_hook_triggered"
	EventToolHookBlocked   EventKind = "tool_hook_blocked"
	EventToolHookPost      EventKind = "tool_hook_post"
)

// PipelineEvent is the tagged variant carried on the event bus and persisted
// to the session log. Exactly one payload pointer is set, matching Kind.
type PipelineEvent struct {
	Kind      EventKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	Stage     string    `json:"stage,omitempty"`

	Pipeline   *PipelinePayload   `json:"pipeline,omitempty"`
	StageInfo  *StagePayload      `json:"stage_info,omitempty"`
	LLM        *LLMPayload        `json:"llm,omitempty"`
	Escalation *EscalationPayload `json:"escalation,omitempty"`
	ToolHook   *ToolHookPayload   `json:"tool_hook,omitempty"`
}

// PipelinePayload accompanies pipeline lifecycle events.
type PipelinePayload struct {
	Command   string            `json:"command"`
	Args      map[string]string `json:"args,omitempty"`
	IsResumed bool              `json:"is_resumed,omitempty"`
	Outcome   RunOutcome        `json:"outcome,omitempty"`
	Reason    string            `json:"reason,omitempty"`
}

// StagePayload accompanies stage lifecycle and progress events.
type StagePayload struct {
	Agent      string                 `json:"agent,omitempty"`
	PromptID   string                 `json:"prompt_id,omitempty"`
	IsParallel bool                   `json:"is_parallel,omitempty"`
	Attempt    int                    `json:"attempt,omitempty"`
	Message    string                 `json:"message,omitempty"`
	Output     map[string]interface{} `json:"output,omitempty"`
	ErrorKind  ErrorKind              `json:"error_kind,omitempty"`
	Error      string                 `json:"error,omitempty"`

	// Optional worktree/branch metadata supplied by the caller for
	// parallel stage isolation. Opaque to the scheduler.
	Worktree string `json:"worktree,omitempty"`
	Branch   string `json:"branch,omitempty"`
}

// LLMPayload accompanies LLMRequest/LLMResponse events.
type LLMPayload struct {
	RequestID       string  `json:"request_id"`
	Model           string  `json:"model"`
	PromptTokens    int     `json:"prompt_tokens,omitempty"`
	OutputTokens    int     `json:"output_tokens,omitempty"`
	DurationMs      int64   `json:"duration_ms,omitempty"`
	UtilisationPct  float64 `json:"utilisation_pct,omitempty"`
	EstimatedTokens int     `json:"estimated_tokens,omitempty"`
}

// EscalationPayload accompanies escalation events.
type EscalationPayload struct {
	Trigger   string `json:"trigger"`
	Action    string `json:"action"`
	FromAgent string `json:"from_agent,omitempty"`
	ToAgent   string `json:"to_agent,omitempty"`
	Prompt    string `json:"prompt,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// ToolHookPayload accompanies MCP tool hook events.
type ToolHookPayload struct {
	Server        string `json:"server"`
	Tool          string `json:"tool,omitempty"`
	NeedsApproval bool   `json:"needs_approval,omitempty"`
	Reason        string `json:"reason,omitempty"`
	DurationMs    int64  `json:"duration_ms,omitempty"`
}

// NewEvent creates an event with the timestamp set to now.
func NewEvent(kind EventKind, sessionID, stage string) PipelineEvent {
	return PipelineEvent{
		Kind:      kind,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Stage:     stage,
	}
}

// IsTerminalStageEvent reports whether the event ends a stage's story.
func (e PipelineEvent) IsTerminalStageEvent() bool {
	return e.Kind == EventStageComplete || e.Kind == EventStageError
}
