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

// Package llm dispatches fully-formed prompt requests to a provider with
// retries, timeouts, token accounting, and context-window enforcement.
package llm

import (
	"context"
	"time"

	"github.com/teradata-labs/conductor/pkg/types"
)

// Request is a fully-formed prompt dispatch.
type Request struct {
	SessionID string
	StageName string

	// PromptBody is the rendered prompt text sent as the user turn.
	PromptBody string

	// System is the optional system prompt.
	System string

	// Model overrides the provider's default model when set.
	Model string

	// MaxOutputTokens caps the response length. Zero uses the provider
	// default.
	MaxOutputTokens int

	// Inputs are the assembled stage inputs, serialised into the prompt
	// context. Carried for token estimation.
	Inputs map[string]interface{}

	// Sink, when set, receives the dispatch's request/response events in
	// place of the shared bus. Callers that buffer a stage's narrative
	// route dispatch events through it so the stage's block stays
	// contiguous under parallel execution.
	Sink func(types.PipelineEvent)
}

// Response is the provider's answer with usage accounting.
type Response struct {
	Content      string
	Model        string
	StopReason   string
	PromptTokens int
	OutputTokens int
	Duration     time.Duration
}

// Provider is a single LLM backend. Implementations classify failures with
// the types error taxonomy so the dispatcher can decide what to retry.
type Provider interface {
	// Name returns the provider name (e.g. "anthropic").
	Name() string

	// Model returns the default model identifier.
	Model() string

	// Complete sends one request and returns the full response.
	Complete(ctx context.Context, req Request) (*Response, error)
}
