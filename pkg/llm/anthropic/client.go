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

// Package anthropic implements the llm.Provider interface over Anthropic's
// Messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/teradata-labs/conductor/pkg/llm"
	"github.com/teradata-labs/conductor/pkg/types"
)

const (
	// DefaultModel is the default Claude model.
	DefaultModel = "claude-sonnet-4-5-20250929"
	// DefaultEndpoint is the default Anthropic API endpoint.
	DefaultEndpoint = "https://api.anthropic.com/v1/messages"
	// DefaultMaxTokens is the default maximum tokens per request.
	DefaultMaxTokens = 4096
	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 60 * time.Second
)

// Config holds configuration for the Anthropic client.
type Config struct {
	APIKey    string
	Model     string // Default: claude-sonnet-4-5-20250929
	Endpoint  string // Default: https://api.anthropic.com/v1/messages
	Timeout   time.Duration
	MaxTokens int // Default: 4096
}

// Client implements llm.Provider for Anthropic's Claude API.
type Client struct {
	apiKey     string
	model      string
	endpoint   string
	maxTokens  int
	httpClient *http.Client
}

// NewClient creates a new Anthropic client.
func NewClient(config Config) *Client {
	if config.Model == "" {
		if envModel := os.Getenv("ANTHROPIC_DEFAULT_MODEL"); envModel != "" {
			config.Model = envModel
		} else {
			config.Model = DefaultModel
		}
	}
	if config.Endpoint == "" {
		if envEndpoint := os.Getenv("ANTHROPIC_API_ENDPOINT"); envEndpoint != "" {
			config.Endpoint = envEndpoint
		} else {
			config.Endpoint = DefaultEndpoint
		}
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = DefaultMaxTokens
	}

	return &Client{
		apiKey:    config.APIKey,
		model:     config.Model,
		endpoint:  config.Endpoint,
		maxTokens: config.MaxTokens,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return "anthropic"
}

// Model returns the default model identifier.
func (c *Client) Model() string {
	return c.model
}

// Complete sends one prompt to Claude and returns the full response.
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxOutputTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	apiReq := &MessagesRequest{
		Model:     model,
		System:    req.System,
		MaxTokens: maxTokens,
		Messages: []Message{
			{Role: "user", Content: []ContentBlock{{Type: "text", Text: req.PromptBody}}},
		},
	}

	start := time.Now()
	apiResp, err := c.callAPI(ctx, apiReq)
	if err != nil {
		return nil, err
	}

	content := ""
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return &llm.Response{
		Content:      content,
		Model:        apiResp.Model,
		StopReason:   apiResp.StopReason,
		PromptTokens: apiResp.Usage.InputTokens,
		OutputTokens: apiResp.Usage.OutputTokens,
		Duration:     time.Since(start),
	}, nil
}

// callAPI makes the HTTP request to Anthropic's API and maps failures onto
// the dispatch taxonomy.
func (c *Client) callAPI(ctx context.Context, req *MessagesRequest) (*MessagesResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, types.WrapError(types.ErrProviderPermanent, err, "failed to marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, types.WrapError(types.ErrProviderPermanent, err, "failed to create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, types.WrapError(types.ErrProviderTimeout, err, "request deadline exceeded")
		}
		if errors.Is(err, context.Canceled) {
			return nil, types.WrapError(types.ErrSessionAborted, err, "request cancelled")
		}
		return nil, types.WrapError(types.ErrProviderTransient, err, "HTTP request failed")
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, types.WrapError(types.ErrProviderTransient, err, "failed to read response")
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, statusError(httpResp.StatusCode, respBody)
	}

	var resp MessagesResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, types.WrapError(types.ErrResponseInvalid, err, "failed to unmarshal response")
	}
	return &resp, nil
}

// statusError maps HTTP status codes onto the dispatch taxonomy: 429 is
// rate-limited, 408 and 5xx are transient, remaining 4xx are permanent.
func statusError(status int, body []byte) error {
	message := string(body)
	var envelope ErrorResponse
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		message = fmt.Sprintf("%s: %s", envelope.Error.Type, envelope.Error.Message)
	}

	switch {
	case status == http.StatusTooManyRequests:
		return types.NewError(types.ErrProviderRateLimited, "API rate limited (status %d): %s", status, message)
	case status == http.StatusRequestTimeout || status >= 500:
		return types.NewError(types.ErrProviderTransient, "API error (status %d): %s", status, message)
	default:
		return types.NewError(types.ErrProviderPermanent, "API error (status %d): %s", status, message)
	}
}

// Ensure Client implements the provider interface.
var _ llm.Provider = (*Client)(nil)
