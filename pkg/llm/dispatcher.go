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
package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/conductor/internal/csync"
	"github.com/teradata-labs/conductor/pkg/events"
	"github.com/teradata-labs/conductor/pkg/types"
)

// RetryPolicy controls retry behaviour for transient dispatch failures.
type RetryPolicy struct {
	MaxAttempts       int           `yaml:"max_attempts" json:"max_attempts"`
	Backoff           time.Duration `yaml:"backoff_ms" json:"backoff_ms"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" json:"backoff_multiplier"`
	Jitter            time.Duration `yaml:"jitter" json:"jitter"`
}

// DefaultRetryPolicy returns the policy applied when a stage declares none.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		Backoff:           time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            250 * time.Millisecond,
	}
}

// delayFor computes the sleep before the next attempt (1-based attempt that
// just failed).
func (p RetryPolicy) delayFor(attempt int) time.Duration {
	multiplier := p.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	delay := time.Duration(float64(p.Backoff) * math.Pow(multiplier, float64(attempt-1)))
	if p.Jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(p.Jitter)))
	}
	return delay
}

// Config configures the dispatcher.
type Config struct {
	Provider Provider
	Bus      *events.Bus
	Counter  *TokenCounter
	Logger   *zap.Logger

	// Context utilisation thresholds. Zero selects the defaults.
	WarnThreshold float64
	HardThreshold float64

	// SerialiseModels lists models whose provider requests must not
	// overlap, for providers with strict per-model rate limits.
	SerialiseModels []string
}

// Dispatcher sends prompt requests to the provider with context-window
// enforcement, retries, and token accounting. One dispatcher serves all
// sessions of an orchestrator.
type Dispatcher struct {
	provider Provider
	bus      *events.Bus
	counter  *TokenCounter
	logger   *zap.Logger

	warnThreshold float64
	hardThreshold float64

	// windows is keyed by session id: the per-session rolling context view.
	windows *csync.Map[string, *ContextWindowState]

	modelLocks map[string]*sync.Mutex
}

// NewDispatcher creates a dispatcher over one provider.
func NewDispatcher(cfg Config) (*Dispatcher, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("event bus is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Counter == nil {
		cfg.Counter = NewTokenCounter(cfg.Logger)
	}

	locks := make(map[string]*sync.Mutex, len(cfg.SerialiseModels))
	for _, model := range cfg.SerialiseModels {
		locks[model] = &sync.Mutex{}
	}

	return &Dispatcher{
		provider:      cfg.Provider,
		bus:           cfg.Bus,
		counter:       cfg.Counter,
		logger:        cfg.Logger,
		warnThreshold: cfg.WarnThreshold,
		hardThreshold: cfg.HardThreshold,
		windows:       csync.NewMap[string, *ContextWindowState](),
		modelLocks:    locks,
	}, nil
}

// WindowFor returns the per-session context window state, creating it on
// first use for the given model.
func (d *Dispatcher) WindowFor(sessionID, model string) *ContextWindowState {
	if model == "" {
		model = d.provider.Model()
	}
	if win, ok := d.windows.Get(sessionID); ok {
		return win
	}
	win := NewContextWindowState(model, d.warnThreshold, d.hardThreshold)
	d.windows.Set(sessionID, win)
	return win
}

// Dispatch sends one request, applying the retry policy to transient
// failures. The caller's context carries the stage deadline. The returned
// attempt count includes the final (successful or failing) attempt.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request, policy RetryPolicy) (*Response, int, error) {
	model := req.Model
	if model == "" {
		model = d.provider.Model()
	}
	win := d.WindowFor(req.SessionID, model)

	publish := d.bus.Publish
	if req.Sink != nil {
		publish = req.Sink
	}

	estimated := d.counter.CountRequest(req)
	if err := win.CheckDispatch(estimated, req.MaxOutputTokens); err != nil {
		// Fail fast: no provider call, no request event.
		return nil, 0, err
	}

	if lock, ok := d.modelLocks[model]; ok {
		lock.Lock()
		defer lock.Unlock()
	}

	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		// Each attempt is a distinct provider request with its own id.
		requestID := fmt.Sprintf("req-%s", uuid.New().String()[:8])
		reqEvent := types.NewEvent(types.EventLLMRequest, req.SessionID, req.StageName)
		reqEvent.LLM = &types.LLMPayload{
			RequestID:       requestID,
			Model:           model,
			EstimatedTokens: estimated,
		}
		publish(reqEvent)

		start := time.Now()
		resp, err := d.provider.Complete(ctx, req)
		if err == nil {
			resp.Duration = time.Since(start)
			d.recordResponse(publish, win, req, requestID, model, resp)
			return resp, attempt, nil
		}

		lastErr = classifyDispatchError(err)
		kind := types.KindOf(lastErr)

		if !types.IsTransient(kind) {
			d.logger.Debug("Dispatch failed permanently",
				zap.String("session_id", req.SessionID),
				zap.String("stage", req.StageName),
				zap.String("kind", string(kind)),
				zap.Error(lastErr))
			return nil, attempt, lastErr
		}
		if attempt == maxAttempts {
			break
		}

		delay := policy.delayFor(attempt)
		d.logger.Warn("Transient dispatch failure, retrying",
			zap.String("session_id", req.SessionID),
			zap.String("stage", req.StageName),
			zap.String("kind", string(kind)),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay))

		select {
		case <-ctx.Done():
			return nil, attempt, classifyDispatchError(ctx.Err())
		case <-time.After(delay):
		}
	}
	return nil, maxAttempts, lastErr
}

func (d *Dispatcher) recordResponse(publish func(types.PipelineEvent), win *ContextWindowState, req Request, requestID, model string, resp *Response) {
	utilisation, crossedWarn := win.RecordResponse(resp.PromptTokens, resp.OutputTokens)

	respEvent := types.NewEvent(types.EventLLMResponse, req.SessionID, req.StageName)
	respEvent.LLM = &types.LLMPayload{
		RequestID:      requestID,
		Model:          model,
		PromptTokens:   resp.PromptTokens,
		OutputTokens:   resp.OutputTokens,
		DurationMs:     resp.Duration.Milliseconds(),
		UtilisationPct: utilisation * 100,
	}
	publish(respEvent)

	if crossedWarn {
		warn := types.NewEvent(types.EventStageProgress, req.SessionID, req.StageName)
		warn.StageInfo = &types.StagePayload{
			Message: fmt.Sprintf("context window utilisation at %.0f%% for %s", utilisation*100, model),
		}
		publish(warn)
	}
}

// classifyDispatchError maps raw provider and context errors onto the
// dispatch taxonomy. Errors already carrying a kind pass through.
func classifyDispatchError(err error) error {
	if err == nil {
		return nil
	}
	if kind := types.KindOf(err); kind != "" {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.WrapError(types.ErrProviderTimeout, err, "provider deadline exceeded")
	}
	if errors.Is(err, context.Canceled) {
		return types.WrapError(types.ErrSessionAborted, err, "dispatch cancelled")
	}
	return types.WrapError(types.ErrProviderTransient, err, "provider call failed")
}
