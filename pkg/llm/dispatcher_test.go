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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teradata-labs/conductor/pkg/events"
	"github.com/teradata-labs/conductor/pkg/types"
)

// scriptedProvider returns canned results in order, then repeats the last.
type scriptedProvider struct {
	model   string
	script  []func(req Request) (*Response, error)
	calls   int
	lastReq Request
}

func (p *scriptedProvider) Name() string  { return "scripted" }
func (p *scriptedProvider) Model() string { return p.model }

func (p *scriptedProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.lastReq = req
	idx := p.calls
	if idx >= len(p.script) {
		idx = len(p.script) - 1
	}
	p.calls++
	return p.script[idx](req)
}

func okResponse(prompt, output int) func(req Request) (*Response, error) {
	return func(req Request) (*Response, error) {
		return &Response{
			Content:      `{"done": true}`,
			Model:        "claude-sonnet-4",
			StopReason:   "end_turn",
			PromptTokens: prompt,
			OutputTokens: output,
		}, nil
	}
}

func failWith(kind types.ErrorKind) func(req Request) (*Response, error) {
	return func(req Request) (*Response, error) {
		return nil, types.NewError(kind, "scripted failure")
	}
}

func fastRetryPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       attempts,
		Backoff:           time.Millisecond,
		BackoffMultiplier: 1.0,
	}
}

func newTestDispatcher(t *testing.T, provider Provider) (*Dispatcher, *[]types.PipelineEvent) {
	t.Helper()
	bus := events.NewBus(zap.NewNop())
	var seen []types.PipelineEvent
	bus.SubscribeAll(func(ev types.PipelineEvent) {
		seen = append(seen, ev)
	})

	d, err := NewDispatcher(Config{Provider: provider, Bus: bus, Logger: zap.NewNop()})
	require.NoError(t, err)
	return d, &seen
}

func TestDispatcher_SuccessEmitsRequestAndResponse(t *testing.T) {
	provider := &scriptedProvider{model: "claude-sonnet-4", script: []func(Request) (*Response, error){
		okResponse(1000, 200),
	}}
	d, seen := newTestDispatcher(t, provider)

	resp, attempts, err := d.Dispatch(context.Background(), Request{
		SessionID:  "sess-1",
		StageName:  "plan",
		PromptBody: "plan the change",
	}, DefaultRetryPolicy())
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1000, resp.PromptTokens)

	require.Len(t, *seen, 2)
	assert.Equal(t, types.EventLLMRequest, (*seen)[0].Kind)
	assert.Positive(t, (*seen)[0].LLM.EstimatedTokens)
	assert.Equal(t, types.EventLLMResponse, (*seen)[1].Kind)
	assert.Equal(t, (*seen)[0].LLM.RequestID, (*seen)[1].LLM.RequestID)
	assert.Equal(t, 200, (*seen)[1].LLM.OutputTokens)
}

func TestDispatcher_SinkRoutesEventsAwayFromBus(t *testing.T) {
	provider := &scriptedProvider{model: "claude-sonnet-4", script: []func(Request) (*Response, error){
		okResponse(1000, 200),
	}}
	d, seen := newTestDispatcher(t, provider)

	var sunk []types.PipelineEvent
	_, _, err := d.Dispatch(context.Background(), Request{
		SessionID:  "sess-1",
		StageName:  "plan",
		PromptBody: "plan the change",
		Sink:       func(ev types.PipelineEvent) { sunk = append(sunk, ev) },
	}, DefaultRetryPolicy())
	require.NoError(t, err)

	// The sink owns the dispatch narrative; nothing reaches the bus.
	assert.Empty(t, *seen)
	require.Len(t, sunk, 2)
	assert.Equal(t, types.EventLLMRequest, sunk[0].Kind)
	assert.Equal(t, types.EventLLMResponse, sunk[1].Kind)
}

func TestDispatcher_RetriesTransientThenSucceeds(t *testing.T) {
	provider := &scriptedProvider{model: "claude-sonnet-4", script: []func(Request) (*Response, error){
		failWith(types.ErrProviderRateLimited),
		failWith(types.ErrProviderTransient),
		okResponse(500, 100),
	}}
	d, seen := newTestDispatcher(t, provider)

	resp, attempts, err := d.Dispatch(context.Background(), Request{
		SessionID: "sess-1", StageName: "plan", PromptBody: "x",
	}, fastRetryPolicy(3))
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, provider.calls)
	assert.Equal(t, 100, resp.OutputTokens)

	// Every attempt is a distinct request event; only the winner answers.
	var requests, responses int
	for _, ev := range *seen {
		switch ev.Kind {
		case types.EventLLMRequest:
			requests++
		case types.EventLLMResponse:
			responses++
		}
	}
	assert.Equal(t, 3, requests)
	assert.Equal(t, 1, responses)
}

func TestDispatcher_ExhaustsRetryPolicy(t *testing.T) {
	provider := &scriptedProvider{model: "claude-sonnet-4", script: []func(Request) (*Response, error){
		failWith(types.ErrProviderTimeout),
	}}
	d, _ := newTestDispatcher(t, provider)

	_, attempts, err := d.Dispatch(context.Background(), Request{
		SessionID: "sess-1", StageName: "plan", PromptBody: "x",
	}, fastRetryPolicy(3))
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, provider.calls)
	assert.Equal(t, types.ErrProviderTimeout, types.KindOf(err))
}

func TestDispatcher_PermanentFailureNotRetried(t *testing.T) {
	provider := &scriptedProvider{model: "claude-sonnet-4", script: []func(Request) (*Response, error){
		failWith(types.ErrProviderPermanent),
	}}
	d, _ := newTestDispatcher(t, provider)

	_, attempts, err := d.Dispatch(context.Background(), Request{
		SessionID: "sess-1", StageName: "plan", PromptBody: "x",
	}, fastRetryPolicy(5))
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, provider.calls)
	assert.Equal(t, types.ErrProviderPermanent, types.KindOf(err))
}

func TestDispatcher_ContextOverflowFailsFastWithoutProviderCall(t *testing.T) {
	provider := &scriptedProvider{model: "gpt-4", script: []func(Request) (*Response, error){
		okResponse(1, 1),
	}}
	d, seen := newTestDispatcher(t, provider)

	// gpt-4 has an 8K window; a prompt far beyond it must be refused before
	// any provider call.
	_, attempts, err := d.Dispatch(context.Background(), Request{
		SessionID:  "sess-1",
		StageName:  "plan",
		PromptBody: strings.Repeat("massive prompt ", 20000),
	}, DefaultRetryPolicy())
	require.Error(t, err)
	assert.Equal(t, types.ErrContextOverflow, types.KindOf(err))
	assert.Equal(t, 0, attempts)
	assert.Equal(t, 0, provider.calls)
	assert.Empty(t, *seen)
}

func TestDispatcher_WarnThresholdEmitsStageProgress(t *testing.T) {
	// 75% of the gpt-4 8192-token window.
	provider := &scriptedProvider{model: "gpt-4", script: []func(Request) (*Response, error){
		okResponse(6200, 10),
	}}
	d, seen := newTestDispatcher(t, provider)

	_, _, err := d.Dispatch(context.Background(), Request{
		SessionID: "sess-1", StageName: "plan", PromptBody: "x",
	}, DefaultRetryPolicy())
	require.NoError(t, err)

	var progress *types.PipelineEvent
	for i := range *seen {
		if (*seen)[i].Kind == types.EventStageProgress {
			progress = &(*seen)[i]
		}
	}
	require.NotNil(t, progress)
	assert.Contains(t, progress.StageInfo.Message, "context window utilisation")
}

func TestDispatcher_HardStopRefusesFurtherDispatches(t *testing.T) {
	// 90% of the gpt-4 window, beyond the 85% hard stop.
	provider := &scriptedProvider{model: "gpt-4", script: []func(Request) (*Response, error){
		okResponse(7400, 10),
	}}
	d, _ := newTestDispatcher(t, provider)

	_, _, err := d.Dispatch(context.Background(), Request{
		SessionID: "sess-1", StageName: "plan", PromptBody: "x",
	}, DefaultRetryPolicy())
	require.NoError(t, err)

	_, _, err = d.Dispatch(context.Background(), Request{
		SessionID: "sess-1", StageName: "implement", PromptBody: "x",
	}, DefaultRetryPolicy())
	require.Error(t, err)
	assert.Equal(t, types.ErrContextOverflow, types.KindOf(err))

	// Other sessions are unaffected.
	_, _, err = d.Dispatch(context.Background(), Request{
		SessionID: "sess-2", StageName: "plan", PromptBody: "x",
	}, DefaultRetryPolicy())
	assert.NoError(t, err)
}

func TestDispatcher_CancelledContextAbortsBackoff(t *testing.T) {
	provider := &scriptedProvider{model: "claude-sonnet-4", script: []func(Request) (*Response, error){
		failWith(types.ErrProviderTransient),
	}}
	d, _ := newTestDispatcher(t, provider)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := d.Dispatch(ctx, Request{
		SessionID: "sess-1", StageName: "plan", PromptBody: "x",
	}, RetryPolicy{MaxAttempts: 3, Backoff: time.Hour})
	require.Error(t, err)
	assert.Equal(t, types.ErrSessionAborted, types.KindOf(err))
}

func TestRetryPolicy_DelayFor(t *testing.T) {
	policy := RetryPolicy{
		Backoff:           time.Second,
		BackoffMultiplier: 2.0,
	}
	assert.Equal(t, time.Second, policy.delayFor(1))
	assert.Equal(t, 2*time.Second, policy.delayFor(2))
	assert.Equal(t, 4*time.Second, policy.delayFor(3))
}

func TestContextWindowState_WarnOncePerCrossing(t *testing.T) {
	win := NewContextWindowState("gpt-4", 0, 0)

	_, crossed := win.RecordResponse(6000, 10)
	assert.True(t, crossed)

	// Still above threshold: no second warning.
	_, crossed = win.RecordResponse(6100, 10)
	assert.False(t, crossed)

	// Drop below, then cross again.
	_, crossed = win.RecordResponse(1000, 10)
	assert.False(t, crossed)
	_, crossed = win.RecordResponse(6000, 10)
	assert.True(t, crossed)
}

func TestLookupModelLimits_PrefixMatch(t *testing.T) {
	limits := LookupModelLimits("claude-3-5-sonnet-20241022")
	require.NotNil(t, limits)
	assert.Equal(t, 200000, limits.MaxContextTokens)

	assert.Nil(t, LookupModelLimits("unknown-model"))
	assert.Equal(t, 200000, ResolveModelLimits("unknown-model").MaxContextTokens)
}
