// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teradata-labs/conductor/pkg/agent"
	"github.com/teradata-labs/conductor/pkg/events"
	"github.com/teradata-labs/conductor/pkg/llm"
	"github.com/teradata-labs/conductor/pkg/prompts"
	"github.com/teradata-labs/conductor/pkg/session"
	"github.com/teradata-labs/conductor/pkg/types"
)

// fakeReply is one scripted provider answer for a stage.
type fakeReply struct {
	content string
	err     error
	delay   time.Duration
}

// fakeProvider serves scripted replies keyed by stage name, consuming each
// stage's script in order and repeating the last entry.
type fakeProvider struct {
	mu      sync.Mutex
	model   string
	scripts map[string][]fakeReply
	calls   map[string]int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		model:   "claude-sonnet-4",
		scripts: make(map[string][]fakeReply),
		calls:   make(map[string]int),
	}
}

func (p *fakeProvider) reply(stage string, replies ...fakeReply) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts[stage] = append(p.scripts[stage], replies...)
}

func (p *fakeProvider) callCount(stage string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[stage]
}

func (p *fakeProvider) Name() string  { return "fake" }
func (p *fakeProvider) Model() string { return p.model }

func (p *fakeProvider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	script := p.scripts[req.StageName]
	idx := p.calls[req.StageName]
	p.calls[req.StageName]++
	p.mu.Unlock()

	if len(script) == 0 {
		return nil, types.NewError(types.ErrProviderPermanent, "no script for stage %s", req.StageName)
	}
	if idx >= len(script) {
		idx = len(script) - 1
	}
	reply := script[idx]

	if reply.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(reply.delay):
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	if reply.err != nil {
		return nil, reply.err
	}
	return &llm.Response{
		Content:      reply.content,
		Model:        p.model,
		StopReason:   "end_turn",
		PromptTokens: 100,
		OutputTokens: 20,
	}, nil
}

// toolCallRecord captures one invocation seen by the fake tool caller.
type toolCallRecord struct {
	server string
	tool   string
	args   map[string]interface{}
}

// fakeToolCaller serves a canned tool result and records every call.
type fakeToolCaller struct {
	mu     sync.Mutex
	calls  []toolCallRecord
	result json.RawMessage
	err    error
}

func (f *fakeToolCaller) CallToolVia(ctx context.Context, publish func(types.PipelineEvent), sessionID, stage, serverID, tool string, args map[string]interface{}) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, toolCallRecord{server: serverID, tool: tool, args: args})
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	ev := types.NewEvent(types.EventToolHookPost, sessionID, stage)
	ev.ToolHook = &types.ToolHookPayload{Server: serverID, Tool: tool}
	publish(ev)
	return f.result, nil
}

func (f *fakeToolCaller) callRecords() []toolCallRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]toolCallRecord, len(f.calls))
	copy(out, f.calls)
	return out
}

// eventCollector records every published event thread-safely.
type eventCollector struct {
	mu   sync.Mutex
	seen []types.PipelineEvent
}

func (c *eventCollector) record(ev types.PipelineEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, ev)
}

func (c *eventCollector) all() []types.PipelineEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.PipelineEvent, len(c.seen))
	copy(out, c.seen)
	return out
}

func (c *eventCollector) ofKind(kind types.EventKind) []types.PipelineEvent {
	var out []types.PipelineEvent
	for _, ev := range c.all() {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// indexOf returns the position of the first event matching kind and stage,
// or -1.
func (c *eventCollector) indexOf(kind types.EventKind, stage string) int {
	for i, ev := range c.all() {
		if ev.Kind == kind && ev.Stage == stage {
			return i
		}
	}
	return -1
}

const testAgentsDoc = `{
  "agents": {
    "junior-dev": {"domains": ["implementation", "review"], "priority": 1},
    "senior-dev": {"domains": ["implementation", "review"], "priority": 5}
  },
  "selectionCriteria": {},
  "taskDomains": {"implementation": "Writing code", "review": "Reviewing code"}
}`

// harness composes the full pipeline stack over fakes and temp dirs.
type harness struct {
	provider *fakeProvider
	store    *session.FileStore
	bus      *events.Bus
	sched    *Scheduler
	orch     *Orchestrator
	events   *eventCollector
}

// writeTestPrompt writes a minimal prompt file producing a required `result`
// output.
func writeTestPrompt(t *testing.T, dir, id string, extraHeader string) {
	t.Helper()
	content := fmt.Sprintf(`---
id: %s
version: 1.0.0
category: test
%soutputs:
  - name: result
    type: string
    required: true
---
Do the work for %s.
`, id, extraHeader, id)
	name := filepath.Join(dir, id+".md")
	require.NoError(t, os.WriteFile(name, []byte(content), 0o644))
}

func newHarness(t *testing.T, promptIDs ...string) *harness {
	t.Helper()
	plain := make(map[string]string, len(promptIDs))
	for _, id := range promptIDs {
		plain[id] = ""
	}
	return newHarnessWith(t, plain)
}

// newHarnessWith maps prompt id to extra front-matter lines for that prompt.
func newHarnessWith(t *testing.T, promptHeaders map[string]string) *harness {
	t.Helper()
	return newHarnessTools(t, promptHeaders, nil)
}

// newHarnessTools additionally installs a tool caller on the scheduler.
func newHarnessTools(t *testing.T, promptHeaders map[string]string, tools ToolCaller) *harness {
	t.Helper()

	promptsDir := t.TempDir()
	for id, extra := range promptHeaders {
		writeTestPrompt(t, promptsDir, id, extra)
	}
	reg := prompts.NewRegistry(promptsDir, zap.NewNop())
	require.NoError(t, reg.Load())
	require.NoError(t, reg.ValidateGraph())

	agents := agent.NewRegistry(zap.NewNop())
	require.NoError(t, agents.Load([]byte(testAgentsDoc)))

	store, err := session.NewFileStore(context.Background(), t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	bus := events.NewBus(zap.NewNop())
	collector := &eventCollector{}
	bus.SubscribeAll(collector.record)

	provider := newFakeProvider()
	dispatcher, err := llm.NewDispatcher(llm.Config{
		Provider: provider,
		Bus:      bus,
		Logger:   zap.NewNop(),
	})
	require.NoError(t, err)

	sched, err := NewScheduler(SchedulerConfig{
		Prompts:    reg,
		Agents:     agents,
		Dispatcher: dispatcher,
		Store:      store,
		Bus:        bus,
		Tools:      tools,
		Logger:     zap.NewNop(),
	})
	require.NoError(t, err)

	orch, err := NewOrchestrator(OrchestratorConfig{
		Scheduler:  sched,
		Dispatcher: dispatcher,
		Store:      store,
		Bus:        bus,
		Logger:     zap.NewNop(),
	})
	require.NoError(t, err)

	return &harness{
		provider: provider,
		store:    store,
		bus:      bus,
		sched:    sched,
		orch:     orch,
		events:   collector,
	}
}

// okReply is a well-formed response satisfying the test prompt contract.
func okReply() fakeReply {
	return fakeReply{content: `{"result": "done"}`}
}

// fastRetry is a near-instant retry policy for tests.
func fastRetry(attempts int) *RetryPolicy {
	return &RetryPolicy{MaxAttempts: attempts, BackoffMs: 1, BackoffMultiplier: 1}
}

func simpleStage(name, promptID string) Stage {
	return Stage{
		Name:        name,
		PromptID:    promptID,
		Agent:       "junior-dev",
		Domain:      "implementation",
		RetryPolicy: fastRetry(1),
	}
}
