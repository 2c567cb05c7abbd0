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
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/conductor/pkg/events"
	"github.com/teradata-labs/conductor/pkg/types"
)

// Availability is the probe result for one configured server.
type Availability string

const (
	AvailabilityReady            Availability = "ready"
	AvailabilityNotConfigured    Availability = "not_configured"
	AvailabilityNotInstalled     Availability = "not_installed"
	AvailabilityDisabled         Availability = "disabled"
	AvailabilityConnectionFailed Availability = "connection_failed"
)

// ApprovalPrompter asks the user whether a tool server may be used. The
// calling stage suspends until the decision is returned.
type ApprovalPrompter func(ctx context.Context, serverID string) (approved bool, kind MemoryKind, err error)

// headlessModeEnv suppresses approval prompting when set to "true": calls
// without a cached approval are blocked instead of prompting.
const headlessModeEnv = "MCP_MODE"

// ClientManager maintains the registry of configured tool servers and a pool
// of live connections, and applies the approval gate before permitting calls.
type ClientManager struct {
	config    Config
	approvals *ApprovalCache
	bus       *events.Bus
	logger    *zap.Logger

	mu       sync.Mutex
	conns    map[string]*stdioConn
	connErrs map[string]error
	prompter ApprovalPrompter
}

// NewClientManager creates a manager over a validated configuration.
func NewClientManager(config Config, approvals *ApprovalCache, bus *events.Bus, logger *zap.Logger) (*ClientManager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClientManager{
		config:    config,
		approvals: approvals,
		bus:       bus,
		logger:    logger,
		conns:     make(map[string]*stdioConn),
		connErrs:  make(map[string]error),
	}, nil
}

// SetApprovalPrompter installs the interactive approval callback.
func (m *ClientManager) SetApprovalPrompter(p ApprovalPrompter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompter = p
}

// CheckAvailability probes one server without connecting. A previously
// failed connection attempt is reported until the manager is reset.
func (m *ClientManager) CheckAvailability(serverID string) Availability {
	cfg, ok := m.config.Servers[serverID]
	if !ok {
		return AvailabilityNotConfigured
	}
	if !cfg.Enabled {
		return AvailabilityDisabled
	}
	if _, err := exec.LookPath(cfg.Command); err != nil {
		return AvailabilityNotInstalled
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.connErrs[serverID]; err != nil {
		return AvailabilityConnectionFailed
	}
	return AvailabilityReady
}

// CheckAll probes every configured server with bounded concurrency and
// returns the availability keyed by server id.
func (m *ClientManager) CheckAll(ctx context.Context) map[string]Availability {
	const maxProbes = 4

	results := make(map[string]Availability, len(m.config.Servers))
	var resultsMu sync.Mutex

	sem := make(chan struct{}, maxProbes)
	var wg sync.WaitGroup
	for id := range m.config.Servers {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			avail := m.CheckAvailability(id)
			resultsMu.Lock()
			results[id] = avail
			resultsMu.Unlock()
		}(id)
	}
	wg.Wait()
	return results
}

// CallTool invokes one tool on a server, gated by availability and approval.
// Emits ToolHookTriggered before the approval check, ToolHookBlocked when the
// call is denied, and ToolHookPost on success.
func (m *ClientManager) CallTool(ctx context.Context, sessionID, stage, serverID, tool string, args map[string]interface{}) (json.RawMessage, error) {
	return m.CallToolVia(ctx, m.bus.Publish, sessionID, stage, serverID, tool, args)
}

// CallToolVia is CallTool with the hook events routed through publish, for
// callers that buffer a stage's event narrative instead of publishing
// straight to the bus.
func (m *ClientManager) CallToolVia(ctx context.Context, publish func(types.PipelineEvent), sessionID, stage, serverID, tool string, args map[string]interface{}) (json.RawMessage, error) {
	switch avail := m.CheckAvailability(serverID); avail {
	case AvailabilityReady:
	case AvailabilityNotConfigured:
		return nil, types.NewError(types.ErrMCPServerNotConfigured, "server %s is not configured", serverID)
	default:
		return nil, types.NewError(types.ErrMCPServerUnavailable, "server %s is %s", serverID, avail)
	}

	entry, err := m.ensureApproved(ctx, publish, sessionID, stage, serverID)
	if err != nil {
		return nil, err
	}
	if len(entry.AllowedTools) > 0 && !containsString(entry.AllowedTools, tool) {
		m.publishBlocked(publish, sessionID, stage, serverID, tool, fmt.Sprintf("tool %s not in allowed set", tool))
		return nil, types.NewError(types.ErrMCPApprovalDenied, "tool %s not approved on server %s", tool, serverID)
	}

	cfg := m.config.Servers[serverID]
	timeout, err := cfg.OperationTimeout()
	if err != nil {
		return nil, types.WrapError(types.ErrMCPServerNotConfigured, err, "server %s", serverID)
	}

	conn, err := m.connect(ctx, serverID, cfg)
	if err != nil {
		m.publishBlocked(publish, sessionID, stage, serverID, tool, err.Error())
		return nil, types.WrapError(types.ErrMCPServerUnavailable, err, "server %s connection failed", serverID)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := conn.call(callCtx, "tools/call", map[string]interface{}{
		"name":      tool,
		"arguments": args,
	})
	if err != nil {
		return nil, types.WrapError(types.ErrMCPServerUnavailable, err, "tool call %s/%s failed", serverID, tool)
	}

	ev := types.NewEvent(types.EventToolHookPost, sessionID, stage)
	ev.ToolHook = &types.ToolHookPayload{
		Server:     serverID,
		Tool:       tool,
		DurationMs: time.Since(start).Milliseconds(),
	}
	publish(ev)
	return result, nil
}

// ensureApproved consults the approval cache and, when no decision is
// cached, either prompts the user or blocks (headless mode). Denials are
// cached so the gate fails fast on repeat calls.
func (m *ClientManager) ensureApproved(ctx context.Context, publish func(types.PipelineEvent), sessionID, stage, serverID string) (ApprovalEntry, error) {
	if entry, ok := m.approvals.Lookup(serverID); ok {
		if entry.Approved {
			return entry, nil
		}
		m.publishBlocked(publish, sessionID, stage, serverID, "", "approval previously denied")
		return ApprovalEntry{}, types.NewError(types.ErrMCPApprovalDenied, "server %s was denied", serverID)
	}

	triggered := types.NewEvent(types.EventToolHookTriggered, sessionID, stage)
	triggered.ToolHook = &types.ToolHookPayload{Server: serverID, NeedsApproval: true}
	publish(triggered)

	if os.Getenv(headlessModeEnv) == "true" {
		m.publishBlocked(publish, sessionID, stage, serverID, "", "no cached approval in headless mode")
		return ApprovalEntry{}, types.NewError(types.ErrMCPApprovalDenied, "server %s has no cached approval and prompting is suppressed", serverID)
	}

	m.mu.Lock()
	prompter := m.prompter
	m.mu.Unlock()
	if prompter == nil {
		m.publishBlocked(publish, sessionID, stage, serverID, "", "no approval prompter installed")
		return ApprovalEntry{}, types.NewError(types.ErrMCPApprovalDenied, "server %s requires approval but no prompter is installed", serverID)
	}

	approved, kind, err := prompter(ctx, serverID)
	if err != nil {
		return ApprovalEntry{}, fmt.Errorf("approval prompt failed: %w", err)
	}
	if cacheErr := m.approvals.Cache(serverID, approved, kind, nil); cacheErr != nil {
		m.logger.Warn("Failed to cache approval decision",
			zap.String("server", serverID),
			zap.Error(cacheErr))
	}
	if !approved {
		m.publishBlocked(publish, sessionID, stage, serverID, "", "approval denied by user")
		return ApprovalEntry{}, types.NewError(types.ErrMCPApprovalDenied, "server %s denied by user", serverID)
	}
	return ApprovalEntry{ServerID: serverID, Approved: true, MemoryKind: kind}, nil
}

func (m *ClientManager) publishBlocked(publish func(types.PipelineEvent), sessionID, stage, serverID, tool, reason string) {
	ev := types.NewEvent(types.EventToolHookBlocked, sessionID, stage)
	ev.ToolHook = &types.ToolHookPayload{Server: serverID, Tool: tool, Reason: reason}
	publish(ev)
}

// connect returns the live connection for a server, dialing on first use.
func (m *ClientManager) connect(ctx context.Context, serverID string, cfg ServerConfig) (*stdioConn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conn, ok := m.conns[serverID]; ok {
		return conn, nil
	}
	if err := m.connErrs[serverID]; err != nil {
		return nil, err
	}

	conn, err := dialStdio(ctx, cfg, m.config.ClientInfo, m.logger.With(zap.String("server", serverID)))
	if err != nil {
		m.connErrs[serverID] = err
		return nil, err
	}
	m.conns[serverID] = conn
	return conn, nil
}

func containsString(slice []string, str string) bool {
	for _, s := range slice {
		if s == str {
			return true
		}
	}
	return false
}

// Close shuts down all live connections.
func (m *ClientManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, conn := range m.conns {
		conn.close()
		delete(m.conns, id)
	}
}
