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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teradata-labs/conductor/pkg/events"
	"github.com/teradata-labs/conductor/pkg/types"
)

func testManager(t *testing.T, config Config) (*ClientManager, *events.Bus, *ApprovalCache) {
	t.Helper()
	bus := events.NewBus(zap.NewNop())
	approvals := NewApprovalCache(t.TempDir(), zap.NewNop())
	mgr, err := NewClientManager(config, approvals, bus, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(mgr.Close)
	return mgr, bus, approvals
}

func collectToolHookEvents(bus *events.Bus) *[]types.PipelineEvent {
	var seen []types.PipelineEvent
	bus.SubscribeAll(func(ev types.PipelineEvent) {
		seen = append(seen, ev)
	})
	return &seen
}

func TestServerConfig_Validate(t *testing.T) {
	cfg := ServerConfig{Enabled: true, Command: "gh-mcp"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "stdio", cfg.Transport)

	missing := ServerConfig{Enabled: true, Transport: "stdio"}
	assert.Error(t, missing.Validate())

	unsupported := ServerConfig{Enabled: true, Transport: "sse", Command: "x"}
	assert.Error(t, unsupported.Validate())

	// Disabled servers skip validation entirely.
	disabled := ServerConfig{Enabled: false}
	assert.NoError(t, disabled.Validate())
}

func TestClientManager_CheckAvailability(t *testing.T) {
	mgr, _, _ := testManager(t, Config{Servers: map[string]ServerConfig{
		"disabled-srv":  {Enabled: false, Command: "whatever"},
		"missing-bin":   {Enabled: true, Command: "definitely-not-on-path-xyz"},
		"installed-srv": {Enabled: true, Command: "sh"},
	}})

	assert.Equal(t, AvailabilityNotConfigured, mgr.CheckAvailability("unknown"))
	assert.Equal(t, AvailabilityDisabled, mgr.CheckAvailability("disabled-srv"))
	assert.Equal(t, AvailabilityNotInstalled, mgr.CheckAvailability("missing-bin"))
	assert.Equal(t, AvailabilityReady, mgr.CheckAvailability("installed-srv"))
}

func TestClientManager_CheckAll(t *testing.T) {
	mgr, _, _ := testManager(t, Config{Servers: map[string]ServerConfig{
		"disabled-srv":  {Enabled: false, Command: "whatever"},
		"missing-bin":   {Enabled: true, Command: "definitely-not-on-path-xyz"},
		"installed-srv": {Enabled: true, Command: "sh"},
	}})

	results := mgr.CheckAll(context.Background())
	assert.Equal(t, map[string]Availability{
		"disabled-srv":  AvailabilityDisabled,
		"missing-bin":   AvailabilityNotInstalled,
		"installed-srv": AvailabilityReady,
	}, results)
}

func TestClientManager_CallTool_UnconfiguredServer(t *testing.T) {
	mgr, _, _ := testManager(t, DefaultConfig())

	_, err := mgr.CallTool(context.Background(), "sess-1", "plan", "ghost", "run", nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrMCPServerNotConfigured, types.KindOf(err))
}

func TestClientManager_CallTool_UnavailableServer(t *testing.T) {
	mgr, _, _ := testManager(t, Config{Servers: map[string]ServerConfig{
		"missing-bin": {Enabled: true, Command: "definitely-not-on-path-xyz"},
	}})

	_, err := mgr.CallTool(context.Background(), "sess-1", "plan", "missing-bin", "run", nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrMCPServerUnavailable, types.KindOf(err))
}

func TestClientManager_HeadlessModeBlocksWithoutCachedApproval(t *testing.T) {
	t.Setenv(headlessModeEnv, "true")

	mgr, bus, _ := testManager(t, Config{Servers: map[string]ServerConfig{
		"srv": {Enabled: true, Command: "sh"},
	}})
	seen := collectToolHookEvents(bus)

	_, err := mgr.CallTool(context.Background(), "sess-1", "plan", "srv", "run", nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrMCPApprovalDenied, types.KindOf(err))

	require.Len(t, *seen, 2)
	assert.Equal(t, types.EventToolHookTriggered, (*seen)[0].Kind)
	assert.True(t, (*seen)[0].ToolHook.NeedsApproval)
	assert.Equal(t, types.EventToolHookBlocked, (*seen)[1].Kind)
}

func TestClientManager_PrompterDenialCachedAndBlocked(t *testing.T) {
	mgr, bus, approvals := testManager(t, Config{Servers: map[string]ServerConfig{
		"srv": {Enabled: true, Command: "sh"},
	}})
	seen := collectToolHookEvents(bus)

	prompts := 0
	mgr.SetApprovalPrompter(func(ctx context.Context, serverID string) (bool, MemoryKind, error) {
		prompts++
		return false, MemorySession, nil
	})

	_, err := mgr.CallTool(context.Background(), "sess-1", "plan", "srv", "run", nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrMCPApprovalDenied, types.KindOf(err))
	assert.Equal(t, 1, prompts)

	// The denial is cached: a second call blocks without re-prompting.
	_, err = mgr.CallTool(context.Background(), "sess-1", "plan", "srv", "run", nil)
	require.Error(t, err)
	assert.Equal(t, 1, prompts)

	entry, ok := approvals.Lookup("srv")
	require.True(t, ok)
	assert.False(t, entry.Approved)

	var blocked int
	for _, ev := range *seen {
		if ev.Kind == types.EventToolHookBlocked {
			blocked++
		}
	}
	assert.Equal(t, 2, blocked)
}

func TestClientManager_AllowedToolsEnforced(t *testing.T) {
	mgr, bus, approvals := testManager(t, Config{Servers: map[string]ServerConfig{
		"srv": {Enabled: true, Command: "sh"},
	}})
	seen := collectToolHookEvents(bus)

	require.NoError(t, approvals.Cache("srv", true, MemorySession, []string{"read_file"}))

	_, err := mgr.CallTool(context.Background(), "sess-1", "plan", "srv", "delete_repo", nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrMCPApprovalDenied, types.KindOf(err))

	require.Len(t, *seen, 1)
	assert.Equal(t, types.EventToolHookBlocked, (*seen)[0].Kind)
	assert.Equal(t, "delete_repo", (*seen)[0].ToolHook.Tool)
}

func TestClientManager_CallToolViaRoutesEventsThroughPublish(t *testing.T) {
	t.Setenv(headlessModeEnv, "true")

	mgr, bus, _ := testManager(t, Config{Servers: map[string]ServerConfig{
		"srv": {Enabled: true, Command: "sh"},
	}})
	busSeen := collectToolHookEvents(bus)

	var sunk []types.PipelineEvent
	publish := func(ev types.PipelineEvent) { sunk = append(sunk, ev) }

	_, err := mgr.CallToolVia(context.Background(), publish, "sess-1", "plan", "srv", "run", nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrMCPApprovalDenied, types.KindOf(err))

	// The caller's publish func owns the hook narrative; the bus sees none.
	assert.Empty(t, *busSeen)
	require.Len(t, sunk, 2)
	assert.Equal(t, types.EventToolHookTriggered, sunk[0].Kind)
	assert.Equal(t, types.EventToolHookBlocked, sunk[1].Kind)
}

func TestClientManager_NoPrompterBlocks(t *testing.T) {
	mgr, _, _ := testManager(t, Config{Servers: map[string]ServerConfig{
		"srv": {Enabled: true, Command: "sh"},
	}})

	_, err := mgr.CallTool(context.Background(), "sess-1", "plan", "srv", "run", nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrMCPApprovalDenied, types.KindOf(err))
}
