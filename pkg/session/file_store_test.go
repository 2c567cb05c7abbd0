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
package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teradata-labs/conductor/pkg/types"
)

func newTestStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewFileStore(context.Background(), dir, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, dir
}

func llmResponseEvent(sessionID, stage string, prompt, output int) types.PipelineEvent {
	ev := types.NewEvent(types.EventLLMResponse, sessionID, stage)
	ev.LLM = &types.LLMPayload{
		RequestID:    "req-1",
		Model:        "claude-sonnet-4",
		PromptTokens: prompt,
		OutputTokens: output,
	}
	return ev
}

func TestFileStore_CreateAppendGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, "fix-bug", map[string]string{"issue": "42"})
	require.NoError(t, err)
	assert.Regexp(t, `^sess-[0-9a-f]{8}$`, sess.ID)
	assert.Equal(t, types.SessionLive, sess.State)

	start := types.NewEvent(types.EventPipelineStart, sess.ID, "")
	start.Pipeline = &types.PipelinePayload{Command: "fix-bug", Args: map[string]string{"issue": "42"}}
	require.NoError(t, store.Append(ctx, sess.ID, start))
	require.NoError(t, store.Append(ctx, sess.ID, llmResponseEvent(sess.ID, "plan", 1200, 300)))

	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "fix-bug", got.Command)
	assert.Equal(t, map[string]string{"issue": "42"}, got.Args)
	require.Len(t, got.Events, 2)
	assert.Equal(t, types.EventPipelineStart, got.Events[0].Kind)
	assert.Equal(t, types.EventLLMResponse, got.Events[1].Kind)
	assert.Equal(t, 1200, got.PromptTokens)
	assert.Equal(t, 300, got.OutputTokens)
}

func TestFileStore_GetUnknownSession(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get(context.Background(), "sess-missing")
	require.Error(t, err)
	assert.Equal(t, types.ErrSessionNotFound, types.KindOf(err))
}

func TestFileStore_AppendToTerminalSessionRefused(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, "review", nil)
	require.NoError(t, err)
	require.NoError(t, store.SetState(ctx, sess.ID, types.SessionCompleted))

	err = store.Append(ctx, sess.ID, types.NewEvent(types.EventStageStart, sess.ID, "late"))
	require.Error(t, err)
	assert.Equal(t, types.ErrSessionTerminal, types.KindOf(err))
}

func TestFileStore_StageRecords(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, "fix-bug", nil)
	require.NoError(t, err)

	rec := &types.StageRecord{
		Name:     "plan",
		Agent:    "senior-dev",
		PromptID: "plan-change",
		State:    types.StageRunning,
	}
	require.NoError(t, store.SaveStageRecord(ctx, sess.ID, rec))

	// Upsert replaces the earlier record.
	rec.State = types.StageCompleted
	rec.Output = map[string]interface{}{"plan": "do the thing"}
	require.NoError(t, store.SaveStageRecord(ctx, sess.ID, rec))

	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Contains(t, got.Stages, "plan")
	assert.Equal(t, types.StageCompleted, got.Stages["plan"].State)
	assert.Equal(t, "do the thing", got.Stages["plan"].Output["plan"])
}

func TestFileStore_SearchAndListRecent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	a, err := store.Create(ctx, "fix-bug", map[string]string{"issue": "oauth timeout"})
	require.NoError(t, err)
	b, err := store.Create(ctx, "add-feature", nil)
	require.NoError(t, err)

	found, err := store.Search(ctx, "oauth")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, a.ID, found[0].ID)

	found, err = store.Search(ctx, "add-feature")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, b.ID, found[0].ID)

	recent, err := store.ListRecent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	recent, err = store.ListRecent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewFileStore(ctx, dir, zap.NewNop())
	require.NoError(t, err)
	sess, err := store.Create(ctx, "fix-bug", nil)
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, sess.ID, llmResponseEvent(sess.ID, "plan", 100, 50)))
	require.NoError(t, store.Close())

	reopened, err := NewFileStore(ctx, dir, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "fix-bug", got.Command)
	require.Len(t, got.Events, 1)
}

func TestFileStore_ReindexRebuildsFromLogs(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewFileStore(ctx, dir, zap.NewNop())
	require.NoError(t, err)

	sess, err := store.Create(ctx, "fix-bug", map[string]string{"issue": "7"})
	require.NoError(t, err)

	start := types.NewEvent(types.EventPipelineStart, sess.ID, "")
	start.Pipeline = &types.PipelinePayload{Command: "fix-bug", Args: map[string]string{"issue": "7"}}
	require.NoError(t, store.Append(ctx, sess.ID, start))
	require.NoError(t, store.Append(ctx, sess.ID, llmResponseEvent(sess.ID, "plan", 500, 120)))

	done := types.NewEvent(types.EventStageComplete, sess.ID, "plan")
	done.StageInfo = &types.StagePayload{
		Agent:    "senior-dev",
		PromptID: "plan-change",
		Attempt:  1,
		Output:   map[string]interface{}{"plan": "steps"},
	}
	require.NoError(t, store.Append(ctx, sess.ID, done))

	finish := types.NewEvent(types.EventPipelineComplete, sess.ID, "")
	finish.Pipeline = &types.PipelinePayload{Command: "fix-bug", Outcome: types.RunSuccess}
	require.NoError(t, store.Append(ctx, sess.ID, finish))
	require.NoError(t, store.Close())

	// Drop the sidecar; only the log files remain.
	require.NoError(t, os.Remove(filepath.Join(dir, "sessions.db")))

	rebuilt, err := NewFileStore(ctx, dir, zap.NewNop())
	require.NoError(t, err)
	defer rebuilt.Close()
	require.NoError(t, rebuilt.Reindex(ctx))

	got, err := rebuilt.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "fix-bug", got.Command)
	assert.Equal(t, types.SessionCompleted, got.State)
	assert.Equal(t, 500, got.PromptTokens)
	assert.Equal(t, 120, got.OutputTokens)
	require.Contains(t, got.Stages, "plan")
	assert.Equal(t, types.StageCompleted, got.Stages["plan"].State)
	assert.Equal(t, "senior-dev", got.Stages["plan"].Agent)

	summaries, err := rebuilt.Search(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, types.SessionCompleted, summaries[0].State)
}
