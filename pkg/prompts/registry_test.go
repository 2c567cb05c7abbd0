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
package prompts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teradata-labs/conductor/pkg/types"
)

func writePrompt(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

const planPrompt = `---
id: plan.analyze
version: 1.0.0
category: plan
agents: [architect]
inputs:
  - name: task
    type: string
    required: true
  - name: depth
    type: integer
    min: 1
    max: 5
outputs:
  - name: plan
    type: string
    required: true
model_requirements:
  min_context: 100000
  recommended: [claude-sonnet-4]
tokens: {min: 500, avg: 1200, max: 3000}
---
Analyze the task and produce a plan.
`

func TestRegistry_LoadAndResolve(t *testing.T) {
	dir := t.TempDir()
	writePrompt(t, dir, "plan/analyze.md", planPrompt)

	reg := NewRegistry(dir, zap.NewNop())
	require.NoError(t, reg.Load())

	desc, err := reg.Resolve("plan.analyze")
	require.NoError(t, err)
	assert.Equal(t, "plan", desc.Category)
	assert.Equal(t, []string{"architect"}, desc.Agents)
	assert.Equal(t, 100000, desc.ModelRequirements.MinContext)
	assert.Equal(t, 1200, desc.Tokens.Avg)
	assert.Contains(t, desc.Body, "produce a plan")
}

func TestRegistry_ResolveBeforeLoad(t *testing.T) {
	reg := NewRegistry(t.TempDir(), zap.NewNop())

	_, err := reg.Resolve("plan.analyze")
	require.Error(t, err)
	assert.Equal(t, types.ErrRegistryNotInitialised, types.KindOf(err))
}

func TestRegistry_NotFound(t *testing.T) {
	dir := t.TempDir()
	writePrompt(t, dir, "plan/analyze.md", planPrompt)

	reg := NewRegistry(dir, zap.NewNop())
	require.NoError(t, reg.Load())

	_, err := reg.Resolve("plan.missing")
	require.Error(t, err)
	assert.Equal(t, types.ErrPromptNotFound, types.KindOf(err))
}

func TestRegistry_ValidateGraph_UnresolvedRequired(t *testing.T) {
	dir := t.TempDir()
	writePrompt(t, dir, "review/security.md", `---
id: review.security
category: review
dependencies:
  required: [review.collect-diff]
---
Body.
`)

	reg := NewRegistry(dir, zap.NewNop())
	require.NoError(t, reg.Load())

	err := reg.ValidateGraph()
	require.Error(t, err)
	assert.Equal(t, types.ErrPromptNotFound, types.KindOf(err))
}

func TestRegistry_ValidateGraph_Cycle(t *testing.T) {
	dir := t.TempDir()
	writePrompt(t, dir, "a.md", "---\nid: a\ndependencies:\n  required: [b]\n---\nA.\n")
	writePrompt(t, dir, "b.md", "---\nid: b\ndependencies:\n  required: [a]\n---\nB.\n")

	reg := NewRegistry(dir, zap.NewNop())
	require.NoError(t, reg.Load())

	err := reg.ValidateGraph()
	require.Error(t, err)
	assert.Equal(t, types.ErrPromptCyclicDependency, types.KindOf(err))
}

func TestRegistry_OptionalDependencyRecorded(t *testing.T) {
	dir := t.TempDir()
	writePrompt(t, dir, "review/security.md", `---
id: review.security
dependencies:
  optional: [review.prior-findings, review.nonexistent]
---
Body.
`)
	writePrompt(t, dir, "review/prior.md", "---\nid: review.prior-findings\n---\nPrior.\n")

	reg := NewRegistry(dir, zap.NewNop())
	require.NoError(t, reg.Load())
	require.NoError(t, reg.ValidateGraph())

	desc, err := reg.Resolve("review.security")
	require.NoError(t, err)
	assert.Equal(t, []string{"review.prior-findings"}, desc.AvailableOptional)
}

func TestRegistry_DuplicateID(t *testing.T) {
	dir := t.TempDir()
	writePrompt(t, dir, "one.md", "---\nid: dup\n---\nOne.\n")
	writePrompt(t, dir, "two.md", "---\nid: dup\n---\nTwo.\n")

	reg := NewRegistry(dir, zap.NewNop())
	err := reg.Load()
	require.Error(t, err)
	assert.Equal(t, types.ErrPromptMalformed, types.KindOf(err))
}

func TestRegistry_MalformedHeader(t *testing.T) {
	dir := t.TempDir()
	writePrompt(t, dir, "bad.md", "no front matter here")

	reg := NewRegistry(dir, zap.NewNop())
	err := reg.Load()
	require.Error(t, err)
	assert.Equal(t, types.ErrPromptMalformed, types.KindOf(err))
}

func TestDescriptor_ValidateInputs(t *testing.T) {
	dir := t.TempDir()
	writePrompt(t, dir, "plan/analyze.md", planPrompt)

	reg := NewRegistry(dir, zap.NewNop())
	require.NoError(t, reg.Load())
	desc, err := reg.Resolve("plan.analyze")
	require.NoError(t, err)

	require.NoError(t, desc.ValidateInputs(map[string]interface{}{
		"task":  "add logging",
		"depth": 3,
	}))

	err = desc.ValidateInputs(map[string]interface{}{"depth": 3})
	require.Error(t, err)
	assert.Equal(t, types.ErrStageInputInvalid, types.KindOf(err))

	err = desc.ValidateInputs(map[string]interface{}{"task": "x", "depth": 9})
	require.Error(t, err)
	assert.Equal(t, types.ErrStageInputInvalid, types.KindOf(err))
}

func TestDescriptor_ParseOutputs(t *testing.T) {
	dir := t.TempDir()
	writePrompt(t, dir, "plan/analyze.md", planPrompt)

	reg := NewRegistry(dir, zap.NewNop())
	require.NoError(t, reg.Load())
	desc, err := reg.Resolve("plan.analyze")
	require.NoError(t, err)

	out, err := desc.ParseOutputs(`{"plan": "1. do things"}`)
	require.NoError(t, err)
	assert.Equal(t, "1. do things", out["plan"])

	_, err = desc.ParseOutputs(`{"other": true}`)
	require.Error(t, err)
	assert.Equal(t, types.ErrResponseInvalid, types.KindOf(err))

	_, err = desc.ParseOutputs("not json")
	require.Error(t, err)
	assert.Equal(t, types.ErrResponseInvalid, types.KindOf(err))
}
