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

// Package prompts loads prompt definitions from a filesystem tree.
//
// Each prompt file opens with a YAML header block delimited by "---" lines,
// followed by the free-form prompt body:
//
//	---
//	id: review.validate-security
//	version: 1.2.0
//	category: review
//	agents: [security-reviewer]
//	dependencies:
//	  required: [review.collect-diff]
//	  optional: [review.prior-findings]
//	inputs:
//	  - name: diff
//	    type: string
//	    required: true
//	outputs:
//	  - name: findings
//	    type: array
//	    required: true
//	model_requirements:
//	  min_context: 100000
//	  recommended: [claude-sonnet-4]
//	tokens: {min: 800, avg: 2500, max: 6000}
//	---
//	Review the following diff for security issues...
//
// Loading is one-shot at startup; there is no hot reload.
package prompts

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/teradata-labs/conductor/pkg/types"
)

// headerFields are the recognised front-matter keys. Unknown keys are
// tolerated with a warning so the descriptor format can evolve additively.
var headerFields = map[string]bool{
	"id":                 true,
	"version":            true,
	"category":           true,
	"agents":             true,
	"dependencies":       true,
	"inputs":             true,
	"outputs":            true,
	"model_requirements": true,
	"tokens":             true,
}

// promptHeader mirrors the front-matter block of a prompt file.
type promptHeader struct {
	ID                string            `yaml:"id"`
	Version           string            `yaml:"version"`
	Category          string            `yaml:"category"`
	Agents            []string          `yaml:"agents"`
	Dependencies      Dependencies      `yaml:"dependencies"`
	Inputs            []InputParam      `yaml:"inputs"`
	Outputs           []OutputField     `yaml:"outputs"`
	ModelRequirements ModelRequirements `yaml:"model_requirements"`
	Tokens            TokenBudget       `yaml:"tokens"`
}

// Registry indexes prompt descriptors by id.
type Registry struct {
	mu      sync.RWMutex
	rootDir string
	prompts map[string]*Descriptor
	loaded  bool
	logger  *zap.Logger
}

// NewRegistry creates a registry rooted at a prompts directory.
func NewRegistry(rootDir string, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		rootDir: rootDir,
		prompts: make(map[string]*Descriptor),
		logger:  logger,
	}
}

// Load walks the prompts tree and indexes every descriptor. It then records
// which optional dependencies resolved. Called once at startup.
func (r *Registry) Load() error {
	loaded := make(map[string]*Descriptor)

	err := filepath.Walk(r.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".md" && ext != ".prompt" {
			return nil
		}

		desc, err := r.loadFile(path)
		if err != nil {
			return err
		}
		if _, dup := loaded[desc.ID]; dup {
			return types.NewError(types.ErrPromptMalformed, "duplicate prompt id %q in %s", desc.ID, path)
		}
		loaded[desc.ID] = desc
		return nil
	})
	if err != nil {
		if types.KindOf(err) != "" {
			return err
		}
		return types.WrapError(types.ErrPromptMalformed, err, "failed to load prompts from %s", r.rootDir)
	}

	// Record which optional dependencies are actually present.
	for _, desc := range loaded {
		for _, opt := range desc.Dependencies.Optional {
			if _, ok := loaded[opt]; ok {
				desc.AvailableOptional = append(desc.AvailableOptional, opt)
			}
		}
		sort.Strings(desc.AvailableOptional)
	}

	r.mu.Lock()
	r.prompts = loaded
	r.loaded = true
	r.mu.Unlock()

	r.logger.Info("Loaded prompt registry",
		zap.String("dir", r.rootDir),
		zap.Int("prompts", len(loaded)))
	return nil
}

// Resolve returns the descriptor for a prompt id.
func (r *Registry) Resolve(id string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.loaded {
		return nil, types.NewError(types.ErrRegistryNotInitialised, "prompt registry queried before load")
	}
	desc, ok := r.prompts[id]
	if !ok {
		return nil, types.NewError(types.ErrPromptNotFound, "prompt not found: %s", id)
	}
	return desc, nil
}

// ListByCategory returns descriptors in a category, sorted by id.
func (r *Registry) ListByCategory(category string) []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Descriptor
	for _, desc := range r.prompts {
		if desc.Category == category {
			out = append(out, desc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ValidateGraph rejects unresolved required dependencies and dependency
// cycles across the whole registry.
func (r *Registry) ValidateGraph() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.loaded {
		return types.NewError(types.ErrRegistryNotInitialised, "prompt registry queried before load")
	}

	for id, desc := range r.prompts {
		for _, dep := range desc.Dependencies.Required {
			if _, ok := r.prompts[dep]; !ok {
				return types.NewError(types.ErrPromptNotFound,
					"prompt %s requires unknown prompt %s", id, dep)
			}
		}
	}

	// Colouring DFS over required edges.
	const (
		white = 0
		grey  = 1
		black = 2
	)
	colour := make(map[string]int, len(r.prompts))

	var visit func(id string, trail []string) error
	visit = func(id string, trail []string) error {
		switch colour[id] {
		case grey:
			return types.NewError(types.ErrPromptCyclicDependency,
				"prompt dependency cycle: %s", strings.Join(append(trail, id), " -> "))
		case black:
			return nil
		}
		colour[id] = grey
		for _, dep := range r.prompts[id].Dependencies.Required {
			if err := visit(dep, append(trail, id)); err != nil {
				return err
			}
		}
		colour[id] = black
		return nil
	}

	ids := make([]string, 0, len(r.prompts))
	for id := range r.prompts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := visit(id, nil); err != nil {
			return err
		}
	}
	return nil
}

// loadFile parses one prompt file into a descriptor.
func (r *Registry) loadFile(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.WrapError(types.ErrPromptMalformed, err, "failed to read %s", path)
	}

	parts := strings.SplitN(string(data), "---", 3)
	if len(parts) < 3 {
		return nil, types.NewError(types.ErrPromptMalformed,
			"%s: expected front-matter header delimited by ---", path)
	}

	// First decode into a generic map to warn on unknown fields.
	var rawHeader map[string]interface{}
	if err := yaml.Unmarshal([]byte(parts[1]), &rawHeader); err != nil {
		return nil, types.WrapError(types.ErrPromptMalformed, err, "%s: invalid header", path)
	}
	for key := range rawHeader {
		if !headerFields[key] {
			r.logger.Warn("Ignoring unknown prompt header field",
				zap.String("file", path),
				zap.String("field", key))
		}
	}

	var header promptHeader
	if err := yaml.Unmarshal([]byte(parts[1]), &header); err != nil {
		return nil, types.WrapError(types.ErrPromptMalformed, err, "%s: invalid header", path)
	}
	if header.ID == "" {
		return nil, types.NewError(types.ErrPromptMalformed, "%s: missing prompt id", path)
	}

	desc := &Descriptor{
		ID:                header.ID,
		Version:           header.Version,
		Category:          header.Category,
		Agents:            header.Agents,
		Dependencies:      header.Dependencies,
		Inputs:            header.Inputs,
		Outputs:           header.Outputs,
		ModelRequirements: header.ModelRequirements,
		Tokens:            header.Tokens,
		Body:              strings.TrimSpace(parts[2]),
	}
	if err := desc.compileInputSchema(); err != nil {
		return nil, types.WrapError(types.ErrPromptMalformed, err, "%s: bad input declaration", path)
	}
	return desc, nil
}
