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

// Package agent maps role names to capability records and answers
// "best agent for domain + criteria" queries.
package agent

import (
	"encoding/json"
	"os"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/teradata-labs/conductor/pkg/types"
)

// Capability describes what one agent role can do.
type Capability struct {
	Role              string   `json:"role"`
	Domains           []string `json:"domains"`
	SelectionCriteria []string `json:"selectionCriteria"`
	Priority          int      `json:"priority"`
}

// registryDocument is the on-disk shape: role -> capability plus two sibling
// description maps.
type registryDocument struct {
	Agents            map[string]Capability `json:"agents"`
	SelectionCriteria map[string]string     `json:"selectionCriteria"`
	TaskDomains       map[string]string     `json:"taskDomains"`
}

// Registry answers agent selection queries from a loaded capability document.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Capability
	loaded bool
	logger *zap.Logger
}

// NewRegistry creates an empty agent registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{logger: logger}
}

// LoadFile loads the registry document from a JSON file.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.WrapError(types.ErrRegistryNotInitialised, err, "failed to read agent registry %s", path)
	}
	return r.Load(data)
}

// Load parses and installs a registry document. Roles that reference unknown
// domains or criteria produce warnings, not errors, so the document can
// evolve additively.
func (r *Registry) Load(data []byte) error {
	var doc registryDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return types.WrapError(types.ErrRegistryNotInitialised, err, "invalid agent registry document")
	}

	agents := make(map[string]Capability, len(doc.Agents))
	for role, cap := range doc.Agents {
		cap.Role = role
		for _, d := range cap.Domains {
			if _, ok := doc.TaskDomains[d]; !ok && len(doc.TaskDomains) > 0 {
				r.logger.Warn("Agent references unknown task domain",
					zap.String("role", role),
					zap.String("domain", d))
			}
		}
		for _, c := range cap.SelectionCriteria {
			if _, ok := doc.SelectionCriteria[c]; !ok && len(doc.SelectionCriteria) > 0 {
				r.logger.Warn("Agent references unknown selection criterion",
					zap.String("role", role),
					zap.String("criterion", c))
			}
		}
		agents[role] = cap
	}

	r.mu.Lock()
	r.agents = agents
	r.loaded = true
	r.mu.Unlock()

	r.logger.Info("Loaded agent registry", zap.Int("agents", len(agents)))
	return nil
}

// Get returns the capability record for a role.
func (r *Registry) Get(role string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cap, ok := r.agents[role]
	return cap, ok
}

// Roles returns all known role names, sorted.
func (r *Registry) Roles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roles := make([]string, 0, len(r.agents))
	for role := range r.agents {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}

// FindBestAgent returns the best role for a domain, ranked by count of
// matched criteria and then by descending priority. Returns empty string when
// no agent covers the domain.
func (r *Registry) FindBestAgent(domain string, criteria []string) (string, error) {
	return r.findBest(domain, criteria, "")
}

// FindEscalationAgent returns the highest-priority role for a domain whose
// priority strictly exceeds the current role's. Used when a stage escalates
// to a stronger agent.
func (r *Registry) FindEscalationAgent(domain, currentRole string) (string, error) {
	r.mu.RLock()
	current, hasCurrent := r.agents[currentRole]
	r.mu.RUnlock()

	role, err := r.findBest(domain, nil, currentRole)
	if err != nil || role == "" {
		return role, err
	}
	if hasCurrent {
		if cap, _ := r.Get(role); cap.Priority <= current.Priority {
			return "", nil
		}
	}
	return role, nil
}

func (r *Registry) findBest(domain string, criteria []string, exclude string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.loaded {
		return "", types.NewError(types.ErrRegistryNotInitialised, "agent registry queried before load")
	}

	type candidate struct {
		role       string
		matchCount int
		priority   int
	}
	var candidates []candidate

	for role, cap := range r.agents {
		if role == exclude {
			continue
		}
		if !containsString(cap.Domains, domain) {
			continue
		}
		match := 0
		for _, c := range criteria {
			if containsString(cap.SelectionCriteria, c) {
				match++
			}
		}
		candidates = append(candidates, candidate{role: role, matchCount: match, priority: cap.Priority})
	}

	if len(candidates) == 0 {
		return "", nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].matchCount != candidates[j].matchCount {
			return candidates[i].matchCount > candidates[j].matchCount
		}
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority > candidates[j].priority
		}
		return candidates[i].role < candidates[j].role
	})
	return candidates[0].role, nil
}

func containsString(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
