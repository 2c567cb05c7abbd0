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
	"sync"

	"github.com/teradata-labs/conductor/pkg/types"
)

// Default utilisation thresholds. At the warn threshold a StageProgress
// warning is emitted; at the hard threshold further dispatches for the
// session are refused until utilisation drops.
const (
	DefaultWarnUtilisation = 0.70
	DefaultHardUtilisation = 0.85
)

// ModelContextLimits defines the context window and output reservation for a model.
type ModelContextLimits struct {
	MaxContextTokens     int // Total context window size
	ReservedOutputTokens int // Tokens reserved for model output (typically 10%)
}

// modelContextLimits is a lookup table for known model context limits.
// Models are keyed by their base name (without version/variant suffixes).
var modelContextLimits = map[string]ModelContextLimits{
	// Anthropic Claude models
	"claude-sonnet-4":   {MaxContextTokens: 200000, ReservedOutputTokens: 20000},
	"claude-3-5-sonnet": {MaxContextTokens: 200000, ReservedOutputTokens: 20000},
	"claude-3-opus":     {MaxContextTokens: 200000, ReservedOutputTokens: 20000},
	"claude-3-haiku":    {MaxContextTokens: 200000, ReservedOutputTokens: 20000},

	// OpenAI models (for reference)
	"gpt-4-turbo":   {MaxContextTokens: 128000, ReservedOutputTokens: 12800},
	"gpt-4":         {MaxContextTokens: 8192, ReservedOutputTokens: 819},
	"gpt-3.5-turbo": {MaxContextTokens: 16385, ReservedOutputTokens: 1638},

	// Local models (conservative)
	"llama3.1": {MaxContextTokens: 128000, ReservedOutputTokens: 12800},
	"mistral":  {MaxContextTokens: 32000, ReservedOutputTokens: 3200},
}

// LookupModelLimits returns the context limits for a model name, trying an
// exact match first and then the longest matching base-name prefix.
func LookupModelLimits(model string) *ModelContextLimits {
	if limits, ok := modelContextLimits[model]; ok {
		return &limits
	}

	var bestMatch string
	var bestLimits *ModelContextLimits
	for base, limits := range modelContextLimits {
		if len(model) >= len(base) && model[:len(base)] == base {
			if len(base) > len(bestMatch) {
				bestMatch = base
				limitsCopy := limits
				bestLimits = &limitsCopy
			}
		}
	}
	return bestLimits
}

// ResolveModelLimits returns the limits for a model, falling back to a
// conservative 200K/20K default for unknown models.
func ResolveModelLimits(model string) ModelContextLimits {
	if limits := LookupModelLimits(model); limits != nil {
		return *limits
	}
	return ModelContextLimits{MaxContextTokens: 200000, ReservedOutputTokens: 20000}
}

// ContextWindowState is the per-session rolling view of context utilisation
// for one model. Owned by the dispatcher; guarded so the pre-dispatch check
// and the post-response update do not race.
type ContextWindowState struct {
	mu sync.Mutex

	model  string
	limits ModelContextLimits

	warnThreshold float64
	hardThreshold float64

	promptTokensInFlight int
	outputTokensTotal    int

	// warned tracks whether the warn threshold has been crossed, so the
	// warning fires once per crossing rather than on every dispatch.
	warned bool
}

// NewContextWindowState creates the rolling window view for one model.
// Threshold arguments of zero select the defaults.
func NewContextWindowState(model string, warnThreshold, hardThreshold float64) *ContextWindowState {
	if warnThreshold <= 0 {
		warnThreshold = DefaultWarnUtilisation
	}
	if hardThreshold <= 0 {
		hardThreshold = DefaultHardUtilisation
	}
	return &ContextWindowState{
		model:         model,
		limits:        ResolveModelLimits(model),
		warnThreshold: warnThreshold,
		hardThreshold: hardThreshold,
	}
}

// Model returns the model this window tracks.
func (w *ContextWindowState) Model() string {
	return w.model
}

// WindowSize returns the total context window in tokens.
func (w *ContextWindowState) WindowSize() int {
	return w.limits.MaxContextTokens
}

// Utilisation returns the current utilisation fraction.
func (w *ContextWindowState) Utilisation() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.utilisationLocked()
}

func (w *ContextWindowState) utilisationLocked() float64 {
	return float64(w.promptTokensInFlight) / float64(w.limits.MaxContextTokens)
}

// CheckDispatch validates a dispatch before any provider call. Returns
// ErrContextOverflow when the estimated prompt plus the reserved output would
// not fit, or when session utilisation is at or beyond the hard threshold.
func (w *ContextWindowState) CheckDispatch(estimatedPromptTokens, reservedOutput int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if reservedOutput == 0 {
		reservedOutput = w.limits.ReservedOutputTokens
	}

	if estimatedPromptTokens+reservedOutput > w.limits.MaxContextTokens {
		return types.NewError(types.ErrContextOverflow,
			"estimated %d prompt tokens + %d reserved output exceed %s window of %d",
			estimatedPromptTokens, reservedOutput, w.model, w.limits.MaxContextTokens)
	}

	if w.utilisationLocked() >= w.hardThreshold {
		return types.NewError(types.ErrContextOverflow,
			"session context utilisation %.0f%% at or above hard stop %.0f%% for %s",
			w.utilisationLocked()*100, w.hardThreshold*100, w.model)
	}
	return nil
}

// RecordResponse updates the window after a provider response. Returns the
// new utilisation and whether the warn threshold was crossed by this update.
func (w *ContextWindowState) RecordResponse(promptTokens, outputTokens int) (utilisation float64, crossedWarn bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.promptTokensInFlight = promptTokens
	w.outputTokensTotal += outputTokens

	utilisation = w.utilisationLocked()
	if utilisation >= w.warnThreshold && !w.warned {
		w.warned = true
		crossedWarn = true
	} else if utilisation < w.warnThreshold {
		w.warned = false
	}
	return utilisation, crossedWarn
}

// OutputTokensTotal returns cumulative output tokens recorded on this window.
func (w *ContextWindowState) OutputTokensTotal() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.outputTokensTotal
}
