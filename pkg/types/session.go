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
package types

import (
	"sync"
	"time"
)

// SessionState is the lifecycle state of a session.
type SessionState string

const (
	SessionLive      SessionState = "live"
	SessionAborting  SessionState = "aborting"
	SessionCompleted SessionState = "completed"
	SessionFailed    SessionState = "failed"
	SessionAborted   SessionState = "aborted"
)

// IsTerminal reports whether no further appends are permitted.
func (s SessionState) IsTerminal() bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionAborted
}

// StageState is the lifecycle state of a single stage within a session.
type StageState string

const (
	StagePending   StageState = "pending"
	StageRunning   StageState = "running"
	StageCompleted StageState = "completed"
	StageFailed    StageState = "failed"
	StageSkipped   StageState = "skipped"
)

// StageRecord captures the final disposition of one stage.
type StageRecord struct {
	Name         string                 `json:"name"`
	Agent        string                 `json:"agent"`
	PromptID     string                 `json:"prompt_id"`
	State        StageState             `json:"state"`
	StartedAt    time.Time              `json:"started_at,omitempty"`
	EndedAt      time.Time              `json:"ended_at,omitempty"`
	Attempts     int                    `json:"attempts"`
	Output       map[string]interface{} `json:"output,omitempty"`
	RawResponse  string                 `json:"raw_response,omitempty"`
	PromptTokens int                    `json:"prompt_tokens"`
	OutputTokens int                    `json:"output_tokens"`
	ErrorKind    ErrorKind              `json:"error_kind,omitempty"`
	Error        string                 `json:"error,omitempty"`
}

// Session is the append-only record of a single command invocation.
// Thread-safe: all methods can be called concurrently. The scheduler borrows
// the session for the duration of a run; the SessionStore owns persistence.
type Session struct {
	mu sync.RWMutex

	// ID is the opaque session identifier.
	ID string `json:"id"`

	// Command is the command name this session executes.
	Command string `json:"command"`

	// Args are the command invocation arguments.
	Args map[string]string `json:"args,omitempty"`

	// State is the lifecycle state. Once terminal, appends are refused.
	State SessionState `json:"state"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Events is the ordered event log, monotonic by timestamp.
	Events []PipelineEvent `json:"events,omitempty"`

	// Stages maps stage name to its record.
	Stages map[string]*StageRecord `json:"stages,omitempty"`

	// Cumulative token counters across all LLM responses.
	PromptTokens int `json:"prompt_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// NewSession creates a live session.
func NewSession(id, command string, args map[string]string) *Session {
	now := time.Now()
	return &Session{
		ID:        id,
		Command:   command,
		Args:      args,
		State:     SessionLive,
		CreatedAt: now,
		UpdatedAt: now,
		Stages:    make(map[string]*StageRecord),
	}
}

// AppendEvent adds an event to the in-memory log and updates token counters.
// Returns false when the session is terminal.
func (s *Session) AppendEvent(ev PipelineEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State.IsTerminal() {
		return false
	}

	s.Events = append(s.Events, ev)
	s.UpdatedAt = time.Now()

	if ev.Kind == EventLLMResponse && ev.LLM != nil {
		s.PromptTokens += ev.LLM.PromptTokens
		s.OutputTokens += ev.LLM.OutputTokens
	}
	return true
}

// EventLog returns a copy of the event log.
func (s *Session) EventLog() []PipelineEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := make([]PipelineEvent, len(s.Events))
	copy(events, s.Events)
	return events
}

// SetStageRecord stores or replaces a stage record.
func (s *Session) SetStageRecord(rec *StageRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Stages == nil {
		s.Stages = make(map[string]*StageRecord)
	}
	s.Stages[rec.Name] = rec
	s.UpdatedAt = time.Now()
}

// StageRecordFor returns a copy of the record for a stage, if present.
func (s *Session) StageRecordFor(name string) (StageRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.Stages[name]
	if !ok {
		return StageRecord{}, false
	}
	return *rec, true
}

// CompletedStages returns the names of stages that reached StageCompleted.
func (s *Session) CompletedStages() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	done := make(map[string]bool)
	for name, rec := range s.Stages {
		if rec.State == StageCompleted {
			done[name] = true
		}
	}
	return done
}

// CurrentState returns the lifecycle state.
func (s *Session) CurrentState() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.State
}

// SetState transitions the lifecycle state. Transitions out of a terminal
// state are refused.
func (s *Session) SetState(state SessionState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State.IsTerminal() {
		return false
	}
	s.State = state
	s.UpdatedAt = time.Now()
	return true
}

// TokenTotals returns the cumulative prompt and output token counts.
func (s *Session) TokenTotals() (prompt, output int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.PromptTokens, s.OutputTokens
}
