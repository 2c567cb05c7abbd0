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

// Package session persists the append-only event log of command invocations.
//
// The reference implementation writes one JSONL file per session with a
// SQLite sidecar index serving search and recency queries. External readers
// must go through the Store API; the log format is not a supported contract.
package session

import (
	"context"
	"time"

	"github.com/teradata-labs/conductor/pkg/types"
)

// Summary is the lightweight listing row for search and recency queries.
type Summary struct {
	ID           string             `json:"id"`
	Command      string             `json:"command"`
	State        types.SessionState `json:"state"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	PromptTokens int                `json:"prompt_tokens"`
	OutputTokens int                `json:"output_tokens"`
}

// Store is the session persistence contract.
type Store interface {
	// Create opens a new live session for a command invocation.
	Create(ctx context.Context, command string, args map[string]string) (*types.Session, error)

	// Append durably records one event. Appends to a terminal session fail
	// with ErrSessionTerminal. Appends are serialised per session.
	Append(ctx context.Context, sessionID string, ev types.PipelineEvent) error

	// SaveStageRecord upserts the rollup record for one stage.
	SaveStageRecord(ctx context.Context, sessionID string, rec *types.StageRecord) error

	// SetState transitions the session lifecycle state.
	SetState(ctx context.Context, sessionID string, state types.SessionState) error

	// Get loads the full session: metadata, stage records, and the replayed
	// event log.
	Get(ctx context.Context, sessionID string) (*types.Session, error)

	// Search matches sessions by id, command, or argument text.
	Search(ctx context.Context, query string) ([]Summary, error)

	// ListRecent returns the newest sessions first.
	ListRecent(ctx context.Context, limit int) ([]Summary, error)

	// Close releases open file handles and the index connection.
	Close() error
}
