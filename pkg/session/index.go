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
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/teradata-labs/conductor/pkg/types"
)

// index is the SQLite sidecar serving search and recency queries.
// Uses WAL mode for concurrent read/write access.
type index struct {
	db     *sql.DB
	mu     sync.RWMutex
	logger *zap.Logger
}

func openIndex(ctx context.Context, dbPath string, logger *zap.Logger) (*index, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	idx := &index{db: db, logger: logger}
	if err := idx.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return idx, nil
}

func (x *index) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		command TEXT NOT NULL,
		args_json TEXT,
		state TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		prompt_tokens INTEGER DEFAULT 0,
		output_tokens INTEGER DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_command ON sessions(command);

	CREATE TABLE IF NOT EXISTS stage_records (
		session_id TEXT NOT NULL,
		name TEXT NOT NULL,
		record_json TEXT NOT NULL,
		PRIMARY KEY (session_id, name),
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	`
	_, err := x.db.ExecContext(ctx, schema)
	return err
}

func (x *index) insertSession(ctx context.Context, sess *types.Session) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	argsJSON, err := json.Marshal(sess.Args)
	if err != nil {
		return fmt.Errorf("failed to marshal args: %w", err)
	}

	_, err = x.db.ExecContext(ctx, `
		INSERT INTO sessions (id, command, args_json, state, created_at, updated_at, prompt_tokens, output_tokens)
		VALUES (?, ?, ?, ?, ?, ?, 0, 0)`,
		sess.ID, sess.Command, string(argsJSON), string(sess.State),
		sess.CreatedAt.UnixMilli(), sess.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (x *index) sessionState(ctx context.Context, id string) (types.SessionState, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	var state string
	err := x.db.QueryRowContext(ctx, `SELECT state FROM sessions WHERE id = ?`, id).Scan(&state)
	if err == sql.ErrNoRows {
		return "", types.NewError(types.ErrSessionNotFound, "session not found: %s", id)
	}
	if err != nil {
		return "", fmt.Errorf("failed to query session state: %w", err)
	}
	return types.SessionState(state), nil
}

// touchSession advances the rollup counters after an append.
func (x *index) touchSession(ctx context.Context, id string, ev types.PipelineEvent) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	promptDelta, outputDelta := 0, 0
	if ev.Kind == types.EventLLMResponse && ev.LLM != nil {
		promptDelta = ev.LLM.PromptTokens
		outputDelta = ev.LLM.OutputTokens
	}

	_, err := x.db.ExecContext(ctx, `
		UPDATE sessions
		SET updated_at = ?, prompt_tokens = prompt_tokens + ?, output_tokens = output_tokens + ?
		WHERE id = ?`,
		time.Now().UnixMilli(), promptDelta, outputDelta, id,
	)
	return err
}

func (x *index) setState(ctx context.Context, id string, state types.SessionState) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	res, err := x.db.ExecContext(ctx, `UPDATE sessions SET state = ?, updated_at = ? WHERE id = ?`,
		string(state), time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to update session state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewError(types.ErrSessionNotFound, "session not found: %s", id)
	}
	return nil
}

func (x *index) upsertStageRecord(ctx context.Context, sessionID string, rec *types.StageRecord) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	recJSON, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal stage record: %w", err)
	}

	_, err = x.db.ExecContext(ctx, `
		INSERT INTO stage_records (session_id, name, record_json) VALUES (?, ?, ?)
		ON CONFLICT(session_id, name) DO UPDATE SET record_json = excluded.record_json`,
		sessionID, rec.Name, string(recJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert stage record: %w", err)
	}
	return nil
}

func (x *index) loadSession(ctx context.Context, id string) (*types.Session, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	var (
		sess              types.Session
		argsJSON          sql.NullString
		state             string
		createdMs, updMs  int64
		promptT, outputT  int
	)
	err := x.db.QueryRowContext(ctx, `
		SELECT id, command, args_json, state, created_at, updated_at, prompt_tokens, output_tokens
		FROM sessions WHERE id = ?`, id).Scan(
		&sess.ID, &sess.Command, &argsJSON, &state, &createdMs, &updMs, &promptT, &outputT,
	)
	if err == sql.ErrNoRows {
		return nil, types.NewError(types.ErrSessionNotFound, "session not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}

	sess.State = types.SessionState(state)
	sess.CreatedAt = time.UnixMilli(createdMs)
	sess.UpdatedAt = time.UnixMilli(updMs)
	sess.PromptTokens = promptT
	sess.OutputTokens = outputT
	if argsJSON.Valid && argsJSON.String != "" {
		if err := json.Unmarshal([]byte(argsJSON.String), &sess.Args); err != nil {
			return nil, fmt.Errorf("corrupt session args: %w", err)
		}
	}

	sess.Stages = make(map[string]*types.StageRecord)
	rows, err := x.db.QueryContext(ctx, `SELECT record_json FROM stage_records WHERE session_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query stage records: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var recJSON string
		if err := rows.Scan(&recJSON); err != nil {
			return nil, err
		}
		var rec types.StageRecord
		if err := json.Unmarshal([]byte(recJSON), &rec); err != nil {
			return nil, fmt.Errorf("corrupt stage record: %w", err)
		}
		sess.Stages[rec.Name] = &rec
	}
	return &sess, rows.Err()
}

func (x *index) search(ctx context.Context, query string) ([]Summary, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	pattern := "%" + query + "%"
	rows, err := x.db.QueryContext(ctx, `
		SELECT id, command, state, created_at, updated_at, prompt_tokens, output_tokens
		FROM sessions
		WHERE id LIKE ? OR command LIKE ? OR args_json LIKE ?
		ORDER BY updated_at DESC`,
		pattern, pattern, pattern,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search sessions: %w", err)
	}
	defer rows.Close()
	return scanSummaries(rows)
}

func (x *index) listRecent(ctx context.Context, limit int) ([]Summary, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := x.db.QueryContext(ctx, `
		SELECT id, command, state, created_at, updated_at, prompt_tokens, output_tokens
		FROM sessions
		ORDER BY updated_at DESC
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()
	return scanSummaries(rows)
}

// rebuildFromEvents reconstructs the index rows for one session from its
// event log. Stage records are derived from terminal stage events.
func (x *index) rebuildFromEvents(ctx context.Context, id string, events []types.PipelineEvent) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	command := ""
	var args map[string]string
	state := types.SessionLive
	var createdAt, updatedAt time.Time
	promptTokens, outputTokens := 0, 0
	records := make(map[string]*types.StageRecord)

	for _, ev := range events {
		if createdAt.IsZero() {
			createdAt = ev.Timestamp
		}
		updatedAt = ev.Timestamp

		switch ev.Kind {
		case types.EventPipelineStart:
			if ev.Pipeline != nil {
				command = ev.Pipeline.Command
				args = ev.Pipeline.Args
			}
		case types.EventPipelineComplete:
			if ev.Pipeline != nil {
				switch ev.Pipeline.Outcome {
				case types.RunSuccess, types.RunPartial:
					state = types.SessionCompleted
				case types.RunFailure:
					state = types.SessionFailed
				case types.RunCancelled:
					state = types.SessionAborted
				}
			}
		case types.EventPipelineError:
			state = types.SessionFailed
			if ev.Pipeline != nil && ev.Pipeline.Reason == "cancelled" {
				state = types.SessionAborted
			}
		case types.EventLLMResponse:
			if ev.LLM != nil {
				promptTokens += ev.LLM.PromptTokens
				outputTokens += ev.LLM.OutputTokens
			}
		case types.EventStageComplete, types.EventStageError:
			rec := &types.StageRecord{Name: ev.Stage, EndedAt: ev.Timestamp}
			if ev.Kind == types.EventStageComplete {
				rec.State = types.StageCompleted
			} else {
				rec.State = types.StageFailed
			}
			if ev.StageInfo != nil {
				rec.Agent = ev.StageInfo.Agent
				rec.PromptID = ev.StageInfo.PromptID
				rec.Attempts = ev.StageInfo.Attempt
				rec.Output = ev.StageInfo.Output
				rec.ErrorKind = ev.StageInfo.ErrorKind
				rec.Error = ev.StageInfo.Error
			}
			records[ev.Stage] = rec
		}
	}

	argsJSON, err := json.Marshal(args)
	if err != nil {
		return err
	}

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (id, command, args_json, state, created_at, updated_at, prompt_tokens, output_tokens)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			command = excluded.command, args_json = excluded.args_json,
			state = excluded.state, updated_at = excluded.updated_at,
			prompt_tokens = excluded.prompt_tokens, output_tokens = excluded.output_tokens`,
		id, command, string(argsJSON), string(state),
		createdAt.UnixMilli(), updatedAt.UnixMilli(), promptTokens, outputTokens,
	); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM stage_records WHERE session_id = ?`, id); err != nil {
		return err
	}
	for _, rec := range records {
		recJSON, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO stage_records (session_id, name, record_json) VALUES (?, ?, ?)`,
			id, rec.Name, string(recJSON)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (x *index) close() error {
	return x.db.Close()
}

func scanSummaries(rows *sql.Rows) ([]Summary, error) {
	var out []Summary
	for rows.Next() {
		var (
			s                Summary
			state            string
			createdMs, updMs int64
		)
		if err := rows.Scan(&s.ID, &s.Command, &state, &createdMs, &updMs, &s.PromptTokens, &s.OutputTokens); err != nil {
			return nil, err
		}
		s.State = types.SessionState(state)
		s.CreatedAt = time.UnixMilli(createdMs)
		s.UpdatedAt = time.UnixMilli(updMs)
		out = append(out, s)
	}
	return out, rows.Err()
}
