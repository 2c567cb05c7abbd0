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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/conductor/internal/csync"
	"github.com/teradata-labs/conductor/pkg/types"
)

// FileStore is the reference Store: one append-only JSONL file per session
// under <root>/sessions, indexed by a SQLite sidecar for search and listing.
// Durability: Append returns only after the line is written and synced.
type FileStore struct {
	root   string
	index  *index
	logger *zap.Logger

	// One open append handle per live session. Appends are serialised per
	// session through perSession locks; within one orchestrator only one
	// writer exists per session anyway.
	files *csync.Map[string, *os.File]
	locks *csync.Map[string, *sync.Mutex]
}

// NewFileStore opens (or creates) a session store rooted at dir.
func NewFileStore(ctx context.Context, dir string, logger *zap.Logger) (*FileStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sessionsDir := filepath.Join(dir, "sessions")
	if err := os.MkdirAll(sessionsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sessions dir: %w", err)
	}

	idx, err := openIndex(ctx, filepath.Join(dir, "sessions.db"), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open session index: %w", err)
	}

	return &FileStore{
		root:   sessionsDir,
		index:  idx,
		logger: logger,
		files:  csync.NewMap[string, *os.File](),
		locks:  csync.NewMap[string, *sync.Mutex](),
	}, nil
}

// Create opens a new live session.
func (s *FileStore) Create(ctx context.Context, command string, args map[string]string) (*types.Session, error) {
	id := fmt.Sprintf("sess-%s", uuid.New().String()[:8])
	sess := types.NewSession(id, command, args)

	if err := s.index.insertSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to index session: %w", err)
	}

	// Touch the log file so Get works before the first append.
	f, err := s.openLog(id)
	if err != nil {
		return nil, err
	}
	_ = f

	s.logger.Info("Created session",
		zap.String("session_id", id),
		zap.String("command", command))
	return sess, nil
}

// Append durably writes one event line.
func (s *FileStore) Append(ctx context.Context, sessionID string, ev types.PipelineEvent) error {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	state, err := s.index.sessionState(ctx, sessionID)
	if err != nil {
		return err
	}
	if state.IsTerminal() {
		return types.NewError(types.ErrSessionTerminal, "session %s is %s; append refused", sessionID, state)
	}

	f, err := s.openLog(sessionID)
	if err != nil {
		return err
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync session log: %w", err)
	}

	// Index rollup may lag the log but never loses events: Get replays the
	// log file directly.
	if err := s.index.touchSession(ctx, sessionID, ev); err != nil {
		s.logger.Warn("Session index update lagged",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}
	return nil
}

// SaveStageRecord upserts the rollup record for one stage.
func (s *FileStore) SaveStageRecord(ctx context.Context, sessionID string, rec *types.StageRecord) error {
	return s.index.upsertStageRecord(ctx, sessionID, rec)
}

// SetState transitions the session lifecycle state.
func (s *FileStore) SetState(ctx context.Context, sessionID string, state types.SessionState) error {
	if err := s.index.setState(ctx, sessionID, state); err != nil {
		return err
	}
	if state.IsTerminal() {
		s.closeLog(sessionID)
	}
	return nil
}

// Get loads the session: index metadata plus the replayed event log.
func (s *FileStore) Get(ctx context.Context, sessionID string) (*types.Session, error) {
	sess, err := s.index.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	events, err := s.readLog(sessionID)
	if err != nil {
		return nil, err
	}
	sess.Events = events
	return sess, nil
}

// Search matches sessions by id, command, or argument text.
func (s *FileStore) Search(ctx context.Context, query string) ([]Summary, error) {
	return s.index.search(ctx, query)
}

// ListRecent returns the newest sessions first.
func (s *FileStore) ListRecent(ctx context.Context, limit int) ([]Summary, error) {
	return s.index.listRecent(ctx, limit)
}

// Reindex rebuilds the sidecar index from the log files. Stage records are
// derived from terminal stage events.
func (s *FileStore) Reindex(ctx context.Context) error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("failed to list session logs: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".log" {
			continue
		}
		id := entry.Name()[:len(entry.Name())-len(".log")]
		events, err := s.readLog(id)
		if err != nil {
			s.logger.Warn("Skipping unreadable session log",
				zap.String("session_id", id),
				zap.Error(err))
			continue
		}
		if err := s.index.rebuildFromEvents(ctx, id, events); err != nil {
			return fmt.Errorf("failed to reindex session %s: %w", id, err)
		}
	}
	return nil
}

// Close releases open file handles and the index connection.
func (s *FileStore) Close() error {
	for _, id := range s.files.Keys() {
		s.closeLog(id)
	}
	return s.index.close()
}

func (s *FileStore) lockFor(sessionID string) *sync.Mutex {
	if lock, ok := s.locks.Get(sessionID); ok {
		return lock
	}
	lock := &sync.Mutex{}
	s.locks.Set(sessionID, lock)
	return lock
}

func (s *FileStore) logPath(sessionID string) string {
	return filepath.Join(s.root, sessionID+".log")
}

func (s *FileStore) openLog(sessionID string) (*os.File, error) {
	if f, ok := s.files.Get(sessionID); ok {
		return f, nil
	}
	f, err := os.OpenFile(s.logPath(sessionID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open session log: %w", err)
	}
	s.files.Set(sessionID, f)
	return f, nil
}

func (s *FileStore) closeLog(sessionID string) {
	if f, ok := s.files.Get(sessionID); ok {
		_ = f.Close()
		s.files.Delete(sessionID)
	}
}

func (s *FileStore) readLog(sessionID string) ([]types.PipelineEvent, error) {
	f, err := os.Open(s.logPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.NewError(types.ErrSessionNotFound, "session log not found: %s", sessionID)
		}
		return nil, fmt.Errorf("failed to open session log: %w", err)
	}
	defer f.Close()

	var events []types.PipelineEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev types.PipelineEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("corrupt session log %s: %w", sessionID, err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read session log: %w", err)
	}
	return events, nil
}
