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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryKind controls how long an approval decision is remembered.
type MemoryKind string

const (
	MemoryAlwaysAsk  MemoryKind = "always_ask"
	MemorySession    MemoryKind = "session"
	MemoryPersistent MemoryKind = "persistent"
)

const (
	sessionApprovalTTL    = 8 * time.Hour
	persistentApprovalTTL = 30 * 24 * time.Hour
)

// ApprovalEntry records one user decision about a tool server. Denials are
// cached with the same precedence as grants so the user is not re-prompted.
type ApprovalEntry struct {
	ServerID     string     `json:"server_id"`
	Approved     bool       `json:"approved"`
	AllowedTools []string   `json:"allowed_tools,omitempty"`
	GrantedAt    time.Time  `json:"granted_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	MemoryKind   MemoryKind `json:"memory_kind"`
}

// Valid reports whether the entry is still in effect. A nil ExpiresAt means
// the entry never expires.
func (e *ApprovalEntry) Valid(now time.Time) bool {
	return e.ExpiresAt == nil || now.Before(*e.ExpiresAt)
}

// approvalFile is the on-disk shape of the persistent tier.
type approvalFile struct {
	SavedAt time.Time       `json:"saved_at"`
	Entries []ApprovalEntry `json:"entries"`
}

// ApprovalCache is the two-tier approval store: an in-memory session map
// cleared on process start, and a persistent map backed by
// <project>/.mcp-approvals.json loaded on first use.
type ApprovalCache struct {
	mu         sync.Mutex
	session    map[string]ApprovalEntry
	persistent map[string]ApprovalEntry
	loaded     bool

	path   string
	logger *zap.Logger
}

// NewApprovalCache creates an approval cache rooted at the project directory.
func NewApprovalCache(projectDir string, logger *zap.Logger) *ApprovalCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ApprovalCache{
		session: make(map[string]ApprovalEntry),
		path:    filepath.Join(projectDir, ".mcp-approvals.json"),
		logger:  logger,
	}
}

// Lookup returns the effective approval entry for a server, session tier
// first. Expired entries are treated as absent.
func (c *ApprovalCache) Lookup(serverID string) (ApprovalEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureLoaded()

	now := time.Now()
	if entry, ok := c.session[serverID]; ok && entry.Valid(now) {
		return entry, true
	}
	if entry, ok := c.persistent[serverID]; ok && entry.Valid(now) {
		return entry, true
	}
	return ApprovalEntry{}, false
}

// IsApproved reports whether the server has a live positive approval.
func (c *ApprovalCache) IsApproved(serverID string) bool {
	entry, ok := c.Lookup(serverID)
	return ok && entry.Approved
}

// Cache records a decision. always_ask decisions are not remembered.
func (c *ApprovalCache) Cache(serverID string, approved bool, kind MemoryKind, allowedTools []string) error {
	if kind == MemoryAlwaysAsk {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureLoaded()

	now := time.Now()
	entry := ApprovalEntry{
		ServerID:     serverID,
		Approved:     approved,
		AllowedTools: allowedTools,
		GrantedAt:    now,
		MemoryKind:   kind,
	}

	switch kind {
	case MemorySession:
		expires := now.Add(sessionApprovalTTL)
		entry.ExpiresAt = &expires
		c.session[serverID] = entry
		return nil
	case MemoryPersistent:
		expires := now.Add(persistentApprovalTTL)
		entry.ExpiresAt = &expires
		c.persistent[serverID] = entry
		return c.flushLocked()
	default:
		return fmt.Errorf("unknown memory kind: %s", kind)
	}
}

// Revoke removes the server's decision from both tiers.
func (c *ApprovalCache) Revoke(serverID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureLoaded()

	delete(c.session, serverID)
	if _, ok := c.persistent[serverID]; ok {
		delete(c.persistent, serverID)
		return c.flushLocked()
	}
	return nil
}

// RunCleanup prunes expired entries from both tiers and rewrites the
// persistent file when it shrank. Implements scheduler.CleanupScheduler.
func (c *ApprovalCache) RunCleanup(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureLoaded()

	now := time.Now()
	for id, entry := range c.session {
		if !entry.Valid(now) {
			delete(c.session, id)
		}
	}

	pruned := false
	for id, entry := range c.persistent {
		if !entry.Valid(now) {
			delete(c.persistent, id)
			pruned = true
		}
	}
	if !pruned {
		return nil
	}
	return c.flushLocked()
}

// ensureLoaded reads the persistent file on first use. A missing file is an
// empty cache; a corrupt file is logged and discarded rather than blocking
// the run.
func (c *ApprovalCache) ensureLoaded() {
	if c.loaded {
		return
	}
	c.loaded = true
	c.persistent = make(map[string]ApprovalEntry)

	data, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn("Failed to read approval file",
				zap.String("path", c.path),
				zap.Error(err))
		}
		return
	}

	var file approvalFile
	if err := json.Unmarshal(data, &file); err != nil {
		c.logger.Warn("Discarding corrupt approval file",
			zap.String("path", c.path),
			zap.Error(err))
		return
	}

	now := time.Now()
	for _, entry := range file.Entries {
		if entry.Valid(now) {
			c.persistent[entry.ServerID] = entry
		}
	}
}

// flushLocked writes the persistent tier via write-temp-and-rename.
func (c *ApprovalCache) flushLocked() error {
	entries := make([]ApprovalEntry, 0, len(c.persistent))
	for _, entry := range c.persistent {
		entries = append(entries, entry)
	}

	data, err := json.MarshalIndent(approvalFile{SavedAt: time.Now(), Entries: entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode approvals: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write approvals: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("failed to replace approvals: %w", err)
	}
	return nil
}
