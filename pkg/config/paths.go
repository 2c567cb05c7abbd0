// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package config locates the conductor data directory and its standard
// subdirectories. The CLI's config file, prompt tree, agent registry, and
// session store all default to paths under this root.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// GetDataDir returns the conductor data directory.
//
// Priority:
// 1. CONDUCTOR_DATA_DIR environment variable (if set and non-empty)
// 2. ~/.conductor (default)
//
// The returned path is always absolute. Tilde (~) is expanded and relative
// paths are resolved against the working directory. Reads os.Getenv directly
// because this runs during bootstrap, before the config file is located.
func GetDataDir() string {
	if dataDir := os.Getenv("CONDUCTOR_DATA_DIR"); dataDir != "" {
		return expandPath(dataDir)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".conductor"
	}
	return filepath.Join(homeDir, ".conductor")
}

// GetSubDir returns a subdirectory within the conductor data directory.
// Example: GetSubDir("prompts") returns ~/.conductor/prompts.
func GetSubDir(subdir string) string {
	return filepath.Join(GetDataDir(), subdir)
}

// expandPath expands ~ and resolves to an absolute path.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return absPath
}
