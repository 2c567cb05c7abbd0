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

// Package mcp manages external tool-server connections: configuration,
// availability probing, the two-tier approval cache, and the approval gate
// applied before any tool invocation.
package mcp

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines the configured tool servers.
type Config struct {
	// Servers maps server id to server configuration.
	Servers map[string]ServerConfig `yaml:"servers" json:"servers"`

	// ClientInfo provides implementation details sent to servers.
	ClientInfo ClientInfo `yaml:"client_info" json:"client_info"`
}

// ServerConfig defines the configuration for a single tool server.
type ServerConfig struct {
	// Enabled indicates whether this server may be used.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Transport specifies the transport type. Only "stdio" is supported.
	Transport string `yaml:"transport" json:"transport"`

	// Command is the executable to run for stdio transport.
	Command string `yaml:"command" json:"command"`

	// Args are the command-line arguments for the command.
	Args []string `yaml:"args" json:"args"`

	// Env are environment variables to set for the subprocess.
	Env map[string]string `yaml:"env" json:"env"`

	// Timeout for server operations (e.g., "30s", "1m").
	Timeout string `yaml:"timeout" json:"timeout"`
}

// ClientInfo provides implementation details sent to tool servers.
type ClientInfo struct {
	Name    string `yaml:"name" json:"name"`
	Version string `yaml:"version" json:"version"`
}

// Validate checks the configuration for errors. An empty server map is
// valid: lookups against unknown servers report not_configured at call time.
func (c *Config) Validate() error {
	for name, server := range c.Servers {
		if err := server.Validate(); err != nil {
			return fmt.Errorf("server %s: %w", name, err)
		}
	}
	return nil
}

// Validate checks the server configuration for errors.
func (s *ServerConfig) Validate() error {
	if !s.Enabled {
		return nil // Disabled servers don't need validation
	}

	if s.Transport == "" {
		s.Transport = "stdio" // Default
	}

	switch s.Transport {
	case "stdio":
		if s.Command == "" {
			return fmt.Errorf("command required for stdio transport")
		}
	default:
		return fmt.Errorf("invalid transport: %s (must be 'stdio')", s.Transport)
	}

	return nil
}

// OperationTimeout parses the configured timeout, defaulting to 30 seconds.
func (s *ServerConfig) OperationTimeout() (time.Duration, error) {
	if s.Timeout == "" {
		return 30 * time.Second, nil
	}
	d, err := time.ParseDuration(s.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout: %w", err)
	}
	return d, nil
}

// LoadConfigFile reads and validates a server configuration from a YAML
// file. A missing file yields the default (empty) configuration.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return Config{}, fmt.Errorf("failed to read mcp config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse mcp config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid mcp config %s: %w", path, err)
	}
	return cfg, nil
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		Servers: make(map[string]ServerConfig),
		ClientInfo: ClientInfo{
			Name:    "conductor",
			Version: "0.1.0",
		},
	}
}
