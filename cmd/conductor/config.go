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
package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	conductorconfig "github.com/teradata-labs/conductor/pkg/config"
	"github.com/teradata-labs/conductor/pkg/scheduler"
)

// DefaultConfigFileName is the name of the config file
const DefaultConfigFileName = "conductor"

// Config holds all configuration for the conductor CLI.
// Priority: CLI flags > config file > env vars > defaults
type Config struct {
	// DataDir is the conductor data directory (computed from the
	// CONDUCTOR_DATA_DIR env var or ~/.conductor). It is not loaded from
	// the config file.
	DataDir string `mapstructure:"-"`

	// Prompts configuration (prompt registry root)
	Prompts PromptsConfig `mapstructure:"prompts"`

	// Agents configuration (capability registry)
	Agents AgentsConfig `mapstructure:"agents"`

	// Commands configuration (pipeline descriptor directory)
	Commands CommandsConfig `mapstructure:"commands"`

	// Sessions configuration (persistence root)
	Sessions SessionsConfig `mapstructure:"sessions"`

	// LLM provider configuration
	LLM LLMConfig `mapstructure:"llm"`

	// MCP configuration (external tool servers)
	MCP MCPConfig `mapstructure:"mcp"`

	// Cleanup configuration (maintenance cron)
	Cleanup CleanupConfig `mapstructure:"cleanup"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// PromptsConfig locates the versioned prompt tree.
type PromptsConfig struct {
	// Dir is the prompt registry root (default: $CONDUCTOR_DATA_DIR/prompts)
	Dir string `mapstructure:"dir"`
}

// AgentsConfig locates the agent capability registry.
type AgentsConfig struct {
	// File is the agent registry JSON file (default: $CONDUCTOR_DATA_DIR/agents.json)
	File string `mapstructure:"file"`
}

// CommandsConfig locates the command pipeline descriptors.
type CommandsConfig struct {
	// Dir holds one YAML descriptor per command (default: $CONDUCTOR_DATA_DIR/commands)
	Dir string `mapstructure:"dir"`
}

// SessionsConfig locates session persistence.
type SessionsConfig struct {
	// Dir is the session store root (default: $CONDUCTOR_DATA_DIR/sessions)
	Dir string `mapstructure:"dir"`
}

// LLMConfig holds LLM provider configuration.
type LLMConfig struct {
	// Provider selects the LLM backend (default: anthropic)
	Provider string `mapstructure:"provider"`

	// AnthropicAPIKey is the Anthropic API key (or ANTHROPIC_API_KEY env)
	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`

	// Model overrides the provider default model
	Model string `mapstructure:"model"`

	// Endpoint overrides the provider API endpoint
	Endpoint string `mapstructure:"endpoint"`

	// MaxTokens is the maximum output tokens per request (default: 4096)
	MaxTokens int `mapstructure:"max_tokens"`

	// TimeoutSeconds is the per-request HTTP timeout (default: 60)
	TimeoutSeconds int `mapstructure:"timeout_seconds"`

	// WarnThreshold is the context-window utilisation warning fraction
	// (default: 0.70)
	WarnThreshold float64 `mapstructure:"warn_threshold"`

	// HardThreshold is the context-window utilisation refusal fraction
	// (default: 0.85)
	HardThreshold float64 `mapstructure:"hard_threshold"`

	// SerialiseModels lists models whose requests must not overlap
	SerialiseModels []string `mapstructure:"serialise_models"`
}

// Timeout returns the per-request HTTP timeout.
func (c LLMConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// MCPConfig holds external tool-server configuration.
type MCPConfig struct {
	// ConfigFile is the tool-server YAML config (default: $CONDUCTOR_DATA_DIR/mcp.yaml)
	ConfigFile string `mapstructure:"config_file"`
}

// CleanupConfig holds maintenance cron configuration.
type CleanupConfig struct {
	// Spec is the cron line for scheduled cleanup (default: "0 3 * * *")
	Spec string `mapstructure:"spec"`

	// CycleTimeoutSeconds bounds one cleanup cycle (default: 600)
	CycleTimeoutSeconds int `mapstructure:"cycle_timeout_seconds"`
}

// CycleTimeout returns the cleanup cycle deadline.
func (c CleanupConfig) CycleTimeout() time.Duration {
	if c.CycleTimeoutSeconds <= 0 {
		return scheduler.DefaultCycleTimeout
	}
	return time.Duration(c.CycleTimeoutSeconds) * time.Second
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error)
	Level string `mapstructure:"level"`

	// Development selects console encoding instead of JSON
	Development bool `mapstructure:"development"`
}

// LoadConfig loads configuration from file, environment, and flags.
func LoadConfig(cfgFile string) (*Config, error) {
	setDefaults()

	if cfgFile != "" {
		// Use config file from flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in standard locations
		viper.AddConfigPath(conductorconfig.GetDataDir()) // Data directory (respects CONDUCTOR_DATA_DIR)
		viper.AddConfigPath(".")                          // Current directory
		viper.AddConfigPath("/etc/conductor/")            // System-wide
		viper.SetConfigName(DefaultConfigFileName)        // conductor.yaml
		viper.SetConfigType("yaml")
	}

	// Read config file (if it exists)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file %s: %w", viper.ConfigFileUsed(), err)
		}
		// Config file not found; using defaults + env vars + flags
	}

	// Bind environment variables
	viper.SetEnvPrefix("CONDUCTOR")
	viper.AutomaticEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// DataDir comes from the environment, never from the config file.
	config.DataDir = conductorconfig.GetDataDir()

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults() {
	dataDir := conductorconfig.GetDataDir()

	viper.SetDefault("prompts.dir", filepath.Join(dataDir, "prompts"))
	viper.SetDefault("agents.file", filepath.Join(dataDir, "agents.json"))
	viper.SetDefault("commands.dir", filepath.Join(dataDir, "commands"))
	viper.SetDefault("sessions.dir", filepath.Join(dataDir, "sessions"))

	viper.SetDefault("llm.provider", "anthropic")
	viper.SetDefault("llm.max_tokens", 4096)
	viper.SetDefault("llm.timeout_seconds", 60)
	viper.SetDefault("llm.warn_threshold", 0.70)
	viper.SetDefault("llm.hard_threshold", 0.85)

	viper.SetDefault("mcp.config_file", filepath.Join(dataDir, "mcp.yaml"))

	viper.SetDefault("cleanup.spec", scheduler.DefaultCronSpec)
	viper.SetDefault("cleanup.cycle_timeout_seconds", 600)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.development", false)
}
