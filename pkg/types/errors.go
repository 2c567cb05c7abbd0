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
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can apply retry and escalation
// policy without string matching.
type ErrorKind string

const (
	// Configuration errors - fatal at startup.
	ErrPromptNotFound         ErrorKind = "prompt_not_found"
	ErrPromptMalformed        ErrorKind = "prompt_malformed"
	ErrPromptCyclicDependency ErrorKind = "prompt_cyclic_dependency"
	ErrRegistryNotInitialised ErrorKind = "registry_not_initialised"
	ErrCommandInvalid         ErrorKind = "command_invalid"

	// Input validation - fatal to the stage.
	ErrStageInputInvalid ErrorKind = "stage_input_invalid"

	// Dispatch transient - retried per policy.
	ErrProviderTimeout     ErrorKind = "provider_timeout"
	ErrProviderRateLimited ErrorKind = "provider_rate_limited"
	ErrProviderTransient   ErrorKind = "provider_transient"

	// Dispatch permanent - escalation applies, no blind retry.
	ErrContextOverflow   ErrorKind = "context_overflow"
	ErrProviderPermanent ErrorKind = "provider_permanent"
	ErrResponseInvalid   ErrorKind = "response_invalid"

	// MCP errors - surface as ToolHookBlocked.
	ErrMCPServerNotConfigured ErrorKind = "mcp_server_not_configured"
	ErrMCPServerUnavailable   ErrorKind = "mcp_server_unavailable"
	ErrMCPApprovalDenied      ErrorKind = "mcp_approval_denied"

	// Lifecycle.
	ErrSessionAborted  ErrorKind = "session_aborted"
	ErrSessionTerminal ErrorKind = "session_terminal"
	ErrSessionNotFound ErrorKind = "session_not_found"
)

// Error carries a machine-readable kind alongside a human-readable message.
// It supports errors.Is/As and %w wrapping.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports kind equality, so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return te.Kind == e.Kind
	}
	return false
}

// NewError creates a typed error.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError wraps an underlying error with a kind and message.
func WrapError(kind ErrorKind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the ErrorKind from an error chain.
// Returns the empty kind if the chain carries no typed error.
func KindOf(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

// IsTransient reports whether an error kind warrants a retry.
func IsTransient(kind ErrorKind) bool {
	switch kind {
	case ErrProviderTimeout, ErrProviderRateLimited, ErrProviderTransient:
		return true
	default:
		return false
	}
}
