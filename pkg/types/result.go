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

import "time"

// RunOutcome is the terminal disposition of a command run.
type RunOutcome string

const (
	RunSuccess   RunOutcome = "success"
	RunPartial   RunOutcome = "partial"
	RunFailure   RunOutcome = "failure"
	RunCancelled RunOutcome = "cancelled"
)

// ExitCode maps an outcome to the contracted CLI exit code.
func (o RunOutcome) ExitCode() int {
	switch o {
	case RunSuccess:
		return 0
	case RunPartial:
		return 1
	case RunFailure:
		return 2
	case RunCancelled:
		return 130
	default:
		return 2
	}
}

// RunResult is the aggregate outcome of one command invocation.
type RunResult struct {
	SessionID    string                            `json:"session_id"`
	Command      string                            `json:"command"`
	Outcome      RunOutcome                        `json:"outcome"`
	FailedStages []string                          `json:"failed_stages,omitempty"`
	Skipped      []string                          `json:"skipped_stages,omitempty"`
	Outputs      map[string]map[string]interface{} `json:"outputs,omitempty"`
	PromptTokens int                               `json:"prompt_tokens"`
	OutputTokens int                               `json:"output_tokens"`
	Duration     time.Duration                     `json:"duration"`
}
