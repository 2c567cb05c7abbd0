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
package llm

import (
	"encoding/json"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// TokenCounter estimates prompt token counts before dispatch. Uses the
// cl100k_base encoding; when the encoding cannot be loaded (offline, missing
// cache) it falls back to the bytes/4 heuristic.
type TokenCounter struct {
	once     sync.Once
	encoding *tiktoken.Tiktoken
	logger   *zap.Logger
}

// NewTokenCounter creates a lazy-initialised token counter.
func NewTokenCounter(logger *zap.Logger) *TokenCounter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenCounter{logger: logger}
}

// Count estimates the token count of one text.
func (c *TokenCounter) Count(text string) int {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			c.logger.Warn("Token encoding unavailable, using byte heuristic", zap.Error(err))
			return
		}
		c.encoding = enc
	})

	if c.encoding != nil {
		return len(c.encoding.Encode(text, nil, nil))
	}
	return len(text) / 4
}

// CountRequest estimates the prompt tokens of a full request: system prompt,
// prompt body, and serialised inputs.
func (c *TokenCounter) CountRequest(req Request) int {
	total := c.Count(req.System) + c.Count(req.PromptBody)
	if len(req.Inputs) > 0 {
		if data, err := json.Marshal(req.Inputs); err == nil {
			total += c.Count(string(data))
		}
	}
	return total
}
