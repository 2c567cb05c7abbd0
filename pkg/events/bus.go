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

// Package events provides the in-process pipeline event bus.
//
// Publish is synchronous: every subscriber sees the event before Publish
// returns, in subscription order. Subscribers must not block; heavy work
// belongs on a worker owned by the subscriber.
package events

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/conductor/pkg/types"
)

// Handler receives pipeline events.
type Handler func(types.PipelineEvent)

// Token identifies a subscription for later removal.
type Token string

type subscription struct {
	token   Token
	kind    types.EventKind
	all     bool
	handler Handler
}

// Bus is a single-process typed publish/subscribe fan-out.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	logger *zap.Logger
}

// NewBus creates an event bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{logger: logger}
}

// Subscribe attaches a handler to one event kind.
func (b *Bus) Subscribe(kind types.EventKind, h Handler) Token {
	return b.add(subscription{kind: kind, handler: h})
}

// SubscribeAll attaches a handler to every event variant.
func (b *Bus) SubscribeAll(h Handler) Token {
	return b.add(subscription{all: true, handler: h})
}

func (b *Bus) add(sub subscription) Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub.token = Token(uuid.New().String())
	b.subs = append(b.subs, sub)
	return sub.token
}

// Unsubscribe removes a subscription. Idempotent: unknown tokens are a no-op.
func (b *Bus) Unsubscribe(token Token) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub.token == token {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers the event to every matching subscriber in subscription
// order. Subscriber panics are recovered and logged, never propagated to the
// publisher.
func (b *Bus) Publish(ev types.PipelineEvent) {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, sub := range subs {
		if !sub.all && sub.kind != ev.Kind {
			continue
		}
		b.deliver(sub, ev)
	}
}

func (b *Bus) deliver(sub subscription, ev types.PipelineEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event subscriber panicked",
				zap.String("kind", string(ev.Kind)),
				zap.String("session_id", ev.SessionID),
				zap.Any("panic", r))
		}
	}()
	sub.handler(ev)
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
