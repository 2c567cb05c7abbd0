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
package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teradata-labs/conductor/pkg/types"
)

func TestBus_SubscribeAll(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var received []types.EventKind
	bus.SubscribeAll(func(ev types.PipelineEvent) {
		received = append(received, ev.Kind)
	})

	bus.Publish(types.NewEvent(types.EventPipelineStart, "s1", ""))
	bus.Publish(types.NewEvent(types.EventStageStart, "s1", "plan"))
	bus.Publish(types.NewEvent(types.EventPipelineComplete, "s1", ""))

	require.Len(t, received, 3)
	assert.Equal(t, types.EventPipelineStart, received[0])
	assert.Equal(t, types.EventStageStart, received[1])
	assert.Equal(t, types.EventPipelineComplete, received[2])
}

func TestBus_SubscribeByKind(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var stageStarts int
	bus.Subscribe(types.EventStageStart, func(ev types.PipelineEvent) {
		stageStarts++
	})

	bus.Publish(types.NewEvent(types.EventStageStart, "s1", "plan"))
	bus.Publish(types.NewEvent(types.EventStageComplete, "s1", "plan"))
	bus.Publish(types.NewEvent(types.EventStageStart, "s1", "implement"))

	assert.Equal(t, 2, stageStarts)
}

func TestBus_SubscriptionOrder(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var order []int
	bus.SubscribeAll(func(types.PipelineEvent) { order = append(order, 1) })
	bus.SubscribeAll(func(types.PipelineEvent) { order = append(order, 2) })
	bus.SubscribeAll(func(types.PipelineEvent) { order = append(order, 3) })

	bus.Publish(types.NewEvent(types.EventPipelineStart, "s1", ""))

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var count int
	token := bus.SubscribeAll(func(types.PipelineEvent) { count++ })

	bus.Publish(types.NewEvent(types.EventPipelineStart, "s1", ""))
	bus.Unsubscribe(token)
	bus.Publish(types.NewEvent(types.EventPipelineStart, "s1", ""))

	assert.Equal(t, 1, count)
	assert.Equal(t, 0, bus.SubscriberCount())

	// Idempotent: removing again is a no-op.
	bus.Unsubscribe(token)
}

func TestBus_SubscriberPanicDoesNotPropagate(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var after int
	bus.SubscribeAll(func(types.PipelineEvent) { panic("observer bug") })
	bus.SubscribeAll(func(types.PipelineEvent) { after++ })

	require.NotPanics(t, func() {
		bus.Publish(types.NewEvent(types.EventPipelineStart, "s1", ""))
	})

	// The subscriber after the panicking one still runs.
	assert.Equal(t, 1, after)
}
