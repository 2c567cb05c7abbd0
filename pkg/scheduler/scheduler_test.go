// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, (&Config{}).Validate())
	assert.NoError(t, (&Config{Spec: "*/5 * * * *"}).Validate())
	assert.Error(t, (&Config{Spec: "not a cron line"}).Validate())
}

func TestCronRunner_RunNowInRegistrationOrder(t *testing.T) {
	r, err := NewCronRunner(Config{})
	require.NoError(t, err)

	var order []string
	for _, name := range []string{"approvals", "sessions", "artifacts"} {
		name := name
		require.NoError(t, r.Register(name, CleanupFunc(func(ctx context.Context) error {
			order = append(order, name)
			return nil
		})))
	}

	require.NoError(t, r.RunNow(context.Background()))
	assert.Equal(t, []string{"approvals", "sessions", "artifacts"}, order)
}

func TestCronRunner_FailureDoesNotStopCycle(t *testing.T) {
	r, err := NewCronRunner(Config{})
	require.NoError(t, err)

	var ran atomic.Int32
	require.NoError(t, r.Register("broken", CleanupFunc(func(ctx context.Context) error {
		return fmt.Errorf("disk full")
	})))
	require.NoError(t, r.Register("healthy", CleanupFunc(func(ctx context.Context) error {
		ran.Add(1)
		return nil
	})))

	err = r.RunNow(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, int32(1), ran.Load())
}

func TestCronRunner_DuplicateNameRejected(t *testing.T) {
	r, err := NewCronRunner(Config{})
	require.NoError(t, err)

	noop := CleanupFunc(func(ctx context.Context) error { return nil })
	require.NoError(t, r.Register("approvals", noop))
	assert.Error(t, r.Register("approvals", noop))
}

func TestCronRunner_RegisterAfterStartRejected(t *testing.T) {
	r, err := NewCronRunner(Config{})
	require.NoError(t, err)
	require.NoError(t, r.Start())
	defer r.Stop()

	err = r.Register("late", CleanupFunc(func(ctx context.Context) error { return nil }))
	assert.Error(t, err)
	assert.Error(t, r.Start())
}

func TestCronRunner_ScheduledCycleFires(t *testing.T) {
	// Every-minute spec with the engine ticking; we do not wait for the
	// tick, only prove the schedule registers and stops cleanly.
	r, err := NewCronRunner(Config{Spec: "* * * * *"})
	require.NoError(t, err)

	var ran atomic.Int32
	require.NoError(t, r.Register("counter", CleanupFunc(func(ctx context.Context) error {
		ran.Add(1)
		return nil
	})))

	require.NoError(t, r.Start())
	r.Stop()

	// Manual trigger still works after stop.
	require.NoError(t, r.RunNow(context.Background()))
	assert.Equal(t, int32(1), ran.Load())
}

func TestCronRunner_CycleTimeoutStopsRemainingCleaners(t *testing.T) {
	r, err := NewCronRunner(Config{CycleTimeout: 30 * time.Millisecond})
	require.NoError(t, err)

	require.NoError(t, r.Register("slow", CleanupFunc(func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})))
	var reached atomic.Bool
	require.NoError(t, r.Register("after", CleanupFunc(func(ctx context.Context) error {
		reached.Store(true)
		return nil
	})))

	err = r.RunNow(context.Background())
	require.Error(t, err)
	assert.False(t, reached.Load())
}
