// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package scheduler runs periodic maintenance for the orchestrator: expired
// approval entries, stale session artifacts, and any other registered
// retention hook. The package owns scheduling only; what a cleanup does is
// the registrant's business.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultCronSpec runs cleanup daily at 03:00.
const DefaultCronSpec = "0 3 * * *"

// DefaultCycleTimeout bounds one full cleanup cycle.
const DefaultCycleTimeout = 10 * time.Minute

// CleanupScheduler is implemented by components that own retention work.
type CleanupScheduler interface {
	RunCleanup(ctx context.Context) error
}

// CleanupFunc adapts a plain function to CleanupScheduler.
type CleanupFunc func(ctx context.Context) error

// RunCleanup implements CleanupScheduler.
func (f CleanupFunc) RunCleanup(ctx context.Context) error { return f(ctx) }

// Config contains cron runner configuration.
type Config struct {
	// Spec is the 5-field cron expression. Empty selects DefaultCronSpec.
	Spec string

	// CycleTimeout bounds one cleanup cycle across all registered cleaners.
	// Zero selects DefaultCycleTimeout.
	CycleTimeout time.Duration

	Logger *zap.Logger
}

// Validate checks the cron expression parses.
func (c *Config) Validate() error {
	spec := c.Spec
	if spec == "" {
		spec = DefaultCronSpec
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	return nil
}

// cleaner is one registered retention hook.
type cleaner struct {
	name   string
	target CleanupScheduler
}

// CronRunner drives registered cleanup hooks on a cron schedule. Cleaners
// run sequentially in registration order; one cleaner's failure does not stop
// the cycle.
type CronRunner struct {
	mu       sync.Mutex
	cleaners []cleaner
	engine   *cron.Cron
	started  bool

	spec    string
	timeout time.Duration
	logger  *zap.Logger
}

// NewCronRunner creates a cron runner.
func NewCronRunner(cfg Config) (*CronRunner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Spec == "" {
		cfg.Spec = DefaultCronSpec
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = DefaultCycleTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &CronRunner{
		engine:  cron.New(),
		spec:    cfg.Spec,
		timeout: cfg.CycleTimeout,
		logger:  cfg.Logger,
	}, nil
}

// Register adds a cleanup hook under a name used for logging. Must be called
// before Start.
func (r *CronRunner) Register(name string, target CleanupScheduler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("cannot register cleaner %q after start", name)
	}
	for _, c := range r.cleaners {
		if c.name == name {
			return fmt.Errorf("cleaner %q already registered", name)
		}
	}
	r.cleaners = append(r.cleaners, cleaner{name: name, target: target})
	return nil
}

// Start schedules the cleanup cycle and returns. Cycles run on the cron
// engine's goroutine until Stop.
func (r *CronRunner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("cron runner already started")
	}

	_, err := r.engine.AddFunc(r.spec, func() {
		if err := r.RunNow(context.Background()); err != nil {
			r.logger.Warn("Cleanup cycle finished with errors", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule cleanup: %w", err)
	}

	r.engine.Start()
	r.started = true
	r.logger.Info("Cleanup scheduler started",
		zap.String("spec", r.spec),
		zap.Int("cleaners", len(r.cleaners)))
	return nil
}

// Stop halts the cron engine and waits for an in-flight cycle to finish.
func (r *CronRunner) Stop() {
	r.mu.Lock()
	started := r.started
	r.started = false
	r.mu.Unlock()
	if !started {
		return
	}
	<-r.engine.Stop().Done()
	r.logger.Info("Cleanup scheduler stopped")
}

// RunNow executes one cleanup cycle immediately, outside the cron schedule.
// Returns the joined errors of failing cleaners.
func (r *CronRunner) RunNow(ctx context.Context) error {
	r.mu.Lock()
	cleaners := make([]cleaner, len(r.cleaners))
	copy(cleaners, r.cleaners)
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var errs []error
	for _, c := range cleaners {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		start := time.Now()
		if err := c.target.RunCleanup(ctx); err != nil {
			r.logger.Warn("Cleaner failed",
				zap.String("cleaner", c.name),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
			continue
		}
		r.logger.Debug("Cleaner finished",
			zap.String("cleaner", c.name),
			zap.Duration("took", time.Since(start)))
	}
	return errors.Join(errs...)
}
