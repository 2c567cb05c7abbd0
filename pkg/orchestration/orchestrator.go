// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/teradata-labs/conductor/pkg/events"
	"github.com/teradata-labs/conductor/pkg/llm"
	"github.com/teradata-labs/conductor/pkg/session"
	"github.com/teradata-labs/conductor/pkg/types"
)

// OrchestratorConfig wires the orchestrator facade.
type OrchestratorConfig struct {
	Scheduler  *Scheduler
	Dispatcher *llm.Dispatcher
	Store      session.Store
	Bus        *events.Bus
	Logger     *zap.Logger
}

// RunOptions controls one command invocation.
type RunOptions struct {
	// ResumeSessionID resumes an existing non-terminal session instead of
	// creating a new one.
	ResumeSessionID string

	// Model initialises the session's context window. Empty selects the
	// provider default.
	Model string
}

// Orchestrator is the thin facade over the scheduler: it creates or resumes
// the session, frames the run with pipeline events, and persists every event
// the run emits.
type Orchestrator struct {
	scheduler  *Scheduler
	dispatcher *llm.Dispatcher
	store      session.Store
	bus        *events.Bus
	logger     *zap.Logger
}

// NewOrchestrator creates the orchestrator facade.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Scheduler == nil || cfg.Dispatcher == nil || cfg.Store == nil || cfg.Bus == nil {
		return nil, fmt.Errorf("scheduler, dispatcher, store, and bus are all required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Orchestrator{
		scheduler:  cfg.Scheduler,
		dispatcher: cfg.Dispatcher,
		store:      cfg.Store,
		bus:        cfg.Bus,
		logger:     cfg.Logger,
	}, nil
}

// Run executes one command invocation end to end and returns the outcome.
func (o *Orchestrator) Run(ctx context.Context, cmd *CommandDescriptor, args map[string]string, opts RunOptions) (*types.RunResult, error) {
	sess, isResumed, err := o.openSession(ctx, cmd, args, opts)
	if err != nil {
		return nil, err
	}

	o.dispatcher.WindowFor(sess.ID, opts.Model)

	// Every event this run publishes is mirrored into the session and its
	// durable log.
	token := o.bus.SubscribeAll(func(ev types.PipelineEvent) {
		if ev.SessionID != sess.ID {
			return
		}
		sess.AppendEvent(ev)
		if err := o.store.Append(context.WithoutCancel(ctx), sess.ID, ev); err != nil {
			o.logger.Warn("Failed to persist event",
				zap.String("session_id", sess.ID),
				zap.String("kind", string(ev.Kind)),
				zap.Error(err))
		}
	})
	defer o.bus.Unsubscribe(token)

	startEv := types.NewEvent(types.EventPipelineStart, sess.ID, "")
	startEv.Pipeline = &types.PipelinePayload{
		Command:   cmd.Name,
		Args:      args,
		IsResumed: isResumed,
	}
	o.bus.Publish(startEv)

	result, err := o.scheduler.Run(ctx, cmd, sess, args)
	if err != nil {
		errEv := types.NewEvent(types.EventPipelineError, sess.ID, "")
		errEv.Pipeline = &types.PipelinePayload{Command: cmd.Name, Reason: err.Error()}
		o.bus.Publish(errEv)
		o.setFinalState(ctx, sess, types.SessionFailed)
		return nil, err
	}

	if result.Outcome == types.RunCancelled {
		errEv := types.NewEvent(types.EventPipelineError, sess.ID, "")
		errEv.Pipeline = &types.PipelinePayload{Command: cmd.Name, Reason: "cancelled"}
		o.bus.Publish(errEv)
		o.setFinalState(ctx, sess, types.SessionAborted)
		return result, nil
	}

	doneEv := types.NewEvent(types.EventPipelineComplete, sess.ID, "")
	doneEv.Pipeline = &types.PipelinePayload{Command: cmd.Name, Outcome: result.Outcome}
	o.bus.Publish(doneEv)

	finalState := types.SessionCompleted
	if result.Outcome == types.RunFailure {
		finalState = types.SessionFailed
	}
	o.setFinalState(ctx, sess, finalState)

	o.logger.Info("Pipeline finished",
		zap.String("session_id", sess.ID),
		zap.String("command", cmd.Name),
		zap.String("outcome", string(result.Outcome)),
		zap.Int("prompt_tokens", result.PromptTokens),
		zap.Int("output_tokens", result.OutputTokens))
	return result, nil
}

func (o *Orchestrator) openSession(ctx context.Context, cmd *CommandDescriptor, args map[string]string, opts RunOptions) (*types.Session, bool, error) {
	if opts.ResumeSessionID == "" {
		sess, err := o.store.Create(ctx, cmd.Name, args)
		if err != nil {
			return nil, false, fmt.Errorf("failed to create session: %w", err)
		}
		return sess, false, nil
	}

	sess, err := o.store.Get(ctx, opts.ResumeSessionID)
	if err != nil {
		return nil, false, err
	}
	if sess.CurrentState().IsTerminal() {
		return nil, false, types.NewError(types.ErrSessionTerminal,
			"session %s is %s and cannot be resumed", sess.ID, sess.CurrentState())
	}
	return sess, true, nil
}

// setFinalState transitions both the in-memory session and the store. Runs
// after the final pipeline event so the terminal guard does not reject it.
func (o *Orchestrator) setFinalState(ctx context.Context, sess *types.Session, state types.SessionState) {
	sess.SetState(state)
	if err := o.store.SetState(context.WithoutCancel(ctx), sess.ID, state); err != nil {
		o.logger.Warn("Failed to persist session state",
			zap.String("session_id", sess.ID),
			zap.String("state", string(state)),
			zap.Error(err))
	}
}
