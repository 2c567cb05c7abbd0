// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/conductor/internal/csync"
	"github.com/teradata-labs/conductor/pkg/agent"
	"github.com/teradata-labs/conductor/pkg/events"
	"github.com/teradata-labs/conductor/pkg/llm"
	"github.com/teradata-labs/conductor/pkg/prompts"
	"github.com/teradata-labs/conductor/pkg/session"
	"github.com/teradata-labs/conductor/pkg/types"
)

// ToolCaller gates and executes external tool calls on behalf of a stage.
// Events raised by the call go through the supplied publish function so a
// buffered stage keeps its narrative contiguous.
type ToolCaller interface {
	CallToolVia(ctx context.Context, publish func(types.PipelineEvent), sessionID, stage, serverID, tool string, args map[string]interface{}) (json.RawMessage, error)
}

// SchedulerConfig wires the scheduler's collaborators. Tools is optional:
// without it, stages declaring tool calls fail as unconfigured.
type SchedulerConfig struct {
	Prompts    *prompts.Registry
	Agents     *agent.Registry
	Dispatcher *llm.Dispatcher
	Store      session.Store
	Bus        *events.Bus
	Tools      ToolCaller
	Logger     *zap.Logger
}

// Scheduler executes one command's stage DAG against a session: layers the
// graph, fans out parallel cohorts, applies retry and escalation policy, and
// aggregates the run outcome.
type Scheduler struct {
	prompts    *prompts.Registry
	agents     *agent.Registry
	dispatcher *llm.Dispatcher
	store      session.Store
	bus        *events.Bus
	tools      ToolCaller
	logger     *zap.Logger

	// flushMu serialises parallel-stage buffer flushes so each stage's
	// narrative reaches the bus as one contiguous block.
	flushMu sync.Mutex
}

// NewScheduler creates a stage scheduler.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Prompts == nil || cfg.Agents == nil || cfg.Dispatcher == nil || cfg.Store == nil || cfg.Bus == nil {
		return nil, fmt.Errorf("prompts, agents, dispatcher, store, and bus are all required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Scheduler{
		prompts:    cfg.Prompts,
		agents:     cfg.Agents,
		dispatcher: cfg.Dispatcher,
		store:      cfg.Store,
		bus:        cfg.Bus,
		tools:      cfg.Tools,
		logger:     cfg.Logger,
	}, nil
}

// stageResult is the terminal disposition of one scheduled stage.
type stageResult struct {
	name    string
	outputs map[string]interface{}
	halt    bool
	err     error
}

// Run drives the command to completion. The caller's context carries
// cancellation: once cancelled, no new stages start and in-flight dispatches
// are aborted.
func (s *Scheduler) Run(ctx context.Context, cmd *CommandDescriptor, sess *types.Session, args map[string]string) (*types.RunResult, error) {
	start := time.Now()

	layers, err := topoLayers(cmd.Stages)
	if err != nil {
		return nil, err
	}

	// Prompt references are configuration, not runtime behaviour: resolve
	// every stage's prompt (and fallback) up front so a typo fails the run
	// before any stage lifecycle event is published.
	for i := range cmd.Stages {
		stage := &cmd.Stages[i]
		if _, err := s.prompts.Resolve(stage.PromptID); err != nil {
			return nil, fmt.Errorf("stage %q: %w", stage.Name, err)
		}
		if esc := stage.Escalation; esc != nil && esc.Action == FallbackPrompt {
			if _, err := s.prompts.Resolve(esc.FallbackPromptID); err != nil {
				return nil, fmt.Errorf("stage %q fallback: %w", stage.Name, err)
			}
		}
	}

	completed := sess.CompletedStages() // resume: already-done stages are not re-run
	failed := make(map[string]bool)
	skipped := make(map[string]bool)
	haltSkipped := make(map[string]bool)
	cancelled := false
	halted := false

	for _, layer := range layers {
		if ctx.Err() != nil {
			cancelled = true
			break
		}

		if halted {
			for _, stage := range layer {
				if !completed[stage.Name] {
					haltSkipped[stage.Name] = true
					s.recordSkipped(ctx, sess, stage)
				}
			}
			continue
		}

		// Stages downstream of a failure are skipped before the layer runs;
		// independent branches continue.
		blocked := downstreamOf(cmd.Stages, union(failed, skipped))

		for _, cohort := range cohortsOf(layer) {
			if ctx.Err() != nil {
				cancelled = true
				break
			}
			if halted {
				for _, stage := range cohort {
					if !completed[stage.Name] {
						haltSkipped[stage.Name] = true
						s.recordSkipped(ctx, sess, stage)
					}
				}
				continue
			}

			var runnable []*Stage
			for _, stage := range cohort {
				switch {
				case completed[stage.Name]:
				case blocked[stage.Name]:
					skipped[stage.Name] = true
					s.recordSkipped(ctx, sess, stage)
				default:
					runnable = append(runnable, stage)
				}
			}
			if len(runnable) == 0 {
				continue
			}

			for _, res := range s.runCohort(ctx, cmd, runnable, sess, args) {
				if res.err != nil {
					failed[res.name] = true
					continue
				}
				completed[res.name] = true
				if res.halt {
					halted = true
					s.logger.Info("Stage short-circuited pipeline",
						zap.String("session_id", sess.ID),
						zap.String("stage", res.name))
				}
			}
		}
		if cancelled {
			break
		}
	}

	if ctx.Err() != nil {
		cancelled = true
	}

	result := s.aggregate(cmd, sess, completed, failed, skipped, haltSkipped, cancelled)
	result.Duration = time.Since(start)
	return result, nil
}

// runCohort executes one cohort, bounded by the command's concurrency limit.
// A failing stage does not cancel its cohort peers.
func (s *Scheduler) runCohort(ctx context.Context, cmd *CommandDescriptor, cohort []*Stage, sess *types.Session, args map[string]string) []stageResult {
	isParallel := len(cohort) > 1
	if !isParallel {
		return []stageResult{s.runStage(ctx, cohort[0], sess, args, false)}
	}

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, cmd.Concurrency())
	resultsChan := make(chan stageResult, len(cohort))

	for _, stage := range cohort {
		wg.Add(1)
		go func(st *Stage) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()
			resultsChan <- s.runStage(ctx, st, sess, args, true)
		}(stage)
	}
	wg.Wait()
	close(resultsChan)

	results := make([]stageResult, 0, len(cohort))
	for res := range resultsChan {
		results = append(results, res)
	}
	return results
}

// stageEmitter routes a stage's narrative events. In a parallel cohort the
// events are buffered and flushed contiguously at the stage's terminal.
type stageEmitter struct {
	bus      *events.Bus
	buffered bool
	buffer   *csync.Slice[types.PipelineEvent]
}

func newStageEmitter(bus *events.Bus, buffered bool) *stageEmitter {
	return &stageEmitter{bus: bus, buffered: buffered, buffer: csync.NewSlice[types.PipelineEvent]()}
}

func (e *stageEmitter) emit(ev types.PipelineEvent) {
	if e.buffered {
		e.buffer.Append(ev)
		return
	}
	e.bus.Publish(ev)
}

func (e *stageEmitter) thinking(sessionID, stage, message string) {
	ev := types.NewEvent(types.EventAgentThinking, sessionID, stage)
	ev.StageInfo = &types.StagePayload{Message: message}
	e.emit(ev)
}

// finish flushes buffered narrative and publishes the terminal event. The
// scheduler's flush lock keeps parallel stages' blocks contiguous, and
// buffered events are restamped on flush so the log stays monotonic.
func (s *Scheduler) finish(em *stageEmitter, terminal types.PipelineEvent) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	for _, ev := range em.buffer.Drain() {
		ev.Timestamp = time.Now()
		s.bus.Publish(ev)
	}
	terminal.Timestamp = time.Now()
	s.bus.Publish(terminal)
}

// runStage executes one stage end to end: inputs, dispatch, output parsing,
// and on failure the stage's escalation policy.
func (s *Scheduler) runStage(ctx context.Context, stage *Stage, sess *types.Session, args map[string]string, isParallel bool) stageResult {
	em := newStageEmitter(s.bus, isParallel)

	// Capture any prior record before overwriting: an interrupted run may
	// have left a dispatched response awaiting post-processing.
	prior, hadPrior := sess.StageRecordFor(stage.Name)

	rec := &types.StageRecord{
		Name:      stage.Name,
		Agent:     stage.Agent,
		PromptID:  stage.PromptID,
		State:     types.StageRunning,
		StartedAt: time.Now(),
	}
	s.saveRecord(ctx, sess, rec)

	// StageStart always precedes any other event for the stage, so it is
	// published before prompt resolution can fail.
	startEv := types.NewEvent(types.EventStageStart, sess.ID, stage.Name)
	startEv.StageInfo = &types.StagePayload{
		Agent:      stage.Agent,
		PromptID:   stage.PromptID,
		IsParallel: isParallel,
	}
	s.bus.Publish(startEv)

	desc, err := s.prompts.Resolve(stage.PromptID)
	if err != nil {
		return s.failStage(ctx, em, sess, stage, rec, err)
	}

	// Resume: a dispatched response whose post-processing was interrupted is
	// replayed through output parsing only, never re-sent to the provider.
	if hadPrior && prior.RawResponse != "" && prior.State != types.StageCompleted && s.hasUnmatchedResponse(sess, stage.Name) {
		em.thinking(sess.ID, stage.Name, "replaying interrupted response")
		rec.RawResponse = prior.RawResponse
		rec.PromptTokens = prior.PromptTokens
		rec.OutputTokens = prior.OutputTokens
		rec.Attempts = prior.Attempts
		outputs, perr := desc.ParseOutputs(prior.RawResponse)
		if perr == nil {
			return s.completeStage(ctx, em, sess, stage, rec, outputs)
		}
		// Escalation re-dispatches, so the stage's inputs are assembled
		// afresh rather than redispatching with none.
		inputs, berr := buildInputs(stage, desc, sess, args)
		if berr != nil {
			return s.failStage(ctx, em, sess, stage, rec, perr)
		}
		return s.escalateOrFail(ctx, em, sess, stage, desc, rec, inputs, perr)
	}

	inputs, err := assembleInputs(stage, sess, args)
	if err != nil {
		return s.escalateOrFail(ctx, em, sess, stage, desc, rec, nil, err)
	}

	if len(stage.Tools) > 0 {
		if terr := s.runTools(ctx, em, stage, sess, args, inputs); terr != nil {
			return s.failStage(ctx, em, sess, stage, rec, terr)
		}
	}

	if err := desc.ValidateInputs(inputs); err != nil {
		return s.escalateOrFail(ctx, em, sess, stage, desc, rec, nil, err)
	}

	em.thinking(sess.ID, stage.Name, fmt.Sprintf("dispatching %s as %s", stage.PromptID, stage.Agent))

	outputs, err := s.dispatchAndParse(ctx, em, stage, desc, sess, rec, inputs, stage.Agent, stage.Model, desc.Body, s.retryPolicy(stage))
	if err != nil {
		return s.escalateOrFail(ctx, em, sess, stage, desc, rec, inputs, err)
	}
	return s.completeStage(ctx, em, sess, stage, rec, outputs)
}

// runTools executes the stage's declared tool calls in order, merging each
// result into the input set under the call's save_as name. Tool arguments use
// the same source syntax as inputs_map.
func (s *Scheduler) runTools(ctx context.Context, em *stageEmitter, stage *Stage, sess *types.Session, args map[string]string, inputs map[string]interface{}) error {
	if s.tools == nil {
		return types.NewError(types.ErrMCPServerNotConfigured,
			"stage %q declares tool calls but no tool servers are configured", stage.Name)
	}

	for _, call := range stage.Tools {
		toolArgs := make(map[string]interface{}, len(call.Args))
		for name, source := range call.Args {
			value, err := resolveSource(stage, source, sess, args)
			if err != nil {
				return err
			}
			if value != nil {
				toolArgs[name] = value
			}
		}

		em.thinking(sess.ID, stage.Name, fmt.Sprintf("calling tool %s/%s", call.Server, call.Tool))
		raw, err := s.tools.CallToolVia(ctx, em.emit, sess.ID, stage.Name, call.Server, call.Tool, toolArgs)
		if err != nil {
			return err
		}

		var decoded interface{}
		if uerr := json.Unmarshal(raw, &decoded); uerr != nil {
			decoded = string(raw)
		}
		inputs[call.ResultName()] = decoded
	}
	return nil
}

// dispatchAndParse runs one dispatch attempt cycle and parses the response
// against the prompt's output contract. The raw response is persisted before
// parsing so an interrupted run can replay it. Dispatch events route through
// the stage's emitter so a buffered stage keeps its block contiguous.
func (s *Scheduler) dispatchAndParse(ctx context.Context, em *stageEmitter, stage *Stage, desc *prompts.Descriptor, sess *types.Session, rec *types.StageRecord, inputs map[string]interface{}, agentRole, model, promptBody string, policy llm.RetryPolicy) (map[string]interface{}, error) {
	req := llm.Request{
		SessionID:       sess.ID,
		StageName:       stage.Name,
		PromptBody:      promptBody,
		Model:           model,
		MaxOutputTokens: stage.MaxOutputTokens,
		Inputs:          inputs,
		Sink:            em.emit,
	}

	stageCtx, cancel := context.WithTimeout(ctx, stage.Timeout())
	defer cancel()

	resp, attempts, err := s.dispatcher.Dispatch(stageCtx, req, policy)
	rec.Attempts += attempts
	rec.Agent = agentRole
	if err != nil {
		return nil, err
	}

	rec.RawResponse = resp.Content
	rec.PromptTokens += resp.PromptTokens
	rec.OutputTokens += resp.OutputTokens
	s.saveRecord(ctx, sess, rec)

	outputs, err := desc.ParseOutputs(resp.Content)
	if err != nil {
		return nil, err
	}

	if esc := stage.Escalation; esc != nil && esc.Trigger.ConfidenceBelow > 0 {
		if conf, ok := outputs["confidence"].(float64); ok && conf < esc.Trigger.ConfidenceBelow {
			return nil, types.NewError(types.ErrResponseInvalid,
				"stage %s confidence %.2f below threshold %.2f", stage.Name, conf, esc.Trigger.ConfidenceBelow)
		}
	}
	return outputs, nil
}

// escalateOrFail applies the stage's escalation policy to a post-retry
// failure, or records the failure when no policy applies.
func (s *Scheduler) escalateOrFail(ctx context.Context, em *stageEmitter, sess *types.Session, stage *Stage, desc *prompts.Descriptor, rec *types.StageRecord, inputs map[string]interface{}, cause error) stageResult {
	kind := types.KindOf(cause)

	// Invalid inputs would be invalid for the escalated dispatch too, so
	// they fail the stage outright, like a cancelled session.
	esc := stage.Escalation
	if esc == nil || esc.Action == AbortStage ||
		kind == types.ErrSessionAborted || kind == types.ErrStageInputInvalid ||
		!esc.Trigger.Matches(kind) {
		return s.failStage(ctx, em, sess, stage, rec, cause)
	}

	switch esc.Action {
	case EscalateToAgent:
		triggered := types.NewEvent(types.EventEscalationTriggered, sess.ID, stage.Name)
		triggered.Escalation = &types.EscalationPayload{
			Trigger:   string(kind),
			Action:    string(esc.Action),
			FromAgent: stage.Agent,
		}
		em.emit(triggered)

		toRole, lerr := s.agents.FindEscalationAgent(stage.Domain, stage.Agent)
		if lerr != nil || toRole == "" {
			s.emitEscalationAborted(em, sess, stage, "no higher-priority agent available")
			return s.failStage(ctx, em, sess, stage, rec, cause)
		}

		// Re-dispatch once on the stronger agent, preferring the prompt's
		// recommended (higher-context) model.
		model := stage.Model
		if len(desc.ModelRequirements.Recommended) > 0 {
			model = desc.ModelRequirements.Recommended[0]
		}
		outputs, derr := s.dispatchOnce(ctx, em, stage, desc, sess, rec, inputs, toRole, model, desc.Body)
		if derr != nil {
			s.emitEscalationAborted(em, sess, stage, derr.Error())
			return s.failStage(ctx, em, sess, stage, rec, derr)
		}

		resolved := types.NewEvent(types.EventEscalationResolved, sess.ID, stage.Name)
		resolved.Escalation = &types.EscalationPayload{
			Trigger:   string(kind),
			Action:    string(esc.Action),
			FromAgent: stage.Agent,
			ToAgent:   toRole,
		}
		em.emit(resolved)
		return s.completeStage(ctx, em, sess, stage, rec, outputs)

	case FallbackPrompt:
		triggered := types.NewEvent(types.EventEscalationTriggered, sess.ID, stage.Name)
		triggered.Escalation = &types.EscalationPayload{
			Trigger:   string(kind),
			Action:    string(esc.Action),
			FromAgent: stage.Agent,
			Prompt:    esc.FallbackPromptID,
		}
		em.emit(triggered)

		fallback, rerr := s.prompts.Resolve(esc.FallbackPromptID)
		if rerr != nil {
			s.emitEscalationAborted(em, sess, stage, rerr.Error())
			return s.failStage(ctx, em, sess, stage, rec, cause)
		}

		outputs, derr := s.dispatchOnce(ctx, em, stage, fallback, sess, rec, inputs, stage.Agent, stage.Model, fallback.Body)
		if derr != nil {
			s.emitEscalationAborted(em, sess, stage, derr.Error())
			return s.failStage(ctx, em, sess, stage, rec, derr)
		}

		resolved := types.NewEvent(types.EventEscalationResolved, sess.ID, stage.Name)
		resolved.Escalation = &types.EscalationPayload{
			Trigger:   string(kind),
			Action:    string(esc.Action),
			FromAgent: stage.Agent,
			Prompt:    esc.FallbackPromptID,
		}
		em.emit(resolved)
		return s.completeStage(ctx, em, sess, stage, rec, outputs)

	default:
		return s.failStage(ctx, em, sess, stage, rec, cause)
	}
}

// dispatchOnce is a single recovery attempt with no retries. The stage's own
// retry policy is left untouched.
func (s *Scheduler) dispatchOnce(ctx context.Context, em *stageEmitter, stage *Stage, desc *prompts.Descriptor, sess *types.Session, rec *types.StageRecord, inputs map[string]interface{}, agentRole, model, promptBody string) (map[string]interface{}, error) {
	return s.dispatchAndParse(ctx, em, stage, desc, sess, rec, inputs, agentRole, model, promptBody, llm.RetryPolicy{MaxAttempts: 1})
}

func (s *Scheduler) emitEscalationAborted(em *stageEmitter, sess *types.Session, stage *Stage, reason string) {
	ev := types.NewEvent(types.EventEscalationAborted, sess.ID, stage.Name)
	ev.Escalation = &types.EscalationPayload{
		FromAgent: stage.Agent,
		Reason:    reason,
	}
	em.emit(ev)
}

func (s *Scheduler) completeStage(ctx context.Context, em *stageEmitter, sess *types.Session, stage *Stage, rec *types.StageRecord, outputs map[string]interface{}) stageResult {
	rec.State = types.StageCompleted
	rec.EndedAt = time.Now()
	rec.Output = outputs
	s.saveRecord(ctx, sess, rec)

	terminal := types.NewEvent(types.EventStageComplete, sess.ID, stage.Name)
	terminal.StageInfo = &types.StagePayload{
		Agent:      rec.Agent,
		PromptID:   stage.PromptID,
		IsParallel: em.buffered,
		Attempt:    rec.Attempts,
		Output:     outputs,
	}
	s.finish(em, terminal)

	halt := false
	if stage.MayShortCircuit {
		if v, ok := outputs["halt"].(bool); ok {
			halt = v
		}
	}
	return stageResult{name: stage.Name, outputs: outputs, halt: halt}
}

func (s *Scheduler) failStage(ctx context.Context, em *stageEmitter, sess *types.Session, stage *Stage, rec *types.StageRecord, cause error) stageResult {
	rec.State = types.StageFailed
	rec.EndedAt = time.Now()
	rec.ErrorKind = types.KindOf(cause)
	rec.Error = cause.Error()
	s.saveRecord(ctx, sess, rec)

	terminal := types.NewEvent(types.EventStageError, sess.ID, stage.Name)
	terminal.StageInfo = &types.StagePayload{
		Agent:      rec.Agent,
		PromptID:   stage.PromptID,
		IsParallel: em.buffered,
		Attempt:    rec.Attempts,
		ErrorKind:  rec.ErrorKind,
		Error:      rec.Error,
	}
	s.finish(em, terminal)

	s.logger.Warn("Stage failed",
		zap.String("session_id", sess.ID),
		zap.String("stage", stage.Name),
		zap.String("kind", string(rec.ErrorKind)),
		zap.Error(cause))
	return stageResult{name: stage.Name, err: cause}
}

func (s *Scheduler) recordSkipped(ctx context.Context, sess *types.Session, stage *Stage) {
	rec := &types.StageRecord{
		Name:     stage.Name,
		Agent:    stage.Agent,
		PromptID: stage.PromptID,
		State:    types.StageSkipped,
	}
	s.saveRecord(ctx, sess, rec)
}

func (s *Scheduler) saveRecord(ctx context.Context, sess *types.Session, rec *types.StageRecord) {
	recCopy := *rec
	sess.SetStageRecord(&recCopy)
	if err := s.store.SaveStageRecord(ctx, sess.ID, &recCopy); err != nil {
		s.logger.Warn("Failed to persist stage record",
			zap.String("session_id", sess.ID),
			zap.String("stage", rec.Name),
			zap.Error(err))
	}
}

// hasUnmatchedResponse reports whether the session log holds an LLMResponse
// for the stage with no terminal stage event after it.
func (s *Scheduler) hasUnmatchedResponse(sess *types.Session, stageName string) bool {
	sawResponse := false
	for _, ev := range sess.EventLog() {
		if ev.Stage != stageName {
			continue
		}
		switch ev.Kind {
		case types.EventLLMResponse:
			sawResponse = true
		case types.EventStageComplete, types.EventStageError:
			sawResponse = false
		}
	}
	return sawResponse
}

func (s *Scheduler) retryPolicy(stage *Stage) llm.RetryPolicy {
	if stage.RetryPolicy == nil {
		return llm.DefaultRetryPolicy()
	}
	return llm.RetryPolicy{
		MaxAttempts:       stage.RetryPolicy.MaxAttempts,
		Backoff:           time.Duration(stage.RetryPolicy.BackoffMs) * time.Millisecond,
		BackoffMultiplier: stage.RetryPolicy.BackoffMultiplier,
		Jitter:            time.Duration(stage.RetryPolicy.JitterMs) * time.Millisecond,
	}
}

// aggregate computes the run outcome from the terminal stage dispositions.
func (s *Scheduler) aggregate(cmd *CommandDescriptor, sess *types.Session, completed, failed, skipped, haltSkipped map[string]bool, cancelled bool) *types.RunResult {
	outputs := make(map[string]map[string]interface{})
	for name := range completed {
		if rec, ok := sess.StageRecordFor(name); ok && rec.Output != nil {
			outputs[name] = rec.Output
		}
	}

	promptTokens, outputTokens := sess.TokenTotals()
	result := &types.RunResult{
		SessionID:    sess.ID,
		Command:      cmd.Name,
		FailedStages: sortedKeys(failed),
		Skipped:      sortedKeys(union(skipped, haltSkipped)),
		Outputs:      outputs,
		PromptTokens: promptTokens,
		OutputTokens: outputTokens,
	}

	if cancelled {
		result.Outcome = types.RunCancelled
		return result
	}

	// A required output missing for any reason other than an intentional
	// short-circuit fails the command.
	for _, required := range cmd.RequiredOutputs {
		if !completed[required] && !haltSkipped[required] {
			result.Outcome = types.RunFailure
			return result
		}
	}

	demoted := false
	for name := range union(failed, skipped) {
		stage := cmd.stageByName(name)
		if stage != nil && stage.Optional && !cmd.OptionalFailureDemotes {
			continue
		}
		demoted = true
	}
	if demoted {
		result.Outcome = types.RunPartial
	} else {
		result.Outcome = types.RunSuccess
	}
	return result
}

func union(a, b map[string]bool) map[string]bool {
	out := make(map[string]bool, len(a)+len(b))
	for k := range a {
		out[k] = true
	}
	for k := range b {
		out[k] = true
	}
	return out
}

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
