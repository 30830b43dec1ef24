// Copyright 2025 Storymill Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package pipeline drives jobs through their configured step sequence:
// state machine transitions, checkpoint-based resume, bounded retry, and
// cancellation semantics.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/wire"

	"github.com/storymill/storymill/internal/engine/model"
	"github.com/storymill/storymill/internal/engine/repo"
	"github.com/storymill/storymill/internal/pkg/pipeline/spec"
	"github.com/storymill/storymill/pkg/log"
	"github.com/storymill/storymill/pkg/metrics"
)

// ProviderSet is the Wire provider set for the pipeline package.
var ProviderSet = wire.NewSet(NewOrchestrator, NewBatchDriver)

// ErrInterrupted is returned when an external cancellation stopped the run
// before a terminal status was reached. The job stays in running and is
// resumable; only an explicit Cancel moves a job to cancelled.
var ErrInterrupted = errors.New("pipeline run interrupted")

// ErrStoreUnavailable wraps persistence failures that survived the store
// retry budget. This is a fatal operator-level condition, never recorded as
// a job outcome: if the store is down, writing a failed status would not
// succeed either.
var ErrStoreUnavailable = errors.New("persistence unavailable")

const (
	storeRetryAttempts = 3
	storeRetryDelay    = 200 * time.Millisecond
)

// PipelineError reports a job-level failure with the step that caused it.
type PipelineError struct {
	JobId   string
	Step    string
	Failure *StepFailure
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("job %s failed at step %s: %s", e.JobId, e.Step, e.Failure.Message)
}

// Orchestrator composes the configured steps and drives one job at a time
// through them. Instances are cheap; the batch driver creates shared-store
// orchestration per job.
type Orchestrator struct {
	jobs        repo.IJobRepository
	checkpoints repo.ICheckpointRepository
	resolver    ExecutorResolver
	m           *metrics.Metrics
}

// NewOrchestrator creates an orchestrator over the given stores.
func NewOrchestrator(jobs repo.IJobRepository, checkpoints repo.ICheckpointRepository, resolver ExecutorResolver, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{jobs: jobs, checkpoints: checkpoints, resolver: resolver, m: m}
}

// Run executes the pipeline for jobId. Steps with an existing checkpoint are
// treated as complete and skipped; resume is purely a function of checkpoint
// presence, there is no separate resume mode.
func (o *Orchestrator) Run(ctx context.Context, jobId string, pl *spec.PipelineSpec) error {
	var job *model.Job
	if err := o.withStoreRetry(ctx, func() error {
		var err error
		job, err = o.jobs.Get(ctx, jobId)
		return err
	}); err != nil {
		return err
	}

	// A re-run of a finished job is a no-op with the same terminal status.
	if model.IsTerminalStatus(job.Status) {
		log.Infow("job already terminal, nothing to do", "jobId", jobId, "status", job.Status)
		return nil
	}

	// created -> running, or running -> running on resume after a crash.
	if err := o.updateStatus(ctx, jobId, model.JobStatusRunning, ""); err != nil {
		return err
	}
	log.Infow("pipeline run started", "jobId", jobId, "kind", job.Kind, "steps", len(pl.Steps))

	priorOutputs, err := o.loadPriorOutputs(ctx, jobId)
	if err != nil {
		return err
	}

	for i := range pl.Steps {
		step := &pl.Steps[i]

		if err := ctx.Err(); err != nil {
			// Host shutdown or batch cancellation: stop starting new steps
			// and leave the job running for a later resume.
			log.Infow("pipeline run interrupted", "jobId", jobId, "beforeStep", step.Name)
			return ErrInterrupted
		}

		if !step.IsEnabled() {
			log.Debugw("step disabled, skipping", "jobId", jobId, "step", step.Name)
			continue
		}
		pass, whenErr := step.EvalWhen(job.Kind, job.MetadataMap())
		if whenErr != nil {
			// A broken condition is a configuration defect, not an
			// environmental failure.
			return o.failJob(ctx, job, step.Name, Permanent("%v", whenErr))
		}
		if !pass {
			log.Debugw("step condition not met, skipping", "jobId", jobId, "step", step.Name)
			continue
		}

		done, ref, err := o.checkpointed(ctx, jobId, step.Name)
		if err != nil {
			return err
		}
		if done {
			priorOutputs[step.Name] = ref
			log.Debugw("step already checkpointed, skipping", "jobId", jobId, "step", step.Name)
			continue
		}

		executor, resolveErr := o.resolver.Resolve(step)
		if resolveErr != nil {
			return o.failJob(ctx, job, step.Name, Permanent("resolve executor: %v", resolveErr))
		}

		ec := &ExecutionContext{Job: job, Step: step, PriorOutputs: priorOutputs}
		result, failure := o.runWithRetry(ctx, executor, ec, &step.Retry)
		if failure != nil {
			if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
				log.Infow("pipeline run interrupted during step", "jobId", jobId, "step", step.Name)
				return ErrInterrupted
			}
			return o.failJob(ctx, job, step.Name, failure)
		}

		if err := o.withStoreRetry(ctx, func() error {
			return o.checkpoints.Put(ctx, jobId, step.Name, result.OutputRef, false)
		}); err != nil {
			return err
		}
		if o.m != nil {
			o.m.CheckpointsTotal.Inc()
		}
		priorOutputs[step.Name] = result.OutputRef
		log.Infow("step completed", "jobId", jobId, "step", step.Name, "outputRef", result.OutputRef)
	}

	if err := o.updateStatus(ctx, jobId, model.JobStatusSucceeded, ""); err != nil {
		return err
	}
	if o.m != nil {
		o.m.JobsTotal.WithLabelValues(job.Kind, model.JobStatusSucceeded).Inc()
	}
	log.Infow("pipeline run succeeded", "jobId", jobId, "kind", job.Kind)
	return nil
}

// Cancel moves a running job to cancelled. Crashes and host shutdowns never
// come through here; they leave the job in running for resume.
func (o *Orchestrator) Cancel(ctx context.Context, jobId string) error {
	return o.updateStatus(ctx, jobId, model.JobStatusCancelled, "")
}

// ForceRegenerate removes the checkpoint for stepName and everything
// configured after it, so the next run re-executes from that point.
func (o *Orchestrator) ForceRegenerate(ctx context.Context, jobId, stepName string, pl *spec.PipelineSpec) error {
	return o.withStoreRetry(ctx, func() error {
		return o.checkpoints.InvalidateFrom(ctx, jobId, stepName, pl.StepNames())
	})
}

// runWithRetry invokes the executor under the step's retry policy:
// exponential backoff, retry only retryable failures, permanent failures
// abort immediately.
func (o *Orchestrator) runWithRetry(ctx context.Context, executor StepExecutor, ec *ExecutionContext, retry *spec.RetrySpec) (*StepResult, *StepFailure) {
	stepName := ec.Step.Name
	delay := time.Duration(retry.Backoff) * time.Second
	maxDelay := time.Duration(retry.MaxBackoff) * time.Second

	for attempt := 1; ; attempt++ {
		start := time.Now()
		result, failure := executor.Execute(ctx, ec)
		if o.m != nil {
			outcome := "ok"
			if failure != nil {
				outcome = string(failure.Kind)
			}
			o.m.StepAttemptsTotal.WithLabelValues(stepName, outcome).Inc()
			o.m.StepDuration.WithLabelValues(stepName).Observe(time.Since(start).Seconds())
		}
		if failure == nil {
			return result, nil
		}
		if failure.Kind != FailureRetryable || attempt >= retry.MaxAttempts {
			return nil, failure
		}

		log.Warnw("step failed, retrying",
			"jobId", ec.Job.JobId,
			"step", stepName,
			"attempt", attempt,
			"maxAttempts", retry.MaxAttempts,
			"delay", delay.String(),
			"error", failure.Message,
		)
		select {
		case <-ctx.Done():
			return nil, Retryable("interrupted while waiting to retry: %v", ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

// failJob records the terminal failed status with the captured message.
func (o *Orchestrator) failJob(ctx context.Context, job *model.Job, stepName string, failure *StepFailure) error {
	message := fmt.Sprintf("step %s: %s", stepName, failure.Message)
	if err := o.updateStatus(ctx, job.JobId, model.JobStatusFailed, message); err != nil {
		return err
	}
	if o.m != nil {
		o.m.JobsTotal.WithLabelValues(job.Kind, model.JobStatusFailed).Inc()
	}
	log.Errorw("pipeline run failed", "jobId", job.JobId, "step", stepName, "kind", string(failure.Kind), "error", failure.Message)
	return &PipelineError{JobId: job.JobId, Step: stepName, Failure: failure}
}

func (o *Orchestrator) checkpointed(ctx context.Context, jobId, stepName string) (bool, string, error) {
	var (
		done bool
		ref  string
	)
	err := o.withStoreRetry(ctx, func() error {
		has, err := o.checkpoints.Has(ctx, jobId, stepName)
		if err != nil {
			return err
		}
		done = has
		if !has {
			return nil
		}
		ref, err = o.checkpoints.Get(ctx, jobId, stepName)
		return err
	})
	return done, ref, err
}

func (o *Orchestrator) loadPriorOutputs(ctx context.Context, jobId string) (map[string]string, error) {
	outputs := make(map[string]string)
	err := o.withStoreRetry(ctx, func() error {
		list, err := o.checkpoints.ListForJob(ctx, jobId)
		if err != nil {
			return err
		}
		for _, cp := range list {
			outputs[cp.StepName] = cp.OutputRef
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outputs, nil
}

func (o *Orchestrator) updateStatus(ctx context.Context, jobId, status, message string) error {
	return o.withStoreRetry(ctx, func() error {
		return o.jobs.UpdateStatus(ctx, jobId, status, message)
	})
}

// withStoreRetry retries transient persistence failures a small fixed number
// of times. Logical errors (not found, conflicts, duplicate checkpoints) are
// returned as-is; exhaustion surfaces as ErrStoreUnavailable.
func (o *Orchestrator) withStoreRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= storeRetryAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, repo.ErrNotFound) ||
			errors.Is(err, repo.ErrConflict) ||
			errors.Is(err, repo.ErrCheckpointExists) {
			return err
		}
		if attempt < storeRetryAttempts {
			log.Warnw("store operation failed, retrying", "attempt", attempt, "error", err)
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			case <-time.After(storeRetryDelay * time.Duration(attempt)):
			}
		}
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
