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

package pipeline

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/storymill/storymill/internal/engine/model"
	"github.com/storymill/storymill/internal/engine/repo"
	"github.com/storymill/storymill/internal/pkg/pipeline/spec"
	"github.com/storymill/storymill/pkg/log"
)

// BatchConfig bounds cross-job parallelism. Steps inside one job are always
// sequential; parallelism only exists across jobs, capped so shared worker
// channels are not oversubscribed.
type BatchConfig struct {
	MaxConcurrent int `mapstructure:"maxConcurrent"`
}

// SetDefaults applies defaults for unset fields.
func (c *BatchConfig) SetDefaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 2
	}
}

// BatchDriver runs many jobs concurrently, one orchestrator run per job.
type BatchDriver struct {
	orch     *Orchestrator
	jobs     repo.IJobRepository
	registry *spec.Registry
	cfg      BatchConfig
}

// NewBatchDriver creates a batch driver.
func NewBatchDriver(orch *Orchestrator, jobs repo.IJobRepository, registry *spec.Registry, cfg BatchConfig) *BatchDriver {
	cfg.SetDefaults()
	return &BatchDriver{orch: orch, jobs: jobs, registry: registry, cfg: cfg}
}

// Submit creates a new job for the given pipeline kind.
func (d *BatchDriver) Submit(ctx context.Context, kind string, metadata map[string]string) (*model.Job, error) {
	if _, err := d.registry.Get(kind); err != nil {
		return nil, err
	}
	job, err := d.jobs.Create(ctx, kind, metadata)
	if err != nil {
		return nil, err
	}
	log.Infow("job submitted", "jobId", job.JobId, "kind", kind)
	return job, nil
}

// RunJobs drives the given jobs to completion with bounded concurrency.
// A job failure does not stop the other jobs; an interrupted run (host
// shutdown) is not an error, the jobs stay resumable. Store-level failures
// abort the whole batch.
func (d *BatchDriver) RunJobs(ctx context.Context, jobIds []string) error {
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(d.cfg.MaxConcurrent)

	for _, jobId := range jobIds {
		jobId := jobId
		eg.Go(func() error {
			job, err := d.jobs.Get(egCtx, jobId)
			if err != nil {
				return fmt.Errorf("load job %s: %w", jobId, err)
			}
			pl, err := d.registry.Get(job.Kind)
			if err != nil {
				return err
			}
			runErr := d.orch.Run(egCtx, jobId, pl)
			switch {
			case runErr == nil:
				return nil
			case errors.Is(runErr, ErrInterrupted):
				return nil
			case errors.As(runErr, new(*PipelineError)):
				// Already recorded on the job; keep the batch going.
				return nil
			default:
				return runErr
			}
		})
	}
	return eg.Wait()
}

// ResumeInterrupted finds jobs a previous process left in running or
// created and runs them again. Completed steps are skipped through their
// checkpoints.
func (d *BatchDriver) ResumeInterrupted(ctx context.Context) error {
	var ids []string
	for _, status := range []string{model.JobStatusRunning, model.JobStatusCreated} {
		list, _, err := d.jobs.List(ctx, &repo.JobQuery{Status: status, PageSize: 100})
		if err != nil {
			return fmt.Errorf("list %s jobs: %w", status, err)
		}
		for _, job := range list {
			ids = append(ids, job.JobId)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	log.Infow("resuming interrupted jobs", "count", len(ids))
	return d.RunJobs(ctx, ids)
}
