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
	"sync"
	"testing"

	"github.com/storymill/storymill/internal/engine/model"
	"github.com/storymill/storymill/internal/pkg/pipeline/spec"
)

func batchFixture(t *testing.T, maxConcurrent int) (*BatchDriver, *fakeJobs, *fakeResolver) {
	t.Helper()

	jobs := newFakeJobs()
	checkpoints := newFakeCheckpoints()
	resolver := &fakeResolver{executors: map[string]*fakeExecutor{
		"outline": {name: "outline"},
		"script":  {name: "script"},
	}}
	orch := NewOrchestrator(jobs, checkpoints, resolver, nil)

	defs := []spec.PipelineSpec{{Kind: "story", Steps: []spec.StepSpec{
		{Name: "outline", Operation: "generate_outline", Channel: "narrator"},
		{Name: "script", Operation: "generate_script", Channel: "narrator"},
	}}}
	registry, err := spec.NewRegistry(defs)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	driver := NewBatchDriver(orch, jobs, registry, BatchConfig{MaxConcurrent: maxConcurrent})
	return driver, jobs, resolver
}

func TestSubmitValidatesKind(t *testing.T) {
	driver, jobs, _ := batchFixture(t, 2)

	job, err := driver.Submit(context.Background(), "story", map[string]string{"topic": "sea"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if jobs.status(t, job.JobId) != model.JobStatusCreated {
		t.Errorf("status = %s, want created", jobs.status(t, job.JobId))
	}

	if _, err := driver.Submit(context.Background(), "unknown", nil); err == nil {
		t.Fatal("submit with unknown kind succeeded, want error")
	}
}

func TestRunJobsBoundedConcurrency(t *testing.T) {
	driver, jobs, resolver := batchFixture(t, 2)

	var mu sync.Mutex
	var active, peak int
	gate := make(chan struct{})
	resolver.executors["outline"].fn = func(attempt int, ec *ExecutionContext) (*StepResult, *StepFailure) {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()
		<-gate
		mu.Lock()
		active--
		mu.Unlock()
		return &StepResult{OutputRef: "ref"}, nil
	}

	var ids []string
	for i := 0; i < 5; i++ {
		job, err := driver.Submit(context.Background(), "story", nil)
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		ids = append(ids, job.JobId)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := driver.RunJobs(context.Background(), ids); err != nil {
			t.Errorf("RunJobs: %v", err)
		}
	}()
	close(gate)
	<-done

	mu.Lock()
	defer mu.Unlock()
	if peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
	for _, id := range ids {
		if jobs.status(t, id) != model.JobStatusSucceeded {
			t.Errorf("job %s status = %s, want succeeded", id, jobs.status(t, id))
		}
	}
}

func TestRunJobsContinuesPastJobFailure(t *testing.T) {
	driver, jobs, resolver := batchFixture(t, 1)

	failedJob, _ := driver.Submit(context.Background(), "story", map[string]string{"fail": "yes"})
	okJob, _ := driver.Submit(context.Background(), "story", nil)

	resolver.executors["outline"].fn = func(attempt int, ec *ExecutionContext) (*StepResult, *StepFailure) {
		if ec.Job.MetadataMap()["fail"] == "yes" {
			return nil, Permanent("bad input")
		}
		return &StepResult{OutputRef: "ref"}, nil
	}

	if err := driver.RunJobs(context.Background(), []string{failedJob.JobId, okJob.JobId}); err != nil {
		t.Fatalf("RunJobs = %v, want nil (job failure is recorded, not raised)", err)
	}
	if jobs.status(t, failedJob.JobId) != model.JobStatusFailed {
		t.Errorf("failed job status = %s, want failed", jobs.status(t, failedJob.JobId))
	}
	if jobs.status(t, okJob.JobId) != model.JobStatusSucceeded {
		t.Errorf("ok job status = %s, want succeeded", jobs.status(t, okJob.JobId))
	}
}

func TestResumeInterruptedPicksUpRunningAndCreated(t *testing.T) {
	driver, jobs, _ := batchFixture(t, 2)

	jobs.add("left-running", "story", model.JobStatusRunning, nil)
	jobs.add("never-started", "story", model.JobStatusCreated, nil)
	jobs.add("already-done", "story", model.JobStatusSucceeded, nil)

	if err := driver.ResumeInterrupted(context.Background()); err != nil {
		t.Fatalf("resume: %v", err)
	}
	for _, id := range []string{"left-running", "never-started"} {
		if jobs.status(t, id) != model.JobStatusSucceeded {
			t.Errorf("job %s status = %s, want succeeded after resume", id, jobs.status(t, id))
		}
	}
	if jobs.status(t, "already-done") != model.JobStatusSucceeded {
		t.Errorf("terminal job must stay untouched")
	}
}
