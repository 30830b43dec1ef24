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

// Package steps provides the step executors the orchestrator resolves
// configured steps to: bridge-backed steps that call worker operations, and
// builtin host-side steps.
package steps

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"github.com/storymill/storymill/internal/pkg/bridge"
	"github.com/storymill/storymill/internal/pkg/pipeline"
	"github.com/storymill/storymill/internal/pkg/storage"
)

// BridgeStep runs one pipeline step by calling a worker operation over the
// bridge. The worker either returns an outputRef it produced itself, or
// inline content which the step writes to artifact storage; either way the
// checkpointed output is a storage ref, never raw content.
type BridgeStep struct {
	bridge *bridge.Bridge
	store  storage.IStorage
	name   string
}

// NewBridgeStep creates a bridge-backed executor for the named step.
func NewBridgeStep(b *bridge.Bridge, store storage.IStorage, name string) *BridgeStep {
	return &BridgeStep{bridge: b, store: store, name: name}
}

func (s *BridgeStep) Name() string { return s.name }

// Execute calls the configured worker operation and classifies the outcome.
// Environmental failures (timeout, crash, spawn failure, a handler saying
// retryable) come back retryable; everything else is permanent.
func (s *BridgeStep) Execute(ctx context.Context, ec *pipeline.ExecutionContext) (*pipeline.StepResult, *pipeline.StepFailure) {
	step := ec.Step
	args := map[string]any{
		"jobId":    ec.Job.JobId,
		"kind":     ec.Job.Kind,
		"step":     step.Name,
		"metadata": ec.Job.MetadataMap(),
		"inputs":   ec.PriorOutputs,
	}

	data, err := s.bridge.Call(ctx, step.Channel, step.Operation, args,
		time.Duration(step.Timeout)*time.Second)
	if err != nil {
		if bErr, ok := bridge.AsError(err); ok {
			if bErr.Retryable() {
				return nil, pipeline.Retryable("%s", bErr.Message)
			}
			return nil, pipeline.Permanent("%s (%s)", bErr.Message, bErr.Kind)
		}
		return nil, pipeline.Permanent("%v", err)
	}

	ref, failure := s.outputRef(ctx, ec, data)
	if failure != nil {
		return nil, failure
	}
	return &pipeline.StepResult{OutputRef: ref}, nil
}

// outputRef resolves the step's artifact ref from the worker response.
func (s *BridgeStep) outputRef(ctx context.Context, ec *pipeline.ExecutionContext, data map[string]any) (string, *pipeline.StepFailure) {
	if ref, ok := data["outputRef"].(string); ok && ref != "" {
		return ref, nil
	}

	objectName := fmt.Sprintf("jobs/%s/%s", ec.Job.JobId, ec.Step.Name)
	if content, ok := data["content"].(string); ok {
		ref, err := s.store.Put(ctx, objectName+".txt", bytes.NewReader([]byte(content)), int64(len(content)))
		if err != nil {
			return "", pipeline.Retryable("store artifact: %v", err)
		}
		return ref, nil
	}

	// No explicit ref or content: the whole response payload is the artifact.
	raw, err := sonic.Marshal(data)
	if err != nil {
		return "", pipeline.Permanent("encode artifact: %v", err)
	}
	ref, putErr := s.store.Put(ctx, objectName+".json", bytes.NewReader(raw), int64(len(raw)))
	if putErr != nil {
		return "", pipeline.Retryable("store artifact: %v", putErr)
	}
	return ref, nil
}
