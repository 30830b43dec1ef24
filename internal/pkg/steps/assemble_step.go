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

package steps

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"github.com/storymill/storymill/internal/pkg/pipeline"
	"github.com/storymill/storymill/internal/pkg/storage"
)

// AssembleName is the builtin name configured as `uses: assemble`.
const AssembleName = "assemble"

// assembleManifest is the final artifact of a pipeline: the job identity plus
// the refs of every artifact the earlier steps produced.
type assembleManifest struct {
	JobId       string            `json:"jobId"`
	Kind        string            `json:"kind"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Artifacts   map[string]string `json:"artifacts"`
	AssembledAt string            `json:"assembledAt"`
}

// AssembleStep is a host-side step that needs no worker: it gathers the refs
// of every prior output into a manifest and stores it as the final artifact.
type AssembleStep struct {
	store storage.IStorage
	name  string
}

// NewAssembleStep creates the builtin assemble executor.
func NewAssembleStep(store storage.IStorage, name string) *AssembleStep {
	return &AssembleStep{store: store, name: name}
}

func (s *AssembleStep) Name() string { return s.name }

func (s *AssembleStep) Execute(ctx context.Context, ec *pipeline.ExecutionContext) (*pipeline.StepResult, *pipeline.StepFailure) {
	if len(ec.PriorOutputs) == 0 {
		return nil, pipeline.Permanent("nothing to assemble: no prior step outputs")
	}

	artifacts := make(map[string]string, len(ec.PriorOutputs))
	for step, ref := range ec.PriorOutputs {
		artifacts[step] = ref
	}
	manifest := assembleManifest{
		JobId:       ec.Job.JobId,
		Kind:        ec.Job.Kind,
		Metadata:    ec.Job.MetadataMap(),
		Artifacts:   artifacts,
		AssembledAt: time.Now().UTC().Format(time.RFC3339),
	}

	raw, err := sonic.Marshal(&manifest)
	if err != nil {
		return nil, pipeline.Permanent("encode manifest: %v", err)
	}
	objectName := fmt.Sprintf("jobs/%s/%s.json", ec.Job.JobId, ec.Step.Name)
	ref, putErr := s.store.Put(ctx, objectName, bytes.NewReader(raw), int64(len(raw)))
	if putErr != nil {
		return nil, pipeline.Retryable("store manifest: %v", putErr)
	}
	return &pipeline.StepResult{OutputRef: ref}, nil
}
