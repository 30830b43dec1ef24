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
	"fmt"

	"github.com/storymill/storymill/internal/engine/model"
	"github.com/storymill/storymill/internal/pkg/pipeline/spec"
)

// FailureKind classifies a step failure for the retry policy.
type FailureKind string

const (
	// FailureRetryable marks environmental failures worth retrying:
	// worker timeout, worker crash, temporary resource shortage.
	FailureRetryable FailureKind = "retryable"

	// FailurePermanent marks failures no retry can fix: invalid input, a
	// handler signaling the operation cannot succeed.
	FailurePermanent FailureKind = "permanent"
)

// StepFailure is the structured failure an executor returns instead of
// raising. The Retryable/Permanent distinction is part of every executor's
// signature, not hidden in error handling.
type StepFailure struct {
	Kind    FailureKind
	Message string
}

func (f *StepFailure) Error() string {
	return fmt.Sprintf("step failed (%s): %s", f.Kind, f.Message)
}

// Retryable builds a retryable step failure.
func Retryable(format string, args ...any) *StepFailure {
	return &StepFailure{Kind: FailureRetryable, Message: fmt.Sprintf(format, args...)}
}

// Permanent builds a permanent step failure.
func Permanent(format string, args ...any) *StepFailure {
	return &StepFailure{Kind: FailurePermanent, Message: fmt.Sprintf(format, args...)}
}

// StepResult is a successful step outcome: an opaque reference the next
// steps use to locate this step's artifact.
type StepResult struct {
	OutputRef string
}

// ExecutionContext is everything an executor may consult while running one
// step of one job. PriorOutputs maps completed step names to their output
// refs; downstream steps read outputs from here, never from a historical
// log of what executed.
type ExecutionContext struct {
	Job          *model.Job
	Step         *spec.StepSpec
	PriorOutputs map[string]string
}

// StepExecutor is the uniform contract every pipeline stage implements.
// Execute returns either a result or a structured failure, never both and
// never a panic across this boundary.
type StepExecutor interface {
	Name() string
	Execute(ctx context.Context, ec *ExecutionContext) (*StepResult, *StepFailure)
}

// ExecutorResolver maps a configured step to the executor that runs it.
type ExecutorResolver interface {
	Resolve(step *spec.StepSpec) (StepExecutor, error)
}
