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
	"fmt"

	"github.com/google/wire"

	"github.com/storymill/storymill/internal/pkg/bridge"
	"github.com/storymill/storymill/internal/pkg/pipeline"
	"github.com/storymill/storymill/internal/pkg/pipeline/spec"
	"github.com/storymill/storymill/internal/pkg/storage"
)

// ProviderSet is the Wire provider set for the steps package.
var ProviderSet = wire.NewSet(NewResolver, wire.Bind(new(pipeline.ExecutorResolver), new(*Resolver)))

// Resolver maps configured steps to executors: steps with `uses` go to the
// builtin table, everything else becomes a bridge call against the step's
// channel and operation.
type Resolver struct {
	bridge *bridge.Bridge
	store  storage.IStorage
}

// NewResolver creates the executor resolver.
func NewResolver(b *bridge.Bridge, store storage.IStorage) *Resolver {
	return &Resolver{bridge: b, store: store}
}

// Resolve returns the executor for one configured step.
func (r *Resolver) Resolve(step *spec.StepSpec) (pipeline.StepExecutor, error) {
	if step.Uses != "" {
		switch step.Uses {
		case AssembleName:
			return NewAssembleStep(r.store, step.Name), nil
		default:
			return nil, fmt.Errorf("unknown builtin %q for step %q", step.Uses, step.Name)
		}
	}
	return NewBridgeStep(r.bridge, r.store, step.Name), nil
}
