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

// Package spec defines pipeline definitions: the fixed, ordered list of
// steps a job of a given kind runs through. Definitions live in the app
// configuration; there is no arbitrary DAG, only a linear sequence with
// optional skip conditions.
package spec

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// RetrySpec bounds retries for one step.
type RetrySpec struct {
	MaxAttempts int `mapstructure:"maxAttempts"`
	Backoff     int `mapstructure:"backoff"`    // seconds, first delay
	MaxBackoff  int `mapstructure:"maxBackoff"` // seconds, cap
}

// SetDefaults applies defaults for unset fields.
func (r *RetrySpec) SetDefaults() {
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = 3
	}
	if r.Backoff <= 0 {
		r.Backoff = 2
	}
	if r.MaxBackoff <= 0 {
		r.MaxBackoff = 60
	}
}

// StepSpec is one named stage of a pipeline.
type StepSpec struct {
	Name      string    `mapstructure:"name"`
	Operation string    `mapstructure:"operation"` // bridge operation; empty for builtin steps
	Channel   string    `mapstructure:"channel"`   // bridge channel; empty for builtin steps
	Uses      string    `mapstructure:"uses"`      // builtin executor name, e.g. "assemble"
	Enabled   *bool     `mapstructure:"enabled"`   // nil means enabled
	When      string    `mapstructure:"when"`      // expr condition over job kind/metadata
	Timeout   int       `mapstructure:"timeout"`   // seconds; 0 uses the bridge default
	Retry     RetrySpec `mapstructure:"retry"`

	whenProgram *vm.Program
}

// IsEnabled reports whether the step participates at all, before any When
// condition is consulted.
func (s *StepSpec) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// WhenProgram returns the compiled When condition, or nil if none.
func (s *StepSpec) WhenProgram() *vm.Program {
	return s.whenProgram
}

// PipelineSpec is the full definition for one job kind.
type PipelineSpec struct {
	Kind  string     `mapstructure:"kind"`
	Steps []StepSpec `mapstructure:"steps"`
}

// StepNames returns the configured step order, including disabled steps.
// Checkpoint invalidation works over this order.
func (p *PipelineSpec) StepNames() []string {
	names := make([]string, 0, len(p.Steps))
	for i := range p.Steps {
		names = append(names, p.Steps[i].Name)
	}
	return names
}

// Validate normalizes the definition and compiles When conditions. A
// definition that fails here never reaches the orchestrator.
func (p *PipelineSpec) Validate() error {
	if p.Kind == "" {
		return fmt.Errorf("pipeline kind is required")
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("pipeline %q has no steps", p.Kind)
	}

	seen := make(map[string]bool, len(p.Steps))
	for i := range p.Steps {
		step := &p.Steps[i]
		if step.Name == "" {
			return fmt.Errorf("pipeline %q: step %d has no name", p.Kind, i)
		}
		if seen[step.Name] {
			return fmt.Errorf("pipeline %q: duplicate step name %q", p.Kind, step.Name)
		}
		seen[step.Name] = true

		if step.Uses == "" {
			if step.Operation == "" {
				return fmt.Errorf("pipeline %q: step %q needs an operation or a builtin", p.Kind, step.Name)
			}
			if step.Channel == "" {
				return fmt.Errorf("pipeline %q: step %q needs a channel", p.Kind, step.Name)
			}
		}
		step.Retry.SetDefaults()

		if step.When != "" {
			program, err := expr.Compile(step.When, expr.Env(WhenEnv{}), expr.AsBool())
			if err != nil {
				return fmt.Errorf("pipeline %q: step %q: invalid when condition: %w", p.Kind, step.Name, err)
			}
			step.whenProgram = program
		}
	}
	return nil
}

// WhenEnv is the environment a When condition is evaluated against.
type WhenEnv struct {
	Kind     string            `expr:"kind"`
	Metadata map[string]string `expr:"metadata"`
}

// EvalWhen evaluates the step's When condition for a job. Steps without a
// condition always pass. An evaluation error is a configuration defect and
// is returned to be treated as a permanent failure.
func (s *StepSpec) EvalWhen(kind string, metadata map[string]string) (bool, error) {
	if s.whenProgram == nil {
		return true, nil
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	out, err := expr.Run(s.whenProgram, WhenEnv{Kind: kind, Metadata: metadata})
	if err != nil {
		return false, fmt.Errorf("evaluate when condition of step %q: %w", s.Name, err)
	}
	result, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("when condition of step %q is not boolean", s.Name)
	}
	return result, nil
}

// Registry holds the validated pipeline definitions by kind.
type Registry struct {
	pipelines map[string]*PipelineSpec
}

// NewRegistry validates the given definitions and indexes them by kind.
func NewRegistry(defs []PipelineSpec) (*Registry, error) {
	r := &Registry{pipelines: make(map[string]*PipelineSpec, len(defs))}
	for i := range defs {
		p := defs[i]
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.pipelines[p.Kind]; dup {
			return nil, fmt.Errorf("duplicate pipeline kind %q", p.Kind)
		}
		r.pipelines[p.Kind] = &p
	}
	return r, nil
}

// Get returns the pipeline definition for a kind.
func (r *Registry) Get(kind string) (*PipelineSpec, error) {
	p, ok := r.pipelines[kind]
	if !ok {
		return nil, fmt.Errorf("no pipeline configured for kind %q", kind)
	}
	return p, nil
}

// Kinds lists the configured pipeline kinds.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.pipelines))
	for k := range r.pipelines {
		kinds = append(kinds, k)
	}
	return kinds
}
