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

package spec

import (
	"testing"
)

func validPipeline() PipelineSpec {
	return PipelineSpec{
		Kind: "story",
		Steps: []StepSpec{
			{Name: "outline", Operation: "generate_outline", Channel: "narrator"},
			{Name: "assemble", Uses: "assemble"},
		},
	}
}

func TestValidateAcceptsAndDefaults(t *testing.T) {
	p := validPipeline()
	if err := p.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	retry := p.Steps[0].Retry
	if retry.MaxAttempts != 3 || retry.Backoff != 2 || retry.MaxBackoff != 60 {
		t.Errorf("retry defaults = %+v, want 3/2/60", retry)
	}
	if !p.Steps[0].IsEnabled() {
		t.Error("step without enabled flag must default to enabled")
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *PipelineSpec)
	}{
		{"missing kind", func(p *PipelineSpec) { p.Kind = "" }},
		{"no steps", func(p *PipelineSpec) { p.Steps = nil }},
		{"unnamed step", func(p *PipelineSpec) { p.Steps[0].Name = "" }},
		{"duplicate step name", func(p *PipelineSpec) { p.Steps[1].Name = p.Steps[0].Name }},
		{"bridge step without operation", func(p *PipelineSpec) { p.Steps[0].Operation = "" }},
		{"bridge step without channel", func(p *PipelineSpec) { p.Steps[0].Channel = "" }},
		{"broken when condition", func(p *PipelineSpec) { p.Steps[0].When = `metadata[` }},
		{"non-boolean when condition", func(p *PipelineSpec) { p.Steps[0].When = `kind` }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPipeline()
			tt.mutate(&p)
			if err := p.Validate(); err == nil {
				t.Error("validate succeeded, want error")
			}
		})
	}
}

func TestEvalWhen(t *testing.T) {
	p := PipelineSpec{
		Kind: "story",
		Steps: []StepSpec{
			{Name: "artwork", Operation: "render_artwork", Channel: "illustrator",
				When: `metadata["style"] != "none" && kind == "story"`},
		},
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	step := &p.Steps[0]

	tests := []struct {
		name     string
		kind     string
		metadata map[string]string
		want     bool
	}{
		{"condition met", "story", map[string]string{"style": "ink"}, true},
		{"style excluded", "story", map[string]string{"style": "none"}, false},
		{"other kind", "short", map[string]string{"style": "ink"}, false},
		{"nil metadata", "story", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := step.EvalWhen(tt.kind, tt.metadata)
			if err != nil {
				t.Fatalf("EvalWhen: %v", err)
			}
			if got != tt.want {
				t.Errorf("EvalWhen = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvalWhenWithoutCondition(t *testing.T) {
	step := &StepSpec{Name: "outline"}
	pass, err := step.EvalWhen("story", nil)
	if err != nil || !pass {
		t.Fatalf("EvalWhen = %v/%v, want true/nil", pass, err)
	}
}

func TestRegistry(t *testing.T) {
	r, err := NewRegistry([]PipelineSpec{validPipeline()})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if _, err := r.Get("story"); err != nil {
		t.Errorf("get story: %v", err)
	}
	if _, err := r.Get("unknown"); err == nil {
		t.Error("get unknown succeeded, want error")
	}
	if kinds := r.Kinds(); len(kinds) != 1 || kinds[0] != "story" {
		t.Errorf("kinds = %v, want [story]", kinds)
	}
}

func TestRegistryRejectsDuplicateKind(t *testing.T) {
	if _, err := NewRegistry([]PipelineSpec{validPipeline(), validPipeline()}); err == nil {
		t.Fatal("duplicate kind accepted, want error")
	}
}

func TestStepNamesIncludesDisabled(t *testing.T) {
	disabled := false
	p := PipelineSpec{Kind: "story", Steps: []StepSpec{
		{Name: "outline", Operation: "op", Channel: "ch"},
		{Name: "legacy", Operation: "op", Channel: "ch", Enabled: &disabled},
	}}
	names := p.StepNames()
	if len(names) != 2 || names[1] != "legacy" {
		t.Errorf("step names = %v, want disabled steps included", names)
	}
}
