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

package worker

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/storymill/storymill/internal/pkg/bridge"
)

// serve runs the loop over the given request lines until EOF and returns the
// decoded responses in order.
func serve(t *testing.T, loop *Loop, requests ...*bridge.Request) []*bridge.Response {
	t.Helper()

	var in bytes.Buffer
	for _, req := range requests {
		line, err := bridge.EncodeMessage(req)
		if err != nil {
			t.Fatalf("encode request: %v", err)
		}
		in.Write(line)
	}

	var out bytes.Buffer
	if err := loop.Run(context.Background(), &in, &out); err != nil {
		t.Fatalf("Run returned %v, want nil on EOF", err)
	}

	var responses []*bridge.Response
	reader := bridge.NewLineReader(&out)
	for {
		line, err := reader.ReadLine()
		if err != nil {
			break
		}
		resp, err := bridge.DecodeResponse(line)
		if err != nil {
			t.Fatalf("decode response: %v", err)
		}
		responses = append(responses, resp)
	}
	return responses
}

func TestDispatchAndCleanStop(t *testing.T) {
	loop := NewLoop()
	loop.Register("greet", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		name, _ := args["name"].(string)
		return map[string]any{"greeting": "hello " + name}, nil
	})

	responses := serve(t, loop,
		&bridge.Request{ID: "r1", Operation: "greet", Args: map[string]any{"name": "mira"}},
		&bridge.Request{ID: "r2", Operation: "greet", Args: map[string]any{"name": "tom"}},
	)

	if len(responses) != 2 {
		t.Fatalf("got %d responses, want 2", len(responses))
	}
	for i, want := range []string{"hello mira", "hello tom"} {
		resp := responses[i]
		if !resp.OK {
			t.Fatalf("response %d not ok: %+v", i, resp.Error)
		}
		if resp.Data["greeting"] != want {
			t.Errorf("response %d greeting = %v, want %q", i, resp.Data["greeting"], want)
		}
	}
	if responses[0].ID != "r1" || responses[1].ID != "r2" {
		t.Errorf("ids = %s,%s want r1,r2", responses[0].ID, responses[1].ID)
	}
}

func TestProbeBuiltin(t *testing.T) {
	responses := serve(t, NewLoop(), &bridge.Request{ID: "p1", Operation: bridge.ProbeOperation})
	if len(responses) != 1 || !responses[0].OK {
		t.Fatalf("probe responses = %+v, want one ok response", responses)
	}
	if responses[0].Data["alive"] != true {
		t.Errorf("probe data = %v, want alive=true", responses[0].Data)
	}
}

func TestUnknownOperation(t *testing.T) {
	responses := serve(t, NewLoop(), &bridge.Request{ID: "u1", Operation: "nope"})
	if len(responses) != 1 {
		t.Fatalf("got %d responses, want 1", len(responses))
	}
	resp := responses[0]
	if resp.OK || resp.Error == nil {
		t.Fatalf("response = %+v, want ok=false with error", resp)
	}
	if resp.Error.Kind != bridge.ErrKindUnknownOperation {
		t.Errorf("kind = %s, want %s", resp.Error.Kind, bridge.ErrKindUnknownOperation)
	}
}

func TestPanicDoesNotKillLoop(t *testing.T) {
	loop := NewLoop()
	loop.Register("boom", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		panic("broken handler")
	})
	loop.Register("ok", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		return map[string]any{"n": 1}, nil
	})

	responses := serve(t, loop,
		&bridge.Request{ID: "b1", Operation: "boom"},
		&bridge.Request{ID: "o1", Operation: "ok"},
	)

	if len(responses) != 2 {
		t.Fatalf("got %d responses, want 2 (loop must survive the panic)", len(responses))
	}
	if responses[0].OK || responses[0].Error.Kind != bridge.ErrKindHandlerPanic {
		t.Errorf("first response = %+v, want HandlerPanic error", responses[0])
	}
	if !responses[1].OK {
		t.Errorf("second response = %+v, want ok", responses[1])
	}
}

func TestFailureClassification(t *testing.T) {
	loop := NewLoop()
	loop.Register("flaky", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		return nil, Retryablef("gpu busy")
	})
	loop.Register("invalid", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		return nil, Permanentf("unsupported format %q", "tiff")
	})
	loop.Register("plain", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		return nil, errors.New("some failure")
	})

	responses := serve(t, loop,
		&bridge.Request{ID: "f1", Operation: "flaky"},
		&bridge.Request{ID: "f2", Operation: "invalid"},
		&bridge.Request{ID: "f3", Operation: "plain"},
	)

	wantKinds := []string{bridge.ErrKindRetryable, bridge.ErrKindPermanent, bridge.ErrKindPermanent}
	if len(responses) != len(wantKinds) {
		t.Fatalf("got %d responses, want %d", len(responses), len(wantKinds))
	}
	for i, want := range wantKinds {
		if responses[i].OK || responses[i].Error == nil {
			t.Fatalf("response %d = %+v, want error", i, responses[i])
		}
		if responses[i].Error.Kind != want {
			t.Errorf("response %d kind = %s, want %s", i, responses[i].Error.Kind, want)
		}
	}
}

func TestMalformedLineSkipped(t *testing.T) {
	loop := NewLoop()
	loop.Register("ok", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		return map[string]any{"n": 1}, nil
	})

	var in bytes.Buffer
	in.WriteString("this is not json\n")
	line, _ := bridge.EncodeMessage(&bridge.Request{ID: "g1", Operation: "ok"})
	in.Write(line)

	var out bytes.Buffer
	if err := loop.Run(context.Background(), &in, &out); err != nil {
		t.Fatalf("Run returned %v, want nil", err)
	}

	reader := bridge.NewLineReader(&out)
	raw, err := reader.ReadLine()
	if err != nil {
		t.Fatalf("no response after malformed line: %v", err)
	}
	resp, err := bridge.DecodeResponse(raw)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != "g1" || !resp.OK {
		t.Errorf("response = %+v, want ok response for g1", resp)
	}
}
