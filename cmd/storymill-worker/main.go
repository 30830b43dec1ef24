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

// storymill-worker is the reference worker: it serves the story production
// operations over stdin/stdout. Real deployments point a bridge channel at
// any executable speaking the same line protocol; this one doubles as the
// end-to-end test fixture.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/storymill/storymill/internal/pkg/worker"
	"github.com/storymill/storymill/pkg/logger"
)

var logLevel string

func init() {
	flag.StringVar(&logLevel, "log-level", "INFO", "log level, e.g. -log-level DEBUG")
}

func main() {
	flag.Parse()

	// Logs go to stderr only; stdout carries protocol frames.
	conf := logger.SetDefaults()
	conf.Level = logLevel
	logger.MustInit(conf)

	loop := worker.NewLoop()
	loop.Register("echo", echoHandler)
	loop.Register("sleep", sleepHandler)
	loop.Register("generate_outline", outlineHandler)
	loop.Register("generate_script", scriptHandler)
	loop.Register("synthesize_narration", narrationHandler)
	loop.Register("render_artwork", artworkHandler)

	if err := loop.Run(context.Background(), os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "worker loop: %v\n", err)
		os.Exit(1)
	}
}

func echoHandler(ctx context.Context, args map[string]any) (map[string]any, error) {
	return args, nil
}

func sleepHandler(ctx context.Context, args map[string]any) (map[string]any, error) {
	seconds, _ := args["seconds"].(float64)
	select {
	case <-time.After(time.Duration(seconds * float64(time.Second))):
		return map[string]any{"slept": seconds}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func outlineHandler(ctx context.Context, args map[string]any) (map[string]any, error) {
	topic := metadataValue(args, "topic")
	if topic == "" {
		return nil, worker.Permanentf("metadata.topic is required")
	}
	sections := []string{"opening", "conflict", "resolution"}
	content := fmt.Sprintf("outline for %q:\n- %s", topic, strings.Join(sections, "\n- "))
	return map[string]any{"content": content}, nil
}

func scriptHandler(ctx context.Context, args map[string]any) (map[string]any, error) {
	inputs, _ := args["inputs"].(map[string]any)
	if inputs == nil || inputs["outline"] == nil {
		return nil, worker.Permanentf("outline input is required")
	}
	topic := metadataValue(args, "topic")
	return map[string]any{"content": fmt.Sprintf("script for %q based on %v", topic, inputs["outline"])}, nil
}

func narrationHandler(ctx context.Context, args map[string]any) (map[string]any, error) {
	inputs, _ := args["inputs"].(map[string]any)
	if inputs == nil || inputs["script"] == nil {
		return nil, worker.Permanentf("script input is required")
	}
	// Synthesis output is written by the worker itself in real deployments;
	// the reference worker just names the ref it would have produced.
	jobId, _ := args["jobId"].(string)
	return map[string]any{"outputRef": fmt.Sprintf("jobs/%s/narration.wav", jobId)}, nil
}

func artworkHandler(ctx context.Context, args map[string]any) (map[string]any, error) {
	style := metadataValue(args, "style")
	if style == "" {
		style = "storybook"
	}
	jobId, _ := args["jobId"].(string)
	return map[string]any{"outputRef": fmt.Sprintf("jobs/%s/artwork-%s.png", jobId, style)}, nil
}

func metadataValue(args map[string]any, key string) string {
	metadata, _ := args["metadata"].(map[string]any)
	if metadata == nil {
		return ""
	}
	v, _ := metadata[key].(string)
	return v
}
