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

// Package worker implements the protocol loop running inside a worker
// process: read one request, dispatch by operation name, write exactly one
// response. A handler failure never terminates the loop; several jobs may
// share one worker process and must not be aborted by each other's errors.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sync"

	"github.com/storymill/storymill/internal/pkg/bridge"
	"github.com/storymill/storymill/pkg/log"
)

// HandlerFunc serves one operation. The returned map becomes the response
// data; a returned error becomes an ok:false response.
type HandlerFunc func(ctx context.Context, args map[string]any) (map[string]any, error)

// Failure lets a handler classify its own error as retryable or permanent.
// Plain errors default to permanent.
type Failure struct {
	Kind    string
	Message string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Retryablef builds a retryable handler failure.
func Retryablef(format string, args ...any) error {
	return &Failure{Kind: bridge.ErrKindRetryable, Message: fmt.Sprintf(format, args...)}
}

// Permanentf builds a permanent handler failure.
func Permanentf(format string, args ...any) error {
	return &Failure{Kind: bridge.ErrKindPermanent, Message: fmt.Sprintf(format, args...)}
}

// Loop reads requests from an input stream and serves them from a fixed
// dispatch table.
type Loop struct {
	handlers map[string]HandlerFunc
	writeMu  sync.Mutex
	out      io.Writer
}

// NewLoop creates a loop with the builtin health probe registered.
func NewLoop() *Loop {
	l := &Loop{handlers: make(map[string]HandlerFunc)}
	l.Register(bridge.ProbeOperation, func(ctx context.Context, args map[string]any) (map[string]any, error) {
		return map[string]any{"alive": true}, nil
	})
	return l
}

// Register adds a handler to the dispatch table. Registration happens before
// Run; the table is fixed while serving.
func (l *Loop) Register(operation string, handler HandlerFunc) {
	l.handlers[operation] = handler
}

// Run serves requests until the input stream ends (host closed the channel)
// or ctx is cancelled. End of input is a clean stop, not an error.
func (l *Loop) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	l.out = out
	reader := bridge.NewLineReader(in)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := reader.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read request: %w", err)
		}

		req, decErr := bridge.DecodeRequest(line)
		if decErr != nil {
			// Without a parsable id there is nothing to correlate a response
			// to; log and keep serving.
			log.Warnw("malformed request line", "error", decErr)
			continue
		}
		l.serve(ctx, req)
	}
}

// serve dispatches one request and writes exactly one response for it.
func (l *Loop) serve(ctx context.Context, req *bridge.Request) {
	handler, ok := l.handlers[req.Operation]
	if !ok {
		l.writeError(req.ID, bridge.ErrKindUnknownOperation,
			fmt.Sprintf("no handler for operation %q", req.Operation))
		return
	}

	data, err := l.invoke(ctx, handler, req)
	if err != nil {
		var failure *Failure
		if errors.As(err, &failure) {
			l.writeError(req.ID, failure.Kind, failure.Message)
			return
		}
		l.writeError(req.ID, bridge.ErrKindPermanent, err.Error())
		return
	}
	l.write(&bridge.Response{ID: req.ID, OK: true, Data: data})
}

// invoke runs the handler, converting panics into errors so a broken handler
// cannot take the loop down.
func (l *Loop) invoke(ctx context.Context, handler HandlerFunc, req *bridge.Request) (data map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorw("handler panic recovered",
				"operation", req.Operation,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			data = nil
			err = &Failure{Kind: bridge.ErrKindHandlerPanic, Message: fmt.Sprintf("handler panic: %v", r)}
		}
	}()
	return handler(ctx, req.Args)
}

func (l *Loop) writeError(id, kind, message string) {
	l.write(&bridge.Response{ID: id, OK: false, Error: &bridge.ErrorInfo{Kind: kind, Message: message}})
}

// write serializes one response line. The mutex keeps lines whole if a
// future handler ever writes from its own goroutine.
func (l *Loop) write(resp *bridge.Response) {
	line, err := bridge.EncodeMessage(resp)
	if err != nil {
		log.Errorw("encode response failed", "id", resp.ID, "error", err)
		return
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if _, err := l.out.Write(line); err != nil {
		log.Errorw("write response failed", "id", resp.ID, "error", err)
	}
}
