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

// Package bridge implements the host side of the worker RPC protocol: one
// newline-delimited JSON message per request and exactly one correlated
// response, over the stdin/stdout of a worker process owned by the bridge.
package bridge

import (
	"bufio"
	"fmt"
	"io"

	"github.com/bytedance/sonic"
)

// MaxMessageSize bounds a single protocol line. Artifacts larger than this
// travel by reference (storage key), never inline.
const MaxMessageSize = 16 * 1024 * 1024

// ProbeOperation is the builtin health-check operation every worker answers.
const ProbeOperation = "__probe__"

// Request is one RPC request. ID is a fresh correlation token per request,
// never reused; it round-trips byte-for-byte.
type Request struct {
	ID        string         `json:"id"`
	Operation string         `json:"operation"`
	Args      map[string]any `json:"args,omitempty"`
}

// ErrorInfo describes a failure reported over the wire.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Response is one RPC response. ok:false implies Error is non-nil and Data
// is nil; ok:true implies Error is nil.
type Response struct {
	ID    string         `json:"id"`
	OK    bool           `json:"ok"`
	Data  map[string]any `json:"data,omitempty"`
	Error *ErrorInfo     `json:"error,omitempty"`
}

// EncodeMessage serializes v as one self-delimited protocol line.
func EncodeMessage(v any) ([]byte, error) {
	raw, err := sonic.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return append(raw, '\n'), nil
}

// DecodeRequest parses one protocol line into a Request.
func DecodeRequest(line []byte) (*Request, error) {
	var req Request
	if err := sonic.Unmarshal(line, &req); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	return &req, nil
}

// DecodeResponse parses one protocol line into a Response.
func DecodeResponse(line []byte) (*Response, error) {
	var resp Response
	if err := sonic.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}

// LineReader reads self-delimited protocol lines with a bounded buffer.
type LineReader struct {
	scanner *bufio.Scanner
}

// NewLineReader wraps r in a bounded line reader.
func NewLineReader(r io.Reader) *LineReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), MaxMessageSize)
	return &LineReader{scanner: scanner}
}

// ReadLine returns the next non-empty line, or io.EOF when the stream ends.
func (lr *LineReader) ReadLine() ([]byte, error) {
	for lr.scanner.Scan() {
		line := lr.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		// Scanner reuses its buffer; callers keep the line past the next Scan.
		out := make([]byte, len(line))
		copy(out, line)
		return out, nil
	}
	if err := lr.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}
