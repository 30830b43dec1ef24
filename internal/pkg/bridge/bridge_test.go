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

package bridge_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/storymill/storymill/internal/pkg/bridge"
	"github.com/storymill/storymill/internal/pkg/worker"
)

// pipeTransport runs a real worker.Loop in-process, connected through pipes,
// so bridge tests exercise the actual wire protocol without child processes.
// Outbound lines go through a buffered channel the way an OS pipe buffers
// writes, so Send does not block when the worker is wedged.
type pipeTransport struct {
	sendCh    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	reader    *bridge.LineReader
	done      chan struct{}
}

func newPipeTransport(reqW *io.PipeWriter, respR *io.PipeReader, done chan struct{}) *pipeTransport {
	t := &pipeTransport{
		sendCh: make(chan []byte, 64),
		closed: make(chan struct{}),
		reader: bridge.NewLineReader(respR),
		done:   done,
	}
	go func() {
		for {
			select {
			case line := <-t.sendCh:
				if _, err := reqW.Write(line); err != nil {
					return
				}
			case <-t.closed:
				reqW.Close()
				return
			}
		}
	}()
	return t
}

func (t *pipeTransport) Send(line []byte) error {
	select {
	case t.sendCh <- line:
		return nil
	case <-t.closed:
		return errors.New("transport closed")
	}
}

func (t *pipeTransport) Recv() ([]byte, error) {
	return t.reader.ReadLine()
}

func (t *pipeTransport) Done() <-chan struct{} {
	return t.done
}

func (t *pipeTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

// loopLauncher builds a Launcher that starts a fresh loop per "process",
// configured by setup. spawns counts how many instances were started.
func loopLauncher(setup func(l *worker.Loop, instance int32), spawns *atomic.Int32) bridge.Launcher {
	return func(ctx context.Context) (bridge.Transport, error) {
		instance := spawns.Add(1)
		reqR, reqW := io.Pipe()
		respR, respW := io.Pipe()

		loop := worker.NewLoop()
		setup(loop, instance)

		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = loop.Run(context.Background(), reqR, respW)
			respW.Close()
		}()

		return newPipeTransport(reqW, respR, done), nil
	}
}

func newTestBridge(launchers map[string]bridge.Launcher) *bridge.Bridge {
	cfg := bridge.Conf{DefaultTimeout: 5, ProbeTimeout: 1, MaxRespawns: 2}
	return bridge.NewBridgeWithLaunchers(cfg, launchers, nil)
}

func TestCallRoundTrip(t *testing.T) {
	var spawns atomic.Int32
	b := newTestBridge(map[string]bridge.Launcher{
		"text": loopLauncher(func(l *worker.Loop, _ int32) {
			l.Register("echo", func(ctx context.Context, args map[string]any) (map[string]any, error) {
				return args, nil
			})
		}, &spawns),
	})
	defer b.Shutdown()

	data, err := b.Call(context.Background(), "text", "echo", map[string]any{"title": "mill"}, 0)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if data["title"] != "mill" {
		t.Errorf("data = %v, want title=mill", data)
	}
	if n := spawns.Load(); n != 1 {
		t.Errorf("spawned %d workers, want 1", n)
	}
}

func TestWorkerReusedAcrossCalls(t *testing.T) {
	var spawns atomic.Int32
	var calls atomic.Int32
	b := newTestBridge(map[string]bridge.Launcher{
		"text": loopLauncher(func(l *worker.Loop, _ int32) {
			l.Register("count", func(ctx context.Context, args map[string]any) (map[string]any, error) {
				return map[string]any{"n": calls.Add(1)}, nil
			})
		}, &spawns),
	})
	defer b.Shutdown()

	for i := 1; i <= 3; i++ {
		data, err := b.Call(context.Background(), "text", "count", nil, 0)
		if err != nil {
			t.Fatalf("call %d failed: %v", i, err)
		}
		if int(data["n"].(float64)) != i {
			t.Errorf("call %d: n = %v, want %d", i, data["n"], i)
		}
	}
	if n := spawns.Load(); n != 1 {
		t.Errorf("spawned %d workers, want 1 (process reuse)", n)
	}
}

func TestUnknownChannel(t *testing.T) {
	b := newTestBridge(nil)
	defer b.Shutdown()

	_, err := b.Call(context.Background(), "nope", "echo", nil, 0)
	bErr, ok := bridge.AsError(err)
	if !ok || bErr.Kind != bridge.ErrKindProtocol {
		t.Fatalf("err = %v, want Protocol bridge error", err)
	}
}

func TestUnknownOperation(t *testing.T) {
	var spawns atomic.Int32
	b := newTestBridge(map[string]bridge.Launcher{
		"text": loopLauncher(func(l *worker.Loop, _ int32) {}, &spawns),
	})
	defer b.Shutdown()

	_, err := b.Call(context.Background(), "text", "missing", nil, 0)
	bErr, ok := bridge.AsError(err)
	if !ok || bErr.Kind != bridge.ErrKindUnknownOperation {
		t.Fatalf("err = %v, want UnknownOperation bridge error", err)
	}
	if bErr.Retryable() {
		t.Error("unknown operation must not be retryable")
	}
}

func TestHandlerFailureKinds(t *testing.T) {
	var spawns atomic.Int32
	b := newTestBridge(map[string]bridge.Launcher{
		"text": loopLauncher(func(l *worker.Loop, _ int32) {
			l.Register("flaky", func(ctx context.Context, args map[string]any) (map[string]any, error) {
				return nil, worker.Retryablef("resource busy")
			})
			l.Register("invalid", func(ctx context.Context, args map[string]any) (map[string]any, error) {
				return nil, worker.Permanentf("bad input")
			})
			l.Register("plain", func(ctx context.Context, args map[string]any) (map[string]any, error) {
				return nil, errors.New("unclassified")
			})
		}, &spawns),
	})
	defer b.Shutdown()

	tests := []struct {
		operation string
		wantKind  string
		retryable bool
	}{
		{"flaky", bridge.ErrKindRetryable, true},
		{"invalid", bridge.ErrKindPermanent, false},
		{"plain", bridge.ErrKindPermanent, false},
	}
	for _, tt := range tests {
		_, err := b.Call(context.Background(), "text", tt.operation, nil, 0)
		bErr, ok := bridge.AsError(err)
		if !ok {
			t.Fatalf("%s: err = %v, want bridge error", tt.operation, err)
		}
		if bErr.Kind != tt.wantKind {
			t.Errorf("%s: kind = %s, want %s", tt.operation, bErr.Kind, tt.wantKind)
		}
		if bErr.Retryable() != tt.retryable {
			t.Errorf("%s: retryable = %v, want %v", tt.operation, bErr.Retryable(), tt.retryable)
		}
	}
}

func TestHandlerPanicKeepsWorkerAlive(t *testing.T) {
	var spawns atomic.Int32
	b := newTestBridge(map[string]bridge.Launcher{
		"text": loopLauncher(func(l *worker.Loop, _ int32) {
			l.Register("boom", func(ctx context.Context, args map[string]any) (map[string]any, error) {
				panic("handler bug")
			})
			l.Register("ok", func(ctx context.Context, args map[string]any) (map[string]any, error) {
				return map[string]any{"fine": true}, nil
			})
		}, &spawns),
	})
	defer b.Shutdown()

	_, err := b.Call(context.Background(), "text", "boom", nil, 0)
	bErr, ok := bridge.AsError(err)
	if !ok || bErr.Kind != bridge.ErrKindHandlerPanic {
		t.Fatalf("err = %v, want HandlerPanic bridge error", err)
	}

	// The panic was confined to the handler; the same process keeps serving.
	data, err := b.Call(context.Background(), "text", "ok", nil, 0)
	if err != nil {
		t.Fatalf("call after panic failed: %v", err)
	}
	if data["fine"] != true {
		t.Errorf("data = %v, want fine=true", data)
	}
	if n := spawns.Load(); n != 1 {
		t.Errorf("spawned %d workers, want 1", n)
	}
}

func TestTimeoutThenStaleResponseDiscarded(t *testing.T) {
	var spawns atomic.Int32
	b := newTestBridge(map[string]bridge.Launcher{
		"text": loopLauncher(func(l *worker.Loop, _ int32) {
			l.Register("slow", func(ctx context.Context, args map[string]any) (map[string]any, error) {
				time.Sleep(200 * time.Millisecond)
				return map[string]any{"late": true}, nil
			})
			l.Register("fast", func(ctx context.Context, args map[string]any) (map[string]any, error) {
				return map[string]any{"fast": true}, nil
			})
		}, &spawns),
	})
	defer b.Shutdown()

	_, err := b.Call(context.Background(), "text", "slow", nil, 50*time.Millisecond)
	bErr, ok := bridge.AsError(err)
	if !ok || bErr.Kind != bridge.ErrKindTimeout {
		t.Fatalf("err = %v, want Timeout bridge error", err)
	}
	if !bErr.Retryable() {
		t.Error("timeout must be retryable")
	}

	// The worker finishes "slow" eventually and emits a late response. The
	// next call first probes the suspect worker, then must get its own
	// response, not the stale one.
	data, err := b.Call(context.Background(), "text", "fast", nil, 2*time.Second)
	if err != nil {
		t.Fatalf("call after timeout failed: %v", err)
	}
	if data["fast"] != true {
		t.Errorf("data = %v, want fast=true (stale response leaked through)", data)
	}
	if n := spawns.Load(); n != 1 {
		t.Errorf("spawned %d workers, want 1 (healthy worker must not be replaced)", n)
	}
}

func TestHungWorkerReplacedAfterFailedProbe(t *testing.T) {
	var spawns atomic.Int32
	b := newTestBridge(map[string]bridge.Launcher{
		"text": loopLauncher(func(l *worker.Loop, instance int32) {
			l.Register("work", func(ctx context.Context, args map[string]any) (map[string]any, error) {
				if instance == 1 {
					select {} // first instance wedges for good
				}
				return map[string]any{"instance": instance}, nil
			})
		}, &spawns),
	})
	defer b.Shutdown()

	_, err := b.Call(context.Background(), "text", "work", nil, 50*time.Millisecond)
	bErr, ok := bridge.AsError(err)
	if !ok || bErr.Kind != bridge.ErrKindTimeout {
		t.Fatalf("err = %v, want Timeout bridge error", err)
	}

	// The wedged worker cannot answer the probe either; the bridge must
	// replace the process and serve from the new instance.
	data, err := b.Call(context.Background(), "text", "work", nil, 2*time.Second)
	if err != nil {
		t.Fatalf("call after replacement failed: %v", err)
	}
	if int(data["instance"].(float64)) != 2 {
		t.Errorf("instance = %v, want 2", data["instance"])
	}
	if n := spawns.Load(); n != 2 {
		t.Errorf("spawned %d workers, want 2", n)
	}
}

func TestCrashedWorkerRespawned(t *testing.T) {
	var spawns atomic.Int32
	launch := func(ctx context.Context) (bridge.Transport, error) {
		instance := spawns.Add(1)
		reqR, reqW := io.Pipe()
		respR, respW := io.Pipe()
		loop := worker.NewLoop()
		loop.Register("work", func(ctx context.Context, args map[string]any) (map[string]any, error) {
			if instance == 1 {
				respW.Close() // simulates the process dying mid-call
				select {}
			}
			return map[string]any{"instance": instance}, nil
		})
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = loop.Run(context.Background(), reqR, respW)
			respW.Close()
		}()
		return newPipeTransport(reqW, respR, done), nil
	}
	b := newTestBridge(map[string]bridge.Launcher{"text": launch})
	defer b.Shutdown()

	_, err := b.Call(context.Background(), "text", "work", nil, time.Second)
	bErr, ok := bridge.AsError(err)
	if !ok || bErr.Kind != bridge.ErrKindWorkerCrashed {
		t.Fatalf("err = %v, want WorkerCrashed bridge error", err)
	}
	if !bErr.Retryable() {
		t.Error("worker crash must be retryable")
	}

	data, err := b.Call(context.Background(), "text", "work", nil, time.Second)
	if err != nil {
		t.Fatalf("call after crash failed: %v", err)
	}
	if int(data["instance"].(float64)) != 2 {
		t.Errorf("instance = %v, want 2", data["instance"])
	}
}

func TestSpawnFailureExhaustsChannel(t *testing.T) {
	var attempts atomic.Int32
	launch := func(ctx context.Context) (bridge.Transport, error) {
		attempts.Add(1)
		return nil, fmt.Errorf("binary not found")
	}
	b := newTestBridge(map[string]bridge.Launcher{"text": launch})
	defer b.Shutdown()

	// maxRespawns=2: two replacement attempts after the first failure, then
	// the channel is broken and calls fail fast without launching anything.
	for i := 0; i < 3; i++ {
		_, err := b.Call(context.Background(), "text", "work", nil, time.Second)
		bErr, ok := bridge.AsError(err)
		if !ok || bErr.Kind != bridge.ErrKindSpawnFailed {
			t.Fatalf("call %d: err = %v, want SpawnFailed", i, err)
		}
	}

	_, err := b.Call(context.Background(), "text", "work", nil, time.Second)
	bErr, ok := bridge.AsError(err)
	if !ok || bErr.Kind != bridge.ErrKindChannelBroken {
		t.Fatalf("err = %v, want ChannelBroken", err)
	}
	if bErr.Retryable() {
		t.Error("a broken channel must not be retryable")
	}
	if n := attempts.Load(); n != 3 {
		t.Errorf("launch attempts = %d, want 3", n)
	}
}

func TestCallCancelled(t *testing.T) {
	var spawns atomic.Int32
	b := newTestBridge(map[string]bridge.Launcher{
		"text": loopLauncher(func(l *worker.Loop, _ int32) {
			l.Register("slow", func(ctx context.Context, args map[string]any) (map[string]any, error) {
				time.Sleep(time.Second)
				return nil, nil
			})
		}, &spawns),
	})
	defer b.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := b.Call(ctx, "text", "slow", nil, 5*time.Second)
	bErr, ok := bridge.AsError(err)
	if !ok || bErr.Kind != bridge.ErrKindCancelled {
		t.Fatalf("err = %v, want Cancelled bridge error", err)
	}
}
