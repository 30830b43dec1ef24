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

package bridge

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/storymill/storymill/pkg/log"
	"github.com/storymill/storymill/pkg/safe"
)

// Transport carries framed protocol messages to and from one live worker
// instance. Done is closed when the worker goes away for any reason.
type Transport interface {
	Send(line []byte) error
	Recv() ([]byte, error)
	Close() error
	Done() <-chan struct{}
}

// Launcher starts a fresh worker instance for a channel. The bridge calls it
// lazily on first use and again when a dead or unhealthy worker is replaced.
type Launcher func(ctx context.Context) (Transport, error)

// channel owns one worker process and guarantees at most one in-flight
// request on it. A second call queues on the mutex behind the first.
type channel struct {
	name         string
	launch       Launcher
	probeTimeout time.Duration
	maxRespawns  int

	mu       sync.Mutex
	tr       Transport
	lines    <-chan []byte
	suspect  bool
	respawns int
	broken   bool
}

func newChannel(name string, launch Launcher, probeTimeout time.Duration, maxRespawns int) *channel {
	return &channel{
		name:         name,
		launch:       launch,
		probeTimeout: probeTimeout,
		maxRespawns:  maxRespawns,
	}
}

// startPump drains the transport into a buffered line channel so the call
// loop can select on responses, deadlines and worker death at once. Stale
// lines arriving with no call in flight are buffered and later discarded by
// correlation id; if the buffer ever fills the oldest unread line is evicted
// to make room, since with one request in flight the newest line is the only
// one that can belong to a live call.
func startPump(name string, tr Transport) <-chan []byte {
	lines := make(chan []byte, 16)
	safe.Go(func() {
		defer close(lines)
		for {
			line, err := tr.Recv()
			if err != nil {
				return
			}
			select {
			case lines <- line:
			default:
				select {
				case <-lines:
					log.Warnw("dropping stale worker output", "channel", name)
				default:
				}
				// The pump is the only writer, so a slot is free now.
				lines <- line
			}
		}
	})
	return lines
}

// ensure makes sure a live worker is attached, spawning one if needed.
func (c *channel) ensure(ctx context.Context) *Error {
	if c.broken {
		return newError(ErrKindChannelBroken, c.name, "", ErrChannelBroken.Error())
	}
	if c.tr != nil {
		return nil
	}
	tr, err := c.launch(ctx)
	if err != nil {
		c.respawns++
		if c.respawns > c.maxRespawns {
			c.broken = true
		}
		return newError(ErrKindSpawnFailed, c.name, "", err.Error())
	}
	c.tr = tr
	c.lines = startPump(c.name, tr)
	return nil
}

// teardown detaches the current worker, closing it if still alive.
func (c *channel) teardown() {
	if c.tr != nil {
		_ = c.tr.Close()
		c.tr = nil
		c.lines = nil
	}
	c.suspect = false
}

// probe checks the current worker with the builtin health operation.
func (c *channel) probe(ctx context.Context) bool {
	req := &Request{ID: newCorrelationID(), Operation: ProbeOperation}
	resp, err := c.exchange(ctx, req, c.probeTimeout)
	return err == nil && resp.OK
}

// recover replaces a suspect worker if its probe fails. A bounded number of
// replacements is attempted before the channel is marked broken; the policy
// is capped-retry-then-fail rather than unlimited respawn.
func (c *channel) recover(ctx context.Context, onRestart func()) *Error {
	if !c.suspect {
		return nil
	}
	if c.probe(ctx) {
		c.suspect = false
		c.respawns = 0
		return nil
	}
	log.Warnw("worker failed health probe, replacing process", "channel", c.name)
	c.teardown()
	c.respawns++
	if c.respawns > c.maxRespawns {
		c.broken = true
		return newError(ErrKindChannelBroken, c.name, "", ErrChannelBroken.Error())
	}
	if onRestart != nil {
		onRestart()
	}
	return c.ensure(ctx)
}

// call performs one request/response round trip with the channel's worker.
func (c *channel) call(ctx context.Context, operation string, args map[string]any, timeout time.Duration, onRestart func()) (map[string]any, *Error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken {
		return nil, newError(ErrKindChannelBroken, c.name, operation, ErrChannelBroken.Error())
	}
	if err := c.ensure(ctx); err != nil {
		err.Operation = operation
		return nil, err
	}
	if err := c.recover(ctx, onRestart); err != nil {
		err.Operation = operation
		return nil, err
	}

	req := &Request{ID: newCorrelationID(), Operation: operation, Args: args}
	resp, callErr := c.exchange(ctx, req, timeout)
	if callErr != nil {
		callErr.Operation = operation
		switch callErr.Kind {
		case ErrKindTimeout:
			// The worker may still be processing; the next call probes first
			// and any late response is discarded by id mismatch.
			c.suspect = true
		case ErrKindWorkerCrashed:
			c.teardown()
		}
		return nil, callErr
	}

	c.respawns = 0
	if !resp.OK {
		kind, message := ErrKindPermanent, "worker reported failure"
		if resp.Error != nil {
			kind, message = resp.Error.Kind, resp.Error.Message
		}
		return nil, newError(kind, c.name, operation, message)
	}
	return resp.Data, nil
}

// exchange writes one request and waits for the response carrying its id.
// Responses with any other id are stale leftovers of cancelled or timed-out
// calls and are discarded.
func (c *channel) exchange(ctx context.Context, req *Request, timeout time.Duration) (*Response, *Error) {
	line, err := EncodeMessage(req)
	if err != nil {
		return nil, newError(ErrKindProtocol, c.name, req.Operation, err.Error())
	}
	if err := c.tr.Send(line); err != nil {
		c.teardown()
		return nil, newError(ErrKindWorkerCrashed, c.name, req.Operation, fmt.Sprintf("write request: %v", err))
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case raw, ok := <-c.lines:
			if !ok {
				c.teardown()
				return nil, newError(ErrKindWorkerCrashed, c.name, req.Operation, "worker output stream closed")
			}
			resp, decErr := DecodeResponse(raw)
			if decErr != nil {
				return nil, newError(ErrKindProtocol, c.name, req.Operation, decErr.Error())
			}
			if resp.ID != req.ID {
				log.Debugw("discarding stale response", "channel", c.name, "id", resp.ID)
				continue
			}
			return resp, nil
		case <-timer.C:
			return nil, newError(ErrKindTimeout, c.name, req.Operation, fmt.Sprintf("no response within %s", timeout))
		case <-ctx.Done():
			return nil, newError(ErrKindCancelled, c.name, req.Operation, ctx.Err().Error())
		case <-c.tr.Done():
			c.teardown()
			return nil, newError(ErrKindWorkerCrashed, c.name, req.Operation, "worker process exited")
		}
	}
}

// close shuts the channel's worker down.
func (c *channel) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardown()
}

// procTransport runs a worker as a child process, speaking the protocol over
// its stdin/stdout. Stderr is passed through to the engine's stderr so worker
// logs stay visible without touching the protocol stream.
type procTransport struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	reader  *LineReader
	done    chan struct{}
	writeMu sync.Mutex
}

// NewProcessLauncher returns a Launcher spawning the given command.
func NewProcessLauncher(spec WorkerConf) Launcher {
	return func(ctx context.Context) (Transport, error) {
		cmd := exec.Command(spec.Command, spec.Args...)
		cmd.Dir = spec.Dir
		cmd.Env = os.Environ()
		for k, v := range spec.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		cmd.Stderr = os.Stderr

		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("stdin pipe: %w", err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("stdout pipe: %w", err)
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("start worker %q: %w", spec.Command, err)
		}
		log.Infow("worker process started", "command", spec.Command, "pid", cmd.Process.Pid)

		tr := &procTransport{
			cmd:    cmd,
			stdin:  stdin,
			reader: NewLineReader(stdout),
			done:   make(chan struct{}),
		}
		safe.Go(func() {
			err := cmd.Wait()
			if err != nil {
				log.Warnw("worker process exited", "command", spec.Command, "error", err)
			}
			close(tr.done)
		})
		return tr, nil
	}
}

func (t *procTransport) Send(line []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err := t.stdin.Write(line)
	return err
}

func (t *procTransport) Recv() ([]byte, error) {
	return t.reader.ReadLine()
}

func (t *procTransport) Done() <-chan struct{} {
	return t.done
}

// Close asks the worker to exit by closing its input stream, escalating to a
// kill if it lingers.
func (t *procTransport) Close() error {
	_ = t.stdin.Close()
	select {
	case <-t.done:
	case <-time.After(3 * time.Second):
		_ = t.cmd.Process.Kill()
		<-t.done
	}
	return nil
}
