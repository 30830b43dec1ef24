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
	"fmt"
	"sync"
	"testing"
	"time"
)

// scriptedTransport replays a fixed sequence of lines, then signals drained
// and blocks. The pump goroutine is the only reader, so once drained fires
// every scripted line has been handed to the pump in order.
type scriptedTransport struct {
	mu      sync.Mutex
	lines   [][]byte
	next    int
	drained chan struct{}
	once    sync.Once
	block   chan struct{}
	done    chan struct{}
}

func newScriptedTransport(lines [][]byte) *scriptedTransport {
	return &scriptedTransport{
		lines:   lines,
		drained: make(chan struct{}),
		block:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (t *scriptedTransport) Recv() ([]byte, error) {
	t.mu.Lock()
	if t.next < len(t.lines) {
		line := t.lines[t.next]
		t.next++
		t.mu.Unlock()
		return line, nil
	}
	t.mu.Unlock()
	t.once.Do(func() { close(t.drained) })
	<-t.block
	return nil, fmt.Errorf("transport closed")
}

func (t *scriptedTransport) Send(line []byte) error { return nil }
func (t *scriptedTransport) Done() <-chan struct{}  { return t.done }
func (t *scriptedTransport) Close() error {
	close(t.block)
	return nil
}

// A burst of stale output larger than the pump's buffer must evict the
// oldest buffered lines, never the newest: the newest is the only one that
// can belong to the call currently in flight.
func TestPumpEvictsOldestLineWhenBufferFull(t *testing.T) {
	var scripted [][]byte
	for i := 1; i <= 20; i++ {
		scripted = append(scripted, []byte(fmt.Sprintf("line-%02d", i)))
	}
	tr := newScriptedTransport(scripted)
	defer tr.Close()

	lines := startPump("narrator", tr)
	select {
	case <-tr.drained:
	case <-time.After(5 * time.Second):
		t.Fatal("pump did not consume the scripted lines")
	}

	var got []string
	for {
		select {
		case line := <-lines:
			got = append(got, string(line))
			continue
		default:
		}
		break
	}

	if len(got) != 16 {
		t.Fatalf("buffered %d lines, want 16", len(got))
	}
	if got[0] != "line-05" {
		t.Errorf("oldest surviving line = %s, want line-05 (lines 01-04 evicted)", got[0])
	}
	if got[len(got)-1] != "line-20" {
		t.Errorf("newest line = %s, want line-20 retained", got[len(got)-1])
	}
}
