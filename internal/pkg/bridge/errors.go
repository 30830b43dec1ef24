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
	"errors"
	"fmt"
)

// Error kinds. Timeout/WorkerCrashed/SpawnFailed are environmental and
// retryable; Protocol-class kinds indicate a defect and are permanent.
const (
	ErrKindTimeout          = "Timeout"
	ErrKindCancelled        = "Cancelled"
	ErrKindWorkerCrashed    = "WorkerCrashed"
	ErrKindSpawnFailed      = "SpawnFailed"
	ErrKindProtocol         = "Protocol"
	ErrKindUnknownOperation = "UnknownOperation"
	ErrKindHandlerPanic     = "HandlerPanic"
	ErrKindChannelBroken    = "ChannelBroken"

	// Worker handlers use these two to classify their own failures.
	ErrKindRetryable = "Retryable"
	ErrKindPermanent = "Permanent"
)

// ErrChannelBroken marks a channel whose worker exhausted its respawn
// budget. Calls on a broken channel fail fast.
var ErrChannelBroken = errors.New("worker channel is broken")

// Error is the structured failure a bridge call returns.
type Error struct {
	Kind      string
	Channel   string
	Operation string
	Message   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("bridge call %s/%s failed: %s: %s", e.Channel, e.Operation, e.Kind, e.Message)
}

// Retryable reports whether the failure is environmental and worth retrying.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case ErrKindTimeout, ErrKindWorkerCrashed, ErrKindSpawnFailed, ErrKindRetryable:
		return true
	}
	return false
}

func newError(kind, channel, operation, message string) *Error {
	return &Error{Kind: kind, Channel: channel, Operation: operation, Message: message}
}

// AsError unwraps err into a bridge *Error when possible.
func AsError(err error) (*Error, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}
