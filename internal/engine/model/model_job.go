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

package model

import (
	"github.com/storymill/storymill/pkg/serde"
)

// Job is one end-to-end pipeline run for one unit of work (e.g. one story).
type Job struct {
	BaseModel
	JobId        string `gorm:"column:job_id;type:VARCHAR(64);uniqueIndex" json:"jobId"`
	Kind         string `gorm:"column:kind;type:VARCHAR(64);index" json:"kind"`
	Status       string `gorm:"column:status;type:VARCHAR(32);index" json:"status"`
	ErrorMessage string `gorm:"column:error_message;type:TEXT" json:"errorMessage,omitempty"`
	Metadata     string `gorm:"column:metadata;type:TEXT" json:"metadata,omitempty"` // JSON map, see pkg/serde
	LockVersion  int64  `gorm:"column:lock_version" json:"-"`
}

func (Job) TableName() string {
	return "t_job"
}

// Job status values. Transitions are monotonic except Running -> Running,
// which a resumed run re-enters after a crash.
const (
	JobStatusCreated   = "created"
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// jobTransitions is the allowed status transition table. Every path to a
// terminal status passes through running.
var jobTransitions = map[string][]string{
	JobStatusCreated: {JobStatusRunning},
	JobStatusRunning: {JobStatusRunning, JobStatusSucceeded, JobStatusFailed, JobStatusCancelled},
}

// CanTransition reports whether from -> to is an allowed status transition.
func CanTransition(from, to string) bool {
	for _, allowed := range jobTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminalStatus reports whether status is terminal.
func IsTerminalStatus(status string) bool {
	switch status {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// MetadataMap decodes the metadata column.
func (j *Job) MetadataMap() map[string]string {
	return serde.UnmarshalStringMap(j.Metadata)
}

// SetMetadataMap encodes m into the metadata column.
func (j *Job) SetMetadataMap(m map[string]string) {
	j.Metadata = serde.MarshalStringMap(m)
}
