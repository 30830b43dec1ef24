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
	"time"
)

// Checkpoint is durable proof that one named step of one job completed,
// carrying the reference the next step uses to locate the artifact.
// At most one row exists per (job_id, step_name).
type Checkpoint struct {
	JobId       string    `gorm:"column:job_id;type:VARCHAR(64);primaryKey" json:"jobId"`
	StepName    string    `gorm:"column:step_name;type:VARCHAR(128);primaryKey" json:"stepName"`
	CompletedAt time.Time `gorm:"column:completed_at" json:"completedAt"`
	OutputRef   string    `gorm:"column:output_ref;type:TEXT" json:"outputRef"`
}

func (Checkpoint) TableName() string {
	return "t_checkpoint"
}
