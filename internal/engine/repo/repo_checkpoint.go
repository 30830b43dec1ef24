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

package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/storymill/storymill/internal/engine/model"
	"github.com/storymill/storymill/pkg/database"
)

// ICheckpointRepository defines persistence methods for step checkpoints.
// A checkpoint is written exactly once per (job, step); Put refuses to
// overwrite unless explicitly asked.
type ICheckpointRepository interface {
	Has(ctx context.Context, jobId, stepName string) (bool, error)
	Get(ctx context.Context, jobId, stepName string) (string, error)
	Put(ctx context.Context, jobId, stepName, outputRef string, overwrite bool) error
	ListForJob(ctx context.Context, jobId string) ([]*model.Checkpoint, error)
	InvalidateFrom(ctx context.Context, jobId, stepName string, orderedSteps []string) error
}

type CheckpointRepo struct {
	database.IDatabase
}

// NewCheckpointRepo creates the checkpoint repository.
func NewCheckpointRepo(db database.IDatabase) ICheckpointRepository {
	return &CheckpointRepo{IDatabase: db}
}

// Has reports whether a checkpoint exists for (jobId, stepName).
func (r *CheckpointRepo) Has(ctx context.Context, jobId, stepName string) (bool, error) {
	var count int64
	err := r.Database().WithContext(ctx).
		Model(&model.Checkpoint{}).
		Where("job_id = ? AND step_name = ?", jobId, stepName).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Get returns the output ref for (jobId, stepName), or ErrNotFound.
func (r *CheckpointRepo) Get(ctx context.Context, jobId, stepName string) (string, error) {
	var one model.Checkpoint
	err := r.Database().WithContext(ctx).
		Where("job_id = ? AND step_name = ?", jobId, stepName).
		First(&one).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	return one.OutputRef, nil
}

// Put writes the checkpoint. Without overwrite an existing row is an error;
// a forced re-run must invalidate first.
func (r *CheckpointRepo) Put(ctx context.Context, jobId, stepName, outputRef string, overwrite bool) error {
	cp := &model.Checkpoint{
		JobId:       jobId,
		StepName:    stepName,
		CompletedAt: time.Now(),
		OutputRef:   outputRef,
	}
	return r.Database().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.Checkpoint{}).
			Where("job_id = ? AND step_name = ?", jobId, stepName).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			if !overwrite {
				return fmt.Errorf("%w: %s/%s", ErrCheckpointExists, jobId, stepName)
			}
			if err := tx.Where("job_id = ? AND step_name = ?", jobId, stepName).
				Delete(&model.Checkpoint{}).Error; err != nil {
				return err
			}
		}
		return tx.Create(cp).Error
	})
}

// ListForJob returns all checkpoints of a job.
func (r *CheckpointRepo) ListForJob(ctx context.Context, jobId string) ([]*model.Checkpoint, error) {
	var list []*model.Checkpoint
	err := r.Database().WithContext(ctx).
		Where("job_id = ?", jobId).
		Order("completed_at ASC").
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

// InvalidateFrom removes the checkpoint for stepName and for every step
// configured to run after it. Downstream outputs may depend on the
// invalidated step, so they go together, in one transaction.
func (r *CheckpointRepo) InvalidateFrom(ctx context.Context, jobId, stepName string, orderedSteps []string) error {
	idx := -1
	for i, name := range orderedSteps {
		if name == stepName {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("step %q is not part of the configured pipeline", stepName)
	}
	targets := orderedSteps[idx:]

	return r.Database().WithContext(ctx).
		Where("job_id = ? AND step_name IN ?", jobId, targets).
		Delete(&model.Checkpoint{}).Error
}
