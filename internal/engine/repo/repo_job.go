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

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/storymill/storymill/internal/engine/model"
	"github.com/storymill/storymill/pkg/database"
	"github.com/storymill/storymill/pkg/serde"
)

// JobQuery defines query parameters for listing jobs.
type JobQuery struct {
	Status   string
	Kind     string
	Page     int
	PageSize int
}

// IJobRepository defines persistence methods for jobs. UpdateStatus is the
// only way a job's status changes.
type IJobRepository interface {
	Create(ctx context.Context, kind string, metadata map[string]string) (*model.Job, error)
	Get(ctx context.Context, jobId string) (*model.Job, error)
	UpdateStatus(ctx context.Context, jobId, newStatus, errorMessage string) error
	UpdateMetadata(ctx context.Context, jobId string, metadata map[string]string) error
	List(ctx context.Context, query *JobQuery) ([]*model.Job, int64, error)
	PruneTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type JobRepo struct {
	database.IDatabase
}

// NewJobRepo creates the job repository.
func NewJobRepo(db database.IDatabase) IJobRepository {
	return &JobRepo{IDatabase: db}
}

// Create inserts a new job in status created.
func (r *JobRepo) Create(ctx context.Context, kind string, metadata map[string]string) (*model.Job, error) {
	job := &model.Job{
		JobId:    uuid.NewString(),
		Kind:     kind,
		Status:   model.JobStatusCreated,
		Metadata: serde.MarshalStringMap(metadata),
	}
	if err := r.Database().WithContext(ctx).Create(job).Error; err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

// Get returns the job by jobId, or ErrNotFound.
func (r *JobRepo) Get(ctx context.Context, jobId string) (*model.Job, error) {
	var one model.Job
	err := r.Database().WithContext(ctx).
		Where("job_id = ?", jobId).
		First(&one).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &one, nil
}

// UpdateStatus performs a guarded status transition. The UPDATE is
// conditioned on the status and lock version observed in the read, so a
// concurrent writer makes this fail with ErrConflict instead of being
// silently overwritten.
func (r *JobRepo) UpdateStatus(ctx context.Context, jobId, newStatus, errorMessage string) error {
	current, err := r.Get(ctx, jobId)
	if err != nil {
		return err
	}
	if !model.CanTransition(current.Status, newStatus) {
		return fmt.Errorf("%w: transition %s -> %s not allowed", ErrConflict, current.Status, newStatus)
	}
	if newStatus != model.JobStatusFailed {
		errorMessage = ""
	}

	res := r.Database().WithContext(ctx).
		Model(&model.Job{}).
		Where("job_id = ? AND status = ? AND lock_version = ?", jobId, current.Status, current.LockVersion).
		Updates(map[string]any{
			"status":        newStatus,
			"error_message": errorMessage,
			"lock_version":  current.LockVersion + 1,
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: job %s changed concurrently", ErrConflict, jobId)
	}
	return nil
}

// UpdateMetadata replaces the job's metadata map.
func (r *JobRepo) UpdateMetadata(ctx context.Context, jobId string, metadata map[string]string) error {
	res := r.Database().WithContext(ctx).
		Model(&model.Job{}).
		Where("job_id = ?", jobId).
		Updates(map[string]any{
			"metadata":   serde.MarshalStringMap(metadata),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns jobs and total count by query.
func (r *JobRepo) List(ctx context.Context, query *JobQuery) ([]*model.Job, int64, error) {
	if query == nil {
		query = &JobQuery{}
	}
	if query.Page <= 0 {
		query.Page = 1
	}
	if query.PageSize <= 0 {
		query.PageSize = 20
	}
	if query.PageSize > 100 {
		query.PageSize = 100
	}

	tx := r.Database().WithContext(ctx).Model(&model.Job{})
	if query.Status != "" {
		tx = tx.Where("status = ?", query.Status)
	}
	if query.Kind != "" {
		tx = tx.Where("kind = ?", query.Kind)
	}

	total, err := Count(tx)
	if err != nil {
		return nil, 0, err
	}

	var list []*model.Job
	err = tx.Order("created_at DESC").
		Offset((query.Page - 1) * query.PageSize).
		Limit(query.PageSize).
		Find(&list).Error
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

// PruneTerminalBefore deletes terminal jobs updated before cutoff, together
// with their checkpoints. Returns the number of jobs removed.
func (r *JobRepo) PruneTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var pruned int64
	err := r.Database().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		err := tx.Model(&model.Job{}).
			Where("status IN ? AND updated_at < ?",
				[]string{model.JobStatusSucceeded, model.JobStatusFailed, model.JobStatusCancelled}, cutoff).
			Pluck("job_id", &ids).Error
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("job_id IN ?", ids).Delete(&model.Checkpoint{}).Error; err != nil {
			return err
		}
		res := tx.Where("job_id IN ?", ids).Delete(&model.Job{})
		if res.Error != nil {
			return res.Error
		}
		pruned = res.RowsAffected
		return nil
	})
	return pruned, err
}
