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
	"errors"
	"fmt"

	"github.com/google/wire"
	"gorm.io/gorm"

	"github.com/storymill/storymill/internal/engine/model"
	"github.com/storymill/storymill/pkg/database"
)

// ProviderSet provides all repositories.
var ProviderSet = wire.NewSet(
	NewJobRepo,
	NewCheckpointRepo,
	NewRepositories,
)

// Sentinel errors shared by the repositories.
var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a status update lost a write race or the
	// requested transition is not allowed from the current status.
	ErrConflict = errors.New("write conflict")

	// ErrCheckpointExists is returned by Put when a checkpoint for the
	// (job, step) pair already exists and overwrite was not requested.
	ErrCheckpointExists = errors.New("checkpoint already exists")
)

// Repositories aggregates the persistence layer handed to the bootstrap.
type Repositories struct {
	Jobs        IJobRepository
	Checkpoints ICheckpointRepository
}

// NewRepositories bundles the repositories.
func NewRepositories(jobs IJobRepository, checkpoints ICheckpointRepository) *Repositories {
	return &Repositories{Jobs: jobs, Checkpoints: checkpoints}
}

// AutoMigrate creates or migrates the engine tables.
func AutoMigrate(db database.IDatabase) error {
	if err := db.Database().AutoMigrate(&model.Job{}, &model.Checkpoint{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// Count returns the row count of the current query.
func Count(tx *gorm.DB) (int64, error) {
	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}
