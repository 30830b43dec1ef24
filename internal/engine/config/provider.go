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

package config

import (
	"github.com/google/wire"

	"github.com/storymill/storymill/internal/pkg/bridge"
	"github.com/storymill/storymill/internal/pkg/pipeline"
	"github.com/storymill/storymill/internal/pkg/pipeline/spec"
	"github.com/storymill/storymill/internal/pkg/storage"
	"github.com/storymill/storymill/pkg/database"
	"github.com/storymill/storymill/pkg/logger"
	"github.com/storymill/storymill/pkg/metrics"
)

// ProviderSet exposes the loaded configuration and its sections to Wire.
var ProviderSet = wire.NewSet(
	NewConf,
	ProvideLogConf,
	ProvideDatabase,
	ProvideBridgeConf,
	ProvideStorageConf,
	ProvideMetricsConf,
	ProvideBatchConf,
	ProvideRegistry,
)

func ProvideLogConf(c *AppConfig) *logger.Conf { return &c.Log }

func ProvideDatabase(c *AppConfig) database.Database { return c.Database }

func ProvideBridgeConf(c *AppConfig) bridge.Conf { return c.Bridge }

func ProvideStorageConf(c *AppConfig) *storage.Conf { return &c.Storage }

func ProvideMetricsConf(c *AppConfig) metrics.MetricsConfig { return c.Metrics }

func ProvideBatchConf(c *AppConfig) pipeline.BatchConfig { return c.Batch }

// ProvideRegistry validates the configured pipeline definitions once at
// startup; a broken definition fails boot instead of failing jobs later.
func ProvideRegistry(c *AppConfig) (*spec.Registry, error) {
	return spec.NewRegistry(c.Pipelines)
}
