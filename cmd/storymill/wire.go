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

//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"

	"github.com/storymill/storymill/internal/engine/bootstrap"
	"github.com/storymill/storymill/internal/engine/config"
	"github.com/storymill/storymill/internal/engine/repo"
	"github.com/storymill/storymill/internal/pkg/bridge"
	"github.com/storymill/storymill/internal/pkg/pipeline"
	"github.com/storymill/storymill/internal/pkg/steps"
	"github.com/storymill/storymill/internal/pkg/storage"
	"github.com/storymill/storymill/pkg/database"
	"github.com/storymill/storymill/pkg/logger"
	"github.com/storymill/storymill/pkg/metrics"
	"github.com/storymill/storymill/pkg/shutdown"
)

func initApp(configPath string) (*bootstrap.App, func(), error) {
	panic(wire.Build(
		// configuration
		config.ProviderSet,
		// logging (depends on config)
		logger.ProviderSet,
		// database (depends on config)
		database.ProviderSet,
		// metrics registry and server
		metrics.ProviderSet,
		// repositories (depend on database)
		repo.ProviderSet,
		// artifact storage (depends on config)
		storage.ProviderSet,
		// worker bridge (depends on config, metrics)
		bridge.ProviderSet,
		// step executors (depend on bridge, storage)
		steps.ProviderSet,
		// orchestration (depends on repo, steps, metrics)
		pipeline.ProviderSet,
		// graceful shutdown coordination
		shutdown.ProviderSet,
		// application
		bootstrap.NewApp,
	))
}
