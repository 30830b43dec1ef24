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

package bootstrap

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron"

	"github.com/storymill/storymill/internal/engine/config"
	"github.com/storymill/storymill/internal/engine/repo"
	"github.com/storymill/storymill/internal/pkg/bridge"
	"github.com/storymill/storymill/internal/pkg/pipeline"
	"github.com/storymill/storymill/internal/pkg/pipeline/spec"
	"github.com/storymill/storymill/pkg/database"
	"github.com/storymill/storymill/pkg/log"
	"github.com/storymill/storymill/pkg/metrics"
	"github.com/storymill/storymill/pkg/safe"
	"github.com/storymill/storymill/pkg/shutdown"
)

type App struct {
	Logger        *log.Logger
	AppConf       *config.AppConfig
	DB            database.Manager
	Repos         *repo.Repositories
	Bridge        *bridge.Bridge
	Registry      *spec.Registry
	Orchestrator  *pipeline.Orchestrator
	Batch         *pipeline.BatchDriver
	MetricsServer *metrics.Server
	ShutdownMgr   *shutdown.Manager
}

// InitAppFunc init app function type
type InitAppFunc func(configPath string) (*App, func(), error)

func NewApp(
	logger *log.Logger,
	appConf *config.AppConfig,
	db database.Manager,
	idb database.IDatabase,
	repos *repo.Repositories,
	b *bridge.Bridge,
	registry *spec.Registry,
	orch *pipeline.Orchestrator,
	batch *pipeline.BatchDriver,
	metricsServer *metrics.Server,
	shutdownMgr *shutdown.Manager,
) (*App, func(), error) {
	if err := repo.AutoMigrate(idb); err != nil {
		return nil, nil, err
	}

	app := &App{
		Logger:        logger,
		AppConf:       appConf,
		DB:            db,
		Repos:         repos,
		Bridge:        b,
		Registry:      registry,
		Orchestrator:  orch,
		Batch:         batch,
		MetricsServer: metricsServer,
		ShutdownMgr:   shutdownMgr,
	}

	cleanup := func() {
		if b != nil {
			log.Info("Shutting down worker processes...")
			b.Shutdown()
		}

		if metricsServer != nil {
			log.Info("Shutting down metrics server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Stop(shutdownCtx); err != nil {
				log.Errorw("Failed to stop metrics server", "error", err)
			}
		}

		if db != nil {
			db.Close()
		}
	}

	return app, cleanup, nil
}

// Bootstrap init app, return App instance and cleanup function
func Bootstrap(configFile string, initApp InitAppFunc) (*App, func(), *config.AppConfig, error) {
	app, cleanup, err := initApp(configFile)
	if err != nil {
		return nil, nil, nil, err
	}
	return app, cleanup, app.AppConf, nil
}

// Run starts background services, resumes interrupted jobs and waits for an
// exit signal. Shutdown cancels in-flight runs between steps; their jobs stay
// in running and are resumed by the next start.
func Run(app *App, cleanup func()) {
	appConf := app.AppConf

	if app.MetricsServer != nil {
		if err := app.MetricsServer.Start(); err != nil {
			log.Errorw("Metrics server failed", "error", err)
		}
	}

	runCtx, cancelRuns := context.WithCancel(context.Background())

	// Retention janitor: prune old terminal jobs and their checkpoints.
	var janitor *cron.Cron
	if appConf.Janitor.Enabled {
		janitor = cron.New()
		retain := time.Duration(appConf.Janitor.RetainDays) * 24 * time.Hour
		err := janitor.AddFunc(appConf.Janitor.Schedule, func() {
			cutoff := time.Now().Add(-retain)
			pruned, err := app.Repos.Jobs.PruneTerminalBefore(runCtx, cutoff)
			if err != nil {
				log.Errorw("janitor prune failed", "error", err)
				return
			}
			if pruned > 0 {
				log.Infow("janitor pruned terminal jobs", "count", pruned, "cutoff", cutoff)
			}
		})
		if err != nil {
			log.Errorw("janitor schedule invalid, janitor disabled",
				"schedule", appConf.Janitor.Schedule, "error", err)
		} else {
			janitor.Start()
		}
	}

	// Pick up jobs a previous process left behind.
	safe.Go(func() {
		if err := app.Batch.ResumeInterrupted(runCtx); err != nil {
			log.Errorw("resume of interrupted jobs failed", "error", err)
		}
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	select {
	case sig := <-quit:
		log.Infow("Received OS signal, shutting down gracefully...", "signal", sig)
		if app.ShutdownMgr != nil {
			app.ShutdownMgr.Shutdown()
		}
	case <-app.ShutdownMgr.Wait():
		log.Info("Received shutdown request, shutting down gracefully...")
	}

	cancelRuns()
	if janitor != nil {
		janitor.Stop()
	}

	cleanup()

	log.Info("Server shutdown complete")
}
