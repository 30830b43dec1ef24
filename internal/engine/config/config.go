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
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/storymill/storymill/internal/pkg/bridge"
	"github.com/storymill/storymill/internal/pkg/pipeline"
	"github.com/storymill/storymill/internal/pkg/pipeline/spec"
	"github.com/storymill/storymill/internal/pkg/storage"
	"github.com/storymill/storymill/pkg/database"
	"github.com/storymill/storymill/pkg/log"
	"github.com/storymill/storymill/pkg/logger"
	"github.com/storymill/storymill/pkg/metrics"
)

// JanitorConfig controls retention of finished jobs.
type JanitorConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Schedule   string `mapstructure:"schedule"`   // cron expression
	RetainDays int    `mapstructure:"retainDays"` // terminal jobs older than this are pruned
}

// SetDefaults applies defaults for unset fields.
func (c *JanitorConfig) SetDefaults() {
	if c.Schedule == "" {
		c.Schedule = "@daily"
	}
	if c.RetainDays <= 0 {
		c.RetainDays = 30
	}
}

type AppConfig struct {
	Log       logger.Conf           `mapstructure:"log"`
	Database  database.Database     `mapstructure:"database"`
	Bridge    bridge.Conf           `mapstructure:"bridge"`
	Storage   storage.Conf          `mapstructure:"storage"`
	Metrics   metrics.MetricsConfig `mapstructure:"metrics"`
	Batch     pipeline.BatchConfig  `mapstructure:"batch"`
	Janitor   JanitorConfig         `mapstructure:"janitor"`
	Pipelines []spec.PipelineSpec   `mapstructure:"pipelines"`
}

var (
	cfg  AppConfig
	mu   sync.RWMutex
	once sync.Once
)

func NewConf(confDir string) *AppConfig {
	once.Do(func() {
		var err error
		cfg, err = LoadConfigFile(confDir)
		if err != nil {
			panic(fmt.Sprintf("load config file error: %s", err))
		}
	})
	mu.RLock()
	defer mu.RUnlock()
	return &cfg
}

// GetConfig returns the current configuration snapshot (hot-reload aware).
func GetConfig() AppConfig {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// LoadConfigFile load config file
func LoadConfigFile(confDir string) (AppConfig, error) {

	config := viper.New()
	config.SetConfigFile(confDir)
	if err := config.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("failed to read configuration file: %v", err)
	}

	config.WatchConfig()
	config.OnConfigChange(func(e fsnotify.Event) {
		log.Infow("The configuration changes, re-analyze the configuration file", "file", e.Name)
		if err := config.ReadInConfig(); err != nil {
			log.Errorw("failed to re-read configuration file", "error", err, "file", e.Name)
			return
		}
		mu.Lock()
		if err := config.Unmarshal(&cfg); err != nil {
			mu.Unlock()
			log.Errorw("failed to unmarshal configuration file", "error", err, "file", e.Name)
			return
		}
		applyDefaults(&cfg)
		mu.Unlock()
		// Pipeline definitions, worker commands and pool sizes are picked up
		// on the next run; live runs keep the definitions they started with.
		log.Infow("configuration reloaded successfully", "file", e.Name)
	})
	if err := config.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal configuration file: %v", err)
	}
	applyDefaults(&cfg)
	log.Infow("config file loaded",
		"path", confDir,
	)

	return cfg, nil
}

func applyDefaults(c *AppConfig) {
	c.Database.SetDefaults()
	c.Bridge.SetDefaults()
	c.Storage.SetDefaults()
	c.Metrics.SetDefaults()
	c.Batch.SetDefaults()
	c.Janitor.SetDefaults()
}
