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

package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/storymill/storymill/pkg/log"
	"github.com/storymill/storymill/pkg/safe"
)

// ProviderSet is the Wire provider set for metrics.
var ProviderSet = wire.NewSet(NewMetrics, NewServer)

// MetricsConfig configures the scrape endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// SetDefaults applies defaults for unset fields.
func (c *MetricsConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 9190
	}
	if c.Path == "" {
		c.Path = "/metrics"
	}
}

// Server serves the Prometheus scrape endpoint.
type Server struct {
	cfg    MetricsConfig
	server *http.Server
}

// NewServer creates a metrics server around the given collectors.
func NewServer(cfg MetricsConfig, m *Metrics) *Server {
	cfg.SetDefaults()
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	return &Server{
		cfg: cfg,
		server: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start begins serving. No-op when disabled.
func (s *Server) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	safe.Go(func() {
		log.Infow("metrics server started", "address", s.server.Addr, "path", s.cfg.Path)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("metrics server failed", "error", err)
		}
	})
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	return s.server.Shutdown(ctx)
}
