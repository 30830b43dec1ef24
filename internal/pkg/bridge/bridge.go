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

package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/google/wire"
	"github.com/rs/xid"

	"github.com/storymill/storymill/pkg/metrics"
)

// ProviderSet is the Wire provider set for the bridge.
var ProviderSet = wire.NewSet(NewBridge)

// WorkerConf describes the process serving one channel.
type WorkerConf struct {
	Command string            `mapstructure:"command"`
	Args    []string          `mapstructure:"args"`
	Dir     string            `mapstructure:"dir"`
	Env     map[string]string `mapstructure:"env"`
}

// Conf is the bridge section of the app configuration.
type Conf struct {
	Workers        map[string]WorkerConf `mapstructure:"workers"`
	DefaultTimeout int                   `mapstructure:"defaultTimeout"` // seconds
	ProbeTimeout   int                   `mapstructure:"probeTimeout"`   // seconds
	MaxRespawns    int                   `mapstructure:"maxRespawns"`
}

// SetDefaults applies defaults for unset fields.
func (c *Conf) SetDefaults() {
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 600
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 10
	}
	if c.MaxRespawns <= 0 {
		c.MaxRespawns = 2
	}
}

// Bridge manages one worker process per named channel and performs
// correlated request/response calls against them. Worker processes are
// spawned lazily on first use and reused across calls so expensive model
// initialization is paid once per process, not per call.
type Bridge struct {
	cfg      Conf
	channels map[string]*channel
	m        *metrics.Metrics
}

// NewBridge creates a bridge with process-backed launchers from config.
func NewBridge(cfg Conf, m *metrics.Metrics) *Bridge {
	cfg.SetDefaults()
	b := &Bridge{
		cfg:      cfg,
		channels: make(map[string]*channel, len(cfg.Workers)),
		m:        m,
	}
	for name, spec := range cfg.Workers {
		b.channels[name] = newChannel(name, NewProcessLauncher(spec),
			time.Duration(cfg.ProbeTimeout)*time.Second, cfg.MaxRespawns)
	}
	return b
}

// NewBridgeWithLaunchers creates a bridge over caller-supplied launchers.
// Tests use this to run the real protocol over in-process pipes.
func NewBridgeWithLaunchers(cfg Conf, launchers map[string]Launcher, m *metrics.Metrics) *Bridge {
	cfg.SetDefaults()
	b := &Bridge{
		cfg:      cfg,
		channels: make(map[string]*channel, len(launchers)),
		m:        m,
	}
	for name, launch := range launchers {
		b.channels[name] = newChannel(name, launch,
			time.Duration(cfg.ProbeTimeout)*time.Second, cfg.MaxRespawns)
	}
	return b
}

// DefaultTimeout returns the configured per-call default deadline.
func (b *Bridge) DefaultTimeout() time.Duration {
	return time.Duration(b.cfg.DefaultTimeout) * time.Second
}

// Call sends one operation to the named channel and waits for its correlated
// response, the deadline, or cancellation, whichever comes first. At most
// one request is in flight per channel; concurrent callers queue.
func (b *Bridge) Call(ctx context.Context, channelName, operation string, args map[string]any, timeout time.Duration) (map[string]any, error) {
	ch, ok := b.channels[channelName]
	if !ok {
		return nil, newError(ErrKindProtocol, channelName, operation,
			fmt.Sprintf("no worker configured for channel %q", channelName))
	}
	if timeout <= 0 {
		timeout = b.DefaultTimeout()
	}

	start := time.Now()
	data, callErr := ch.call(ctx, operation, args, timeout, func() {
		if b.m != nil {
			b.m.WorkerRestarts.WithLabelValues(channelName).Inc()
		}
	})
	if b.m != nil {
		outcome := "ok"
		if callErr != nil {
			outcome = callErr.Kind
		}
		b.m.BridgeCallsTotal.WithLabelValues(channelName, operation, outcome).Inc()
		b.m.BridgeCallDuration.WithLabelValues(channelName, operation).Observe(time.Since(start).Seconds())
	}
	if callErr != nil {
		return nil, callErr
	}
	return data, nil
}

// Shutdown stops every worker process.
func (b *Bridge) Shutdown() {
	for _, ch := range b.channels {
		ch.close()
	}
}

// newCorrelationID returns a fresh request id. xid values are unique per
// process and cheap; ids are never reused.
func newCorrelationID() string {
	return xid.New().String()
}
