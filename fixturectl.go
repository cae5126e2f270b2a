// Package fixturectl starts the server processes an integration test needs,
// waits for them to report healthy and tears them down afterwards.
//
// A typical test:
//
//	sup := fixturectl.New(fixturectl.Options{LogDir: t.TempDir()})
//	shard, _ := sup.Add(fixturectl.ProcessConfig{Name: "shard-0", Binary: "vttablet", RPC: true, WaitState: "SERVING"})
//	fixturectl.Start(t, sup)
//	dial(shard.RPCAddr())
package fixturectl

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/fixturectl/internal/config"
	"github.com/loykin/fixturectl/internal/fixture"
	"github.com/loykin/fixturectl/internal/fixturetest"
	"github.com/loykin/fixturectl/internal/history/factory"
	"github.com/loykin/fixturectl/internal/metrics"
	"github.com/loykin/fixturectl/internal/ports"
	"github.com/loykin/fixturectl/internal/process"
	"github.com/loykin/fixturectl/internal/profile"
	"github.com/loykin/fixturectl/internal/server"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Supervisor = fixture.Supervisor

type Options = fixture.Options

type Manifest = fixture.Manifest

type ProcessConfig = process.Config

type Process = process.ManagedProcess

type Status = process.Status

type ConfigFile = config.File

type ComboOptions = profile.ComboOptions

type TabletOptions = profile.TabletOptions

const (
	Graceful = process.Graceful
	Forced   = process.Forced
)

// New creates an empty Supervisor.
func New(opts Options) *Supervisor { return fixture.New(opts) }

// Start brings sup up for the duration of a test; see fixturetest.Start.
func Start(t fixturetest.TB, sup *Supervisor) { fixturetest.Start(t, sup) }

// Combo builds the config of a combined routing and storage process.
func Combo(o ComboOptions) (ProcessConfig, error) { return profile.Combo(o) }

// Tablet builds the config of one storage shard.
func Tablet(o TabletOptions) (ProcessConfig, error) { return profile.Tablet(o) }

// LoadConfig reads a TOML fixture file.
func LoadConfig(path string) (*ConfigFile, error) { return config.Load(path) }

// NewFromConfig builds a Supervisor with every process in f added but not
// started. The caller must Close it to release the history sink.
func NewFromConfig(f *ConfigFile, logger *slog.Logger, runID string) (*Supervisor, error) {
	cfgs, err := f.ProcessConfigs()
	if err != nil {
		return nil, err
	}
	globalEnv, err := f.GlobalEnv()
	if err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}
	sink, err := factory.NewSinkFromDSN(f.Run.HistoryDSN)
	if err != nil {
		return nil, err
	}
	sup := fixture.New(fixture.Options{
		RunID:  runID,
		LogDir: f.Run.LogDir,
		Host:   f.Run.Host,
		Ports: ports.Options{
			Base:  f.Run.PortBase,
			Max:   f.Run.PortMax,
			Probe: f.Run.ProbePorts,
			Host:  f.Run.Host,
		},
		Parallel: f.Run.Parallel,
		Env:      globalEnv,
		History:  sink,
		Logger:   logger,
	})
	for _, cfg := range cfgs {
		if _, err := sup.Add(cfg); err != nil {
			_ = sup.Close()
			return nil, err
		}
	}
	return sup, nil
}

// NewHTTPServer starts the control API for sup on addr. The returned
// server's Addr is the bound address, so ":0" can be used.
func NewHTTPServer(addr, basePath string, sup *Supervisor) (*http.Server, error) {
	return server.NewServer(addr, basePath, sup)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
