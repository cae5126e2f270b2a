package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/fixturectl/internal/logger"
	"github.com/loykin/fixturectl/internal/ports"
	"github.com/loykin/fixturectl/internal/process"
	"github.com/loykin/fixturectl/internal/profile"
)

// EnvPrefix prefixes environment overrides, e.g. FIXTURECTL_RUN_LOG_DIR.
const EnvPrefix = "FIXTURECTL"

// File is the top-level TOML structure of a fixture definition.
type File struct {
	Run       RunConfig       `mapstructure:"run"`
	Log       logger.Config   `mapstructure:"log"`
	Env       []string        `mapstructure:"env"`
	EnvFiles  []string        `mapstructure:"env_files"`
	Processes []ProcessConfig `mapstructure:"processes"`
}

// RunConfig holds fixture-wide settings.
type RunConfig struct {
	LogDir     string `mapstructure:"log_dir"`
	PortBase   int    `mapstructure:"port_base"`
	PortMax    int    `mapstructure:"port_max"`
	ProbePorts bool   `mapstructure:"probe_ports"`
	Host       string `mapstructure:"host"`
	Parallel   bool   `mapstructure:"parallel"`
	HistoryDSN string `mapstructure:"history_dsn"`
	APIListen  string `mapstructure:"api_listen"`

	StartRetries      int           `mapstructure:"start_retries"`
	StartTimeout      time.Duration `mapstructure:"start_timeout"`
	StartPollInterval time.Duration `mapstructure:"start_poll_interval"`
	StateTimeout      time.Duration `mapstructure:"state_timeout"`
	StopTimeout       time.Duration `mapstructure:"stop_timeout"`
}

// ProcessConfig is one [[processes]] entry. With Profile set, the matching
// [processes.combo] or [processes.tablet] table builds the base config and
// explicit fields override it.
type ProcessConfig struct {
	process.Config `mapstructure:",squash"`

	Profile string                 `mapstructure:"profile"`
	Combo   *profile.ComboOptions  `mapstructure:"combo"`
	Tablet  *profile.TabletOptions `mapstructure:"tablet"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("run.log_dir", filepath.Join(os.TempDir(), "fixturectl"))
	v.SetDefault("run.port_base", ports.DefaultBase)
	v.SetDefault("run.port_max", ports.DefaultMax)
	v.SetDefault("run.probe_ports", true)
	v.SetDefault("run.host", "")
	v.SetDefault("run.parallel", false)
	v.SetDefault("run.history_dsn", "")
	v.SetDefault("run.api_listen", "")
	v.SetDefault("run.start_retries", process.DefaultStartRetries)
	v.SetDefault("run.start_timeout", process.DefaultStartTimeout)
	v.SetDefault("run.start_poll_interval", process.DefaultStartPollInterval)
	v.SetDefault("run.state_timeout", process.DefaultStateTimeout)
	v.SetDefault("run.stop_timeout", time.Duration(0))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "color")
	v.SetDefault("log.file", "")
}

// Load reads a TOML fixture file. An empty path loads defaults only, which
// still honours FIXTURECTL_* environment overrides.
func Load(path string) (*File, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var fc File
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &fc, nil
}

// ProcessConfigs resolves profiles and applies run-wide defaults.
func (f *File) ProcessConfigs() ([]process.Config, error) {
	var errs []error
	out := make([]process.Config, 0, len(f.Processes))
	seen := make(map[string]bool, len(f.Processes))
	for i, pc := range f.Processes {
		cfg, err := pc.resolve()
		if err != nil {
			errs = append(errs, fmt.Errorf("processes[%d]: %w", i, err))
			continue
		}
		f.applyRunDefaults(&cfg)
		if seen[cfg.Name] {
			errs = append(errs, fmt.Errorf("processes[%d]: duplicate name %q", i, cfg.Name))
			continue
		}
		seen[cfg.Name] = true
		out = append(out, cfg)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}

func (pc ProcessConfig) resolve() (process.Config, error) {
	var base process.Config
	var err error
	switch strings.ToLower(pc.Profile) {
	case "":
		return pc.Config, nil
	case "combo":
		if pc.Combo == nil {
			return process.Config{}, errors.New("profile combo requires a [combo] table")
		}
		base, err = profile.Combo(*pc.Combo)
	case "tablet":
		if pc.Tablet == nil {
			return process.Config{}, errors.New("profile tablet requires a [tablet] table")
		}
		base, err = profile.Tablet(*pc.Tablet)
	default:
		return process.Config{}, fmt.Errorf("unknown profile %q", pc.Profile)
	}
	if err != nil {
		return process.Config{}, err
	}
	return overlay(base, pc.Config), nil
}

// overlay copies the non-zero fields of o onto base. Args are appended.
func overlay(base, o process.Config) process.Config {
	if o.Name != "" {
		base.Name = o.Name
	}
	if o.Alias != "" {
		base.Alias = o.Alias
	}
	if o.Binary != "" {
		base.Binary = o.Binary
	}
	base.Args = append(base.Args, o.Args...)
	base.Env = append(base.Env, o.Env...)
	if o.WorkDir != "" {
		base.WorkDir = o.WorkDir
	}
	if o.LogDir != "" {
		base.LogDir = o.LogDir
	}
	if o.Host != "" {
		base.Host = o.Host
	}
	base.RPC = base.RPC || o.RPC
	if o.PIDFile != "" {
		base.PIDFile = o.PIDFile
	}
	if o.Flags != (process.Flags{}) {
		base.Flags = o.Flags
	}
	if o.Health.Path != "" {
		base.Health.Path = o.Health.Path
	}
	if o.Health.StateField != "" {
		base.Health.StateField = o.Health.StateField
	}
	if o.Health.ReadyPattern != "" {
		base.Health.ReadyPattern = o.Health.ReadyPattern
	}
	if o.StartRetries != 0 {
		base.StartRetries = o.StartRetries
	}
	if o.StartTimeout != 0 {
		base.StartTimeout = o.StartTimeout
	}
	if o.StartPollInterval != 0 {
		base.StartPollInterval = o.StartPollInterval
	}
	if o.StateTimeout != 0 {
		base.StateTimeout = o.StateTimeout
	}
	if o.StatePollInterval != 0 {
		base.StatePollInterval = o.StatePollInterval
	}
	if o.StopTimeout != 0 {
		base.StopTimeout = o.StopTimeout
	}
	if o.WaitState != "" {
		base.WaitState = o.WaitState
	}
	return base
}

func (f *File) applyRunDefaults(c *process.Config) {
	r := f.Run
	if c.LogDir == "" {
		c.LogDir = filepath.Join(r.LogDir, c.Name)
	}
	if c.Host == "" {
		c.Host = r.Host
	}
	if c.StartRetries == 0 {
		c.StartRetries = r.StartRetries
	}
	if c.StartTimeout == 0 {
		c.StartTimeout = r.StartTimeout
	}
	if c.StartPollInterval == 0 {
		c.StartPollInterval = r.StartPollInterval
	}
	if c.StateTimeout == 0 {
		c.StateTimeout = r.StateTimeout
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = r.StopTimeout
	}
}

// GlobalEnv merges env_files in order, then the top-level env list.
func (f *File) GlobalEnv() ([]string, error) {
	var out []string
	for _, p := range f.EnvFiles {
		pairs, err := LoadEnvFile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, pairs...)
	}
	return append(out, f.Env...), nil
}

// LoadEnvFile parses a .env file of KEY=VALUE lines. Blank lines and lines
// starting with # are ignored.
func LoadEnvFile(path string) ([]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out = append(out, strings.TrimSpace(k)+"="+strings.TrimSpace(v))
	}
	return out, nil
}
