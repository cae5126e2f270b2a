package process

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/loykin/fixturectl/internal/health"
)

const (
	DefaultStartRetries      = 5
	DefaultStartTimeout      = 60 * time.Second
	DefaultStartPollInterval = 300 * time.Millisecond
	DefaultStateTimeout      = 60 * time.Second
	DefaultStatePollInterval = 100 * time.Millisecond

	// DefaultStateField is the status variable WaitForState inspects.
	DefaultStateField = "TabletStateName"
)

// Flags names the command-line flags generated for the child. An empty name
// suppresses that flag.
type Flags struct {
	Port    string `mapstructure:"port" json:"port"`
	RPCPort string `mapstructure:"rpc_port" json:"rpc_port"`
	LogDir  string `mapstructure:"log_dir" json:"log_dir"`
}

// DefaultFlags matches the flag names shard and router binaries accept.
func DefaultFlags() Flags {
	return Flags{Port: "-port", RPCPort: "-grpc_port", LogDir: "-log_dir"}
}

// HealthConfig controls how readiness is judged from the status document.
type HealthConfig struct {
	Path string `mapstructure:"path" json:"path"`
	// StateField is the variable WaitForState reads.
	StateField string `mapstructure:"state_field" json:"state_field"`
	// ReadyPattern, when set, must match StateField before the process counts
	// as started. Otherwise any decodable document is enough.
	ReadyPattern string `mapstructure:"ready_pattern" json:"ready_pattern"`
}

// Config describes one supervised process.
type Config struct {
	Name    string   `mapstructure:"name" json:"name"`
	Alias   string   `mapstructure:"alias" json:"alias"`
	Binary  string   `mapstructure:"binary" json:"binary"`
	Args    []string `mapstructure:"args" json:"args"`
	Env     []string `mapstructure:"env" json:"env"`
	WorkDir string   `mapstructure:"work_dir" json:"work_dir"`
	LogDir  string   `mapstructure:"log_dir" json:"log_dir"`
	// Host overrides the advertised host name in Addr and RPCAddr.
	Host    string `mapstructure:"host" json:"host"`
	RPC     bool   `mapstructure:"rpc" json:"rpc"`
	PIDFile string `mapstructure:"pid_file" json:"pid_file"`

	Flags  Flags        `mapstructure:"flags" json:"flags"`
	Health HealthConfig `mapstructure:"health" json:"health"`

	StartRetries      int           `mapstructure:"start_retries" json:"start_retries"`
	StartTimeout      time.Duration `mapstructure:"start_timeout" json:"start_timeout"`
	StartPollInterval time.Duration `mapstructure:"start_poll_interval" json:"start_poll_interval"`
	StateTimeout      time.Duration `mapstructure:"state_timeout" json:"state_timeout"`
	StatePollInterval time.Duration `mapstructure:"state_poll_interval" json:"state_poll_interval"`
	// StopTimeout bounds a graceful stop before it escalates to a kill.
	// Zero waits for as long as the child takes.
	StopTimeout time.Duration `mapstructure:"stop_timeout" json:"stop_timeout"`

	// WaitState is the state pattern a supervisor waits for after startup.
	WaitState string `mapstructure:"wait_state" json:"wait_state"`
}

// WithDefaults fills zero-valued tunables.
func (c Config) WithDefaults() Config {
	if c.StartRetries <= 0 {
		c.StartRetries = DefaultStartRetries
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = DefaultStartTimeout
	}
	if c.StartPollInterval <= 0 {
		c.StartPollInterval = DefaultStartPollInterval
	}
	if c.StateTimeout <= 0 {
		c.StateTimeout = DefaultStateTimeout
	}
	if c.StatePollInterval <= 0 {
		c.StatePollInterval = DefaultStatePollInterval
	}
	if c.Flags == (Flags{}) {
		c.Flags = DefaultFlags()
	}
	if c.Health.Path == "" {
		c.Health.Path = health.DefaultPath
	}
	if c.Health.StateField == "" {
		c.Health.StateField = DefaultStateField
	}
	if c.Alias == "" {
		c.Alias = c.Name
	}
	return c
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	var errs []error
	if c.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if c.Binary == "" {
		errs = append(errs, fmt.Errorf("%s: binary is required", c.Name))
	}
	if c.LogDir == "" {
		errs = append(errs, fmt.Errorf("%s: log_dir is required", c.Name))
	}
	if c.Health.ReadyPattern != "" {
		if _, err := health.MatchString(c.Health.ReadyPattern); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Name, err))
		}
	}
	return errors.Join(errs...)
}

// BuildArgs returns the child's argument vector: generated flags first,
// then the configured extras in order.
func BuildArgs(c Config, port, rpcPort int) []string {
	args := make([]string, 0, 6+len(c.Args))
	if c.Flags.Port != "" {
		args = append(args, c.Flags.Port, strconv.Itoa(port))
	}
	if c.Flags.LogDir != "" && c.LogDir != "" {
		args = append(args, c.Flags.LogDir, c.LogDir)
	}
	if rpcPort > 0 && c.Flags.RPCPort != "" {
		args = append(args, c.Flags.RPCPort, strconv.Itoa(rpcPort))
	}
	return append(args, c.Args...)
}

// LogPath is the capture file for one spawn attempt.
func LogPath(dir, name string, port, attempt int) string {
	return filepath.Join(dir, fmt.Sprintf("%s.%d.%d.log", name, port, attempt))
}
