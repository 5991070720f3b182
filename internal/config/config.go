package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Isolation engines accepted by sandbox.engine.
const (
	EngineAuto      = "auto"
	EngineDocker    = "docker"
	EngineDockerCLI = "docker-cli"
	EnginePodman    = "podman"
	EngineVenv      = "venv"
)

type SandboxConfig struct {
	Engine              string        `mapstructure:"engine" yaml:"engine"`
	StagingRoot         string        `mapstructure:"staging_root" yaml:"staging_root"`
	RunTimeout          time.Duration `mapstructure:"run_timeout" yaml:"run_timeout"`
	InstallTimeout      time.Duration `mapstructure:"install_timeout" yaml:"install_timeout"`
	KillOnTimeout       bool          `mapstructure:"kill_on_timeout" yaml:"kill_on_timeout"`
	SerializePerSession bool          `mapstructure:"serialize_per_session" yaml:"serialize_per_session"`
	SweepOnStart        bool          `mapstructure:"sweep_on_start" yaml:"sweep_on_start"`
	TeardownConcurrency int           `mapstructure:"teardown_concurrency" yaml:"teardown_concurrency"`
}

type ContainerConfig struct {
	Image       string  `mapstructure:"image" yaml:"image"`
	Interpreter string  `mapstructure:"interpreter" yaml:"interpreter"`
	WorkDir     string  `mapstructure:"workdir" yaml:"workdir"`
	MemoryLimit string  `mapstructure:"memory_limit" yaml:"memory_limit"`
	CPULimit    float64 `mapstructure:"cpu_limit" yaml:"cpu_limit"`
	PidsLimit   int     `mapstructure:"pids_limit" yaml:"pids_limit"`
	NetworkMode string  `mapstructure:"network_mode" yaml:"network_mode"`
}

type FallbackConfig struct {
	Python  string `mapstructure:"python" yaml:"python"`
	VenvDir string `mapstructure:"venv_dir" yaml:"venv_dir"`
}

type StagingConfig struct {
	SkipDirs []string `mapstructure:"skip_dirs" yaml:"skip_dirs"`
}

type LoggingConfig struct {
	Mode  string `mapstructure:"mode" yaml:"mode"`
	Level string `mapstructure:"level" yaml:"level"`
}

type MCPConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
}

type Config struct {
	Listen    string          `mapstructure:"listen" yaml:"listen"`
	APIKey    string          `mapstructure:"api_key" yaml:"api_key"`
	DBPath    string          `mapstructure:"db_path" yaml:"db_path"`
	Sandbox   SandboxConfig   `mapstructure:"sandbox" yaml:"sandbox"`
	Container ContainerConfig `mapstructure:"container" yaml:"container"`
	Fallback  FallbackConfig  `mapstructure:"fallback" yaml:"fallback"`
	Staging   StagingConfig   `mapstructure:"staging" yaml:"staging"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	MCP       MCPConfig       `mapstructure:"mcp" yaml:"mcp"`
}

// DefaultSkipDirs are source directory entries never copied into staging.
var DefaultSkipDirs = []string{
	"__pycache__",
	"venv",
	".venv",
	"env",
	"node_modules",
	".git",
	".mypy_cache",
	".pytest_cache",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", "127.0.0.1:8090")
	v.SetDefault("api_key", "")
	v.SetDefault("db_path", "./sessionbox.db")

	v.SetDefault("sandbox.engine", EngineAuto)
	v.SetDefault("sandbox.staging_root", filepath.Join(os.TempDir(), "sessionbox"))
	v.SetDefault("sandbox.run_timeout", 30*time.Second)
	v.SetDefault("sandbox.install_timeout", 60*time.Second)
	v.SetDefault("sandbox.kill_on_timeout", true)
	v.SetDefault("sandbox.serialize_per_session", false)
	v.SetDefault("sandbox.sweep_on_start", true)
	v.SetDefault("sandbox.teardown_concurrency", 8)

	v.SetDefault("container.image", "python:3.12-slim")
	v.SetDefault("container.interpreter", "python")
	v.SetDefault("container.workdir", "/workspace")
	v.SetDefault("container.memory_limit", "512m")
	v.SetDefault("container.cpu_limit", 1.0)
	v.SetDefault("container.pids_limit", 256)
	// pip needs network access for installs.
	v.SetDefault("container.network_mode", "bridge")

	v.SetDefault("fallback.python", "python3")
	v.SetDefault("fallback.venv_dir", "venv")

	v.SetDefault("staging.skip_dirs", DefaultSkipDirs)

	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")

	v.SetDefault("mcp.enabled", false)
	v.SetDefault("mcp.listen", "127.0.0.1:8091")
}

// Load reads the YAML file at path (optional, a missing file means defaults)
// and applies SESSIONBOX_* environment overrides on top.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("sessionbox")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("SESSIONBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.Sandbox.StagingRoot != "" {
		abs, err := filepath.Abs(cfg.Sandbox.StagingRoot)
		if err != nil {
			return nil, fmt.Errorf("resolve sandbox.staging_root: %w", err)
		}
		cfg.Sandbox.StagingRoot = abs
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Sandbox.Engine {
	case EngineAuto, EngineDocker, EngineDockerCLI, EnginePodman, EngineVenv:
	default:
		return fmt.Errorf("unsupported sandbox.engine: %s", c.Sandbox.Engine)
	}

	if c.Sandbox.StagingRoot == "" {
		return fmt.Errorf("sandbox.staging_root is required")
	}
	if c.Sandbox.RunTimeout <= 0 {
		return fmt.Errorf("sandbox.run_timeout must be positive, got: %s", c.Sandbox.RunTimeout)
	}
	if c.Sandbox.InstallTimeout <= 0 {
		return fmt.Errorf("sandbox.install_timeout must be positive, got: %s", c.Sandbox.InstallTimeout)
	}
	if c.Sandbox.TeardownConcurrency <= 0 {
		return fmt.Errorf("sandbox.teardown_concurrency must be positive, got: %d", c.Sandbox.TeardownConcurrency)
	}

	if c.Container.MemoryLimit != "" {
		if _, err := units.RAMInBytes(c.Container.MemoryLimit); err != nil {
			return fmt.Errorf("invalid container.memory_limit: %w", err)
		}
	}
	if c.Container.CPULimit < 0 {
		return fmt.Errorf("container.cpu_limit must be non-negative, got: %v", c.Container.CPULimit)
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	if c.MCP.Enabled && c.MCP.Listen == "" {
		return fmt.Errorf("mcp.listen is required when mcp.enabled is set")
	}

	return nil
}

// MemoryBytes returns the container memory limit in bytes, 0 meaning unlimited.
func (c *Config) MemoryBytes() int64 {
	if c.Container.MemoryLimit == "" {
		return 0
	}
	n, err := units.RAMInBytes(c.Container.MemoryLimit)
	if err != nil {
		return 0
	}
	return n
}

// Dump renders the effective configuration as YAML with the API key masked.
func (c *Config) Dump() ([]byte, error) {
	masked := *c
	if masked.APIKey != "" {
		masked.APIKey = "********"
	}
	return yaml.Marshal(&masked)
}
