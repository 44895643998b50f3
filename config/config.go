// Package config loads node configuration from defaults, an optional YAML file and
// NODERPC_* environment variables, in that order of precedence (lowest first).
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration shared by all node programs.
type Config struct {
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Server      ServerConfig      `mapstructure:"server"`
	Client      ClientConfig      `mapstructure:"client"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	Log         LogConfig         `mapstructure:"log"`
	Etcd        EtcdConfig        `mapstructure:"etcd"`
}

// CoordinatorConfig locates the coordinator and sets its readiness rule.
type CoordinatorConfig struct {
	Host             string   `mapstructure:"host"`
	Port             int      `mapstructure:"port"`
	ServicesExpected int      `mapstructure:"services_expected"`
	Roles            []string `mapstructure:"roles"`
}

// Addr returns the coordinator's host:port.
func (c CoordinatorConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type ServerConfig struct {
	MaxFrameSize   int           `mapstructure:"max_frame_size"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	FrameTimeout   time.Duration `mapstructure:"frame_timeout"`
	HandlerTimeout time.Duration `mapstructure:"handler_timeout"`
	RateLimit      float64       `mapstructure:"rate_limit"` // requests per second, 0 disables
	RateBurst      int           `mapstructure:"rate_burst"`
}

type ClientConfig struct {
	QueueSize    int           `mapstructure:"queue_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	MaxFrameSize int           `mapstructure:"max_frame_size"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
}

// WorkerConfig drives the worker node: which role it announces and how it polls for readiness.
type WorkerConfig struct {
	Role            string        `mapstructure:"role"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	PollMaxInterval time.Duration `mapstructure:"poll_max_interval"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// File, when set, receives a copy of every line with size-based rotation
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// EtcdConfig enables the etcd-backed worker registry when Endpoints is non-empty.
type EtcdConfig struct {
	Endpoints []string `mapstructure:"endpoints"`
	Prefix    string   `mapstructure:"prefix"`
	TTL       int64    `mapstructure:"ttl"`
}

// Default returns a Config populated with the built-in defaults.
func Default() *Config {
	return &Config{
		Coordinator: CoordinatorConfig{
			Host:             "127.0.0.1",
			Port:             50000,
			ServicesExpected: 1,
			Roles:            []string{"distribution"},
		},
		Server: ServerConfig{
			MaxFrameSize:   1024,
			WriteTimeout:   5 * time.Second,
			FrameTimeout:   time.Second,
			HandlerTimeout: 2 * time.Second,
		},
		Client: ClientConfig{
			QueueSize:    64,
			DialTimeout:  3 * time.Second,
			MaxFrameSize: 64 * 1024,
			ReadTimeout:  10 * time.Second,
		},
		Worker: WorkerConfig{
			Role:            "distribution",
			PollInterval:    100 * time.Millisecond,
			PollMaxInterval: 2 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
		Etcd: EtcdConfig{
			Prefix: "/node-rpc/workers/",
			TTL:    10,
		},
	}
}

// Load reads configuration from path when non-empty, otherwise from NODERPC_CONFIG or a
// noderpc.yaml in . or ./configs. A missing file is fine; env vars still apply.
// Environment variables use the prefix NODERPC and `.` is replaced with `_`,
// e.g. NODERPC_COORDINATOR_PORT=6000.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("NODERPC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// seed defaults so env-only configs work
	v.SetDefault("coordinator.host", cfg.Coordinator.Host)
	v.SetDefault("coordinator.port", cfg.Coordinator.Port)
	v.SetDefault("coordinator.services_expected", cfg.Coordinator.ServicesExpected)
	v.SetDefault("coordinator.roles", cfg.Coordinator.Roles)
	v.SetDefault("server.max_frame_size", cfg.Server.MaxFrameSize)
	v.SetDefault("server.write_timeout", cfg.Server.WriteTimeout)
	v.SetDefault("server.frame_timeout", cfg.Server.FrameTimeout)
	v.SetDefault("server.handler_timeout", cfg.Server.HandlerTimeout)
	v.SetDefault("server.rate_limit", cfg.Server.RateLimit)
	v.SetDefault("server.rate_burst", cfg.Server.RateBurst)
	v.SetDefault("client.queue_size", cfg.Client.QueueSize)
	v.SetDefault("client.dial_timeout", cfg.Client.DialTimeout)
	v.SetDefault("client.max_frame_size", cfg.Client.MaxFrameSize)
	v.SetDefault("client.read_timeout", cfg.Client.ReadTimeout)
	v.SetDefault("worker.role", cfg.Worker.Role)
	v.SetDefault("worker.poll_interval", cfg.Worker.PollInterval)
	v.SetDefault("worker.poll_max_interval", cfg.Worker.PollMaxInterval)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("log.max_size_mb", cfg.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", cfg.Log.MaxBackups)
	v.SetDefault("etcd.endpoints", cfg.Etcd.Endpoints)
	v.SetDefault("etcd.prefix", cfg.Etcd.Prefix)
	v.SetDefault("etcd.ttl", cfg.Etcd.TTL)

	if path == "" {
		path = os.Getenv("NODERPC_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("noderpc")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	if c.Coordinator.Port < 0 || c.Coordinator.Port > 65535 {
		return fmt.Errorf("invalid coordinator.port: %d", c.Coordinator.Port)
	}
	if c.Coordinator.ServicesExpected < 0 {
		return fmt.Errorf("invalid coordinator.services_expected: %d", c.Coordinator.ServicesExpected)
	}
	if strings.TrimSpace(c.Coordinator.Host) == "" {
		c.Coordinator.Host = "127.0.0.1"
	}
	if c.Server.MaxFrameSize < 8 {
		return fmt.Errorf("invalid server.max_frame_size: %d", c.Server.MaxFrameSize)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("invalid server.rate_limit: %v", c.Server.RateLimit)
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst <= 0 {
		c.Server.RateBurst = 1
	}
	if c.Worker.Role == "" {
		return errors.New("worker.role must not be empty")
	}
	return nil
}
