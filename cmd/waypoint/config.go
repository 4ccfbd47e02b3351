package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/rendis/waypoint/internal/scheduler"
)

// Store backends.
const (
	StoreLibSQL = "libsql"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Config holds all waypoint configuration.
// Priority: flags > WAYPOINT_* env vars > waypoint.yaml > defaults.
type Config struct {
	Store         string          `mapstructure:"store"`
	DBPath        string          `mapstructure:"db_path"`
	RedisAddr     string          `mapstructure:"redis_addr"`
	RedisPrefix   string          `mapstructure:"redis_prefix"`
	WorkflowsDir  string          `mapstructure:"workflows_dir"`
	ListenAddr    string          `mapstructure:"listen_addr"`
	LogLevel      string          `mapstructure:"log_level"`
	LogFormat     string          `mapstructure:"log_format"`
	PoolSize      int             `mapstructure:"pool_size"`
	MaxIterations int             `mapstructure:"max_iterations"`
	LockTTL       time.Duration   `mapstructure:"lock_ttl"`
	TemplateCache int             `mapstructure:"template_cache"`
	Schedules     []scheduler.Job `mapstructure:"schedules"`
}

func waypointDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".waypoint"
	}
	return filepath.Join(home, ".waypoint")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store", StoreLibSQL)
	v.SetDefault("db_path", filepath.Join(waypointDir(), "waypoint.db"))
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_prefix", "waypoint:")
	v.SetDefault("workflows_dir", "workflows")
	v.SetDefault("listen_addr", ":4200")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("pool_size", 10)
	v.SetDefault("max_iterations", 1000)
	v.SetDefault("lock_ttl", 5*time.Minute)
	v.SetDefault("template_cache", 256)
}

// loadConfig layers defaults, the settings file and the environment into v
// and decodes the result. An empty path searches for waypoint.yaml in the
// working directory and ~/.waypoint; a missing file is not an error.
func loadConfig(v *viper.Viper, path string) (Config, error) {
	setDefaults(v)

	v.SetEnvPrefix("WAYPOINT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("waypoint")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(waypointDir())
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks fields that would fail later in less obvious ways.
func (c Config) Validate() error {
	switch c.Store {
	case StoreLibSQL:
		if c.DBPath == "" {
			return errors.New("db_path is required for the libsql store")
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			return errors.New("redis_addr is required for the redis store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store %q (want libsql, redis or memory)", c.Store)
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("pool_size must be positive, got %d", c.PoolSize)
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be positive, got %d", c.MaxIterations)
	}
	return nil
}

// dsn turns DBPath into a libSQL file URI.
func (c Config) dsn() string {
	if strings.Contains(c.DBPath, ":") {
		return c.DBPath
	}
	return "file:" + c.DBPath
}

// configDiff describes what changed between two configurations.
type configDiff struct {
	SchedulesChanged bool
	RestartNeeded    []string // fields that require a restart
}

func diffConfigs(old, new Config) configDiff {
	var d configDiff
	if !reflect.DeepEqual(old.Schedules, new.Schedules) {
		d.SchedulesChanged = true
	}
	restart := []struct {
		name    string
		changed bool
	}{
		{"store", old.Store != new.Store},
		{"db_path", old.DBPath != new.DBPath},
		{"redis_addr", old.RedisAddr != new.RedisAddr},
		{"redis_prefix", old.RedisPrefix != new.RedisPrefix},
		{"workflows_dir", old.WorkflowsDir != new.WorkflowsDir},
		{"listen_addr", old.ListenAddr != new.ListenAddr},
		{"log_level", old.LogLevel != new.LogLevel},
		{"log_format", old.LogFormat != new.LogFormat},
		{"pool_size", old.PoolSize != new.PoolSize},
		{"max_iterations", old.MaxIterations != new.MaxIterations},
		{"lock_ttl", old.LockTTL != new.LockTTL},
		{"template_cache", old.TemplateCache != new.TemplateCache},
	}
	for _, f := range restart {
		if f.changed {
			d.RestartNeeded = append(d.RestartNeeded, f.name)
		}
	}
	return d
}
