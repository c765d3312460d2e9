// Package config loads the outreach service configuration from defaults, an
// optional YAML file, a .env file and OUTREACH_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. OUTREACH_DATA_DIR.
const EnvPrefix = "OUTREACH"

// DefaultFile is read from the working directory when no --config is given.
const DefaultFile = "outreach.yaml"

// Isolation modes.
const (
	ModeProcess = "process"
	ModeThread  = "thread"
)

// Config is the complete service configuration. It is built once at start
// and passed by value; nothing changes it afterwards.
type Config struct {
	Server       ServerConfig    `mapstructure:"server"`
	DataDir      string          `mapstructure:"data_dir"`
	BaseURL      string          `mapstructure:"base_url"`
	Isolation    IsolationConfig `mapstructure:"isolation"`
	Browser      BrowserConfig   `mapstructure:"browser"`
	Pacing       PacingConfig    `mapstructure:"pacing"`
	Limits       LimitsConfig    `mapstructure:"limits"`
	AccountsFile string          `mapstructure:"accounts_file"`
	Log          LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// IsolationConfig selects how browser work is separated from the API.
type IsolationConfig struct {
	// Mode is "process" (one worker process per task) or "thread".
	Mode string `mapstructure:"mode"`
	// Workers bounds concurrent tasks. Zero sizes the pool from free memory.
	Workers           int    `mapstructure:"workers"`
	MemoryPerWorkerMB uint64 `mapstructure:"memory_per_worker_mb"`
}

type BrowserConfig struct {
	Headless bool          `mapstructure:"headless"`
	Bin      string        `mapstructure:"bin"`
	Timeout  time.Duration `mapstructure:"timeout"`
	// Humanize curves pointer moves and paces keystrokes.
	Humanize bool `mapstructure:"humanize"`
}

// PacingConfig spaces consecutive profiles of a run.
type PacingConfig struct {
	MinDelay time.Duration `mapstructure:"min_delay"`
	MaxDelay time.Duration `mapstructure:"max_delay"`
}

type LimitsConfig struct {
	DailyConnections int `mapstructure:"daily_connections"`
	DailyMessages    int `mapstructure:"daily_messages"`
	MaxTargets       int `mapstructure:"max_targets"`
	// HonorLimitCooldown keeps an account paused after a platform limit
	// banner for LimitCooldown instead of only ending the current run.
	HonorLimitCooldown bool          `mapstructure:"honor_limit_cooldown"`
	LimitCooldown      time.Duration `mapstructure:"limit_cooldown"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8000",
			ShutdownTimeout: 15 * time.Second,
		},
		DataDir: "data",
		BaseURL: "https://www.linkedin.com",
		Isolation: IsolationConfig{
			Mode:              ModeProcess,
			MemoryPerWorkerMB: 200,
		},
		Browser: BrowserConfig{
			Headless: true,
			Timeout:  15 * time.Second,
			Humanize: true,
		},
		Pacing: PacingConfig{
			MinDelay: 8 * time.Second,
			MaxDelay: 15 * time.Second,
		},
		Limits: LimitsConfig{
			DailyConnections: 35,
			DailyMessages:    40,
			MaxTargets:       100,
			LimitCooldown:    7 * 24 * time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// setDefaults registers every key so env overrides apply even when no
// config file mentions it.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("base_url", d.BaseURL)

	v.SetDefault("isolation.mode", d.Isolation.Mode)
	v.SetDefault("isolation.workers", d.Isolation.Workers)
	v.SetDefault("isolation.memory_per_worker_mb", d.Isolation.MemoryPerWorkerMB)

	v.SetDefault("browser.headless", d.Browser.Headless)
	v.SetDefault("browser.bin", d.Browser.Bin)
	v.SetDefault("browser.timeout", d.Browser.Timeout)
	v.SetDefault("browser.humanize", d.Browser.Humanize)

	v.SetDefault("pacing.min_delay", d.Pacing.MinDelay)
	v.SetDefault("pacing.max_delay", d.Pacing.MaxDelay)

	v.SetDefault("limits.daily_connections", d.Limits.DailyConnections)
	v.SetDefault("limits.daily_messages", d.Limits.DailyMessages)
	v.SetDefault("limits.max_targets", d.Limits.MaxTargets)
	v.SetDefault("limits.honor_limit_cooldown", d.Limits.HonorLimitCooldown)
	v.SetDefault("limits.limit_cooldown", d.Limits.LimitCooldown)

	v.SetDefault("accounts_file", d.AccountsFile)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// New returns a viper instance with defaults and env overrides registered.
// Callers bind their flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads .env, then file (or DefaultFile when file is empty and it
// exists), and returns the validated configuration.
func Load(v *viper.Viper, file string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	switch {
	case file != "":
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	default:
		if _, err := os.Stat(DefaultFile); err == nil {
			v.SetConfigFile(DefaultFile)
			if err := v.ReadInConfig(); err != nil {
				return Config{}, fmt.Errorf("read config %s: %w", DefaultFile, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return Config{}, errs
	}
	return cfg, nil
}
