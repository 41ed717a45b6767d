// Package config loads the desktop client configuration from a YAML file,
// CASEFLOW_* environment variables and defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/and161185/caseflow/internal/errs"
	"github.com/and161185/caseflow/internal/session"
)

// EnvPrefix prefixes every environment override, e.g. CASEFLOW_REMOTE_URL.
const EnvPrefix = "CASEFLOW"

type Config struct {
	DataDir  string        `mapstructure:"data_dir"`
	Timezone string        `mapstructure:"timezone"`
	Remote   RemoteConfig  `mapstructure:"remote"`
	Sync     SyncConfig    `mapstructure:"sync"`
	IPC      IPCConfig     `mapstructure:"ipc"`
	Logging  LoggingConfig `mapstructure:"logging"`
}

type RemoteConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SyncConfig struct {
	Interval      string        `mapstructure:"interval"`
	BatchSize     int           `mapstructure:"batch_size"`
	MaxRetries    int           `mapstructure:"max_retries"`
	BaseDelay     time.Duration `mapstructure:"base_delay"`
	MaxDelay      time.Duration `mapstructure:"max_delay"`
	RunAtStart    bool          `mapstructure:"run_at_start"`
	PullAfterPush bool          `mapstructure:"pull_after_push"`
}

type IPCConfig struct {
	Addr string `mapstructure:"addr"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// DatabasePath is the local store file.
func (c Config) DatabasePath() string { return filepath.Join(c.DataDir, "caseflow.db") }

// Location resolves Timezone; empty means the system zone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", session.DefaultDir())
	v.SetDefault("timezone", "")
	v.SetDefault("remote.url", "http://localhost:3000/api")
	v.SetDefault("remote.timeout", "10s")
	v.SetDefault("sync.interval", "@every 5m")
	v.SetDefault("sync.batch_size", 50)
	v.SetDefault("sync.max_retries", 5)
	v.SetDefault("sync.base_delay", "30s")
	v.SetDefault("sync.max_delay", "30m")
	v.SetDefault("sync.run_at_start", true)
	v.SetDefault("sync.pull_after_push", false)
	v.SetDefault("ipc.addr", "127.0.0.1:7465")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
}

// Loader owns the viper instance behind a loaded configuration.
type Loader struct {
	v  *viper.Viper
	mu sync.Mutex
}

// Load reads path (or config.yaml in the default directory when empty). A
// missing default file is not an error; a missing explicit file is.
func Load(path string) (*Loader, Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(session.DefaultDir())
	}
	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &nf) {
			return nil, Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	l := &Loader{v: v}
	cfg, err := l.decode()
	if err != nil {
		return nil, Config{}, err
	}
	return l, cfg, nil
}

// File returns the config file in use, or "" when running on defaults.
func (l *Loader) File() string { return l.v.ConfigFileUsed() }

func (l *Loader) decode() (Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c Config) Validate() error {
	var problems []string
	if c.DataDir == "" {
		problems = append(problems, "data_dir is empty")
	}
	if c.Sync.BatchSize <= 0 {
		problems = append(problems, "sync.batch_size must be positive")
	}
	if c.Sync.MaxRetries < 0 {
		problems = append(problems, "sync.max_retries must not be negative")
	}
	if c.Remote.Timeout <= 0 {
		problems = append(problems, "remote.timeout must be positive")
	}
	if c.Sync.BaseDelay <= 0 || c.Sync.MaxDelay < c.Sync.BaseDelay {
		problems = append(problems, "sync.base_delay must be positive and not above sync.max_delay")
	}
	if _, err := c.Location(); err != nil {
		problems = append(problems, fmt.Sprintf("timezone %q: %v", c.Timezone, err))
	}
	if len(problems) > 0 {
		return fmt.Errorf("config: %s: %w", strings.Join(problems, "; "), errs.ErrValidation)
	}
	return nil
}

// Watch calls fn with the new configuration whenever the file changes. An
// invalid edit is reported to onErr and the previous configuration stays.
func (l *Loader) Watch(fn func(Config), onErr func(error)) {
	l.v.OnConfigChange(func(fsnotify.Event) {
		cfg, err := l.decode()
		if err != nil {
			if onErr != nil {
				onErr(err)
			}
			return
		}
		fn(cfg)
	})
	l.v.WatchConfig()
}
