// Package config loads the agent's local settings: where the screening
// service lives and how the watch, debounce and batch stages are tuned.
// Remote rule configuration is handled by configcache, not here.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adalundhe/scout/core/storage"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SCOUT_"

type Manager struct {
	current   atomic.Pointer[Config]
	dirs      *storage.Dirs
	extraPath string
	watchers  []func(*Config)
	watcherMu sync.RWMutex
}

type Config struct {
	API      APIConfig      `yaml:"api"`
	Startup  StartupConfig  `yaml:"startup"`
	Refresh  RefreshConfig  `yaml:"refresh"`
	Bundles  BundlesConfig  `yaml:"bundles"`
	Debounce DebounceConfig `yaml:"debounce"`
	Batch    BatchConfig    `yaml:"batch"`
	Watch    WatchConfig    `yaml:"watch"`
	Classify ClassifyConfig `yaml:"classify"`
	Scan     ScanConfig     `yaml:"scan"`
	Cleanup  CleanupConfig  `yaml:"cleanup"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Events   EventsConfig   `yaml:"events"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type APIConfig struct {
	Host    string        `yaml:"host"`
	Port    int           `yaml:"port"`
	Timeout time.Duration `yaml:"timeout"`
}

// BaseURL returns the service root, e.g. http://127.0.0.1:60315.
func (a APIConfig) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", a.Host, a.Port)
}

type StartupConfig struct {
	FetchAttempts int           `yaml:"fetch_attempts"`
	FetchInterval time.Duration `yaml:"fetch_interval"`
}

type RefreshConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type BundlesConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type DebounceConfig struct {
	Tick             time.Duration `yaml:"tick"`
	DirectoryAddTick time.Duration `yaml:"directory_add_tick"`
}

type BatchConfig struct {
	Size            int           `yaml:"size"`
	Interval        time.Duration `yaml:"interval"`
	AutoCreateTasks bool          `yaml:"auto_create_tasks"`
	QueueSize       int           `yaml:"queue_size"`
}

type WatchConfig struct {
	QueueSize int    `yaml:"queue_size"`
	Backend   string `yaml:"backend"`
}

type ClassifyConfig struct {
	HashPrefixBytes int      `yaml:"hash_prefix_bytes"`
	IgnoreGlobs     []string `yaml:"ignore_globs"`
}

type ScanConfig struct {
	StableAfter    time.Duration `yaml:"stable_after"`
	NotifyAnalysis bool          `yaml:"notify_analysis"`
	AnalysisDelay  time.Duration `yaml:"analysis_delay"`
	QueryLimit     int           `yaml:"query_limit"`
}

type CleanupConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type EventsConfig struct {
	Addr string `yaml:"addr"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	JSON       bool   `yaml:"json"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// NewManager returns a manager holding DefaultConfig. extraPath, when not
// empty, is read after the user config file.
func NewManager(dirs *storage.Dirs, extraPath string) *Manager {
	m := &Manager{
		dirs:      dirs,
		extraPath: extraPath,
	}
	m.current.Store(DefaultConfig())
	return m
}

func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			Host:    "127.0.0.1",
			Port:    60315,
			Timeout: 30 * time.Second,
		},
		Startup: StartupConfig{
			FetchAttempts: 30,
			FetchInterval: time.Second,
		},
		Refresh: RefreshConfig{
			Interval: 30 * time.Second,
		},
		Bundles: BundlesConfig{
			TTL: time.Hour,
		},
		Debounce: DebounceConfig{
			Tick:             time.Second,
			DirectoryAddTick: 2 * time.Second,
		},
		Batch: BatchConfig{
			Size:            50,
			Interval:        5 * time.Second,
			AutoCreateTasks: true,
			QueueSize:       100,
		},
		Watch: WatchConfig{
			QueueSize: 256,
			Backend:   "auto",
		},
		Classify: ClassifyConfig{
			HashPrefixBytes: 4096,
		},
		Scan: ScanConfig{
			StableAfter:    3 * time.Second,
			NotifyAnalysis: true,
			AnalysisDelay:  5 * time.Second,
			QueryLimit:     500,
		},
		Cleanup: CleanupConfig{
			MaxAttempts:  3,
			InitialDelay: 500 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

func (m *Manager) Get() *Config {
	return m.current.Load()
}

// Load rebuilds the configuration from defaults, the user file, the extra
// file and the environment, then publishes it.
func (m *Manager) Load() error {
	cfg := DefaultConfig()

	if err := m.loadUserConfig(cfg); err != nil {
		return fmt.Errorf("user config: %w", err)
	}

	if err := m.loadExtraConfig(cfg); err != nil {
		return fmt.Errorf("config %s: %w", m.extraPath, err)
	}

	applyEnvironment(cfg)

	if err := cfg.Validate(); err != nil {
		return err
	}

	m.current.Store(cfg)
	m.notifyWatchers(cfg)

	return nil
}

func (m *Manager) loadUserConfig(cfg *Config) error {
	if m.dirs == nil {
		return nil
	}
	return loadYAMLFile(m.dirs.ConfigDir("config.yaml"), cfg)
}

func (m *Manager) loadExtraConfig(cfg *Config) error {
	if m.extraPath == "" {
		return nil
	}
	if _, err := os.Stat(m.extraPath); err != nil {
		return err
	}
	return loadYAMLFile(m.extraPath, cfg)
}

func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.API.Host == "":
		return fmt.Errorf("api.host must not be empty")
	case c.API.Port <= 0 || c.API.Port > 65535:
		return fmt.Errorf("api.port %d out of range", c.API.Port)
	case c.Startup.FetchAttempts <= 0:
		return fmt.Errorf("startup.fetch_attempts must be positive")
	case c.Batch.Size <= 0:
		return fmt.Errorf("batch.size must be positive")
	case c.Batch.Interval <= 0:
		return fmt.Errorf("batch.interval must be positive")
	case c.Debounce.Tick <= 0:
		return fmt.Errorf("debounce.tick must be positive")
	case c.Watch.QueueSize <= 0:
		return fmt.Errorf("watch.queue_size must be positive")
	}
	return nil
}

func applyEnvironment(cfg *Config) {
	if v := env("API_HOST"); v != "" {
		cfg.API.Host = v
	}
	setInt(&cfg.API.Port, env("API_PORT"))
	setDuration(&cfg.API.Timeout, env("API_TIMEOUT"))
	setInt(&cfg.Startup.FetchAttempts, env("STARTUP_FETCH_ATTEMPTS"))
	setDuration(&cfg.Startup.FetchInterval, env("STARTUP_FETCH_INTERVAL"))
	setDuration(&cfg.Refresh.Interval, env("REFRESH_INTERVAL"))
	setDuration(&cfg.Bundles.TTL, env("BUNDLES_TTL"))
	setDuration(&cfg.Debounce.Tick, env("DEBOUNCE_TICK"))
	setInt(&cfg.Batch.Size, env("BATCH_SIZE"))
	setDuration(&cfg.Batch.Interval, env("BATCH_INTERVAL"))
	if v := env("WATCH_BACKEND"); v != "" {
		cfg.Watch.Backend = v
	}
	if v := env("IGNORE_GLOBS"); v != "" {
		cfg.Classify.IgnoreGlobs = strings.Split(v, ",")
	}
	if v := env("METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := env("EVENTS_ADDR"); v != "" {
		cfg.Events.Addr = v
	}
	if v := env("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := env("LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}
	if v := env("LOG_JSON"); v != "" {
		cfg.Logging.JSON = strings.ToLower(v) == "true"
	}
}

func env(key string) string {
	return os.Getenv(EnvPrefix + key)
}

func setInt(dst *int, v string) {
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func setDuration(dst *time.Duration, v string) {
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}

func (m *Manager) OnChange(fn func(*Config)) {
	m.watcherMu.Lock()
	m.watchers = append(m.watchers, fn)
	m.watcherMu.Unlock()
}

func (m *Manager) notifyWatchers(cfg *Config) {
	m.watcherMu.RLock()
	watchers := m.watchers
	m.watcherMu.RUnlock()

	for _, fn := range watchers {
		fn(cfg)
	}
}

func (m *Manager) Reload() error {
	return m.Load()
}
