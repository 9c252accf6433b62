// Package config holds the process-wide settings: the shared credential,
// capture toggles, and all pipeline tuning. Settings load once at startup,
// can be updated and persisted at runtime, and changes fan out to
// subscribers so components pick them up without a restart.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Settings is one immutable snapshot of the configuration.
type Settings struct {
	APIKey string

	ServerHost     string
	ServerPort     int
	AllowedOrigins []string

	DatabaseDriver string // sqlite or postgres
	DatabaseDSN    string

	ReportsDir string

	BatchSize    int
	BatchTimeout time.Duration
	MaxEventAge  time.Duration
	DedupeWindow time.Duration

	MinRequestInterval time.Duration
	BaseDelay          time.Duration
	MaxRetries         int

	BackendURL     string
	CaptureEnabled bool

	MetricsPort int // 0 disables the metrics server
}

// Store owns the viper instance and the subscriber list.
type Store struct {
	mu      sync.RWMutex
	v       *viper.Viper
	current Settings
	subs    []func(Settings)
	logger  *slog.Logger
}

// Load reads configuration from the given file (optional; defaults apply
// when empty or missing) plus SEARCHSIFT_* environment overrides.
func Load(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	v := viper.New()
	v.SetEnvPrefix("searchsift")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("api_key", "")
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.allowed_origins", []string{"chrome-extension://*", "moz-extension://*"})
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "searchsift.db")
	v.SetDefault("reports.dir", "reports")
	v.SetDefault("buffer.batch_size", 20)
	v.SetDefault("buffer.batch_timeout", "10s")
	v.SetDefault("buffer.max_event_age", "10s")
	v.SetDefault("buffer.dedupe_window", "5s")
	v.SetDefault("transport.min_request_interval", "1s")
	v.SetDefault("transport.base_delay", "1s")
	v.SetDefault("transport.max_retries", 5)
	v.SetDefault("transport.backend_url", "http://127.0.0.1:5000")
	v.SetDefault("capture.enabled", true)
	v.SetDefault("metrics.port", 0)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			// A missing file is fine: defaults apply and Set can create it.
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	s := &Store{v: v, logger: logger}
	s.current = s.snapshot()
	return s, nil
}

func (s *Store) snapshot() Settings {
	return Settings{
		APIKey:             s.v.GetString("api_key"),
		ServerHost:         s.v.GetString("server.host"),
		ServerPort:         s.v.GetInt("server.port"),
		AllowedOrigins:     s.v.GetStringSlice("server.allowed_origins"),
		DatabaseDriver:     s.v.GetString("database.driver"),
		DatabaseDSN:        s.v.GetString("database.dsn"),
		ReportsDir:         s.v.GetString("reports.dir"),
		BatchSize:          s.v.GetInt("buffer.batch_size"),
		BatchTimeout:       s.v.GetDuration("buffer.batch_timeout"),
		MaxEventAge:        s.v.GetDuration("buffer.max_event_age"),
		DedupeWindow:       s.v.GetDuration("buffer.dedupe_window"),
		MinRequestInterval: s.v.GetDuration("transport.min_request_interval"),
		BaseDelay:          s.v.GetDuration("transport.base_delay"),
		MaxRetries:         s.v.GetInt("transport.max_retries"),
		BackendURL:         s.v.GetString("transport.backend_url"),
		CaptureEnabled:     s.v.GetBool("capture.enabled"),
		MetricsPort:        s.v.GetInt("metrics.port"),
	}
}

// Get returns the current settings snapshot.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Credential returns the current shared API key; empty means unconfigured.
func (s *Store) Credential() string {
	return s.Get().APIKey
}

// Subscribe registers a callback invoked with the new snapshot after every
// change, whether from Set or from an external file edit.
func (s *Store) Subscribe(fn func(Settings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Set updates one key, persists the file when one is configured, and
// notifies subscribers.
func (s *Store) Set(key string, value any) error {
	s.mu.Lock()
	s.v.Set(key, value)
	s.current = s.snapshot()
	subs := append([]func(Settings){}, s.subs...)
	snap := s.current
	var writeErr error
	if s.v.ConfigFileUsed() != "" {
		writeErr = s.v.WriteConfig()
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
	if writeErr != nil {
		return fmt.Errorf("persist config: %w", writeErr)
	}
	return nil
}

// Watch starts following the config file for external edits. Safe to call
// only when a file path was given to Load.
func (s *Store) Watch() {
	s.v.OnConfigChange(func(e fsnotify.Event) {
		s.mu.Lock()
		s.current = s.snapshot()
		subs := append([]func(Settings){}, s.subs...)
		snap := s.current
		s.mu.Unlock()

		s.logger.Info("configuration reloaded", "file", e.Name)
		for _, fn := range subs {
			fn(snap)
		}
	})
	s.v.WatchConfig()
}
