package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ChangeEvent describes a single applied configuration change, whether it
// came from a file reload or a runtime Set call.
type ChangeEvent struct {
	Path      string
	OldValue  any
	NewValue  any
	Section   string
	Source    string
	User      string
	Timestamp time.Time
}

// ImportOptions controls how Import applies an external configuration
// payload to the running service.
type ImportOptions struct {
	Merge    bool
	Validate bool
	Backup   bool
	DryRun   bool
}

// Service owns the layered configuration: compiled-in defaults, a JSON file
// under custom/configuration.json deep-merged over them, and environment
// overrides (WABOT_ prefix) that take precedence over both. Readers always observe a fully-validated snapshot via
// Current(); Set and reloads swap the snapshot atomically so no goroutine
// ever sees a partially-applied update.
type Service struct {
	v          *viper.Viper
	current    atomic.Pointer[Config]
	customPath string
	backupDir  string
	maxBackups int
	log        *slog.Logger
	changes    chan ChangeEvent
}

// NewService builds a Service rooted at dir, expecting dir/custom/configuration.json
// as the writable override layer and dir/backups as the backup destination.
func NewService(dir string, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	v := viper.New()
	v.SetEnvPrefix("WABOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Service{
		v:          v,
		customPath: filepath.Join(dir, "custom", "configuration.json"),
		backupDir:  filepath.Join(dir, "backups"),
		maxBackups: 10,
		log:        log,
		changes:    make(chan ChangeEvent, 32),
	}
}

// Load performs the initial layered load: defaults, then the custom JSON
// file if present, then environment overrides. It validates the result and
// fails closed -- a bad startup config must not run.
func (s *Service) Load() error {
	def := DefaultConfig()
	defBytes, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("config: marshal defaults: %w", err)
	}
	defaultsReader := bytes.NewReader(defBytes)
	s.v.SetConfigType("json")
	if err := s.v.MergeConfig(defaultsReader); err != nil {
		return fmt.Errorf("config: load defaults: %w", err)
	}

	if _, err := os.Stat(s.customPath); err == nil {
		s.v.SetConfigFile(s.customPath)
		if err := s.v.MergeInConfig(); err != nil {
			return fmt.Errorf("config: merge %s: %w", s.customPath, err)
		}
	}

	cfg, err := s.decode()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.current.Store(cfg)

	s.v.OnConfigChange(func(fsnotify.Event) {
		s.reload()
	})
	if _, err := os.Stat(s.customPath); err == nil {
		s.v.WatchConfig()
	}

	return nil
}

func (s *Service) decode() (*Config, error) {
	cfg := &Config{}
	if err := s.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return cfg, nil
}

// reload re-decodes the viper snapshot after a watched file change. An
// invalid reload is logged and discarded; the previous snapshot keeps
// serving readers.
func (s *Service) reload() {
	cfg, err := s.decode()
	if err != nil {
		s.log.Error("config reload failed to decode", "err", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		s.log.Error("config reload failed validation, keeping previous config", "err", err)
		return
	}
	old := s.current.Swap(cfg)
	s.emit(ChangeEvent{Path: s.customPath, OldValue: old, NewValue: cfg, Source: "file", Timestamp: time.Now()})
	s.log.Info("config reloaded from file")
}

// Current returns the live configuration snapshot. Callers must not mutate
// the returned value.
func (s *Service) Current() *Config {
	return s.current.Load()
}

// Changes returns the stream of applied configuration changes.
func (s *Service) Changes() <-chan ChangeEvent {
	return s.changes
}

func (s *Service) emit(ev ChangeEvent) {
	select {
	case s.changes <- ev:
	default:
		s.log.Warn("config change event dropped, channel full")
	}
}

// Set applies a single dotted-path override at runtime (e.g.
// "rateLimit.maxDailyDefault") and persists it into the custom JSON layer.
func (s *Service) Set(path string, value any, source, user string) error {
	old := s.v.Get(path)
	s.v.Set(path, value)

	cfg, err := s.decode()
	if err != nil {
		s.v.Set(path, old)
		return err
	}
	if err := cfg.Validate(); err != nil {
		s.v.Set(path, old)
		return err
	}

	if err := s.persistCustomLayer(); err != nil {
		return err
	}

	s.current.Store(cfg)
	s.emit(ChangeEvent{Path: path, OldValue: old, NewValue: value, Source: source, User: user, Timestamp: time.Now()})
	return nil
}

// Get reads a single dotted-path value from the underlying viper store
// (which includes environment overrides), not from the Current() snapshot.
func (s *Service) Get(path string) any {
	return s.v.Get(path)
}

// GetSection returns the named top-level section of the live snapshot, or
// nil if the name is unknown.
func (s *Service) GetSection(name string) any {
	cfg := s.Current()
	switch name {
	case "bot":
		return cfg.Bot
	case "bridge":
		return cfg.Bridge
	case "rateLimit":
		return cfg.RateLimit
	case "registration":
		return cfg.Registration
	case "polling":
		return cfg.Polling
	case "concurrency":
		return cfg.Concurrency
	case "messages":
		return cfg.Messages
	default:
		return nil
	}
}

// Export serializes the requested sections (all, if none given) as JSON.
func (s *Service) Export(sections ...string) ([]byte, error) {
	cfg := s.Current()
	if len(sections) == 0 {
		return json.MarshalIndent(cfg, "", "  ")
	}
	out := make(map[string]any, len(sections))
	for _, name := range sections {
		if v := s.GetSection(name); v != nil {
			out[name] = v
		}
	}
	return json.MarshalIndent(out, "", "  ")
}

// Import applies a JSON payload to the custom layer, optionally merging
// with rather than replacing the current snapshot, validating before
// commit, and taking a backup first.
func (s *Service) Import(data []byte, opts ImportOptions) error {
	var incoming map[string]any
	if err := json.Unmarshal(data, &incoming); err != nil {
		return fmt.Errorf("config: import decode: %w", err)
	}

	if opts.Backup {
		if err := s.Backup(); err != nil {
			return fmt.Errorf("config: import backup: %w", err)
		}
	}

	snapshot := viper.New()
	snapshot.SetConfigType("json")
	if opts.Merge {
		for k, v := range s.v.AllSettings() {
			snapshot.Set(k, v)
		}
	}
	for k, v := range incoming {
		snapshot.Set(k, v)
	}

	cfg := &Config{}
	if err := snapshot.Unmarshal(cfg); err != nil {
		return fmt.Errorf("config: import decode merged: %w", err)
	}
	if opts.Validate {
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	if opts.DryRun {
		return nil
	}

	s.v = snapshot
	s.current.Store(cfg)
	if err := s.persistCustomLayer(); err != nil {
		return err
	}
	s.emit(ChangeEvent{Path: "*", NewValue: cfg, Source: "import", Timestamp: time.Now()})
	return nil
}

// persistCustomLayer writes the full current viper settings to the custom
// JSON override file so runtime Set/Import calls survive a restart.
func (s *Service) persistCustomLayer() error {
	if err := os.MkdirAll(filepath.Dir(s.customPath), 0o755); err != nil {
		return fmt.Errorf("config: mkdir custom dir: %w", err)
	}
	data, err := json.MarshalIndent(s.v.AllSettings(), "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal custom layer: %w", err)
	}
	if err := os.WriteFile(s.customPath, data, 0o644); err != nil {
		return fmt.Errorf("config: write custom layer: %w", err)
	}
	return nil
}

// Backup snapshots the current configuration under
// backups/<UTC timestamp, 20060102T150405Z>/configuration.json, then rotates out the
// oldest backups beyond maxBackups.
func (s *Service) Backup() error {
	ts := time.Now().UTC().Format("20060102T150405Z")
	dir := filepath.Join(s.backupDir, ts)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config: mkdir backup dir: %w", err)
	}
	data, err := s.Export()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "configuration.json"), data, 0o644); err != nil {
		return fmt.Errorf("config: write backup: %w", err)
	}
	return s.rotateBackups()
}

func (s *Service) rotateBackups() error {
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: list backups: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for len(names) > s.maxBackups {
		oldest := names[0]
		names = names[1:]
		if err := os.RemoveAll(filepath.Join(s.backupDir, oldest)); err != nil {
			s.log.Warn("config: failed to remove old backup", "backup", oldest, "err", err)
		}
	}
	return nil
}
