// Package config loads and hot-reloads wtdbg's YAML settings file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/wtdbg/wtdbg/internal/logger"
)

// Settings is the full set of tunables for the service. Every field has a
// built-in default applied by Defaults(), so a missing or empty config file
// is always valid.
type Settings struct {
	// IdleTimeout is how long a session may sit with no activity before
	// the reaper reclaims it. Default 30m.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	// ReaperInterval is how often the idle reaper wakes to scan sessions.
	// Default 60s.
	ReaperInterval time.Duration `yaml:"reaper_interval"`
	// CommandTimeout is the default send_command budget. Default 10s.
	CommandTimeout time.Duration `yaml:"command_timeout"`
	// GraceWindow is the post-timeout window during which continue_and_wait
	// may still upgrade Timeout to Breakpoint. Default 1s.
	GraceWindow time.Duration `yaml:"grace_window"`
	// StalePauseRetries bounds the stale-pause defense retry loop in
	// cleanup. Default 2.
	StalePauseRetries int `yaml:"stale_pause_retries"`
	// MaxOneShotSlots bounds the signal-safe cleanup variant's fixed
	// breakpoint-index delete range. Default 32.
	MaxOneShotSlots int `yaml:"max_one_shot_slots"`
	// CaptureDir holds per-session stdout/stderr capture files.
	CaptureDir string `yaml:"capture_dir"`
	// ListenAddr is the control API's HTTP listen address.
	ListenAddr string `yaml:"listen_addr"`
	// BearerToken gates the control API. Empty disables auth (dev mode).
	BearerToken string `yaml:"bearer_token"`
	// LogLevel is one of debug/info/warn/error.
	LogLevel string `yaml:"log_level"`
	// LogFile, if set, is an additional append-only log destination.
	LogFile string `yaml:"log_file"`
}

// Defaults returns the built-in baseline, mirroring every literal value
// spec.md's worked examples use (30m idle timeout, 2 stale-pause retries).
func Defaults() *Settings {
	return &Settings{
		IdleTimeout:       30 * time.Minute,
		ReaperInterval:    60 * time.Second,
		CommandTimeout:    10 * time.Second,
		GraceWindow:       1 * time.Second,
		StalePauseRetries: 2,
		MaxOneShotSlots:   32,
		CaptureDir:        filepath.Join(os.TempDir(), "wtdbg", "capture"),
		ListenAddr:        "127.0.0.1:7029",
		BearerToken:       "",
		LogLevel:          "info",
		LogFile:           "",
	}
}

// rawSettings mirrors Settings but with duration fields as strings, since
// YAML has no native duration type; this is the same "parse a flexible
// scalar, then normalize" shape the teacher uses for its network/env
// fields, just applied to durations instead of string-or-slice unions.
type rawSettings struct {
	IdleTimeout       string `yaml:"idle_timeout"`
	ReaperInterval    string `yaml:"reaper_interval"`
	CommandTimeout    string `yaml:"command_timeout"`
	GraceWindow       string `yaml:"grace_window"`
	StalePauseRetries int    `yaml:"stale_pause_retries"`
	MaxOneShotSlots   int    `yaml:"max_one_shot_slots"`
	CaptureDir        string `yaml:"capture_dir"`
	ListenAddr        string `yaml:"listen_addr"`
	BearerToken       string `yaml:"bearer_token"`
	LogLevel          string `yaml:"log_level"`
	LogFile           string `yaml:"log_file"`
}

func parse(data []byte) (*Settings, error) {
	s := Defaults()
	if len(data) == 0 {
		return s, nil
	}

	var raw rawSettings
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if d, err := parseDuration(raw.IdleTimeout, s.IdleTimeout); err == nil {
		s.IdleTimeout = d
	} else {
		return nil, fmt.Errorf("idle_timeout: %w", err)
	}
	if d, err := parseDuration(raw.ReaperInterval, s.ReaperInterval); err == nil {
		s.ReaperInterval = d
	} else {
		return nil, fmt.Errorf("reaper_interval: %w", err)
	}
	if d, err := parseDuration(raw.CommandTimeout, s.CommandTimeout); err == nil {
		s.CommandTimeout = d
	} else {
		return nil, fmt.Errorf("command_timeout: %w", err)
	}
	if d, err := parseDuration(raw.GraceWindow, s.GraceWindow); err == nil {
		s.GraceWindow = d
	} else {
		return nil, fmt.Errorf("grace_window: %w", err)
	}

	if raw.StalePauseRetries != 0 {
		s.StalePauseRetries = raw.StalePauseRetries
	}
	if raw.MaxOneShotSlots != 0 {
		s.MaxOneShotSlots = raw.MaxOneShotSlots
	}
	if raw.CaptureDir != "" {
		s.CaptureDir = raw.CaptureDir
	}
	if raw.ListenAddr != "" {
		s.ListenAddr = raw.ListenAddr
	}
	if raw.BearerToken != "" {
		s.BearerToken = raw.BearerToken
	}
	if raw.LogLevel != "" {
		s.LogLevel = raw.LogLevel
	}
	if raw.LogFile != "" {
		s.LogFile = raw.LogFile
	}

	return s, nil
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}

// ResolvePath finds the config file: ./wtdbg.yaml in the current
// directory, then ~/.wtdbg/config.yaml, then "" (built-in defaults only).
func ResolvePath() string {
	if _, err := os.Stat("wtdbg.yaml"); err == nil {
		abs, err := filepath.Abs("wtdbg.yaml")
		if err == nil {
			return abs
		}
	}
	home, err := os.UserHomeDir()
	if err == nil {
		candidate := filepath.Join(home, ".wtdbg", "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

func load(path string) (*Settings, error) {
	if path == "" {
		return Defaults(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Defaults(), nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return parse(data)
}

// Watcher holds the live settings behind an atomic pointer and optionally
// watches the resolved file for changes, swapping the pointer on write.
type Watcher struct {
	path    string
	current atomic.Pointer[Settings]
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher loads the config at path (empty path means defaults only)
// and, if path is non-empty, starts an fsnotify watch that re-parses and
// atomically swaps Settings on every write event.
func NewWatcher(path string) (*Watcher, error) {
	s, err := load(path)
	if err != nil {
		return nil, err
	}
	w := &Watcher{path: path, done: make(chan struct{})}
	w.current.Store(s)

	if path == "" {
		return w, nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch config dir: %w", err)
	}
	w.watcher = fw

	go w.watchLoop()
	return w, nil
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			s, err := load(w.path)
			if err != nil {
				logger.Warn("config reload failed", "path", w.path, "err", err)
				continue
			}
			w.current.Store(s)
			logger.SetLevel(s.LogLevel)
			logger.Info("config reloaded", "path", w.path)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("config watcher error", "err", err)
		}
	}
}

// Get returns the current live Settings.
func (w *Watcher) Get() *Settings { return w.current.Load() }

// Close stops the background watch goroutine.
func (w *Watcher) Close() error {
	close(w.done)
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
