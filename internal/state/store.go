// Package state implements the mutable runtime state file: a flat
// namespaced map persisted as JSON with debounced, cross-process-locked
// writes. Reads detect external modifications through the file's mtime.
package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/toolsmith-ai/toolsmith/internal/debounce"
)

// DebounceWindow is how long writes coalesce before hitting disk.
const DebounceWindow = 2 * time.Second

// Well-known sections of the state file.
const (
	SectionServices = "services"
	SectionJobs     = "jobs"
)

// Store is the thread-safe, debounced state store for a single file.
// Use Open to get the process-wide instance for a path.
type Store struct {
	mu        sync.Mutex
	path      string
	lockPath  string
	data      map[string]map[string]any
	dirty     bool
	lastMtime time.Time
	writer    *debounce.Writer
	logger    *slog.Logger
}

var (
	openMu sync.Mutex
	opened = map[string]*Store{}
)

// Open returns the singleton store for path, creating it on first use.
func Open(path string, logger *slog.Logger) (*Store, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	openMu.Lock()
	defer openMu.Unlock()
	if s, ok := opened[abs]; ok {
		return s, nil
	}
	s, err := New(abs, DebounceWindow, logger)
	if err != nil {
		return nil, err
	}
	opened[abs] = s
	return s, nil
}

// New creates an independent store instance. Tests use this with a
// temp path and a short window; production code goes through Open.
func New(path string, window time.Duration, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		path:     path,
		lockPath: path + ".lock",
		data:     defaultSkeleton(),
		logger:   logger,
	}
	s.writer = debounce.NewWriter(window, func() {
		if err := s.Flush(); err != nil {
			s.logger.Warn("state flush failed", "error", err, "path", s.path)
		}
	})
	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func defaultSkeleton() map[string]map[string]any {
	return map[string]map[string]any{
		SectionServices: {},
		SectionJobs:     {},
	}
}

// loadLocked reads the file into the cache. A corrupt file is moved
// aside with a timestamp suffix and replaced by the default skeleton.
func (s *Store) loadLocked() error {
	info, err := os.Stat(s.path)
	if os.IsNotExist(err) {
		s.data = defaultSkeleton()
		s.lastMtime = time.Time{}
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat state file: %w", err)
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read state file: %w", err)
	}

	var data map[string]map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		aside := fmt.Sprintf("%s.corrupt-%s", s.path, time.Now().UTC().Format("20060102T150405"))
		if mvErr := os.Rename(s.path, aside); mvErr != nil {
			s.logger.Warn("failed to move corrupt state file aside", "error", mvErr, "path", s.path)
		} else {
			s.logger.Warn("state file corrupt, replaced with defaults", "path", s.path, "moved_to", aside)
		}
		s.data = defaultSkeleton()
		s.lastMtime = time.Time{}
		return nil
	}
	if data == nil {
		data = defaultSkeleton()
	}
	s.data = data
	s.lastMtime = info.ModTime()
	return nil
}

// reloadIfChanged re-reads the file when another process advanced its mtime.
// Must be called with s.mu held.
func (s *Store) reloadIfChanged() {
	info, err := os.Stat(s.path)
	if err != nil {
		return
	}
	if info.ModTime().After(s.lastMtime) {
		if err := s.loadLocked(); err != nil {
			s.logger.Warn("state reload failed", "error", err, "path", s.path)
		}
	}
}

// Get returns the value stored at section/key.
func (s *Store) Get(section, key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadIfChanged()
	sec, ok := s.data[section]
	if !ok {
		return nil, false
	}
	v, ok := sec[key]
	return v, ok
}

// Section returns a copy of a whole section.
func (s *Store) Section(name string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadIfChanged()
	out := make(map[string]any, len(s.data[name]))
	for k, v := range s.data[name] {
		out[k] = v
	}
	return out
}

// Set stores a value and schedules a debounced flush.
func (s *Store) Set(section, key string, value any) {
	s.mu.Lock()
	sec, ok := s.data[section]
	if !ok {
		sec = map[string]any{}
		s.data[section] = sec
	}
	sec[key] = value
	s.dirty = true
	s.mu.Unlock()
	s.writer.Mark()
}

// Delete removes a key and schedules a debounced flush.
func (s *Store) Delete(section, key string) {
	s.mu.Lock()
	if sec, ok := s.data[section]; ok {
		delete(sec, key)
		s.dirty = true
	}
	dirty := s.dirty
	s.mu.Unlock()
	if dirty {
		s.writer.Mark()
	}
}

// Flush writes the cache to disk immediately under the advisory lock.
// Errors leave the cache dirty so the next flush retries.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}

	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	err = WithFileLock(s.lockPath, func() error {
		tmp := s.path + ".tmp"
		if err := os.WriteFile(tmp, raw, 0o644); err != nil {
			return fmt.Errorf("write state file: %w", err)
		}
		return os.Rename(tmp, s.path)
	})
	if err != nil {
		return err
	}

	if info, statErr := os.Stat(s.path); statErr == nil {
		s.lastMtime = info.ModTime()
	}
	s.dirty = false
	return nil
}

// Close drains the debounce timer with a final flush.
func (s *Store) Close() error {
	s.writer.Flush()
	s.writer.Stop()
	return nil
}

// Dirty reports whether unflushed writes exist.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// ServiceEnabled reports whether a service flag is on. Missing flags are off.
func (s *Store) ServiceEnabled(name string) bool {
	v, ok := s.Get(SectionServices, name)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// SetServiceEnabled sets a service flag.
func (s *Store) SetServiceEnabled(name string, enabled bool) {
	s.Set(SectionServices, name, enabled)
}

// JobEnabled reports whether a job flag is on. Missing flags are off.
func (s *Store) JobEnabled(name string) bool {
	v, ok := s.Get(SectionJobs, name)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// SetJobEnabled sets a job flag.
func (s *Store) SetJobEnabled(name string, enabled bool) {
	s.Set(SectionJobs, name, enabled)
}
