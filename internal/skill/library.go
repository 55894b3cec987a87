package skill

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Library caches parsed skills from a directory and keeps the cache
// fresh by watching the directory for changes.
type Library struct {
	dir    string
	logger *slog.Logger

	mu     sync.RWMutex
	skills map[string]*Skill
}

// NewLibrary builds a library over dir and performs the initial scan.
// Unparsable files are logged and skipped; they do not fail the scan.
func NewLibrary(dir string, logger *slog.Logger) (*Library, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Library{dir: dir, logger: logger, skills: map[string]*Skill{}}
	if err := l.Reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Reload rescans the directory from scratch.
func (l *Library) Reload() error {
	names, err := ListNames(l.dir)
	if err != nil {
		return err
	}

	fresh := make(map[string]*Skill, len(names))
	for _, name := range names {
		s, err := Load(l.dir, name)
		if err != nil {
			l.logger.Warn("skipping unparsable skill", "skill", name, "error", err)
			continue
		}
		fresh[s.Name] = s
	}

	l.mu.Lock()
	l.skills = fresh
	l.mu.Unlock()
	return nil
}

// Get returns a cached skill by name.
func (l *Library) Get(name string) (*Skill, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.skills[name]
	return s, ok
}

// Names lists the cached skills, sorted.
func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.skills))
	for name := range l.skills {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Watch blocks, reloading the cache whenever a YAML file under the
// directory changes, until ctx is cancelled.
func (l *Library) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("skill watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(l.dir); err != nil {
		// A missing skills directory is a valid deployment; run without
		// hot reload rather than failing the whole process.
		l.logger.Warn("skill directory not watchable", "dir", l.dir, "error", err)
		<-ctx.Done()
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(event.Name, ".yaml") {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			l.logger.Debug("skill directory changed", "file", filepath.Base(event.Name), "op", event.Op.String())
			if err := l.Reload(); err != nil {
				l.logger.Warn("skill reload failed", "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("skill watcher error", "error", err)
		}
	}
}
