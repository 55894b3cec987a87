package heal

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/toolsmith-ai/toolsmith/internal/state"
)

// RetentionDays is how long daily failure entries are kept before being
// pruned on write.
const RetentionDays = 30

// maxSnippetLen caps the stored error text per entry.
const maxSnippetLen = 200

// Entry is one observed failure and the fix applied to it.
type Entry struct {
	Tool       string `yaml:"tool"`
	Class      Class  `yaml:"class"`
	Error      string `yaml:"error"`
	FixApplied string `yaml:"fix_applied,omitempty"`
	Success    bool   `yaml:"success"`
	Timestamp  string `yaml:"timestamp"` // ISO-8601 UTC
}

// document is the on-disk shape of the failure log.
type document struct {
	Failures []Entry                   `yaml:"failures"`
	Stats    map[string]map[string]int `yaml:"stats"`
}

// FailureLog is the append-only failure trace with rolling daily and
// ISO-week aggregates.
type FailureLog struct {
	mu      sync.Mutex
	path    string
	nowFunc func() time.Time
	logger  *slog.Logger
}

// NewFailureLog creates a log writing to path.
func NewFailureLog(path string, logger *slog.Logger) *FailureLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailureLog{path: path, nowFunc: time.Now, logger: logger}
}

// SetNowFunc sets a custom time function for testing.
func (l *FailureLog) SetNowFunc(fn func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nowFunc = fn
}

// Append records a failure, updates the aggregates and prunes daily
// entries past the retention horizon. Duplicate entries within the same
// second do not double-count the aggregates.
func (l *FailureLog) Append(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc().UTC()
	if e.Timestamp == "" {
		e.Timestamp = now.Format(time.RFC3339)
	}
	if len(e.Error) > maxSnippetLen {
		e.Error = e.Error[:maxSnippetLen]
	}

	return state.WithFileLock(l.path+".lock", func() error {
		doc, err := l.read()
		if err != nil {
			return err
		}

		duplicate := false
		for i := len(doc.Failures) - 1; i >= 0; i-- {
			prev := doc.Failures[i]
			if prev.Tool == e.Tool && prev.Class == e.Class && sameSecond(prev.Timestamp, e.Timestamp) {
				duplicate = true
				break
			}
			if !sameSecond(prev.Timestamp, e.Timestamp) {
				break
			}
		}

		doc.Failures = append(doc.Failures, e)

		if !duplicate {
			if doc.Stats == nil {
				doc.Stats = map[string]map[string]int{}
			}
			ts, err := time.Parse(time.RFC3339, e.Timestamp)
			if err != nil {
				ts = now
			}
			dayKey := "daily:" + ts.Format("2006-01-02")
			year, week := ts.ISOWeek()
			weekKey := fmt.Sprintf("weekly:%d-W%02d", year, week)
			for _, key := range []string{dayKey, weekKey} {
				if doc.Stats[key] == nil {
					doc.Stats[key] = map[string]int{}
				}
				doc.Stats[key][string(e.Class)]++
			}
		}

		l.prune(doc, now)
		return l.write(doc)
	})
}

// Entries returns all recorded failures.
func (l *FailureLog) Entries() ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	doc, err := l.read()
	if err != nil {
		return nil, err
	}
	return doc.Failures, nil
}

// Stats returns the rolling aggregates.
func (l *FailureLog) Stats() (map[string]map[string]int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	doc, err := l.read()
	if err != nil {
		return nil, err
	}
	return doc.Stats, nil
}

func (l *FailureLog) read() (*document, error) {
	raw, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return &document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read failure log: %w", err)
	}
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		l.logger.Warn("failure log corrupt, starting fresh", "path", l.path, "error", err)
		return &document{}, nil
	}
	return &doc, nil
}

func (l *FailureLog) write(doc *document) error {
	raw, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal failure log: %w", err)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write failure log: %w", err)
	}
	return os.Rename(tmp, l.path)
}

// prune drops failures and daily aggregates older than the retention
// horizon. Weekly aggregates are kept.
func (l *FailureLog) prune(doc *document, now time.Time) {
	horizon := now.AddDate(0, 0, -RetentionDays)

	kept := doc.Failures[:0]
	for _, e := range doc.Failures {
		ts, err := time.Parse(time.RFC3339, e.Timestamp)
		if err != nil || !ts.Before(horizon) {
			kept = append(kept, e)
		}
	}
	doc.Failures = kept

	horizonDay := horizon.Format("2006-01-02")
	for key := range doc.Stats {
		if len(key) > 6 && key[:6] == "daily:" && key[6:] < horizonDay {
			delete(doc.Stats, key)
		}
	}
}

func sameSecond(a, b string) bool {
	ta, errA := time.Parse(time.RFC3339, a)
	tb, errB := time.Parse(time.RFC3339, b)
	if errA != nil || errB != nil {
		return a == b
	}
	return ta.Truncate(time.Second).Equal(tb.Truncate(time.Second))
}
