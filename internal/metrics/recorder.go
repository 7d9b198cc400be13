package metrics

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/liftedinit/medchain/internal/models"
)

const (
	DefaultFile        = "pbft_metrics.json"
	DefaultRecentLimit = 100
)

// Recorder appends one JSON object per line to a file. Recording is best
// effort: a failed write is logged and dropped.
type Recorder struct {
	mu   sync.Mutex
	path string
}

func NewRecorder(path string) *Recorder {
	if path == "" {
		path = DefaultFile
	}
	return &Recorder{path: path}
}

func (r *Recorder) Path() string {
	return r.path
}

func (r *Recorder) Record(entry models.MetricsEntry) {
	if err := r.append(entry); err != nil {
		slog.Error("Metrics logging failed", "error", err, "file", r.path)
	}
}

func (r *Recorder) append(entry models.MetricsEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return errors.WithMessage(err, "failed to marshal metrics entry")
	}
	line = append(line, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.WithMessage(err, "failed to open metrics file")
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return errors.WithMessage(err, "failed to write metrics entry")
	}
	return nil
}

// Load returns every entry in file order. A missing file holds no entries.
func (r *Recorder) Load() ([]models.MetricsEntry, error) {
	r.mu.Lock()
	data, err := os.ReadFile(r.path)
	r.mu.Unlock()
	if errors.Is(err, os.ErrNotExist) {
		return []models.MetricsEntry{}, nil
	}
	if err != nil {
		return nil, errors.WithMessage(err, "failed to read metrics file")
	}

	entries := make([]models.MetricsEntry, 0)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var e models.MetricsEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, errors.WithMessage(err, "failed to decode metrics entry")
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.WithMessage(err, "failed to scan metrics file")
	}
	return entries, nil
}

// Recent returns the last limit entries, newest last. A zero limit means
// DefaultRecentLimit and a negative one means every entry. An unreadable or
// malformed file yields no entries.
func (r *Recorder) Recent(limit int) []models.MetricsEntry {
	entries, err := r.Load()
	if err != nil {
		slog.Warn("Failed to load metrics", "error", err, "file", r.path)
		return []models.MetricsEntry{}
	}
	if limit == 0 {
		limit = DefaultRecentLimit
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries
}
