// Package ledger tracks which records have already been sent through
// generation so that repeated passes skip them.
//
// The ledger lives in memory and is rewritten to a JSON file after every
// mutation. An abrupt exit can lose at most the mutation in flight. A missing
// or unreadable file yields an empty ledger: re-processing a record is
// preferable to refusing to run.
package ledger

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// fileFormat is the on-disk shape of the ledger.
type fileFormat struct {
	ProcessedIDs []string             `json:"processedIds"`
	LastRun      *time.Time           `json:"lastRun,omitempty"`
	ProcessedAt  map[string]time.Time `json:"processedAt,omitempty"`
}

// Ledger is a durable set of processed record ids. It is safe for concurrent use.
type Ledger struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]time.Time
	lastRun time.Time

	// now is replaced in tests.
	now func() time.Time
}

// Load reads the ledger at path. An empty path gives a ledger that is never
// written to disk.
func Load(path string, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{
		path:    path,
		logger:  logger,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
	if path == "" {
		return l
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("Ledger unreadable, starting empty", "path", path, "error", err)
		}
		return l
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		logger.Warn("Ledger corrupt, starting empty", "path", path, "error", err)
		return l
	}
	for _, id := range f.ProcessedIDs {
		if id == "" {
			continue
		}
		l.entries[id] = f.ProcessedAt[id]
	}
	if f.LastRun != nil {
		l.lastRun = *f.LastRun
	}
	logger.Debug("Ledger loaded", "path", path, "processed", len(l.entries))
	return l
}

// Path returns the backing file path.
func (l *Ledger) Path() string { return l.path }

// IsProcessed reports whether id has a ledger entry.
func (l *Ledger) IsProcessed(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[id]
	return ok
}

// MarkProcessed records id and refreshes the last-run time. Marking an id
// that is already present only refreshes the last-run time. If the flush
// fails the in-memory state is rolled back so it never runs ahead of disk.
func (l *Ledger) MarkProcessed(id string) error {
	if id == "" {
		return fmt.Errorf("ledger: empty record id")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	prevRun := l.lastRun
	_, existed := l.entries[id]
	if !existed {
		l.entries[id] = now
	}
	l.lastRun = now

	if err := l.flushLocked(); err != nil {
		if !existed {
			delete(l.entries, id)
		}
		l.lastRun = prevRun
		return err
	}
	return nil
}

// ListProcessed returns a sorted snapshot of processed ids.
func (l *Ledger) ListProcessed() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.entries))
	for id := range l.entries {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ProcessedSet returns a snapshot of processed ids as a set.
func (l *Ledger) ProcessedSet() map[string]bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]bool, len(l.entries))
	for id := range l.entries {
		out[id] = true
	}
	return out
}

// Len returns the number of processed ids.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// LastRun returns the time of the most recent MarkProcessed.
func (l *Ledger) LastRun() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastRun
}

// Reset clears every entry, forcing a full re-processing pass.
func (l *Ledger) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := l.entries
	l.entries = make(map[string]time.Time)
	if err := l.flushLocked(); err != nil {
		l.entries = prev
		return err
	}
	return nil
}

// Flush writes the current state to disk.
func (l *Ledger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushLocked()
}

// flushLocked writes to a temp file in the target directory and renames it
// into place, so readers see either the old or the new ledger.
func (l *Ledger) flushLocked() error {
	if l.path == "" {
		return nil
	}

	f := fileFormat{
		ProcessedIDs: make([]string, 0, len(l.entries)),
		ProcessedAt:  make(map[string]time.Time, len(l.entries)),
	}
	for id, at := range l.entries {
		f.ProcessedIDs = append(f.ProcessedIDs, id)
		if !at.IsZero() {
			f.ProcessedAt[id] = at
		}
	}
	sort.Strings(f.ProcessedIDs)
	if !l.lastRun.IsZero() {
		lr := l.lastRun
		f.LastRun = &lr
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("ledger: encode: %w", err)
	}

	dir := filepath.Dir(l.path)
	tmp, err := os.CreateTemp(dir, ".ledger-*.tmp")
	if err != nil {
		return fmt.Errorf("ledger: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("ledger: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("ledger: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("ledger: close: %w", err)
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		cleanup()
		return fmt.Errorf("ledger: rename: %w", err)
	}
	return nil
}
