// Package ledger implements the durable seen-fingerprint store used for
// resumption across runs. Fingerprints live in a single append-only text
// file, one per line; partition-completed markers live in a sibling file of
// identical shape.
package ledger

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	seenFile      = "seen_fingerprints.txt"
	completedFile = "completed_partitions.txt"
)

// Ledger is the append-only set of record fingerprints already emitted,
// plus partition-completed markers. Single writer; reads are either at
// startup or from the writer's goroutine.
type Ledger struct {
	mu     sync.Mutex
	seen   map[string]struct{}
	done   map[string]struct{}
	seenF  *os.File
	doneF  *os.File
	logger *slog.Logger
}

// Open loads the ledger files under dir. When resume is false the files'
// prior contents are ignored for this run but appends still land so later
// runs can resume. A file that cannot be opened leaves the ledger starting
// empty with a warning; duplicates may then be emitted, which downstream
// deduplication can remove via the fingerprint column.
func Open(dir string, resume bool, logger *slog.Logger) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	l := &Ledger{
		seen:   make(map[string]struct{}),
		done:   make(map[string]struct{}),
		logger: logger.With("component", "ledger"),
	}

	l.seenF = l.openFile(filepath.Join(dir, seenFile), resume, l.seen)
	l.doneF = l.openFile(filepath.Join(dir, completedFile), resume, l.done)

	l.logger.Info("ledger loaded",
		"fingerprints", len(l.seen),
		"completed_partitions", len(l.done),
		"resume", resume,
	)
	return l, nil
}

// openFile opens path for append and, when resume holds, loads its existing
// lines into set. Returns nil on open failure after logging a warning.
func (l *Ledger) openFile(path string, resume bool, set map[string]struct{}) *os.File {
	if resume {
		f, err := os.Open(path)
		if err == nil {
			sc := bufio.NewScanner(f)
			for sc.Scan() {
				line := strings.TrimSpace(sc.Text())
				if line != "" {
					set[line] = struct{}{}
				}
			}
			f.Close()
		} else if !os.IsNotExist(err) {
			l.logger.Warn("ledger file unreadable, starting empty", "path", path, "error", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		l.logger.Warn("ledger file not writable, entries will not persist", "path", path, "error", err)
		return nil
	}
	return f
}

// Contains reports whether a fingerprint has already been recorded. After a
// crash preceding the last flush this may return a false negative, never a
// false positive.
func (l *Ledger) Contains(fingerprint string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[fingerprint]
	return ok
}

// Record appends a fingerprint to the ledger file and the in-memory set.
func (l *Ledger) Record(fingerprint string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.seen[fingerprint]; ok {
		return nil
	}
	l.seen[fingerprint] = struct{}{}
	return appendLine(l.seenF, fingerprint)
}

// CompletedPartition reports whether a partition was marked completed in a
// prior (or this) run.
func (l *Ledger) CompletedPartition(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.done[id]
	return ok
}

// MarkPartitionDone records that a partition was drained to completion.
func (l *Ledger) MarkPartitionDone(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.done[id]; ok {
		return nil
	}
	l.done[id] = struct{}{}
	return appendLine(l.doneF, id)
}

// Count returns the number of distinct fingerprints recorded.
func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}

// Close syncs and closes the ledger files.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	for _, f := range []*os.File{l.seenF, l.doneF} {
		if f == nil {
			continue
		}
		if err := f.Sync(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.seenF, l.doneF = nil, nil
	return firstErr
}

func appendLine(f *os.File, line string) error {
	if f == nil {
		return nil
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		return err
	}
	return f.Sync()
}
