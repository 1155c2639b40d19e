package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Report accumulates run counters and writes the operator-facing event
// log: timestamped, tagged lines that tail -f reads naturally, with a
// summary block at the end of the run.
type Report struct {
	PartitionsTotal   atomic.Int64
	PartitionsDone    atomic.Int64
	PartitionsSkipped atomic.Int64
	RecordsEmitted    atomic.Int64
	Duplicates        atomic.Int64
	FetchFailures     atomic.Int64
	ParseFailures     atomic.Int64
	EnrichFailures    atomic.Int64
	SessionRenewals   atomic.Int64
	EmptyPartitions   atomic.Int64

	started time.Time

	mu       sync.Mutex
	file     *os.File
	emptyIDs []string
}

// EmptyPartition records a partition that completed with zero records.
func (r *Report) EmptyPartition(id string) {
	r.EmptyPartitions.Add(1)
	r.mu.Lock()
	r.emptyIDs = append(r.emptyIDs, id)
	r.mu.Unlock()
	r.Event(TagWarn, "partition %s returned zero records", id)
}

// StampLayout keys every per-run artifact by the run's start time.
const StampLayout = "200601021504"

// NewReport opens this run's event log at dir/<site>_<stamp>.txt.
func NewReport(dir, site, stamp string) (*Report, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(filepath.Join(dir, site+"_"+stamp+".txt"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &Report{file: file, started: time.Now()}, nil
}

// Event tags: lifecycle and severity markers in the event log.
const (
	TagInit     = "INIT"
	TagInfo     = "INFO"
	TagWarn     = "WARN"
	TagError    = "ERROR"
	TagExport   = "EXPORT"
	TagFinished = "FINISHED"
)

// Event appends one tagged line to the event log.
func (r *Report) Event(tag, format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return
	}
	fmt.Fprintf(r.file, "%s [%s] %s\n",
		time.Now().UTC().Format(time.RFC3339), tag, fmt.Sprintf(format, args...))
}

// Summary writes the final counter block and the FINISHED marker.
// reason names why the run ended.
func (r *Report) Summary(reason string) {
	r.Event(TagInfo, "partitions: %d total, %d completed, %d skipped",
		r.PartitionsTotal.Load(), r.PartitionsDone.Load(), r.PartitionsSkipped.Load())
	r.Event(TagInfo, "records: %d emitted, %d duplicates suppressed",
		r.RecordsEmitted.Load(), r.Duplicates.Load())
	r.Event(TagInfo, "failures: %d fetch, %d parse, %d enrich",
		r.FetchFailures.Load(), r.ParseFailures.Load(), r.EnrichFailures.Load())
	if n := r.SessionRenewals.Load(); n > 0 {
		r.Event(TagInfo, "sessions renewed: %d", n)
	}
	r.mu.Lock()
	empty := append([]string(nil), r.emptyIDs...)
	r.mu.Unlock()
	if len(empty) > 0 {
		r.Event(TagWarn, "zero-record partitions: %s", strings.Join(empty, ", "))
	}
	r.Event(TagFinished, "%s after %s", reason, time.Since(r.started).Round(time.Second))
}

// Close closes the event log.
func (r *Report) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// skipList is the quick-skip file: URLs that failed fatally in earlier
// runs, recorded one per line so later runs drop them without a fetch.
type skipList struct {
	mu   sync.Mutex
	path string
	seen map[string]bool
	file *os.File
}

// loadSkipList reads dir/<site>_skipped_urls.txt, creating it when
// absent.
func loadSkipList(dir, site string) (*skipList, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, site+"_skipped_urls.txt")
	sl := &skipList{path: path, seen: map[string]bool{}}

	if data, err := os.ReadFile(path); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				sl.seen[line] = true
			}
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	sl.file = file
	return sl, nil
}

// Contains reports whether a URL failed fatally before.
func (s *skipList) Contains(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[url]
}

// Add records a fatally-failed URL.
func (s *skipList) Add(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[url] {
		return
	}
	s.seen[url] = true
	if s.file != nil {
		fmt.Fprintln(s.file, url)
	}
}

func (s *skipList) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
