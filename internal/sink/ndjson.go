package sink

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/dataharvest/reaper/internal/types"
)

// NDJSONSink streams one JSON document per record. Late columns need no
// reconciliation: each document simply carries the fields its record has.
type NDJSONSink struct {
	path   string
	file   *os.File
	enc    *json.Encoder
	count  int
	mu     sync.Mutex
	logger *slog.Logger
}

// NewNDJSON creates a line-delimited JSON sink writing to path.
func NewNDJSON(path string, logger *slog.Logger) (*NDJSONSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &types.SinkError{Backend: "ndjson", Err: err}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, &types.SinkError{Backend: "ndjson", Err: err}
	}
	return &NDJSONSink{
		path:   path,
		file:   f,
		enc:    json.NewEncoder(f),
		logger: logger.With("component", "ndjson_sink"),
	}, nil
}

func (s *NDJSONSink) Name() string { return "ndjson" }

// Append writes one document and leaves the file valid.
func (s *NDJSONSink) Append(rec *types.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := make(map[string]any, len(rec.Columns())+3)
	entry["_fingerprint"] = rec.Fingerprint
	entry["_partition"] = rec.PartitionID
	entry["_url"] = rec.URL
	for _, col := range rec.Columns() {
		v, _ := rec.Get(col)
		entry[col] = v
	}
	if err := s.enc.Encode(entry); err != nil {
		return &types.SinkError{Backend: "ndjson", Err: err}
	}
	s.count++
	return nil
}

// Flush syncs the file.
func (s *NDJSONSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Sync()
}

// Close closes the file.
func (s *NDJSONSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Info("ndjson written", "path", s.path, "documents", s.count)
	return s.file.Close()
}

var _ Sink = (*NDJSONSink)(nil)
