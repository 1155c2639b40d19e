package sink

import (
	"encoding/csv"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/dataharvest/reaper/internal/types"
)

// CSVSink writes records to delimited text. The header is written on the
// first record and every append is flushed immediately, so the file stays
// valid mid-run. If columns grow after the header was written, Close
// rewrites the file with the full column union and pads earlier rows.
type CSVSink struct {
	path    string
	file    *os.File
	writer  *csv.Writer
	cols    *columnSet
	header  int // number of columns in the on-disk header, 0 = none yet
	rows    []*types.Record
	mu      sync.Mutex
	logger  *slog.Logger
}

// NewCSV creates a CSV sink writing to path.
func NewCSV(path string, logger *slog.Logger) (*CSVSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &types.SinkError{Backend: "csv", Err: err}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, &types.SinkError{Backend: "csv", Err: err}
	}
	return &CSVSink{
		path:   path,
		file:   f,
		writer: csv.NewWriter(f),
		cols:   newColumnSet(),
		logger: logger.With("component", "csv_sink"),
	}, nil
}

func (s *CSVSink) Name() string { return "csv" }

// Append writes the record and flushes. The incremental file is written
// against the columns known at header time; late columns are reconciled at
// Close.
func (s *CSVSink) Append(rec *types.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cols.add(rec.Columns())
	s.rows = append(s.rows, rec)

	if s.header == 0 {
		s.header = s.cols.len()
		if err := s.writer.Write(s.cols.list()); err != nil {
			return &types.SinkError{Backend: "csv", Err: err}
		}
	}

	row := s.cols.rowFor(rec)
	if len(row) > s.header {
		row = row[:s.header] // trailing new columns land in the close-time rewrite
	}
	if err := s.writer.Write(row); err != nil {
		return &types.SinkError{Backend: "csv", Err: err}
	}
	s.writer.Flush()
	return s.writer.Error()
}

// Flush forces buffered output to disk.
func (s *CSVSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return &types.SinkError{Backend: "csv", Err: err}
	}
	return s.file.Sync()
}

// Close finalizes the artifact. When columns were discovered after the
// header row was written, the whole file is rewritten (tmp + rename) with
// every row expanded to the full column union.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writer.Flush()
	if err := s.file.Close(); err != nil {
		return &types.SinkError{Backend: "csv", Err: err}
	}

	if s.cols.len() == s.header || len(s.rows) == 0 {
		s.logger.Info("csv written", "path", s.path, "rows", len(s.rows))
		return nil
	}

	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return &types.SinkError{Backend: "csv", Err: err}
	}
	w := csv.NewWriter(f)

	if err := w.Write(s.cols.list()); err != nil {
		f.Close()
		return &types.SinkError{Backend: "csv", Err: err}
	}
	for _, rec := range s.rows {
		if err := w.Write(s.cols.rowFor(rec)); err != nil {
			f.Close()
			return &types.SinkError{Backend: "csv", Err: err}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return &types.SinkError{Backend: "csv", Err: err}
	}
	if err := f.Close(); err != nil {
		return &types.SinkError{Backend: "csv", Err: err}
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return &types.SinkError{Backend: "csv", Err: err}
	}

	s.logger.Info("csv rewritten with late columns",
		"path", s.path,
		"rows", len(s.rows),
		"columns", s.cols.len(),
	)
	return nil
}

var _ Sink = (*CSVSink)(nil)
