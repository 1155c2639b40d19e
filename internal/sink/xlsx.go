package sink

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/xuri/excelize/v2"

	"github.com/dataharvest/reaper/internal/types"
)

// XLSXSink accumulates records in a scratch line-delimited file and
// materializes the spreadsheet once at Close, because incremental
// spreadsheet rewrites are expensive. The scratch file survives a killed
// process and can be materialized on demand.
type XLSXSink struct {
	path    string
	scratch *os.File
	bw      *bufio.Writer
	cols    *columnSet
	rows    []*types.Record
	mu      sync.Mutex
	logger  *slog.Logger
}

// NewXLSX creates a spreadsheet sink writing to path.
func NewXLSX(path string, logger *slog.Logger) (*XLSXSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &types.SinkError{Backend: "xlsx", Err: err}
	}
	f, err := os.Create(path + ".scratch.ndjson")
	if err != nil {
		return nil, &types.SinkError{Backend: "xlsx", Err: err}
	}
	return &XLSXSink{
		path:    path,
		scratch: f,
		bw:      bufio.NewWriter(f),
		cols:    newColumnSet(),
		logger:  logger.With("component", "xlsx_sink"),
	}, nil
}

func (s *XLSXSink) Name() string { return "xlsx" }

// Append buffers the record and appends it to the scratch file.
func (s *XLSXSink) Append(rec *types.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cols.add(rec.Columns())
	s.rows = append(s.rows, rec)

	entry := make(map[string]string, len(rec.Columns()))
	for _, col := range rec.Columns() {
		entry[col] = rec.GetString(col)
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return &types.SinkError{Backend: "xlsx", Err: err}
	}
	if _, err := s.bw.Write(append(line, '\n')); err != nil {
		return &types.SinkError{Backend: "xlsx", Err: err}
	}
	return s.bw.Flush()
}

// Flush syncs the scratch file.
func (s *XLSXSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.bw.Flush(); err != nil {
		return &types.SinkError{Backend: "xlsx", Err: err}
	}
	return s.scratch.Sync()
}

// Close materializes the workbook with the full column union, then removes
// the scratch file.
func (s *XLSXSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bw.Flush()
	if err := s.scratch.Close(); err != nil {
		return &types.SinkError{Backend: "xlsx", Err: err}
	}

	wb := excelize.NewFile()
	defer wb.Close()
	sheet := wb.GetSheetName(0)

	for i, col := range s.cols.list() {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return &types.SinkError{Backend: "xlsx", Err: err}
		}
		if err := wb.SetCellValue(sheet, cell, col); err != nil {
			return &types.SinkError{Backend: "xlsx", Err: err}
		}
	}

	for r, rec := range s.rows {
		row := s.cols.rowFor(rec)
		for c, val := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return &types.SinkError{Backend: "xlsx", Err: err}
			}
			if err := wb.SetCellValue(sheet, cell, val); err != nil {
				return &types.SinkError{Backend: "xlsx", Err: err}
			}
		}
	}

	if err := wb.SaveAs(s.path); err != nil {
		return &types.SinkError{Backend: "xlsx", Err: err}
	}
	if err := os.Remove(s.path + ".scratch.ndjson"); err != nil {
		s.logger.Warn("scratch file not removed", "error", err)
	}

	s.logger.Info("xlsx written", "path", s.path, "rows", len(s.rows), "columns", s.cols.len())
	return nil
}

var _ Sink = (*XLSXSink)(nil)
