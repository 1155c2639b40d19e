package sink

import (
	"encoding/csv"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/dataharvest/reaper/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func record(url string, pairs ...string) *types.Record {
	rec := types.NewRecord(url)
	for i := 0; i+1 < len(pairs); i += 2 {
		rec.Set(pairs[i], pairs[i+1])
	}
	return rec
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	return rows
}

func TestCSVSinkHeaderAndRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	s, err := NewCSV(path, testLogger)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if err := s.Append(record("u1", "Title", "First", "Price", "10")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(record("u2", "Title", "Second", "Price", "20")); err != nil {
		t.Fatalf("append: %v", err)
	}

	// The file must already be valid before Close.
	rows := readCSV(t, path)
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows mid-run, got %d", len(rows))
	}

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	rows = readCSV(t, path)
	if rows[0][0] != "Title" || rows[0][1] != "Price" {
		t.Errorf("unexpected header: %v", rows[0])
	}
	if rows[1][0] != "First" || rows[2][1] != "20" {
		t.Errorf("unexpected rows: %v", rows[1:])
	}
}

func TestCSVSinkLateColumnsPadded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	s, err := NewCSV(path, testLogger)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	s.Append(record("u1", "Title", "First"))
	s.Append(record("u2", "Title", "Second", "Mechanical-Density-kg/m³", "7850"))
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	rows := readCSV(t, path)
	if len(rows[0]) != 2 {
		t.Fatalf("expected 2 columns after rewrite, got %v", rows[0])
	}
	// Earlier row padded with the sentinel for the late column.
	if rows[1][1] != types.NotAvailable {
		t.Errorf("expected %q padding, got %q", types.NotAvailable, rows[1][1])
	}
	if rows[2][1] != "7850" {
		t.Errorf("expected late column value, got %q", rows[2][1])
	}

	// Property: every row has a value for every header column.
	for i, row := range rows[1:] {
		if len(row) != len(rows[0]) {
			t.Errorf("row %d has %d cells, header has %d", i+1, len(row), len(rows[0]))
		}
	}
}

func TestXLSXSinkMaterializesAtClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.xlsx")
	s, err := NewXLSX(path, testLogger)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	s.Append(record("u1", "Material", "S235", "Cross Referencing", "7"))
	s.Append(record("u2", "Material", "S355", "Mechanical-Yield-MPa", "355"))

	// Scratch exists during the run; workbook does not yet.
	if _, err := os.Stat(path + ".scratch.ndjson"); err != nil {
		t.Fatalf("scratch file missing: %v", err)
	}
	if _, err := os.Stat(path); err == nil {
		t.Fatal("workbook should not exist before close")
	}

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	wb, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer wb.Close()

	rows, err := wb.GetRows(wb.GetSheetName(0))
	if err != nil {
		t.Fatalf("get rows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "Material" || rows[0][2] != "Mechanical-Yield-MPa" {
		t.Errorf("unexpected header: %v", rows[0])
	}
	// First record padded for the late mechanical column.
	if rows[1][2] != types.NotAvailable {
		t.Errorf("expected sentinel, got %q", rows[1][2])
	}

	if _, err := os.Stat(path + ".scratch.ndjson"); err == nil {
		t.Error("scratch file should be removed after close")
	}
}

func TestNDJSONSinkStreams(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.ndjson")
	s, err := NewNDJSON(path, testLogger)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	rec := record("https://example.com/p/1", "Title", "Thing")
	rec.Fingerprint = "fp1"
	rec.PartitionID = "cat|1"
	if err := s.Append(rec); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"_fingerprint":"fp1"`, `"Title":"Thing"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("output missing %s: %s", want, data)
		}
	}
}
