package partition

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
)

// FromCSV reads a delimited-text partition source. The first row is the
// header; duplicate headers are disambiguated by suffixing an ascending
// index.
func FromCSV(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // ragged rows are padded per-partition

	headers, err := r.Read()
	if err == io.EOF {
		return NewStatic(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	headers = dedupeHeaders(headers)

	store := &Store{}
	for {
		cells, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		if isEmptyRow(cells) {
			continue
		}
		store.parts = append(store.parts, rowPartition(headers, cells))
	}
	return store, nil
}

func isEmptyRow(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}
