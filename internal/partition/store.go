// Package partition reads the operator-supplied work list into an ordered
// sequence of partitions. Sources are CSV files, spreadsheet workbooks, or
// constant tables embedded in a site's extractor configuration. Order is
// deterministic so restart + resume produces stable behavior.
package partition

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dataharvest/reaper/internal/types"
)

// Store exposes partitions one at a time, in a fixed order, each consumed
// exactly once.
type Store struct {
	parts []*types.Partition
	next  int
}

// NewStatic builds a Store over a constant table.
func NewStatic(parts []*types.Partition) *Store {
	return &Store{parts: parts}
}

// Next returns the next partition, or nil when the store is drained.
func (s *Store) Next() *types.Partition {
	if s.next >= len(s.parts) {
		return nil
	}
	p := s.parts[s.next]
	s.next++
	return p
}

// Remaining returns the number of partitions not yet consumed.
func (s *Store) Remaining() int {
	return len(s.parts) - s.next
}

// Len returns the total number of partitions.
func (s *Store) Len() int {
	return len(s.parts)
}

// FromFile reads a partition source by extension (.csv, .xlsx).
func FromFile(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", types.ErrInputMissing, path)
		}
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FromCSV(path)
	case ".xlsx":
		return FromXLSX(path)
	default:
		return nil, fmt.Errorf("unsupported partition source %q", path)
	}
}

// FromGlob expands a glob pattern and concatenates all matching sources in
// sorted filename order. A pattern with no matches is treated as a missing
// input.
func FromGlob(pattern string) (*Store, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: %s", types.ErrInputMissing, pattern)
	}
	sort.Strings(matches)

	var parts []*types.Partition
	for _, m := range matches {
		st, err := FromFile(m)
		if err != nil {
			return nil, err
		}
		parts = append(parts, st.parts...)
	}
	return NewStatic(parts), nil
}

// Cross builds the crossproduct of named value lists, in the order given.
// Used for constant enumerated partition tables (the fixed set of cities, or
// property subtypes x counties).
func Cross(keys []string, values [][]string) []*types.Partition {
	if len(keys) == 0 || len(keys) != len(values) {
		return nil
	}

	combos := [][]string{{}}
	for _, vals := range values {
		var grown [][]string
		for _, c := range combos {
			for _, v := range vals {
				next := append(append([]string(nil), c...), v)
				grown = append(grown, next)
			}
		}
		combos = grown
	}

	parts := make([]*types.Partition, 0, len(combos))
	for _, c := range combos {
		m := make(map[string]string, len(keys))
		idParts := make([]string, len(keys))
		for i, k := range keys {
			m[k] = c[i]
			idParts[i] = c[i]
		}
		p := types.NewPartition(strings.Join(idParts, "|"), m)
		p.Label = strings.Join(idParts, ", ")
		parts = append(parts, p)
	}
	return parts
}

// dedupeHeaders disambiguates duplicate column headers by suffixing an
// ascending index ("price", "price_2", "price_3").
func dedupeHeaders(headers []string) []string {
	seen := make(map[string]int, len(headers))
	out := make([]string, len(headers))
	for i, h := range headers {
		h = strings.TrimSpace(h)
		seen[h]++
		if seen[h] > 1 {
			out[i] = fmt.Sprintf("%s_%d", h, seen[h])
		} else {
			out[i] = h
		}
	}
	return out
}

// rowPartition builds a partition from one tabular row. A column literally
// named "id" becomes the identifier; otherwise the id is the row values
// joined in column order.
func rowPartition(headers, cells []string) *types.Partition {
	values := make(map[string]string, len(headers))
	var id string
	joined := make([]string, 0, len(headers))

	for i, h := range headers {
		var cell string
		if i < len(cells) {
			cell = strings.TrimSpace(cells[i])
		}
		values[h] = cell
		if strings.EqualFold(h, "id") {
			id = cell
		}
		if cell != "" {
			joined = append(joined, cell)
		}
	}

	if id == "" {
		id = strings.Join(joined, "|")
	}
	p := types.NewPartition(id, values)
	p.Label = strings.Join(joined, ", ")
	return p
}
