// Package sink appends normalized records to a tabular artifact with
// incremental flushes and dynamic column discovery. Columns discovered late
// have earlier rows padded with the not-available sentinel on finalization.
package sink

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/dataharvest/reaper/internal/types"
)

// Sink is the interface for all output writers. Append must leave the
// artifact syntactically valid even if the process is terminated mid-run.
type Sink interface {
	// Append writes one normalized record.
	Append(rec *types.Record) error

	// Flush forces buffered output to disk.
	Flush() error

	// Close finalizes the artifact, padding late-discovered columns.
	Close() error

	// Name returns the sink backend identifier.
	Name() string
}

// columnSet is an insertion-ordered union of column names.
type columnSet struct {
	order []string
	idx   map[string]int
}

func newColumnSet() *columnSet {
	return &columnSet{idx: make(map[string]int)}
}

// add unions the given columns, preserving first-seen order.
func (c *columnSet) add(cols []string) {
	for _, col := range cols {
		if _, ok := c.idx[col]; !ok {
			c.idx[col] = len(c.order)
			c.order = append(c.order, col)
		}
	}
}

func (c *columnSet) list() []string { return c.order }

func (c *columnSet) len() int { return len(c.order) }

// rowFor expands a record into the full column list, padding missing
// fields with the not-available sentinel.
func (c *columnSet) rowFor(rec *types.Record) []string {
	row := make([]string, len(c.order))
	for i, col := range c.order {
		if v, ok := rec.Get(col); ok {
			row[i] = types.RenderValue(v)
		} else {
			row[i] = types.NotAvailable
		}
	}
	return row
}

// New creates a sink by format name. path is the main artifact path; the
// mongo format interprets it as "<uri>/<database>/<collection>".
func New(format, path string, logger *slog.Logger) (Sink, error) {
	switch strings.ToLower(format) {
	case "csv":
		return NewCSV(path, logger)
	case "xlsx":
		return NewXLSX(path, logger)
	case "ndjson", "jsonl":
		return NewNDJSON(path, logger)
	case "mongo", "mongodb":
		uri, db, coll, err := splitMongoPath(path)
		if err != nil {
			return nil, err
		}
		return NewMongo(uri, db, coll, logger)
	default:
		return nil, fmt.Errorf("unsupported sink format %q", format)
	}
}

// ArtifactPath builds the per-run artifact filename:
// "<site> <label> <YYYYMMDDHHMM>.<ext>" under dir.
func ArtifactPath(dir, site, label, stamp, ext string) string {
	name := fmt.Sprintf("%s %s %s.%s", site, label, stamp, ext)
	return filepath.Join(dir, name)
}

func splitMongoPath(path string) (uri, db, coll string, err error) {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return "", "", "", fmt.Errorf("mongo sink path %q must be <uri>/<db>/<collection>", path)
	}
	coll = path[i+1:]
	rest := path[:i]
	j := strings.LastIndex(rest, "/")
	if j < 0 {
		return "", "", "", fmt.Errorf("mongo sink path %q must be <uri>/<db>/<collection>", path)
	}
	return rest[:j], rest[j+1:], coll, nil
}
