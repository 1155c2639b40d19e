package types

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NotAvailable is the sentinel written when a field is missing or
// un-parseable. Downstream consumers treat it as "no information".
const NotAvailable = "N/A"

// Record is an ordered mapping from column name to value. Column order is
// insertion order: the first Set of a new column appends it.
type Record struct {
	// Fingerprint is a digest of the record's site-chosen canonical form,
	// used for dedup across runs.
	Fingerprint string

	// PartitionID names the partition this record belongs to.
	PartitionID string

	// URL is the page the record was primarily extracted from.
	URL string

	columns []string
	values  map[string]any
}

// NewRecord creates an empty Record for the given source URL.
func NewRecord(sourceURL string) *Record {
	return &Record{
		URL:    sourceURL,
		values: make(map[string]any),
	}
}

// Set assigns a column value, appending the column on first use.
func (r *Record) Set(column string, value any) {
	if _, ok := r.values[column]; !ok {
		r.columns = append(r.columns, column)
	}
	r.values[column] = value
}

// SetNA marks a column as present but carrying no information.
func (r *Record) SetNA(column string) {
	r.Set(column, NotAvailable)
}

// Get retrieves a column value.
func (r *Record) Get(column string) (any, bool) {
	v, ok := r.values[column]
	return v, ok
}

// GetString retrieves a column value rendered as a string.
func (r *Record) GetString(column string) string {
	v, ok := r.values[column]
	if !ok {
		return ""
	}
	return RenderValue(v)
}

// Has returns true if the column is present.
func (r *Record) Has(column string) bool {
	_, ok := r.values[column]
	return ok
}

// Columns returns the column names in insertion order.
func (r *Record) Columns() []string {
	return r.columns
}

// Merge copies every column of other into r, preserving other's column
// order for columns r does not already carry. Used when a detail or
// sub-detail fragment folds into its parent record.
func (r *Record) Merge(other *Record) {
	for _, col := range other.columns {
		r.Set(col, other.values[col])
	}
}

// RenderValue converts a record value to its artifact string form: scalars
// verbatim, lists joined with "; ", nested mappings as inline JSON.
func RenderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return NotAvailable
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case []string:
		return strings.Join(val, "; ")
	case []any:
		parts := make([]string, len(val))
		for i, e := range val {
			parts[i] = RenderValue(e)
		}
		return strings.Join(parts, "; ")
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return NotAvailable
		}
		return string(b)
	}
}

// MakeFingerprint digests a site-chosen canonical form. The parts are NFKC
// normalized, whitespace-collapsed, and joined with a unit separator before
// hashing, so cosmetically different inputs collapse to one fingerprint.
func MakeFingerprint(parts ...string) string {
	canon := make([]string, len(parts))
	for i, p := range parts {
		p = norm.NFKC.String(p)
		canon[i] = strings.Join(strings.Fields(strings.ToLower(p)), " ")
	}
	h := sha256.Sum256([]byte(strings.Join(canon, "\x1f")))
	return hex.EncodeToString(h[:])
}
