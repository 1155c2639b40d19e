package types

import (
	"sort"
	"strings"
)

// Partition is one unit of operator-chosen search work (a zip code, a
// postcode, a material group, a category page). It is consumed exactly once
// per run.
type Partition struct {
	// ID is the stable identifier used as the ledger subkey.
	ID string

	// Label is the human-readable form used in logs.
	Label string

	// Values is the payload consumed by the site extractor.
	Values map[string]string
}

// NewPartition builds a Partition from its payload. When no explicit id is
// given, the id is derived from the payload values joined in key order so
// that restart + resume sees the same identifiers.
func NewPartition(id string, values map[string]string) *Partition {
	if id == "" {
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, values[k])
		}
		id = strings.Join(parts, "|")
	}

	return &Partition{
		ID:     id,
		Label:  id,
		Values: values,
	}
}

// Get retrieves a payload value, or "" when absent.
func (p *Partition) Get(key string) string {
	return p.Values[key]
}
