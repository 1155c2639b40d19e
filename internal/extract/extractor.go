// Package extract holds the per-site declarative mapping from fetched
// payloads to ordered records plus follow-up fetch requests. The scheduler
// treats extractors as opaque: it does not know whether a particular stage
// is a listing or a detail page.
package extract

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dataharvest/reaper/internal/types"
)

// ParseResult is the outcome of handing one response to an extractor:
// zero or more emitted records and zero or more follow-up fetches. A child
// request whose Meta carries ParentKey folds its records into the parent
// record under assembly instead of emitting them.
type ParseResult struct {
	Records  []*types.Record
	Children []*types.FetchRequest
}

// ParentKey is the request Meta key under which the scheduler carries the
// record assembly a child fetch belongs to.
const ParentKey = "_parent"

// Extractor is the per-site capability set.
type Extractor interface {
	// Site returns the registry key.
	Site() string

	// InitialRequest builds the first listing fetch for a partition.
	InitialRequest(p *types.Partition) (*types.FetchRequest, error)

	// Parse maps one response to emitted records and follow-up fetches.
	// A structurally invalid payload yields a *types.ParseError and no
	// result.
	Parse(resp *types.Response) (*ParseResult, error)
}

// SessionPlanner is implemented by extractors whose site requires a
// browser-acquired session before HTTP fetches can proceed.
type SessionPlanner interface {
	// RequiresSession reports whether a session bundle must be acquired
	// per partition.
	RequiresSession() bool
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Extractor)
)

// Register adds an extractor to the string-keyed site table. Duplicate
// registration panics: it is a programming error.
func Register(e Extractor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[e.Site()]; dup {
		panic(fmt.Sprintf("extract: duplicate registration for site %q", e.Site()))
	}
	registry[e.Site()] = e
}

// Lookup retrieves the extractor for a site.
func Lookup(site string) (Extractor, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	e, ok := registry[site]
	if !ok {
		return nil, fmt.Errorf("%w: %q", types.ErrNoExtractor, site)
	}
	return e, nil
}

// Sites lists registered site keys in sorted order.
func Sites() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
