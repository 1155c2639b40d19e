package enrich

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// LocationCatalog maps raw location strings (as sites print them) to
// canonical location lists. It is loaded from a JSON file, consulted
// before any model call, taught the model's answers for strings it has
// never seen, and written back on Save so later runs resolve those
// strings for free.
type LocationCatalog struct {
	mu      sync.Mutex
	path    string
	entries map[string][]string
	dirty   bool
}

// LoadLocationCatalog reads the catalog file. A missing file yields an
// empty catalog; Save will create it.
func LoadLocationCatalog(path string) (*LocationCatalog, error) {
	cat := &LocationCatalog{path: path, entries: map[string][]string{}}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cat, nil
		}
		return nil, fmt.Errorf("location catalog: %w", err)
	}
	if err := json.Unmarshal(data, &cat.entries); err != nil {
		return nil, fmt.Errorf("location catalog %s: %w", path, err)
	}
	return cat, nil
}

func catalogKey(raw string) string {
	return strings.ToLower(strings.Join(strings.Fields(raw), " "))
}

// Resolve returns the canonical locations for a raw string, or a
// syntactic split when the catalog has no entry.
func (c *LocationCatalog) Resolve(raw string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if known, ok := c.entries[catalogKey(raw)]; ok {
		return known
	}
	return SplitCityList(raw)
}

// Known reports whether the catalog already covers a raw string.
func (c *LocationCatalog) Known(raw string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[catalogKey(raw)]
	return ok
}

// Learn records a resolution for a raw string the catalog missed.
func (c *LocationCatalog) Learn(raw string, locations []string) {
	if strings.TrimSpace(raw) == "" || len(locations) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	key := catalogKey(raw)
	if _, ok := c.entries[key]; ok {
		return
	}
	c.entries[key] = locations
	c.dirty = true
}

// Flatten returns every canonical location across the catalog, unique,
// in sorted-key order so output is stable between runs.
func (c *LocationCatalog) Flatten() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, key := range sortedKeys(c.entries) {
		for _, loc := range c.entries[key] {
			if !seen[loc] {
				seen[loc] = true
				out = append(out, loc)
			}
		}
	}
	return out
}

// Save writes learned entries back to the catalog file. A clean
// catalog is a no-op.
func (c *LocationCatalog) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty || c.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		return fmt.Errorf("location catalog: %w", err)
	}
	c.dirty = false
	return nil
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SplitCityList splits a printed location line into individual places.
// Top-level commas, semicolons and slashes separate entries; an entry
// of the form "Region (A, B)" expands to its parenthesized places, so
// "North West (Manchester, Liverpool), London" yields
// ["Manchester", "Liverpool", "London"].
func SplitCityList(raw string) []string {
	var out []string
	depth := 0
	var cur strings.Builder
	flush := func() {
		entry := strings.TrimSpace(cur.String())
		cur.Reset()
		if entry == "" {
			return
		}
		if open := strings.Index(entry, "("); open >= 0 && strings.HasSuffix(entry, ")") {
			inner := entry[open+1 : len(entry)-1]
			expanded := SplitCityList(inner)
			if len(expanded) > 0 {
				out = append(out, expanded...)
				return
			}
			entry = strings.TrimSpace(entry[:open])
			if entry == "" {
				return
			}
		}
		out = append(out, entry)
	}
	for _, r := range raw {
		switch r {
		case '(':
			depth++
			cur.WriteRune(r)
		case ')':
			if depth > 0 {
				depth--
			}
			cur.WriteRune(r)
		case ',', ';', '/':
			if depth == 0 {
				flush()
				continue
			}
			cur.WriteRune(r)
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}
