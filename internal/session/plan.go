// Package session acquires login sessions with a real browser and
// distills them into the cookie/header bundles the HTTP fetcher wears.
// A site describes its login flow as a navigation plan; the browser
// runs the plan once, captures what the server handed out, and is torn
// down again.
package session

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// StepKind enumerates the actions a navigation plan can take.
type StepKind int

const (
	StepNavigate StepKind = iota
	StepWaitVisible
	StepFill
	StepClick
	StepScroll
	StepEval
	StepCapture
)

func (k StepKind) String() string {
	switch k {
	case StepNavigate:
		return "navigate"
	case StepWaitVisible:
		return "wait-visible"
	case StepFill:
		return "fill"
	case StepClick:
		return "click"
	case StepScroll:
		return "scroll"
	case StepEval:
		return "eval"
	case StepCapture:
		return "capture"
	default:
		return "unknown"
	}
}

// Step is one action in a navigation plan. Fill values may reference
// the configured credentials as {username} and {password}; they are
// substituted at run time and never stored in the plan.
type Step struct {
	Kind     StepKind
	URL      string        // Navigate
	Selector string        // WaitVisible, Fill, Click, Scroll
	Value    string        // Fill
	Script   string        // Eval
	Pattern  string        // Capture: substring the request URL must contain
	Token    string        // Capture: regexp with one group, run over the captured body
	Optional bool          // failure skips the step instead of aborting
	Timeout  time.Duration // per-step override
}

// Plan is a site's scripted login flow.
type Plan struct {
	Site  string
	Steps []Step

	// TTL is the expected session lifetime, zero when unknown.
	TTL time.Duration
}

var (
	plansMu sync.RWMutex
	plans   = map[string]*Plan{}
)

// RegisterPlan installs a site's navigation plan. Panics on duplicates,
// which only happen from conflicting init functions.
func RegisterPlan(p *Plan) {
	plansMu.Lock()
	defer plansMu.Unlock()
	if _, dup := plans[p.Site]; dup {
		panic(fmt.Sprintf("session: duplicate plan for site %q", p.Site))
	}
	plans[p.Site] = p
}

// PlanFor returns the navigation plan registered for a site.
func PlanFor(site string) (*Plan, bool) {
	plansMu.RLock()
	defer plansMu.RUnlock()
	p, ok := plans[site]
	return p, ok
}

// PlannedSites lists sites with a registered plan, sorted.
func PlannedSites() []string {
	plansMu.RLock()
	defer plansMu.RUnlock()
	out := make([]string, 0, len(plans))
	for site := range plans {
		out = append(out, site)
	}
	sort.Strings(out)
	return out
}

// substituteCredentials expands {username} and {password} placeholders.
func substituteCredentials(value, username, password string) string {
	return strings.NewReplacer(
		"{username}", username,
		"{password}", password,
	).Replace(value)
}

// extractToken runs a one-group regexp over captured request text and
// returns the group, or "" when the pattern does not match.
func extractToken(text, pattern string) (string, error) {
	if pattern == "" {
		return "", nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("token pattern %q: %w", pattern, err)
	}
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return "", nil
	}
	return m[1], nil
}
