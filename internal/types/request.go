package types

import (
	"net/http"
	"time"
)

// Stage identifies the logical position of a fetch in a site's fan-out.
// The scheduler treats stages as opaque except for queue ordering: deeper
// stages are served first so in-flight records finish before new listings
// open.
type Stage int

const (
	StageListing Stage = iota
	StageDetail
	StageSubDetail
)

func (s Stage) String() string {
	switch s {
	case StageListing:
		return "listing"
	case StageDetail:
		return "detail"
	case StageSubDetail:
		return "sub-detail"
	default:
		return "unknown"
	}
}

// FetchRequest describes one HTTP fetch to be issued by the fetcher.
type FetchRequest struct {
	// Method is the HTTP method. Defaults to GET.
	Method string

	// URL is the target. Query strings well beyond 2 KiB are expected:
	// some partitions are encoded entirely into filters.
	URL string

	// Headers are request-specific headers. They override the session
	// bundle's headers on conflict.
	Headers http.Header

	// Cookies are request-specific cookies, overriding the session
	// bundle's cookies on conflict.
	Cookies map[string]string

	// Body is the request body for POST/PUT.
	Body []byte

	// Stage is the logical fan-out stage of this fetch.
	Stage Stage

	// Partition is the partition this fetch belongs to.
	Partition *Partition

	// Meta carries scheduler bookkeeping (the record under assembly).
	Meta map[string]any

	// RetryBudget bounds transient retries; total attempts never exceed
	// RetryBudget + 1.
	RetryBudget int

	// Attempt is the current retry attempt, starting at 0.
	Attempt int

	// Timeout overrides the fetcher's default per-request deadline.
	Timeout time.Duration
}

// NewFetchRequest creates a GET FetchRequest with defaults.
func NewFetchRequest(url string, stage Stage, p *Partition) *FetchRequest {
	return &FetchRequest{
		Method:      http.MethodGet,
		URL:         url,
		Headers:     make(http.Header),
		Stage:       stage,
		Partition:   p,
		Meta:        make(map[string]any),
		RetryBudget: 3,
	}
}

// PartitionID returns the owning partition's identifier, or "" when the
// request is not partition-bound.
func (r *FetchRequest) PartitionID() string {
	if r.Partition == nil {
		return ""
	}
	return r.Partition.ID
}
