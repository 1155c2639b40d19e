package fetcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/dataharvest/reaper/internal/config"
	"github.com/dataharvest/reaper/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestFetcher(t *testing.T) *HTTPFetcher {
	t.Helper()
	cfg := &config.FetcherConfig{
		RequestTimeout:  5 * time.Second,
		RetryBudget:     3,
		FollowRedirects: true,
		MaxRedirects:    5,
	}
	f, err := NewHTTPFetcher(cfg, testLogger())
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	f.retryDelay = time.Millisecond
	httpmock.ActivateNonDefault(f.client)
	t.Cleanup(httpmock.DeactivateAndReset)
	return f
}

func TestFetchRetriesTransientThenSucceeds(t *testing.T) {
	f := newTestFetcher(t)
	httpmock.RegisterResponder("GET", "https://site.test/page",
		httpmock.ResponderFromMultipleResponses([]*http.Response{
			httpmock.NewStringResponse(502, "bad gateway"),
			httpmock.NewStringResponse(503, "unavailable"),
			httpmock.NewStringResponse(200, "<html>ok</html>"),
		}))

	req := types.NewFetchRequest("https://site.test/page", types.StageListing, nil)
	resp, err := f.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if resp.StatusCode != 200 || string(resp.Body) != "<html>ok</html>" {
		t.Errorf("resp = %d %q", resp.StatusCode, resp.Body)
	}
	if httpmock.GetTotalCallCount() != 3 {
		t.Errorf("calls = %d, want 3", httpmock.GetTotalCallCount())
	}
}

func TestFetchAttemptsNeverExceedBudgetPlusOne(t *testing.T) {
	f := newTestFetcher(t)
	httpmock.RegisterResponder("GET", "https://site.test/down",
		httpmock.NewStringResponder(500, "boom"))

	req := types.NewFetchRequest("https://site.test/down", types.StageListing, nil)
	req.RetryBudget = 2
	_, err := f.Fetch(context.Background(), req)

	var fe *types.FetchError
	if !errors.As(err, &fe) || fe.StatusCode != 500 {
		t.Fatalf("error = %v, want FetchError with status 500", err)
	}
	if got := httpmock.GetTotalCallCount(); got != 3 {
		t.Errorf("calls = %d, want budget+1 = 3", got)
	}
}

func TestFetchRetriesAttemptTimeout(t *testing.T) {
	f := newTestFetcher(t)
	var calls int
	httpmock.RegisterResponder("GET", "https://site.test/slow",
		func(r *http.Request) (*http.Response, error) {
			calls++
			if calls < 3 {
				return nil, &url.Error{Op: "Get", URL: r.URL.String(), Err: context.DeadlineExceeded}
			}
			resp := httpmock.NewStringResponse(200, "<html>finally</html>")
			resp.Request = r
			return resp, nil
		})

	req := types.NewFetchRequest("https://site.test/slow", types.StageListing, nil)
	req.RetryBudget = 2
	req.Timeout = 100 * time.Millisecond
	resp, err := f.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(resp.Body) != "<html>finally</html>" {
		t.Errorf("body = %q", resp.Body)
	}
	// Per-attempt deadlines are transient and spend the retry budget.
	if calls != 3 {
		t.Errorf("calls = %d, want budget+1 = 3", calls)
	}
}

func TestFetchDoesNotRetryCallerCancellation(t *testing.T) {
	f := newTestFetcher(t)
	var calls int
	httpmock.RegisterResponder("GET", "https://site.test/late",
		func(r *http.Request) (*http.Response, error) {
			calls++
			return nil, &url.Error{Op: "Get", URL: r.URL.String(), Err: context.Canceled}
		})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := types.NewFetchRequest("https://site.test/late", types.StageListing, nil)
	req.RetryBudget = 3
	if _, err := f.Fetch(ctx, req); err == nil {
		t.Fatal("fetch should fail under a cancelled context")
	}
	if calls > 1 {
		t.Errorf("calls = %d, cancellation must not be retried", calls)
	}
}

func TestFetchDoesNotRetryFatalStatus(t *testing.T) {
	f := newTestFetcher(t)
	httpmock.RegisterResponder("GET", "https://site.test/gone",
		httpmock.NewStringResponder(404, "not found"))

	req := types.NewFetchRequest("https://site.test/gone", types.StageDetail, nil)
	resp, err := f.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	// 404 comes back as a response: fatal for the record, decided upstream.
	if resp.StatusCode != 404 {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if httpmock.GetTotalCallCount() != 1 {
		t.Errorf("calls = %d, want 1", httpmock.GetTotalCallCount())
	}
}

func TestFetchSurfacesInvalidSessionWithoutRetrying(t *testing.T) {
	f := newTestFetcher(t)
	httpmock.RegisterResponder("GET", "https://site.test/expired",
		httpmock.NewStringResponder(200, "<html>Your session has expired.</html>"))

	req := types.NewFetchRequest("https://site.test/expired", types.StageListing, nil)
	_, err := f.Fetch(context.Background(), req)
	if !errors.Is(err, types.ErrSessionInvalid) {
		t.Fatalf("error = %v, want ErrSessionInvalid", err)
	}
	if httpmock.GetTotalCallCount() != 1 {
		t.Errorf("calls = %d, want 1 (no retry on invalid session)", httpmock.GetTotalCallCount())
	}
}

func TestFetchInjectsSessionBundle(t *testing.T) {
	f := newTestFetcher(t)
	f.SetSession(&types.SessionBundle{
		Cookies:   map[string]string{"sid": "abc123"},
		Headers:   map[string]string{"X-Portal": "quoting"},
		CSRFToken: "tok-9",
	})

	var seen *http.Request
	httpmock.RegisterResponder("GET", "https://site.test/api",
		func(r *http.Request) (*http.Response, error) {
			seen = r
			resp := httpmock.NewStringResponse(200, "{}")
			resp.Request = r
			return resp, nil
		})

	req := types.NewFetchRequest("https://site.test/api", types.StageListing, nil)
	// Request-level headers override the bundle's.
	req.Headers.Set("X-Portal", "override")
	if _, err := f.Fetch(context.Background(), req); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if seen == nil {
		t.Fatal("responder never called")
	}
	if got := seen.Header.Get("X-CSRF-Token"); got != "tok-9" {
		t.Errorf("csrf header = %q", got)
	}
	if got := seen.Header.Get("X-Portal"); got != "override" {
		t.Errorf("portal header = %q, want request override", got)
	}
	if c, err := seen.Cookie("sid"); err != nil || c.Value != "abc123" {
		t.Errorf("sid cookie = %v, %v", c, err)
	}
}

func TestFetchTreatsBlockPageAsTransient(t *testing.T) {
	f := newTestFetcher(t)
	httpmock.RegisterResponder("GET", "https://site.test/blocked",
		httpmock.ResponderFromMultipleResponses([]*http.Response{
			httpmock.NewStringResponse(200, "<html><title>Access Denied</title></html>"),
			httpmock.NewStringResponse(200, "<html>real content</html>"),
		}))

	req := types.NewFetchRequest("https://site.test/blocked", types.StageListing, nil)
	resp, err := f.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(resp.Body) != "<html>real content</html>" {
		t.Errorf("body = %q, block page should have been retried", resp.Body)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if d := parseRetryAfter("7"); d != 7*time.Second {
		t.Errorf("seconds form = %s", d)
	}
	if d := parseRetryAfter("900"); d != 2*time.Minute {
		t.Errorf("cap = %s", d)
	}
	if d := parseRetryAfter(""); d != 5*time.Second {
		t.Errorf("default = %s", d)
	}
}
