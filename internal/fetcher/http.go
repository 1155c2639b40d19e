// Package fetcher issues HTTP requests on behalf of the scheduler,
// wearing the session bundle a browser acquired and absorbing transient
// failures inside each Fetch call.
package fetcher

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/dataharvest/reaper/internal/config"
	"github.com/dataharvest/reaper/internal/types"
)

// bodyMarkers that classify an HTTP 200 whose body is actually a block
// or an invalidated session.
var (
	accessDeniedMarkers = []string{
		"access denied",
		"request unsuccessful. incapsula",
		"attention required! | cloudflare",
	}
	sessionInvalidMarkers = []string{
		"your session has expired",
		"session expired",
		"please log in to continue",
	}
)

// HTTPFetcher is the fast-path fetcher. It injects the current session
// bundle into every request and retries transient failures with
// exponential backoff, honoring Retry-After when the server sends one.
type HTTPFetcher struct {
	client     *http.Client
	cfg        *config.FetcherConfig
	ring       *ProxyRing
	logger     *slog.Logger
	userAgents []string
	uaIndex    atomic.Int64
	session    atomic.Pointer[types.SessionBundle]
	retryDelay time.Duration

	// paceMu serializes the politeness gap between requests.
	paceMu   sync.Mutex
	lastSent time.Time
}

// NewHTTPFetcher creates an HTTP fetcher from config.
func NewHTTPFetcher(cfg *config.FetcherConfig, logger *slog.Logger) (*HTTPFetcher, error) {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        64,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.TLSInsecure,
		},
		// Decompression is handled here, brotli included.
		DisableCompression: true,
	}

	var ring *ProxyRing
	if len(cfg.ProxyURLs) > 0 {
		var err error
		ring, err = NewProxyRing(cfg.ProxyURLs)
		if err != nil {
			return nil, err
		}
		transport.Proxy = ring.ProxyFunc()
	}

	redirectPolicy := func(req *http.Request, via []*http.Request) error {
		if !cfg.FollowRedirects {
			return http.ErrUseLastResponse
		}
		if len(via) >= cfg.MaxRedirects {
			return fmt.Errorf("max redirects (%d) reached", cfg.MaxRedirects)
		}
		return nil
	}

	return &HTTPFetcher{
		client: &http.Client{
			Transport:     transport,
			Timeout:       cfg.RequestTimeout,
			CheckRedirect: redirectPolicy,
		},
		cfg:        cfg,
		ring:       ring,
		logger:     logger.With("component", "http_fetcher"),
		userAgents: cfg.UserAgents,
		retryDelay: time.Second,
	}, nil
}

// SetSession swaps the session bundle injected into subsequent fetches.
// Safe to call while fetches are in flight.
func (f *HTTPFetcher) SetSession(b *types.SessionBundle) {
	f.session.Store(b)
}

// Session returns the bundle currently in use, or nil.
func (f *HTTPFetcher) Session() *types.SessionBundle {
	return f.session.Load()
}

// Fetch executes the request. Transient failures (5xx, 408, 403, 429,
// network hiccups, block pages) are retried inside this call until the
// request's retry budget is spent: at most RetryBudget+1 attempts. A
// rejected session surfaces as types.ErrSessionInvalid without
// consuming the budget further, so the scheduler can re-acquire.
func (f *HTTPFetcher) Fetch(ctx context.Context, req *types.FetchRequest) (*types.Response, error) {
	budget := req.RetryBudget
	if budget < 0 {
		budget = 0
	}

	var lastErr error
	for req.Attempt = 0; req.Attempt <= budget; req.Attempt++ {
		if req.Attempt > 0 {
			delay := f.backoff(req.Attempt, lastErr)
			f.logger.Warn("retrying fetch",
				"url", req.URL, "attempt", req.Attempt, "delay", delay, "cause", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := f.fetchOnce(ctx, req)
		if err == nil {
			return resp, nil
		}
		if errors.Is(err, types.ErrSessionInvalid) || ctx.Err() != nil {
			return nil, err
		}
		var fe *types.FetchError
		if errors.As(err, &fe) && !fe.Retryable {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, req *types.FetchRequest) (*types.Response, error) {
	f.pace()

	attemptCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, method, req.URL, body)
	if err != nil {
		return nil, &types.FetchError{URL: req.URL, Err: err, Retryable: false}
	}

	httpReq.Header.Set("User-Agent", f.nextUserAgent())
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	httpReq.Header.Set("Accept-Language", "en-GB,en;q=0.9")
	httpReq.Header.Set("Accept-Encoding", "gzip, deflate, br")

	f.applySession(httpReq)

	// Request-specific headers and cookies win over the bundle's.
	for key, values := range req.Headers {
		for _, v := range values {
			httpReq.Header.Set(key, v)
		}
	}
	for name, value := range req.Cookies {
		httpReq.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	start := time.Now()
	httpResp, err := f.client.Do(httpReq)
	duration := time.Since(start)
	if err != nil {
		// The caller's own context being done is final; a per-attempt
		// deadline is just a slow server and spends the retry budget.
		if ctx.Err() != nil {
			return nil, &types.FetchError{URL: req.URL, Err: err, Retryable: false}
		}
		return nil, &types.FetchError{URL: req.URL, Err: err, Retryable: retryableNetErr(err)}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("fetch %s: %w", req.URL, types.ErrSessionInvalid)
	}

	if httpResp.StatusCode == http.StatusTooManyRequests {
		retryAfter := parseRetryAfter(httpResp.Header.Get("Retry-After"))
		drain(httpResp.Body)
		return nil, &types.FetchError{
			URL:        req.URL,
			StatusCode: httpResp.StatusCode,
			Err:        fmt.Errorf("rate limited, retry after %s", retryAfter),
			Retryable:  true,
			RetryAfter: retryAfter,
		}
	}

	if types.TransientStatus(httpResp.StatusCode) {
		snippet, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return nil, &types.FetchError{
			URL:        req.URL,
			StatusCode: httpResp.StatusCode,
			Err:        fmt.Errorf("HTTP %d: %s", httpResp.StatusCode, strings.TrimSpace(string(snippet))),
			Retryable:  true,
		}
	}

	var reader io.Reader = httpResp.Body
	if f.cfg.MaxBodySize > 0 {
		reader = io.LimitReader(reader, f.cfg.MaxBodySize)
	}
	reader, err = decompressReader(httpResp, reader)
	if err != nil {
		return nil, &types.FetchError{URL: req.URL, Err: err, Retryable: false}
	}
	bodyBytes, err := io.ReadAll(reader)
	if err != nil {
		return nil, &types.FetchError{URL: req.URL, Err: err, Retryable: true}
	}

	if httpResp.StatusCode == http.StatusOK {
		if marker := matchMarker(bodyBytes, sessionInvalidMarkers); marker != "" {
			return nil, fmt.Errorf("fetch %s: body says %q: %w", req.URL, marker, types.ErrSessionInvalid)
		}
		if marker := matchMarker(bodyBytes, accessDeniedMarkers); marker != "" {
			return nil, &types.FetchError{
				URL:       req.URL,
				Err:       fmt.Errorf("blocked: body says %q", marker),
				Retryable: true,
			}
		}
	}

	resp := &types.Response{
		StatusCode:    httpResp.StatusCode,
		Body:          bodyBytes,
		FinalURL:      httpResp.Request.URL.String(),
		Headers:       httpResp.Header,
		Request:       req,
		FetchDuration: duration,
	}
	f.logger.Debug("fetch complete",
		"url", req.URL, "status", resp.StatusCode, "size", len(bodyBytes), "duration", duration)
	return resp, nil
}

// Close releases idle connections.
func (f *HTTPFetcher) Close() error {
	f.client.CloseIdleConnections()
	return nil
}

// pace enforces the minimum gap between consecutive requests.
func (f *HTTPFetcher) pace() {
	if f.cfg.MinInterval <= 0 {
		return
	}
	f.paceMu.Lock()
	defer f.paceMu.Unlock()
	if wait := f.cfg.MinInterval - time.Since(f.lastSent); wait > 0 {
		time.Sleep(wait)
	}
	f.lastSent = time.Now()
}

// applySession injects the current bundle's headers, cookies and CSRF
// token into the outgoing request.
func (f *HTTPFetcher) applySession(httpReq *http.Request) {
	bundle := f.session.Load()
	if bundle == nil {
		return
	}
	for name, value := range bundle.Headers {
		httpReq.Header.Set(name, value)
	}
	for name, value := range bundle.Cookies {
		httpReq.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	if bundle.CSRFToken != "" {
		httpReq.Header.Set("X-CSRF-Token", bundle.CSRFToken)
	}
}

func (f *HTTPFetcher) backoff(attempt int, lastErr error) time.Duration {
	var fe *types.FetchError
	if errors.As(lastErr, &fe) && fe.RetryAfter > 0 {
		return fe.RetryAfter
	}
	return f.retryDelay << (attempt - 1)
}

func (f *HTTPFetcher) nextUserAgent() string {
	if len(f.userAgents) == 0 {
		return "reaper/" + config.Version
	}
	idx := f.uaIndex.Add(1) % int64(len(f.userAgents))
	return f.userAgents[idx]
}

func matchMarker(body []byte, markers []string) string {
	if len(body) > 8192 {
		body = body[:8192]
	}
	lower := strings.ToLower(string(body))
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return m
		}
	}
	return ""
}

func drain(r io.Reader) {
	io.Copy(io.Discard, io.LimitReader(r, 4096))
}

// decompressReader wraps a reader with the decompressor matching the
// Content-Encoding header: gzip, deflate or brotli.
func decompressReader(resp *http.Response, reader io.Reader) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(reader)
	case "deflate":
		return flate.NewReader(reader), nil
	case "br":
		return brotli.NewReader(reader), nil
	default:
		return reader, nil
	}
}

// retryableNetErr reports whether a transport error warrants a retry:
// timeouts, resets, refused connections and truncated streams. Callers
// rule out their own cancellation before classifying, so a deadline
// seen here is the per-attempt timeout.
func retryableNetErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errors.Is(opErr.Err, syscall.ECONNRESET) || errors.Is(opErr.Err, syscall.ECONNREFUSED) {
			return true
		}
	}
	return false
}

// parseRetryAfter parses Retry-After as integer seconds or HTTP-date,
// capped at two minutes.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 5 * time.Second
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil {
		if secs > 120 {
			secs = 120
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		d := time.Until(t)
		switch {
		case d < 0:
			return time.Second
		case d > 2*time.Minute:
			return 2 * time.Minute
		}
		return d
	}
	return 5 * time.Second
}
