package types

import "time"

// SessionBundle is the cookies, headers, CSRF token and any captured form
// body that the fast HTTP path needs to impersonate a logged-in browser.
// It is read-only once acquired; the scheduler replaces it wholesale when
// the server signals it is invalid.
type SessionBundle struct {
	// Cookies maps cookie name to value.
	Cookies map[string]string

	// Headers maps header name to value, injected into every fetch
	// unless the request overrides them.
	Headers map[string]string

	// CSRFToken is the site-issued verification token, when one was
	// captured. Sites carry it in a header or a form field as they
	// require.
	CSRFToken string

	// CapturedBody is the form-encoded body of the in-flight request the
	// browser was observed sending, when the navigation plan captured
	// one.
	CapturedBody []byte

	// BaseURL is the origin the session was acquired against.
	BaseURL string

	// ExpiryHint is the session's expected expiry, zero when unknown.
	// Invalidation is detected from server responses either way.
	ExpiryHint time.Time
}

// Expired reports whether the expiry hint, if present, has passed.
func (b *SessionBundle) Expired(now time.Time) bool {
	return !b.ExpiryHint.IsZero() && now.After(b.ExpiryHint)
}
