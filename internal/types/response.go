package types

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// Response is the result of a completed fetch.
type Response struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Body is the decompressed response body.
	Body []byte

	// FinalURL is the URL after any redirects.
	FinalURL string

	// Headers are the response headers.
	Headers http.Header

	// Request is the originating request.
	Request *FetchRequest

	// FetchDuration is how long the fetch took, retries included.
	FetchDuration time.Duration

	doc  *goquery.Document
	node *html.Node
}

// Document returns the body parsed as a goquery document, lazily.
func (r *Response) Document() (*goquery.Document, error) {
	if r.doc != nil {
		return r.doc, nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(r.Body))
	if err != nil {
		return nil, err
	}
	r.doc = doc
	return doc, nil
}

// HTMLNode returns the body parsed for XPath queries, lazily.
func (r *Response) HTMLNode() (*html.Node, error) {
	if r.node != nil {
		return r.node, nil
	}
	node, err := htmlquery.Parse(bytes.NewReader(r.Body))
	if err != nil {
		return nil, err
	}
	r.node = node
	return node, nil
}

// DecodeJSON unmarshals the body into v.
func (r *Response) DecodeJSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// TransientStatus reports whether a status code is classified transient:
// 5xx, 408, 403 and 429. Everything else is fatal for the record.
func TransientStatus(code int) bool {
	switch {
	case code >= 500 && code < 600:
		return true
	case code == http.StatusRequestTimeout,
		code == http.StatusForbidden,
		code == http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}
