package fetcher

import (
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
)

// ProxyRing rotates outbound requests across a fixed set of proxies.
type ProxyRing struct {
	proxies []*url.URL
	next    atomic.Int64
}

// NewProxyRing parses the proxy URLs. At least one is required.
func NewProxyRing(raw []string) (*ProxyRing, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("proxy ring: no proxies given")
	}
	proxies := make([]*url.URL, 0, len(raw))
	for _, r := range raw {
		u, err := url.Parse(r)
		if err != nil {
			return nil, fmt.Errorf("proxy ring: %q: %w", r, err)
		}
		proxies = append(proxies, u)
	}
	return &ProxyRing{proxies: proxies}, nil
}

// Next returns the next proxy in round-robin order.
func (p *ProxyRing) Next() *url.URL {
	idx := p.next.Add(1) % int64(len(p.proxies))
	return p.proxies[idx]
}

// ProxyFunc adapts the ring to http.Transport.Proxy.
func (p *ProxyRing) ProxyFunc() func(*http.Request) (*url.URL, error) {
	return func(*http.Request) (*url.URL, error) {
		return p.Next(), nil
	}
}
