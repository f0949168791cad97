package ws

import (
	"net/http"
	"net/url"
	"strings"
)

// OriginPolicy decides which browser origins may open WebSocket connections.
type OriginPolicy struct {
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
}

func NewOriginPolicy(allowed []string) *OriginPolicy {
	p := &OriginPolicy{
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
	}
	for _, origin := range allowed {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		p.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			p.allowedHosts[parsed.Host] = true
		}
	}
	return p
}

// Check accepts non-browser clients, configured origins, and, when no origins
// are configured, same-host and loopback origins.
func (p *OriginPolicy) Check(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}

	if len(p.allowedOrigins) > 0 {
		return p.allowedOrigins[origin] || p.allowedHosts[parsed.Host]
	}

	if parsed.Host == r.Host {
		return true
	}

	switch parsed.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
