package server

import (
	"net"
	"net/http"
	"strings"

	"github.com/ajitpratap0/transcript-mcp/pkg/config"
	mcperrors "github.com/ajitpratap0/transcript-mcp/pkg/errors"
)

const (
	corsAllowMethods = "GET, POST, DELETE, OPTIONS"
	corsAllowHeaders = "Content-Type, Accept, Authorization, Last-Event-ID, " + SessionIDHeader + ", " + ProtocolVersionHeader
)

var localhostNames = []string{"localhost", "127.0.0.1", "::1"}

// originPolicy applies CORS headers and, when enabled, rejects requests
// whose Host or Origin is not allow-listed.
type originPolicy struct {
	cors    config.CORSPolicy
	protect bool
	origins []string
	hosts   []string
}

func newOriginPolicy(cfg config.Config) originPolicy {
	return originPolicy{
		cors:    cfg.CORS,
		protect: cfg.DNSRebindingProtection,
		origins: cfg.AllowedOrigins,
		hosts:   cfg.AllowedHosts,
	}
}

func (p originPolicy) setCORSHeaders(w http.ResponseWriter) {
	if !p.cors.Enabled() {
		return
	}
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", string(p.cors))
	h.Set("Access-Control-Allow-Methods", corsAllowMethods)
	h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
	h.Set("Access-Control-Expose-Headers", SessionIDHeader)
	if p.cors != config.CORSWildcard {
		h.Add("Vary", "Origin")
	}
}

// check returns the rejection for r, or nil. Without explicit lists only
// loopback hosts and origins pass.
func (p originPolicy) check(r *http.Request) *mcperrors.Error {
	if !p.protect {
		return nil
	}
	if !p.hostAllowed(r.Host) {
		return mcperrors.InvalidRequest("Host not allowed")
	}
	if origin := r.Header.Get("Origin"); origin != "" && !p.originAllowed(origin) {
		return mcperrors.InvalidRequest("Origin not allowed")
	}
	return nil
}

func (p originPolicy) hostAllowed(host string) bool {
	name := host
	if h, _, err := net.SplitHostPort(host); err == nil {
		name = h
	}
	name = strings.Trim(name, "[]")
	if p.hosts == nil {
		return isLocalhostName(name)
	}
	for _, allowed := range p.hosts {
		if strings.EqualFold(allowed, host) || strings.EqualFold(allowed, name) {
			return true
		}
	}
	return false
}

func (p originPolicy) originAllowed(origin string) bool {
	if p.origins == nil {
		return isLocalhostOrigin(origin)
	}
	for _, allowed := range p.origins {
		if allowed == "*" || allowed == origin {
			return true
		}
		if isLocalhostOrigin(allowed) && isLocalhostOrigin(origin) && schemeOf(allowed) == schemeOf(origin) {
			return true
		}
	}
	return false
}

func isLocalhostName(name string) bool {
	for _, n := range localhostNames {
		if strings.EqualFold(name, n) {
			return true
		}
	}
	return false
}

// isLocalhostOrigin accepts loopback origins with or without a port.
func isLocalhostOrigin(origin string) bool {
	for _, scheme := range []string{"http://", "https://"} {
		rest, ok := strings.CutPrefix(origin, scheme)
		if !ok {
			continue
		}
		for _, n := range []string{"localhost", "127.0.0.1", "[::1]"} {
			if rest == n || strings.HasPrefix(rest, n+":") {
				return true
			}
		}
	}
	return false
}

func schemeOf(origin string) string {
	scheme, _, _ := strings.Cut(origin, "://")
	return scheme
}
