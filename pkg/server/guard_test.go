package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/transcript-mcp/pkg/config"
	mcperrors "github.com/ajitpratap0/transcript-mcp/pkg/errors"
)

func TestVersionGuardValidate(t *testing.T) {
	g := VersionGuard{Supported: "2025-06-18"}

	assert.True(t, g.Validate("", false))
	assert.True(t, g.Validate("2025-06-18", true))
	assert.False(t, g.Validate("2024-11-05", true))
	assert.False(t, g.Validate("", true), "an empty header is still a header")
}

func TestVersionGuardCheck(t *testing.T) {
	g := VersionGuard{Supported: "2025-06-18"}

	r := httptest.NewRequest(http.MethodPost, Endpoint, nil)
	assert.Nil(t, g.Check(r))

	r.Header.Set("mcp-protocol-version", "2025-06-18")
	assert.Nil(t, g.Check(r))

	r.Header.Set(ProtocolVersionHeader, "1999-01-01")
	err := g.Check(r)
	require.NotNil(t, err)
	assert.Equal(t, mcperrors.CodeInvalidProtocolVersion, err.Code())
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus())
	assert.Equal(t, "2025-06-18", err.ToJSON()["supported"])
}

func TestLegacyResponse(t *testing.T) {
	assert.True(t, IsLegacyPath(LegacyEventsEndpoint))
	assert.True(t, IsLegacyPath(LegacyMessagesEndpoint))
	assert.False(t, IsLegacyPath(Endpoint))
	assert.False(t, IsLegacyPath("/mcp/events/"))

	_, ok := LegacyResponse(Endpoint)
	assert.False(t, ok)

	err, ok := LegacyResponse(LegacyMessagesEndpoint)
	require.True(t, ok)
	assert.Equal(t, mcperrors.CodeEndpointDeprecated, err.Code())
	assert.Equal(t, http.StatusNotFound, err.HTTPStatus())
	assert.Equal(t, mcperrors.Migration{
		OldEndpoint: LegacyMessagesEndpoint,
		NewEndpoint: Endpoint,
		Method:      http.MethodPost,
	}, err.ToJSON()["migration"])
}

func TestOriginPolicyCORSHeaders(t *testing.T) {
	for _, tc := range []struct {
		policy     config.CORSPolicy
		wantOrigin string
		wantVary   string
	}{
		{config.CORSDisabled, "", ""},
		{config.CORSWildcard, "*", ""},
		{config.CORSPolicy("https://app.example.com"), "https://app.example.com", "Origin"},
	} {
		p := newOriginPolicy(config.Config{CORS: tc.policy})
		rec := httptest.NewRecorder()
		p.setCORSHeaders(rec)
		assert.Equal(t, tc.wantOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, tc.wantVary, rec.Header().Get("Vary"))
	}
}

func TestOriginPolicyCheck(t *testing.T) {
	req := func(host, origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, Endpoint, nil)
		r.Host = host
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	off := newOriginPolicy(config.Config{})
	assert.Nil(t, off.check(req("evil.example.net", "https://evil.example.net")))

	loopback := newOriginPolicy(config.Config{DNSRebindingProtection: true})
	tests := []struct {
		host, origin string
		allowed      bool
	}{
		{"localhost:8080", "", true},
		{"127.0.0.1:8080", "http://localhost:3000", true},
		{"[::1]:8080", "https://127.0.0.1", true},
		{"example.com", "", false},
		{"localhost:8080", "https://example.com", false},
		{"localhost:8080", "http://localhost.example.com", false},
	}
	for _, tt := range tests {
		err := loopback.check(req(tt.host, tt.origin))
		if tt.allowed {
			assert.Nil(t, err, "%s %s", tt.host, tt.origin)
		} else {
			require.NotNil(t, err, "%s %s", tt.host, tt.origin)
			assert.Equal(t, mcperrors.CodeInvalidRequest, err.Code())
		}
	}

	explicit := newOriginPolicy(config.Config{
		DNSRebindingProtection: true,
		AllowedHosts:           []string{"api.example.com"},
		AllowedOrigins:         []string{"http://localhost:5173"},
	})
	assert.Nil(t, explicit.check(req("api.example.com:443", "http://localhost:9999")))
	assert.NotNil(t, explicit.check(req("localhost", "")))
	assert.NotNil(t, explicit.check(req("api.example.com", "https://localhost:5173")))
}
