package proxy

import (
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/kilo-gateway/internal/admission"
)

func TestBuildOutboundRequestStripsHopByHopAndAdminToken(t *testing.T) {
	req := httptest.NewRequest("GET", "/meds/x?limit=10", nil)
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set(admission.TokenHeader, "super-secret")
	req.Header.Set("X-Custom", "keep-me")
	req.RemoteAddr = "10.0.0.5:54321"

	target, err := url.Parse("http://backend.internal:9000")
	require.NoError(t, err)

	out := buildOutboundRequest(req, target, "/x")

	assert.Equal(t, "backend.internal:9000", out.Host)
	assert.Empty(t, out.Header.Get("Connection"))
	assert.Empty(t, out.Header.Get("Upgrade"))
	assert.Empty(t, out.Header.Get(admission.TokenHeader))
	assert.Equal(t, "keep-me", out.Header.Get("X-Custom"))
	assert.Equal(t, "10.0.0.5:54321", out.Header.Get("X-Forwarded-For"))
	assert.Equal(t, "http", out.Header.Get("X-Forwarded-Proto"))
	assert.Equal(t, "/x", out.URL.Path)
	assert.Equal(t, "limit=10", out.URL.RawQuery)
}

func TestBuildOutboundRequestAppendsToExistingForwardedFor(t *testing.T) {
	req := httptest.NewRequest("GET", "/meds/x", nil)
	req.Header.Set("X-Forwarded-For", "1.2.3.4")
	req.RemoteAddr = "5.6.7.8:1111"

	target, _ := url.Parse("http://backend.internal")
	out := buildOutboundRequest(req, target, "/x")

	assert.Equal(t, "1.2.3.4, 5.6.7.8:1111", out.Header.Get("X-Forwarded-For"))
}

func TestJoinPath(t *testing.T) {
	cases := []struct{ base, tail, want string }{
		{"", "", "/"},
		{"/", "", "/"},
		{"/", "/x", "/x"},
		{"/api", "", "/api"},
		{"/api", "/x", "/api/x"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, joinPath(c.base, c.tail))
	}
}
