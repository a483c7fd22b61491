package proxy

import (
	"net/http"
	"net/url"

	"github.com/cuemby/kilo-gateway/internal/admission"
)

// hopByHopHeaders are stripped in both directions per spec.md §4.3.2,
// adapted from the teacher's ingress middleware header-stripping list.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

func stripHopByHop(h http.Header) {
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

// buildOutboundRequest rewrites headers for the outbound hop: hop-by-hop
// headers stripped, Host rewritten to the backend, X-Forwarded-* appended,
// and the admin token header consumed rather than forwarded.
func buildOutboundRequest(inbound *http.Request, target *url.URL, outPath string) *http.Request {
	out := inbound.Clone(inbound.Context())
	out.URL = &url.URL{
		Scheme:   target.Scheme,
		Host:     target.Host,
		Path:     joinPath(target.Path, outPath),
		RawQuery: inbound.URL.RawQuery,
	}
	out.Host = target.Host
	out.RequestURI = ""

	stripHopByHop(out.Header)
	out.Header.Del(admission.TokenHeader)

	if prior := out.Header.Get("X-Forwarded-For"); prior != "" {
		out.Header.Set("X-Forwarded-For", prior+", "+inbound.RemoteAddr)
	} else {
		out.Header.Set("X-Forwarded-For", inbound.RemoteAddr)
	}

	proto := "http"
	if inbound.TLS != nil {
		proto = "https"
	}
	out.Header.Set("X-Forwarded-Proto", proto)

	return out
}

func joinPath(base, tail string) string {
	switch {
	case base == "" || base == "/":
		if tail == "" {
			return "/"
		}
		return tail
	case tail == "":
		return base
	default:
		return base + tail
	}
}
