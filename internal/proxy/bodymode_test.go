package proxy

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClassifyPicksStreamedForMultipart(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/meds/upload", strings.NewReader("ignored"))
	r.Header.Set("Content-Type", "multipart/form-data; boundary=XYZ")
	r.ContentLength = 10

	if got := classify(r, 1<<20); got != streamed {
		t.Fatalf("expected streamed mode for multipart, got %v", got)
	}
}

func TestClassifyPicksStreamedForChunked(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/meds/upload", strings.NewReader("ignored"))
	r.ContentLength = 10
	r.TransferEncoding = []string{"chunked"}

	if got := classify(r, 1<<20); got != streamed {
		t.Fatalf("expected streamed mode for chunked transfer-encoding, got %v", got)
	}
}

func TestClassifyPicksStreamedForOversizedBody(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/meds/add", strings.NewReader("ignored"))
	r.ContentLength = 2 << 20

	if got := classify(r, 1<<20); got != streamed {
		t.Fatalf("expected streamed mode for oversized body, got %v", got)
	}
}

func TestClassifyPicksBufferedForSmallJSON(t *testing.T) {
	body := `{"name":"aspirin"}`
	r := httptest.NewRequest(http.MethodPost, "/meds/add", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	r.ContentLength = int64(len(body))

	if got := classify(r, 1<<20); got != buffered {
		t.Fatalf("expected buffered mode for small JSON body, got %v", got)
	}
}
