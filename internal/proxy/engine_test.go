package proxy

import (
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/kilo-gateway/internal/admission"
	"github.com/cuemby/kilo-gateway/internal/router"
	"github.com/cuemby/kilo-gateway/internal/tokenstore"
)

func newTestEngine(t *testing.T, routes []router.ServiceRoute, opts Options) *Engine {
	t.Helper()
	store, err := tokenstore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	admissionSvc := admission.New(store)
	rt := router.New(routes)
	client := NewHTTPClient(opts)
	return New(rt, admissionSvc, client, opts)
}

func fastTestOptions() Options {
	opts := DefaultOptions()
	opts.RequestDeadline = 5 * time.Second
	opts.ConnectTimeout = 2 * time.Second
	opts.RetryBaseDelay = 1 * time.Millisecond
	opts.RetryMaxDelay = 5 * time.Millisecond
	return opts
}

func TestUnknownServiceReturns404(t *testing.T) {
	engine := newTestEngine(t, nil, fastTestOptions())

	req := httptest.NewRequest(http.MethodGet, "/nonexistent/x", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"unknown service"`)
	assert.Contains(t, rec.Body.String(), `"nonexistent"`)
}

func TestGETRetriesOn502ThenSucceeds(t *testing.T) {
	var calls int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer backend.Close()

	routes := []router.ServiceRoute{{Name: "meds", BaseURL: backend.URL}}
	engine := newTestEngine(t, routes, fastTestOptions())

	req := httptest.NewRequest(http.MethodGet, "/meds/", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestPOSTDoesNotRetryOn502(t *testing.T) {
	var calls int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer backend.Close()

	routes := []router.ServiceRoute{{Name: "meds", BaseURL: backend.URL}}
	engine := newTestEngine(t, routes, fastTestOptions())

	req := httptest.NewRequest(http.MethodPost, "/meds/add", strings.NewReader(`{"name":"aspirin"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), `"attempts":1`)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestServeHTTPGeneratesRequestIDWhenAbsent(t *testing.T) {
	engine := newTestEngine(t, nil, fastTestOptions())

	req := httptest.NewRequest(http.MethodGet, "/nonexistent/x", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServeHTTPEchoesInboundRequestID(t *testing.T) {
	engine := newTestEngine(t, nil, fastTestOptions())

	req := httptest.NewRequest(http.MethodGet, "/nonexistent/x", nil)
	req.Header.Set("X-Request-ID", "caller-supplied-id")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, "caller-supplied-id", rec.Header().Get("X-Request-ID"))
}

func TestProtectedRouteRequiresTokenOnWrite(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	routes := []router.ServiceRoute{{Name: "admin-api", BaseURL: backend.URL, Protected: true}}
	engine := newTestEngine(t, routes, fastTestOptions())

	req := httptest.NewRequest(http.MethodPost, "/admin-api/x", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestProtectedRouteAllowsUnauthenticatedReads(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	routes := []router.ServiceRoute{{Name: "library", BaseURL: backend.URL, Protected: true}}
	engine := newTestEngine(t, routes, fastTestOptions())

	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		req := httptest.NewRequest(method, "/library/x", nil)
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code, "method %s should not require a token", method)
	}
}

func TestMultipartBodyArrivesByteIdentical(t *testing.T) {
	var receivedBody []byte
	var receivedContentType string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedContentType = r.Header.Get("Content-Type")
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	routes := []router.ServiceRoute{{Name: "library", BaseURL: backend.URL}}
	opts := fastTestOptions()
	opts.BufferThreshold = 1 << 20
	engine := newTestEngine(t, routes, opts)

	var buf strings.Builder
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "prescription.pdf")
	require.NoError(t, err)
	fileContent := "%PDF-1.4\n...binary-ish payload with a trailing boundary-like string--\r\n"
	_, err = part.Write([]byte(fileContent))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	originalBody := buf.String()

	req := httptest.NewRequest(http.MethodPost, "/library/upload", strings.NewReader(originalBody))
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.ContentLength = int64(len(originalBody))
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, mw.FormDataContentType(), receivedContentType)
	assert.Equal(t, originalBody, string(receivedBody))
}

// timedRecorder notes when WriteHeader was called, so a test can assert
// headers reached the caller well before the body finished streaming.
type timedRecorder struct {
	*httptest.ResponseRecorder
	mu       sync.Mutex
	headerAt time.Time
}

func (t *timedRecorder) WriteHeader(code int) {
	t.mu.Lock()
	if t.headerAt.IsZero() {
		t.headerAt = time.Now()
	}
	t.mu.Unlock()
	t.ResponseRecorder.WriteHeader(code)
}

func TestDeadlineExceededReturns504AndCancelsUpstreamQuickly(t *testing.T) {
	cancelled := make(chan struct{}, 1)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			select {
			case cancelled <- struct{}{}:
			default:
			}
		case <-time.After(5 * time.Second):
		}
	}))
	defer backend.Close()

	routes := []router.ServiceRoute{{Name: "meds", BaseURL: backend.URL}}
	opts := fastTestOptions()
	opts.RequestDeadline = 100 * time.Millisecond
	engine := newTestEngine(t, routes, opts)

	req := httptest.NewRequest(http.MethodGet, "/meds/slow", nil)
	rec := httptest.NewRecorder()

	start := time.Now()
	engine.ServeHTTP(rec, req)
	elapsed := time.Since(start)

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Less(t, elapsed, time.Second)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("upstream request was not cancelled within 1s of the deadline")
	}
}

func TestHeadersArriveBeforeBodyCompletes(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		time.Sleep(250 * time.Millisecond)
		w.Write([]byte("done"))
	}))
	defer backend.Close()

	routes := []router.ServiceRoute{{Name: "meds", BaseURL: backend.URL}}
	engine := newTestEngine(t, routes, fastTestOptions())

	req := httptest.NewRequest(http.MethodGet, "/meds/stream", nil)
	rec := &timedRecorder{ResponseRecorder: httptest.NewRecorder()}

	start := time.Now()
	engine.ServeHTTP(rec, req)
	total := time.Since(start)

	require.False(t, rec.headerAt.IsZero())
	headerElapsed := rec.headerAt.Sub(start)

	assert.Less(t, headerElapsed, 150*time.Millisecond)
	assert.GreaterOrEqual(t, total, 200*time.Millisecond)
	assert.Equal(t, "done", rec.Body.String())
}

func TestBackendConcurrencyCapEnforced(t *testing.T) {
	var current, peak int32
	release := make(chan struct{})
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&current, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&current, -1)
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	routes := []router.ServiceRoute{{Name: "meds", BaseURL: backend.URL}}
	opts := fastTestOptions()
	opts.BackendConcurrency = 2
	opts.BackendQueueLimit = 10
	opts.RequestDeadline = 5 * time.Second
	engine := newTestEngine(t, routes, opts)

	const totalRequests = 6
	var wg sync.WaitGroup
	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodGet, "/meds/x", nil)
			rec := httptest.NewRecorder()
			engine.ServeHTTP(rec, req)
		}()
	}

	// Give every goroutine time to reach the backend (or queue) before
	// releasing them all at once.
	time.Sleep(200 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestCallerCancelStopsUpstreamWithinOneSecond(t *testing.T) {
	requestStarted := make(chan struct{}, 1)
	cancelledAt := make(chan time.Time, 1)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case requestStarted <- struct{}{}:
		default:
		}
		select {
		case <-r.Context().Done():
			cancelledAt <- time.Now()
		case <-time.After(5 * time.Second):
		}
	}))
	defer backend.Close()

	routes := []router.ServiceRoute{{Name: "ai_brain", BaseURL: backend.URL}}
	opts := fastTestOptions()
	opts.RequestDeadline = 5 * time.Second
	engine := newTestEngine(t, routes, opts)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/ai_brain/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	go func() {
		<-requestStarted
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	done := make(chan struct{})
	go func() {
		engine.ServeHTTP(rec, req)
		close(done)
	}()

	cancelStart := time.Now()
	select {
	case ts := <-cancelledAt:
		assert.WithinDuration(t, cancelStart.Add(100*time.Millisecond), ts, time.Second)
	case <-time.After(time.Second):
		t.Fatal("upstream request was not cancelled within 1s of caller cancel")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ServeHTTP did not return after caller cancellation")
	}
}
