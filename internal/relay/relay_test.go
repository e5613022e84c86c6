package relay

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type capturedRequest struct {
	path   string
	query  string
	auth   string
	hfTok  string
	cookie string
	body   string
	host   string
}

func newUpstream(t *testing.T, status int) (*httptest.Server, *capturedRequest, *atomic.Int32) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen capturedRequest
		hits atomic.Int32
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		seen = capturedRequest{
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			auth:   r.Header.Get("Authorization"),
			hfTok:  r.Header.Get("X-HF-Token"),
			cookie: r.Header.Get("Cookie"),
			body:   string(body),
			host:   r.Host,
		}
		mu.Unlock()
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(status)
		_, _ = w.Write([]byte("PNGDATA"))
	}))
	t.Cleanup(srv.Close)
	return srv, &seen, &hits
}

func newRelay(t *testing.T, target, token string, statuses *[]int) *Relay {
	t.Helper()
	r, err := New(Config{Prefix: "/api/hf/", Target: target, Token: token}, zap.NewNop(),
		WithStatusObserver(func(s int) { *statuses = append(*statuses, s) }))
	require.NoError(t, err)
	return r
}

func TestRelay_ForwardsWithServerToken(t *testing.T) {
	upstream, seen, _ := newUpstream(t, http.StatusOK)
	var statuses []int
	r := newRelay(t, upstream.URL+"/hf-inference/", "server-token", &statuses)

	req := httptest.NewRequest(http.MethodPost, "/api/hf/models/runwayml/stable-diffusion-v1-5?wait=1", strings.NewReader(`{"inputs":"fox"}`))
	req.Header.Set("Authorization", "Bearer caller-token")
	req.Header.Set("X-HF-Token", "caller-token")
	req.Header.Set("Cookie", "session=1")
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "PNGDATA", w.Body.String())
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	assert.Equal(t, "/hf-inference/models/runwayml/stable-diffusion-v1-5", seen.path)
	assert.Equal(t, "wait=1", seen.query)
	assert.Equal(t, "Bearer server-token", seen.auth)
	assert.Empty(t, seen.hfTok)
	assert.Empty(t, seen.cookie)
	assert.Equal(t, `{"inputs":"fox"}`, seen.body)
	assert.Equal(t, strings.TrimPrefix(upstream.URL, "http://"), seen.host)
	assert.Equal(t, []int{http.StatusOK}, statuses)
}

func TestRelay_PassesUpstreamStatus(t *testing.T) {
	upstream, _, _ := newUpstream(t, http.StatusServiceUnavailable)
	var statuses []int
	r := newRelay(t, upstream.URL+"/hf-inference/", "server-token", &statuses)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/hf/models/x", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, []int{http.StatusServiceUnavailable}, statuses)
}

func TestRelay_MissingTokenDoesNotForward(t *testing.T) {
	upstream, _, hits := newUpstream(t, http.StatusOK)
	var statuses []int
	r := newRelay(t, upstream.URL, "", &statuses)

	req := httptest.NewRequest(http.MethodPost, "/api/hf/models/x", nil)
	req.Header.Set("X-HF-Token", "caller-token")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "MISSING_CREDENTIAL")
	assert.Zero(t, hits.Load())
	assert.Equal(t, []int{http.StatusInternalServerError}, statuses)
}

func TestRelay_UpstreamDown(t *testing.T) {
	upstream, _, _ := newUpstream(t, http.StatusOK)
	target := upstream.URL
	upstream.Close()

	var statuses []int
	r := newRelay(t, target, "server-token", &statuses)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/hf/models/x", nil))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "UPSTREAM_ERROR")
	assert.Equal(t, []int{http.StatusBadGateway}, statuses)
}

func TestRelay_OutsidePrefix(t *testing.T) {
	upstream, _, hits := newUpstream(t, http.StatusOK)
	var statuses []int
	r := newRelay(t, upstream.URL, "server-token", &statuses)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/hfx/models", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Zero(t, hits.Load())
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"relative target", Config{Prefix: "/api/hf/", Target: "/hf-inference"}},
		{"bad scheme", Config{Prefix: "/api/hf/", Target: "ftp://example.com"}},
		{"prefix without slash", Config{Prefix: "api/hf", Target: "https://example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, zap.NewNop())
			assert.Error(t, err)
		})
	}

	r, err := New(Config{Prefix: "/api/hf/", Target: "https://router.huggingface.co/hf-inference/"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "/api/hf/", r.Prefix())
}
