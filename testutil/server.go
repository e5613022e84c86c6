package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
)

// Reply is one scripted HTTP answer.
type Reply struct {
	Status      int
	ContentType string
	Header      map[string]string
	Body        []byte
}

// ImageReply answers 200 with raw PNG bytes.
func ImageReply() Reply {
	return Reply{Status: http.StatusOK, ContentType: "image/png", Body: PNG}
}

// LoadingReply answers 503 with the inference API's warm-up body.
func LoadingReply(estimatedSeconds int) Reply {
	return Reply{
		Status:      http.StatusServiceUnavailable,
		ContentType: "application/json",
		Body:        []byte(`{"error":"Model is currently loading","estimated_time":` + strconv.Itoa(estimatedSeconds) + `}`),
	}
}

// StatusReply answers status with a JSON error body.
func StatusReply(status int, msg string) Reply {
	return Reply{Status: status, ContentType: "application/json", Body: []byte(MustJSON(map[string]string{"error": msg}))}
}

// ScriptedServer is an httptest server that plays Replies in order and
// repeats the last one once the script runs out.
type ScriptedServer struct {
	*httptest.Server

	mu       sync.Mutex
	script   []Reply
	requests []*http.Request
	bodies   [][]byte
	calls    atomic.Int32
}

// NewScriptedServer starts a server closed at test cleanup.
func NewScriptedServer(t *testing.T, script ...Reply) *ScriptedServer {
	t.Helper()
	if len(script) == 0 {
		script = []Reply{ImageReply()}
	}
	s := &ScriptedServer{script: script}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *ScriptedServer) serve(w http.ResponseWriter, r *http.Request) {
	n := int(s.calls.Add(1)) - 1

	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	s.requests = append(s.requests, r.Clone(r.Context()))
	s.bodies = append(s.bodies, body)
	reply := s.script[min(n, len(s.script)-1)]
	s.mu.Unlock()

	for k, v := range reply.Header {
		w.Header().Set(k, v)
	}
	if reply.ContentType != "" {
		w.Header().Set("Content-Type", reply.ContentType)
	}
	status := reply.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(reply.Body)
}

// Calls returns how many requests the server received.
func (s *ScriptedServer) Calls() int {
	return int(s.calls.Load())
}

// Request returns the i-th received request and its body.
func (s *ScriptedServer) Request(i int) (*http.Request, []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[i], s.bodies[i]
}
