package imagegen

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/imagerelay/testutil"
)

func TestHuggingFaceProvider_TextRequest(t *testing.T) {
	srv := testutil.NewScriptedServer(t, testutil.ImageReply())
	p := NewHuggingFaceProvider(ProviderSpec{
		Name:       "huggingface",
		Endpoint:   srv.URL + "/models/{model}",
		Credential: "hf_secret",
	}, srv.Client(), zap.NewNop())

	result, err := p.Attempt(context.Background(), NewTextRequest("a lighthouse at dusk"))
	require.NoError(t, err)
	assert.Equal(t, "image/png", result.MIMEType)
	assert.Equal(t, "huggingface", result.SourceProvider)

	req, body := srv.Request(0)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/models/"+DefaultHuggingFaceModel, req.URL.Path)
	assert.Equal(t, "Bearer hf_secret", req.Header.Get("Authorization"))
	assert.JSONEq(t, `{"inputs":"a lighthouse at dusk"}`, string(body))
}

func TestHuggingFaceProvider_EditRequest(t *testing.T) {
	srv := testutil.NewScriptedServer(t, testutil.ImageReply())
	p := NewHuggingFaceProvider(ProviderSpec{
		Name:       "huggingface",
		Endpoint:   srv.URL + "/models/{model}",
		EditModel:  DefaultHuggingFaceEditModel,
		Credential: "hf_secret",
	}, srv.Client(), zap.NewNop())

	require.True(t, p.Supports(KindImageEdit))
	_, err := p.Attempt(context.Background(), NewImageEditRequest(pngBytes, "make it brighter"))
	require.NoError(t, err)

	req, body := srv.Request(0)
	assert.Equal(t, "/models/"+DefaultHuggingFaceEditModel, req.URL.Path)

	var payload struct {
		Inputs     string `json:"inputs"`
		Parameters struct {
			Prompt string `json:"prompt"`
		} `json:"parameters"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.True(t, strings.HasPrefix(payload.Inputs, "data:image/png;base64,"))
	assert.Equal(t, "make it brighter", payload.Parameters.Prompt)
}

func TestHuggingFaceProvider_MissingCredentialMakesNoCall(t *testing.T) {
	srv := testutil.NewScriptedServer(t)
	p := NewHuggingFaceProvider(ProviderSpec{Name: "huggingface", Endpoint: srv.URL}, srv.Client(), zap.NewNop())

	_, err := p.Attempt(context.Background(), NewTextRequest("fox"))
	assert.True(t, IsProviderError(err, FailureMissingCredential))
	assert.Zero(t, srv.Calls())
}

func TestHuggingFaceProvider_EditWithoutModelUnsupported(t *testing.T) {
	p := NewHuggingFaceProvider(ProviderSpec{Name: "huggingface", Credential: "x"}, nil, nil)
	assert.False(t, p.Supports(KindImageEdit))

	_, err := p.Attempt(context.Background(), NewImageEditRequest(pngBytes, "brighter"))
	assert.True(t, IsProviderError(err, FailureUnsupported))
}

func TestProvider_StatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		reply     testutil.Reply
		kind      FailureKind
		wait      time.Duration
		transient bool
	}{
		{name: "model loading", reply: testutil.LoadingReply(20), kind: FailureTransient, wait: 20 * time.Second, transient: true},
		{name: "rate limited", reply: testutil.Reply{Status: 429, Header: map[string]string{"Retry-After": "7"}}, kind: FailureTransient, wait: 7 * time.Second, transient: true},
		{name: "unavailable without hint", reply: testutil.Reply{Status: 503}, kind: FailureTransient, transient: true},
		{name: "unauthorized", reply: testutil.StatusReply(401, "invalid token"), kind: FailureFatal},
		{name: "forbidden", reply: testutil.Reply{Status: 403}, kind: FailureFatal},
		{name: "not found", reply: testutil.StatusReply(404, "model not found"), kind: FailureFatal},
		{name: "bad request", reply: testutil.StatusReply(400, "bad inputs"), kind: FailureFatal},
		{name: "server error", reply: testutil.Reply{Status: 500}, kind: FailureFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testutil.NewScriptedServer(t, tt.reply)
			p := NewPollinationsProvider(ProviderSpec{Name: "pollinations", Endpoint: srv.URL + "/prompt/{prompt}"}, srv.Client(), zap.NewNop())

			_, err := p.Attempt(context.Background(), NewTextRequest("fox"))
			require.Error(t, err)

			var pe *ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.kind, pe.Kind)
			assert.Equal(t, tt.reply.Status, pe.Status)
			assert.Equal(t, tt.wait, pe.RetryAfter())
			assert.Equal(t, tt.transient, pe.Transient())
		})
	}
}

func TestProvider_NetworkErrorIsTransient(t *testing.T) {
	srv := testutil.NewScriptedServer(t)
	endpoint := srv.URL
	srv.Close()

	p := NewPollinationsProvider(ProviderSpec{Name: "pollinations", Endpoint: endpoint + "/prompt/{prompt}"}, nil, zap.NewNop())
	_, err := p.Attempt(context.Background(), NewTextRequest("fox"))
	assert.True(t, IsProviderError(err, FailureTransient))
}

func TestProvider_CanceledContextIsNotTransient(t *testing.T) {
	srv := testutil.NewScriptedServer(t)
	p := NewPollinationsProvider(ProviderSpec{Name: "pollinations", Endpoint: srv.URL + "/prompt/{prompt}"}, srv.Client(), zap.NewNop())

	_, err := p.Attempt(testutil.CancelledContext(), NewTextRequest("fox"))
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsProviderError(err, FailureTransient))
}

func TestPollinationsProvider_Request(t *testing.T) {
	srv := testutil.NewScriptedServer(t, testutil.ImageReply())
	p := NewPollinationsProvider(ProviderSpec{Name: "pollinations", Endpoint: srv.URL + "/prompt/{prompt}"}, srv.Client(), zap.NewNop())
	p.seed = func() int { return 42 }

	result, err := p.Attempt(context.Background(), NewTextRequest("a red fox"))
	require.NoError(t, err)
	assert.Equal(t, pngBytes, result.Data[:len(pngBytes)])

	req, _ := srv.Request(0)
	assert.Equal(t, "/prompt/a red fox", req.URL.Path)
	assert.Equal(t, "512", req.URL.Query().Get("width"))
	assert.Equal(t, "512", req.URL.Query().Get("height"))
	assert.Equal(t, "42", req.URL.Query().Get("seed"))
	assert.Empty(t, req.Header.Get("Authorization"))
	assert.False(t, p.Supports(KindImageEdit))
}

func TestPollinationsProvider_HTMLInsteadOfImage(t *testing.T) {
	srv := testutil.NewScriptedServer(t, testutil.Reply{Status: 200, ContentType: "text/html", Body: []byte("<html>rate limited</html>")})
	p := NewPollinationsProvider(ProviderSpec{Name: "pollinations", Endpoint: srv.URL + "/prompt/{prompt}"}, srv.Client(), zap.NewNop())

	_, err := p.Attempt(context.Background(), NewTextRequest("fox"))
	assert.True(t, IsProviderError(err, FailureNormalization))
	assert.True(t, IsNormalizationError(err))
}

func TestUnsplashProvider_SearchThenDownload(t *testing.T) {
	download := testutil.NewScriptedServer(t, testutil.Reply{Status: 200, ContentType: "image/jpeg", Body: []byte("\xff\xd8\xff\xe0 jpeg")})
	search := testutil.NewScriptedServer(t, testutil.Reply{
		Status:      200,
		ContentType: "application/json",
		Body:        []byte(`{"results":[{"urls":{"regular":"` + download.URL + `/photo.jpg"}}]}`),
	})

	p := NewUnsplashProvider(ProviderSpec{Name: "unsplash", Endpoint: search.URL + "/search/photos", Credential: "access-key"}, search.Client(), zap.NewNop())
	result, err := p.Attempt(context.Background(), NewTextRequest("misty mountain lake at sunrise"))
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", result.MIMEType)

	req, _ := search.Request(0)
	assert.Equal(t, "misty mountain lake", req.URL.Query().Get("query"))
	assert.Equal(t, "1", req.URL.Query().Get("per_page"))
	assert.Equal(t, "landscape", req.URL.Query().Get("orientation"))
	assert.Equal(t, "v1", req.Header.Get("Accept-Version"))
	assert.Equal(t, "Client-ID access-key", req.Header.Get("Authorization"))
	assert.Equal(t, 1, download.Calls())
}

func TestUnsplashProvider_NoResults(t *testing.T) {
	search := testutil.NewScriptedServer(t, testutil.Reply{Status: 200, ContentType: "application/json", Body: []byte(`{"results":[]}`)})
	p := NewUnsplashProvider(ProviderSpec{Name: "unsplash", Endpoint: search.URL}, search.Client(), zap.NewNop())

	_, err := p.Attempt(context.Background(), NewTextRequest("fox"))
	assert.True(t, IsProviderError(err, FailureFatal))
	assert.Contains(t, err.Error(), "no images found")
}

func TestRelayProvider_Envelope(t *testing.T) {
	srv := testutil.NewScriptedServer(t, testutil.Reply{
		Status:      200,
		ContentType: "application/json",
		Body:        []byte(`{"success":true,"imageData":"` + (Image{Data: pngBytes, MIMEType: "image/png"}).DataURL() + `"}`),
	})
	p := NewRelayProvider(ProviderSpec{Name: "relay", Endpoint: srv.URL + "/api/generate"}, srv.Client(), zap.NewNop())

	result, err := p.Attempt(context.Background(), NewImageEditRequest(pngBytes, "sepia"))
	require.NoError(t, err)
	assert.Equal(t, pngBytes, result.Data)

	_, body := srv.Request(0)
	var payload map[string]string
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, "sepia", payload["instruction"])
	assert.NotEmpty(t, payload["sourceImage"])
}

func TestRelayProvider_ReportedFailure(t *testing.T) {
	srv := testutil.NewScriptedServer(t, testutil.Reply{Status: 200, Body: []byte(`{"success":false,"error":"Failed to generate image"}`)})
	p := NewRelayProvider(ProviderSpec{Name: "relay", Endpoint: srv.URL}, srv.Client(), zap.NewNop())

	_, err := p.Attempt(context.Background(), NewTextRequest("fox"))
	assert.True(t, IsProviderError(err, FailureFatal))
	assert.Contains(t, err.Error(), "Failed to generate image")
}

func TestProvider_OutboundRateLimitHonoursContext(t *testing.T) {
	srv := testutil.NewScriptedServer(t)
	p := NewPollinationsProvider(ProviderSpec{
		Name:         "pollinations",
		Endpoint:     srv.URL + "/prompt/{prompt}",
		RateLimitRPS: 0.001,
	}, srv.Client(), zap.NewNop())

	_, err := p.Attempt(context.Background(), NewTextRequest("first"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Attempt(ctx, NewTextRequest("second"))
	require.Error(t, err)
	assert.Equal(t, 1, srv.Calls())
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 5*time.Second, parseRetryAfter("5", now))
	assert.Equal(t, 30*time.Second, parseRetryAfter(now.Add(30*time.Second).Format(http.TimeFormat), now))
	assert.Zero(t, parseRetryAfter("", now))
	assert.Zero(t, parseRetryAfter("-3", now))
	assert.Zero(t, parseRetryAfter("soon", now))
}

func TestNewProvider(t *testing.T) {
	for _, adapter := range []string{AdapterHuggingFace, AdapterPollinations, AdapterUnsplash} {
		p, err := NewProvider(ProviderSpec{Name: adapter}, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, adapter, p.Name())
	}

	_, err := NewProvider(ProviderSpec{Name: "relay"}, nil, nil)
	assert.Error(t, err)

	_, err = NewProvider(ProviderSpec{Name: "mystery"}, nil, nil)
	assert.Error(t, err)

	p, err := NewProvider(ProviderSpec{Name: "backup", Adapter: "relay", Endpoint: "http://localhost/api/generate"}, nil, nil)
	require.NoError(t, err)
	assert.True(t, p.Supports(KindImageEdit))
}

func TestGenerationRequest_Validate(t *testing.T) {
	assert.NoError(t, NewTextRequest("fox").Validate())
	assert.NoError(t, NewImageEditRequest(pngBytes, "brighter").Validate())

	bad := []*GenerationRequest{
		nil,
		NewTextRequest(""),
		NewTextRequest(" \t"),
		NewImageEditRequest(nil, "brighter"),
		NewImageEditRequest(pngBytes, ""),
		{Kind: KindText, Prompt: "fox", SourceImage: pngBytes},
		{Kind: KindImageEdit, Prompt: "fox", SourceImage: pngBytes, Instruction: "x"},
		{Prompt: "fox"},
	}
	for i, req := range bad {
		assert.ErrorIs(t, req.Validate(), ErrInvalidRequest, "case %d", i)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 50))
	long := strings.Repeat("é", 60)
	assert.Equal(t, strings.Repeat("é", 50)+"...", Truncate(long, 50))
}
