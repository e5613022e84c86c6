package relay

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/imagerelay/api/handlers"
	"github.com/BaSui01/imagerelay/internal/tlsutil"
	"github.com/BaSui01/imagerelay/types"
)

// strippedHeaders never reach the upstream: caller credentials are replaced
// by the server-side token.
var strippedHeaders = []string{"Authorization", "X-HF-Token", "Cookie"}

const statusClientClosedRequest = 499

// Config relay settings.
type Config struct {
	// Prefix is the local path prefix, e.g. "/api/hf/"
	Prefix string
	// Target is the upstream base URL the remainder of the path is joined to
	Target string
	// Token is the bearer credential attached to every forwarded request
	Token string
	// ResponseHeaderTimeout bounds the wait for upstream headers; 0 disables it
	ResponseHeaderTimeout time.Duration
}

// Relay forwards requests under Prefix to Target with the server's credential.
type Relay struct {
	proxy   *httputil.ReverseProxy
	prefix  string
	target  *url.URL
	token   string
	observe func(status int)
	logger  *zap.Logger
}

// Option configures a Relay.
type Option func(*Relay)

// WithStatusObserver reports the status of every relayed request.
func WithStatusObserver(fn func(status int)) Option {
	return func(r *Relay) { r.observe = fn }
}

// WithTransport replaces the upstream transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(r *Relay) { r.proxy.Transport = rt }
}

// New creates a relay. An empty Token is allowed; such a relay answers 500
// without forwarding.
func New(cfg Config, logger *zap.Logger, opts ...Option) (*Relay, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	target, err := url.Parse(cfg.Target)
	if err != nil {
		return nil, fmt.Errorf("invalid relay target: %w", err)
	}
	if (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return nil, fmt.Errorf("relay target must be an absolute http(s) URL, got %q", cfg.Target)
	}
	if !strings.HasPrefix(cfg.Prefix, "/") {
		return nil, fmt.Errorf("relay prefix must start with '/', got %q", cfg.Prefix)
	}

	r := &Relay{
		prefix: strings.TrimSuffix(cfg.Prefix, "/"),
		target: target,
		token:  cfg.Token,
		logger: logger.With(zap.String("component", "relay")),
	}

	transport := tlsutil.NewTransport(tlsutil.TransportConfig{
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
	})

	r.proxy = &httputil.ReverseProxy{
		Rewrite:        r.rewrite,
		Transport:      transport,
		ModifyResponse: r.modifyResponse,
		ErrorHandler:   r.errorHandler,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// Prefix returns the mount path with a trailing slash, suitable for a ServeMux.
func (r *Relay) Prefix() string {
	return r.prefix + "/"
}

// ServeHTTP relays the request.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if r.token == "" {
		r.report(http.StatusInternalServerError)
		handlers.WriteErrorMessage(w, req, http.StatusInternalServerError, types.ErrMissingCredential,
			"relay credential is not configured on the server", r.logger)
		return
	}

	if req.URL.Path != r.prefix && !strings.HasPrefix(req.URL.Path, r.prefix+"/") {
		r.report(http.StatusNotFound)
		handlers.WriteErrorMessage(w, req, http.StatusNotFound, types.ErrInvalidRequest, "not found", r.logger)
		return
	}

	r.proxy.ServeHTTP(w, req)
}

func (r *Relay) rewrite(pr *httputil.ProxyRequest) {
	rest := strings.TrimPrefix(pr.In.URL.Path, r.prefix)
	pr.Out.URL.Path = rest
	pr.Out.URL.RawPath = ""
	pr.SetURL(r.target)

	for _, h := range strippedHeaders {
		pr.Out.Header.Del(h)
	}
	pr.Out.Header.Set("Authorization", "Bearer "+r.token)

	r.logger.Debug("relaying request",
		zap.String("method", pr.In.Method),
		zap.String("path", pr.In.URL.Path),
		zap.String("upstream", pr.Out.URL.Redacted()),
	)
}

func (r *Relay) modifyResponse(resp *http.Response) error {
	r.report(resp.StatusCode)
	return nil
}

func (r *Relay) errorHandler(w http.ResponseWriter, req *http.Request, err error) {
	status := http.StatusBadGateway
	code := types.ErrUpstreamError
	if req.Context().Err() != nil {
		status = statusClientClosedRequest
		code = types.ErrRequestCanceled
	}
	r.report(status)
	handlers.WriteError(w, req, types.NewError(code, "relay upstream request failed").
		WithCause(err).
		WithHTTPStatus(status).
		WithRetryable(status == http.StatusBadGateway), r.logger)
}

func (r *Relay) report(status int) {
	if r.observe != nil {
		r.observe(status)
	}
}
