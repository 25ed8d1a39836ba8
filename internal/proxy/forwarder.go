// Package proxy performs the backend call for a routed request and relays
// the backend's answer to the caller.
package proxy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/jamesprial/storegate/internal/interfaces"
	"github.com/jamesprial/storegate/internal/pipeline"
	"github.com/jamesprial/storegate/internal/routing"
)

// Headers ReverseProxy drops before Rewrite runs. Callers' values are passed
// through unchanged.
var forwardedHeaders = []string{"Forwarded", "X-Forwarded-For", "X-Forwarded-Host", "X-Forwarded-Proto"}

type routeKey struct{}

// Forwarder is the last pipeline stage. It issues the backend call for the
// matched route and streams the response back.
type Forwarder struct {
	proxy          *httputil.ReverseProxy
	logger         interfaces.Logger
	requestTimeout time.Duration
}

// ForwarderOption configures a Forwarder.
type ForwarderOption func(*Forwarder)

// WithRequestTimeout bounds each whole backend exchange. Zero means no bound.
func WithRequestTimeout(d time.Duration) ForwarderOption {
	return func(f *Forwarder) {
		f.requestTimeout = d
	}
}

// NewForwarder creates a forwarder using transport for backend calls.
func NewForwarder(transport http.RoundTripper, logger interfaces.Logger, opts ...ForwarderOption) *Forwarder {
	f := &Forwarder{logger: logger}
	for _, opt := range opts {
		opt(f)
	}

	f.proxy = &httputil.ReverseProxy{
		Rewrite:       f.rewrite,
		Transport:     transport,
		FlushInterval: -1,
		ErrorHandler:  f.handleError,
	}
	return f
}

func (f *Forwarder) Name() string { return "proxy" }

// Process forwards the request to rc.Route. The response is always written
// here, so the result is Done.
func (f *Forwarder) Process(w http.ResponseWriter, rc *pipeline.RequestContext) pipeline.Result {
	if rc.Route == nil {
		return pipeline.Fail(pipeline.NewError(pipeline.KindInternal, "Internal Server Error"))
	}

	ctx := context.WithValue(rc.Context(), routeKey{}, rc.Route)
	if f.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.requestTimeout)
		defer cancel()
	}

	if f.logger != nil {
		f.logger.Debug("Forwarding request", map[string]any{
			"method":     rc.Method,
			"path":       rc.Path,
			"route":      rc.Route.Name,
			"target":     rc.Route.Target.String(),
			"request_id": rc.RequestID,
		})
	}

	f.proxy.ServeHTTP(w, rc.Request.WithContext(ctx))
	return pipeline.Done()
}

func (f *Forwarder) rewrite(pr *httputil.ProxyRequest) {
	entry := pr.In.Context().Value(routeKey{}).(*routing.Entry)

	pr.Out.URL.Scheme = entry.Target.Scheme
	pr.Out.URL.Host = entry.Target.Host
	pr.Out.URL.Path, pr.Out.URL.RawPath = rewritePath(entry, pr.In.URL)
	pr.Out.URL.RawQuery = pr.In.URL.RawQuery
	pr.Out.Host = entry.Target.Host

	for _, h := range forwardedHeaders {
		if v, ok := pr.In.Header[h]; ok {
			pr.Out.Header[h] = v
		}
	}
}

// rewritePath strips the route prefix from the path as the caller encoded it,
// so escaped reserved characters such as %2F reach the backend unchanged.
func rewritePath(entry *routing.Entry, in *url.URL) (path, rawPath string) {
	escaped := in.EscapedPath()
	if !strings.HasPrefix(escaped, entry.Prefix) {
		// The prefix itself was percent-encoded by the caller.
		return entry.Rewrite(in.Path), ""
	}
	rawPath = entry.Rewrite(escaped)
	path, err := url.PathUnescape(rawPath)
	if err != nil {
		return entry.Rewrite(in.Path), ""
	}
	if path == rawPath {
		rawPath = ""
	}
	return path, rawPath
}

func (f *Forwarder) handleError(w http.ResponseWriter, r *http.Request, err error) {
	fields := map[string]any{
		"method":     r.Method,
		"path":       r.URL.Path,
		"error":      err.Error(),
		"request_id": r.Header.Get(pipeline.RequestIDHeader),
	}
	if entry, ok := r.Context().Value(routeKey{}).(*routing.Entry); ok {
		fields["route"] = entry.Name
		fields["target"] = entry.Target.String()
	}

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		f.log("debug", "Request body exceeded limit", fields)
		pipeline.WriteError(w, pipeline.Wrap(pipeline.KindPayloadTooLarge, "Payload Too Large", err))
		return
	case errors.Is(err, context.Canceled):
		// The caller went away; the status only feeds logs and metrics.
		f.log("debug", "Client cancelled request", fields)
		w.WriteHeader(pipeline.StatusClientClosedRequest)
		return
	default:
		f.log("warn", "Upstream request failed", fields)
	}
	pipeline.WriteError(w, pipeline.BadGateway(err))
}

func (f *Forwarder) log(level, msg string, fields map[string]any) {
	if f.logger == nil {
		return
	}
	if level == "debug" {
		f.logger.Debug(msg, fields)
		return
	}
	f.logger.Warn(msg, fields)
}
