package pipeline

import (
	"context"
	"net/http"
	"strings"

	"github.com/jamesprial/storegate/internal/routing"
)

// RequestContext is the per-request state threaded through the stages.
// It is owned by the goroutine serving the request and never shared.
type RequestContext struct {
	Method    string
	Path      string
	RequestID string

	// Credential is the raw Authorization header value, empty when absent.
	Credential string

	// Route is set by the router stage.
	Route *routing.Entry

	// Request is the inbound request the forwarder replays upstream.
	Request *http.Request
}

// NewRequestContext captures the fields of r the stages need.
func NewRequestContext(r *http.Request, requestID string) *RequestContext {
	return &RequestContext{
		Method:     r.Method,
		Path:       r.URL.Path,
		RequestID:  requestID,
		Credential: r.Header.Get("Authorization"),
		Request:    r,
	}
}

// HasCredential reports whether a non-blank Authorization header was sent.
func (rc *RequestContext) HasCredential() bool {
	return strings.TrimSpace(rc.Credential) != ""
}

// Context returns the inbound request's context.
func (rc *RequestContext) Context() context.Context {
	return rc.Request.Context()
}

// RouteName returns the matched route name, or "" before routing.
func (rc *RequestContext) RouteName() string {
	if rc.Route == nil {
		return ""
	}
	return rc.Route.Name
}
