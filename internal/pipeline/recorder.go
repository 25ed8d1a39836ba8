package pipeline

import (
	"context"
	"net/http"
)

// StatusRecorder captures the status code written through it. Flush and
// Unwrap keep streaming responses working behind the wrapper.
type StatusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

// NewStatusRecorder wraps w. The status defaults to 200.
func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	return &StatusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (r *StatusRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		// 1xx responses are informational and may precede the final status.
		r.wroteHeader = status >= 200
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *StatusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

func (r *StatusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *StatusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Status returns the final status code.
func (r *StatusRecorder) Status() int {
	return r.status
}

// WroteHeader reports whether a final response has started.
func (r *StatusRecorder) WroteHeader() bool {
	return r.wroteHeader
}

type logFieldsKey struct{}

// WithLogFields attaches a mutable field map that stages can enrich and the
// access log reads once the request completes.
func WithLogFields(ctx context.Context) (context.Context, map[string]string) {
	fields := make(map[string]string)
	return context.WithValue(ctx, logFieldsKey{}, fields), fields
}

// AddLogField records a key/value for the access log. No-op when the access
// log is not installed or value is empty.
func AddLogField(ctx context.Context, key, value string) {
	if value == "" {
		return
	}
	if fields, ok := ctx.Value(logFieldsKey{}).(map[string]string); ok {
		fields[key] = value
	}
}
