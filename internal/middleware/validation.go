package middleware

import (
	"fmt"
	"net/http"

	"github.com/jamesprial/storegate/internal/pipeline"
)

const (
	// MaxHeaderLength is the maximum allowed length for a single header value
	MaxHeaderLength = 8000

	// DefaultMaxBodySize is the default maximum request body size (10MB)
	DefaultMaxBodySize = 10 * 1024 * 1024
)

// ValidationStage rejects oversized headers and caps the request body. It
// runs inside the pipeline, so uncovered paths get 404 before any of these
// checks. The body is never buffered; a body that grows past the cap fails
// while it is being forwarded.
type ValidationStage struct {
	maxBodySize int64
}

// NewValidationStage creates the stage. A non-positive maxBodySize selects
// DefaultMaxBodySize.
func NewValidationStage(maxBodySize int64) *ValidationStage {
	if maxBodySize <= 0 {
		maxBodySize = DefaultMaxBodySize
	}
	return &ValidationStage{maxBodySize: maxBodySize}
}

func (s *ValidationStage) Name() string { return "validate" }

func (s *ValidationStage) Process(w http.ResponseWriter, rc *pipeline.RequestContext) pipeline.Result {
	r := rc.Request
	if err := validateHeaders(r); err != nil {
		return pipeline.Fail(pipeline.Wrap(pipeline.KindBadRequest, err.Error(), err))
	}

	// Check Content-Length if provided
	if r.ContentLength > s.maxBodySize {
		return pipeline.Fail(pipeline.NewError(pipeline.KindPayloadTooLarge, "Request body too large"))
	}

	if r.Body != nil && r.Body != http.NoBody {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBodySize)
	}
	return pipeline.Continue()
}

// validateHeaders checks every header value against MaxHeaderLength.
func validateHeaders(r *http.Request) error {
	for name, values := range r.Header {
		for _, value := range values {
			if len(value) > MaxHeaderLength {
				return fmt.Errorf("Header too long: %s", name)
			}
		}
	}
	return nil
}
