package auth

import (
	"net/http"

	"github.com/jamesprial/storegate/internal/interfaces"
	"github.com/jamesprial/storegate/internal/pipeline"
	"github.com/jamesprial/storegate/internal/utils"
)

// DecisionRecorder receives every gate decision. The metrics collector
// implements it.
type DecisionRecorder interface {
	RecordAuthDecision(allowed bool, reason string, credentialObserved bool)
}

// GateStage is the pipeline stage running the Gate.
type GateStage struct {
	gate     *Gate
	logger   interfaces.Logger
	recorder DecisionRecorder
}

// NewGateStage creates the gate stage. recorder may be nil.
func NewGateStage(gate *Gate, logger interfaces.Logger, recorder DecisionRecorder) *GateStage {
	return &GateStage{
		gate:     gate,
		logger:   logger,
		recorder: recorder,
	}
}

func (s *GateStage) Name() string { return "auth" }

// Process evaluates the gate once and stops the request on deny.
func (s *GateStage) Process(_ http.ResponseWriter, rc *pipeline.RequestContext) pipeline.Result {
	d := s.gate.Evaluate(rc.Context(), rc.Method, rc.Path, rc.Credential)

	if s.recorder != nil {
		s.recorder.RecordAuthDecision(d.Allow, string(d.Reason), d.CredentialObserved)
	}

	if !d.Allow {
		if s.logger != nil {
			s.logger.Warn("Request denied by auth gate", map[string]any{
				"path":       rc.Path,
				"method":     rc.Method,
				"reason":     string(d.Reason),
				"request_id": rc.RequestID,
			})
		}
		if d.Reason == ReasonInvalidCredential {
			return pipeline.Fail(pipeline.Unauthorized("Invalid Authorization header", ErrInvalidCredential))
		}
		return pipeline.Fail(pipeline.Unauthorized("Missing Authorization header", ErrMissingCredential))
	}

	if d.CredentialObserved && s.logger != nil {
		s.logger.Debug("Auth header found", map[string]any{
			"path":       rc.Path,
			"method":     rc.Method,
			"credential": utils.MaskCredential(rc.Credential),
			"verified":   s.gate.VerificationEnabled(),
			"request_id": rc.RequestID,
		})
	}

	return pipeline.Continue()
}
