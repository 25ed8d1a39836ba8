package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/jamesprial/storegate/internal/interfaces"
)

var (
	ErrMissingCredential = errors.New("missing credential")
	ErrInvalidCredential = errors.New("invalid credential")
)

// Reason explains a gate decision.
type Reason string

const (
	ReasonPublicPath        Reason = "public_path"
	ReasonReadOnly          Reason = "read_only"
	ReasonCredentialPresent Reason = "credential_present"
	ReasonMissingCredential Reason = "missing_credential"
	ReasonInvalidCredential Reason = "invalid_credential"
)

// Decision is the gate's verdict for one request.
type Decision struct {
	Allow  bool
	Reason Reason

	// CredentialObserved is set when the request was let through because
	// it carried a credential.
	CredentialObserved bool
}

// Gate decides whether a request may proceed. It holds only data fixed at
// startup and is safe for concurrent use.
type Gate struct {
	publicPaths []string
	verifier    interfaces.CredentialVerifier
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithVerifier enables full credential verification for requests that are
// admitted only because they carry a credential.
func WithVerifier(v interfaces.CredentialVerifier) GateOption {
	return func(g *Gate) {
		g.verifier = v
	}
}

// NewGate creates a gate exempting the given path prefixes.
func NewGate(publicPaths []string, opts ...GateOption) *Gate {
	g := &Gate{publicPaths: append([]string(nil), publicPaths...)}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// VerificationEnabled reports whether a verifier is installed.
func (g *Gate) VerificationEnabled() bool {
	return g.verifier != nil
}

// IsPublic reports whether path starts with a public path prefix.
func (g *Gate) IsPublic(path string) bool {
	for _, p := range g.publicPaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Decide applies the gate policy. Only the presence of a credential is
// considered; it has no side effects.
func (g *Gate) Decide(method, path string, hasCredential bool) Decision {
	switch {
	case g.IsPublic(path):
		return Decision{Allow: true, Reason: ReasonPublicPath}
	case method == http.MethodGet:
		return Decision{Allow: true, Reason: ReasonReadOnly}
	case hasCredential:
		return Decision{Allow: true, Reason: ReasonCredentialPresent, CredentialObserved: true}
	default:
		return Decision{Allow: false, Reason: ReasonMissingCredential}
	}
}

// Evaluate runs Decide and, when a verifier is installed, verifies the
// credential of requests admitted by rule three.
func (g *Gate) Evaluate(ctx context.Context, method, path, credential string) Decision {
	d := g.Decide(method, path, strings.TrimSpace(credential) != "")
	if g.verifier == nil || d.Reason != ReasonCredentialPresent {
		return d
	}
	if err := g.verifier.Verify(ctx, credential); err != nil {
		return Decision{Allow: false, Reason: ReasonInvalidCredential}
	}
	return d
}
