package auth

import (
	"context"
	"errors"
	"net/http"
	"testing"
)

var storefrontPublicPaths = []string{"/api/users/register", "/api/users/login", "/api/products"}

type stubVerifier struct {
	err   error
	calls int
}

func (s *stubVerifier) Verify(_ context.Context, _ string) error {
	s.calls++
	return s.err
}

func TestGate_Decide(t *testing.T) {
	gate := NewGate(storefrontPublicPaths)

	tests := []struct {
		name          string
		method        string
		path          string
		hasCredential bool
		allow         bool
		reason        Reason
		observed      bool
	}{
		{name: "public register without credential", method: http.MethodPost, path: "/api/users/register", allow: true, reason: ReasonPublicPath},
		{name: "public login with credential", method: http.MethodPost, path: "/api/users/login", hasCredential: true, allow: true, reason: ReasonPublicPath},
		{name: "public products delete", method: http.MethodDelete, path: "/api/products/9", allow: true, reason: ReasonPublicPath},
		{name: "public prefix is literal", method: http.MethodPost, path: "/api/productsXYZ", allow: true, reason: ReasonPublicPath},
		{name: "get without credential", method: http.MethodGet, path: "/api/orders/1", allow: true, reason: ReasonReadOnly},
		{name: "get with credential", method: http.MethodGet, path: "/api/cart/1", hasCredential: true, allow: true, reason: ReasonReadOnly},
		{name: "post with credential", method: http.MethodPost, path: "/api/cart/42/items", hasCredential: true, allow: true, reason: ReasonCredentialPresent, observed: true},
		{name: "delete with credential", method: http.MethodDelete, path: "/api/orders/3", hasCredential: true, allow: true, reason: ReasonCredentialPresent, observed: true},
		{name: "post without credential", method: http.MethodPost, path: "/api/cart/42/items", allow: false, reason: ReasonMissingCredential},
		{name: "head without credential", method: http.MethodHead, path: "/api/orders", allow: false, reason: ReasonMissingCredential},
		{name: "lowercase get is not GET", method: "get", path: "/api/orders", allow: false, reason: ReasonMissingCredential},
		{name: "users profile update", method: http.MethodPut, path: "/api/users/42", allow: false, reason: ReasonMissingCredential},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := gate.Decide(tt.method, tt.path, tt.hasCredential)
			if d.Allow != tt.allow {
				t.Errorf("Allow = %v, want %v", d.Allow, tt.allow)
			}
			if d.Reason != tt.reason {
				t.Errorf("Reason = %q, want %q", d.Reason, tt.reason)
			}
			if d.CredentialObserved != tt.observed {
				t.Errorf("CredentialObserved = %v, want %v", d.CredentialObserved, tt.observed)
			}
		})
	}
}

func TestGate_GetAlwaysAllowed(t *testing.T) {
	gate := NewGate(nil)
	paths := []string{"/", "/api/users/1", "/api/cart", "/anything/else", ""}
	for _, p := range paths {
		for _, cred := range []bool{true, false} {
			if d := gate.Decide(http.MethodGet, p, cred); !d.Allow {
				t.Errorf("GET %q (credential=%v) denied", p, cred)
			}
		}
	}
}

func TestGate_PublicPathsAlwaysAllowed(t *testing.T) {
	gate := NewGate(storefrontPublicPaths)
	methods := []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, "CUSTOM"}
	for _, p := range storefrontPublicPaths {
		for _, m := range methods {
			for _, cred := range []bool{true, false} {
				if d := gate.Decide(m, p+"/x", cred); !d.Allow || d.Reason != ReasonPublicPath {
					t.Errorf("%s %s (credential=%v) = %+v", m, p, cred, d)
				}
			}
		}
	}
}

func TestGate_PublicPathsAreCopied(t *testing.T) {
	paths := []string{"/open"}
	gate := NewGate(paths)
	paths[0] = "/changed"
	if !gate.IsPublic("/open/door") {
		t.Error("Gate should not observe changes to the caller's slice")
	}
}

func TestGate_Evaluate(t *testing.T) {
	t.Run("without verifier matches Decide", func(t *testing.T) {
		gate := NewGate(storefrontPublicPaths)
		d := gate.Evaluate(context.Background(), http.MethodPost, "/api/cart/1", "Bearer anything")
		if !d.Allow || !d.CredentialObserved {
			t.Errorf("Expected allow with credential observed, got %+v", d)
		}
		if gate.VerificationEnabled() {
			t.Error("Expected verification disabled")
		}
	})

	t.Run("blank credential is absent", func(t *testing.T) {
		gate := NewGate(nil)
		d := gate.Evaluate(context.Background(), http.MethodPost, "/api/cart/1", "   ")
		if d.Allow || d.Reason != ReasonMissingCredential {
			t.Errorf("Expected missing credential deny, got %+v", d)
		}
	})

	t.Run("verifier rejects", func(t *testing.T) {
		v := &stubVerifier{err: errors.New("bad signature")}
		gate := NewGate(nil, WithVerifier(v))
		d := gate.Evaluate(context.Background(), http.MethodPost, "/api/cart/1", "Bearer forged")
		if d.Allow || d.Reason != ReasonInvalidCredential {
			t.Errorf("Expected invalid credential deny, got %+v", d)
		}
		if v.calls != 1 {
			t.Errorf("Expected one verification, got %d", v.calls)
		}
	})

	t.Run("verifier accepts", func(t *testing.T) {
		v := &stubVerifier{}
		gate := NewGate(nil, WithVerifier(v))
		d := gate.Evaluate(context.Background(), http.MethodPatch, "/api/orders/1", "Bearer good")
		if !d.Allow || !d.CredentialObserved {
			t.Errorf("Expected allow, got %+v", d)
		}
	})

	t.Run("verifier skipped for public and GET", func(t *testing.T) {
		v := &stubVerifier{err: errors.New("never valid")}
		gate := NewGate(storefrontPublicPaths, WithVerifier(v))
		if d := gate.Evaluate(context.Background(), http.MethodGet, "/api/orders", "Bearer junk"); !d.Allow {
			t.Errorf("GET should not be verified, got %+v", d)
		}
		if d := gate.Evaluate(context.Background(), http.MethodPost, "/api/users/login", "Bearer junk"); !d.Allow {
			t.Errorf("Public path should not be verified, got %+v", d)
		}
		if v.calls != 0 {
			t.Errorf("Expected no verifications, got %d", v.calls)
		}
	})
}
