package pipeline

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// StatusClientClosedRequest records requests abandoned by the caller before
// the backend answered. It never reaches the wire.
const StatusClientClosedRequest = 499

// Kind classifies a request-terminating error.
type Kind int

const (
	KindInternal Kind = iota
	KindUnauthorized
	KindNotFound
	KindBadGateway
	KindTooManyRequests
	KindPayloadTooLarge
	KindBadRequest
)

var kindNames = map[Kind]string{
	KindInternal:        "internal",
	KindUnauthorized:    "unauthorized",
	KindNotFound:        "not_found",
	KindBadGateway:      "bad_gateway",
	KindTooManyRequests: "too_many_requests",
	KindPayloadTooLarge: "payload_too_large",
	KindBadRequest:      "bad_request",
}

var kindStatus = map[Kind]int{
	KindInternal:        http.StatusInternalServerError,
	KindUnauthorized:    http.StatusUnauthorized,
	KindNotFound:        http.StatusNotFound,
	KindBadGateway:      http.StatusBadGateway,
	KindTooManyRequests: http.StatusTooManyRequests,
	KindPayloadTooLarge: http.StatusRequestEntityTooLarge,
	KindBadRequest:      http.StatusBadRequest,
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	if status, ok := kindStatus[k]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Error is a gateway-level failure rendered to the caller as JSON.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Status returns the HTTP status code sent to the caller.
func (e *Error) Status() int {
	return e.Kind.Status()
}

// NewError builds an Error without a cause.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error carrying the underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Unauthorized is returned when the gate denies a request.
func Unauthorized(message string, cause error) *Error {
	return Wrap(KindUnauthorized, "Unauthorized: "+message, cause)
}

// NotFound is returned when no route covers the path.
func NotFound() *Error {
	return NewError(KindNotFound, "Not Found")
}

// BadGateway is returned when the backend call could not be completed.
func BadGateway(cause error) *Error {
	return Wrap(KindBadGateway, "Bad Gateway: upstream service unavailable", cause)
}

type errorBody struct {
	Error string `json:"error"`
}

// WriteError renders err as {"error": "..."} with its status code. The cause
// is never exposed to the caller.
func WriteError(w http.ResponseWriter, err *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(err.Status())
	_ = json.NewEncoder(w).Encode(errorBody{Error: err.Message})
}
