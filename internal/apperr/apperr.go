// Package apperr classifies onboarding failures into the small set of kinds
// the user interface knows how to present.
package apperr

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
)

const (
	KindValidation = "validation"
	KindNetwork    = "network"
	KindConflict   = "conflict"
	KindServer     = "server"
	KindRejection  = "rejection"
	KindNotFound   = "not_found"
	KindTimeout    = "timeout"
	KindCanceled   = "canceled"
	KindInternal   = "internal"
)

// ErrNotFound is returned by registration stores for unknown ids.
var ErrNotFound = errors.New("not found")

const (
	networkMessage  = "Unable to reach the server. Please check your internet connection and try again."
	serverMessage   = "Something went wrong on our side. Please try again in a few minutes."
	conflictMessage = "An account with this email already exists. Please sign in instead."
)

// Error is a classified failure. Message is safe to show to the user; Fields
// holds per-field messages when the failure came from form validation.
type Error struct {
	kind    string
	Message string
	Fields  map[string][]string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.kind + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Kind returns the classification.
func (e *Error) Kind() string { return e.kind }

// Validation builds a local or server-side form error.
func Validation(msg string, fields map[string][]string) *Error {
	if msg == "" {
		msg = FieldMessage(fields)
	}
	return &Error{kind: KindValidation, Message: msg, Fields: fields, Status: http.StatusBadRequest}
}

// Network wraps a transport failure.
func Network(err error) *Error {
	return &Error{kind: KindNetwork, Message: networkMessage, Err: err}
}

// Conflict is an HTTP 409 from the backend.
func Conflict(msg string) *Error {
	if msg == "" {
		msg = conflictMessage
	}
	return &Error{kind: KindConflict, Message: msg, Status: http.StatusConflict}
}

// Server is a 5xx or an unreadable error body.
func Server(status int, msg string) *Error {
	if msg == "" {
		msg = serverMessage
	}
	return &Error{kind: KindServer, Message: msg, Status: status}
}

// Rejection is a well-formed business-rule failure such as a wrong code.
func Rejection(status int, msg string) *Error {
	return &Error{kind: KindRejection, Message: msg, Status: status}
}

// FieldMessage flattens field errors into one sentence list, ordered by field
// name so the text is stable.
func FieldMessage(fields map[string][]string) string {
	if len(fields) == 0 {
		return ""
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		msgs := fields[name]
		if len(msgs) == 0 {
			continue
		}
		joined := strings.Join(msgs, " ")
		if name == "non_field_errors" || name == "__all__" {
			parts = append(parts, joined)
			continue
		}
		parts = append(parts, name+": "+joined)
	}
	return strings.Join(parts, "; ")
}

// kinder is satisfied by errors that carry a classification kind.
type kinder interface {
	Kind() string
}

// Kind returns the classification of err.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	var k kinder
	if errors.As(err, &k) {
		return k.Kind()
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		return KindInternal
	}
}

var kindToStatus = map[string]int{
	KindValidation: http.StatusBadRequest,
	KindNetwork:    http.StatusBadGateway,
	KindConflict:   http.StatusConflict,
	KindServer:     http.StatusBadGateway,
	KindRejection:  http.StatusUnprocessableEntity,
	KindNotFound:   http.StatusNotFound,
	KindTimeout:    http.StatusGatewayTimeout,
	KindCanceled:   http.StatusRequestTimeout,
}

// HTTPStatus maps err to the status the onboarding API answers with.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if s, ok := kindToStatus[Kind(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Message returns user-facing text for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	switch Kind(err) {
	case KindNotFound:
		return "Registration not found. Please start again."
	case KindTimeout, KindNetwork:
		return networkMessage
	default:
		return serverMessage
	}
}

// Fields returns the field errors carried by err, if any.
func Fields(err error) map[string][]string {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}
