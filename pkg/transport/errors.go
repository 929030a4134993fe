package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrorKind classifies a failed call. The set is closed; every error a
// caller sees from this package carries exactly one kind.
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindUnauthorized ErrorKind = "unauthorized"
	KindForbidden    ErrorKind = "forbidden"
	KindNotFound     ErrorKind = "not-found"
	KindConflict     ErrorKind = "conflict"
	KindRateLimit    ErrorKind = "rate-limit"
	KindServer       ErrorKind = "server"
	KindNetwork      ErrorKind = "network"
	KindAborted      ErrorKind = "aborted"
)

// Error is the classified failure surfaced to the sync engine. Validation
// errors may carry field-level messages; rate-limit errors carry a
// retry-after hint.
type Error struct {
	Kind       ErrorKind
	Message    string
	Fields     map[string]string
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}

// Transient reports whether the caller may reasonably retry.
func (e *Error) Transient() bool {
	switch e.Kind {
	case KindNetwork, KindRateLimit, KindServer:
		return true
	}
	return false
}

// AsError unwraps err into a *Error when possible.
func AsError(err error) (*Error, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// errBody is the server's JSON error envelope: {"error": "...", "fields": {...}}.
type errBody struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// classifyStatus maps an HTTP response to the taxonomy.
func classifyStatus(status int, body []byte, header http.Header) *Error {
	var eb errBody
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &eb) == nil && eb.Error != "" {
		msg = eb.Error
	}
	e := &Error{Message: msg, Fields: eb.Fields}
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		e.Kind = KindValidation
	case status == http.StatusUnauthorized:
		e.Kind = KindUnauthorized
	case status == http.StatusForbidden:
		e.Kind = KindForbidden
	case status == http.StatusNotFound:
		e.Kind = KindNotFound
	case status == http.StatusConflict:
		e.Kind = KindConflict
	case status == http.StatusTooManyRequests:
		e.Kind = KindRateLimit
		if header != nil {
			if ra := header.Get("Retry-After"); ra != "" {
				if secs, err := strconv.Atoi(ra); err == nil {
					e.RetryAfter = time.Duration(secs) * time.Second
				}
			}
		}
	default:
		e.Kind = KindServer
		if e.Message == "" {
			e.Message = fmt.Sprintf("unexpected status %d", status)
		}
	}
	return e
}

// classifyTransport maps a transport-level failure (no HTTP response).
func classifyTransport(err error) *Error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindAborted, Message: err.Error()}
	}
	return &Error{Kind: KindNetwork, Message: err.Error()}
}
