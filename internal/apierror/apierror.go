// Package apierror provides the structured error type the control plane
// uses to carry a stable error code and HTTP status through the engine.
package apierror

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Code is one of the engine's stable, machine-readable error codes.
type Code string

const (
	InvalidParameter  Code = "INVALID_PARAMETER"
	ResourceNotFound  Code = "RESOURCE_NOT_FOUND"
	NotConnected      Code = "NOT_CONNECTED"
	AlreadyRecording  Code = "ALREADY_RECORDING"
	NotRecording      Code = "NOT_RECORDING"
	PipelineError     Code = "PIPELINE_ERROR"
	PipelineConstruct Code = "PIPELINE_CONSTRUCT"
	DBError           Code = "DB_ERROR"
	InternalError     Code = "INTERNAL_SERVER_ERROR"
)

var httpStatus = map[Code]int{
	InvalidParameter:  http.StatusBadRequest,
	ResourceNotFound:  http.StatusNotFound,
	NotConnected:      http.StatusConflict,
	AlreadyRecording:  http.StatusConflict,
	NotRecording:      http.StatusConflict,
	PipelineError:     http.StatusInternalServerError,
	PipelineConstruct: http.StatusInternalServerError,
	DBError:           http.StatusInternalServerError,
	InternalError:     http.StatusInternalServerError,
}

// Error is the engine's structured error type: a stable code, an HTTP
// status derived from that code, and a human-readable message.
type Error struct {
	ErrCode Code   `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Op      string `json:"op,omitempty"`
	Time    string `json:"time"`
}

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{ErrCode: code, Message: message, Time: time.Now().Format(time.RFC3339)}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// WithOp attaches the operation name that produced the error, returning a
// new Error (the receiver is not mutated).
func (e *Error) WithOp(op string) *Error {
	cp := *e
	cp.Op = op
	return &cp
}

// WithDetails attaches extra detail text, returning a new Error.
func (e *Error) WithDetails(details string) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s [%s]: %s", e.ErrCode, e.Op, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.ErrCode, e.Message)
}

// Unwrap supports errors.Is/As chains; apierror.Error has no wrapped cause
// of its own.
func (e *Error) Unwrap() error { return nil }

// Is compares two *Error values by code, so errors.Is(err, apierror.New(apierror.NotRecording, "")) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.ErrCode == t.ErrCode
}

// HTTPStatus returns the HTTP status code this error should be reported as.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.ErrCode]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// MarshalJSON stamps the current time on encode, matching the teacher's
// MediaMTXError behavior of always reporting a fresh timestamp.
func (e *Error) MarshalJSON() ([]byte, error) {
	type alias Error
	cp := alias(*e)
	cp.Time = time.Now().Format(time.RFC3339)
	return json.Marshal(cp)
}

// From coerces any error into an *Error, defaulting to InternalError for
// errors the engine did not originate itself.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return New(InternalError, err.Error())
}
