// Copyright 2025 The fastgo Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package herror defines the application error vocabulary the pipeline
// maps onto HTTP status codes. Handlers and extractors return plain Go
// errors; the pipeline only special-cases errors that are (or wrap) an
// *Error from this package, falling back to 500 for everything else.
package herror

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// Kind names a class of application error with a fixed status mapping.
type Kind string

const (
	KindBadRequest       Kind = "bad_request"
	KindUnauthorized     Kind = "unauthorized"
	KindForbidden        Kind = "forbidden"
	KindNotFound         Kind = "not_found"
	KindMethodNotAllowed Kind = "method_not_allowed"
	KindConflict         Kind = "conflict"
	KindPayloadTooLarge  Kind = "payload_too_large"
	KindURITooLong       Kind = "uri_too_long"
	KindUnsupportedMedia Kind = "unsupported_media_type"
	KindUnprocessable    Kind = "unprocessable"
	KindHeaderTooLarge   Kind = "header_too_large"
	KindTooManyRequests  Kind = "too_many_requests"
	KindCancelled        Kind = "cancelled"
	KindInternal         Kind = "internal"
	KindUnavailable      Kind = "unavailable"
	KindTimeout          Kind = "timeout"
)

var statusByKind = map[Kind]int{
	KindBadRequest:       http.StatusBadRequest,
	KindUnauthorized:     http.StatusUnauthorized,
	KindForbidden:        http.StatusForbidden,
	KindNotFound:         http.StatusNotFound,
	KindMethodNotAllowed: http.StatusMethodNotAllowed,
	KindConflict:         http.StatusConflict,
	KindPayloadTooLarge:  http.StatusRequestEntityTooLarge,
	KindURITooLong:       http.StatusRequestURITooLong,
	KindUnsupportedMedia: http.StatusUnsupportedMediaType,
	KindUnprocessable:    http.StatusUnprocessableEntity,
	KindHeaderTooLarge:   http.StatusRequestHeaderFieldsTooLarge,
	KindTooManyRequests:  http.StatusTooManyRequests,
	KindCancelled:        499, // nginx convention: client closed request
	KindInternal:         http.StatusInternalServerError,
	KindUnavailable:      http.StatusServiceUnavailable,
	KindTimeout:          http.StatusGatewayTimeout,
}

// ValidationDetail is one entry of a KindUnprocessable error's detail
// list, matching the RFC 9457-style {loc, msg, type, input} shape §7
// requires extractors to produce without panicking on any input.
type ValidationDetail struct {
	Loc   []string `json:"loc"`
	Msg   string   `json:"msg"`
	Type  string   `json:"type"`
	Input any      `json:"input"`
}

// Error is an application error carrying a Kind (and therefore a status
// code) plus an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	// Details carries the RFC 9457-style validation detail list for
	// KindUnprocessable errors; nil for every other kind.
	Details []ValidationDetail
}

// NewValidation builds a KindUnprocessable error from one or more field
// validation failures, the shape extract's typed decoders return when a
// path/query/header/body value fails to convert.
func NewValidation(details ...ValidationDetail) *Error {
	return &Error{Kind: KindUnprocessable, Message: "validation failed", Details: details}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Status returns the HTTP status code for e.Kind, defaulting to 500 for
// an unrecognized kind (should not happen for values constructed via New).
func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New constructs an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given kind that wraps cause, preserving
// it in the error chain via pkg/errors stack-aware wrapping.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: errors.Wrap(cause, message)}
}

// StatusOf returns the HTTP status that should be written for err: the
// *Error's own status if err is (or wraps) one, else 500.
func StatusOf(err error) int {
	var he *Error
	if errors.As(err, &he) {
		return he.Status()
	}
	return http.StatusInternalServerError
}

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var he *Error
	if errors.As(err, &he) {
		return he.Kind == kind
	}
	return false
}
