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

// Package httpmsg holds the shared request/response value types that
// h1, h2, router, and pipeline all exchange, independent of which wire
// protocol produced or will serialize them.
package httpmsg

import (
	"io"
	"net/url"
	"time"

	"github.com/dicklesworthstone/fastgo/headers"
)

// Method is an HTTP request method. Kept as a distinct type rather than a
// bare string so router converters and dependency signatures read clearly.
type Method string

const (
	MethodGet     Method = "GET"
	MethodHead    Method = "HEAD"
	MethodPost    Method = "POST"
	MethodPut     Method = "PUT"
	MethodPatch   Method = "PATCH"
	MethodDelete  Method = "DELETE"
	MethodOptions Method = "OPTIONS"
	MethodConnect Method = "CONNECT"
	MethodTrace   Method = "TRACE"
)

// Body is a bounded, single-read request or response body stream.
type Body struct {
	io.Reader
	// Len is the declared content length, or -1 if unknown (chunked / h2
	// stream with no advertised length).
	Len int64
}

// Request is the protocol-independent view of an inbound HTTP request.
// h1.ParseRequest and the h2 engine's per-stream state each produce one
// of these after parsing their own wire format; everything downstream
// (router, dependency, extract, handlers) only ever sees this type.
type Request struct {
	Method    Method
	Path      string
	RawQuery  string
	Proto     string // "HTTP/1.1" or "HTTP/2"
	Host      string
	Scheme    string
	Header    *headers.Headers
	Body      Body
	RemoteAddr string
	ReceivedAt time.Time

	// StreamID is 0 for HTTP/1.1; the HTTP/2 stream identifier otherwise.
	StreamID uint32
}

// URL reconstructs a *url.URL for handlers that want one, primarily for
// compatibility with extractors built against net/url semantics.
func (r *Request) URL() *url.URL {
	return &url.URL{
		Scheme:   r.Scheme,
		Host:     r.Host,
		Path:     r.Path,
		RawQuery: r.RawQuery,
	}
}

// Query parses RawQuery on every call; callers that need it more than
// once should cache it themselves (extract.Query does).
func (r *Request) Query() (url.Values, error) {
	return url.ParseQuery(r.RawQuery)
}

// Response is the protocol-independent view of an outbound response a
// handler builds. The server's h1/h2 writer serializes it onto the wire
// in whatever form that protocol requires (status line + CRLF headers,
// or a HEADERS + DATA frame sequence).
type Response struct {
	StatusCode int
	Header     *headers.Headers
	Body       io.Reader
	// BodyLen, when >= 0, lets the writer emit Content-Length instead of
	// chunked/unknown-length framing.
	BodyLen int64
}

// NewResponse returns a Response with an initialized header map and a
// 200 default status.
func NewResponse() *Response {
	return &Response{
		StatusCode: 200,
		Header:     headers.New(),
		BodyLen:    -1,
	}
}
