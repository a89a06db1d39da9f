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

package h1

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/dicklesworthstone/fastgo/headers"
	"github.com/dicklesworthstone/fastgo/herror"
	"github.com/dicklesworthstone/fastgo/httpmsg"
	"github.com/dicklesworthstone/fastgo/internal/splitio"
)

// Parse errors carry an herror kind so the server maps them straight to
// the right status code (400 malformed, 414 request-target too long, 431
// header block too large) instead of a blanket 500.
func newError(format string, args ...any) error {
	return herror.New(herror.KindBadRequest, fmt.Sprintf("h1: "+format, args...))
}

func newKindError(kind herror.Kind, format string, args ...any) error {
	return herror.New(kind, fmt.Sprintf("h1: "+format, args...))
}

var charHTTP11 = []byte("HTTP/1.1")

// ParseRequest reads a single request-line + header block + body from r,
// in the state-machine order the teacher's passive decoder used
// (protocol line, then headers, then body), but as an active single-sided
// parse rather than a two-sided request/response pairing.
//
// remoteAddr is recorded onto the returned Request verbatim; scheme is
// "http" or "https" depending on how the listener accepted the
// connection (the codec itself never inspects TLS state).
func ParseRequest(r *bufio.Reader, limits Limits, scheme, remoteAddr string) (*httpmsg.Request, error) {
	method, target, proto, err := readRequestLine(r, limits.MaxRequestLineLength)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(proto, charHTTP11) {
		return nil, newError("unsupported protocol version %q", proto)
	}

	hdr, contentLength, chunked, err := readHeaders(r, limits)
	if err != nil {
		return nil, err
	}

	path, rawQuery := splitTarget(target)
	host, _ := hdr.Get("Host")

	req := &httpmsg.Request{
		Method:     httpmsg.Method(method),
		Path:       path,
		RawQuery:   rawQuery,
		Proto:      "HTTP/1.1",
		Host:       host,
		Scheme:     scheme,
		Header:     hdr,
		RemoteAddr: remoteAddr,
		ReceivedAt: time.Now(),
	}

	switch {
	case chunked:
		req.Body = httpmsg.Body{Reader: newChunkedReader(r), Len: -1}
	case contentLength > 0:
		req.Body = httpmsg.Body{Reader: io.LimitReader(r, contentLength), Len: contentLength}
	default:
		req.Body = httpmsg.Body{Reader: http11EmptyBody{}, Len: 0}
	}

	return req, nil
}

type http11EmptyBody struct{}

func (http11EmptyBody) Read([]byte) (int, error) { return 0, io.EOF }

func readRequestLine(r *bufio.Reader, maxLen int) (method, target, proto []byte, err error) {
	if maxLen <= 0 {
		maxLen = DefaultLimits.MaxRequestLineLength
	}
	line, err := readLineLimited(r, maxLen)
	if err != nil {
		return nil, nil, nil, err
	}
	line = splitio.TrimCRLF(line)

	parts := bytes.SplitN(line, []byte(" "), 3)
	if len(parts) != 3 {
		return nil, nil, nil, newError("malformed request line %q", line)
	}
	return parts[0], parts[1], parts[2], nil
}

func readLineLimited(r *bufio.Reader, maxLen int) ([]byte, error) {
	line, err := r.ReadSlice('\n')
	if err != nil {
		if err == bufio.ErrBufferFull {
			return nil, newKindError(herror.KindURITooLong, "request line exceeds limit of %d bytes", maxLen)
		}
		// a clean close between keep-alive requests surfaces as a bare
		// io.EOF so the connection loop can exit without logging an error.
		if err == io.EOF && len(line) == 0 {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, "h1: read line")
	}
	if len(line) > maxLen {
		return nil, newKindError(herror.KindURITooLong, "request line exceeds limit of %d bytes", maxLen)
	}
	return append([]byte(nil), line...), nil
}

// readHeaders parses a CRLF-terminated header block, enforcing
// MaxHeaderBytes/MaxHeaderCount, and determines the effective body-length
// framing (Content-Length vs chunked) per RFC 9112 §6.3; when a request
// declares both, chunked wins and the Content-Length header is dropped.
func readHeaders(r *bufio.Reader, limits Limits) (h *headers.Headers, contentLength int64, chunked bool, err error) {
	maxBytes := limits.MaxHeaderBytes
	if maxBytes <= 0 {
		maxBytes = DefaultLimits.MaxHeaderBytes
	}
	maxCount := limits.MaxHeaderCount
	if maxCount <= 0 {
		maxCount = DefaultLimits.MaxHeaderCount
	}

	h = headers.New()
	var total int
	var haveContentLength, haveChunked bool
	contentLength = -1

	for {
		line, lerr := r.ReadSlice('\n')
		if lerr != nil {
			return nil, 0, false, errors.Wrap(lerr, "h1: read header line")
		}
		total += len(line)
		if total > maxBytes {
			return nil, 0, false, newKindError(herror.KindHeaderTooLarge, "header block exceeds %d bytes", maxBytes)
		}

		trimmed := splitio.TrimCRLF(line)
		if len(trimmed) == 0 {
			break // blank line terminates the header block
		}

		idx := bytes.IndexByte(trimmed, ':')
		if idx <= 0 {
			return nil, 0, false, newError("malformed header line %q", trimmed)
		}
		name := string(bytes.TrimSpace(trimmed[:idx]))
		value := string(bytes.TrimSpace(trimmed[idx+1:]))
		if !headers.ValidName(name) || !headers.ValidValue(value) {
			return nil, 0, false, newError("invalid header field %q", name)
		}

		h.Add(name, value)
		if len(h.Values(name)) > maxCount || h.Len() > maxCount {
			return nil, 0, false, newKindError(herror.KindHeaderTooLarge, "too many header fields (max %d)", maxCount)
		}

		switch strings.ToLower(name) {
		case "content-length":
			n, perr := strconv.ParseInt(value, 10, 63)
			if perr != nil || n < 0 {
				return nil, 0, false, newError("invalid Content-Length %q", value)
			}
			// repeating the same value is tolerated per RFC 9110 §8.6;
			// disagreement is unrecoverable request smuggling territory.
			if haveContentLength && n != contentLength {
				return nil, 0, false, newError("conflicting Content-Length values %d and %d", contentLength, n)
			}
			contentLength = n
			haveContentLength = true
		case "transfer-encoding":
			if strings.EqualFold(strings.TrimSpace(value), "chunked") {
				haveChunked = true
			}
		}
	}

	// when both are present, chunked framing wins and the stored
	// Content-Length is dropped so nothing downstream trusts it.
	if haveChunked && haveContentLength {
		h.Del("Content-Length")
		contentLength = -1
	}

	return h, contentLength, haveChunked, nil
}

func splitTarget(target []byte) (path, rawQuery string) {
	s := string(target)
	if idx := strings.IndexByte(s, '?'); idx >= 0 {
		return s[:idx], s[idx+1:]
	}
	return s, ""
}
