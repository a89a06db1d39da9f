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

package h2

import (
	"strconv"
	"strings"

	fasthttp2 "github.com/dgrr/http2"

	"github.com/dicklesworthstone/fastgo/headers"
)

const (
	pseudoMethod    = ":method"
	pseudoScheme    = ":scheme"
	pseudoPath      = ":path"
	pseudoAuthority = ":authority"
	pseudoStatus    = ":status"
)

// requestPseudo holds the decoded HTTP/2 request pseudo-headers.
type requestPseudo struct {
	method    string
	scheme    string
	path      string
	authority string
}

// malformedError marks a header block that decoded cleanly at the HPACK
// layer but violates HTTP/2 request semantics (RFC 7540 §8.1.2). It is a
// stream-level failure: the connection and its compression state stay
// intact.
type malformedError struct {
	msg string
}

func (e *malformedError) Error() string { return "h2: malformed headers: " + e.msg }

// hpackCodec wraps a single connection's HPACK state. The dynamic tables
// are direction-specific, so the decoder (peer→us) and encoder (us→peer)
// each own one, mirroring the enc/dec pair the upstream dgrr serverConn
// keeps. Both are connection-scoped, never per-stream.
type hpackCodec struct {
	dec *fasthttp2.HPACK
	enc *fasthttp2.HPACK
}

func newHPACKCodec(localTableSize uint32) *hpackCodec {
	c := &hpackCodec{
		dec: fasthttp2.AcquireHPACK(),
		enc: fasthttp2.AcquireHPACK(),
	}
	c.dec.SetMaxTableSize(localTableSize)
	return c
}

// setPeerTableSize clamps the encoder's dynamic table to the size the
// peer advertised via SETTINGS_HEADER_TABLE_SIZE.
func (c *hpackCodec) setPeerTableSize(n uint32) {
	c.enc.SetMaxTableSize(n)
}

func (c *hpackCodec) release() {
	c.dec.Reset()
	c.enc.Reset()
	fasthttp2.ReleaseHPACK(c.dec)
	fasthttp2.ReleaseHPACK(c.enc)
}

// decodeRequestHeaders parses a complete (already-reassembled across any
// CONTINUATION frames) header block into request pseudo-headers plus
// ordinary headers, enforcing RFC 7540 §8.1.2: lowercase field names,
// all pseudo-headers before regular ones, no duplicate or unknown
// pseudo-headers, no connection-specific fields, and a total list size
// within maxListSize. HPACK-layer failures come back as plain errors
// (connection-fatal COMPRESSION_ERROR); semantic failures come back as
// *malformedError (stream-fatal PROTOCOL_ERROR). The whole block is
// always decoded even after a semantic failure so the dynamic table
// stays synchronized with the peer.
func (c *hpackCodec) decodeRequestHeaders(block []byte, maxListSize uint32) (requestPseudo, *headers.Headers, error) {
	h := headers.New()
	var p requestPseudo
	var malformed *malformedError
	setMalformed := func(msg string) {
		if malformed == nil {
			malformed = &malformedError{msg: msg}
		}
	}

	var listSize uint64
	sawRegular := false
	seenPseudo := map[string]bool{}

	field := &fasthttp2.HeaderField{}
	buf := block
	var err error
	for len(buf) > 0 {
		field.Reset()
		buf, err = c.dec.Next(field, buf)
		if err != nil {
			return p, nil, newError("hpack decode: %v", err)
		}
		key := field.Key()
		if key == "" {
			continue
		}
		listSize += uint64(len(key)) + uint64(len(field.Value())) + 32
		if maxListSize > 0 && listSize > uint64(maxListSize) {
			setMalformed("header list exceeds SETTINGS_MAX_HEADER_LIST_SIZE")
		}

		if strings.HasPrefix(key, ":") {
			if sawRegular {
				setMalformed("pseudo-header " + key + " after regular header")
			}
			if seenPseudo[key] {
				setMalformed("duplicate pseudo-header " + key)
			}
			seenPseudo[key] = true
			switch key {
			case pseudoMethod:
				p.method = field.Value()
			case pseudoScheme:
				p.scheme = field.Value()
			case pseudoPath:
				p.path = field.Value()
			case pseudoAuthority:
				p.authority = field.Value()
			default:
				setMalformed("unknown request pseudo-header " + key)
			}
			continue
		}

		sawRegular = true
		if hasUpperASCII(key) {
			setMalformed("uppercase field name " + key)
			continue
		}
		if !headers.ValidName(key) || !headers.ValidValue(field.Value()) {
			// HPACK constrains encoding, not content: a decoded value can
			// still smuggle CR/LF/NUL toward an h1 upstream.
			setMalformed("invalid field " + key)
			continue
		}
		switch key {
		case "connection", "keep-alive", "proxy-connection", "transfer-encoding", "upgrade":
			setMalformed("connection-specific header " + key)
			continue
		case "te":
			if !strings.EqualFold(field.Value(), "trailers") {
				setMalformed(`te header with value other than "trailers"`)
				continue
			}
		}
		h.Add(key, field.Value())
	}

	if malformed != nil {
		return p, nil, malformed
	}
	return p, h, nil
}

// validate enforces the per-request pseudo-header completeness rules once
// the full block is decoded: :method and :path are required, and
// `:path = "*"` is only legal for OPTIONS.
func (p requestPseudo) validate() error {
	if p.method == "" {
		return &malformedError{msg: "missing :method"}
	}
	if p.path == "" {
		return &malformedError{msg: "missing :path"}
	}
	if p.path == "*" && p.method != "OPTIONS" {
		return &malformedError{msg: `:path "*" is only valid for OPTIONS`}
	}
	return nil
}

// decodeAndDiscard runs a header block (a trailer section) through the
// decoder purely for dynamic-table synchronization.
func (c *hpackCodec) decodeAndDiscard(block []byte) error {
	field := &fasthttp2.HeaderField{}
	buf := block
	var err error
	for len(buf) > 0 {
		field.Reset()
		buf, err = c.dec.Next(field, buf)
		if err != nil {
			return newError("hpack decode: %v", err)
		}
	}
	return nil
}

// encodeResponseHeaders serializes a status code plus headers into an
// HPACK block ready for a HEADERS frame payload. Callers must hold the
// connection write lock: encoder dynamic-table mutations must hit the
// wire in the same order they happened.
func (c *hpackCodec) encodeResponseHeaders(status int, h *headers.Headers) []byte {
	var dst []byte
	field := fasthttp2.HeaderField{}

	field.SetKeyBytes([]byte(pseudoStatus))
	field.SetValue(strconv.Itoa(status))
	dst = c.enc.AppendHeader(dst, &field, true)

	// headers.Headers stores names lowercased, so fields can go straight
	// into the HPACK block without re-normalizing.
	h.Range(func(name, value string) bool {
		// the codec owns wire framing; a handler-set content-length or
		// transfer-encoding would desynchronize DATA accounting.
		if name == "content-length" || name == "transfer-encoding" {
			return true
		}
		field.SetKeyBytes([]byte(name))
		field.SetValue(value)
		dst = c.enc.AppendHeader(dst, &field, shouldIndex(name))
		return true
	})
	return dst
}

func shouldIndex(name string) bool {
	// avoid polluting the dynamic table with highly cardinal values:
	// set-cookie, etag and last-modified are never indexed.
	switch name {
	case "set-cookie", "etag", "last-modified":
		return false
	default:
		return true
	}
}

func hasUpperASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' {
			return true
		}
	}
	return false
}
