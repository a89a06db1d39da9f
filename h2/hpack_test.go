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
	"testing"

	fasthttp2 "github.com/dgrr/http2"

	"github.com/dicklesworthstone/fastgo/headers"
)

func TestDecodeRequestHeadersSeparatesPseudoFromOrdinary(t *testing.T) {
	block := clientEncodeRequestHeaders("/widgets/7")

	codec := newHPACKCodec(4096)
	defer codec.release()

	pseudo, h, err := codec.decodeRequestHeaders(block, 0)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pseudo.method != "GET" || pseudo.path != "/widgets/7" || pseudo.authority != "example.com" {
		t.Fatalf("unexpected pseudo headers: %+v", pseudo)
	}
	if h.Len() != 0 {
		t.Fatalf("expected no ordinary headers, got %d", h.Len())
	}
}

func TestDecodeRequestHeadersPreservesOrderAndDuplicates(t *testing.T) {
	hp := fasthttp2.AcquireHPACK()
	defer fasthttp2.ReleaseHPACK(hp)

	var block []byte
	field := fasthttp2.HeaderField{}
	add := func(k, v string) {
		field.SetKeyBytes([]byte(k))
		field.SetValue(v)
		block = hp.AppendHeader(block, &field, false)
	}
	add(pseudoMethod, "GET")
	add(pseudoScheme, "http")
	add(pseudoPath, "/")
	add("x-tag", "one")
	add("accept", "text/plain")
	add("x-tag", "two")

	codec := newHPACKCodec(4096)
	defer codec.release()
	_, h, err := codec.decodeRequestHeaders(block, 0)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := h.Values("x-tag"); len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Fatalf("duplicate values lost or reordered: %v", got)
	}
}

func TestDecodeRequestHeadersRejectsPseudoAfterRegular(t *testing.T) {
	hp := fasthttp2.AcquireHPACK()
	defer fasthttp2.ReleaseHPACK(hp)

	var block []byte
	field := fasthttp2.HeaderField{}
	add := func(k, v string) {
		field.SetKeyBytes([]byte(k))
		field.SetValue(v)
		block = hp.AppendHeader(block, &field, false)
	}
	add(pseudoMethod, "GET")
	add(pseudoScheme, "http")
	add("accept", "text/plain")
	add(pseudoPath, "/late")

	codec := newHPACKCodec(4096)
	defer codec.release()
	_, _, err := codec.decodeRequestHeaders(block, 0)
	if _, ok := err.(*malformedError); !ok {
		t.Fatalf("expected malformedError, got %v", err)
	}
}

func TestDecodeRequestHeadersRejectsDuplicatePseudo(t *testing.T) {
	hp := fasthttp2.AcquireHPACK()
	defer fasthttp2.ReleaseHPACK(hp)

	var block []byte
	field := fasthttp2.HeaderField{}
	add := func(k, v string) {
		field.SetKeyBytes([]byte(k))
		field.SetValue(v)
		block = hp.AppendHeader(block, &field, false)
	}
	add(pseudoMethod, "GET")
	add(pseudoMethod, "POST")
	add(pseudoScheme, "http")
	add(pseudoPath, "/")

	codec := newHPACKCodec(4096)
	defer codec.release()
	_, _, err := codec.decodeRequestHeaders(block, 0)
	if _, ok := err.(*malformedError); !ok {
		t.Fatalf("expected malformedError, got %v", err)
	}
}

func TestDecodeRequestHeadersRejectsConnectionHeader(t *testing.T) {
	hp := fasthttp2.AcquireHPACK()
	defer fasthttp2.ReleaseHPACK(hp)

	var block []byte
	field := fasthttp2.HeaderField{}
	add := func(k, v string) {
		field.SetKeyBytes([]byte(k))
		field.SetValue(v)
		block = hp.AppendHeader(block, &field, false)
	}
	add(pseudoMethod, "GET")
	add(pseudoScheme, "http")
	add(pseudoPath, "/")
	add("connection", "keep-alive")

	codec := newHPACKCodec(4096)
	defer codec.release()
	_, _, err := codec.decodeRequestHeaders(block, 0)
	if _, ok := err.(*malformedError); !ok {
		t.Fatalf("expected malformedError, got %v", err)
	}
}

func TestValidatePathStarRequiresOptions(t *testing.T) {
	p := requestPseudo{method: "GET", scheme: "http", path: "*"}
	if err := p.validate(); err == nil {
		t.Fatal("* path must be rejected for non-OPTIONS methods")
	}
	p.method = "OPTIONS"
	if err := p.validate(); err != nil {
		t.Fatalf("OPTIONS * should validate: %v", err)
	}
}

// decodeResponseBlock decodes a response header block with c's decoder,
// returning the :status value and the regular fields in order.
func decodeResponseBlock(t *testing.T, c *hpackCodec, block []byte) (string, *headers.Headers) {
	t.Helper()
	h := headers.New()
	var status string
	field := &fasthttp2.HeaderField{}
	for buf := block; len(buf) > 0; {
		field.Reset()
		var err error
		buf, err = c.dec.Next(field, buf)
		if err != nil {
			t.Fatalf("decode response block: %v", err)
		}
		if field.Key() == pseudoStatus {
			status = field.Value()
			continue
		}
		h.Add(field.Key(), field.Value())
	}
	return status, h
}

func TestEncodeResponseHeadersIncludesStatus(t *testing.T) {
	codec := newHPACKCodec(4096)
	defer codec.release()

	h := headers.New()
	h.Add("content-type", "text/plain")
	h.Add("Content-Length", "12") // codec-owned, must be dropped
	block := codec.encodeResponseHeaders(200, h)
	if len(block) == 0 {
		t.Fatal("expected non-empty header block")
	}

	// decode it back with a fresh codec to confirm it parses as valid HPACK.
	decoder := newHPACKCodec(4096)
	defer decoder.release()
	status, got := decodeResponseBlock(t, decoder, block)
	if status != "200" {
		t.Fatalf(":status = %q, want 200", status)
	}
	if v, ok := got.Get("content-type"); !ok || v != "text/plain" {
		t.Fatalf("content-type round trip failed: %q, ok=%v", v, ok)
	}
	if got.Has("content-length") {
		t.Fatal("handler-set content-length leaked into the encoded block")
	}
}

func TestHpackRoundTripHeaderList(t *testing.T) {
	enc := newHPACKCodec(4096)
	defer enc.release()
	dec := newHPACKCodec(4096)
	defer dec.release()

	h := headers.New()
	h.Add("content-type", "application/json")
	h.Add("x-request-id", "abc-123")
	h.Add("set-cookie", "a=1")
	h.Add("set-cookie", "b=2")

	block := enc.encodeResponseHeaders(404, h)
	status, got := decodeResponseBlock(t, dec, block)
	if status != "404" {
		t.Fatalf(":status = %q, want 404", status)
	}
	want := []string{"content-type", "x-request-id", "set-cookie", "set-cookie"}
	i := 0
	got.Range(func(name, value string) bool {
		if i >= len(want) || name != want[i] {
			t.Fatalf("field %d = %q, want %q", i, name, want[i])
		}
		i++
		return true
	})
	if i != len(want) {
		t.Fatalf("decoded %d fields, want %d", i, len(want))
	}
}

func TestShouldIndexExcludesSetCookie(t *testing.T) {
	if shouldIndex("set-cookie") {
		t.Fatal("expected set-cookie to be excluded from dynamic table indexing")
	}
	if !shouldIndex("content-type") {
		t.Fatal("expected ordinary headers to be indexed")
	}
}
