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

// Package headers implements an ordered, case-insensitive header
// collection shared by h1 and h2. Unlike net/http.Header it preserves
// insertion order, which both HTTP/2 HPACK encoding fidelity and a few
// legacy servers' header-order-sniffing clients care about.
package headers

import (
	"strings"

	"golang.org/x/net/http/httpguts"
)

// Field is a single header entry. Name is always stored lowercased;
// lookups may use any case.
type Field struct {
	Name  string
	Value string
}

// Headers is an ordered, case-insensitive multimap of header fields.
// Names are lowercased on insertion, so iteration and wire emission
// always see the canonical lowercase form regardless of what the client
// or handler supplied.
type Headers struct {
	fields []Field
}

// New returns an empty Headers.
func New() *Headers {
	return &Headers{}
}

// Add appends a field, keeping any existing same-name fields. The name
// is lowercased before storage.
func (h *Headers) Add(name, value string) *Headers {
	h.fields = append(h.fields, Field{Name: strings.ToLower(name), Value: value})
	return h
}

// Set removes any existing fields with the same name and appends value
// as the sole occurrence, preserving the position of the first prior
// occurrence if there was one.
func (h *Headers) Set(name, value string) *Headers {
	lname := strings.ToLower(name)
	for i := range h.fields {
		if h.fields[i].Name == lname {
			h.fields[i].Value = value
			h.fields = h.removeRest(lname, i+1)
			return h
		}
	}
	return h.Add(name, value)
}

func (h *Headers) removeRest(lname string, from int) []Field {
	out := h.fields[:from:from]
	for _, f := range h.fields[from:] {
		if f.Name == lname {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Get returns the first value for name, case-insensitive.
func (h *Headers) Get(name string) (string, bool) {
	lname := strings.ToLower(name)
	for _, f := range h.fields {
		if f.Name == lname {
			return f.Value, true
		}
	}
	return "", false
}

// Values returns every value for name in insertion order.
func (h *Headers) Values(name string) []string {
	lname := strings.ToLower(name)
	var out []string
	for _, f := range h.fields {
		if f.Name == lname {
			out = append(out, f.Value)
		}
	}
	return out
}

// Del removes every field matching name, case-insensitive.
func (h *Headers) Del(name string) *Headers {
	lname := strings.ToLower(name)
	out := h.fields[:0:0]
	for _, f := range h.fields {
		if f.Name == lname {
			continue
		}
		out = append(out, f)
	}
	h.fields = out
	return h
}

// Has reports whether name occurs at all.
func (h *Headers) Has(name string) bool {
	_, ok := h.Get(name)
	return ok
}

// Range calls f for every field in insertion order. f returning false
// stops iteration early.
func (h *Headers) Range(f func(name, value string) bool) {
	for _, field := range h.fields {
		if !f(field.Name, field.Value) {
			return
		}
	}
}

// Len returns the number of fields, counting repeats.
func (h *Headers) Len() int {
	return len(h.fields)
}

// Clone returns a deep copy.
func (h *Headers) Clone() *Headers {
	c := &Headers{fields: make([]Field, len(h.fields))}
	copy(c.fields, h.fields)
	return c
}

// ValidName reports whether name is a syntactically valid HTTP field name
// per RFC 7230 token grammar.
func ValidName(name string) bool {
	return httpguts.ValidHeaderFieldName(name)
}

// ValidValue reports whether value is a syntactically valid HTTP field
// value (no bare CR/LF/NUL) per RFC 7230.
func ValidValue(value string) bool {
	return httpguts.ValidHeaderFieldValue(value)
}
