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

// Package h1 implements the HTTP/1.1 wire codec: request-line and header
// parsing, chunked transfer-coding, and response serialization.
package h1

// Limits bounds the resources a single connection's request parsing may
// consume, configured via confengine and enforced per-request.
type Limits struct {
	// MaxRequestLineLength bounds the request line (method + target +
	// version), in bytes.
	MaxRequestLineLength int `config:"maxRequestLineLength"`
	// MaxHeaderBytes bounds the total size of the header block.
	MaxHeaderBytes int `config:"maxHeaderBytes"`
	// MaxHeaderCount bounds the number of header fields.
	MaxHeaderCount int `config:"maxHeaderCount"`
}

// DefaultLimits mirrors common production defaults (close to what
// net/http and nginx ship).
var DefaultLimits = Limits{
	MaxRequestLineLength: 8 * 1024,
	MaxHeaderBytes:       1 << 20,
	MaxHeaderCount:       100,
}
