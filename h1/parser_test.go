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
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dicklesworthstone/fastgo/herror"
	"github.com/dicklesworthstone/fastgo/httpmsg"
)

func TestParseSimpleGetRequest(t *testing.T) {
	raw := "GET /widgets?limit=10 HTTP/1.1\r\nHost: example.com\r\nAccept: */*\r\n\r\n"
	req, err := ParseRequest(bufio.NewReader(strings.NewReader(raw)), DefaultLimits, "http", "127.0.0.1:1234")
	require.NoError(t, err)

	assert.Equal(t, httpmsg.MethodGet, req.Method)
	assert.Equal(t, "/widgets", req.Path)
	assert.Equal(t, "limit=10", req.RawQuery)
	assert.Equal(t, "example.com", req.Host)

	b, _ := io.ReadAll(req.Body)
	assert.Empty(t, b)
}

func TestParseRequestWithContentLength(t *testing.T) {
	raw := "POST /widgets HTTP/1.1\r\nHost: example.com\r\nContent-Length: 5\r\n\r\nhello"
	req, err := ParseRequest(bufio.NewReader(strings.NewReader(raw)), DefaultLimits, "http", "")
	require.NoError(t, err)

	b, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))
}

func TestParseRequestChunkedBody(t *testing.T) {
	raw := "POST /widgets HTTP/1.1\r\nHost: example.com\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n"
	req, err := ParseRequest(bufio.NewReader(strings.NewReader(raw)), DefaultLimits, "http", "")
	require.NoError(t, err)

	b, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(b))
}

func TestChunkedWinsOverContentLength(t *testing.T) {
	raw := "POST /widgets HTTP/1.1\r\nHost: example.com\r\nContent-Length: 3\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"5\r\nhello\r\n0\r\n\r\n"
	req, err := ParseRequest(bufio.NewReader(strings.NewReader(raw)), DefaultLimits, "http", "")
	require.NoError(t, err)

	assert.False(t, req.Header.Has("Content-Length"), "Content-Length must be stripped when chunked wins")

	b, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))
}

func TestConflictingContentLengthValuesRejected(t *testing.T) {
	raw := "POST /widgets HTTP/1.1\r\nHost: example.com\r\nContent-Length: 5\r\nContent-Length: 6\r\n\r\nhello"
	_, err := ParseRequest(bufio.NewReader(strings.NewReader(raw)), DefaultLimits, "http", "")
	require.Error(t, err)
	assert.Equal(t, 400, herror.StatusOf(err))
}

func TestRepeatedIdenticalContentLengthTolerated(t *testing.T) {
	raw := "POST /widgets HTTP/1.1\r\nHost: example.com\r\nContent-Length: 5\r\nContent-Length: 5\r\n\r\nhello"
	req, err := ParseRequest(bufio.NewReader(strings.NewReader(raw)), DefaultLimits, "http", "")
	require.NoError(t, err)

	b, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))
}

func TestOversizedHeaderBlockRejected(t *testing.T) {
	limits := Limits{MaxRequestLineLength: 8192, MaxHeaderBytes: 32, MaxHeaderCount: 10}
	raw := "GET / HTTP/1.1\r\nX-Long: " + strings.Repeat("a", 128) + "\r\n\r\n"
	_, err := ParseRequest(bufio.NewReader(strings.NewReader(raw)), limits, "http", "")
	require.Error(t, err)
	assert.Equal(t, 431, herror.StatusOf(err))
}

func TestOversizedRequestLineMapsTo414(t *testing.T) {
	limits := Limits{MaxRequestLineLength: 32, MaxHeaderBytes: 8192, MaxHeaderCount: 100}
	raw := "GET /" + strings.Repeat("a", 128) + " HTTP/1.1\r\nHost: x\r\n\r\n"
	_, err := ParseRequest(bufio.NewReader(strings.NewReader(raw)), limits, "http", "")
	require.Error(t, err)
	assert.Equal(t, 414, herror.StatusOf(err))
}

func TestWriteResponseFixedLength(t *testing.T) {
	resp := httpmsg.NewResponse()
	resp.StatusCode = 201
	resp.Body = strings.NewReader("ok")
	resp.BodyLen = 2

	var sb strings.Builder
	w := bufio.NewWriter(&sb)
	require.NoError(t, WriteResponse(w, resp, true))

	out := sb.String()
	assert.Contains(t, out, "HTTP/1.1 201 Created\r\n")
	assert.Contains(t, out, "Content-Length: 2\r\n")
	assert.True(t, strings.HasSuffix(out, "ok"))
}

func TestWriteResponseChunked(t *testing.T) {
	resp := httpmsg.NewResponse()
	resp.Body = strings.NewReader("streamed")
	resp.BodyLen = -1

	var sb strings.Builder
	w := bufio.NewWriter(&sb)
	require.NoError(t, WriteResponse(w, resp, false))

	out := sb.String()
	assert.Contains(t, out, "Transfer-Encoding: chunked\r\n")
	assert.Contains(t, out, "Connection: close\r\n")
	assert.Contains(t, out, "8\r\nstreamed\r\n0\r\n\r\n")
}
