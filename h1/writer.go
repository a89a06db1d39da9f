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
	"net/http"
	"strconv"

	"github.com/valyala/bytebufferpool"

	"github.com/dicklesworthstone/fastgo/httpmsg"
)

var bufPool bytebufferpool.Pool

// WriteResponse serializes resp onto w as an HTTP/1.1 status line, header
// block, and body. Unless resp already carries a Connection header, one is
// always written: "keep-alive" when keepAlive is true, "close" otherwise;
// the caller (server) decides connection reuse policy.
func WriteResponse(w *bufio.Writer, resp *httpmsg.Response, keepAlive bool) error {
	buf := bufPool.Get()
	defer bufPool.Put(buf)

	statusText := http.StatusText(resp.StatusCode)
	buf.WriteString("HTTP/1.1 ")
	buf.WriteString(strconv.Itoa(resp.StatusCode))
	buf.WriteByte(' ')
	buf.WriteString(statusText)
	buf.WriteString("\r\n")

	// body framing belongs to the codec: a handler-set Content-Length or
	// Transfer-Encoding would desynchronize the connection, so both are
	// dropped from the user header list unconditionally. 1xx/204/304
	// responses carry no body and no framing headers at all.
	bodyless := resp.StatusCode < 200 || resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotModified
	chunked := !bodyless && resp.BodyLen < 0 && resp.Body != nil
	switch {
	case bodyless:
	case chunked:
		buf.WriteString("Transfer-Encoding: chunked\r\n")
	default:
		buf.WriteString("Content-Length: ")
		buf.WriteString(strconv.FormatInt(maxInt64(resp.BodyLen, 0), 10))
		buf.WriteString("\r\n")
	}

	if _, ok := headerGet(resp, "Connection"); !ok {
		if keepAlive {
			buf.WriteString("Connection: keep-alive\r\n")
		} else {
			buf.WriteString("Connection: close\r\n")
		}
	}

	// headers.Headers stores names lowercased, which is also what goes on
	// the wire (legal per RFC 9110 field-name case-insensitivity).
	resp.Header.Range(func(name, value string) bool {
		switch name {
		case "content-length", "transfer-encoding":
			return true
		}
		buf.WriteString(name)
		buf.WriteString(": ")
		buf.WriteString(value)
		buf.WriteString("\r\n")
		return true
	})
	buf.WriteString("\r\n")

	if _, err := w.Write(buf.Bytes()); err != nil {
		return err
	}

	if bodyless || resp.Body == nil {
		return w.Flush()
	}

	if chunked {
		cw := newChunkedWriter(w)
		if _, err := io.Copy(cw, resp.Body); err != nil {
			return err
		}
		if err := cw.Close(); err != nil {
			return err
		}
		return w.Flush()
	}

	if _, err := io.CopyN(w, resp.Body, resp.BodyLen); err != nil && err != io.EOF {
		return err
	}
	return w.Flush()
}

func headerGet(resp *httpmsg.Response, name string) (string, bool) {
	if resp.Header == nil {
		return "", false
	}
	return resp.Header.Get(name)
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
