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
	"io"
	"strconv"

	"github.com/pkg/errors"

	"github.com/dicklesworthstone/fastgo/internal/splitio"
)

// chunked-body   = *chunk
//                  last-chunk
//                  trailer-section
//                  CRLF
//
// chunk          = chunk-size [ chunk-ext ] CRLF
//                  chunk-data CRLF
// chunk-size     = 1*HEXDIG
// last-chunk     = 1*("0") [ chunk-ext ] CRLF
//
// https://datatracker.ietf.org/doc/html/rfc9112#name-chunked-transfer-coding

// chunkedReader decodes a chunked request body into a plain byte stream,
// discarding chunk extensions and trailers (see DESIGN.md open question
// on trailer handling).
type chunkedReader struct {
	r         *bufio.Reader
	remaining int64 // bytes left in the current chunk, -1 before first chunk read
	err       error
}

func newChunkedReader(r *bufio.Reader) *chunkedReader {
	return &chunkedReader{r: r, remaining: -1}
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	if c.remaining == 0 {
		if err := c.consumeCRLF(); err != nil {
			c.err = err
			return 0, err
		}
		if err := c.readChunkSize(); err != nil {
			c.err = err
			return 0, err
		}
	}
	if c.remaining < 0 {
		if err := c.readChunkSize(); err != nil {
			c.err = err
			return 0, err
		}
	}
	if c.remaining == 0 {
		if err := c.readTrailers(); err != nil {
			c.err = err
			return 0, err
		}
		c.err = io.EOF
		return 0, io.EOF
	}

	n := len(p)
	if int64(n) > c.remaining {
		n = int(c.remaining)
	}
	read, err := c.r.Read(p[:n])
	c.remaining -= int64(read)
	if err != nil {
		c.err = err
	}
	return read, err
}

func (c *chunkedReader) consumeCRLF() error {
	line, err := c.r.ReadSlice('\n')
	if err != nil {
		return errors.Wrap(err, "h1: read chunk trailing CRLF")
	}
	if !bytes.Equal(line, splitio.CharCRLF) {
		return errors.New("h1: malformed chunk trailing sequence")
	}
	return nil
}

func (c *chunkedReader) readChunkSize() error {
	line, err := c.r.ReadSlice('\n')
	if err != nil {
		return errors.Wrap(err, "h1: read chunk size line")
	}
	line = splitio.TrimCRLF(line)
	if idx := bytes.IndexByte(line, ';'); idx >= 0 {
		line = line[:idx] // drop chunk-ext
	}
	n, err := strconv.ParseUint(string(line), 16, 63)
	if err != nil {
		return errors.Wrap(err, "h1: invalid chunk size")
	}
	c.remaining = int64(n)
	return nil
}

func (c *chunkedReader) readTrailers() error {
	for {
		line, err := c.r.ReadSlice('\n')
		if err != nil {
			return errors.Wrap(err, "h1: read trailer line")
		}
		if bytes.Equal(line, splitio.CharCRLF) {
			return nil
		}
	}
}

// chunkedWriter encodes writes as chunked transfer-coding onto w, emitting
// the terminating zero-length chunk on Close.
type chunkedWriter struct {
	w io.Writer
}

func newChunkedWriter(w io.Writer) *chunkedWriter {
	return &chunkedWriter{w: w}
}

func (c *chunkedWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if _, err := io.WriteString(c.w, strconv.FormatInt(int64(len(p)), 16)); err != nil {
		return 0, err
	}
	if _, err := c.w.Write(splitio.CharCRLF); err != nil {
		return 0, err
	}
	if _, err := c.w.Write(p); err != nil {
		return 0, err
	}
	if _, err := c.w.Write(splitio.CharCRLF); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *chunkedWriter) Close() error {
	_, err := io.WriteString(c.w, "0\r\n\r\n")
	return err
}
