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
	"encoding/binary"
	"io"

	"github.com/dicklesworthstone/fastgo/headers"
	"github.com/dicklesworthstone/fastgo/httpmsg"
)

// writeFrame serializes h's header followed by payload and writes it as a
// single atomic unit. Every frame write on a Conn funnels through here
// (or writeHeadersFrame) so concurrent stream-handler goroutines never
// interleave partial frames on the wire. The write lock is only held for
// the duration of the write itself, never while a sender is parked on a
// flow-control window, so one stalled stream cannot block another
// stream's frames or the reader's control-frame ACKs.
func (c *Conn) writeFrame(h frameHeader, payload []byte) error {
	h.length = uint32(len(payload))
	buf := make([]byte, frameHeaderLen+len(payload))
	encodeFrameHeader(buf, h)
	copy(buf[frameHeaderLen:], payload)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.nc.Write(buf)
	return err
}

// writeHeadersFrame HPACK-encodes and writes a response HEADERS frame
// under the write lock as one unit: the encoder's dynamic-table
// mutations must reach the peer in exactly the order they were applied,
// so encoding cannot be allowed to race another stream's header write.
func (c *Conn) writeHeadersFrame(streamID uint32, status int, h *headers.Headers, flags uint8) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	block := c.hpackCodec.encodeResponseHeaders(status, h)
	buf := make([]byte, frameHeaderLen+len(block))
	encodeFrameHeader(buf, frameHeader{
		length:   uint32(len(block)),
		typ:      frameHeaders,
		flags:    flags,
		streamID: streamID,
	})
	copy(buf[frameHeaderLen:], block)
	_, err := c.nc.Write(buf)
	return err
}

func (c *Conn) writeSettings(s Settings) error {
	return c.writeFrame(frameHeader{typ: frameSettings}, encodeSettingsPayload(s))
}

func (c *Conn) writeSettingsAck() error {
	return c.writeFrame(frameHeader{typ: frameSettings, flags: flagAck}, nil)
}

func (c *Conn) writeGoAway(code errorCode, cause error) error {
	payload := make([]byte, 8)
	binary.BigEndian.PutUint32(payload[0:4], c.lastStreamID&streamIDMask)
	binary.BigEndian.PutUint32(payload[4:8], uint32(code))
	_ = cause
	return c.writeFrame(frameHeader{typ: frameGoAway}, payload)
}

func (c *Conn) writeRSTStream(streamID uint32, code errorCode) error {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(code))
	return c.writeFrame(frameHeader{typ: frameRSTStream, streamID: streamID}, payload)
}

func (c *Conn) writeWindowUpdate(streamID uint32, increment uint32) error {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, increment&streamIDMask)
	return c.writeFrame(frameHeader{typ: frameWindowUpdate, streamID: streamID}, payload)
}

// writeResponse encodes resp as a HEADERS frame (HPACK-compressed)
// followed by zero or more DATA frames, chunked to respect both the
// peer's SETTINGS_MAX_FRAME_SIZE and the stream/connection flow-control
// windows.
func (c *Conn) writeResponse(s *stream, resp *httpmsg.Response) error {
	if s.responded {
		return newError("stream %d already responded", s.id)
	}
	s.responded = true

	if resp.Header == nil {
		resp.Header = headers.New()
	}
	hasBody := resp.Body != nil
	headersFlags := flagEndHeaders
	if !hasBody {
		headersFlags |= flagEndStream
	}
	if err := c.writeHeadersFrame(s.id, resp.StatusCode, resp.Header, headersFlags); err != nil {
		return err
	}
	c.advanceLocalState(s, !hasBody)

	if !hasBody {
		return nil
	}
	return c.writeBody(s, resp.Body)
}

func (c *Conn) writeBody(s *stream, body io.Reader) error {
	maxFrame := int(c.peer.MaxFrameSize)
	if maxFrame <= 0 {
		maxFrame = defaultMaxFrameSize
	}
	buf := make([]byte, maxFrame)

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if err := c.writeDataChunk(s, buf[:n], false); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			if err := c.writeDataChunk(s, nil, true); err != nil {
				return err
			}
			c.advanceLocalState(s, true)
			return nil
		}
		if readErr != nil {
			_ = c.resetStream(s.id, errCodeInternalError)
			return readErr
		}
	}
}

// writeDataChunk pages b out as DATA frames, blocking per RFC 7540 §6.9
// whenever the stream or connection send window is empty until the peer's
// WINDOW_UPDATE refills it. Blocking happens on the windows themselves,
// outside the write lock, so only this stream's emission pauses.
func (c *Conn) writeDataChunk(s *stream, b []byte, endStream bool) error {
	if len(b) == 0 {
		if !endStream {
			return nil
		}
		return c.writeFrame(frameHeader{typ: frameData, flags: flagEndStream, streamID: s.id}, nil)
	}
	for len(b) > 0 {
		granted, err := s.sendWindow.tryConsume(int64(len(b)))
		if err != nil {
			return err
		}
		n, err := c.connSendWindow.tryConsume(granted)
		if err != nil {
			return err
		}
		if n < granted {
			s.sendWindow.refund(granted - n)
		}
		flags := uint8(0)
		if endStream && n == int64(len(b)) {
			flags |= flagEndStream
		}
		if err := c.writeFrame(frameHeader{typ: frameData, flags: flags, streamID: s.id}, b[:n]); err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func (c *Conn) advanceLocalState(s *stream, endStream bool) {
	if !endStream {
		return
	}
	if s.closeLocal() {
		c.deleteStream(s.id)
	}
}
