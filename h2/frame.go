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

// Package h2 implements an active server-side HTTP/2 engine: frame
// codec, HPACK header compression, per-stream and per-connection flow
// control, and the stream lifecycle state machine.
package h2

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

func newError(format string, args ...any) error {
	return errors.Errorf("h2: "+format, args...)
}

// HTTP/2 frame types, per RFC 7540 §6.
const (
	frameData         uint8 = 0x0
	frameHeaders      uint8 = 0x1
	framePriority     uint8 = 0x2
	frameRSTStream    uint8 = 0x3
	frameSettings     uint8 = 0x4
	framePushPromise  uint8 = 0x5
	framePing         uint8 = 0x6
	frameGoAway       uint8 = 0x7
	frameWindowUpdate uint8 = 0x8
	frameContinuation uint8 = 0x9
)

// Frame flags, per RFC 7540 §6.
const (
	flagEndStream  uint8 = 0x1
	flagAck        uint8 = 0x1 // SETTINGS/PING ack, same bit position as END_STREAM
	flagEndHeaders uint8 = 0x4
	flagPadded     uint8 = 0x8
	flagPriority   uint8 = 0x20
)

const (
	// frameHeaderLen is the fixed 9-byte frame header length.
	frameHeaderLen = 9

	// defaultMaxFrameSize is the RFC 7540 default (and minimum legal
	// value) for SETTINGS_MAX_FRAME_SIZE.
	defaultMaxFrameSize = 1 << 14

	streamIDMask = 0x7fffffff
)

// connPreface is the fixed client connection preface every HTTP/2
// connection must begin with, per RFC 7540 §3.5.
var connPreface = []byte("PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n")

// frameHeader is the parsed 9-byte frame prefix.
//
//	+-----------------------------------------------+
//	|                 Length (24)                    |
//	+---------------+---------------+---------------+
//	|   Type (8)    |   Flags (8)   |
//	+-+-------------+---------------+-------------------------------+
//	|R|                 Stream Identifier (31)                      |
//	+-+-------------------------------------------------------------+
//	|                   Frame Payload (0...)                       ...
//	+---------------------------------------------------------------+
type frameHeader struct {
	length   uint32
	typ      uint8
	flags    uint8
	streamID uint32
}

func decodeFrameHeader(b []byte) (frameHeader, error) {
	if len(b) < frameHeaderLen {
		return frameHeader{}, newError("short frame header (%d bytes)", len(b))
	}
	length := uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	return frameHeader{
		length:   length,
		typ:      b[3],
		flags:    b[4],
		streamID: binary.BigEndian.Uint32(b[5:9]) & streamIDMask,
	}, nil
}

func encodeFrameHeader(dst []byte, h frameHeader) {
	dst[0] = byte(h.length >> 16)
	dst[1] = byte(h.length >> 8)
	dst[2] = byte(h.length)
	dst[3] = h.typ
	dst[4] = h.flags
	binary.BigEndian.PutUint32(dst[5:9], h.streamID&streamIDMask)
}

// errorCode is an HTTP/2 error code used in RST_STREAM and GOAWAY frames,
// per RFC 7540 §7.
type errorCode uint32

const (
	errCodeNoError            errorCode = 0x0
	errCodeProtocolError      errorCode = 0x1
	errCodeInternalError      errorCode = 0x2
	errCodeFlowControlError   errorCode = 0x3
	errCodeSettingsTimeout    errorCode = 0x4
	errCodeStreamClosed       errorCode = 0x5
	errCodeFrameSizeError     errorCode = 0x6
	errCodeRefusedStream      errorCode = 0x7
	errCodeCancel             errorCode = 0x8
	errCodeCompressionError   errorCode = 0x9
	errCodeConnectError       errorCode = 0xa
	errCodeEnhanceYourCalm    errorCode = 0xb
	errCodeInadequateSecurity errorCode = 0xc
	errCodeHTTP11Required     errorCode = 0xd
)

func (e errorCode) String() string {
	names := map[errorCode]string{
		errCodeNoError:            "NO_ERROR",
		errCodeProtocolError:      "PROTOCOL_ERROR",
		errCodeInternalError:      "INTERNAL_ERROR",
		errCodeFlowControlError:   "FLOW_CONTROL_ERROR",
		errCodeSettingsTimeout:    "SETTINGS_TIMEOUT",
		errCodeStreamClosed:       "STREAM_CLOSED",
		errCodeFrameSizeError:     "FRAME_SIZE_ERROR",
		errCodeRefusedStream:      "REFUSED_STREAM",
		errCodeCancel:             "CANCEL",
		errCodeCompressionError:   "COMPRESSION_ERROR",
		errCodeConnectError:       "CONNECT_ERROR",
		errCodeEnhanceYourCalm:    "ENHANCE_YOUR_CALM",
		errCodeInadequateSecurity: "INADEQUATE_SECURITY",
		errCodeHTTP11Required:     "HTTP_1_1_REQUIRED",
	}
	if s, ok := names[e]; ok {
		return s
	}
	return "UNKNOWN"
}

// streamError aborts a single stream with RST_STREAM; connError aborts
// the whole connection with GOAWAY.
type streamError struct {
	streamID uint32
	code     errorCode
	cause    error
}

func (e *streamError) Error() string {
	return newError("stream %d error %s: %v", e.streamID, e.code, e.cause).Error()
}

type connError struct {
	code  errorCode
	cause error
}

func (e *connError) Error() string {
	return newError("connection error %s: %v", e.code, e.cause).Error()
}
