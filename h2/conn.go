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
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/valyala/bytebufferpool"

	"github.com/dicklesworthstone/fastgo/httpmsg"
	"github.com/dicklesworthstone/fastgo/internal/rescue"
	"github.com/dicklesworthstone/fastgo/logger"
	"github.com/dicklesworthstone/fastgo/metrics"
)

// Handler processes one fully-assembled request and returns the response
// to write back. It runs on its own goroutine per stream so a slow
// handler on one stream never blocks others multiplexed on the same
// connection.
type Handler func(req *httpmsg.Request) *httpmsg.Response

var framePool bytebufferpool.Pool

// Conn drives a single HTTP/2 connection: one reader goroutine parsing
// frames in arrival order and dispatching to per-stream handler
// goroutines, and a mutex-serialized write path every goroutine shares.
// Control frames (PING ACK, SETTINGS ACK, WINDOW_UPDATE) are written
// directly by the reader, so they never queue behind a stream's DATA;
// DATA writes block per stream on flow-control windows without holding
// the write lock while parked.
type Conn struct {
	nc      net.Conn
	r       *bufio.Reader
	handler Handler
	local   Settings // our own advertised settings
	peer    Settings // peer's negotiated settings (as modified by their SETTINGS frames)

	writeMu sync.Mutex

	streamsMu sync.Mutex
	streams   map[uint32]*stream

	// lastStreamID is the highest stream id the peer has opened with a
	// HEADERS frame; ids at or below it are either active or retired, ids
	// above it are idle. Only the reader goroutine writes it.
	lastStreamID uint32

	// continuationStream is nonzero while a header block on that stream
	// is split across CONTINUATION frames; any other frame arriving in
	// between is a connection error.
	continuationStream uint32

	connSendWindow *flowWindow
	connRecvWindow *flowWindow

	hpackCodec *hpackCodec
	wg         sync.WaitGroup

	goneAway bool
}

// NewConn wraps nc as an HTTP/2 server connection using local as this
// server's advertised SETTINGS.
func NewConn(nc net.Conn, local Settings, handler Handler) *Conn {
	return NewConnFromReader(nc, bufio.NewReaderSize(nc, 64*1024), local, handler)
}

// NewConnFromReader wraps nc as an HTTP/2 server connection, reading
// through r instead of a fresh buffer. Use this when the caller already
// peeked the connection preface off nc through r while sniffing the
// protocol (e.g. server.Engine distinguishing prior-knowledge H2 from
// HTTP/1.1), so bytes buffered ahead of the peek are not lost.
func NewConnFromReader(nc net.Conn, r *bufio.Reader, local Settings, handler Handler) *Conn {
	return &Conn{
		nc:             nc,
		r:              r,
		handler:        handler,
		local:          local,
		peer:           DefaultSettings,
		streams:        make(map[uint32]*stream),
		connSendWindow: newFlowWindow(DefaultSettings.InitialWindowSize),
		connRecvWindow: newFlowWindow(local.InitialWindowSize),
		hpackCodec:     newHPACKCodec(local.HeaderTableSize),
	}
}

// Serve performs the connection preface handshake, sends the initial
// SETTINGS frame, then loops reading and dispatching frames until the
// connection ends or a fatal connection error occurs. Stream errors send
// RST_STREAM and keep the loop alive; connection errors send GOAWAY and
// return.
func (c *Conn) Serve() error {
	defer func() {
		c.connSendWindow.close()
		c.streamsMu.Lock()
		for _, s := range c.streams {
			s.abort(io.ErrClosedPipe)
		}
		c.streamsMu.Unlock()
		c.wg.Wait()
		c.hpackCodec.release()
	}()

	metrics.ConnectionsActive.WithLabelValues("h2").Inc()
	defer metrics.ConnectionsActive.WithLabelValues("h2").Dec()

	if err := c.readPreface(); err != nil {
		return err
	}
	if err := c.writeSettings(c.local); err != nil {
		return err
	}

	for {
		err := c.readFrame()
		if err == nil {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if se, ok := err.(*streamError); ok {
			logger.Warnf("h2: stream %d error from %s: %v", se.streamID, c.nc.RemoteAddr(), se.cause)
			if werr := c.resetStream(se.streamID, se.code); werr != nil {
				return werr
			}
			continue
		}
		if ce, ok := err.(*connError); ok {
			logger.Warnf("h2: connection error from %s: %v", c.nc.RemoteAddr(), ce.cause)
			_ = c.writeGoAway(ce.code, ce.cause)
			metrics.GoAwaysTotal.WithLabelValues(ce.code.String()).Inc()
			return ce
		}
		return err
	}
}

func (c *Conn) readPreface() error {
	buf := make([]byte, len(connPreface))
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return newError("read connection preface: %v", err)
	}
	for i := range buf {
		if buf[i] != connPreface[i] {
			return &connError{code: errCodeProtocolError, cause: newError("bad connection preface")}
		}
	}
	return nil
}

func (c *Conn) readFrame() error {
	hdrBuf := make([]byte, frameHeaderLen)
	if _, err := io.ReadFull(c.r, hdrBuf); err != nil {
		return err
	}
	fh, err := decodeFrameHeader(hdrBuf)
	if err != nil {
		return &connError{code: errCodeProtocolError, cause: err}
	}
	if fh.length > c.local.MaxFrameSize {
		return &connError{code: errCodeFrameSizeError, cause: newError("frame of %d bytes exceeds SETTINGS_MAX_FRAME_SIZE", fh.length)}
	}

	payload := framePool.Get()
	defer framePool.Put(payload)
	payload.Reset()
	if _, err := io.CopyN(payload, c.r, int64(fh.length)); err != nil {
		return newError("read frame payload: %v", err)
	}
	body := payload.Bytes()

	// an in-progress header block admits nothing but its own
	// CONTINUATION frames, per RFC 7540 §6.10.
	if c.continuationStream != 0 && (fh.typ != frameContinuation || fh.streamID != c.continuationStream) {
		return &connError{code: errCodeProtocolError, cause: newError("frame type %d on stream %d interleaved into header block of stream %d", fh.typ, fh.streamID, c.continuationStream)}
	}

	switch fh.typ {
	case frameData:
		return c.handleData(fh, body)
	case frameHeaders:
		return c.handleHeaders(fh, body)
	case frameContinuation:
		return c.handleContinuation(fh, body)
	case framePriority:
		return c.handlePriority(fh, body)
	case frameRSTStream:
		return c.handleRSTStream(fh, body)
	case frameSettings:
		return c.handleSettings(fh, body)
	case framePushPromise:
		return &connError{code: errCodeProtocolError, cause: newError("server received PUSH_PROMISE")}
	case framePing:
		return c.handlePing(fh, body)
	case frameGoAway:
		c.goneAway = true
		return nil
	case frameWindowUpdate:
		return c.handleWindowUpdate(fh, body)
	default:
		return nil // unknown frame types are ignored per RFC 7540 §4.1
	}
}

func (c *Conn) getStream(id uint32) (*stream, bool) {
	c.streamsMu.Lock()
	defer c.streamsMu.Unlock()
	s, ok := c.streams[id]
	return s, ok
}

func (c *Conn) deleteStream(id uint32) {
	c.streamsMu.Lock()
	if _, ok := c.streams[id]; ok {
		delete(c.streams, id)
		metrics.StreamsActive.Dec()
	}
	c.streamsMu.Unlock()
}

// resetStream aborts one stream with RST_STREAM without touching the
// rest of the connection.
func (c *Conn) resetStream(id uint32, code errorCode) error {
	if s, ok := c.getStream(id); ok {
		s.abort(io.ErrClosedPipe)
		c.deleteStream(id)
	}
	return c.writeRSTStream(id, code)
}

func (c *Conn) activeStreamCount() int {
	c.streamsMu.Lock()
	defer c.streamsMu.Unlock()
	return len(c.streams)
}

func (c *Conn) handleHeaders(fh frameHeader, b []byte) error {
	if fh.streamID == 0 {
		return &connError{code: errCodeProtocolError, cause: newError("HEADERS on stream 0")}
	}
	if fh.streamID%2 == 0 {
		return &connError{code: errCodeProtocolError, cause: newError("client-initiated stream id %d is even", fh.streamID)}
	}

	if fh.flags&flagPadded != 0 {
		if len(b) < 1 {
			return &connError{code: errCodeProtocolError, cause: newError("invalid padding")}
		}
		padLen := int(b[0])
		b = b[1:]
		if padLen > len(b) {
			return &connError{code: errCodeProtocolError, cause: newError("invalid padding length")}
		}
		b = b[:len(b)-padLen]
	}
	if fh.flags&flagPriority != 0 {
		if len(b) < 5 {
			return &connError{code: errCodeFrameSizeError, cause: newError("short priority fields")}
		}
		b = b[5:]
	}

	s, exists := c.getStream(fh.streamID)
	switch {
	case exists && s.endHeaders:
		// a second header block on an open stream is a trailer section;
		// it must end the stream, per RFC 7540 §8.1.
		if st := s.currentState(); st == stateHalfClosedRemote || st == stateClosed {
			return &streamError{streamID: fh.streamID, code: errCodeStreamClosed, cause: newError("HEADERS after END_STREAM")}
		}
		if fh.flags&flagEndStream == 0 {
			return &connError{code: errCodeProtocolError, cause: newError("trailers without END_STREAM on stream %d", fh.streamID)}
		}
		s.trailers = true

	case exists:
		return &connError{code: errCodeProtocolError, cause: newError("repeated HEADERS for stream %d before END_HEADERS", fh.streamID)}

	default:
		if fh.streamID <= c.lastStreamID {
			return &connError{code: errCodeProtocolError, cause: newError("stream id %d not greater than last-opened %d", fh.streamID, c.lastStreamID)}
		}
		c.lastStreamID = fh.streamID
		if c.goneAway {
			// the peer said it is going away; opening a new stream for it
			// would waste a handler, so refuse without erroring.
			return c.writeRSTStream(fh.streamID, errCodeRefusedStream)
		}
		s = newStream(fh.streamID, c.peer.InitialWindowSize, c.local.InitialWindowSize, c.headerBlockLimit())
		s.setState(stateOpen)
		if c.activeStreamCount() >= int(c.local.MaxConcurrentStreams) {
			// refused streams still get their header block decoded below:
			// the HPACK dynamic table is shared connection state and must
			// see every block.
			s.refused = true
		}
		c.streamsMu.Lock()
		c.streams[fh.streamID] = s
		c.streamsMu.Unlock()
		metrics.StreamsActive.Inc()
	}

	// the block cannot be skipped without desynchronizing the HPACK
	// table, so an absurdly large one ends the connection.
	if err := s.headerBlockBuf.Write(b); err != nil {
		return &connError{code: errCodeEnhanceYourCalm, cause: newError("header block exceeds %d bytes", c.headerBlockLimit())}
	}
	if fh.flags&flagEndStream != 0 {
		s.remoteEndPending = true
	}

	if fh.flags&flagEndHeaders == 0 {
		c.continuationStream = fh.streamID
		return nil
	}
	return c.finishHeaderBlock(s)
}

// headerBlockLimit bounds the raw accumulated header block at twice the
// advertised SETTINGS_MAX_HEADER_LIST_SIZE (the raw HPACK bytes can run
// a little past the decoded list size that setting describes).
func (c *Conn) headerBlockLimit() int {
	return int(c.local.MaxHeaderListSize) * 2
}

func (c *Conn) handleContinuation(fh frameHeader, b []byte) error {
	if c.continuationStream == 0 || fh.streamID != c.continuationStream {
		return &connError{code: errCodeProtocolError, cause: newError("CONTINUATION without preceding HEADERS on stream %d", fh.streamID)}
	}
	s, ok := c.getStream(fh.streamID)
	if !ok {
		return &connError{code: errCodeProtocolError, cause: newError("CONTINUATION on unknown stream")}
	}
	if err := s.headerBlockBuf.Write(b); err != nil {
		return &connError{code: errCodeEnhanceYourCalm, cause: newError("header block exceeds %d bytes", c.headerBlockLimit())}
	}
	if fh.flags&flagEndHeaders == 0 {
		return nil
	}
	c.continuationStream = 0
	return c.finishHeaderBlock(s)
}

// finishHeaderBlock decodes a completed header block and either
// dispatches the request handler (initial headers), discards it
// (trailers), or refuses the stream (concurrency cap).
func (c *Conn) finishHeaderBlock(s *stream) error {
	c.continuationStream = 0
	block := s.headerBlockBuf.Bytes()
	defer s.headerBlockBuf.Reset()

	if s.trailers {
		if err := c.hpackCodec.decodeAndDiscard(block); err != nil {
			return &connError{code: errCodeCompressionError, cause: err}
		}
		if s.remoteEndPending {
			c.endStreamFromClient(s)
		}
		return nil
	}

	pseudo, hdr, err := c.hpackCodec.decodeRequestHeaders(block, c.local.MaxHeaderListSize)
	if err != nil {
		if me, ok := err.(*malformedError); ok {
			return &streamError{streamID: s.id, code: errCodeProtocolError, cause: me}
		}
		return &connError{code: errCodeCompressionError, cause: err}
	}
	if err := pseudo.validate(); err != nil {
		return &streamError{streamID: s.id, code: errCodeProtocolError, cause: err}
	}

	if s.refused {
		s.abort(io.ErrClosedPipe)
		c.deleteStream(s.id)
		return c.writeRSTStream(s.id, errCodeRefusedStream)
	}

	s.reqPseudo = pseudo
	s.reqHeader = hdr
	s.endHeaders = true
	if cl, ok := hdr.Get("content-length"); ok {
		n, perr := strconv.ParseInt(cl, 10, 63)
		if perr != nil || n < 0 {
			return &streamError{streamID: s.id, code: errCodeProtocolError, cause: newError("invalid content-length %q", cl)}
		}
		s.declaredLen = n
	}

	endNow := s.remoteEndPending
	s.remoteEndPending = false
	if endNow {
		if s.declaredLen > 0 {
			return &streamError{streamID: s.id, code: errCodeProtocolError, cause: newError("content-length %d with END_STREAM and no DATA", s.declaredLen)}
		}
		c.endStreamFromClient(s)
	}

	c.wg.Add(1)
	go c.runHandler(s)
	return nil
}

func (c *Conn) runHandler(s *stream) {
	defer c.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			for _, fn := range rescue.PanicHandlers {
				fn(r)
			}
			_ = c.writeRSTStream(s.id, errCodeInternalError)
		}
	}()

	req := s.toRequest(c.nc.RemoteAddr().String())
	resp := c.handler(req)
	if resp == nil {
		resp = httpmsg.NewResponse()
		resp.StatusCode = 500
	}
	if err := c.writeResponse(s, resp); err != nil {
		logger.Warnf("h2: write response stream %d: %v", s.id, err)
	}
}

func (c *Conn) endStreamFromClient(s *stream) {
	s.body.closeWithError(io.EOF)
	if s.closeRemote() {
		c.deleteStream(s.id)
	}
}

func (c *Conn) handleData(fh frameHeader, b []byte) error {
	if fh.streamID == 0 {
		return &connError{code: errCodeProtocolError, cause: newError("DATA on stream 0")}
	}
	s, ok := c.getStream(fh.streamID)
	if !ok {
		if fh.streamID > c.lastStreamID {
			return &connError{code: errCodeProtocolError, cause: newError("DATA on idle stream %d", fh.streamID)}
		}
		// the stream existed once and is now retired.
		return &streamError{streamID: fh.streamID, code: errCodeStreamClosed, cause: newError("DATA on closed stream %d", fh.streamID)}
	}
	if st := s.currentState(); st == stateHalfClosedRemote || st == stateClosed {
		return &streamError{streamID: fh.streamID, code: errCodeStreamClosed, cause: newError("DATA after END_STREAM")}
	}

	payload := b
	if fh.flags&flagPadded != 0 {
		if len(payload) < 1 {
			return &connError{code: errCodeProtocolError, cause: newError("invalid padding")}
		}
		padLen := int(payload[0])
		payload = payload[1:]
		if padLen > len(payload) {
			return &connError{code: errCodeProtocolError, cause: newError("invalid padding length")}
		}
		payload = payload[:len(payload)-padLen]
	}

	// the whole frame, padding included, counts against flow control.
	n := uint32(len(b))
	if !s.recvWindow.consume(n) {
		return &streamError{streamID: fh.streamID, code: errCodeFlowControlError, cause: newError("DATA overruns stream receive window")}
	}
	if !c.connRecvWindow.consume(n) {
		return &connError{code: errCodeFlowControlError, cause: newError("DATA overruns connection receive window")}
	}

	s.dataReceived += int64(len(payload))
	if s.declaredLen >= 0 && s.dataReceived > s.declaredLen {
		return &streamError{streamID: fh.streamID, code: errCodeProtocolError, cause: newError("DATA exceeds declared content-length")}
	}
	_, _ = s.body.Write(payload)

	// replenish both windows as soon as the bytes are buffered; a simple
	// auto-tuning-free policy that always tops back up to the configured
	// initial size, keeping the peer from stalling on a slow handler.
	if n > 0 {
		if err := s.recvWindow.increase(n); err == nil {
			_ = c.writeWindowUpdate(fh.streamID, n)
		}
		if err := c.connRecvWindow.increase(n); err == nil {
			_ = c.writeWindowUpdate(0, n)
		}
	}

	if fh.flags&flagEndStream != 0 {
		if s.declaredLen >= 0 && s.dataReceived != s.declaredLen {
			return &streamError{streamID: fh.streamID, code: errCodeProtocolError, cause: newError("content-length %d but %d DATA bytes received", s.declaredLen, s.dataReceived)}
		}
		c.endStreamFromClient(s)
	}
	return nil
}

func (c *Conn) handlePriority(fh frameHeader, b []byte) error {
	if fh.streamID == 0 {
		return &connError{code: errCodeProtocolError, cause: newError("PRIORITY on stream 0")}
	}
	if len(b) != 5 {
		return &streamError{streamID: fh.streamID, code: errCodeFrameSizeError, cause: newError("PRIORITY payload must be 5 bytes")}
	}
	return nil // priority is advisory; no scheduling differentiation implemented
}

func (c *Conn) handleRSTStream(fh frameHeader, b []byte) error {
	if fh.streamID == 0 {
		return &connError{code: errCodeProtocolError, cause: newError("RST_STREAM on stream 0")}
	}
	if len(b) != 4 {
		return &connError{code: errCodeFrameSizeError, cause: newError("RST_STREAM payload must be 4 bytes")}
	}
	if fh.streamID > c.lastStreamID {
		return &connError{code: errCodeProtocolError, cause: newError("RST_STREAM on idle stream %d", fh.streamID)}
	}
	s, ok := c.getStream(fh.streamID)
	if !ok {
		return nil
	}
	s.abort(io.ErrClosedPipe)
	c.deleteStream(fh.streamID)
	return nil
}

func (c *Conn) handleSettings(fh frameHeader, b []byte) error {
	if fh.streamID != 0 {
		return &connError{code: errCodeProtocolError, cause: newError("SETTINGS on stream %d", fh.streamID)}
	}
	if fh.flags&flagAck != 0 {
		if len(b) != 0 {
			return &connError{code: errCodeFrameSizeError, cause: newError("SETTINGS ACK with payload")}
		}
		return nil
	}
	if len(b)%6 != 0 {
		return &connError{code: errCodeFrameSizeError, cause: newError("SETTINGS payload not a multiple of 6 bytes")}
	}
	updated, code, err := decodeSettingsPayload(c.peer, b)
	if err != nil {
		return &connError{code: code, cause: err}
	}

	delta := int64(updated.InitialWindowSize) - int64(c.peer.InitialWindowSize)
	if updated.HeaderTableSize != c.peer.HeaderTableSize {
		c.hpackCodec.setPeerTableSize(updated.HeaderTableSize)
	}
	c.peer = updated
	if delta != 0 {
		c.streamsMu.Lock()
		for _, s := range c.streams {
			if err := s.sendWindow.adjust(delta); err != nil {
				c.streamsMu.Unlock()
				return &connError{code: errCodeFlowControlError, cause: err}
			}
		}
		c.streamsMu.Unlock()
	}

	return c.writeSettingsAck()
}

func (c *Conn) handlePing(fh frameHeader, b []byte) error {
	if fh.streamID != 0 {
		return &connError{code: errCodeProtocolError, cause: newError("PING on stream %d", fh.streamID)}
	}
	if len(b) != 8 {
		return &connError{code: errCodeFrameSizeError, cause: newError("PING payload must be 8 bytes")}
	}
	if fh.flags&flagAck != 0 {
		return nil
	}
	return c.writeFrame(frameHeader{typ: framePing, flags: flagAck}, b)
}

func (c *Conn) handleWindowUpdate(fh frameHeader, b []byte) error {
	if len(b) != 4 {
		return &connError{code: errCodeFrameSizeError, cause: newError("WINDOW_UPDATE payload must be 4 bytes")}
	}
	inc := binary.BigEndian.Uint32(b) & streamIDMask

	if fh.streamID == 0 {
		if inc == 0 {
			return &connError{code: errCodeProtocolError, cause: newError("zero-length window increment on connection")}
		}
		if err := c.connSendWindow.increase(inc); err != nil {
			return &connError{code: errCodeFlowControlError, cause: err}
		}
		return nil
	}
	if inc == 0 {
		return &streamError{streamID: fh.streamID, code: errCodeProtocolError, cause: newError("zero-length window increment")}
	}
	s, ok := c.getStream(fh.streamID)
	if !ok {
		// WINDOW_UPDATE may legitimately race the retirement of a stream
		// we just finished; ignore.
		return nil
	}
	if err := s.sendWindow.increase(inc); err != nil {
		// a flow-control violation only terminates the offending stream,
		// per RFC 7540 §6.9.1, not the whole connection.
		return &streamError{streamID: fh.streamID, code: errCodeFlowControlError, cause: err}
	}
	return nil
}
