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
	"bytes"
	"io"
	"sync"
	"time"

	"github.com/dicklesworthstone/fastgo/headers"
	"github.com/dicklesworthstone/fastgo/httpmsg"
	"github.com/dicklesworthstone/fastgo/internal/bufbytes"
)

// streamState is the RFC 7540 §5.1 stream lifecycle, restricted to the
// states a server-side implementation that doesn't push actually visits.
type streamState uint8

const (
	stateIdle streamState = iota
	stateOpen
	stateHalfClosedRemote // client has sent END_STREAM; server may still send
	stateHalfClosedLocal  // server has sent END_STREAM; client may still send
	stateClosed
)

// bodyPipe is an in-memory pipe DATA frames are written into as they
// arrive and a handler's httpmsg.Request.Body reads from, decoupling
// frame arrival from handler consumption without needing OS pipes.
type bodyPipe struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    bytes.Buffer
	closed bool
	err    error
}

func newBodyPipe() *bodyPipe {
	p := &bodyPipe{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *bodyPipe) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	n, _ := p.buf.Write(b)
	p.cond.Broadcast()
	return n, nil
}

func (p *bodyPipe) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.buf.Len() == 0 && !p.closed {
		p.cond.Wait()
	}
	if p.buf.Len() > 0 {
		return p.buf.Read(b)
	}
	if p.err != nil {
		return 0, p.err
	}
	return 0, io.EOF
}

func (p *bodyPipe) closeWithError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.err = err
	p.cond.Broadcast()
}

// stream is the per-stream state a Conn tracks between HEADERS and the
// final DATA/trailers frame.
type stream struct {
	id uint32

	// stateMu guards state: the connection's reader goroutine advances it
	// on received END_STREAM/RST_STREAM while the stream's handler
	// goroutine advances it when the response finishes.
	stateMu sync.Mutex
	state   streamState

	sendWindow *flowWindow
	recvWindow *flowWindow

	reqPseudo requestPseudo
	reqHeader *headers.Headers
	body      *bodyPipe

	// headerBlockBuf accumulates HEADERS + CONTINUATION fragments, capped
	// so unbounded CONTINUATION streams cannot exhaust memory.
	headerBlockBuf *bufbytes.Bytes
	endHeaders     bool
	startedAt      time.Time

	// declaredLen is the content-length header value, or -1 when absent;
	// dataReceived accumulates DATA payload bytes so the two can be
	// compared when END_STREAM arrives.
	declaredLen  int64
	dataReceived int64

	// remoteEndPending records an END_STREAM flag seen on a HEADERS frame
	// whose header block is still awaiting CONTINUATION frames; applied
	// once the block completes.
	remoteEndPending bool

	// refused marks a stream rejected for exceeding the concurrent-stream
	// cap. Its header block is still HPACK-decoded (the dynamic table must
	// stay synchronized) but no handler runs and the reply is RST_STREAM
	// with REFUSED_STREAM.
	refused bool

	// trailers marks that the next header block on this stream is a
	// trailer section, decoded for table sync and then discarded.
	trailers bool

	// responded is set once a HEADERS frame has been written for the
	// response, guarding against a handler writing twice.
	responded bool
}

func newStream(id uint32, initialSendWindow, initialRecvWindow uint32, headerBlockLimit int) *stream {
	return &stream{
		id:             id,
		state:          stateIdle,
		sendWindow:     newFlowWindow(initialSendWindow),
		recvWindow:     newFlowWindow(initialRecvWindow),
		body:           newBodyPipe(),
		headerBlockBuf: bufbytes.New(headerBlockLimit),
		declaredLen:    -1,
		startedAt:      time.Now(),
	}
}

// abort tears the stream down from the connection side: the handler's
// body read unblocks with err and any send blocked on the stream's flow
// window wakes up and fails.
func (s *stream) abort(err error) {
	s.body.closeWithError(err)
	s.sendWindow.close()
	s.setState(stateClosed)
}

func (s *stream) currentState() streamState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

func (s *stream) setState(st streamState) {
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()
}

// closeRemote applies a received END_STREAM: open becomes
// half-closed-remote, half-closed-local becomes closed. Returns true when
// the stream reached closed and should be retired.
func (s *stream) closeRemote() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	switch s.state {
	case stateOpen:
		s.state = stateHalfClosedRemote
		return false
	case stateHalfClosedLocal:
		s.state = stateClosed
		return true
	}
	return s.state == stateClosed
}

// closeLocal applies a sent END_STREAM: open becomes half-closed-local,
// half-closed-remote becomes closed. Returns true when the stream reached
// closed and should be retired.
func (s *stream) closeLocal() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	switch s.state {
	case stateOpen:
		s.state = stateHalfClosedLocal
		return false
	case stateHalfClosedRemote:
		s.state = stateClosed
		return true
	}
	return s.state == stateClosed
}

// toRequest builds the protocol-independent httpmsg.Request once headers
// are fully assembled, mirroring how the teacher's streamDecoder.archive
// built a *Request from accumulated HeaderFields — except here Method/
// Path/Authority feed a live request instead of an archived record.
func (s *stream) toRequest(remoteAddr string) *httpmsg.Request {
	scheme := s.reqPseudo.scheme
	if scheme == "" {
		scheme = "https"
	}
	return &httpmsg.Request{
		Method:     httpmsg.Method(s.reqPseudo.method),
		Path:       stripQuery(s.reqPseudo.path),
		RawQuery:   queryOf(s.reqPseudo.path),
		Proto:      "HTTP/2",
		Host:       s.reqPseudo.authority,
		Scheme:     scheme,
		Header:     s.reqHeader,
		Body:       httpmsg.Body{Reader: s.body, Len: s.declaredLen},
		RemoteAddr: remoteAddr,
		ReceivedAt: s.startedAt,
		StreamID:   s.id,
	}
}

func stripQuery(path string) string {
	for i := 0; i < len(path); i++ {
		if path[i] == '?' {
			return path[:i]
		}
	}
	return path
}

func queryOf(path string) string {
	for i := 0; i < len(path); i++ {
		if path[i] == '?' {
			return path[i+1:]
		}
	}
	return ""
}
