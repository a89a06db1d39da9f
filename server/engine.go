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

package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	multierror "github.com/hashicorp/go-multierror"

	"github.com/dicklesworthstone/fastgo/common"
	"github.com/dicklesworthstone/fastgo/h1"
	"github.com/dicklesworthstone/fastgo/h2"
	"github.com/dicklesworthstone/fastgo/httpmsg"
	"github.com/dicklesworthstone/fastgo/internal/pubsub"
	"github.com/dicklesworthstone/fastgo/internal/rescue"
	"github.com/dicklesworthstone/fastgo/logger"
	"github.com/dicklesworthstone/fastgo/metrics"
	"github.com/dicklesworthstone/fastgo/pipeline"
	"github.com/dicklesworthstone/fastgo/reqctx"
)

// Lifecycle event payloads published on Engine.Events, mirroring the
// teacher's own pubsub-as-event-bus usage in its controller package:
// any subscriber (the admin sidecar's /healthz, a supervisor process,
// a test) observes state transitions without polling Engine directly.
const (
	EventListening = "listening"
	EventDraining  = "draining"
	EventClosed    = "closed"
)

// h2Preface is the literal byte sequence §4.F/§4.C require a connection
// to open with for prior-knowledge HTTP/2: "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n".
var h2Preface = []byte("PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n")

// DefaultGraceBudget is how long Shutdown waits for in-flight requests
// to finish on their own before force-cancelling them and closing their
// sockets, per §4.F's "grace budget."
const DefaultGraceBudget = 10 * time.Second

// Engine is the HTTP application server core: the accept loop, per-
// connection protocol negotiation (H1 / H2 prior-knowledge / h2c
// upgrade), and graceful shutdown tying every connection's cancellation
// region back to one signal. It is the component the spec calls the
// "Server loop" (§4.F); server.AdminServer (server.go) remains the
// separate gorilla/mux-based admin/pprof sidecar.
type Engine struct {
	pipelineCfg *pipeline.Config
	h1Limits    h1.Limits
	h2Settings  h2.Settings
	graceBudget time.Duration
	maxConns    int

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]*reqctx.Context
	closing  bool

	wg sync.WaitGroup

	events *pubsub.PubSub
	state  atomic.Value
}

// EngineOption configures an Engine at construction time.
type EngineOption func(*Engine)

// WithH1Limits overrides the default HTTP/1.1 parser limits.
func WithH1Limits(l h1.Limits) EngineOption {
	return func(e *Engine) { e.h1Limits = l }
}

// WithH2Settings overrides the default HTTP/2 connection SETTINGS this
// server advertises.
func WithH2Settings(s h2.Settings) EngineOption {
	return func(e *Engine) { e.h2Settings = s }
}

// WithGraceBudget overrides DefaultGraceBudget.
func WithGraceBudget(d time.Duration) EngineOption {
	return func(e *Engine) { e.graceBudget = d }
}

// WithMaxConns overrides the concurrent-connection cap. Zero or negative
// disables the cap.
func WithMaxConns(n int) EngineOption {
	return func(e *Engine) { e.maxConns = n }
}

// NewEngine returns an Engine dispatching every accepted connection's
// requests through cfg.
func NewEngine(cfg *pipeline.Config, opts ...EngineOption) *Engine {
	e := &Engine{
		pipelineCfg: cfg,
		h1Limits:    h1.DefaultLimits,
		h2Settings:  h2.DefaultSettings,
		graceBudget: DefaultGraceBudget,
		maxConns:    common.Concurrency() * 256,
		conns:       make(map[net.Conn]*reqctx.Context),
		events:      pubsub.New(),
	}
	e.state.Store("idle")
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Events returns the engine's lifecycle event bus. Subscribers receive
// EventListening/EventDraining/EventClosed as Engine.Serve/Shutdown
// transition, in publish order, per subscriber queue.
func (e *Engine) Events() *pubsub.PubSub { return e.events }

// State returns the engine's current lifecycle state
// ("idle"/"listening"/"draining"/"closed") without blocking on the event
// bus, for a synchronous health-check handler.
func (e *Engine) State() string { return e.state.Load().(string) }

func (e *Engine) publish(state string) {
	e.state.Store(state)
	e.events.Publish(state)
}

// Serve runs the accept loop on l until Shutdown is called or Accept
// returns a fatal error. Each connection is served on its own goroutine
// within the engine's region: Shutdown cancels every connection's region
// without forcibly closing its socket until the grace budget expires.
func (e *Engine) Serve(l net.Listener) error {
	e.mu.Lock()
	e.listener = l
	e.mu.Unlock()
	e.publish(EventListening)

	for {
		conn, err := l.Accept()
		if err != nil {
			e.mu.Lock()
			closing := e.closing
			e.mu.Unlock()
			if closing {
				e.wg.Wait()
				return nil
			}
			return err
		}
		e.wg.Add(1)
		go e.serveConn(conn)
	}
}

func (e *Engine) serveConn(nc net.Conn) {
	defer e.wg.Done()

	connCtx := reqctx.New(context.Background(), "")
	e.mu.Lock()
	if e.closing || (e.maxConns > 0 && len(e.conns) >= e.maxConns) {
		e.mu.Unlock()
		_ = nc.Close()
		return
	}
	e.conns[nc] = connCtx
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.conns, nc)
		e.mu.Unlock()
		_ = nc.Close()
	}()

	defer func() {
		if r := recover(); r != nil {
			for _, fn := range rescue.PanicHandlers {
				fn(r)
			}
		}
	}()

	r := bufio.NewReaderSize(nc, common.ReadWriteBlockSize*4)
	peek, err := r.Peek(len(h2Preface))
	if err == nil && bytes.Equal(peek, h2Preface) {
		e.serveH2(nc, r, connCtx)
		return
	}

	e.serveH1(nc, r, connCtx)
}

func (e *Engine) scheme(nc net.Conn) string {
	if _, ok := nc.(interface{ ConnectionState() any }); ok {
		return "https"
	}
	return "http"
}

// serveH1 drives the request/response loop for one HTTP/1.1 connection:
// parse a request, dispatch it, write the response, and repeat while the
// connection stays keep-alive-eligible. An h2c upgrade request hands the
// remainder of the connection to serveH2 starting at the client's H2
// preface, per §4.F.
func (e *Engine) serveH1(nc net.Conn, r *bufio.Reader, connCtx *reqctx.Context) {
	metrics.ConnectionsActive.WithLabelValues("h1").Inc()
	defer metrics.ConnectionsActive.WithLabelValues("h1").Dec()

	w := bufio.NewWriter(nc)
	scheme := e.scheme(nc)

	for {
		if connCtx.IsCancelled() {
			return
		}

		req, err := h1.ParseRequest(r, e.h1Limits, scheme, nc.RemoteAddr().String())
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			resp := pipeline.ErrorToResponse(err)
			_ = h1.WriteResponse(w, resp, false)
			return
		}

		if isH2CUpgrade(req) {
			_ = writeSwitchingProtocols(w)
			e.serveH2(nc, r, connCtx)
			return
		}

		reqCtx := connCtx.Spawn("")
		resp := pipeline.Dispatch(reqCtx, req, e.pipelineCfg)
		if req.Method == httpmsg.MethodHead {
			resp.Body = nil
		}

		keepAlive := !connCtx.IsCancelled() && !wantsClose(req)
		if err := h1.WriteResponse(w, resp, keepAlive); err != nil {
			return
		}
		if !keepAlive {
			return
		}
	}
}

func wantsClose(req *httpmsg.Request) bool {
	v, ok := req.Header.Get("Connection")
	return ok && strings.EqualFold(strings.TrimSpace(v), "close")
}

func isH2CUpgrade(req *httpmsg.Request) bool {
	conn, ok := req.Header.Get("Connection")
	if !ok || !strings.Contains(strings.ToLower(conn), "upgrade") {
		return false
	}
	upgrade, ok := req.Header.Get("Upgrade")
	if !ok || !strings.EqualFold(strings.TrimSpace(upgrade), "h2c") {
		return false
	}
	_, ok = req.Header.Get("Http2-Settings")
	return ok
}

func writeSwitchingProtocols(w *bufio.Writer) error {
	if _, err := w.WriteString("HTTP/1.1 101 Switching Protocols\r\nConnection: Upgrade\r\nUpgrade: h2c\r\n\r\n"); err != nil {
		return err
	}
	return w.Flush()
}

func (e *Engine) serveH2(nc net.Conn, r *bufio.Reader, connCtx *reqctx.Context) {
	scheme := e.scheme(nc)
	handler := func(req *httpmsg.Request) *httpmsg.Response {
		req.Scheme = scheme
		reqCtx := connCtx.Spawn("")
		resp := pipeline.Dispatch(reqCtx, req, e.pipelineCfg)
		if req.Method == httpmsg.MethodHead {
			resp.Body = nil
		}
		return resp
	}

	conn := h2.NewConnFromReader(nc, r, e.h2Settings, handler)
	if err := conn.Serve(); err != nil {
		logger.Debugf("server: h2 connection from %s ended: %v", nc.RemoteAddr(), err)
	}
}

// Shutdown stops accepting new connections, cancels every in-flight
// connection's region, and waits up to the engine's grace budget for
// requests to finish on their own before force-closing remaining
// sockets, per §4.F/§5's grace-budget subdivision.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.publish(EventDraining)
	defer e.publish(EventClosed)

	e.mu.Lock()
	e.closing = true
	l := e.listener
	e.mu.Unlock()

	if l != nil {
		_ = l.Close()
	}

	e.mu.Lock()
	for _, c := range e.conns {
		c.Cancel(reqctx.CancelledError)
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	grace := e.graceBudget
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	case <-timer.C:
	}

	var merr *multierror.Error
	e.mu.Lock()
	for nc := range e.conns {
		if cerr := nc.Close(); cerr != nil {
			merr = multierror.Append(merr, cerr)
		}
	}
	e.mu.Unlock()

	<-done
	return merr.ErrorOrNil()
}
