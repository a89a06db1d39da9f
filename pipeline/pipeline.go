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

// Package pipeline wires together everything that happens between "the
// codec produced a Request" and "the codec has a Response to serialize":
// the middleware chain, route lookup, dependency resolution, handler
// invocation, and the error/result-to-Response mapping. The teacher's own
// pipeline.go ran a Config-driven, named-stage chain over a passive
// telemetry Record; the shape survives here (an ordered chain built once
// at startup and Ranged over per item) even though the payload and the
// stages are entirely different.
package pipeline

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dicklesworthstone/fastgo/dependency"
	"github.com/dicklesworthstone/fastgo/herror"
	"github.com/dicklesworthstone/fastgo/httpmsg"
	"github.com/dicklesworthstone/fastgo/logger"
	"github.com/dicklesworthstone/fastgo/metrics"
	"github.com/dicklesworthstone/fastgo/reqctx"
	"github.com/dicklesworthstone/fastgo/router"
)

// Next is the uniform, type-erased request handler contract every
// middleware layer and every route handler is ultimately boxed into, per
// SPEC_FULL.md §9's "dynamic dispatch over handler types" strategy.
type Next func(ctx *reqctx.Context, req *httpmsg.Request) (*httpmsg.Response, error)

// Middleware wraps Next. A middleware may short-circuit by returning a
// Response without calling next, and may observe or rewrite the Response
// next returns. Middlewares must propagate a Cancelled outcome from next
// unchanged rather than swallowing it.
type Middleware func(ctx *reqctx.Context, req *httpmsg.Request, next Next) (*httpmsg.Response, error)

// Chain is an ordered sequence of middleware layers, outermost first.
type Chain struct {
	mws []Middleware
}

// NewChain returns a Chain running mws in the given order, outermost
// first (the first layer sees the request before any other, and sees
// the final Response last).
func NewChain(mws ...Middleware) *Chain {
	return &Chain{mws: append([]Middleware(nil), mws...)}
}

// Use appends mw as the new innermost layer.
func (c *Chain) Use(mw Middleware) *Chain {
	c.mws = append(c.mws, mw)
	return c
}

// Then composes the chain around terminal, returning a single Next that
// runs every layer in registration order before finally invoking
// terminal (route dispatch, in practice).
func (c *Chain) Then(terminal Next) Next {
	next := terminal
	for i := len(c.mws) - 1; i >= 0; i-- {
		mw := c.mws[i]
		downstream := next
		next = func(ctx *reqctx.Context, req *httpmsg.Request) (*httpmsg.Response, error) {
			return mw(ctx, req, downstream)
		}
	}
	return next
}

// DependencyFunc is a route- or app-level dependency that must run
// before the handler, independent of whether the handler itself resolves
// anything by type via dependency.Resolve. Used for auth/rate-limit/
// transaction-style dependencies that gate the handler rather than feed
// it a value.
type DependencyFunc func(ctx *reqctx.Context, res *dependency.Resolution) error

// Config bundles everything Dispatch needs to resolve and run one
// request: the built (immutable) router, the global middleware chain,
// the dependency registry/overrides, and the per-route dependency lists
// keyed by router.Match.RouteID (route-level dependencies aren't part of
// the trie itself, only the handler is).
type Config struct {
	Router     *router.Router
	Chain      *Chain
	Registry   *dependency.Registry
	Overrides  *dependency.Overrides
	GlobalDeps []DependencyFunc
	RouteDeps  map[int][]DependencyFunc
	Tracer     trace.Tracer

	// BodyLimit is the app-default request body size cap in bytes; 0
	// means unlimited. A request-level reqctx.BodyLimit override wins.
	BodyLimit int64
}

type resolutionKey struct{}
type matchKey struct{}
type routeKey struct{}

// ResolutionFrom retrieves the current request's dependency.Resolution,
// stashed on ctx by Dispatch before the handler runs. Handler code calls
// dependency.Resolve(ctx, res) with it to pull typed dependencies.
func ResolutionFrom(ctx *reqctx.Context) (*dependency.Resolution, bool) {
	v, ok := ctx.Value(resolutionKey{})
	if !ok {
		return nil, false
	}
	res, ok := v.(*dependency.Resolution)
	return res, ok
}

// MatchFrom retrieves the router.Match bound for the current request, so
// extract.Path can read bound path parameters without router.Match being
// threaded through every Next's signature.
func MatchFrom(ctx *reqctx.Context) (*router.Match, bool) {
	v, ok := ctx.Value(matchKey{})
	if !ok {
		return nil, false
	}
	m, ok := v.(*router.Match)
	return m, ok
}

// RoutePattern retrieves the registered pattern string for the current
// request's matched route, for metrics labeling and logging; empty if no
// route matched (404 path).
func RoutePattern(ctx *reqctx.Context) string {
	v, ok := ctx.Value(routeKey{})
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Dispatch runs one request through the full pipeline: middleware chain,
// route lookup, dependency resolution, handler invocation, and error
// mapping, returning a Response in every case (never nil, never an
// error) so the codec always has something to serialize. Cleanup
// registered on ctx runs, masked, after the chain completes regardless of
// outcome.
func Dispatch(ctx *reqctx.Context, req *httpmsg.Request, cfg *Config) *httpmsg.Response {
	start := time.Now()
	chain := cfg.Chain
	if chain == nil {
		chain = NewChain()
	}

	if limit := effectiveBodyLimit(ctx, cfg); limit > 0 && req.Body.Reader != nil {
		req.Body = httpmsg.Body{Reader: newLimitedBody(req.Body.Reader, limit), Len: req.Body.Len}
	}

	var span trace.Span
	if cfg.Tracer != nil {
		_, span = cfg.Tracer.Start(ctx.Std(), string(req.Method)+" "+req.Path,
			trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
	}

	terminal := func(ctx *reqctx.Context, req *httpmsg.Request) (*httpmsg.Response, error) {
		return dispatchRoute(ctx, req, cfg)
	}

	resp, err := chain.Then(terminal)(ctx, req)

	if cerr := ctx.RunCleanups(); cerr != nil {
		logger.Warnf("pipeline: request %s cleanup error: %v", ctx.Region(), cerr)
	}

	if err != nil {
		resp = ErrorToResponse(err)
	} else if resp == nil {
		resp = ErrorToResponse(herror.New(herror.KindInternal, "handler produced no response"))
	}

	route := RoutePattern(ctx)
	metrics.RequestsTotal.WithLabelValues(string(req.Method), route, statusBucket(resp.StatusCode)).Inc()
	metrics.RequestDuration.WithLabelValues(string(req.Method), route).Observe(time.Since(start).Seconds())

	if span != nil {
		span.SetAttributes(
			attribute.String("http.route", route),
			attribute.Int("http.status_code", resp.StatusCode),
		)
		if err != nil {
			span.RecordError(err)
		}
	}

	return resp
}

func statusBucket(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// dispatchRoute performs §4.D/§4.E steps 3-6: route lookup, NotFound/
// MethodNotAllowed short-circuits, dependency resolution (route-level then
// global, in that order), and handler invocation.
func dispatchRoute(ctx *reqctx.Context, req *httpmsg.Request, cfg *Config) (*httpmsg.Response, error) {
	if err := ctx.Checkpoint(); err != nil {
		return nil, err
	}

	lk := cfg.Router.Lookup(req.Method, req.Path)
	switch lk.Outcome {
	case router.OutcomeNotFound:
		return nil, herror.New(herror.KindNotFound, "no route matches "+req.Path)
	case router.OutcomeMethodNotAllowed:
		resp := httpmsg.NewResponse()
		resp.StatusCode = http.StatusMethodNotAllowed
		resp.BodyLen = 0
		resp.Header.Set("Allow", joinMethods(lk.Allowed))
		return resp, nil
	}

	handler, ok := lk.Match.Handler.(Next)
	if !ok {
		return nil, herror.New(herror.KindInternal, "route handler has an unexpected type")
	}

	if limit := effectiveBodyLimit(ctx, cfg); limit > 0 && req.Body.Len > limit {
		return nil, herror.New(herror.KindPayloadTooLarge, "declared request body length exceeds limit")
	}

	ctx.SetValue(matchKey{}, lk.Match)
	ctx.SetValue(routeKey{}, cfg.Router.Pattern(lk.Match.RouteID))

	res := dependency.NewResolution(cfg.Registry, cfg.Overrides)
	ctx.SetValue(resolutionKey{}, res)

	deps := make([]DependencyFunc, 0, len(cfg.GlobalDeps)+len(cfg.RouteDeps[lk.Match.RouteID]))
	deps = append(deps, cfg.RouteDeps[lk.Match.RouteID]...)
	deps = append(deps, cfg.GlobalDeps...)

	for _, dep := range deps {
		if err := ctx.Checkpoint(); err != nil {
			return nil, err
		}
		if err := dep(ctx, res); err != nil {
			return nil, err
		}
	}

	return handler(ctx, req)
}

func joinMethods(allowed router.AllowedMethods) string {
	parts := make([]string, len(allowed))
	for i, m := range allowed {
		parts[i] = string(m)
	}
	return strings.Join(parts, ", ")
}

// Responder is an escape hatch for handler results that need full
// control over their Response (e.g. a streaming body or a non-default
// content type) instead of going through ToResponse's generic mapping.
type Responder interface {
	ToResponse() *httpmsg.Response
}

// ToResponse converts a handler's polymorphic return value into a
// Response, per §4.E.6: *httpmsg.Response passes through unchanged,
// Responder values render themselves, []byte/string become the body
// verbatim, errors are returned for the caller to map via
// ErrorToResponse, and anything else is JSON-marshaled.
func ToResponse(v any) (*httpmsg.Response, error) {
	switch x := v.(type) {
	case nil:
		resp := httpmsg.NewResponse()
		resp.StatusCode = http.StatusNoContent
		resp.BodyLen = 0
		return resp, nil
	case *httpmsg.Response:
		return x, nil
	case Responder:
		return x.ToResponse(), nil
	case error:
		return nil, x
	case []byte:
		resp := httpmsg.NewResponse()
		resp.Body = bytes.NewReader(x)
		resp.BodyLen = int64(len(x))
		resp.Header.Set("Content-Type", "application/octet-stream")
		return resp, nil
	case string:
		resp := httpmsg.NewResponse()
		resp.Body = bytes.NewReader([]byte(x))
		resp.BodyLen = int64(len(x))
		resp.Header.Set("Content-Type", "text/plain; charset=utf-8")
		return resp, nil
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, herror.Wrap(herror.KindInternal, err, "marshal handler result")
		}
		resp := httpmsg.NewResponse()
		resp.Body = bytes.NewReader(b)
		resp.BodyLen = int64(len(b))
		resp.Header.Set("Content-Type", "application/json")
		return resp, nil
	}
}

// ErrorToResponse maps an error surfacing from a dependency, extractor,
// or handler to a Response, per §7's fixed kind/status table. A plain
// (non-herror) error always maps to 500 so an unhandled panic-equivalent
// never leaks internal detail to the client.
func ErrorToResponse(err error) *httpmsg.Response {
	if errors.Is(err, reqctx.CancelledError) {
		return errorBody(herror.KindCancelled, 499, "request cancelled", nil)
	}

	var he *herror.Error
	if errors.As(err, &he) {
		resp := errorBody(he.Kind, he.Status(), he.Message, he.Details)
		if he.Kind == herror.KindUnauthorized {
			resp.Header.Set("WWW-Authenticate", `Bearer`)
		}
		return resp
	}

	return errorBody(herror.KindInternal, http.StatusInternalServerError, "internal server error", nil)
}

func effectiveBodyLimit(ctx *reqctx.Context, cfg *Config) int64 {
	return ctx.BodyLimit().Resolve(cfg.BodyLimit)
}

// limitedBody caps how many body bytes downstream extractors and
// handlers can pull, failing with a 413-mapped error the moment the
// limit is crossed rather than buffering a hostile payload. Enforcement
// happens at read granularity, so at most one extra chunk beyond the
// limit is ever pulled from the connection.
type limitedBody struct {
	r         io.Reader
	remaining int64
	exceeded  bool
}

func newLimitedBody(r io.Reader, limit int64) *limitedBody {
	return &limitedBody{r: r, remaining: limit}
}

func (l *limitedBody) Read(p []byte) (int, error) {
	if l.exceeded {
		return 0, herror.New(herror.KindPayloadTooLarge, "request body exceeds limit")
	}
	if l.remaining == 0 {
		// a one-byte probe distinguishes "body ended exactly at the
		// limit" from "more bytes are coming".
		var probe [1]byte
		n, err := l.r.Read(probe[:])
		if n > 0 {
			l.exceeded = true
			return 0, herror.New(herror.KindPayloadTooLarge, "request body exceeds limit")
		}
		if err != nil {
			return 0, err
		}
		return 0, io.ErrNoProgress
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	return n, err
}

type errorPayload struct {
	Kind   herror.Kind             `json:"kind"`
	Detail string                  `json:"detail,omitempty"`
	Errors []herror.ValidationDetail `json:"errors,omitempty"`
}

func errorBody(kind herror.Kind, status int, message string, details []herror.ValidationDetail) *httpmsg.Response {
	resp := httpmsg.NewResponse()
	resp.StatusCode = status
	b, err := json.Marshal(errorPayload{Kind: kind, Detail: message, Errors: details})
	if err != nil {
		// marshaling a fixed, field-bounded struct cannot fail in practice;
		// fall back to a body-less error response rather than panic.
		resp.BodyLen = 0
		return resp
	}
	resp.Body = bytes.NewReader(b)
	resp.BodyLen = int64(len(b))
	resp.Header.Set("Content-Type", "application/problem+json")
	return resp
}
