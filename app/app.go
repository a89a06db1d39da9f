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

// Package app provides the builder applications register routes and
// middleware against: App.Get/Post/.../Group/Use/Build mirror the
// teacher's bootstrap-then-serve cmd/agent.go shape (build a value once,
// then hand it to a server loop) generalized from a fixed pipeline
// config into a user-extensible route table.
//
// The zero-value-unsafe builder freezes into an immutable
// *pipeline.Config on Build; nothing registered on the App after Build
// has any effect on requests already being served, matching §3's
// "Owned by the App; immutable after build."
package app

import (
	"net"

	"go.opentelemetry.io/otel/trace"

	"github.com/dicklesworthstone/fastgo/dependency"
	"github.com/dicklesworthstone/fastgo/extract"
	"github.com/dicklesworthstone/fastgo/httpmsg"
	"github.com/dicklesworthstone/fastgo/logger"
	"github.com/dicklesworthstone/fastgo/pipeline"
	"github.com/dicklesworthstone/fastgo/reqctx"
	"github.com/dicklesworthstone/fastgo/router"
	"github.com/dicklesworthstone/fastgo/server"
)

// HandlerFunc is the signature application code writes handlers against:
// a cooperative-cancellation Context and an extract.Source bundling the
// parsed Request with its bound path parameters. The return value is
// polymorphic (bytes, string, a JSON-serializable value, *httpmsg.Response,
// or error) and converted by pipeline.ToResponse/ErrorToResponse.
type HandlerFunc func(ctx *reqctx.Context, src *extract.Source) (any, error)

// routeOptions configures one Get/Post/... registration beyond method,
// pattern, and handler.
type routeOptions struct {
	dependencies    []pipeline.DependencyFunc
	includeInSchema bool
}

// RouteOption customizes a single route registration.
type RouteOption func(*routeOptions)

// WithDependencies attaches route-level dependencies that run before the
// App's global dependencies and the handler, short-circuiting the handler
// if any fails.
func WithDependencies(deps ...pipeline.DependencyFunc) RouteOption {
	return func(o *routeOptions) { o.dependencies = append(o.dependencies, deps...) }
}

// ExcludeFromSchema marks a route as not eligible for schema emission by
// an external OpenAPI collaborator (§3's RouteEntry.include-in-schema).
// The core itself does not emit OpenAPI; this only carries the flag.
func ExcludeFromSchema() RouteOption {
	return func(o *routeOptions) { o.includeInSchema = false }
}

// routeRecord mirrors §3's RouteEntry tuple for introspection (e.g. an
// external OpenAPI collaborator walking App.Routes()).
type routeRecord struct {
	Method          httpmsg.Method
	Pattern         string
	IncludeInSchema bool
}

// App is the route/middleware/dependency builder. The zero value is not
// usable; construct with New.
type App struct {
	router     *router.Router
	chain      *pipeline.Chain
	registry   *dependency.Registry
	overrides  *dependency.Overrides
	globalDeps []pipeline.DependencyFunc
	routeDeps  map[int][]pipeline.DependencyFunc
	routes     []routeRecord
	bodyLimit  int64
	tracer     trace.Tracer

	built  bool
	config *pipeline.Config
}

// New returns an empty App ready for route/middleware registration.
func New() *App {
	return &App{
		router:    router.New(),
		chain:     pipeline.NewChain(),
		registry:  dependency.NewRegistry(),
		overrides: dependency.NewOverrides(),
		routeDeps: make(map[int][]pipeline.DependencyFunc),
	}
}

// Use appends mw as the new innermost middleware layer. Must be called
// before Build.
func (a *App) Use(mw pipeline.Middleware) *App {
	a.mustNotBeBuilt()
	a.chain.Use(mw)
	return a
}

// Depends registers a global dependency that runs before every route's
// handler (and after that route's own dependencies), e.g. request
// logging, CORS preflight short-circuiting, or a global rate limiter
// implemented as a DependencyFunc rather than a Middleware.
func (a *App) Depends(dep pipeline.DependencyFunc) *App {
	a.mustNotBeBuilt()
	a.globalDeps = append(a.globalDeps, dep)
	return a
}

// SetBodyLimit sets the app-default request body size limit in bytes; 0
// means unlimited. Individual requests may override it via
// reqctx.Context.SetBodyLimit.
func (a *App) SetBodyLimit(n int64) *App {
	a.bodyLimit = n
	return a
}

// BodyLimit returns the app-default body size limit.
func (a *App) BodyLimit() int64 { return a.bodyLimit }

// SetTracer attaches an OpenTelemetry tracer; when set, pipeline.Dispatch
// opens one span per request named "METHOD path" and records the
// matched route pattern, status code, and any dispatch error on it.
// Absent a tracer (the default), Dispatch skips span creation entirely.
func (a *App) SetTracer(t trace.Tracer) *App {
	a.mustNotBeBuilt()
	a.tracer = t
	return a
}

// OverrideRegistry exposes the dependency.Overrides table for test
// suites to substitute resolvers without touching production Registry,
// per §4.E.4.
func (a *App) OverrideRegistry() *dependency.Overrides { return a.overrides }

// Registry exposes the dependency registry so application code can call
// dependency.Register/RegisterWithConfig against it before Build.
func (a *App) Registry() *dependency.Registry { return a.registry }

func (a *App) mustNotBeBuilt() {
	if a.built {
		panic("app: cannot modify App after Build")
	}
}

// route registers one method+pattern+handler, applying opts, and records
// it for introspection.
func (a *App) route(method httpmsg.Method, pattern string, h HandlerFunc, opts ...RouteOption) *App {
	a.mustNotBeBuilt()
	o := routeOptions{includeInSchema: true}
	for _, opt := range opts {
		opt(&o)
	}

	routeID := a.router.MustRegister(method, pattern, wrapHandler(h))
	if len(o.dependencies) > 0 {
		a.routeDeps[routeID] = o.dependencies
	}
	a.routes = append(a.routes, routeRecord{Method: method, Pattern: pattern, IncludeInSchema: o.includeInSchema})
	return a
}

// Get registers a GET route. HEAD is implicitly satisfied by the router
// (§3/§8 invariant 2); handlers never need to register HEAD separately.
func (a *App) Get(pattern string, h HandlerFunc, opts ...RouteOption) *App {
	return a.route(httpmsg.MethodGet, pattern, h, opts...)
}

// Post registers a POST route.
func (a *App) Post(pattern string, h HandlerFunc, opts ...RouteOption) *App {
	return a.route(httpmsg.MethodPost, pattern, h, opts...)
}

// Put registers a PUT route.
func (a *App) Put(pattern string, h HandlerFunc, opts ...RouteOption) *App {
	return a.route(httpmsg.MethodPut, pattern, h, opts...)
}

// Patch registers a PATCH route.
func (a *App) Patch(pattern string, h HandlerFunc, opts ...RouteOption) *App {
	return a.route(httpmsg.MethodPatch, pattern, h, opts...)
}

// Delete registers a DELETE route.
func (a *App) Delete(pattern string, h HandlerFunc, opts ...RouteOption) *App {
	return a.route(httpmsg.MethodDelete, pattern, h, opts...)
}

// Options registers an OPTIONS route.
func (a *App) Options(pattern string, h HandlerFunc, opts ...RouteOption) *App {
	return a.route(httpmsg.MethodOptions, pattern, h, opts...)
}

// Trace registers a TRACE route.
func (a *App) Trace(pattern string, h HandlerFunc, opts ...RouteOption) *App {
	return a.route(httpmsg.MethodTrace, pattern, h, opts...)
}

// Routes returns the registered route table, in registration order, for
// introspection by an external schema-emission collaborator.
func (a *App) Routes() []routeRecord {
	out := make([]routeRecord, len(a.routes))
	copy(out, a.routes)
	return out
}

// Group returns a Group whose routes all inherit prefix and deps,
// composing left-to-right with any further nested Group's own prefix and
// deps, per §4.D's "prefix inherited from containing group."
func (a *App) Group(prefix string, deps ...pipeline.DependencyFunc) *Group {
	return &Group{app: a, prefix: prefix, deps: deps}
}

// wrapHandler boxes a HandlerFunc into the uniform pipeline.Next contract
// every middleware and the router trie actually carry, per §9's dynamic-
// dispatch-over-handler-types strategy: extractor dispatch (building the
// Source from ctx's bound router.Match) happens inside the closure,
// using the handler's own compile-time parameter types.
func wrapHandler(h HandlerFunc) pipeline.Next {
	return func(ctx *reqctx.Context, req *httpmsg.Request) (*httpmsg.Response, error) {
		match, _ := pipeline.MatchFrom(ctx)
		src := &extract.Source{Request: req, Params: match}
		result, err := h(ctx, src)
		if err != nil {
			return nil, err
		}
		return pipeline.ToResponse(result)
	}
}

// Build freezes the App into an immutable pipeline.Config. Subsequent
// calls to Use/Depends/Get/Post/... panic. Build is idempotent: calling
// it twice returns the same Config.
func (a *App) Build() *pipeline.Config {
	if a.built {
		return a.config
	}
	a.built = true
	a.config = &pipeline.Config{
		Router:     a.router,
		Chain:      a.chain,
		Registry:   a.registry,
		Overrides:  a.overrides,
		GlobalDeps: a.globalDeps,
		RouteDeps:  a.routeDeps,
		Tracer:     a.tracer,
		BodyLimit:  a.bodyLimit,
	}
	return a.config
}

// ListenAndServe builds the App (if not already built) and runs
// server.Engine's accept loop on addr, blocking until the listener's
// Accept fails. It installs no signal handling and does not expose the
// Engine, so Engine.Shutdown cannot be called through it. This is a
// convenience entry point; cmd/serve.go wires the same pieces with
// explicit config for production use.
func (a *App) ListenAndServe(addr string, opts ...server.EngineOption) error {
	cfg := a.Build()
	eng := server.NewEngine(cfg, opts...)
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	logger.Infof("app: listening on %s", addr)
	return eng.Serve(l)
}
