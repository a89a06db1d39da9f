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

// Package dependency implements request-scoped dependency injection:
// handlers and other dependencies declare parameters they want resolved,
// a Resolver produces the value, and a per-request Cache ensures a given
// dependency only resolves once per request unless it opts out via
// NoCache.
package dependency

import (
	"reflect"
	"sync"

	"github.com/pkg/errors"

	"github.com/dicklesworthstone/fastgo/metrics"
	"github.com/dicklesworthstone/fastgo/reqctx"
)

// Scope controls how long a resolved value is allowed to live.
type Scope int

const (
	// ScopeRequest caches the resolved value for the remainder of the
	// request, so that two handlers/dependencies asking for the same type
	// within one request observe the same instance.
	ScopeRequest Scope = iota
	// ScopeFunction never caches: every resolution call re-invokes the
	// Resolver, even within the same request.
	ScopeFunction
)

// Config controls caching behavior for a single dependency registration.
type Config struct {
	Cached bool
	Scope  Scope
}

// DefaultConfig is the implicit configuration for a dependency with no
// explicit Config: cached for the lifetime of the request.
var DefaultConfig = Config{Cached: true, Scope: ScopeRequest}

// NoCache forces a dependency to resolve fresh on every call regardless
// of how many times it's requested within a request.
var NoCache = Config{Cached: false, Scope: ScopeFunction}

// effective normalizes a Config the way the original dependency system
// does: NoCache always implies ScopeFunction, overriding whatever Scope
// the caller set, and ScopeFunction always disables caching, overriding
// whatever Cached the caller set.
func (c Config) effective() Config {
	if !c.Cached {
		c.Scope = ScopeFunction
	}
	if c.Scope == ScopeFunction {
		c.Cached = false
	}
	return c
}

// Resolver produces a value of some declared type given the current
// request context. Resolvers may themselves call Resolve for their own
// sub-dependencies via the Resolution passed to them.
type Resolver func(ctx *reqctx.Context, res *Resolution) (any, error)

// registration pairs a Resolver with its Config, keyed by the
// reflect.Type the Resolver produces.
type registration struct {
	resolver Resolver
	config   Config
}

// Registry holds the set of known dependency resolvers, built once at
// application startup and shared read-only across all requests.
type Registry struct {
	mu    sync.RWMutex
	byTyp map[reflect.Type]registration
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byTyp: make(map[reflect.Type]registration)}
}

// Register binds typ to resolver with the default (cached, request-scope)
// config.
func Register[T any](r *Registry, resolver func(ctx *reqctx.Context, res *Resolution) (T, error)) {
	RegisterWithConfig(r, DefaultConfig, resolver)
}

// RegisterWithConfig binds typ to resolver with an explicit Config, e.g.
// dependency.NoCache for a value that must be recomputed every call.
func RegisterWithConfig[T any](r *Registry, cfg Config, resolver func(ctx *reqctx.Context, res *Resolution) (T, error)) {
	var zero T
	typ := reflect.TypeOf(&zero).Elem()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byTyp[typ] = registration{
		resolver: func(ctx *reqctx.Context, res *Resolution) (any, error) {
			return resolver(ctx, res)
		},
		config: cfg.effective(),
	}
}

func (r *Registry) lookup(typ reflect.Type) (registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byTyp[typ]
	return reg, ok
}

// Overrides lets tests substitute a resolver for a type without touching
// the production Registry, per request or per test suite.
type Overrides struct {
	byTyp map[reflect.Type]Resolver
}

// NewOverrides returns an empty Overrides set.
func NewOverrides() *Overrides {
	return &Overrides{byTyp: make(map[reflect.Type]Resolver)}
}

// Set overrides typ's resolution with resolver.
func Set[T any](o *Overrides, resolver func(ctx *reqctx.Context, res *Resolution) (T, error)) {
	var zero T
	typ := reflect.TypeOf(&zero).Elem()
	o.byTyp[typ] = func(ctx *reqctx.Context, res *Resolution) (any, error) {
		return resolver(ctx, res)
	}
}

// Cache holds already-resolved request-scoped values.
type Cache struct {
	mu sync.Mutex
	m  map[reflect.Type]any
}

func newCache() *Cache {
	return &Cache{m: make(map[reflect.Type]any)}
}

// ErrCycle is returned when a dependency transitively depends on itself.
var ErrCycle = errors.New("dependency: cycle detected")

// Resolution is a single request's dependency-resolution session: the
// registry to consult, the per-request cache, any overrides, and the
// in-flight resolution stack used for cycle detection.
type Resolution struct {
	registry  *Registry
	overrides *Overrides
	cache     *Cache
	stack     []reflect.Type
}

// NewResolution starts a fresh resolution session against registry, with
// optional overrides (nil is fine: no overrides).
func NewResolution(registry *Registry, overrides *Overrides) *Resolution {
	return &Resolution{registry: registry, overrides: overrides, cache: newCache()}
}

// Resolve produces a value of type T, consulting overrides first, then
// the request cache (for cached dependencies), then finally invoking the
// registered Resolver and caching its result per Config.
func Resolve[T any](ctx *reqctx.Context, res *Resolution, path ...string) (T, error) {
	var zero T
	typ := reflect.TypeOf(&zero).Elem()

	for _, t := range res.stack {
		if t == typ {
			return zero, ErrCycle
		}
	}

	if res.overrides != nil {
		if fn, ok := res.overrides.byTyp[typ]; ok {
			v, err := invoke(ctx, res, typ, fn)
			if err != nil {
				return zero, err
			}
			return v.(T), nil
		}
	}

	reg, ok := res.registry.lookup(typ)
	if !ok {
		return zero, errors.Errorf("dependency: no resolver registered for %s", typ)
	}

	if reg.config.Cached {
		res.cache.mu.Lock()
		if v, ok := res.cache.m[typ]; ok {
			res.cache.mu.Unlock()
			metrics.DependencyResolutionsTotal.WithLabelValues("cached").Inc()
			return v.(T), nil
		}
		res.cache.mu.Unlock()
	}

	v, err := invoke(ctx, res, typ, reg.resolver)
	if err != nil {
		return zero, err
	}
	metrics.DependencyResolutionsTotal.WithLabelValues("resolved").Inc()

	if reg.config.Cached {
		res.cache.mu.Lock()
		res.cache.m[typ] = v
		res.cache.mu.Unlock()
	}

	return v.(T), nil
}

func invoke(ctx *reqctx.Context, res *Resolution, typ reflect.Type, fn Resolver) (any, error) {
	res.stack = append(res.stack, typ)
	defer func() { res.stack = res.stack[:len(res.stack)-1] }()
	return fn(ctx, res)
}
