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

package app

import (
	"strings"

	"github.com/dicklesworthstone/fastgo/pipeline"
)

// Group is a path-prefix + dependency scope for a batch of routes,
// registered directly onto the owning App's single router and
// dependency registry (there is no separate per-group trie; the prefix
// is folded into the pattern at registration time, and the group's
// dependencies are prepended ahead of each route's own, per §4.D's
// left-to-right prefix composition).
type Group struct {
	app    *App
	prefix string
	deps   []pipeline.DependencyFunc
}

// Group returns a nested Group whose prefix and dependencies compose
// with the parent's.
func (g *Group) Group(prefix string, deps ...pipeline.DependencyFunc) *Group {
	return &Group{
		app:    g.app,
		prefix: joinPrefix(g.prefix, prefix),
		deps:   append(append([]pipeline.DependencyFunc(nil), g.deps...), deps...),
	}
}

func joinPrefix(a, b string) string {
	a = strings.TrimSuffix(a, "/")
	if b == "" {
		return a
	}
	if !strings.HasPrefix(b, "/") {
		b = "/" + b
	}
	return a + b
}

func (g *Group) withGroupOpts(opts []RouteOption) []RouteOption {
	return append([]RouteOption{WithDependencies(g.deps...)}, opts...)
}

// Get registers a GET route under the group's prefix.
func (g *Group) Get(pattern string, h HandlerFunc, opts ...RouteOption) *Group {
	g.app.Get(joinPrefix(g.prefix, pattern), h, g.withGroupOpts(opts)...)
	return g
}

// Post registers a POST route under the group's prefix.
func (g *Group) Post(pattern string, h HandlerFunc, opts ...RouteOption) *Group {
	g.app.Post(joinPrefix(g.prefix, pattern), h, g.withGroupOpts(opts)...)
	return g
}

// Put registers a PUT route under the group's prefix.
func (g *Group) Put(pattern string, h HandlerFunc, opts ...RouteOption) *Group {
	g.app.Put(joinPrefix(g.prefix, pattern), h, g.withGroupOpts(opts)...)
	return g
}

// Patch registers a PATCH route under the group's prefix.
func (g *Group) Patch(pattern string, h HandlerFunc, opts ...RouteOption) *Group {
	g.app.Patch(joinPrefix(g.prefix, pattern), h, g.withGroupOpts(opts)...)
	return g
}

// Delete registers a DELETE route under the group's prefix.
func (g *Group) Delete(pattern string, h HandlerFunc, opts ...RouteOption) *Group {
	g.app.Delete(joinPrefix(g.prefix, pattern), h, g.withGroupOpts(opts)...)
	return g
}
