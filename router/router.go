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

// Package router implements the request-path trie: a radix-style tree of
// static segments with dynamic (typed) and catch-all children, matched
// with static > dynamic > catch-all precedence at each level.
package router

import (
	"net/url"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/dicklesworthstone/fastgo/httpmsg"
	"github.com/dicklesworthstone/fastgo/logger"
)

type node struct {
	segment string // static segment text, or the `{name}` pattern for dynamic/catch-all

	static  map[uint64]*node // keyed by xxhash of the literal segment
	dynamic []*node          // ordered: first-registered-wins among dynamic siblings
	catchAll *node

	paramName string
	convKind  ConvKind
	isLeaf    bool

	routeID  int
	handlers map[httpmsg.Method]any
}

func newNode(segment string) *node {
	return &node{segment: segment, static: make(map[uint64]*node), handlers: make(map[httpmsg.Method]any)}
}

func hashSegment(s string) uint64 {
	return xxhash.Sum64String(s)
}

// Router is a registered, queryable route trie. The zero value is not
// usable; construct with New.
type Router struct {
	root     *node
	nextID   int
	routeIDs map[int]string // routeID -> original pattern, for introspection
}

// New returns an empty Router.
func New() *Router {
	return &Router{root: newNode(""), routeIDs: make(map[int]string)}
}

// ErrConflict is returned by Register when the same method+pattern pair
// is registered twice, per §3's "conflicting static routes ... rejected
// at build time" invariant.
type ErrConflict struct {
	Method  httpmsg.Method
	Pattern string
}

func (e *ErrConflict) Error() string {
	return "router: conflicting registration for " + string(e.Method) + " " + e.Pattern
}

// Register binds method+pattern to handler. Pattern segments are `/`
// separated; a segment of the form `{name}` or `{name:kind}` is dynamic,
// and `{name:path}` must be the last segment and consumes the rest of the
// path including slashes.
//
// Register returns the route id assigned, stable for the lifetime of the
// Router, primarily useful for logging/metrics labeling. Registering the
// same method+pattern twice is a build-time conflict and returns
// *ErrConflict without mutating the trie.
func (r *Router) Register(method httpmsg.Method, pattern string, handler any) (int, error) {
	segments := splitPattern(pattern)
	cur := r.root
	for i, seg := range segments {
		name, kind, dynamic := parseDynamicSegment(seg)
		switch {
		case !dynamic:
			h := hashSegment(seg)
			child, ok := cur.static[h]
			if !ok {
				child = newNode(seg)
				cur.static[h] = child
			}
			cur = child

		case kind == ConvPath:
			if cur.catchAll == nil {
				cur.catchAll = newNode(seg)
				cur.catchAll.paramName = name
				cur.catchAll.convKind = ConvPath
			}
			cur = cur.catchAll
			_ = i // catch-all is necessarily the final segment by contract

		default:
			var child *node
			for _, d := range cur.dynamic {
				if d.paramName == name && d.convKind == kind {
					child = d
					break
				}
				if d.convKind == kind {
					// same converter under two names: the earlier sibling
					// shadows this one for every segment it matches.
					logger.Warnf("router: dynamic segment {%s:%s} in %q is shadowed by earlier {%s:%s}",
						name, kind, pattern, d.paramName, d.convKind)
				}
			}
			if child == nil {
				child = newNode(seg)
				child.paramName = name
				child.convKind = kind
				cur.dynamic = append(cur.dynamic, child)
			}
			cur = child
		}
	}

	if _, exists := cur.handlers[method]; exists {
		return 0, &ErrConflict{Method: method, Pattern: pattern}
	}

	cur.isLeaf = true
	if cur.routeID == 0 {
		r.nextID++
		cur.routeID = r.nextID
	}
	cur.handlers[method] = handler
	r.routeIDs[cur.routeID] = pattern
	return cur.routeID, nil
}

// Pattern returns the registered pattern string for a route id, for
// metrics/log labeling; empty for an unknown id.
func (r *Router) Pattern(routeID int) string {
	return r.routeIDs[routeID]
}

// MustRegister is Register with panic-on-conflict, for call sites (app
// route table construction) where a conflicting registration is a
// programming error that should fail loudly at startup rather than be
// silently swallowed.
func (r *Router) MustRegister(method httpmsg.Method, pattern string, handler any) int {
	id, err := r.Register(method, pattern, handler)
	if err != nil {
		panic(err)
	}
	return id
}

// splitPattern segments a pattern or request path. The leading slash is
// mandatory and not a segment; a trailing slash produces a final empty
// segment, which is how a route registered with a trailing slash stays
// distinct from the same route without one.
func splitPattern(pattern string) []string {
	trimmed := strings.TrimPrefix(pattern, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// decodeSegments percent-decodes each already-split request segment
// independently, so a decoded "/" can never cross a segment boundary. ok
// is false when any segment carries an invalid escape.
func decodeSegments(segments []string) ([]string, bool) {
	needsDecode := false
	for _, s := range segments {
		if strings.IndexByte(s, '%') >= 0 {
			needsDecode = true
			break
		}
	}
	if !needsDecode {
		return segments, true
	}
	out := make([]string, len(segments))
	for i, s := range segments {
		d, err := url.PathUnescape(s)
		if err != nil {
			return nil, false
		}
		out[i] = d
	}
	return out, true
}

func parseDynamicSegment(seg string) (name string, kind ConvKind, dynamic bool) {
	if !strings.HasPrefix(seg, "{") || !strings.HasSuffix(seg, "}") {
		return "", "", false
	}
	inner := seg[1 : len(seg)-1]
	if idx := strings.IndexByte(inner, ':'); idx >= 0 {
		return inner[:idx], ConvKind(inner[idx+1:]), true
	}
	return inner, ConvStr, true
}

// Lookup resolves method and path to a Match, a 405-with-Allowed, or a
// 404, in that precedence order. Static > dynamic > catch-all governs
// which sibling is tried first at each trie level, matching the original
// router's documented precedence so ambiguous route sets resolve
// deterministically. Percent-decoding happens per segment after
// splitting, so an encoded slash never changes the segmentation.
func (r *Router) Lookup(method httpmsg.Method, path string) Lookup {
	raw := splitPattern(path)
	segments, ok := decodeSegments(raw)
	if !ok {
		return Lookup{Outcome: OutcomeNotFound}
	}

	params := map[string]paramValue{}
	leaf := r.walk(r.root, segments, 0, params)
	if leaf == nil {
		registered := make(map[httpmsg.Method]bool)
		r.collectAllowed(r.root, segments, 0, registered)
		if len(registered) > 0 {
			return Lookup{Outcome: OutcomeMethodNotAllowed, Allowed: newAllowedMethods(registered)}
		}
		return Lookup{Outcome: OutcomeNotFound}
	}

	handler, found := leaf.handlers[method]
	if !found && method == httpmsg.MethodHead {
		handler, found = leaf.handlers[httpmsg.MethodGet]
	}
	if !found {
		registered := make(map[httpmsg.Method]bool)
		r.collectAllowed(r.root, segments, 0, registered)
		return Lookup{Outcome: OutcomeMethodNotAllowed, Allowed: newAllowedMethods(registered)}
	}

	return Lookup{
		Outcome: OutcomeMatch,
		Match: &Match{
			RouteID: leaf.routeID,
			Handler: handler,
			params:  params,
		},
	}
}

// walk finds the first leaf matching segments[idx:] under static >
// dynamic > catch-all precedence, binding typed parameter values into
// bound along the way. Bindings from abandoned branches are unwound
// before the next sibling is tried, so bound only ever holds the values
// of the path actually matched.
func (r *Router) walk(n *node, segments []string, idx int, bound map[string]paramValue) *node {
	if idx == len(segments) {
		if n.isLeaf {
			return n
		}
		return nil
	}

	seg := segments[idx]

	if child, ok := n.static[hashSegment(seg)]; ok && child.segment == seg {
		if leaf := r.walk(child, segments, idx+1, bound); leaf != nil {
			return leaf
		}
	}

	for _, child := range n.dynamic {
		pv := convert(child.convKind, seg)
		if !pv.valid {
			continue
		}
		prev, had := bound[child.paramName]
		bound[child.paramName] = pv
		if leaf := r.walk(child, segments, idx+1, bound); leaf != nil {
			return leaf
		}
		if had {
			bound[child.paramName] = prev
		} else {
			delete(bound, child.paramName)
		}
	}

	if n.catchAll != nil && n.catchAll.isLeaf {
		rest := strings.Join(segments[idx:], "/")
		bound[n.catchAll.paramName] = convert(ConvPath, rest)
		return n.catchAll
	}

	return nil
}

// collectAllowed unions the method tables of every leaf whose path
// matches segments, across all sibling branches, for the 405 Allow set:
// the spec's allow-set covers every method registered at the path, not
// just the first-precedence leaf's.
func (r *Router) collectAllowed(n *node, segments []string, idx int, registered map[httpmsg.Method]bool) {
	if idx == len(segments) {
		if n.isLeaf {
			for m := range n.handlers {
				registered[m] = true
			}
		}
		return
	}

	seg := segments[idx]

	if child, ok := n.static[hashSegment(seg)]; ok && child.segment == seg {
		r.collectAllowed(child, segments, idx+1, registered)
	}
	for _, child := range n.dynamic {
		if convert(child.convKind, seg).valid {
			r.collectAllowed(child, segments, idx+1, registered)
		}
	}
	if n.catchAll != nil && n.catchAll.isLeaf {
		for m := range n.catchAll.handlers {
			registered[m] = true
		}
	}
}
