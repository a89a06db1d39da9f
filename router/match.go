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

package router

import (
	"sort"

	"github.com/google/uuid"

	"github.com/dicklesworthstone/fastgo/httpmsg"
)

// Match is the result of a successful Lookup: a handler identity plus the
// bound path parameters.
type Match struct {
	RouteID int
	Handler any
	params  map[string]paramValue
}

// String returns the string value bound to name.
func (m *Match) String(name string) (string, bool) {
	pv, ok := m.params[name]
	if !ok {
		return "", false
	}
	return pv.raw, true
}

// Int returns the int64 value bound to name, if it was declared `:int`
// and parsed successfully.
func (m *Match) Int(name string) (int64, bool) {
	pv, ok := m.params[name]
	if !ok || pv.kind != ConvInt {
		return 0, false
	}
	return pv.i, true
}

// Float64 returns the float64 value bound to name, if it was declared
// `:float`.
func (m *Match) Float64(name string) (float64, bool) {
	pv, ok := m.params[name]
	if !ok || pv.kind != ConvFloat {
		return 0, false
	}
	return pv.f, true
}

// UUID returns the uuid.UUID value bound to name, if it was declared
// `:uuid`.
func (m *Match) UUID(name string) (uuid.UUID, bool) {
	pv, ok := m.params[name]
	if !ok || pv.kind != ConvUUID {
		return uuid.UUID{}, false
	}
	return pv.u, true
}

// Outcome classifies the result of a Lookup call.
type Outcome int

const (
	// OutcomeMatch means a route matched method and path.
	OutcomeMatch Outcome = iota
	// OutcomeMethodNotAllowed means some route's path matched but not this
	// method; Allowed lists what would have matched.
	OutcomeMethodNotAllowed
	// OutcomeNotFound means no route's path matched at all.
	OutcomeNotFound
)

// Lookup is the outcome of looking up a (method, path) pair.
type Lookup struct {
	Outcome Outcome
	Match   *Match
	Allowed AllowedMethods
}

// AllowedMethods is a deduplicated, stably ordered list of HTTP methods,
// used for both the 405 response's Allow header and OPTIONS handling.
//
// Ordering and GET=>HEAD implication are grounded on the original
// router's AllowedMethods::new: any route registered for GET implicitly
// answers HEAD, and the method list is rendered in a fixed canonical
// order rather than registration order, so two routers built from the
// same route set always produce byte-identical Allow headers.
type AllowedMethods []httpmsg.Method

var methodOrder = map[httpmsg.Method]int{
	httpmsg.MethodGet:     0,
	httpmsg.MethodHead:    1,
	httpmsg.MethodPost:    2,
	httpmsg.MethodPut:     3,
	httpmsg.MethodPatch:   4,
	httpmsg.MethodDelete:  5,
	httpmsg.MethodOptions: 6,
	httpmsg.MethodConnect: 7,
	httpmsg.MethodTrace:   8,
}

// newAllowedMethods builds a normalized, sorted, deduplicated
// AllowedMethods from a raw registered-method set.
func newAllowedMethods(registered map[httpmsg.Method]bool) AllowedMethods {
	set := make(map[httpmsg.Method]bool, len(registered)+1)
	for m, ok := range registered {
		if !ok {
			continue
		}
		set[m] = true
	}
	if set[httpmsg.MethodGet] {
		set[httpmsg.MethodHead] = true
	}

	out := make(AllowedMethods, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		oi, oki := methodOrder[out[i]]
		oj, okj := methodOrder[out[j]]
		if oki && okj {
			return oi < oj
		}
		if oki != okj {
			return oki // known methods sort before unknown ones
		}
		return out[i] < out[j]
	})
	return out
}

// Contains reports whether m is in the set.
func (a AllowedMethods) Contains(m httpmsg.Method) bool {
	for _, x := range a {
		if x == m {
			return true
		}
	}
	return false
}
