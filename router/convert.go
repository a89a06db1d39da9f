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
	"math"
	"strconv"

	"github.com/google/uuid"
)

// ConvKind names the typed path-segment converters a dynamic segment can
// declare, written as `{name:kind}` in a route pattern. The bare `{name}`
// form is equivalent to `{name:str}`.
type ConvKind string

const (
	ConvStr   ConvKind = "str"
	ConvInt   ConvKind = "int"
	ConvFloat ConvKind = "float"
	ConvUUID  ConvKind = "uuid"
	// ConvPath is a catch-all converter: it consumes the remainder of the
	// path, slashes included, and must be the final segment of a pattern.
	ConvPath ConvKind = "path"
)

// paramValue is the typed value bound to a matched dynamic segment.
type paramValue struct {
	raw   string
	kind  ConvKind
	i     int64
	f     float64
	u     uuid.UUID
	valid bool // false if typed parse failed (segment should not match)
}

func convert(kind ConvKind, raw string) paramValue {
	pv := paramValue{raw: raw, kind: kind}
	switch kind {
	case ConvInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return pv
		}
		pv.i = n
		pv.valid = true
	case ConvFloat:
		f, err := strconv.ParseFloat(raw, 64)
		// the converter contract is a finite double: ParseFloat accepts
		// "Inf"/"NaN" spellings with a nil error.
		if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
			return pv
		}
		pv.f = f
		pv.valid = true
	case ConvUUID:
		u, err := uuid.Parse(raw)
		if err != nil {
			return pv
		}
		pv.u = u
		pv.valid = true
	case ConvPath:
		pv.valid = true
	default: // ConvStr matches any non-empty segment
		pv.valid = raw != ""
	}
	return pv
}
