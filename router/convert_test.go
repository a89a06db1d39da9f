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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dicklesworthstone/fastgo/httpmsg"
)

func TestConvertFloatRequiresFinite(t *testing.T) {
	for _, raw := range []string{"Inf", "-Inf", "+Inf", "Infinity", "-Infinity", "NaN", "nan"} {
		pv := convert(ConvFloat, raw)
		assert.False(t, pv.valid, "%q must not match the float converter", raw)
	}
	for _, raw := range []string{"0", "-1.5", "3.25e2"} {
		pv := convert(ConvFloat, raw)
		assert.True(t, pv.valid, "%q must match the float converter", raw)
	}
}

func TestConvertInt(t *testing.T) {
	assert.True(t, convert(ConvInt, "-42").valid)
	assert.False(t, convert(ConvInt, "4.2").valid)
	assert.False(t, convert(ConvInt, "9223372036854775808").valid) // one past int64 max
}

func TestFloatRouteRejectsInfSegment(t *testing.T) {
	r := New()
	r.Register(httpmsg.MethodGet, "/items/{x:float}", "h")

	got := r.Lookup(httpmsg.MethodGet, "/items/Inf")
	assert.Equal(t, OutcomeNotFound, got.Outcome)

	got = r.Lookup(httpmsg.MethodGet, "/items/2.5")
	require.Equal(t, OutcomeMatch, got.Outcome)
	f, ok := got.Match.Float64("x")
	require.True(t, ok)
	assert.Equal(t, 2.5, f)
}
