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

package headers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderPreservedAndNamesLowercased(t *testing.T) {
	h := New().Add("X-A", "1").Add("X-B", "2").Add("X-A", "3")

	var names []string
	h.Range(func(name, value string) bool {
		names = append(names, name+"="+value)
		return true
	})
	assert.Equal(t, []string{"x-a=1", "x-b=2", "x-a=3"}, names)
}

func TestGetIsCaseInsensitive(t *testing.T) {
	h := New().Add("Content-Type", "text/plain")
	v, ok := h.Get("content-type")
	require.True(t, ok)
	assert.Equal(t, "text/plain", v)
}

func TestSetReplacesAllOccurrences(t *testing.T) {
	h := New().Add("X-A", "1").Add("X-B", "2").Add("X-A", "3")
	h.Set("x-a", "final")

	assert.Equal(t, []string{"final"}, h.Values("X-A"))
	assert.Equal(t, 2, h.Len())
}

func TestDel(t *testing.T) {
	h := New().Add("X-A", "1").Add("X-B", "2")
	h.Del("x-a")
	assert.False(t, h.Has("X-A"))
	assert.True(t, h.Has("X-B"))
}

func TestValidName(t *testing.T) {
	assert.True(t, ValidName("X-Request-Id"))
	assert.False(t, ValidName("bad header"))
}
