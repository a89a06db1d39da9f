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

package bufbytes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufBytesWrite(t *testing.T) {
	tests := []struct {
		name     string
		limit    int
		inputs   [][]byte
		expected []byte
		wantErr  bool
	}{
		{
			name:     "Empty write",
			limit:    10,
			inputs:   [][]byte{},
			expected: nil,
		},
		{
			name:     "Single exact fit",
			limit:    5,
			inputs:   [][]byte{[]byte("hello")},
			expected: []byte("hello"),
		},
		{
			name:     "Single write within limit",
			limit:    10,
			inputs:   [][]byte{[]byte("hello")},
			expected: []byte("hello"),
		},
		{
			name:     "Single write exceeds limit",
			limit:    5,
			inputs:   [][]byte{[]byte("helloworld")},
			expected: nil,
			wantErr:  true,
		},
		{
			name:     "Multiple inputs within limit",
			limit:    10,
			inputs:   [][]byte{[]byte("hello"), []byte("world")},
			expected: []byte("helloworld"),
		},
		{
			name:     "Second input exceeds limit",
			limit:    8,
			inputs:   [][]byte{[]byte("hello"), []byte("world")},
			expected: []byte("hello"),
			wantErr:  true,
		},
		{
			name:     "Unlimited",
			limit:    0,
			inputs:   [][]byte{[]byte("hello"), []byte("world")},
			expected: []byte("helloworld"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(tt.limit)
			var lastErr error
			for _, input := range tt.inputs {
				if err := b.Write(input); err != nil {
					lastErr = err
				}
			}
			if tt.wantErr {
				require.ErrorIs(t, lastErr, ErrOverflow)
			} else {
				require.NoError(t, lastErr)
			}
			assert.Equal(t, tt.expected, b.Bytes())
		})
	}
}

func TestBufBytesReset(t *testing.T) {
	b := New(8)
	require.NoError(t, b.Write([]byte("abcdefgh")))
	require.ErrorIs(t, b.Write([]byte("x")), ErrOverflow)

	b.Reset()
	assert.Equal(t, 0, b.Len())
	require.NoError(t, b.Write([]byte("again")))
	assert.Equal(t, "again", b.Text())
}

func TestBufBytesClone(t *testing.T) {
	b := New(0)
	require.NoError(t, b.Write([]byte("data")))
	c := b.Clone()
	b.Reset()
	require.NoError(t, b.Write([]byte("other")))
	assert.Equal(t, []byte("data"), c)
}
