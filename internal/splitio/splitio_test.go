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

package splitio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrimCRLF(t *testing.T) {
	assert.Equal(t, []byte("abc"), TrimCRLF([]byte("abc\r\n")))
	assert.Equal(t, []byte("abc"), TrimCRLF([]byte("abc\n")))
	assert.Equal(t, []byte("abc\r"), TrimCRLF([]byte("abc\r")))
	assert.Equal(t, []byte("abc"), TrimCRLF([]byte("abc")))
	assert.Equal(t, []byte(nil), TrimCRLF([]byte("\r\n")))
}
