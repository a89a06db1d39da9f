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

package reqctx

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpointAfterCancel(t *testing.T) {
	c := New(context.Background(), "")
	require.NoError(t, c.Checkpoint())

	c.Cancel(errors.New("boom"))
	err := c.Checkpoint()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestMaskSuppressesCheckpoint(t *testing.T) {
	c := New(context.Background(), "")
	c.Cancel(errors.New("boom"))

	var sawErr error
	c.Mask(func() {
		sawErr = c.Checkpoint()
	})
	assert.NoError(t, sawErr)
	assert.Error(t, c.Checkpoint())
}

func TestNestedMask(t *testing.T) {
	c := New(context.Background(), "")
	c.Cancel(errors.New("boom"))

	c.Mask(func() {
		c.Mask(func() {
			assert.NoError(t, c.Checkpoint())
		})
		// still masked at depth 1
		assert.NoError(t, c.Checkpoint())
	})
	assert.Error(t, c.Checkpoint())
}

func TestCleanupsRunLIFOUnderMask(t *testing.T) {
	c := New(context.Background(), "")
	c.Cancel(errors.New("boom"))

	var order []int
	c.Defer("first", func() error {
		order = append(order, 1)
		return nil
	})
	c.Defer("second", func() error {
		order = append(order, 2)
		assert.NoError(t, c.Checkpoint(), "cleanups run masked")
		return errors.New("second failed")
	})

	err := c.RunCleanups()
	require.Error(t, err)
	assert.Equal(t, []int{2, 1}, order)
}

func TestBudgetExhaustionCancels(t *testing.T) {
	c := New(context.Background(), "")
	c.WithBudget(5)
	c.Spend(3)
	require.NoError(t, c.Checkpoint())

	c.Spend(3)
	assert.Error(t, c.Checkpoint())
}

func TestBodyLimitResolve(t *testing.T) {
	var unset BodyLimit
	assert.EqualValues(t, 1024, unset.Resolve(1024))

	assert.EqualValues(t, -1, NoBodyLimit().Resolve(1024))
	assert.EqualValues(t, 64, WithBodyLimit(64).Resolve(1024))
}

func TestValueStoreIsRequestScoped(t *testing.T) {
	c := New(context.Background(), "r1")
	c.SetValue("k", 42)

	v, ok := c.Value("k")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	_, ok = c.Value("missing")
	assert.False(t, ok)
}
