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

// Package reqctx implements the cooperative cancellation and per-request
// resource substrate that every handler, middleware, and dependency
// resolver is invoked with.
//
// Cancellation here is advisory, not preemptive: a handler only observes
// cancellation at a Checkpoint call, or because the underlying connection's
// read side has been closed by the server loop. Context.Mask suspends that
// observability for cleanup code that must run to completion regardless of
// an in-flight cancellation.
package reqctx

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	multierror "github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/dicklesworthstone/fastgo/logger"
)

// CancelledError is returned by Checkpoint when the request has been
// cancelled without a cause and is not currently masked.
var CancelledError = errors.New("reqctx: request cancelled")

// BodyLimit bounds the number of bytes a handler may read from a request
// body. Zero means "use the app default"; a negative value means unlimited.
type BodyLimit struct {
	set   bool
	bytes int64
}

// NoBodyLimit disables body size enforcement for the request.
func NoBodyLimit() BodyLimit { return BodyLimit{set: true, bytes: -1} }

// WithBodyLimit bounds the body to n bytes.
func WithBodyLimit(n int64) BodyLimit { return BodyLimit{set: true, bytes: n} }

// Resolve returns the effective limit given an app-level default.
func (b BodyLimit) Resolve(appDefault int64) int64 {
	if !b.set {
		return appDefault
	}
	if b.bytes < 0 {
		return -1
	}
	return b.bytes
}

type cleanupFn struct {
	name string
	fn   func() error
}

// Context carries per-request cancellation, a cleanup stack, the request's
// region id, and an optional remaining-work budget used by bulk/background
// handlers to self-throttle.
type Context struct {
	mu sync.Mutex

	parent context.Context
	cancel context.CancelCauseFunc

	region string

	maskDepth int
	cancelled bool
	cause     error

	cleanups []cleanupFn

	budget     int
	budgetSet  bool
	startedAt  time.Time
	bodyLimit  BodyLimit
	deadlineAt time.Time
}

// New creates a root Context bound to parent. Region defaults to a fresh
// uuid when empty, mirroring the original's per-request correlation id.
func New(parent context.Context, region string) *Context {
	if parent == nil {
		parent = context.Background()
	}
	if region == "" {
		region = uuid.NewString()
	}
	cctx, cancel := context.WithCancelCause(parent)
	c := &Context{
		parent:    cctx,
		cancel:    cancel,
		region:    region,
		startedAt: time.Now(),
	}
	if dl, ok := parent.Deadline(); ok {
		c.deadlineAt = dl
	}
	return c
}

// Region returns the request-scoped correlation id.
func (c *Context) Region() string { return c.region }

// Trace emits a lightweight breadcrumb tagged with the request's region
// id, for following one request's progress through middleware,
// dependencies, and handler at debug verbosity without structured
// tracing infrastructure.
func (c *Context) Trace(message string) {
	logger.Debugf("reqctx: [%s] +%s %s", c.region, c.Elapsed().Round(time.Microsecond), message)
}

// Deadline reports the context's deadline, if any.
func (c *Context) Deadline() (time.Time, bool) {
	return c.parent.Deadline()
}

// Done returns the underlying cancellation channel, for select-driven
// blocking operations (reading a request body, waiting on a dependency).
func (c *Context) Done() <-chan struct{} {
	return c.parent.Done()
}

// WithBudget sets a remaining-work budget, consumed by Spend.
func (c *Context) WithBudget(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.budget = n
	c.budgetSet = true
}

// RemainingBudget reports the outstanding budget. ok is false if no budget
// was ever set (i.e. unlimited).
func (c *Context) RemainingBudget() (n int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.budget, c.budgetSet
}

// RemainingTime reports how long the request may keep running before its
// deadline, advisory only; ok is false when no deadline is set. Handlers
// use it to shed work early rather than be cancelled mid-flight.
func (c *Context) RemainingTime() (time.Duration, bool) {
	dl, ok := c.parent.Deadline()
	if !ok {
		return 0, false
	}
	return time.Until(dl), true
}

// Spend decrements the remaining budget by n, cancelling the request if
// it goes negative. No-op if no budget was set.
func (c *Context) Spend(n int) {
	c.mu.Lock()
	if !c.budgetSet {
		c.mu.Unlock()
		return
	}
	c.budget -= n
	exhausted := c.budget < 0
	c.mu.Unlock()
	if exhausted {
		c.Cancel(errors.New("reqctx: budget exhausted"))
	}
}

// SetBodyLimit overrides the effective body size limit for this request.
func (c *Context) SetBodyLimit(l BodyLimit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bodyLimit = l
}

// BodyLimit returns the request-level body limit override, if any.
func (c *Context) BodyLimit() BodyLimit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bodyLimit
}

// Cancel marks the request cancelled with cause. Safe to call more than
// once; only the first cause sticks.
func (c *Context) Cancel(cause error) {
	c.mu.Lock()
	if !c.cancelled {
		c.cancelled = true
		c.cause = cause
	}
	c.mu.Unlock()
	c.cancel(cause)
}

// IsCancelled reports cancellation state without regard to masking. Use
// Checkpoint inside handler/middleware code instead.
func (c *Context) IsCancelled() bool {
	select {
	case <-c.parent.Done():
		return true
	default:
		return false
	}
}

// masked reports whether cancellation observability is currently
// suspended.
func (c *Context) masked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maskDepth > 0
}

// Checkpoint returns an error if the request is cancelled and not
// currently masked: the cause passed to Cancel, or CancelledError when
// none was given. Handlers are expected to call this at natural
// suspension points (before a blocking read, between pipeline stages).
func (c *Context) Checkpoint() error {
	if c.masked() {
		return nil
	}
	if !c.IsCancelled() {
		return nil
	}
	c.mu.Lock()
	cause := c.cause
	c.mu.Unlock()
	if cause != nil {
		return cause
	}
	return CancelledError
}

// Mask suspends cancellation observability for the duration of fn and
// restores the previous depth afterward, even if fn panics. Mask nests:
// only the outermost unmask re-enables Checkpoint failures.
func (c *Context) Mask(fn func()) {
	c.mu.Lock()
	c.maskDepth++
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.maskDepth--
		c.mu.Unlock()
	}()
	fn()
}

// Defer pushes a named cleanup onto the LIFO cleanup stack. Cleanups run
// in RunCleanups, masked, in reverse registration order.
func (c *Context) Defer(name string, fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanups = append(c.cleanups, cleanupFn{name: name, fn: fn})
}

// RunCleanups runs every registered cleanup, masked, LIFO, aggregating any
// errors instead of stopping at the first one.
func (c *Context) RunCleanups() error {
	c.mu.Lock()
	stack := c.cleanups
	c.cleanups = nil
	c.mu.Unlock()

	var merr *multierror.Error
	c.Mask(func() {
		for i := len(stack) - 1; i >= 0; i-- {
			if err := stack[i].fn(); err != nil {
				merr = multierror.Append(merr, errors.Wrapf(err, "cleanup %q", stack[i].name))
			}
		}
	})
	if merr != nil {
		return merr.ErrorOrNil()
	}
	return nil
}

// Elapsed returns the wall-clock duration since the request began.
func (c *Context) Elapsed() time.Duration {
	return time.Since(c.startedAt)
}

// Std returns the stdlib context.Context view, for handing to APIs that
// accept one (net/http, database/sql, ...).
func (c *Context) Std() context.Context {
	return c.parent
}

type valuesKey struct{}

// region-scoped value store; intentionally separate from Std()'s value
// chain so dependency injection doesn't leak into arbitrary library calls
// that happen to accept a context.Context.
type valueStore struct {
	mu sync.RWMutex
	m  map[any]any
}

func (c *Context) store() *valueStore {
	v := c.parent.Value(valuesKey{})
	if vs, ok := v.(*valueStore); ok {
		return vs
	}
	// lazily attach on first use; safe because Context itself is not
	// shared across goroutines without external synchronization beyond
	// what its own methods provide.
	vs := &valueStore{m: make(map[any]any)}
	c.parent = context.WithValue(c.parent, valuesKey{}, vs)
	return vs
}

// SetValue stores a request-scoped value under key.
func (c *Context) SetValue(key, val any) {
	vs := c.store()
	vs.mu.Lock()
	defer vs.mu.Unlock()
	vs.m[key] = val
}

// Value returns a request-scoped value previously stored with SetValue.
func (c *Context) Value(key any) (any, bool) {
	vs := c.store()
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	v, ok := vs.m[key]
	return v, ok
}

// Spawn spawns a child Context sharing the same cancellation source but
// with its own cleanup stack and budget, used when a handler fans work out
// to sub-tasks that should not cancel the parent request on their own.
func (c *Context) Spawn(region string) *Context {
	child := New(c.parent, region)
	return child
}
