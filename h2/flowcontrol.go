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

package h2

import (
	"io"
	"sync"
)

const maxWindowSize = 1<<31 - 1

// flowWindow tracks a single flow-controlled window (one per stream, plus
// one for the connection as a whole), per RFC 7540 §6.9. Window sizes are
// signed values that can go negative transiently when a SETTINGS change
// shrinks an already-partially-consumed window; senders block on the
// condition variable until a WINDOW_UPDATE brings the window back above
// zero.
type flowWindow struct {
	mu     sync.Mutex
	cond   *sync.Cond
	size   int64
	closed bool
}

func newFlowWindow(initial uint32) *flowWindow {
	w := &flowWindow{size: int64(initial)}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// tryConsume blocks until the window has capacity (or the window is
// closed), then deducts and returns min(want, capacity). A granted amount
// is never zero unless the window was closed.
func (w *flowWindow) tryConsume(want int64) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.size <= 0 && !w.closed {
		w.cond.Wait()
	}
	if w.closed {
		return 0, io.ErrClosedPipe
	}
	got := want
	if got > w.size {
		got = w.size
	}
	w.size -= got
	return got, nil
}

// consume deducts n without blocking; used on the receive side where the
// peer's DATA has already arrived and consume only does the accounting.
// Returns false if the deduction would take the window negative, i.e. the
// peer overran the advertised window.
func (w *flowWindow) consume(n uint32) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if int64(n) > w.size {
		return false
	}
	w.size -= int64(n)
	return true
}

// refund returns unconsumed capacity taken by tryConsume, when the
// connection-level window granted less than the stream-level window did.
func (w *flowWindow) refund(n int64) {
	w.mu.Lock()
	w.size += n
	w.cond.Broadcast()
	w.mu.Unlock()
}

// increase applies a WINDOW_UPDATE increment, returning an error if it
// would overflow the RFC 7540 §6.9.1 31-bit limit, and waking any sender
// blocked in tryConsume.
func (w *flowWindow) increase(n uint32) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	next := w.size + int64(n)
	if next > maxWindowSize {
		return newError("window update overflow")
	}
	w.size = next
	w.cond.Broadcast()
	return nil
}

// adjust applies the delta from a SETTINGS_INITIAL_WINDOW_SIZE change,
// per RFC 7540 §6.9.2. The result may legitimately go negative; growing
// past 2^31-1 is a flow-control violation.
func (w *flowWindow) adjust(delta int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	next := w.size + delta
	if next > maxWindowSize {
		return newError("initial window size change overflows stream window")
	}
	w.size = next
	w.cond.Broadcast()
	return nil
}

// close wakes every blocked sender with an error; used when the stream or
// connection is torn down so no goroutine stays parked on a window that
// will never refill.
func (w *flowWindow) close() {
	w.mu.Lock()
	w.closed = true
	w.cond.Broadcast()
	w.mu.Unlock()
}

func (w *flowWindow) available() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}
