// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package mountbench

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/grailbio/base/errors"
)

// A resultSink accumulates the RunResults produced by the workers of
// a single ExecuteTest phase call. It is created by executePhase,
// shared by that call's workers, and discarded when the call returns;
// no accumulator state survives across phase calls.
type resultSink struct {
	mu      sync.Mutex
	results []RunResult
}

func (s *resultSink) put(r RunResult) {
	s.mu.Lock()
	s.results = append(s.results, r)
	s.mu.Unlock()
}

func (s *resultSink) take() []RunResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	results := s.results
	s.results = nil
	return results
}

// A worker runs a single phase call for a single unit on its own
// goroutine and delivers the outcome through a channel the caller
// awaits. Workers cannot be cancelled: a worker that outlives its
// caller's patience is abandoned, and its goroutine runs to
// completion on its own.
type worker struct {
	unit  TestUnit
	phase Phase
	sink  *resultSink

	// err is written exactly once by the worker goroutine before done
	// is closed; it may be read only after done.
	err  error
	done chan struct{}
}

func newWorker(unit TestUnit, phase Phase, sink *resultSink) *worker {
	return &worker{
		unit:  unit,
		phase: phase,
		sink:  sink,
		done:  make(chan struct{}),
	}
}

// Go starts the worker's phase call. The context is passed through
// to the unit verbatim; in particular it is not cancelled when the
// caller stops waiting. A unit that panics is recorded as a failed
// unit; it never crashes the driver.
func (w *worker) Go(ctx context.Context) {
	go func() {
		defer close(w.done)
		defer func() {
			if p := recover(); p != nil {
				w.err = errors.E(fmt.Sprintf("unit %s: phase %s panicked: %v", w.unit.ID(), w.phase, p))
			}
		}()
		switch w.phase {
		case SetupEnvironment:
			w.err = w.unit.SetupEnvironment(ctx)
		case PreTestSetup:
			w.err = w.unit.PreTestSetup(ctx)
		case ExecuteTest:
			var result RunResult
			result, w.err = w.unit.ExecuteTest(ctx)
			if w.err == nil {
				w.sink.put(result)
			}
		case Cleanup:
			w.err = w.unit.Cleanup(ctx)
		default:
			panic(w.phase)
		}
	}()
}

// Wait blocks until the worker's phase call has returned or the
// timeout has lapsed, and reports whether the call returned in time.
// A false return means the worker was abandoned: its goroutine is
// still running, and its error state must not be consulted.
func (w *worker) Wait(timeout time.Duration) bool {
	select {
	case <-w.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Done tells whether the worker's phase call has returned.
func (w *worker) Done() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// Failed tells whether the worker's phase call returned an error. It
// may be called only after Wait has returned true.
func (w *worker) Failed() bool { return w.err != nil }

// Err returns the error recorded by the worker, if any. It may be
// called only after Wait has returned true.
func (w *worker) Err() error { return w.err }
