// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package mountbench

import (
	"context"
	"fmt"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// executePhase runs one phase across the given units concurrently,
// starting one fresh worker goroutine per unit, and then waits on
// each worker for up to timeout. The phase succeeds only if every
// unit's call returned, without error, within its bound; otherwise
// executePhase returns a phase failure and no results at all, even
// for units that did finish.
//
// The returned results are the measurements gathered during an
// ExecuteTest phase, in completion order; for all other phases the
// result slice is nil. The accumulator backing it is scoped to this
// call and shared only with this call's workers.
//
// There is no cancellation: a timeout means executePhase stops
// waiting, not that the straggling unit's work stops. The abandoned
// worker's goroutine keeps running until its phase call returns on
// its own.
func executePhase(ctx context.Context, units []TestUnit, phase Phase, timeout time.Duration) ([]RunResult, error) {
	sink := new(resultSink)
	workers := make([]*worker, len(units))
	for i, unit := range units {
		workers[i] = newWorker(unit, phase, sink)
		workers[i].Go(ctx)
	}
	var hung, failed []*worker
	for _, w := range workers {
		if !w.Wait(timeout) {
			log.Error.Printf("phase %s: unit %s did not finish within %s; abandoning", phase, w.unit.ID(), timeout)
			hung = append(hung, w)
			continue
		}
		if w.Failed() {
			log.Error.Printf("phase %s: unit %s: %v", phase, w.unit.ID(), w.Err())
			failed = append(failed, w)
		}
	}
	// Timeouts take precedence: an abandoned worker tells us less
	// about the system under test than a worker that failed outright,
	// and the caller must know not to reuse its unit's host state.
	if len(hung) > 0 {
		return nil, errors.E(errors.Timeout, fmt.Sprintf(
			"phase %s: %d of %d units did not finish within %s (first: %s)",
			phase, len(hung), len(units), timeout, hung[0].unit.ID()))
	}
	if len(failed) > 0 {
		return nil, errors.E(fmt.Sprintf(
			"phase %s: %d of %d units failed (first: %s)",
			phase, len(failed), len(units), failed[0].unit.ID()), failed[0].Err())
	}
	if phase != ExecuteTest {
		return nil, nil
	}
	return sink.take(), nil
}

// IsPhaseTimeout tells whether err was caused by one or more units
// exceeding a phase's per-unit timeout, as opposed to a unit's phase
// call failing.
func IsPhaseTimeout(err error) bool {
	return errors.Is(errors.Timeout, err)
}
