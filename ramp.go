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

// DefaultPhaseTimeout bounds how long the driver waits on each unit
// within a single phase call when the Driver does not specify its own
// timeout.
const DefaultPhaseTimeout = 900 * time.Second

// levelState enumerates the states a ramp level passes through.
// Levels proceed monotonically from idle to done, except that any
// phase failure moves the level to aborted, which terminates the
// whole ramp.
type levelState int

const (
	idle levelState = iota
	preSetup
	executing
	cleaningUp
	done
	aborted
)

// String returns a levelState's string.
func (s levelState) String() string {
	switch s {
	case idle:
		return "IDLE"
	case preSetup:
		return "PRESETUP"
	case executing:
		return "EXECUTING"
	case cleaningUp:
		return "CLEANINGUP"
	case done:
		return "DONE"
	case aborted:
		return "ABORTED"
	default:
		panic(fmt.Sprintf("invalid level state %d", s))
	}
}

// A Driver runs the ramp-up loop over a fixed, ordered set of test
// units. The driver itself is single-threaded: it blocks on one phase
// barrier at a time and never issues two phases concurrently.
type Driver struct {
	// Units are the test units available to the ramp, in the order in
	// which they are added to it: level L runs over Units[:L].
	Units []TestUnit

	// PhaseTimeout is the per-unit timeout applied to every phase
	// call. If zero, DefaultPhaseTimeout is used.
	PhaseTimeout time.Duration

	state levelState
}

// Run executes the ramp: a one-time warm-up that runs
// SetupEnvironment across all of the driver's units, then, for each
// level L from 1 through levels, PreTestSetup, ExecuteTest, and
// Cleanup across the prefix Units[:L], appending level L's averages
// to the report after its cleanup completes.
//
// Any phase failure aborts the ramp: no further levels are attempted,
// and Run returns the failure alongside the report accumulated
// through the last fully completed level. The report may be empty if
// the warm-up or level 1 itself fails. Releasing provisioned
// resources is the caller's concern; Run touches units only through
// their phases.
func (d *Driver) Run(ctx context.Context, levels int) (ParallelRunReport, error) {
	if levels <= 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("ramp: levels must be > 0, got %d", levels))
	}
	if levels > len(d.Units) {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("ramp: %d levels requested but only %d units available", levels, len(d.Units)))
	}
	timeout := d.PhaseTimeout
	if timeout == 0 {
		timeout = DefaultPhaseTimeout
	}
	d.state = idle

	// Warm up every unit the ramp will ever use, not just level 1's,
	// so that environment setup cost is paid once, up front, and
	// never skews a level's measurements.
	log.Printf("ramp: setting up environment on %d units", len(d.Units))
	if _, err := executePhase(ctx, d.Units, SetupEnvironment, timeout); err != nil {
		d.state = aborted
		return ParallelRunReport{}, err
	}

	report := make(ParallelRunReport, 0, levels)
	for level := 1; level <= levels; level++ {
		units := d.Units[:level]
		log.Printf("ramp: level %d: running %d concurrent units", level, len(units))

		d.state = preSetup
		if _, err := executePhase(ctx, units, PreTestSetup, timeout); err != nil {
			d.state = aborted
			return report, err
		}

		d.state = executing
		results, err := executePhase(ctx, units, ExecuteTest, timeout)
		if err != nil {
			d.state = aborted
			return report, err
		}

		d.state = cleaningUp
		if _, err := executePhase(ctx, units, Cleanup, timeout); err != nil {
			log.Error.Printf("ramp: level %d: cleanup failed: %v", level, err)
			d.state = aborted
			return report, err
		}

		report = append(report, ComputeAverages(results, level))
		log.Printf("ramp: level %d complete", level)
	}
	d.state = done
	return report, nil
}
