// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package mountbench

import (
	"context"
	"fmt"
)

// A Phase names one of the four fixed test operations performed by a
// TestUnit. Phases are always invoked in the order in which they are
// declared here.
type Phase int

const (
	// SetupEnvironment installs whatever the unit's host needs before
	// any test can run: packages, binaries, directories.
	SetupEnvironment Phase = iota
	// PreTestSetup prepares a single run: mounting shares, creating
	// working directories.
	PreTestSetup
	// ExecuteTest runs the timed workload and produces the unit's
	// measurement for the current ramp level.
	ExecuteTest
	// Cleanup undoes PreTestSetup so that the next ramp level starts
	// from a clean slate. It may be invoked multiple times for the
	// same unit and must tolerate that.
	Cleanup
)

// String returns a Phase's string.
func (p Phase) String() string {
	switch p {
	case SetupEnvironment:
		return "setup_environment"
	case PreTestSetup:
		return "pre_test_setup"
	case ExecuteTest:
		return "execute_test"
	case Cleanup:
		return "cleanup"
	default:
		panic(fmt.Sprintf("invalid phase %d", p))
	}
}

// A TestUnit is one benchmark client bound to one provisioned remote
// host. Units are passive: the ramp driver decides when each phase
// runs and with how many sibling units. Implementations should embed
// NopUnit and override the phases they care about, composing behavior
// instead of inheriting it.
//
// The context passed to a phase is advisory. The executor never
// cancels it when the phase exceeds its timeout: a timed-out phase
// call is abandoned, not interrupted.
type TestUnit interface {
	// ID returns a stable identifier for the unit, conventionally the
	// identifier of the host it targets.
	ID() string

	SetupEnvironment(ctx context.Context) error
	PreTestSetup(ctx context.Context) error
	// ExecuteTest returns the unit's measurement for this level. Note
	// that a failed measurement (e.g., a timing report that could not
	// be parsed) is not an error: it is returned as a RunResult whose
	// operation statuses are false.
	ExecuteTest(ctx context.Context) (RunResult, error)
	Cleanup(ctx context.Context) error
}

// NopUnit is a TestUnit whose phases all succeed without doing
// anything. It exists to be embedded by scenario implementations.
type NopUnit struct {
	// Ident is returned by ID.
	Ident string
}

// ID implements TestUnit.
func (u NopUnit) ID() string { return u.Ident }

// SetupEnvironment implements TestUnit.
func (NopUnit) SetupEnvironment(ctx context.Context) error { return nil }

// PreTestSetup implements TestUnit.
func (NopUnit) PreTestSetup(ctx context.Context) error { return nil }

// ExecuteTest implements TestUnit.
func (u NopUnit) ExecuteTest(ctx context.Context) (RunResult, error) {
	return RunResult{ID: u.Ident}, nil
}

// Cleanup implements TestUnit.
func (NopUnit) Cleanup(ctx context.Context) error { return nil }
