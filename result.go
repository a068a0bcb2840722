// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package mountbench

import (
	"regexp"
	"strconv"
)

// NoData is the average reported for an operation with no passing
// measurements at a level. It is distinct from a genuine zero-
// duration average.
const NoData = -1

// timePattern matches the elapsed-time report emitted by the shell's
// time keyword, e.g. "real 1m2.345s". The pattern is a contract with
// the remote workload commands: if the surrounding shell workload
// ever changes its timing output, this must be versioned with it.
// The fractional digits are taken verbatim as a millisecond count,
// mirroring the textual capture exactly.
var timePattern = regexp.MustCompile(`real\s+(\d+)m(\d+)\.(\d+)s`)

// A RunResult is one unit's measurement for one ramp level: for each
// of the three timed operations, whether a timing report was found in
// the operation's output, and if so, its duration. A missing report
// leaves the status false and the duration zero; such measurements
// are excluded from averaging rather than counted as zero-duration
// passes.
type RunResult struct {
	// ID identifies the unit that produced the measurement.
	ID string

	CreateOK bool
	CreateMs int64
	ReadOK   bool
	ReadMs   int64
	DeleteOK bool
	DeleteMs int64
}

// ParseOutput extracts a RunResult from the textual output of the
// create, read, and delete workload commands run by the unit
// identified by id.
func ParseOutput(id, createOut, readOut, deleteOut string) RunResult {
	r := RunResult{ID: id}
	r.CreateOK, r.CreateMs = parseElapsed(createOut)
	r.ReadOK, r.ReadMs = parseElapsed(readOut)
	r.DeleteOK, r.DeleteMs = parseElapsed(deleteOut)
	return r
}

func parseElapsed(out string) (bool, int64) {
	m := timePattern.FindStringSubmatch(out)
	if m == nil {
		return false, 0
	}
	// The submatches are all-digit strings, so these cannot fail.
	min, _ := strconv.ParseInt(m[1], 10, 64)
	sec, _ := strconv.ParseInt(m[2], 10, 64)
	frac, _ := strconv.ParseInt(m[3], 10, 64)
	return true, min*60000 + sec*1000 + frac
}

// RunAverages aggregates one ramp level's RunResults: per operation,
// the number of passing and failing measurements and the average
// duration over the passing ones, or NoData if none passed.
type RunAverages struct {
	// Level is the ramp level the averages describe, which is also
	// the number of units that participated.
	Level int

	CreatePass, CreateFail int
	AvgCreateMs            int64
	ReadPass, ReadFail     int
	AvgReadMs              int64
	DeletePass, DeleteFail int
	AvgDeleteMs            int64
}

// ComputeAverages derives a level's RunAverages from the full set of
// that level's RunResults. It is a pure function of its arguments:
// averages are always recomputed from scratch, never incrementally
// updated.
func ComputeAverages(results []RunResult, level int) RunAverages {
	a := RunAverages{Level: level}
	var createTotal, readTotal, deleteTotal int64
	for _, r := range results {
		if r.CreateOK {
			a.CreatePass++
			createTotal += r.CreateMs
		} else {
			a.CreateFail++
		}
		if r.ReadOK {
			a.ReadPass++
			readTotal += r.ReadMs
		} else {
			a.ReadFail++
		}
		if r.DeleteOK {
			a.DeletePass++
			deleteTotal += r.DeleteMs
		} else {
			a.DeleteFail++
		}
	}
	a.AvgCreateMs = average(createTotal, a.CreatePass)
	a.AvgReadMs = average(readTotal, a.ReadPass)
	a.AvgDeleteMs = average(deleteTotal, a.DeletePass)
	return a
}

func average(total int64, count int) int64 {
	if count == 0 {
		return NoData
	}
	return total / int64(count)
}
