// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package mountbench

import (
	"encoding/json"
	"io/ioutil"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// A ParallelRunReport is the benchmark's final artifact: one
// RunAverages per completed ramp level, ordered by level.
type ParallelRunReport []RunAverages

// reportEntry is the wire form of one level's averages. All fields
// are strings; consumers of the report depend on both the field names
// and their string typing.
type reportEntry struct {
	RunId           string
	AvgCreateTimeMs string
	AvgReadTimeMs   string
	AvgDelTimeMs    string
}

// Marshal renders the report as a JSON array with one entry per
// completed level. An empty report marshals to an empty array, not
// null.
func (r ParallelRunReport) Marshal() ([]byte, error) {
	entries := make([]reportEntry, len(r))
	for i, avg := range r {
		entries[i] = reportEntry{
			RunId:           strconv.Itoa(avg.Level),
			AvgCreateTimeMs: strconv.FormatInt(avg.AvgCreateMs, 10),
			AvgReadTimeMs:   strconv.FormatInt(avg.AvgReadMs, 10),
			AvgDelTimeMs:    strconv.FormatInt(avg.AvgDeleteMs, 10),
		}
	}
	return json.Marshal(entries)
}

// Write logs the report and, if path is nonempty, also writes it
// there. An empty report is still logged and written, flagged as
// having no results.
func (r ParallelRunReport) Write(path string) error {
	b, err := r.Marshal()
	if err != nil {
		return errors.E("report: marshal", err)
	}
	if len(r) == 0 {
		log.Printf("report: no results (no ramp level completed)")
	}
	log.Printf("report: %s", b)
	if path == "" {
		return nil
	}
	if err := ioutil.WriteFile(path, b, 0644); err != nil {
		return errors.E("report: write", path, err)
	}
	return nil
}
