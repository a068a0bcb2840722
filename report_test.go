// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package mountbench

import (
	"encoding/json"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/grailbio/testutil"
)

func TestReportMarshal(t *testing.T) {
	report := ParallelRunReport{
		{Level: 1, AvgCreateMs: 100, AvgReadMs: 10, AvgDeleteMs: 1},
		{Level: 2, AvgCreateMs: 150, AvgReadMs: NoData, AvgDeleteMs: 2},
	}
	b, err := report.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	var entries []map[string]string
	if err := json.Unmarshal(b, &entries); err != nil {
		t.Fatal(err)
	}
	if got, want := len(entries), 2; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got, want := entries[0]["RunId"], "1"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := entries[0]["AvgCreateTimeMs"], "100"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := entries[1]["AvgReadTimeMs"], "-1"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := entries[1]["AvgDelTimeMs"], "2"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestReportMarshalEmpty(t *testing.T) {
	b, err := ParallelRunReport{}.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(b), "[]"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestReportWrite(t *testing.T) {
	temp, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	report := ParallelRunReport{{Level: 1, AvgCreateMs: 5, AvgReadMs: 6, AvgDeleteMs: 7}}
	path := filepath.Join(temp, "report.json")
	if err := report.Write(path); err != nil {
		t.Fatal(err)
	}
	b, err := ioutil.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	marshaled, err := report.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(b), string(marshaled); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
