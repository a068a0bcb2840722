// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package mounttest

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/grailbio/testutil"
)

func TestLoadWorkload(t *testing.T) {
	temp, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	path := filepath.Join(temp, "workload.yaml")
	config := `
file_count: 500
file_type: random
`
	if err := ioutil.WriteFile(path, []byte(config), 0644); err != nil {
		t.Fatal(err)
	}
	w, err := LoadWorkload(path)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := w.FileCount, 500; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := w.FileType, FileTypeRandom; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	// Omitted fields keep their defaults.
	if got, want := w.BlockSize, 1024; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := w.MountDir, "/mnt/bucket"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestLoadWorkloadInvalid(t *testing.T) {
	temp, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	for _, test := range []struct {
		name   string
		config string
	}{
		{"badtype.yaml", "file_type: sparse\n"},
		{"badcount.yaml", "file_count: -1\n"},
		{"badyaml.yaml", "file_count: [\n"},
	} {
		path := filepath.Join(temp, test.name)
		if err := ioutil.WriteFile(path, []byte(test.config), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadWorkload(path); err == nil {
			t.Errorf("%s: expected error", test.name)
		}
	}

	if _, err := LoadWorkload(filepath.Join(temp, "nonexistent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestDefaultWorkloadValid(t *testing.T) {
	if err := DefaultWorkload().validate(); err != nil {
		t.Fatal(err)
	}
}
