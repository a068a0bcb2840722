// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package mounttest

import (
	"fmt"
	"io/ioutil"

	"github.com/grailbio/base/errors"
	yaml "gopkg.in/yaml.v2"
)

// File types selectable for the create workload.
const (
	// FileTypeZero writes files from /dev/zero.
	FileTypeZero = "zero"
	// FileTypeRandom writes files from /dev/urandom, defeating any
	// compression or dedup between the mount and the object store.
	FileTypeRandom = "random"
)

// A Workload describes the file workload that is timed on the mount.
// Workloads are read from YAML so that the benchmark shape can be
// changed without recompiling; zero-valued fields keep their
// defaults.
type Workload struct {
	// FileCount is the number of files each timed loop touches.
	FileCount int `yaml:"file_count,omitempty"`
	// BlockSize and BlockCount are the dd write parameters per file,
	// so each file is BlockSize*BlockCount bytes.
	BlockSize  int `yaml:"block_size,omitempty"`
	BlockCount int `yaml:"block_count,omitempty"`
	// FileType is "zero" or "random".
	FileType string `yaml:"file_type,omitempty"`
	// MountDir is where the bucket is mounted on each host.
	MountDir string `yaml:"mount_dir,omitempty"`
}

// DefaultWorkload returns the standard workload: 100 files of 4KiB
// zeroes under /mnt/bucket.
func DefaultWorkload() Workload {
	return Workload{
		FileCount:  100,
		BlockSize:  1024,
		BlockCount: 4,
		FileType:   FileTypeZero,
		MountDir:   "/mnt/bucket",
	}
}

// LoadWorkload reads a workload definition from the YAML file at
// path, applying defaults for fields the file omits.
func LoadWorkload(path string) (Workload, error) {
	w := DefaultWorkload()
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return Workload{}, errors.E(errors.NotExist, "mounttest: read workload", path, err)
	}
	if err := yaml.Unmarshal(b, &w); err != nil {
		return Workload{}, errors.E("mounttest: parse workload", path, err)
	}
	if err := w.validate(); err != nil {
		return Workload{}, err
	}
	return w, nil
}

func (w Workload) validate() error {
	switch w.FileType {
	case FileTypeZero, FileTypeRandom:
	default:
		return errors.E(errors.Invalid, fmt.Sprintf("mounttest: unknown file type %q, expected %s or %s", w.FileType, FileTypeZero, FileTypeRandom))
	}
	if w.FileCount < 1 || w.BlockSize < 1 || w.BlockCount < 1 {
		return errors.E(errors.Invalid, fmt.Sprintf("mounttest: workload counts must be positive: %+v", w))
	}
	if w.MountDir == "" {
		return errors.E(errors.Invalid, "mounttest: empty mount dir")
	}
	return nil
}

func (w Workload) device() string {
	if w.FileType == FileTypeRandom {
		return "/dev/urandom"
	}
	return "/dev/zero"
}
