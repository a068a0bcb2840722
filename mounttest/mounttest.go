// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package mounttest implements the s3fs-fuse test scenario: a
// mountbench.TestUnit that installs s3fs on its host, mounts the
// benchmark bucket through it, and times file create/read/delete
// loops against the mount.
package mounttest

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/grailbio/base/log"
	"github.com/grailbio/mountbench"
)

const (
	s3fsRepo = "https://github.com/s3fs-fuse/s3fs-fuse.git"

	// aptPackages is what the s3fs build needs on a stock Ubuntu AMI.
	aptPackages = "build-essential libfuse-dev libxml2-dev mime-support" +
		" automake autotools-dev g++ git libcurl4-gnutls-dev libssl-dev" +
		" make pkg-config"

	readyTimeout    = 5 * time.Minute
	installTimeout  = 5 * time.Minute
	buildTimeout    = 5 * time.Minute
	shortTimeout    = 2 * time.Minute
	workloadTimeout = 10 * time.Minute
)

// A Runner executes shell commands on the unit's host.
// *sshexec.Transport implements it.
type Runner interface {
	// Host returns the address commands are sent to.
	Host() string
	// Run executes command and returns its combined output; it fails
	// on non-zero remote exit status or timeout.
	Run(ctx context.Context, command string, timeout time.Duration) (string, error)
	// WaitReady blocks until the host answers trivial commands.
	WaitReady(ctx context.Context, timeout time.Duration) error
}

// A Unit is one s3fs benchmark client. It satisfies
// mountbench.TestUnit; all remote interaction goes through its
// Runner.
type Unit struct {
	id     string
	runner Runner
	bucket string
	// accessKey and secretKey are handed to s3fs on the remote host
	// for mounting the bucket.
	accessKey, secretKey string
	workload             Workload
	// dir is this unit's private directory under the mount, so
	// concurrent units never touch each other's files.
	dir string
}

// New returns a Unit identified by id (conventionally the host's
// instance ID) that benchmarks bucket through runner.
func New(id string, runner Runner, bucket, accessKey, secretKey string, workload Workload) *Unit {
	return &Unit{
		id:        id,
		runner:    runner,
		bucket:    bucket,
		accessKey: accessKey,
		secretKey: secretKey,
		workload:  workload,
		dir:       path.Join(workload.MountDir, "test_"+id),
	}
}

// ID implements mountbench.TestUnit.
func (u *Unit) ID() string { return u.id }

// SetupEnvironment implements mountbench.TestUnit. It waits for the
// host's guest OS to respond, installs the build toolchain, builds
// and installs s3fs from source, and prepares the mount directory.
func (u *Unit) SetupEnvironment(ctx context.Context) error {
	if err := u.runner.WaitReady(ctx, readyTimeout); err != nil {
		return err
	}
	const aptGet = "DEBIAN_FRONTEND=noninteractive sudo apt-get -y "
	steps := []struct {
		command string
		timeout time.Duration
	}{
		{aptGet + "update", installTimeout},
		{aptGet + "install " + aptPackages, installTimeout},
		{"git clone " + s3fsRepo, shortTimeout},
		{"cd s3fs-fuse; ./autogen.sh", shortTimeout},
		{"cd s3fs-fuse; ./configure --prefix=/usr", shortTimeout},
		{"cd s3fs-fuse; make", buildTimeout},
		{"cd s3fs-fuse; sudo make install", buildTimeout},
		// Smoke test: s3fs must at least print its usage.
		{"/usr/bin/s3fs -h", shortTimeout},
		{"sudo mkdir -p " + u.workload.MountDir, shortTimeout},
		{"sudo chmod 777 " + u.workload.MountDir, shortTimeout},
	}
	for _, step := range steps {
		if _, err := u.runner.Run(ctx, step.command, step.timeout); err != nil {
			return err
		}
	}
	return nil
}

// PreTestSetup implements mountbench.TestUnit. It mounts the bucket
// and creates the unit's private directory.
func (u *Unit) PreTestSetup(ctx context.Context) error {
	mount := fmt.Sprintf("AWSACCESSKEYID=%s AWSSECRETACCESSKEY=%s s3fs %s: %s",
		u.accessKey, u.secretKey, u.bucket, u.workload.MountDir)
	if _, err := u.runner.Run(ctx, mount, shortTimeout); err != nil {
		return err
	}
	_, err := u.runner.Run(ctx, "mkdir -p "+u.dir, shortTimeout)
	return err
}

// ExecuteTest implements mountbench.TestUnit. It times the create,
// read, and delete loops on the mount and parses their timing
// reports. A workload command that fails produces a failed
// measurement for its operation, never a phase failure: one client's
// overloaded mount is a data point, not a reason to stop the ramp.
func (u *Unit) ExecuteTest(ctx context.Context) (mountbench.RunResult, error) {
	w := u.workload
	create := fmt.Sprintf("time for i in `seq 1 %d`; do dd if=%s of=%s/test$i bs=%d count=%d; done",
		w.FileCount, w.device(), u.dir, w.BlockSize, w.BlockCount)
	read := fmt.Sprintf("time for i in `seq 1 %d`; do cat %s/test$i >> /dev/null; done",
		w.FileCount, u.dir)
	del := fmt.Sprintf("time for i in `seq 1 %d`; do rm %s/test$i; done",
		w.FileCount, u.dir)
	createOut := u.timed(ctx, "create", create)
	readOut := u.timed(ctx, "read", read)
	deleteOut := u.timed(ctx, "delete", del)
	return mountbench.ParseOutput(u.id, createOut, readOut, deleteOut), nil
}

func (u *Unit) timed(ctx context.Context, op, command string) string {
	out, err := u.runner.Run(ctx, command, workloadTimeout)
	if err != nil {
		log.Error.Printf("mounttest %s: %s workload failed: %v", u.id, op, err)
		return ""
	}
	return out
}

// Cleanup implements mountbench.TestUnit. It removes everything under
// the mount and unmounts it, returning the host to its
// post-SetupEnvironment state so the next ramp level can mount
// afresh.
func (u *Unit) Cleanup(ctx context.Context) error {
	if _, err := u.runner.Run(ctx, "rm -rf "+u.workload.MountDir+"/*", workloadTimeout); err != nil {
		return err
	}
	_, err := u.runner.Run(ctx, "sudo umount "+u.workload.MountDir, shortTimeout)
	return err
}
