// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package mounttest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/grailbio/base/errors"
)

// fakeRunner scripts remote command execution: each command is
// recorded, and the first scripted rule whose substring matches
// determines the outcome.
type fakeRunner struct {
	commands []string
	rules    []rule
	ready    bool
}

type rule struct {
	match string
	out   string
	err   error
}

func (r *fakeRunner) Host() string { return "203.0.113.10" }

func (r *fakeRunner) Run(_ context.Context, command string, _ time.Duration) (string, error) {
	r.commands = append(r.commands, command)
	for _, rule := range r.rules {
		if strings.Contains(command, rule.match) {
			return rule.out, rule.err
		}
	}
	return "", nil
}

func (r *fakeRunner) WaitReady(context.Context, time.Duration) error {
	r.ready = true
	return nil
}

func (r *fakeRunner) ran(substr string) bool {
	for _, c := range r.commands {
		if strings.Contains(c, substr) {
			return true
		}
	}
	return false
}

func testUnit(runner *fakeRunner, workload Workload) *Unit {
	return New("i-0abc", runner, "benchbucket", "AKID", "SECRET", workload)
}

func TestSetupEnvironment(t *testing.T) {
	runner := new(fakeRunner)
	u := testUnit(runner, DefaultWorkload())
	if err := u.SetupEnvironment(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !runner.ready {
		t.Error("setup did not wait for the guest OS")
	}
	for _, want := range []string{
		"apt-get -y update",
		"git clone https://github.com/s3fs-fuse/s3fs-fuse.git",
		"sudo make install",
		"/usr/bin/s3fs -h",
		"sudo mkdir -p /mnt/bucket",
	} {
		if !runner.ran(want) {
			t.Errorf("setup did not run %q", want)
		}
	}
}

func TestSetupEnvironmentFailure(t *testing.T) {
	runner := &fakeRunner{rules: []rule{
		{match: "make", err: errors.E("build broke")},
	}}
	u := testUnit(runner, DefaultWorkload())
	if err := u.SetupEnvironment(context.Background()); err == nil {
		t.Fatal("expected setup failure")
	}
	// Failure short-circuits the remaining steps.
	if runner.ran("mkdir -p /mnt/bucket") {
		t.Error("setup continued past a failed step")
	}
}

func TestPreTestSetup(t *testing.T) {
	runner := new(fakeRunner)
	u := testUnit(runner, DefaultWorkload())
	if err := u.PreTestSetup(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !runner.ran("AWSACCESSKEYID=AKID AWSSECRETACCESSKEY=SECRET s3fs benchbucket: /mnt/bucket") {
		t.Errorf("bucket not mounted; commands: %v", runner.commands)
	}
	if !runner.ran("mkdir -p /mnt/bucket/test_i-0abc") {
		t.Errorf("per-unit directory not created; commands: %v", runner.commands)
	}
}

func TestExecuteTest(t *testing.T) {
	runner := &fakeRunner{rules: []rule{
		{match: "dd if=/dev/zero", out: "stuff\nreal 0m1.234s\nuser 0m0.001s"},
		{match: "do cat", out: "real 0m2.345s"},
		{match: "do rm", out: "real 1m2.345s"},
	}}
	u := testUnit(runner, DefaultWorkload())
	result, err := u.ExecuteTest(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !runner.ran("seq 1 100") {
		t.Errorf("workload did not use the configured file count; commands: %v", runner.commands)
	}
	if !runner.ran("bs=1024 count=4") {
		t.Errorf("workload did not use the configured dd parameters; commands: %v", runner.commands)
	}
	if got, want := result.ID, "i-0abc"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if !result.CreateOK || result.CreateMs != 1234 {
		t.Errorf("create: got (%v, %v), want (true, 1234)", result.CreateOK, result.CreateMs)
	}
	if !result.ReadOK || result.ReadMs != 2345 {
		t.Errorf("read: got (%v, %v), want (true, 2345)", result.ReadOK, result.ReadMs)
	}
	if !result.DeleteOK || result.DeleteMs != 62345 {
		t.Errorf("delete: got (%v, %v), want (true, 62345)", result.DeleteOK, result.DeleteMs)
	}
}

func TestExecuteTestRandomFiles(t *testing.T) {
	workload := DefaultWorkload()
	workload.FileType = FileTypeRandom
	runner := new(fakeRunner)
	u := testUnit(runner, workload)
	if _, err := u.ExecuteTest(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !runner.ran("dd if=/dev/urandom") {
		t.Errorf("random workload did not read /dev/urandom; commands: %v", runner.commands)
	}
}

// TestExecuteTestCommandFailure verifies that a failing workload
// command yields a failed measurement, not an error: the phase must
// go on.
func TestExecuteTestCommandFailure(t *testing.T) {
	runner := &fakeRunner{rules: []rule{
		{match: "dd if=", err: errors.E("mount wedged")},
		{match: "do cat", out: "real 0m2.345s"},
		{match: "do rm", out: "garbage without a timing report"},
	}}
	u := testUnit(runner, DefaultWorkload())
	result, err := u.ExecuteTest(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.CreateOK || result.CreateMs != 0 {
		t.Errorf("create: got (%v, %v), want (false, 0)", result.CreateOK, result.CreateMs)
	}
	if !result.ReadOK {
		t.Error("read measurement lost")
	}
	if result.DeleteOK {
		t.Error("unparseable delete output must fail the measurement")
	}
}

func TestCleanup(t *testing.T) {
	runner := new(fakeRunner)
	u := testUnit(runner, DefaultWorkload())
	if err := u.Cleanup(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !runner.ran("rm -rf /mnt/bucket/*") {
		t.Errorf("mount contents not removed; commands: %v", runner.commands)
	}
	if !runner.ran("sudo umount /mnt/bucket") {
		t.Errorf("mount not unmounted; commands: %v", runner.commands)
	}
}
