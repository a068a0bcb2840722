// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*
	Package mountbench benchmarks a FUSE-style object storage mount
	under increasing concurrent client load. A benchmark comprises a
	set of test units, each bound to one provisioned remote host, and
	a ramp driver that runs a fixed sequence of test phases across a
	growing prefix of those units: at ramp level L, the first L units
	run concurrently, so that level-by-level averages show how the
	mount behaves as clients are added.

	Each unit implements the four-phase TestUnit capability:

		SetupEnvironment -> PreTestSetup -> ExecuteTest -> Cleanup

	SetupEnvironment runs once, across all units, before the ramp
	begins. The remaining phases run once per level, each phase fanned
	out to one goroutine per unit and declared complete only when every
	participating unit's call has returned successfully within the
	per-unit timeout. A single failure or timeout invalidates the whole
	phase and aborts the ramp; levels completed so far are still
	reported.

	ExecuteTest is the only phase that produces a measurement: its
	RunResult carries the parsed timings of the create, read, and
	delete workloads. Per-level averages are computed over passing
	measurements only, with -1 denoting an operation for which no
	measurement passed.

	The subpackages supply the collaborators: ec2cloud provisions the
	EC2 hosts, s3store manages the backing bucket, sshexec runs remote
	commands, and mounttest implements the s3fs-fuse scenario.
	Cmd/mountbench ties them together into a command line tool.
*/
package mountbench
