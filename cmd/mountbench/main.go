// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Mountbench benchmarks an s3fs-fuse mount under increasing
// concurrent client load. It provisions EC2 instances, creates a
// fresh S3 bucket, mounts the bucket on every instance through
// s3fs, and then ramps up: level 1 runs the timed workload on one
// client, level 2 on two, and so on up to --clients. The result is a
// JSON report of per-level average create/read/delete times.
//
// A typical run:
//
//	% mountbench --clients 5 --bucket mountbench-run1 \
//	    --key $AWS_ACCESS_KEY_ID --secretkey $AWS_SECRET_ACCESS_KEY \
//	    --keypairname benchkey --keypairfile ~/.ssh/benchkey.pem \
//	    --region us-west-2 --outfile results.json
//
// All provisioned resources are torn down on exit, best effort, even
// when the ramp aborts early.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/mountbench"
	"github.com/grailbio/mountbench/ec2cloud"
	"github.com/grailbio/mountbench/mounttest"
	"github.com/grailbio/mountbench/s3store"
	"github.com/grailbio/mountbench/sshexec"
	"github.com/urfave/cli/v2"
)

const provisionTimeout = 10 * time.Minute

var flags = []cli.Flag{
	&cli.IntFlag{
		Name:     "clients",
		Usage:    "number of concurrent clients to ramp up to",
		Required: true,
	},
	&cli.StringFlag{
		Name:     "bucket",
		Usage:    "name of the bucket to benchmark against (recreated if it exists)",
		Required: true,
	},
	&cli.StringFlag{
		Name:     "key",
		Usage:    "AWS access key",
		Required: true,
	},
	&cli.StringFlag{
		Name:     "secretkey",
		Usage:    "AWS secret key",
		Required: true,
	},
	&cli.StringFlag{
		Name:     "keypairname",
		Usage:    "name of the EC2 key pair to launch instances with",
		Required: true,
	},
	&cli.StringFlag{
		Name:     "keypairfile",
		Usage:    "path to the .pem file of the key pair",
		Required: true,
	},
	&cli.StringFlag{
		Name:     "region",
		Usage:    "region to run instances in",
		Required: true,
	},
	&cli.StringFlag{
		Name:  "outfile",
		Usage: "file to write the JSON report to, in addition to the log",
	},
	&cli.StringFlag{
		Name:  "workload",
		Usage: "path to a YAML workload definition overriding the default workload",
	},
	&cli.StringFlag{
		Name:  "image",
		Usage: "AMI to launch client instances from",
		Value: ec2cloud.DefaultAMI,
	},
	&cli.StringFlag{
		Name:  "instance-type",
		Usage: "EC2 instance type for client instances",
		Value: ec2cloud.DefaultInstanceType,
	},
	&cli.StringFlag{
		Name:  "username",
		Usage: "login user on the client instances",
		Value: ec2cloud.DefaultUsername,
	},
	&cli.DurationFlag{
		Name:  "phase-timeout",
		Usage: "per-unit timeout for each test phase",
		Value: mountbench.DefaultPhaseTimeout,
	},
}

func main() {
	app := &cli.App{
		Name:   "mountbench",
		Usage:  "benchmark an object storage FUSE mount under increasing concurrent client load",
		Flags:  flags,
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Error.Printf("mountbench: %v", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	// All validation happens here, before any remote action.
	if clients := c.Int("clients"); clients <= 0 {
		return errors.E(errors.Invalid, fmt.Sprintf("number of clients must be > 0, got %d", clients))
	}
	if keyfile := c.String("keypairfile"); !isFile(keyfile) {
		return errors.E(errors.Invalid, "keypair file not found: "+keyfile)
	}
	workload := mounttest.DefaultWorkload()
	if path := c.String("workload"); path != "" {
		var err error
		if workload, err = mounttest.LoadWorkload(path); err != nil {
			return err
		}
	}

	report, err := benchmark(context.Background(), c, workload)
	if err != nil {
		log.Error.Printf("mountbench: benchmark failed: %v", err)
	}
	if writeErr := report.Write(c.String("outfile")); writeErr != nil {
		if err == nil {
			err = writeErr
		} else {
			log.Error.Printf("mountbench: writing report: %v", writeErr)
		}
	}
	return err
}

// benchmark runs the full benchmark and returns the report of all
// completed ramp levels. Once remote resources may exist, teardown is
// guaranteed to be attempted, whatever else fails.
func benchmark(ctx context.Context, c *cli.Context, workload mounttest.Workload) (mountbench.ParallelRunReport, error) {
	provisioner := &ec2cloud.Provisioner{
		Region:       c.String("region"),
		AccessKey:    c.String("key"),
		SecretKey:    c.String("secretkey"),
		KeyPairName:  c.String("keypairname"),
		AMI:          c.String("image"),
		InstanceType: c.String("instance-type"),
	}
	if err := provisioner.Connect(ctx); err != nil {
		return nil, err
	}
	store := &s3store.Store{
		Region:    c.String("region"),
		AccessKey: c.String("key"),
		SecretKey: c.String("secretkey"),
	}
	if err := store.Connect(); err != nil {
		return nil, err
	}
	bucket := c.String("bucket")
	defer teardown(ctx, provisioner, store, bucket)

	// Start every run from an empty bucket.
	exists, err := store.BucketExists(ctx, bucket)
	if err != nil {
		return nil, err
	}
	if exists {
		log.Printf("mountbench: bucket %s exists, recreating", bucket)
		if err := store.EraseBucket(ctx, bucket); err != nil {
			return nil, err
		}
		if err := store.DeleteBucket(ctx, bucket); err != nil {
			return nil, err
		}
	}
	if err := store.CreateBucket(ctx, bucket); err != nil {
		return nil, err
	}

	clients := c.Int("clients")
	hosts, err := provisioner.CreateInstances(ctx, clients, provisionTimeout)
	if err != nil {
		return nil, err
	}
	units := make([]mountbench.TestUnit, len(hosts))
	for i, host := range hosts {
		transport, err := sshexec.New(host.Addr, c.String("username"), c.String("keypairfile"))
		if err != nil {
			return nil, err
		}
		units[i] = mounttest.New(host.ID, transport, bucket, c.String("key"), c.String("secretkey"), workload)
	}

	driver := &mountbench.Driver{
		Units:        units,
		PhaseTimeout: c.Duration("phase-timeout"),
	}
	return driver.Run(ctx, clients)
}

// teardown releases the benchmark's remote resources. It is best
// effort: failures are logged and swallowed, and a failure to
// destroy instances never prevents the attempt to remove the bucket.
func teardown(ctx context.Context, provisioner *ec2cloud.Provisioner, store *s3store.Store, bucket string) {
	if err := provisioner.DestroyAllInstances(ctx); err != nil {
		log.Error.Printf("mountbench: destroying instances: %v", err)
	}
	if err := store.EraseBucket(ctx, bucket); err != nil {
		log.Error.Printf("mountbench: erasing bucket %s: %v", bucket, err)
	}
	if err := store.DeleteBucket(ctx, bucket); err != nil {
		log.Error.Printf("mountbench: deleting bucket %s: %v", bucket, err)
	}
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
