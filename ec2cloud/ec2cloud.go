// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package ec2cloud provisions the EC2 instances that host mountbench
// test units. A Provisioner owns the full lifecycle of its fleet: it
// launches a fixed-count set of on-demand instances, waits for them
// to reach the running state, and terminates all of them on teardown.
package ec2cloud

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/retry"
	"golang.org/x/time/rate"
)

const (
	// DefaultAMI is an Ubuntu image with the toolchain the s3fs build
	// needs available from the package archives.
	DefaultAMI = "ami-2afbde4a"
	// DefaultInstanceType keeps fleet cost low; the workload is bound
	// by the object store, not the instance.
	DefaultInstanceType = "t2.micro"
	// DefaultUsername is the login user baked into DefaultAMI.
	DefaultUsername = "ubuntu"
	// DefaultSecurityGroup is created on demand with SSH ingress when
	// it does not already exist.
	DefaultSecurityGroup = "mountbenchSecGrp"

	securityGroupDesc = "SSH access for mountbench clients"
)

// retryPolicy is used to retry rate-limited EC2 API calls.
var retryPolicy = retry.Backoff(time.Second, 10*time.Second, 2)

// limiter rate limits EC2 calls so that a large fleet request does
// not turn into a thundering herd against the API.
var limiter = rate.NewLimiter(rate.Limit(1), 2)

// A Host is one provisioned remote instance. Its ID is stable for the
// life of the benchmark and doubles as the test unit identity.
type Host struct {
	// ID is the EC2 instance ID.
	ID string
	// Addr is the address remote commands are sent to: the public DNS
	// name when one is assigned, otherwise the best available IP.
	Addr string
}

// A Provisioner creates and destroys the benchmark's EC2 fleet. The
// zero value is usable after setting the credential fields; Connect
// must be called before any other method.
type Provisioner struct {
	// Region is the EC2 region in which instances are launched.
	Region string
	// AccessKey and SecretKey are the AWS credentials to use.
	AccessKey, SecretKey string
	// KeyPairName names an EC2 key pair that must already exist; its
	// private key is what sshexec later authenticates with.
	KeyPairName string
	// AMI, InstanceType, and SecurityGroup override their defaults
	// when nonempty.
	AMI           string
	InstanceType  string
	SecurityGroup string

	api         ec2iface.EC2API
	instanceIDs []string
}

// Connect establishes the EC2 session, verifies that the configured
// key pair exists on the AWS side, and ensures the security group,
// creating it with SSH ingress when absent. It must be called before
// CreateInstances.
func (p *Provisioner) Connect(ctx context.Context) error {
	if p.AMI == "" {
		p.AMI = DefaultAMI
	}
	if p.InstanceType == "" {
		p.InstanceType = DefaultInstanceType
	}
	if p.SecurityGroup == "" {
		p.SecurityGroup = DefaultSecurityGroup
	}
	if p.api == nil {
		sess, err := session.NewSession(&aws.Config{
			Region:      aws.String(p.Region),
			Credentials: credentials.NewStaticCredentials(p.AccessKey, p.SecretKey, ""),
		})
		if err != nil {
			return errors.E("ec2cloud: new session", err)
		}
		p.api = ec2.New(sess)
	}
	out, err := p.api.DescribeKeyPairsWithContext(ctx, &ec2.DescribeKeyPairsInput{
		KeyNames: []*string{aws.String(p.KeyPairName)},
	})
	if err != nil {
		return errors.E("ec2cloud: describe-key-pairs", p.KeyPairName, err)
	}
	if len(out.KeyPairs) == 0 {
		return errors.E(errors.NotExist, fmt.Sprintf("ec2cloud: key pair %s not found", p.KeyPairName))
	}
	return p.ensureSecurityGroup(ctx)
}

func (p *Provisioner) ensureSecurityGroup(ctx context.Context) error {
	_, err := p.api.DescribeSecurityGroupsWithContext(ctx, &ec2.DescribeSecurityGroupsInput{
		GroupNames: []*string{aws.String(p.SecurityGroup)},
	})
	if err == nil {
		return nil
	}
	if aerr, ok := err.(awserr.Error); !ok || aerr.Code() != "InvalidGroup.NotFound" {
		return errors.E("ec2cloud: describe-security-groups", p.SecurityGroup, err)
	}
	log.Printf("ec2cloud: security group %s not found, creating", p.SecurityGroup)
	_, err = p.api.CreateSecurityGroupWithContext(ctx, &ec2.CreateSecurityGroupInput{
		GroupName:   aws.String(p.SecurityGroup),
		Description: aws.String(securityGroupDesc),
	})
	if err != nil {
		return errors.E("ec2cloud: create-security-group", p.SecurityGroup, err)
	}
	_, err = p.api.AuthorizeSecurityGroupIngressWithContext(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupName:  aws.String(p.SecurityGroup),
		IpProtocol: aws.String("tcp"),
		FromPort:   aws.Int64(22),
		ToPort:     aws.Int64(22),
		CidrIp:     aws.String("0.0.0.0/0"),
	})
	if err != nil {
		return errors.E("ec2cloud: authorize-security-group-ingress", p.SecurityGroup, err)
	}
	return nil
}

// CreateInstances launches count on-demand instances and waits, up to
// timeout, for all of them to reach the running state. On a failed
// wait the instances that did start are terminated before the error
// is returned. Rate-limit errors from the EC2 API are retried with
// backoff.
func (p *Provisioner) CreateInstances(ctx context.Context, count int, timeout time.Duration) ([]*Host, error) {
	if count < 1 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("ec2cloud: invalid instance count %d", count))
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		resv *ec2.Reservation
		err  error
	)
	for retries := 0; ; retries++ {
		if err = limiter.Wait(ctx); err != nil {
			return nil, err
		}
		resv, err = p.api.RunInstancesWithContext(ctx, &ec2.RunInstancesInput{
			ImageId:                           aws.String(p.AMI),
			InstanceType:                      aws.String(p.InstanceType),
			MinCount:                          aws.Int64(int64(count)),
			MaxCount:                          aws.Int64(int64(count)),
			KeyName:                           aws.String(p.KeyPairName),
			SecurityGroups:                    []*string{aws.String(p.SecurityGroup)},
			InstanceInitiatedShutdownBehavior: aws.String("terminate"),
		})
		if err == nil {
			break
		}
		if aerr, ok := err.(awserr.Error); !ok || aerr.Code() != "RequestLimitExceeded" {
			return nil, errors.E("ec2cloud: run-instances", err)
		}
		log.Error.Printf("ec2cloud: retrying request limit error: %v", err)
		if err = retry.Wait(ctx, retryPolicy, retries); err != nil {
			return nil, err
		}
	}
	if len(resv.Instances) == 0 {
		return nil, errors.E(errors.Invalid, "ec2cloud: expected at least 1 instance")
	}
	ids := make([]string, len(resv.Instances))
	for i, inst := range resv.Instances {
		ids[i] = aws.StringValue(inst.InstanceId)
	}
	p.instanceIDs = ids
	log.Printf("ec2cloud: launched %d instances, waiting for running state", len(ids))

	describeInput := &ec2.DescribeInstancesInput{InstanceIds: aws.StringSlice(ids)}
	if err := p.api.WaitUntilInstanceRunningWithContext(ctx, describeInput); err != nil {
		log.Error.Printf("ec2cloud: WaitUntilInstanceRunning: %v", err)
		if destroyErr := p.DestroyAllInstances(ctx); destroyErr != nil {
			log.Error.Printf("ec2cloud: destroying unready instances: %v", destroyErr)
		}
		return nil, errors.E(errors.Unavailable, "ec2cloud: instances did not reach running state", err)
	}
	describe, err := p.api.DescribeInstancesWithContext(ctx, describeInput)
	if err != nil {
		return nil, errors.E("ec2cloud: describe-instances", err)
	}
	hosts := make([]*Host, 0, len(ids))
	for _, reservation := range describe.Reservations {
		for _, inst := range reservation.Instances {
			addr := address(inst)
			if addr == "" {
				return nil, errors.E(errors.Invalid, fmt.Sprintf(
					"ec2cloud: instance %s: no dns name or ip address available", aws.StringValue(inst.InstanceId)))
			}
			hosts = append(hosts, &Host{ID: aws.StringValue(inst.InstanceId), Addr: addr})
		}
	}
	if len(hosts) != count {
		return nil, errors.E(errors.Invalid, fmt.Sprintf(
			"ec2cloud: describe-instances returned %d instances, want %d", len(hosts), count))
	}
	log.Printf("ec2cloud: %d instances running", len(hosts))
	return hosts, nil
}

// DestroyAllInstances terminates every instance created by this
// provisioner and waits for all of them to reach the terminated
// state. It is a no-op when nothing was created, so it is always safe
// to call on teardown.
func (p *Provisioner) DestroyAllInstances(ctx context.Context) error {
	if len(p.instanceIDs) == 0 {
		return nil
	}
	input := &ec2.DescribeInstancesInput{InstanceIds: aws.StringSlice(p.instanceIDs)}
	if _, err := p.api.TerminateInstancesWithContext(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: aws.StringSlice(p.instanceIDs),
	}); err != nil {
		return errors.E("ec2cloud: terminate-instances", err)
	}
	if err := p.api.WaitUntilInstanceTerminatedWithContext(ctx, input); err != nil {
		return errors.E("ec2cloud: wait-until-instance-terminated", err)
	}
	log.Printf("ec2cloud: terminated %d instances", len(p.instanceIDs))
	p.instanceIDs = nil
	return nil
}

// address returns the best address for reaching an instance. A
// private DNS name is never used: it is not guaranteed to be
// resolvable from outside the VPC.
func address(inst *ec2.Instance) string {
	for _, ptr := range []*string{
		inst.PublicDnsName,
		inst.PublicIpAddress,
		inst.PrivateIpAddress,
	} {
		if val := aws.StringValue(ptr); val != "" {
			return val
		}
	}
	return ""
}
