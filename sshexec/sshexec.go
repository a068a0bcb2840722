// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package sshexec runs shell commands on remote hosts over SSH. Each
// Transport is bound to a single host; mountbench creates one per
// provisioned instance.
package sshexec

import (
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"net"
	"strings"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/retry"
	"golang.org/x/crypto/ssh"
)

const dialTimeout = 30 * time.Second

// readyRetryPolicy paces the readiness probes in WaitReady. Freshly
// booted instances commonly refuse connections for a minute or two.
var readyRetryPolicy = retry.Backoff(5*time.Second, 30*time.Second, 1.5)

// A Transport executes commands on one remote host, authenticating
// with a private key.
type Transport struct {
	host   string
	config *ssh.ClientConfig
}

// New returns a Transport bound to host, logging in as user with the
// private key stored at keyfile.
func New(host, user, keyfile string) (*Transport, error) {
	key, err := ioutil.ReadFile(keyfile)
	if err != nil {
		return nil, errors.E(errors.NotExist, "sshexec: read key file", keyfile, err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, errors.E("sshexec: parse key file", keyfile, err)
	}
	config := &ssh.ClientConfig{
		User: user,
		Auth: []ssh.AuthMethod{ssh.PublicKeys(signer)},
		// Benchmark hosts are transitory: they are created immediately
		// before the run and terminated after it, so there is no host
		// key to pin.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         dialTimeout,
	}
	return &Transport{host: host, config: config}, nil
}

// Host returns the address the transport is bound to.
func (t *Transport) Host() string { return t.host }

// Run executes command on the host and returns its output, with
// stdout and stderr combined: the shell's timing reports, which
// callers parse, arrive on stderr. Run fails if the remote exit
// status is non-zero or the command does not complete within timeout.
// On timeout the remote command is not killed; Run merely stops
// waiting for it.
func (t *Transport) Run(ctx context.Context, command string, timeout time.Duration) (string, error) {
	log.Debug.Printf("sshexec %s: %s", t.host, command)
	type outcome struct {
		out string
		err error
	}
	// Buffered so the abandoned goroutine can deliver and exit.
	done := make(chan outcome, 1)
	go func() {
		out, err := t.run(command)
		done <- outcome{out, err}
	}()
	select {
	case o := <-done:
		return o.out, o.err
	case <-time.After(timeout):
		return "", errors.E(errors.Timeout, fmt.Sprintf(
			"sshexec %s: %q did not complete within %s", t.host, command, timeout))
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (t *Transport) run(command string) (string, error) {
	client, err := ssh.Dial("tcp", net.JoinHostPort(t.host, "22"), t.config)
	if err != nil {
		return "", errors.E(errors.Unavailable, "sshexec: dial", t.host, err)
	}
	defer client.Close()
	session, err := client.NewSession()
	if err != nil {
		return "", errors.E("sshexec: new session", t.host, err)
	}
	defer session.Close()
	var output bytes.Buffer
	session.Stdout = &output
	session.Stderr = &output
	if err := session.Run(command); err != nil {
		return "", errors.E(fmt.Sprintf("sshexec %s: %q: %s",
			t.host, command, strings.TrimSpace(output.String())), err)
	}
	return output.String(), nil
}

// WaitReady blocks until the host's guest OS answers a trivial
// command, probing with backoff for up to timeout. Instances report
// running well before sshd accepts logins, so every benchmark run
// starts here.
func (t *Transport) WaitReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for retries := 0; ; retries++ {
		_, err := t.Run(ctx, "echo hello", 2*time.Minute)
		if err == nil {
			log.Debug.Printf("sshexec %s: host ready", t.host)
			return nil
		}
		log.Printf("sshexec %s: waiting for host to respond: %v", t.host, err)
		if err := retry.Wait(ctx, readyRetryPolicy, retries); err != nil {
			return errors.E(errors.Unavailable, fmt.Sprintf(
				"sshexec %s: host never became ready", t.host), err)
		}
	}
}
