// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package mountbench

import (
	"context"
	"testing"
	"time"

	"github.com/grailbio/base/errors"
)

func TestWorkerSuccess(t *testing.T) {
	sink := new(resultSink)
	w := newWorker(&stubUnit{
		NopUnit: NopUnit{"a"},
		result:  RunResult{ID: "a", CreateOK: true, CreateMs: 42},
	}, ExecuteTest, sink)
	w.Go(context.Background())
	if !w.Wait(time.Minute) {
		t.Fatal("worker did not finish")
	}
	if w.Failed() {
		t.Fatalf("unexpected failure: %v", w.Err())
	}
	results := sink.take()
	if got, want := len(results), 1; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got, want := results[0].CreateMs, int64(42); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestWorkerCapturesFailure(t *testing.T) {
	scripted := errors.E("scripted failure")
	sink := new(resultSink)
	w := newWorker(&stubUnit{NopUnit: NopUnit{"a"}, execErr: scripted}, ExecuteTest, sink)
	w.Go(context.Background())
	if !w.Wait(time.Minute) {
		t.Fatal("worker did not finish")
	}
	if !w.Failed() {
		t.Fatal("expected failure")
	}
	// A failed ExecuteTest contributes nothing to the accumulator.
	if results := sink.take(); results != nil {
		t.Errorf("got %v results, want none", len(results))
	}
}

func TestWorkerLiveness(t *testing.T) {
	w := newWorker(&stubUnit{
		NopUnit:  NopUnit{"a"},
		preDelay: 100 * time.Millisecond,
	}, PreTestSetup, nil)
	w.Go(context.Background())
	if w.Wait(10 * time.Millisecond) {
		t.Fatal("worker finished unexpectedly early")
	}
	if w.Done() {
		t.Fatal("worker reported done while its phase call is still running")
	}
	// The abandoned call still runs to completion on its own.
	if !w.Wait(time.Minute) {
		t.Fatal("worker never finished")
	}
	if !w.Done() {
		t.Fatal("worker not done after Wait returned true")
	}
	if w.Failed() {
		t.Fatalf("unexpected failure: %v", w.Err())
	}
}
