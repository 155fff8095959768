package generate

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithRetry_recoversFromTransient(t *testing.T) {
	t.Parallel()
	stub := NewStubClient("ok", "ok", "ok")
	stub.Errs = []error{
		&TransientError{Err: errors.New("rate limited")},
		&TransientError{Err: errors.New("rate limited")},
	}
	c := WithRetry(stub, 3, time.Millisecond)

	out, err := c.Complete(context.Background(), Request{User: "u"})
	if err != nil || out != "ok" {
		t.Fatalf("got %q, %v", out, err)
	}
	if stub.Calls() != 3 {
		t.Fatalf("calls = %d", stub.Calls())
	}
}

func TestWithRetry_hardErrorNotRetried(t *testing.T) {
	t.Parallel()
	stub := NewStubClient("ok")
	hard := errors.New("invalid api key")
	stub.Errs = []error{hard}
	c := WithRetry(stub, 3, time.Millisecond)

	if _, err := c.Complete(context.Background(), Request{User: "u"}); !errors.Is(err, hard) {
		t.Fatalf("err = %v", err)
	}
	if stub.Calls() != 1 {
		t.Fatalf("calls = %d", stub.Calls())
	}
}

func TestWithRetry_exhaustionReturnsLastError(t *testing.T) {
	t.Parallel()
	stub := NewStubClient("never")
	stub.Errs = []error{
		&TransientError{Err: errors.New("try 1")},
		&TransientError{Err: errors.New("try 2")},
	}
	c := WithRetry(stub, 2, time.Millisecond)

	_, err := c.Complete(context.Background(), Request{User: "u"})
	if err == nil || !IsTransient(err) {
		t.Fatalf("err = %v", err)
	}
	if stub.Calls() != 2 {
		t.Fatalf("calls = %d", stub.Calls())
	}
}

func TestWithRetry_singleAttemptPassthrough(t *testing.T) {
	t.Parallel()
	stub := NewStubClient("x")
	if c := WithRetry(stub, 1, time.Millisecond); c != Client(stub) {
		t.Fatal("maxAttempts<=1 should return the inner client unchanged")
	}
}

func TestWithRetry_honorsCancellationDuringBackoff(t *testing.T) {
	t.Parallel()
	stub := NewStubClient("never")
	stub.Errs = []error{&TransientError{Err: errors.New("transient")}}
	c := WithRetry(stub, 3, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Complete(ctx, Request{User: "u"})
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not abort on cancellation")
	}
}
