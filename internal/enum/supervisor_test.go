package enum

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newTestSupervisor(t *testing.T, timeout time.Duration, retries int) (*Supervisor, *RunControl) {
	t.Helper()
	control := NewRunControl(timeout)
	sup := NewSupervisor(
		newTestLogger(t),
		newTestConsole(),
		control,
		newTestMetrics(t),
		rate.NewLimiter(rate.Inf, 1),
		10*time.Millisecond,
		retries,
	)
	return sup, control
}

func waitClosed(t *testing.T, ch <-chan struct{}, timeout time.Duration, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestSupervisorRunsCommandToCompletion(t *testing.T) {
	sup, control := newTestSupervisor(t, 5*time.Second, 2)
	ctx := context.Background()
	sup.Start(ctx)

	rec, err := sup.Submit(ctx, Work{Kind: WorkSecondary, Command: "true"})
	require.NoError(t, err)

	waitClosed(t, rec.Done(), 5*time.Second, "command completion")
	assert.NoError(t, rec.Err())
	assert.Len(t, rec.PIDs(), 1)

	control.MarkPrimaryComplete()

	done := make(chan struct{})
	go func() {
		sup.WaitAll()
		close(done)
	}()
	waitClosed(t, done, 2*time.Second, "supervisor shutdown")
}

func TestSupervisorRejectsEmptyCommand(t *testing.T) {
	sup, _ := newTestSupervisor(t, time.Second, 0)
	sup.Start(context.Background())

	_, err := sup.Submit(context.Background(), Work{Kind: WorkPrimary, Command: "   "})
	assert.Error(t, err)
}

func TestSupervisorRetriesTimedOutCommand(t *testing.T) {
	sup, control := newTestSupervisor(t, 50*time.Millisecond, 1)
	ctx := context.Background()
	sup.Start(ctx)

	rec, err := sup.Submit(ctx, Work{Kind: WorkSecondary, Command: "sleep 30"})
	require.NoError(t, err)

	waitClosed(t, rec.Done(), 5*time.Second, "retry exhaustion")
	assert.Error(t, rec.Err())
	assert.Len(t, rec.PIDs(), 2, "expected the original pid plus one respawn")

	control.MarkPrimaryComplete()

	done := make(chan struct{})
	go func() {
		sup.WaitAll()
		close(done)
	}()
	waitClosed(t, done, 2*time.Second, "supervisor shutdown")
}

func TestSupervisorGivesUpWithoutRetryBudget(t *testing.T) {
	sup, control := newTestSupervisor(t, 50*time.Millisecond, 0)
	ctx := context.Background()
	sup.Start(ctx)

	rec, err := sup.Submit(ctx, Work{Kind: WorkSecondary, Command: "sleep 30"})
	require.NoError(t, err)

	waitClosed(t, rec.Done(), 5*time.Second, "timeout without retries")
	assert.Error(t, rec.Err())
	assert.Len(t, rec.PIDs(), 1)

	control.MarkPrimaryComplete()
	done := make(chan struct{})
	go func() {
		sup.WaitAll()
		close(done)
	}()
	waitClosed(t, done, 2*time.Second, "supervisor shutdown")
}

func TestSupervisorTerminationWaitsForPendingSubmits(t *testing.T) {
	sup, control := newTestSupervisor(t, time.Second, 0)
	ctx := context.Background()
	sup.Start(ctx)

	control.MarkPrimaryComplete()
	control.BeginSubmit()

	done := make(chan struct{})
	go func() {
		sup.WaitAll()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("supervisor terminated while a submit was pending")
	case <-time.After(50 * time.Millisecond):
	}

	rec, err := sup.Submit(ctx, Work{Kind: WorkSecondary, Command: "true"})
	require.NoError(t, err)
	control.EndSubmit()

	waitClosed(t, rec.Done(), 5*time.Second, "command completion")
	waitClosed(t, done, 2*time.Second, "supervisor shutdown")
}
