package enum

import (
	"sync/atomic"
	"time"
)

// RunControl is the shared coordination state handed to both the pipeline
// and the supervisor at construction time: the uniform command timeout plus
// the primary-stage completion signal the supervisor's termination check
// consumes.
type RunControl struct {
	CommandTimeout time.Duration

	primaryDone    atomic.Bool
	pendingSubmits atomic.Int64
}

func NewRunControl(commandTimeout time.Duration) *RunControl {
	return &RunControl{CommandTimeout: commandTimeout}
}

// MarkPrimaryComplete signals that every primary scan has been issued and
// finished, so no in-flight work can seed further secondary commands.
func (c *RunControl) MarkPrimaryComplete() {
	c.primaryDone.Store(true)
}

func (c *RunControl) PrimaryComplete() bool {
	return c.primaryDone.Load()
}

// BeginSubmit/EndSubmit bracket a supervisor submission so the heartbeat
// never observes an empty record set while a parallel worker is between
// deciding to run a command and registering it.
func (c *RunControl) BeginSubmit() {
	c.pendingSubmits.Add(1)
}

func (c *RunControl) EndSubmit() {
	c.pendingSubmits.Add(-1)
}

func (c *RunControl) SubmitsPending() bool {
	return c.pendingSubmits.Load() > 0
}
