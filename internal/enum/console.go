package enum

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
)

var (
	workerPrefix = color.New(color.FgCyan, color.Bold)
	commandText  = color.New(color.FgGreen)
	completeText = color.New(color.FgMagenta, color.Bold)
)

// Console serializes every console print and log-file write through a
// single lock so output from concurrent workers never interleaves.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

func (c *Console) Printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// WorkerPrintf prints with a highlighted worker prefix so it is obvious
// which unit of work a message came from.
func (c *Console) WorkerPrintf(workerID, format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "%s %s\n", workerPrefix.Sprintf("Worker %s:", workerID), fmt.Sprintf(format, args...))
}

func (c *Console) WorkerCommand(workerID, command string) {
	c.WorkerPrintf(workerID, "%s", commandText.Sprint(command))
}

func (c *Console) WorkerComplete(workerID string) {
	c.WorkerPrintf(workerID, "%s", completeText.Sprint("Command Completed"))
}

// Locked runs fn while holding the console lock. Log-file writes go through
// here so they stay ordered with console output.
func (c *Console) Locked(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn()
}
