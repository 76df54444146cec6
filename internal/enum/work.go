package enum

import "github.com/CodeMonkeyCybersecurity/artemis/internal/config"

// WorkKind says which stage of the pipeline a command belongs to.
type WorkKind int

const (
	// WorkPrimary is a port scan whose XML output seeds the second stage.
	WorkPrimary WorkKind = iota
	// WorkSecondary is a per-service scan spawned from a primary's results.
	WorkSecondary
)

// String implements fmt.Stringer for log output.
func (k WorkKind) String() string {
	switch k {
	case WorkPrimary:
		return "primary"
	case WorkSecondary:
		return "secondary"
	default:
		return "unknown"
	}
}

// Work describes one command execution request. Everything the pipeline
// needs for post-processing travels with the work itself: the rendered
// command, the output file it will produce (when determinable), the
// template values it was rendered from, and the pattern rules to apply
// to its output.
type Work struct {
	Kind       WorkKind
	Command    string
	OutputFile string
	HasOutput  bool
	Values     map[string]string
	Rules      []config.CompiledPattern
}
