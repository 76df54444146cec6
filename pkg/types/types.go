package types

import (
	"time"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one enumeration run against a single target.
type Run struct {
	ID           string     `json:"id" db:"id"`
	Target       string     `json:"target" db:"target"`
	PortScanType string     `json:"port_scan_type" db:"port_scan_type"`
	OutputDir    string     `json:"output_dir" db:"output_dir"`
	Status       RunStatus  `json:"status" db:"status"`
	StartedAt    time.Time  `json:"started_at" db:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	ErrorMessage string     `json:"error_message,omitempty" db:"error_message"`
}

// CommandRecord is one concrete command issued during a run, as written to
// commands.log.
type CommandRecord struct {
	ID       string    `json:"id" db:"id"`
	RunID    string    `json:"run_id" db:"run_id"`
	WorkerID string    `json:"worker_id" db:"worker_id"`
	Command  string    `json:"command" db:"command"`
	IssuedAt time.Time `json:"issued_at" db:"issued_at"`
}

// Finding is one deduplicated pattern match extracted from a scan output
// file.
type Finding struct {
	ID          string    `json:"id" db:"id"`
	RunID       string    `json:"run_id" db:"run_id"`
	OutputFile  string    `json:"output_file" db:"output_file"`
	Description string    `json:"description" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// ServiceRecord is one open port/service discovered during primary
// enumeration, as reported in detected_services.log.
type ServiceRecord struct {
	Address  string `json:"address"`
	Port     string `json:"port"`
	Protocol string `json:"protocol"`
	Name     string `json:"name"`
	State    string `json:"state"`
}
