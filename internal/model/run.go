package model

import "time"

// Operation names a reconciler operation.
type Operation string

const (
	OperationBackup  Operation = "backup"
	OperationRestore Operation = "restore"
	OperationClean   Operation = "clean"
	OperationList    Operation = "list"
)

// RunState represents the state of a journaled run.
type RunState string

const (
	RunStatePending   RunState = "pending"
	RunStateCommitted RunState = "committed"
	RunStateFailed    RunState = "failed"
)

// RunRecord is one entry of the run journal.
type RunRecord struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	Operation  Operation `json:"operation"`
	Name       string    `json:"name"`
	State      RunState  `json:"state"`
	DryRun     bool      `json:"dry_run"`
	Total      int       `json:"total"`
	Created    int       `json:"created"`
	Updated    int       `json:"updated"`
	Removed    int       `json:"removed"`
	Skipped    int       `json:"skipped"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}
