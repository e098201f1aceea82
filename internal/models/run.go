package models

import "time"

type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusOK      RunStatus = "ok"
	RunStatusStopped RunStatus = "stopped"
	RunStatusError   RunStatus = "error"
)

// Run is one invocation of a command file, recorded in storage.
type Run struct {
	ID            int64
	CreatedAt     time.Time
	CompletedAt   *time.Time
	FilePath      string
	FileSHA256    string
	Status        RunStatus
	TotalSteps    int
	LastStepIndex int
	Error         string
}

// ResumePoint is the persisted, versioned resume record. The checkpoint
// inside is only valid against the file named here with exactly this hash.
type ResumePoint struct {
	V          int         `json:"v"`
	FilePath   string      `json:"file_path"`
	FileSHA256 string      `json:"file_sha256"`
	Checkpoint *Checkpoint `json:"checkpoint"`
	SavedAt    int64       `json:"saved_at"`
}
