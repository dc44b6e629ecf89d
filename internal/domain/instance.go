package domain

import "time"

// Status is the lifecycle state of a schedule entry.
type Status int

const (
	StatusIdle Status = iota
	StatusClaimed
	StatusRunning
	// StatusPendingRemoval marks a row whose deletion could not be confirmed;
	// hang recovery deletes it unconditionally.
	StatusPendingRemoval
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusClaimed:
		return "claimed"
	case StatusRunning:
		return "running"
	case StatusPendingRemoval:
		return "pending-removal"
	default:
		return "unknown"
	}
}

// Instance is one schedule entry.
type Instance struct {
	InstanceKey
	// Frequency in seconds, 0 for one-time jobs.
	Frequency int `json:"frequency"`
	// DayOfMonth and DayOfWeek are calendar allow-lists (1..31, ISO 1..7).
	DayOfMonth  []int       `json:"day_of_month,omitempty"`
	DayOfWeek   []int       `json:"day_of_week,omitempty"`
	Priority    int         `json:"priority"`
	Message     string      `json:"message,omitempty"`
	Enabled     bool        `json:"enabled"`
	System      bool        `json:"system"`
	Status      Status      `json:"status"`
	RunBy       *ClaimToken `json:"run_by,omitempty"`
	NextRun     time.Time   `json:"next_run"`
	LastRun     *time.Time  `json:"last_run,omitempty"`
	LastSuccess *time.Time  `json:"last_success,omitempty"`
	LastError   *time.Time  `json:"last_error,omitempty"`
}

// OneTime reports whether the instance is deleted after its first success.
func (i Instance) OneTime() bool { return i.Frequency == 0 }

// Claimed is a claimed instance bundled with its task definition.
type Claimed struct {
	Instance Instance
	Task     Task
}
