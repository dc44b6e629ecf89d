// Package store defines the datastore contract shared by the PostgreSQL and
// SQLite implementations.
//
// Every claimed-row transition is guarded by the claim token: an update that
// finds no row owned by the token fails with shared.ErrConflict and changes
// nothing. Driver failures are marked shared.ErrUnavailable, missing rows
// shared.ErrNotFound.
package store

import (
	"context"
	"time"

	"cronagent/internal/domain"
)

// TablePrefix is prepended to every table name.
const TablePrefix = "cron__"

// Outcome carries the result of a run into Reschedule.
type Outcome struct {
	Key     domain.InstanceKey
	Token   domain.ClaimToken
	NextRun time.Time
	Success bool
	// At stamps last_success or last_error.
	At time.Time
}

// LogFilter narrows ListLogs.
type LogFilter struct {
	Task  string
	RunBy domain.ClaimToken
	Limit int
}

// Settings reads and writes the key/value tunables.
type Settings interface {
	Settings(ctx context.Context) (map[string]string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Scheduler is the part of the datastore the run loop drives.
type Scheduler interface {
	// ActiveClaims counts distinct non-null claim owners.
	ActiveClaims(ctx context.Context) (int, error)
	// Claim atomically moves up to n due rows to Claimed under token and
	// returns them in execution order.
	Claim(ctx context.Context, token domain.ClaimToken, n int, now time.Time) ([]domain.Claimed, error)
	MarkRunning(ctx context.Context, key domain.InstanceKey, token domain.ClaimToken, now time.Time) error
	Reschedule(ctx context.Context, o Outcome) error
	// DeleteClaimed removes a row owned by token.
	DeleteClaimed(ctx context.Context, key domain.InstanceKey, token domain.ClaimToken) error
	MarkPendingRemoval(ctx context.Context, key domain.InstanceKey) error
	SweepPendingRemoval(ctx context.Context) (int, error)
	// Hung returns rows whose run started, or which were claimed without
	// starting, more than the task's max_time before now.
	Hung(ctx context.Context, now time.Time) ([]domain.Claimed, error)
}

// Journal is the append-only event log.
type Journal interface {
	AppendLog(ctx context.Context, e domain.LogEvent) error
	ListLogs(ctx context.Context, f LogFilter) ([]domain.LogEvent, error)
	// PurgeLogs deletes events older than before and returns the count.
	PurgeLogs(ctx context.Context, before time.Time) (int64, error)
}

// Catalog manages task definitions and schedule entries.
type Catalog interface {
	UpsertTask(ctx context.Context, t domain.Task) error
	GetTask(ctx context.Context, name string) (domain.Task, error)
	ListTasks(ctx context.Context) ([]domain.Task, error)
	// DeleteTask removes the definition and cascades to its instances.
	DeleteTask(ctx context.Context, name string) error
	SetTaskSystem(ctx context.Context, name string, system bool) error

	UpsertInstance(ctx context.Context, i domain.Instance) error
	GetInstance(ctx context.Context, key domain.InstanceKey) (domain.Instance, error)
	// ListInstances returns every instance, or those of task when non-empty.
	ListInstances(ctx context.Context, task string) ([]domain.Instance, error)
	DeleteInstance(ctx context.Context, key domain.InstanceKey) error
	SetInstanceSystem(ctx context.Context, key domain.InstanceKey, system bool) error
}

// Store is the complete datastore.
type Store interface {
	Settings
	Scheduler
	Journal
	Catalog
	Ping(ctx context.Context) error
	Close() error
}
