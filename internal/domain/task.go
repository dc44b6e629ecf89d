// Package domain holds the scheduler's data model: task definitions, schedule
// entries (instances), claim tokens and journal event kinds.
package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Defaults applied to task definitions.
const (
	DefaultMaxTime = 3600 // seconds
	MaxPriority    = 255
	// InstancePlaceholder is replaced by the instance number inside stored arguments.
	InstancePlaceholder = "$cron_instance"
)

// SetupCall is one post-construction call applied to a freshly built handler.
type SetupCall struct {
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args,omitempty"`
}

// Task is a task definition: a named unit of work shared by all of its instances.
type Task struct {
	Name string `json:"task"`
	// Handler is the registry key of the invocable; empty means Name.
	Handler string `json:"handler,omitempty"`
	// Parameters are passed to the handler factory.
	Parameters json.RawMessage `json:"parameters,omitempty"`
	Setup      []SetupCall     `json:"setup,omitempty"`
	// Returns lists values considered successful; empty means literal true only.
	Returns      []json.RawMessage `json:"returns,omitempty"`
	MaxTime      int               `json:"max_time"`
	MinFrequency int               `json:"min_frequency"`
	// RetryAfter overrides the failure retry step; 0 uses the global setting.
	RetryAfter  int    `json:"retry"`
	Enabled     bool   `json:"enabled"`
	System      bool   `json:"system"`
	Description string `json:"description,omitempty"`
}

// HandlerName returns the registry key used to resolve the task.
func (t Task) HandlerName() string {
	if t.Handler != "" {
		return t.Handler
	}
	return t.Name
}

// Budget returns the wall-clock budget of a single run.
func (t Task) Budget() time.Duration {
	if t.MaxTime <= 0 {
		return DefaultMaxTime * time.Second
	}
	return time.Duration(t.MaxTime) * time.Second
}

// ClaimToken is the opaque identifier of one agent run. It correlates all rows
// the run has claimed and survives process boundaries.
type ClaimToken string

// NewClaimToken returns a fresh random token.
func NewClaimToken() ClaimToken {
	return ClaimToken(uuid.NewString())
}

func (t ClaimToken) String() string { return string(t) }

// InstanceKey is the composite identity of a schedule entry.
type InstanceKey struct {
	Task      string `json:"task" form:"task"`
	Arguments string `json:"arguments" form:"arguments"`
	Instance  int    `json:"instance" form:"instance"`
}

func (k InstanceKey) String() string {
	return fmt.Sprintf("%s(%s)#%d", k.Task, k.Arguments, k.Instance)
}
