package manage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"cronagent/internal/domain"
	"cronagent/internal/shared"
)

var validate = validator.New()

// TaskInput creates or updates a task definition.
type TaskInput struct {
	Name         string             `json:"name" validate:"required,max=200"`
	Handler      string             `json:"handler" validate:"max=200"`
	Parameters   json.RawMessage    `json:"parameters,omitempty"`
	Setup        []domain.SetupCall `json:"setup,omitempty" validate:"dive"`
	Returns      []json.RawMessage  `json:"returns,omitempty"`
	MaxTime      int                `json:"max_time" validate:"gte=0"`
	MinFrequency int                `json:"min_frequency" validate:"gte=0"`
	RetryAfter   int                `json:"retry" validate:"gte=0"`
	// Enabled defaults to true.
	Enabled     *bool  `json:"enabled,omitempty"`
	Description string `json:"description,omitempty"`
}

func (in TaskInput) task() domain.Task {
	enabled := in.Enabled == nil || *in.Enabled
	return domain.Task{
		Name:         strings.TrimSpace(in.Name),
		Handler:      strings.TrimSpace(in.Handler),
		Parameters:   in.Parameters,
		Setup:        in.Setup,
		Returns:      in.Returns,
		MaxTime:      in.MaxTime,
		MinFrequency: in.MinFrequency,
		RetryAfter:   in.RetryAfter,
		Enabled:      enabled,
		Description:  in.Description,
	}
}

// InstanceInput creates or updates a schedule entry.
type InstanceInput struct {
	Task      string `json:"task" validate:"required"`
	Arguments string `json:"arguments"`
	// Instance defaults to 1.
	Instance   int    `json:"instance" validate:"gte=0"`
	Frequency  int    `json:"frequency" validate:"gte=0"`
	DayOfMonth []int  `json:"day_of_month,omitempty" validate:"dive,min=1,max=31"`
	DayOfWeek  []int  `json:"day_of_week,omitempty" validate:"dive,min=1,max=7"`
	Priority   int    `json:"priority" validate:"min=0,max=255"`
	Message    string `json:"message,omitempty"`
	// Enabled defaults to true.
	Enabled *bool `json:"enabled,omitempty"`
	// NextRun defaults to now for new entries and is kept for existing ones.
	NextRun *time.Time `json:"next_run,omitempty"`
}

func (in InstanceInput) key() domain.InstanceKey {
	n := in.Instance
	if n == 0 {
		n = 1
	}
	return domain.InstanceKey{Task: strings.TrimSpace(in.Task), Arguments: strings.TrimSpace(in.Arguments), Instance: n}
}

// check runs the struct rules and reports them as one validation error.
func check(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return shared.MarkKind(err, shared.KindValidation)
	}
	msgs := make([]string, 0, len(ves))
	for _, fe := range ves {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Namespace(), fe.Tag()))
		}
	}
	return shared.Validationf("%s", strings.Join(msgs, "; "))
}
