package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"strings"
	"time"

	"cronagent/internal/domain"
	"cronagent/internal/shared"
)

// Outcome is the interpreted result of one run.
type Outcome struct {
	Success  bool
	Value    any
	Err      error
	Duration time.Duration
}

// Diagnostic returns a one-line description of the outcome.
func (o Outcome) Diagnostic() string {
	if o.Err != nil {
		return o.Err.Error()
	}
	if o.Success {
		return "success"
	}
	b, err := json.Marshal(o.Value)
	if err != nil {
		return fmt.Sprintf("unexpected result %v", o.Value)
	}
	return "unexpected result " + string(b)
}

// Executor resolves and runs task handlers.
type Executor struct {
	registry *Registry
	log      *slog.Logger
}

// New creates an Executor over registry.
func New(registry *Registry, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{registry: registry, log: log.With("component", "executor")}
}

// Resolve builds the handler for task: factory with parameters, then every
// setup call in order, each applied to the previous result.
func (e *Executor) Resolve(task domain.Task) (TaskHandler, error) {
	name := task.HandlerName()
	f, ok := e.registry.factory(name)
	if !ok {
		return nil, fmt.Errorf("%w: unknown handler %q", shared.ErrResolution, name)
	}
	h, err := f(task.Parameters)
	if err != nil {
		return nil, fmt.Errorf("%w: construct %q: %w", shared.ErrResolution, name, err)
	}
	if h == nil {
		return nil, fmt.Errorf("%w: handler %q constructed nil", shared.ErrResolution, name)
	}
	for i, call := range task.Setup {
		c, ok := h.(Chainer)
		if !ok {
			return nil, fmt.Errorf("%w: setup %d (%s): handler %q is not chainable", shared.ErrResolution, i, call.Method, name)
		}
		next, err := c.Chain(call.Method, call.Args)
		if err != nil {
			return nil, fmt.Errorf("%w: setup %d (%s): %w", shared.ErrResolution, i, call.Method, err)
		}
		if next == nil {
			return nil, fmt.Errorf("%w: setup %d (%s) returned nil", shared.ErrResolution, i, call.Method)
		}
		h = next
	}
	return h, nil
}

// Run resolves task and invokes it with instance arguments under the task's
// time budget. It never returns an error: every failure is part of Outcome.
func (e *Executor) Run(ctx context.Context, task domain.Task, key domain.InstanceKey) (out Outcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("handler panicked", "task", task.Name, "panic", r)
			out = Outcome{Err: fmt.Errorf("%w: panic: %v", shared.ErrInvocation, r)}
		}
		out.Duration = time.Since(start)
	}()

	h, err := e.Resolve(task)
	if err != nil {
		return Outcome{Err: err}
	}
	args, err := DecodeArguments(key.Arguments, key.Instance)
	if err != nil {
		return Outcome{Err: fmt.Errorf("%w: %w", shared.ErrResolution, err)}
	}

	runCtx, cancel := context.WithTimeout(ctx, task.Budget())
	defer cancel()

	value, err := h.Invoke(runCtx, args)
	if err != nil {
		if shared.IsTimeout(err) {
			return Outcome{Value: value, Err: fmt.Errorf("%w: %w", shared.ErrTimeout, err)}
		}
		return Outcome{Value: value, Err: fmt.Errorf("%w: %w", shared.ErrInvocation, err)}
	}
	ok, err := Successful(value, task.Returns)
	if err != nil {
		return Outcome{Value: value, Err: fmt.Errorf("%w: %w", shared.ErrResolution, err)}
	}
	return Outcome{Success: ok, Value: value}
}

// DecodeArguments substitutes the instance placeholder and validates the JSON text.
// An empty string yields nil arguments.
func DecodeArguments(raw string, instance int) (json.RawMessage, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	raw = strings.ReplaceAll(raw, domain.InstancePlaceholder, strconv.Itoa(instance))
	if !json.Valid([]byte(raw)) {
		return nil, fmt.Errorf("arguments are not valid JSON")
	}
	return json.RawMessage(raw), nil
}

// Successful interprets value against allowed. Without an allow-list only
// the literal boolean true is a success.
func Successful(value any, allowed []json.RawMessage) (bool, error) {
	if len(allowed) == 0 {
		b, ok := value.(bool)
		return ok && b, nil
	}
	got, err := normalize(value)
	if err != nil {
		return false, fmt.Errorf("result is not serializable: %w", err)
	}
	for _, raw := range allowed {
		var want any
		if err := json.Unmarshal(raw, &want); err != nil {
			return false, fmt.Errorf("allowed value %s is not valid JSON: %w", raw, err)
		}
		if reflect.DeepEqual(got, want) {
			return true, nil
		}
	}
	return false, nil
}

func normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	err = json.Unmarshal(b, &out)
	return out, err
}
