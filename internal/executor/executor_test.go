package executor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cronagent/internal/domain"
	"cronagent/internal/shared"
)

func returning(v any, err error) Factory {
	return Static(HandlerFunc(func(context.Context, json.RawMessage) (any, error) { return v, err }))
}

// counter is a chainable handler used to exercise setup calls.
type counter struct {
	base int
	seen *json.RawMessage
}

func (c counter) Invoke(_ context.Context, args json.RawMessage) (any, error) {
	if c.seen != nil {
		*c.seen = args
	}
	return c.base, nil
}

func (c counter) Chain(method string, args json.RawMessage) (TaskHandler, error) {
	switch method {
	case "add":
		var n int
		if err := json.Unmarshal(args, &n); err != nil {
			return nil, err
		}
		return counter{base: c.base + n, seen: c.seen}, nil
	case "double":
		return counter{base: c.base * 2, seen: c.seen}, nil
	}
	return nil, errors.New("no such method")
}

func newExecutor(t *testing.T) (*Executor, *Registry) {
	t.Helper()
	r := NewRegistry()
	return New(r, nil), r
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("b", returning(true, nil)))
	require.NoError(t, r.Register("a", returning(true, nil)))
	err := r.Register("a", returning(true, nil))
	assert.True(t, shared.IsConflict(err))
	assert.True(t, shared.IsValidation(r.Register("", nil)))
	assert.True(t, r.Has("a"))
	assert.False(t, r.Has("c"))
	assert.Equal(t, []string{"a", "b"}, r.Names())
	assert.Panics(t, func() { r.MustRegister("a", returning(true, nil)) })
}

func TestRun_TrueIsSuccess(t *testing.T) {
	e, r := newExecutor(t)
	r.MustRegister("ok", returning(true, nil))
	out := e.Run(context.Background(), domain.Task{Name: "ok"}, domain.InstanceKey{Task: "ok", Instance: 1})
	assert.True(t, out.Success)
	assert.NoError(t, out.Err)
	assert.Equal(t, "success", out.Diagnostic())
}

func TestRun_NonTrueIsFailure(t *testing.T) {
	e, r := newExecutor(t)
	r.MustRegister("str", returning("true", nil))
	out := e.Run(context.Background(), domain.Task{Name: "str"}, domain.InstanceKey{Task: "str"})
	assert.False(t, out.Success)
	assert.NoError(t, out.Err)
	assert.Equal(t, `unexpected result "true"`, out.Diagnostic())
}

func TestRun_AllowList(t *testing.T) {
	e, r := newExecutor(t)
	r.MustRegister("code", returning(map[string]int{"code": 204}, nil))
	task := domain.Task{Name: "code", Returns: []json.RawMessage{json.RawMessage(`{"code":200}`), json.RawMessage(`{"code": 204}`)}}
	out := e.Run(context.Background(), task, domain.InstanceKey{Task: "code"})
	assert.True(t, out.Success)

	task.Returns = []json.RawMessage{json.RawMessage(`true`)}
	out = e.Run(context.Background(), task, domain.InstanceKey{Task: "code"})
	assert.False(t, out.Success)
}

func TestRun_ErrorIsFailure(t *testing.T) {
	e, r := newExecutor(t)
	r.MustRegister("boom", returning(nil, errors.New("disk full")))
	out := e.Run(context.Background(), domain.Task{Name: "boom"}, domain.InstanceKey{Task: "boom"})
	assert.False(t, out.Success)
	assert.ErrorIs(t, out.Err, shared.ErrInvocation)
	assert.Contains(t, out.Diagnostic(), "disk full")
}

func TestRun_UnknownHandler(t *testing.T) {
	e, _ := newExecutor(t)
	out := e.Run(context.Background(), domain.Task{Name: "ghost"}, domain.InstanceKey{Task: "ghost"})
	assert.False(t, out.Success)
	assert.True(t, shared.HasKind(out.Err, shared.KindResolution))
}

func TestRun_PanicRecovered(t *testing.T) {
	e, r := newExecutor(t)
	r.MustRegister("panic", Static(HandlerFunc(func(context.Context, json.RawMessage) (any, error) {
		panic("kaboom")
	})))
	out := e.Run(context.Background(), domain.Task{Name: "panic"}, domain.InstanceKey{Task: "panic"})
	assert.False(t, out.Success)
	assert.ErrorIs(t, out.Err, shared.ErrInvocation)
	assert.Contains(t, out.Err.Error(), "kaboom")
}

func TestRun_Budget(t *testing.T) {
	e, r := newExecutor(t)
	r.MustRegister("slow", Static(HandlerFunc(func(ctx context.Context, _ json.RawMessage) (any, error) {
		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(2*time.Second), deadline, time.Second)
		<-ctx.Done()
		return nil, ctx.Err()
	})))
	// A budget of 2 seconds is long enough to observe the deadline and short enough for the test.
	out := e.Run(context.Background(), domain.Task{Name: "slow", MaxTime: 2}, domain.InstanceKey{Task: "slow"})
	assert.False(t, out.Success)
	assert.True(t, shared.IsTimeout(out.Err))
}

func TestRun_PlaceholderAndHandlerAlias(t *testing.T) {
	e, r := newExecutor(t)
	var seen json.RawMessage
	r.MustRegister("counter", func(params json.RawMessage) (TaskHandler, error) {
		var p struct {
			Base int `json:"base"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		return counter{base: p.Base, seen: &seen}, nil
	})
	task := domain.Task{
		Name:       "count-things",
		Handler:    "counter",
		Parameters: json.RawMessage(`{"base":3}`),
		Setup: []domain.SetupCall{
			{Method: "add", Args: json.RawMessage(`4`)},
			{Method: "double"},
		},
		Returns: []json.RawMessage{json.RawMessage(`14`)},
	}
	out := e.Run(context.Background(), task, domain.InstanceKey{Task: task.Name, Arguments: `{"shard":$cron_instance}`, Instance: 7})
	require.NoError(t, out.Err)
	assert.True(t, out.Success)
	assert.JSONEq(t, `{"shard":7}`, string(seen))
}

func TestResolve_Errors(t *testing.T) {
	e, r := newExecutor(t)
	r.MustRegister("plain", returning(true, nil))
	r.MustRegister("broken", func(json.RawMessage) (TaskHandler, error) { return nil, errors.New("bad params") })
	r.MustRegister("counter", Static(counter{}))

	_, err := e.Resolve(domain.Task{Name: "plain", Setup: []domain.SetupCall{{Method: "x"}}})
	assert.ErrorIs(t, err, shared.ErrResolution)
	_, err = e.Resolve(domain.Task{Name: "broken"})
	assert.ErrorIs(t, err, shared.ErrResolution)
	_, err = e.Resolve(domain.Task{Name: "counter", Setup: []domain.SetupCall{{Method: "missing"}}})
	assert.ErrorIs(t, err, shared.ErrResolution)
}

func TestDecodeArguments(t *testing.T) {
	args, err := DecodeArguments("", 1)
	require.NoError(t, err)
	assert.Nil(t, args)

	args, err = DecodeArguments(`["$cron_instance", 1]`, 3)
	require.NoError(t, err)
	assert.JSONEq(t, `["3", 1]`, string(args))

	_, err = DecodeArguments(`{broken`, 1)
	assert.Error(t, err)
}
