// Package storetest is a conformance suite run against every store.Store.
package storetest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cronagent/internal/domain"
	"cronagent/internal/settings"
	"cronagent/internal/shared"
	"cronagent/internal/store"
)

// Factory returns a freshly migrated store; it owns cleanup through t.
type Factory func(t *testing.T) store.Store

// SeedTask is the system task created by the initial migration.
const SeedTask = "logs.purge"

// Run executes the suite.
func Run(t *testing.T, newStore Factory) {
	fresh := func(t *testing.T) store.Store {
		s := newStore(t)
		// The seeded daily instance is due at migration time; keep claims deterministic.
		require.NoError(t, s.DeleteInstance(context.Background(), domain.InstanceKey{Task: SeedTask, Instance: 1}))
		return s
	}

	t.Run("Seed", func(t *testing.T) { testSeed(t, newStore(t)) })
	t.Run("Settings", func(t *testing.T) { testSettings(t, fresh(t)) })
	t.Run("TaskCatalog", func(t *testing.T) { testTaskCatalog(t, fresh(t)) })
	t.Run("InstanceCatalog", func(t *testing.T) { testInstanceCatalog(t, fresh(t)) })
	t.Run("ClaimEligibility", func(t *testing.T) { testClaimEligibility(t, fresh(t)) })
	t.Run("ClaimOrderAndDedupe", func(t *testing.T) { testClaimOrder(t, fresh(t)) })
	t.Run("ClaimWindowByScore", func(t *testing.T) { testClaimWindow(t, fresh(t)) })
	t.Run("GuardedTransitions", func(t *testing.T) { testGuarded(t, fresh(t)) })
	t.Run("PendingRemoval", func(t *testing.T) { testPendingRemoval(t, fresh(t)) })
	t.Run("Hung", func(t *testing.T) { testHung(t, fresh(t)) })
	t.Run("HungMeasuredFromClaim", func(t *testing.T) { testHungFromClaim(t, fresh(t)) })
	t.Run("Journal", func(t *testing.T) { testJournal(t, fresh(t)) })
	t.Run("ConcurrentClaim", func(t *testing.T) { testConcurrentClaim(t, fresh(t)) })
}

// Now is a second-aligned clock value; SQLite keeps unix seconds.
func Now() time.Time { return time.Now().UTC().Truncate(time.Second) }

// Task returns an enabled definition with defaults.
func Task(name string) domain.Task {
	return domain.Task{Name: name, MaxTime: 60, Enabled: true}
}

// Instance returns an enabled recurring instance due at next.
func Instance(task string, n int, next time.Time) domain.Instance {
	return domain.Instance{
		InstanceKey: domain.InstanceKey{Task: task, Instance: n},
		Frequency:   60,
		Enabled:     true,
		NextRun:     next,
	}
}

func testSeed(t *testing.T, s store.Store) {
	ctx := context.Background()
	raw, err := s.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, settings.Default(), settings.Parse(raw))
	for _, k := range settings.Keys() {
		assert.Contains(t, raw, k)
	}

	task, err := s.GetTask(ctx, SeedTask)
	require.NoError(t, err)
	assert.True(t, task.System)
	inst, err := s.GetInstance(ctx, domain.InstanceKey{Task: SeedTask, Instance: 1})
	require.NoError(t, err)
	assert.True(t, inst.System)
	assert.Equal(t, 86400, inst.Frequency)
}

func testSettings(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.SetSetting(ctx, settings.KeyMaxThreads, "2"))
	require.NoError(t, s.SetSetting(ctx, "custom", "x"))
	raw, err := s.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2", raw[settings.KeyMaxThreads])
	assert.Equal(t, "x", raw["custom"])
}

func testTaskCatalog(t *testing.T, s store.Store) {
	ctx := context.Background()
	task := domain.Task{
		Name:       "report",
		Handler:    "http.request",
		Parameters: json.RawMessage(`{"base":"https://example.test"}`),
		Setup:      []domain.SetupCall{{Method: "header", Args: json.RawMessage(`["X-A","1"]`)}},
		Returns:    []json.RawMessage{json.RawMessage(`true`), json.RawMessage(`"ok"`)},
		MaxTime:    30, MinFrequency: 60, RetryAfter: 120,
		Enabled: true, Description: "daily report",
	}
	require.NoError(t, s.UpsertTask(ctx, task))

	got, err := s.GetTask(ctx, "report")
	require.NoError(t, err)
	assert.Equal(t, task.Handler, got.Handler)
	assert.JSONEq(t, string(task.Parameters), string(got.Parameters))
	require.Len(t, got.Setup, 1)
	assert.Equal(t, "header", got.Setup[0].Method)
	require.Len(t, got.Returns, 2)
	assert.JSONEq(t, `"ok"`, string(got.Returns[1]))
	assert.Equal(t, 120, got.RetryAfter)

	task.Enabled = false
	require.NoError(t, s.UpsertTask(ctx, task))
	got, err = s.GetTask(ctx, "report")
	require.NoError(t, err)
	assert.False(t, got.Enabled)

	require.NoError(t, s.SetTaskSystem(ctx, "report", true))
	got, _ = s.GetTask(ctx, "report")
	assert.True(t, got.System)

	list, err := s.ListTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2) // report + seed

	require.NoError(t, s.UpsertInstance(ctx, Instance("report", 1, Now())))
	require.NoError(t, s.DeleteTask(ctx, "report"))
	_, err = s.GetInstance(ctx, domain.InstanceKey{Task: "report", Instance: 1})
	assert.True(t, shared.IsNotFound(err), "instances cascade with their task")

	assert.True(t, shared.IsNotFound(s.DeleteTask(ctx, "report")))
	assert.True(t, shared.IsNotFound(s.SetTaskSystem(ctx, "report", true)))
	_, err = s.GetTask(ctx, "missing")
	assert.True(t, shared.IsNotFound(err))
}

func testInstanceCatalog(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.UpsertTask(ctx, Task("mail")))

	next := Now().Add(time.Hour)
	inst := Instance("mail", 2, next)
	inst.Arguments = `["a@b.test"]`
	inst.DayOfWeek = []int{1, 5}
	inst.DayOfMonth = []int{15}
	inst.Priority = 7
	inst.Message = "weekly"
	require.NoError(t, s.UpsertInstance(ctx, inst))

	got, err := s.GetInstance(ctx, inst.InstanceKey)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 5}, got.DayOfWeek)
	assert.Equal(t, []int{15}, got.DayOfMonth)
	assert.Equal(t, 7, got.Priority)
	assert.Equal(t, "weekly", got.Message)
	assert.Equal(t, domain.StatusIdle, got.Status)
	assert.Nil(t, got.RunBy)
	assert.True(t, next.Equal(got.NextRun))
	assert.Nil(t, got.LastRun)

	inst.Priority = 9
	inst.DayOfWeek = nil
	require.NoError(t, s.UpsertInstance(ctx, inst))
	got, _ = s.GetInstance(ctx, inst.InstanceKey)
	assert.Equal(t, 9, got.Priority)
	assert.Empty(t, got.DayOfWeek)

	require.NoError(t, s.SetInstanceSystem(ctx, inst.InstanceKey, true))
	got, _ = s.GetInstance(ctx, inst.InstanceKey)
	assert.True(t, got.System)

	require.NoError(t, s.UpsertInstance(ctx, Instance("mail", 1, next)))
	list, err := s.ListInstances(ctx, "mail")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 1, list[0].Instance)

	oneTimeSystem := Instance("mail", 3, next)
	oneTimeSystem.Frequency = 0
	oneTimeSystem.System = true
	assert.Error(t, s.UpsertInstance(ctx, oneTimeSystem), "one-time jobs cannot be system jobs")

	err = s.UpsertInstance(ctx, Instance("ghost", 1, next))
	assert.True(t, shared.IsNotFound(err) || shared.IsValidation(err), "unknown task rejected: %v", err)

	require.NoError(t, s.DeleteInstance(ctx, inst.InstanceKey))
	assert.True(t, shared.IsNotFound(s.DeleteInstance(ctx, inst.InstanceKey)))
}

func testClaimEligibility(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := Now()
	require.NoError(t, s.UpsertTask(ctx, Task("on")))
	off := Task("off")
	off.Enabled = false
	require.NoError(t, s.UpsertTask(ctx, off))

	require.NoError(t, s.UpsertInstance(ctx, Instance("on", 1, now.Add(-time.Minute))))
	disabled := Instance("on", 2, now.Add(-time.Minute))
	disabled.Enabled = false
	require.NoError(t, s.UpsertInstance(ctx, disabled))
	require.NoError(t, s.UpsertInstance(ctx, Instance("on", 3, now.Add(time.Minute))))
	require.NoError(t, s.UpsertInstance(ctx, Instance("off", 1, now.Add(-time.Minute))))

	token := domain.NewClaimToken()
	got, err := s.Claim(ctx, token, 10, now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.InstanceKey{Task: "on", Instance: 1}, got[0].Instance.InstanceKey)
	assert.Equal(t, "on", got[0].Task.Name)
	assert.Equal(t, domain.StatusClaimed, got[0].Instance.Status)
	require.NotNil(t, got[0].Instance.RunBy)
	assert.Equal(t, token, *got[0].Instance.RunBy)

	stored, err := s.GetInstance(ctx, got[0].Instance.InstanceKey)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClaimed, stored.Status)

	active, err := s.ActiveClaims(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, active)

	again, err := s.Claim(ctx, domain.NewClaimToken(), 10, now)
	require.NoError(t, err)
	assert.Empty(t, again, "claimed rows are not eligible")
}

func testClaimOrder(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := Now()
	require.NoError(t, s.UpsertTask(ctx, Task("a")))
	require.NoError(t, s.UpsertTask(ctx, Task("b")))

	// Three variants of a() with the same arguments: only one may be claimed per batch.
	for n := 1; n <= 3; n++ {
		require.NoError(t, s.UpsertInstance(ctx, Instance("a", n, now.Add(-time.Duration(n)*time.Minute))))
	}
	urgent := Instance("b", 1, now)
	urgent.Priority = 3
	require.NoError(t, s.UpsertInstance(ctx, urgent))

	got, err := s.Claim(ctx, domain.NewClaimToken(), 3, now)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Instance.Task, "explicit priority first")
	assert.Equal(t, "a", got[1].Instance.Task)
	assert.Equal(t, 3, got[1].Instance.Instance, "most overdue variant wins")

	limited, err := s.Claim(ctx, domain.NewClaimToken(), 1, now)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "a", limited[0].Instance.Task)
}

func testClaimWindow(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := Now()
	due := now.Add(-100 * time.Second)
	// Recurring rows first so an unscored window of two would hold only them.
	for _, name := range []string{"r1", "r2"} {
		require.NoError(t, s.UpsertTask(ctx, Task(name)))
		require.NoError(t, s.UpsertInstance(ctx, Instance(name, 1, due)))
	}
	require.NoError(t, s.UpsertTask(ctx, Task("once")))
	once := Instance("once", 1, due)
	once.Frequency = 0
	require.NoError(t, s.UpsertInstance(ctx, once))

	got, err := s.Claim(ctx, domain.NewClaimToken(), 1, now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "once", got[0].Instance.Task, "one-time weight outranks recurring rows due at the same time")
}

func testGuarded(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := Now()
	require.NoError(t, s.UpsertTask(ctx, Task("job")))
	require.NoError(t, s.UpsertInstance(ctx, Instance("job", 1, now.Add(-time.Second))))

	token := domain.NewClaimToken()
	got, err := s.Claim(ctx, token, 1, now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	key := got[0].Instance.InstanceKey
	other := domain.NewClaimToken()

	assert.True(t, shared.IsConflict(s.MarkRunning(ctx, key, other, now)))
	require.NoError(t, s.MarkRunning(ctx, key, token, now))
	assert.True(t, shared.IsConflict(s.MarkRunning(ctx, key, token, now)), "already running")

	running, _ := s.GetInstance(ctx, key)
	assert.Equal(t, domain.StatusRunning, running.Status)
	require.NotNil(t, running.LastRun)
	assert.True(t, now.Equal(*running.LastRun))

	next := now.Add(time.Minute)
	assert.True(t, shared.IsConflict(s.Reschedule(ctx, store.Outcome{Key: key, Token: other, NextRun: next, At: now})))
	require.NoError(t, s.Reschedule(ctx, store.Outcome{Key: key, Token: token, NextRun: next, Success: true, At: now}))

	idle, _ := s.GetInstance(ctx, key)
	assert.Equal(t, domain.StatusIdle, idle.Status)
	assert.Nil(t, idle.RunBy)
	assert.True(t, next.Equal(idle.NextRun))
	require.NotNil(t, idle.LastSuccess)
	assert.Nil(t, idle.LastError)

	active, _ := s.ActiveClaims(ctx)
	assert.Zero(t, active)

	assert.True(t, shared.IsConflict(s.DeleteClaimed(ctx, key, token)), "released rows cannot be deleted by the old token")

	got, err = s.Claim(ctx, token, 1, next)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NoError(t, s.DeleteClaimed(ctx, key, token))
	_, err = s.GetInstance(ctx, key)
	assert.True(t, shared.IsNotFound(err))
}

func testPendingRemoval(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := Now()
	require.NoError(t, s.UpsertTask(ctx, Task("job")))
	require.NoError(t, s.UpsertInstance(ctx, Instance("job", 1, now.Add(-time.Second))))
	require.NoError(t, s.UpsertInstance(ctx, Instance("job", 2, now.Add(time.Hour))))

	got, err := s.Claim(ctx, domain.NewClaimToken(), 1, now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NoError(t, s.MarkPendingRemoval(ctx, got[0].Instance.InstanceKey))

	pending, _ := s.GetInstance(ctx, got[0].Instance.InstanceKey)
	assert.Equal(t, domain.StatusPendingRemoval, pending.Status)
	assert.Nil(t, pending.RunBy, "owner is cleared with the marker")

	again, err := s.Claim(ctx, domain.NewClaimToken(), 5, now)
	require.NoError(t, err)
	assert.Empty(t, again)

	n, err := s.SweepPendingRemoval(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	list, _ := s.ListInstances(ctx, "job")
	assert.Len(t, list, 1)

	assert.True(t, shared.IsNotFound(s.MarkPendingRemoval(ctx, domain.InstanceKey{Task: "job", Instance: 9})))
}

func testHung(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := Now()
	task := Task("slow")
	task.MaxTime = 60
	require.NoError(t, s.UpsertTask(ctx, task))
	require.NoError(t, s.UpsertInstance(ctx, Instance("slow", 1, now.Add(-time.Second))))
	require.NoError(t, s.UpsertInstance(ctx, Instance("slow", 2, now.Add(-time.Second))))

	token := domain.NewClaimToken()
	got, err := s.Claim(ctx, token, 1, now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NoError(t, s.MarkRunning(ctx, got[0].Instance.InstanceKey, token, now))

	hung, err := s.Hung(ctx, now.Add(59*time.Second))
	require.NoError(t, err)
	assert.Empty(t, hung, "still within budget")

	hung, err = s.Hung(ctx, now.Add(61*time.Second))
	require.NoError(t, err)
	require.Len(t, hung, 1)
	assert.Equal(t, got[0].Instance.InstanceKey, hung[0].Instance.InstanceKey)
	assert.Equal(t, 60, hung[0].Task.MaxTime)
	require.NotNil(t, hung[0].Instance.RunBy)
	assert.Equal(t, token, *hung[0].Instance.RunBy)
}

func testHungFromClaim(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := Now()
	require.NoError(t, s.UpsertTask(ctx, Task("late")))
	inst := Instance("late", 1, now.Add(-10*time.Minute))
	require.NoError(t, s.UpsertInstance(ctx, inst))

	token := domain.NewClaimToken()
	got, err := s.Claim(ctx, token, 1, now)
	require.NoError(t, err)
	require.Len(t, got, 1)

	hung, err := s.Hung(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, hung, "an overdue row claimed just now is not hung")
	hung, err = s.Hung(ctx, now.Add(59*time.Second))
	require.NoError(t, err)
	assert.Empty(t, hung)

	hung, err = s.Hung(ctx, now.Add(61*time.Second))
	require.NoError(t, err)
	require.Len(t, hung, 1, "a claim never started is hung after max_time")
	assert.Equal(t, domain.StatusClaimed, hung[0].Instance.Status)

	require.NoError(t, s.MarkRunning(ctx, inst.InstanceKey, token, now.Add(30*time.Second)))
	hung, err = s.Hung(ctx, now.Add(61*time.Second))
	require.NoError(t, err)
	assert.Empty(t, hung, "a running row is measured from its start")
}

func testJournal(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := Now()
	token := domain.NewClaimToken()
	key := domain.InstanceKey{Task: "job", Arguments: `[1]`, Instance: 2}

	require.NoError(t, s.AppendLog(ctx, domain.LogEvent{Time: now.Add(-48 * time.Hour), Type: domain.EventCycleStart, RunBy: &token}))
	require.NoError(t, s.AppendLog(ctx, domain.LogEvent{Time: now, Type: domain.EventInstanceEnd, RunBy: &token, Instance: &key, Message: "success"}))

	all, err := s.ListLogs(ctx, store.LogFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, domain.EventInstanceEnd, all[0].Type, "newest first")
	require.NotNil(t, all[0].Instance)
	assert.Equal(t, key, *all[0].Instance)
	assert.Nil(t, all[1].Instance)

	byTask, err := s.ListLogs(ctx, store.LogFilter{Task: "job", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, byTask, 1)

	n, err := s.PurgeLogs(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	all, _ = s.ListLogs(ctx, store.LogFilter{RunBy: token})
	assert.Len(t, all, 1)
}

func testConcurrentClaim(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := Now()
	require.NoError(t, s.UpsertTask(ctx, Task("race")))
	require.NoError(t, s.UpsertInstance(ctx, Instance("race", 1, now.Add(-time.Second))))

	const agents = 6
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < agents; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := s.Claim(ctx, domain.NewClaimToken(), 1, now)
			assert.NoError(t, err)
			mu.Lock()
			winners += len(got)
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners, "exactly one agent claims the row")
}
