package agent

import (
	"context"
	"fmt"
	"time"

	"cronagent/internal/domain"
	"cronagent/internal/executor"
	"cronagent/internal/nextrun"
	"cronagent/internal/settings"
	"cronagent/internal/shared"
	"cronagent/internal/store"
)

// verdict is the per-instance tally contribution.
type verdict int

const (
	verdictSkipped verdict = iota
	verdictSucceeded
	verdictFailed
)

// runInstance drives one claimed row through
// Claimed -> Running -> (Deleted | Idle).
func (a *Agent) runInstance(ctx context.Context, j *Journal, token domain.ClaimToken, c domain.Claimed, snap settings.Snapshot) (verdict, Result) {
	inst := c.Instance
	key := inst.InstanceKey

	// The stored due time may predate a calendar change.
	if !nextrun.Qualifies(inst.NextRun, inst.DayOfWeek, inst.DayOfMonth) {
		j.Log(ctx, Event{Type: domain.EventCalendarBlocked, Instance: &key,
			Message: fmt.Sprintf("due %s is outside the calendar", inst.NextRun.UTC().Format(time.RFC3339))})
		return verdictFailed, a.reschedule(ctx, j, token, c, false, snap)
	}

	if err := a.store.MarkRunning(ctx, key, token, a.now()); err != nil {
		return verdictSkipped, a.storeFailure(ctx, j, &key, "mark running", err)
	}
	j.Log(ctx, Event{Type: domain.EventInstanceStart, Instance: &key, Message: inst.Message})

	out := a.exec.Run(ctx, c.Task, key)
	if !out.Success {
		a.log.Debug("instance failed", "instance", key.String(), "duration", out.Duration, "error", out.Err)
		j.Log(ctx, Event{Type: domain.EventInstanceFail, Instance: &key, Message: out.Diagnostic(), Err: out.Err})
		return verdictFailed, a.reschedule(ctx, j, token, c, false, snap)
	}

	j.Log(ctx, Event{Type: domain.EventInstanceEnd, Instance: &key, Message: outcomeMessage(out)})
	if inst.OneTime() {
		return verdictSucceeded, a.remove(ctx, j, token, key)
	}
	return verdictSucceeded, a.reschedule(ctx, j, token, c, true, snap)
}

func outcomeMessage(out executor.Outcome) string {
	return fmt.Sprintf("%s in %s", out.Diagnostic(), out.Duration.Round(time.Millisecond))
}

// reschedule computes the next due time and releases the claim.
func (a *Agent) reschedule(ctx context.Context, j *Journal, token domain.ClaimToken, c domain.Claimed, success bool, snap settings.Snapshot) Result {
	now := a.now()
	inst := c.Instance
	next := nextrun.Next(nextrun.Input{
		Previous:     inst.NextRun,
		Now:          now,
		Frequency:    inst.Frequency,
		Weekdays:     inst.DayOfWeek,
		Monthdays:    inst.DayOfMonth,
		Success:      success,
		RetryAfter:   c.Task.RetryAfter,
		OneTimeRetry: snap.OneTimeRetry,
	})
	key := inst.InstanceKey
	err := a.store.Reschedule(ctx, store.Outcome{Key: key, Token: token, NextRun: next, Success: success, At: now})
	if err != nil {
		return a.storeFailure(ctx, j, &key, "reschedule", err)
	}
	j.Log(ctx, Event{Type: domain.EventReschedule, Instance: &key, Message: "next run " + next.UTC().Format(time.RFC3339)})
	return Recoverable()
}

// remove deletes a completed one-time row. When the delete cannot be
// confirmed the row is marked for the next sweep instead.
func (a *Agent) remove(ctx context.Context, j *Journal, token domain.ClaimToken, key domain.InstanceKey) Result {
	err := a.store.DeleteClaimed(ctx, key, token)
	switch {
	case err == nil:
		return Recoverable()
	case shared.IsConflict(err):
		return a.storeFailure(ctx, j, &key, "delete", err)
	}
	a.log.Warn("delete failed, marking for removal", "instance", key.String(), "error", err)
	if err := a.store.MarkPendingRemoval(ctx, key); err != nil {
		return a.storeFailure(ctx, j, &key, "mark pending removal", err)
	}
	return Recoverable()
}

// storeFailure journals a failed transition. A lost claim is recoverable;
// anything else means the datastore is gone and the run stops.
func (a *Agent) storeFailure(ctx context.Context, j *Journal, key *domain.InstanceKey, op string, err error) Result {
	if shared.IsConflict(err) || shared.IsNotFound(err) {
		return j.Log(ctx, Event{Type: domain.EventRescheduleFail, Instance: key,
			Message: fmt.Sprintf("%s: claim lost: %v", op, err)})
	}
	return j.Log(ctx, Event{Type: domain.EventFailure, Instance: key, EndStream: true,
		Err: shared.Wrapf(err, "%s %s", op, key)})
}
