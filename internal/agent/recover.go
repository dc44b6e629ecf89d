package agent

import (
	"context"
	"fmt"

	"cronagent/internal/domain"
	"cronagent/internal/nextrun"
	"cronagent/internal/settings"
	"cronagent/internal/shared"
	"cronagent/internal/store"
)

// Recovery counts what one sweep repaired.
type Recovery struct {
	Swept int
	Hung  int
}

// Recover deletes rows pending removal and releases claims whose owner
// overran the task's max_time, rescheduling them as failures.
func (a *Agent) Recover(ctx context.Context, snap settings.Snapshot) (Recovery, error) {
	return a.recover(ctx, a.journal, snap)
}

func (a *Agent) recover(ctx context.Context, j *Journal, snap settings.Snapshot) (Recovery, error) {
	var rec Recovery
	n, err := a.store.SweepPendingRemoval(ctx)
	if err != nil {
		return rec, shared.Wrap(err, "sweep pending removal")
	}
	rec.Swept = n
	if n > 0 {
		j.Log(ctx, Event{Type: domain.EventSweep, Message: fmt.Sprintf("removed %d pending rows", n)})
	}

	now := a.now()
	hung, err := a.store.Hung(ctx, now)
	if err != nil {
		return rec, shared.Wrap(err, "list hung instances")
	}
	for _, h := range hung {
		inst := h.Instance
		if inst.RunBy == nil {
			continue
		}
		key := inst.InstanceKey
		// A hung one-time job was not rejected; run it again right away.
		next := now
		if !inst.OneTime() {
			next = nextrun.Next(nextrun.Input{
				Previous:     inst.NextRun,
				Now:          now,
				Frequency:    inst.Frequency,
				Weekdays:     inst.DayOfWeek,
				Monthdays:    inst.DayOfMonth,
				RetryAfter:   h.Task.RetryAfter,
				OneTimeRetry: snap.OneTimeRetry,
			})
		}
		err := a.store.Reschedule(ctx, store.Outcome{Key: key, Token: *inst.RunBy, NextRun: next, At: now})
		switch {
		case err == nil:
		case shared.IsConflict(err):
			// The owner finished between the query and the update.
			continue
		default:
			return rec, shared.Wrapf(err, "recover %s", key)
		}
		rec.Hung++
		j.Log(ctx, Event{Type: domain.EventHangRecovered, Instance: &key,
			Message: fmt.Sprintf("claim %s exceeded %s", inst.RunBy, h.Task.Budget())})
	}
	return rec, nil
}
