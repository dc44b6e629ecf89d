// Package agent runs the claim-and-execute cycle.
//
// One Run claims due instances under a fresh claim token, executes them in
// priority order and reschedules or deletes them. A streaming caller keeps
// the loop going between batches until it disconnects or the sseLoop setting
// is turned off. Only datastore unavailability and journal events flagged
// EndStream stop a run with an error; per-instance failures never do.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cronagent/internal/domain"
	"cronagent/internal/executor"
	"cronagent/internal/settings"
	"cronagent/internal/store"
)

// Datastore is the part of the store the run loop needs.
type Datastore interface {
	store.Settings
	store.Scheduler
}

// Options tune an Agent.
type Options struct {
	// Batch is the default number of instances claimed per batch.
	Batch int
	// Now overrides the clock in tests.
	Now func() time.Time
	// Sleep waits between streaming batches; it returns early on ctx.Done.
	Sleep func(ctx context.Context, d time.Duration) error
}

// RunOptions describe one caller.
type RunOptions struct {
	// Items overrides Options.Batch when positive.
	Items  int
	Stream Stream
}

// Report summarises a run.
type Report struct {
	Token     domain.ClaimToken `json:"token"`
	Batches   int               `json:"batches"`
	Claimed   int               `json:"claimed"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Recovered int               `json:"recovered"`
}

// Agent is safe for concurrent Runs; each Run uses its own claim token.
type Agent struct {
	store   Datastore
	exec    *executor.Executor
	journal *Journal
	log     *slog.Logger
	batch   int
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates an Agent.
func New(ds Datastore, exec *executor.Executor, journal *Journal, log *slog.Logger, opts Options) *Agent {
	if log == nil {
		log = slog.Default()
	}
	if journal == nil {
		journal = NewJournal(nil, log)
	}
	a := &Agent{
		store:   ds,
		exec:    exec,
		journal: journal,
		log:     log.With("component", "agent"),
		batch:   opts.Batch,
		now:     opts.Now,
		sleep:   opts.Sleep,
	}
	if a.batch <= 0 {
		a.batch = 1
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.sleep == nil {
		a.sleep = sleepCtx
	}
	return a
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Snapshot reads the current settings.
func (a *Agent) Snapshot(ctx context.Context) (settings.Snapshot, error) {
	raw, err := a.store.Settings(ctx)
	if err != nil {
		return settings.Snapshot{}, err
	}
	return settings.Parse(raw), nil
}

// Run executes batches until a termination condition holds. The error is
// non-nil only when the run ended fatally.
func (a *Agent) Run(ctx context.Context, opts RunOptions) (Report, error) {
	token := domain.NewClaimToken()
	report := Report{Token: token}
	items := opts.Items
	if items <= 0 {
		items = a.batch
	}
	j := a.journal.forRun(opts.Stream, token, 0)
	log := a.log.With("run_by", token.String())

	for {
		snap, err := a.Snapshot(ctx)
		if err != nil {
			return report, j.Log(ctx, Event{Type: domain.EventFailure, EndStream: true, Err: fmt.Errorf("read settings: %w", err)}).Err()
		}
		j.retry = snap.StreamRetry
		ctx := settings.WithContext(ctx, snap)

		if !snap.Enabled {
			j.Log(ctx, Event{Type: domain.EventDisabled, Message: "scheduling is disabled"})
			return report, nil
		}
		streaming := opts.Stream != nil && snap.StreamLoop

		report.Batches++
		res, more := a.batchOnce(ctx, j, token, items, snap, &report)
		if res.IsFatal() {
			log.Error("run terminated", "error", res.Err())
			return report, res.Err()
		}
		if !streaming || !opts.Stream.Alive() || ctx.Err() != nil {
			return report, nil
		}
		if !more {
			if err := a.sleep(ctx, snap.StreamRetry/2); err != nil {
				return report, nil
			}
		}
		if !opts.Stream.Alive() {
			return report, nil
		}
	}
}

// batchOnce runs one batch. more reports whether it did any work, so the
// streaming loop can go again without waiting.
func (a *Agent) batchOnce(ctx context.Context, j *Journal, token domain.ClaimToken, items int, snap settings.Snapshot, report *Report) (res Result, more bool) {
	j.Log(ctx, Event{Type: domain.EventCycleStart, Message: fmt.Sprintf("batch of %d", items)})

	rec, err := a.recover(ctx, j, snap)
	if err != nil {
		return j.Log(ctx, Event{Type: domain.EventFailure, EndStream: true, Err: err}), false
	}
	report.Recovered += rec.Hung

	active, err := a.store.ActiveClaims(ctx)
	if err != nil {
		return j.Log(ctx, Event{Type: domain.EventFailure, EndStream: true, Err: fmt.Errorf("count active claims: %w", err)}), false
	}
	if active >= snap.MaxThreads {
		j.Log(ctx, Event{Type: domain.EventNoCapacity, Message: fmt.Sprintf("%d of %d threads busy", active, snap.MaxThreads)})
		return Recoverable(), false
	}

	claimed, err := a.store.Claim(ctx, token, items, a.now())
	if err != nil {
		return j.Log(ctx, Event{Type: domain.EventFailure, EndStream: true, Err: fmt.Errorf("claim: %w", err)}), false
	}
	if len(claimed) == 0 {
		j.Log(ctx, Event{Type: domain.EventEmpty, Message: "nothing is due"})
		j.Log(ctx, Event{Type: domain.EventCycleEnd})
		return Recoverable(), false
	}
	report.Claimed += len(claimed)

	// Claimed rows run to completion: the caller going away is noticed
	// between batches, never inside one. Each handler is bounded by its
	// task budget.
	ctx = context.WithoutCancel(ctx)
	for _, c := range claimed {
		v, res := a.runInstance(ctx, j, token, c, snap)
		switch v {
		case verdictSucceeded:
			report.Succeeded++
		case verdictFailed:
			report.Failed++
		}
		if res.IsFatal() {
			return res, false
		}
	}
	j.Log(ctx, Event{Type: domain.EventCycleEnd, Message: fmt.Sprintf("%d succeeded, %d failed", report.Succeeded, report.Failed)})
	return Recoverable(), true
}
