// Package logpurge implements the logs.purge system task: it deletes journal
// events older than the logLife setting.
package logpurge

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"cronagent/internal/executor"
	"cronagent/internal/settings"
	"cronagent/internal/store"
)

// Name is the registry key and the name of the seeded system task.
const Name = "logs.purge"

// Purger deletes journal events.
type Purger struct {
	journal store.Journal
	log     *slog.Logger
	now     func() time.Time
}

// New creates the handler.
func New(j store.Journal, log *slog.Logger) *Purger {
	if log == nil {
		log = slog.Default()
	}
	return &Purger{journal: j, log: log.With("handler", Name), now: time.Now}
}

// Factory registers the purger as a parameterless handler.
func (p *Purger) Factory() executor.Factory { return executor.Static(p) }

// Invoke implements executor.TaskHandler. The retention comes from the
// settings snapshot of the running batch.
func (p *Purger) Invoke(ctx context.Context, _ json.RawMessage) (any, error) {
	days := settings.FromContext(ctx).LogLife
	before := p.now().AddDate(0, 0, -days)
	n, err := p.journal.PurgeLogs(ctx, before)
	if err != nil {
		return nil, err
	}
	p.log.Info("journal purged", "deleted", n, "before", before.UTC().Format(time.RFC3339))
	return true, nil
}
