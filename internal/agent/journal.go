package agent

import (
	"context"
	"log/slog"
	"time"

	"cronagent/internal/domain"
	"cronagent/internal/store"
)

// Event is one call into the journal.
type Event struct {
	Type     domain.EventType
	Message  string
	Instance *domain.InstanceKey
	// EndStream terminates the run; Err (if any) reaches the caller.
	EndStream bool
	Err       error
}

// Journal persists events to the log table, echoes them to slog and fans them
// out to the run's stream and the configured notifiers.
type Journal struct {
	store     store.Journal
	log       *slog.Logger
	notifiers []Notifier
	now       func() time.Time

	stream Stream
	token  *domain.ClaimToken
	retry  time.Duration
}

// NewJournal creates a journal over s. s may be nil (slog only).
func NewJournal(s store.Journal, log *slog.Logger, notifiers ...Notifier) *Journal {
	if log == nil {
		log = slog.Default()
	}
	return &Journal{store: s, log: log.With("component", "journal"), notifiers: notifiers, now: time.Now}
}

// forRun binds the journal to one run.
func (j *Journal) forRun(stream Stream, token domain.ClaimToken, retry time.Duration) *Journal {
	c := *j
	c.stream = stream
	c.token = &token
	c.retry = retry
	return &c
}

// Log records e. It returns Fatal when e ends the stream.
func (j *Journal) Log(ctx context.Context, e Event) Result {
	rec := domain.LogEvent{
		Time:     j.now().UTC(),
		Type:     e.Type,
		RunBy:    j.token,
		Instance: e.Instance,
		Message:  e.Message,
	}
	if rec.Message == "" && e.Err != nil {
		rec.Message = e.Err.Error()
	}
	if e.Instance == nil && !e.Type.Standalone() {
		j.log.Warn("journal event without instance", "type", e.Type)
	}

	j.echo(ctx, rec, e)
	if j.store != nil {
		if err := j.store.AppendLog(context.WithoutCancel(ctx), rec); err != nil {
			j.log.Error("journal write failed", "type", rec.Type, "message", rec.Message, "error", err)
		}
	}

	n := Notification{
		Type:     rec.Type,
		Time:     rec.Time,
		RunBy:    rec.RunBy,
		Instance: rec.Instance,
		Message:  rec.Message,
		Fatal:    e.EndStream,
		Retry:    j.retry,
	}
	if kind, ok := notificationKinds[e.Type]; ok && j.stream != nil && j.stream.Alive() {
		n.Kind = kind
		if err := j.stream.Emit(n); err != nil {
			j.log.Debug("stream emit failed", "kind", kind, "error", err)
		}
	}
	if e.EndStream || e.Type.Failure() {
		if n.Kind == "" {
			n.Kind = KindError
		}
		for _, nt := range j.notifiers {
			if err := nt.Notify(ctx, n); err != nil {
				j.log.Warn("notifier failed", "type", rec.Type, "error", err)
			}
		}
	}

	if e.EndStream {
		return Fatal(e.Err)
	}
	return Recoverable()
}

func (j *Journal) echo(ctx context.Context, rec domain.LogEvent, e Event) {
	level := slog.LevelDebug
	switch {
	case e.EndStream:
		level = slog.LevelError
	case rec.Type.Failure():
		level = slog.LevelWarn
	case rec.Type == domain.EventCycleStart, rec.Type == domain.EventCycleEnd,
		rec.Type == domain.EventHangRecovered, rec.Type == domain.EventSweep,
		rec.Type == domain.EventNoCapacity, rec.Type == domain.EventDisabled:
		level = slog.LevelInfo
	}
	attrs := []any{"type", rec.Type}
	if rec.RunBy != nil {
		attrs = append(attrs, "run_by", rec.RunBy.String())
	}
	if rec.Instance != nil {
		attrs = append(attrs, "instance", rec.Instance.String())
	}
	if e.Err != nil {
		attrs = append(attrs, "error", e.Err)
	}
	msg := rec.Message
	if msg == "" {
		msg = string(rec.Type)
	}
	j.log.Log(ctx, level, msg, attrs...)
}
