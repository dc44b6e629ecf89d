package agent

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cronagent/internal/domain"
	"cronagent/internal/store"
)

type memJournal struct {
	events []domain.LogEvent
	err    error
}

func (m *memJournal) AppendLog(_ context.Context, e domain.LogEvent) error {
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, e)
	return nil
}

func (m *memJournal) ListLogs(context.Context, store.LogFilter) ([]domain.LogEvent, error) {
	return m.events, nil
}

func (m *memJournal) PurgeLogs(context.Context, time.Time) (int64, error) { return 0, nil }

func TestJournal_PersistsWithRunToken(t *testing.T) {
	mem := &memJournal{}
	token := domain.NewClaimToken()
	j := NewJournal(mem, quietLog()).forRun(nil, token, 0)
	key := domain.InstanceKey{Task: "job", Instance: 1}

	res := j.Log(context.Background(), Event{Type: domain.EventInstanceStart, Instance: &key, Message: "go"})
	assert.False(t, res.IsFatal())
	require.Len(t, mem.events, 1)
	assert.Equal(t, domain.EventInstanceStart, mem.events[0].Type)
	require.NotNil(t, mem.events[0].RunBy)
	assert.Equal(t, token, *mem.events[0].RunBy)
	assert.Equal(t, key, *mem.events[0].Instance)
}

func TestJournal_EndStreamIsFatal(t *testing.T) {
	boom := errors.New("boom")
	j := NewJournal(&memJournal{}, quietLog())

	res := j.Log(context.Background(), Event{Type: domain.EventFailure, EndStream: true, Err: boom})
	assert.True(t, res.IsFatal())
	assert.ErrorIs(t, res.Err(), boom)

	res = j.Log(context.Background(), Event{Type: domain.EventFailure, EndStream: true})
	assert.True(t, res.IsFatal())
	assert.Error(t, res.Err(), "fatal without an error still carries one")
}

func TestJournal_WriteFailureFallsBackToSlog(t *testing.T) {
	var buf bytes.Buffer
	j := NewJournal(&memJournal{err: errors.New("disk full")}, slog.New(slog.NewTextHandler(&buf, nil)))

	res := j.Log(context.Background(), Event{Type: domain.EventCycleStart, Message: "batch"})
	assert.False(t, res.IsFatal())
	assert.Contains(t, buf.String(), "journal write failed")
	assert.Contains(t, buf.String(), "disk full")
}

func TestJournal_StreamAndNotifiers(t *testing.T) {
	stream := &fakeStream{limit: 100}
	notifier := &recordingNotifier{}
	j := NewJournal(nil, quietLog(), notifier).forRun(stream, domain.NewClaimToken(), 5*time.Second)
	key := domain.InstanceKey{Task: "job", Instance: 1}
	ctx := context.Background()

	j.Log(ctx, Event{Type: domain.EventCycleStart})
	j.Log(ctx, Event{Type: domain.EventInstanceFail, Instance: &key, Message: "unexpected result"})
	j.Log(ctx, Event{Type: domain.EventReschedule, Instance: &key})
	j.Log(ctx, Event{Type: domain.EventCycleEnd})

	assert.Equal(t, []string{KindStart, KindInstanceEnd, KindEnd}, stream.kinds)
	require.Len(t, notifier.seen, 1, "only failures reach notifiers")
	assert.Equal(t, domain.EventInstanceFail, notifier.seen[0].Type)
	assert.Equal(t, 5*time.Second, notifier.seen[0].Retry)
}

func TestJournal_DeadStreamIsSkipped(t *testing.T) {
	stream := &fakeStream{limit: 0}
	j := NewJournal(nil, quietLog()).forRun(stream, domain.NewClaimToken(), 0)
	j.Log(context.Background(), Event{Type: domain.EventCycleStart})
	assert.Empty(t, stream.kinds)
}

func TestStandaloneKinds(t *testing.T) {
	for _, e := range []domain.EventType{domain.EventCycleStart, domain.EventNoCapacity, domain.EventEmpty} {
		assert.True(t, e.Standalone(), e)
	}
	assert.False(t, domain.EventInstanceStart.Standalone())
}

func TestResult(t *testing.T) {
	assert.False(t, Recoverable().IsFatal())
	assert.NoError(t, Recoverable().Err())
	assert.True(t, Fatal(nil).IsFatal())
}
