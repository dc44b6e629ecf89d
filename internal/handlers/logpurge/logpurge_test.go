package logpurge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cronagent/internal/domain"
	"cronagent/internal/platform/sqlite"
	"cronagent/internal/settings"
	"cronagent/internal/store"
	"cronagent/internal/store/sqlitestore"
	"cronagent/internal/store/sqlitestore/migrations"
)

func TestInvoke_PurgesByLogLife(t *testing.T) {
	tdb := sqlite.NewTestDBInMemory(t)
	tdb.Migrate(t, migrations.FS, migrations.Dir)
	s := sqlitestore.New(tdb.DB, nil)
	ctx := context.Background()

	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	for _, age := range []int{1, 5, 40} {
		require.NoError(t, s.AppendLog(ctx, domain.LogEvent{
			Time: now.AddDate(0, 0, -age),
			Type: domain.EventCycleStart,
		}))
	}

	p := New(s, nil)
	p.now = func() time.Time { return now }

	snap := settings.Default()
	snap.LogLife = 3
	v, err := p.Invoke(settings.WithContext(ctx, snap), nil)
	require.NoError(t, err)
	assert.Equal(t, true, v)

	left, err := s.ListLogs(ctx, store.LogFilter{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.True(t, left[0].Time.Equal(now.AddDate(0, 0, -1)))
}

func TestInvoke_DefaultsWithoutSnapshot(t *testing.T) {
	tdb := sqlite.NewTestDBInMemory(t)
	tdb.Migrate(t, migrations.FS, migrations.Dir)
	s := sqlitestore.New(tdb.DB, nil)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.AppendLog(ctx, domain.LogEvent{Time: now.AddDate(0, 0, -settings.DefaultLogLife-1), Type: domain.EventEmpty}))
	require.NoError(t, s.AppendLog(ctx, domain.LogEvent{Time: now, Type: domain.EventEmpty}))

	_, err := New(s, nil).Invoke(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, tdb.CountRows(t, "cron__log", ""))
}
