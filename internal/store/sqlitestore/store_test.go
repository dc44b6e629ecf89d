package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cronagent/internal/platform/sqlite"
	"cronagent/internal/store"
	"cronagent/internal/store/sqlitestore/migrations"
	"cronagent/internal/store/storetest"
)

func newFileStore(t *testing.T) store.Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "cron.db"), true, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, newFileStore)
}

func TestConformance_InMemory(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		tdb := sqlite.NewTestDBInMemory(t)
		tdb.Migrate(t, migrations.FS, migrations.Dir)
		return New(tdb.DB, nil)
	})
}

func TestMigrate_Idempotent(t *testing.T) {
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "cron.db"), true, nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Migrate())
	tdb := &sqlite.TestDB{DB: s.DB()}
	for _, table := range []string{"cron__settings", "cron__tasks", "cron__schedule", "cron__log"} {
		assert.True(t, tdb.TableExists(t, table), table)
	}
	assert.Equal(t, 6, tdb.CountRows(t, "cron__settings", ""))
}
