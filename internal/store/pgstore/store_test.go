package pgstore

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"cronagent/internal/store"
	"cronagent/internal/store/storetest"
)

// newStore connects to TEST_PG_DSN and resets the cron tables to the seed
// state. Tests against one database run sequentially.
func newStore(t *testing.T) store.Store {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, dsn, true, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, err = s.Pool().Exec(ctx, `TRUNCATE cron__log, cron__schedule, cron__tasks, cron__settings RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	_, err = s.Pool().Exec(ctx, `
		INSERT INTO cron__settings (setting, value) VALUES
			('enabled', 'true'), ('retry', '3600'), ('logLife', '30'),
			('sseLoop', 'false'), ('sseRetry', '10000'), ('maxThreads', '4');
		INSERT INTO cron__tasks (task, handler, max_time, min_frequency, system, description)
		VALUES ('logs.purge', 'logs.purge', 600, 3600, TRUE, 'Deletes journal events older than logLife days');
		INSERT INTO cron__schedule (task, arguments, instance, frequency, system)
		VALUES ('logs.purge', '', 1, 86400, TRUE);`)
	require.NoError(t, err)
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, newStore)
}
