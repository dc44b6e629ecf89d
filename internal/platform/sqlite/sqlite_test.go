package sqlite

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDSN(t *testing.T) {
	dsn := buildDSN("data/agent.db", DefaultOptions())
	require.True(t, strings.HasPrefix(dsn, "file:data/agent.db?"))

	q, err := url.ParseQuery(strings.SplitN(dsn, "?", 2)[1])
	require.NoError(t, err)
	assert.Contains(t, q["_pragma"], "busy_timeout(5000)")
	assert.Contains(t, q["_pragma"], "journal_mode(WAL)")
	assert.Contains(t, q["_pragma"], "foreign_keys(1)")

	opts := DefaultOptions()
	opts.WALMode = false
	assert.NotContains(t, buildDSN(":memory:", opts), "journal_mode")
}

func TestTxRunner_Commit(t *testing.T) {
	tdb := NewTestDBInMemory(t)
	tdb.Exec(t, "CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)")

	ctx := context.Background()
	err := tdb.TxRunner.WithinTx(ctx, func(ctx context.Context) error {
		assert.True(t, InTx(ctx))
		_, err := tdb.TxRunner.GetQuerier(ctx).ExecContext(ctx, "INSERT INTO t (v) VALUES (?)", "a")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, tdb.CountRows(t, "t", ""))
}

func TestTxRunner_Rollback(t *testing.T) {
	tdb := NewTestDBInMemory(t)
	tdb.Exec(t, "CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)")

	boom := errors.New("boom")
	ctx := context.Background()
	err := tdb.TxRunner.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := tdb.TxRunner.GetQuerier(ctx).ExecContext(ctx, "INSERT INTO t (v) VALUES (?)", "a"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, tdb.CountRows(t, "t", ""))
}

func TestTxRunner_Nested(t *testing.T) {
	tdb := NewTestDBInMemory(t)
	ctx := context.Background()
	err := tdb.TxRunner.WithinTx(ctx, func(ctx context.Context) error {
		return tdb.TxRunner.WithinTx(ctx, func(context.Context) error { return nil })
	})
	assert.ErrorIs(t, err, ErrNestedTx)
}

func TestTxRunner_GetQuerierOutsideTx(t *testing.T) {
	tdb := NewTestDBInMemory(t)
	assert.False(t, InTx(context.Background()))
	assert.Equal(t, tdb.DB, tdb.TxRunner.GetQuerier(context.Background()))
}

func TestTxRunner_ConcurrentImmediate(t *testing.T) {
	tdb := NewTestDBFile(t)
	tdb.Exec(t, "CREATE TABLE counter (n INTEGER NOT NULL)")
	tdb.Exec(t, "INSERT INTO counter (n) VALUES (0)")

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- tdb.TxRunner.WithinTx(context.Background(), func(ctx context.Context) error {
				q := tdb.TxRunner.GetQuerier(ctx)
				var n int
				if err := q.QueryRowContext(ctx, "SELECT n FROM counter").Scan(&n); err != nil {
					return err
				}
				_, err := q.ExecContext(ctx, "UPDATE counter SET n = ?", n+1)
				return err
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var n int
	require.NoError(t, tdb.DB.QueryRow("SELECT n FROM counter").Scan(&n))
	assert.Equal(t, workers, n, "IMMEDIATE serializes read-modify-write")
}

func TestApplyMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"m/000001_init.up.sql":   {Data: []byte("CREATE TABLE a (id INTEGER PRIMARY KEY);")},
		"m/000001_init.down.sql": {Data: []byte("DROP TABLE a;")},
		"m/000002_b.up.sql":      {Data: []byte("CREATE TABLE b (id INTEGER PRIMARY KEY);")},
		"m/000002_b.down.sql":    {Data: []byte("DROP TABLE b;")},
	}
	tdb := NewTestDBInMemory(t)

	info, err := ApplyMigrations(tdb.DB, fsys, "m")
	require.NoError(t, err)
	assert.True(t, info.Applied)
	assert.Equal(t, uint(2), info.FinalVersion)
	assert.True(t, tdb.TableExists(t, "a"))
	assert.True(t, tdb.TableExists(t, "b"))

	info, err = ApplyMigrations(tdb.DB, fsys, "m")
	require.NoError(t, err)
	assert.False(t, info.Applied)
	assert.Equal(t, uint(2), info.CurrentVersion)

	// The handle stays usable after migrating.
	require.NoError(t, tdb.DB.Ping())
}

func TestIsBusy(t *testing.T) {
	assert.True(t, IsBusy(fmt.Errorf("exec: %s", "database is locked (5) (SQLITE_BUSY)")))
	assert.False(t, IsBusy(errors.New("no such table")))
	assert.False(t, IsBusy(nil))
}
