// Package pgstore implements store.Store on PostgreSQL with pgx.
//
// Claims lock the candidate window with FOR UPDATE OF s SKIP LOCKED: agents
// racing for the same rows never block each other and never share a row.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"cronagent/internal/claim"
	"cronagent/internal/domain"
	"cronagent/internal/platform/pg"
	"cronagent/internal/shared"
	"cronagent/internal/store"
	"cronagent/internal/store/pgstore/migrations"
)

var _ store.Store = (*Store)(nil)

// Store is the PostgreSQL datastore.
type Store struct {
	pool *pgxpool.Pool
	tx   *pg.TxRunner
	log  *slog.Logger
}

// New wraps an open pool.
func New(pool *pgxpool.Pool, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{pool: pool, tx: pg.NewTxRunner(pool), log: log.With("component", "pgstore")}
}

// Open waits for the database, optionally migrates it and returns the store.
func Open(ctx context.Context, dsn string, migrate bool, log *slog.Logger) (*Store, error) {
	pool, err := pg.Connect(ctx, dsn, pg.DefaultPoolOptions(), pg.WaitPolicy(), log)
	if err != nil {
		return nil, shared.MarkKind(err, shared.KindUnavailable)
	}
	s := New(pool, log)
	if migrate {
		if err := s.Migrate(dsn); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return s, nil
}

// Migrate applies the embedded schema.
func (s *Store) Migrate(dsn string) error {
	info, err := pg.ApplyMigrations(dsn, migrations.FS, migrations.Dir)
	if err != nil {
		return shared.MarkKind(err, shared.KindUnavailable)
	}
	if info.Applied {
		s.log.Info("migrations applied", "from", info.CurrentVersion, "to", info.FinalVersion)
	}
	return nil
}

// Pool exposes the pool for tests and wiring.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) Ping(ctx context.Context) error {
	return mark(pg.HealthCheck(ctx, s.pool))
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) q(ctx context.Context) pg.Querier { return s.tx.GetQuerier(ctx) }

// --- settings ---

func (s *Store) Settings(ctx context.Context) (map[string]string, error) {
	rows, err := s.q(ctx).Query(ctx, `SELECT setting, value FROM cron__settings`)
	if err != nil {
		return nil, mark(err)
	}
	out := make(map[string]string)
	var k, v string
	_, err = pgx.ForEachRow(rows, []any{&k, &v}, func() error {
		out[k] = v
		return nil
	})
	if err != nil {
		return nil, mark(err)
	}
	return out, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO cron__settings (setting, value) VALUES ($1, $2)
		ON CONFLICT (setting) DO UPDATE SET value = EXCLUDED.value`, key, value)
	return mark(err)
}

// --- scheduler ---

func (s *Store) ActiveClaims(ctx context.Context) (int, error) {
	var n int
	err := s.q(ctx).QueryRow(ctx,
		`SELECT COUNT(DISTINCT run_by) FROM cron__schedule WHERE run_by IS NOT NULL`).Scan(&n)
	return n, mark(err)
}

// scoreExpr is claim.Score in SQL so the window holds the best candidates.
const scoreExpr = `(CASE WHEN s.frequency = 0 THEN 1.0 ELSE (4294967295.0 - s.frequency) / 4294967295.0 END)
	+ ln(EXTRACT(EPOCH FROM ($1 - s.next_run)) + 2) * 100
	+ s.priority * 1000`

func (s *Store) Claim(ctx context.Context, token domain.ClaimToken, n int, now time.Time) ([]domain.Claimed, error) {
	var out []domain.Claimed
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		q := s.q(ctx)
		rows, err := q.Query(ctx, selectClaimed+`
			WHERE s.status = 0 AND s.run_by IS NULL AND s.enabled AND t.enabled
			  AND s.next_run <= $1
			ORDER BY `+scoreExpr+` DESC, s.next_run ASC
			LIMIT $2
			FOR UPDATE OF s SKIP LOCKED`, now, claim.Window(n))
		if err != nil {
			return err
		}
		window, err := collectClaimed(rows)
		if err != nil {
			return err
		}

		for _, c := range store.Pick(window, now, n) {
			k := c.Instance.InstanceKey
			tag, err := q.Exec(ctx, `
				UPDATE cron__schedule SET status = 1, run_by = $1, updated = $2
				WHERE task = $3 AND arguments = $4 AND instance = $5 AND run_by IS NULL`,
				string(token), now, k.Task, k.Arguments, k.Instance)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				continue
			}
			tok := token
			c.Instance.Status = domain.StatusClaimed
			c.Instance.RunBy = &tok
			out = append(out, c)
		}
		return nil
	})
	if err != nil {
		return nil, mark(err)
	}
	return out, nil
}

func (s *Store) MarkRunning(ctx context.Context, key domain.InstanceKey, token domain.ClaimToken, now time.Time) error {
	tag, err := s.q(ctx).Exec(ctx, `
		UPDATE cron__schedule SET status = 2, last_run = $1, updated = $1
		WHERE task = $2 AND arguments = $3 AND instance = $4 AND run_by = $5 AND status = 1`,
		now, key.Task, key.Arguments, key.Instance, string(token))
	if err != nil {
		return mark(err)
	}
	if tag.RowsAffected() == 0 {
		return store.Conflictf("instance %s is not claimed by %s", key, token)
	}
	return nil
}

func (s *Store) Reschedule(ctx context.Context, o store.Outcome) error {
	column := "last_error"
	if o.Success {
		column = "last_success"
	}
	tag, err := s.q(ctx).Exec(ctx, `
		UPDATE cron__schedule
		SET status = 0, run_by = NULL, next_run = $1, `+column+` = $2, updated = $2
		WHERE task = $3 AND arguments = $4 AND instance = $5 AND run_by = $6`,
		o.NextRun, o.At, o.Key.Task, o.Key.Arguments, o.Key.Instance, string(o.Token))
	if err != nil {
		return mark(err)
	}
	if tag.RowsAffected() == 0 {
		return store.Conflictf("instance %s is not claimed by %s", o.Key, o.Token)
	}
	return nil
}

func (s *Store) DeleteClaimed(ctx context.Context, key domain.InstanceKey, token domain.ClaimToken) error {
	tag, err := s.q(ctx).Exec(ctx, `
		DELETE FROM cron__schedule WHERE task = $1 AND arguments = $2 AND instance = $3 AND run_by = $4`,
		key.Task, key.Arguments, key.Instance, string(token))
	if err != nil {
		return mark(err)
	}
	if tag.RowsAffected() == 0 {
		return store.Conflictf("instance %s is not claimed by %s", key, token)
	}
	return nil
}

func (s *Store) MarkPendingRemoval(ctx context.Context, key domain.InstanceKey) error {
	tag, err := s.q(ctx).Exec(ctx, `
		UPDATE cron__schedule SET status = 3, run_by = NULL, updated = now()
		WHERE task = $1 AND arguments = $2 AND instance = $3`,
		key.Task, key.Arguments, key.Instance)
	if err != nil {
		return mark(err)
	}
	if tag.RowsAffected() == 0 {
		return store.NotFoundf("instance %s", key)
	}
	return nil
}

func (s *Store) SweepPendingRemoval(ctx context.Context) (int, error) {
	tag, err := s.q(ctx).Exec(ctx, `DELETE FROM cron__schedule WHERE status = 3`)
	if err != nil {
		return 0, mark(err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) Hung(ctx context.Context, now time.Time) ([]domain.Claimed, error) {
	rows, err := s.q(ctx).Query(ctx, selectClaimed+`
		WHERE s.run_by IS NOT NULL AND s.status IN (1, 2)
		  AND (CASE WHEN s.status = 2 THEN COALESCE(s.last_run, s.updated) ELSE s.updated END)
		      + (CASE WHEN t.max_time > 0 THEN t.max_time ELSE $1 END) * interval '1 second' < $2
		ORDER BY s.next_run`, domain.DefaultMaxTime, now)
	if err != nil {
		return nil, mark(err)
	}
	out, err := collectClaimed(rows)
	return out, mark(err)
}

// --- journal ---

func (s *Store) AppendLog(ctx context.Context, e domain.LogEvent) error {
	var (
		runBy, task, args *string
		instance          *int
	)
	if e.RunBy != nil {
		v := string(*e.RunBy)
		runBy = &v
	}
	if e.Instance != nil {
		task, args, instance = &e.Instance.Task, &e.Instance.Arguments, &e.Instance.Instance
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO cron__log (time, type, run_by, task, arguments, instance, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.Time, string(e.Type), runBy, task, args, instance, e.Message)
	return mark(err)
}

func (s *Store) ListLogs(ctx context.Context, f store.LogFilter) ([]domain.LogEvent, error) {
	var (
		where []string
		args  []any
	)
	if f.Task != "" {
		args = append(args, f.Task)
		where = append(where, fmt.Sprintf("task = $%d", len(args)))
	}
	if f.RunBy != "" {
		args = append(args, string(f.RunBy))
		where = append(where, fmt.Sprintf("run_by = $%d", len(args)))
	}
	query := `SELECT id, time, type, run_by, task, arguments, instance, message FROM cron__log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, mark(err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.LogEvent, error) {
		var (
			e                 domain.LogEvent
			typ               string
			runBy, task, argv *string
			instance          *int
		)
		if err := row.Scan(&e.ID, &e.Time, &typ, &runBy, &task, &argv, &instance, &e.Message); err != nil {
			return e, err
		}
		e.Type = domain.EventType(typ)
		if runBy != nil {
			tok := domain.ClaimToken(*runBy)
			e.RunBy = &tok
		}
		if task != nil {
			key := domain.InstanceKey{Task: *task}
			if argv != nil {
				key.Arguments = *argv
			}
			if instance != nil {
				key.Instance = *instance
			}
			e.Instance = &key
		}
		return e, nil
	})
	if err != nil {
		return nil, mark(err)
	}
	return out, nil
}

func (s *Store) PurgeLogs(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.q(ctx).Exec(ctx, `DELETE FROM cron__log WHERE time < $1`, before)
	if err != nil {
		return 0, mark(err)
	}
	return tag.RowsAffected(), nil
}

// mark classifies pgx errors.
func mark(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return shared.MarkKind(err, shared.KindNotFound)
	case shared.IsCanceled(err), shared.KindOf(err) != shared.KindUnknown:
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: unknown task: %w", shared.ErrNotFound, err)
		case "23514", "23502", "22P02": // check, not null, invalid text
			return shared.MarkKind(err, shared.KindValidation)
		case "23505", "40001", "40P01": // unique, serialization, deadlock
			return shared.MarkKind(err, shared.KindConflict)
		}
	}
	return shared.MarkKind(err, shared.KindUnavailable)
}
