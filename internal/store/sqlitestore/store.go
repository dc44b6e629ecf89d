// Package sqlitestore implements store.Store on SQLite.
//
// Claims run under BEGIN IMMEDIATE: the single-writer lock gives the same
// exclusion the PostgreSQL store gets from FOR UPDATE SKIP LOCKED. Times are
// stored as unix seconds.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cronagent/internal/claim"
	"cronagent/internal/domain"
	"cronagent/internal/platform/sqlite"
	"cronagent/internal/shared"
	"cronagent/internal/store"
	"cronagent/internal/store/sqlitestore/migrations"
)

var _ store.Store = (*Store)(nil)

// Store is the SQLite datastore.
type Store struct {
	db  *sql.DB
	tx  *sqlite.TxRunner
	log *slog.Logger
}

// New wraps an open database.
func New(db *sql.DB, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{db: db, tx: sqlite.NewTxRunner(db), log: log.With("component", "sqlitestore")}
}

// Open opens path (":memory:" for an in-memory database) and optionally migrates it.
func Open(ctx context.Context, path string, migrate bool, log *slog.Logger) (*Store, error) {
	var (
		db  *sql.DB
		err error
	)
	if path == ":memory:" {
		db, err = sqlite.OpenInMemory(ctx)
	} else {
		db, err = sqlite.Open(ctx, path, sqlite.DefaultOptions())
	}
	if err != nil {
		return nil, shared.MarkKind(err, shared.KindUnavailable)
	}
	s := New(db, log)
	if migrate {
		if err := s.Migrate(); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// Migrate applies the embedded schema.
func (s *Store) Migrate() error {
	info, err := sqlite.ApplyMigrations(s.db, migrations.FS, migrations.Dir)
	if err != nil {
		return shared.MarkKind(err, shared.KindUnavailable)
	}
	if info.Applied {
		s.log.Info("migrations applied", "from", info.CurrentVersion, "to", info.FinalVersion)
	}
	return nil
}

// DB exposes the handle for tests and wiring.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error {
	return mark(s.db.PingContext(ctx))
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) q(ctx context.Context) sqlite.Querier { return s.tx.GetQuerier(ctx) }

// --- settings ---

func (s *Store) Settings(ctx context.Context) (map[string]string, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT setting, value FROM cron__settings`)
	if err != nil {
		return nil, mark(err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, mark(err)
		}
		out[k] = v
	}
	return out, mark(rows.Err())
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO cron__settings (setting, value) VALUES (?, ?)
		ON CONFLICT (setting) DO UPDATE SET value = excluded.value`, key, value)
	return mark(err)
}

// --- scheduler ---

func (s *Store) ActiveClaims(ctx context.Context) (int, error) {
	var n int
	err := s.q(ctx).QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT run_by) FROM cron__schedule WHERE run_by IS NOT NULL`).Scan(&n)
	return n, mark(err)
}

// scoreExpr is claim.Score in SQL so the window holds the best candidates.
const scoreExpr = `(CASE WHEN s.frequency = 0 THEN 1.0 ELSE (4294967295.0 - s.frequency) / 4294967295.0 END)
	+ ln(? - s.next_run + 2) * 100
	+ s.priority * 1000`

func (s *Store) Claim(ctx context.Context, token domain.ClaimToken, n int, now time.Time) ([]domain.Claimed, error) {
	var out []domain.Claimed
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		out = out[:0]
		q := s.q(ctx)
		rows, err := q.QueryContext(ctx, selectClaimed+`
			WHERE s.status = 0 AND s.run_by IS NULL AND s.enabled = 1 AND t.enabled = 1
			  AND s.next_run <= ?
			ORDER BY `+scoreExpr+` DESC, s.next_run ASC
			LIMIT ?`, unix(now), unix(now), claim.Window(n))
		if err != nil {
			return err
		}
		window, err := scanClaimedRows(rows)
		if err != nil {
			return err
		}

		for _, c := range store.Pick(window, now, n) {
			k := c.Instance.InstanceKey
			res, err := q.ExecContext(ctx, `
				UPDATE cron__schedule SET status = 1, run_by = ?, updated = ?
				WHERE task = ? AND arguments = ? AND instance = ? AND run_by IS NULL`,
				string(token), unix(now), k.Task, k.Arguments, k.Instance)
			if err != nil {
				return err
			}
			if affected(res) == 0 {
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
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE cron__schedule SET status = 2, last_run = ?, updated = ?
		WHERE task = ? AND arguments = ? AND instance = ? AND run_by = ? AND status = 1`,
		unix(now), unix(now), key.Task, key.Arguments, key.Instance, string(token))
	if err != nil {
		return mark(err)
	}
	if affected(res) == 0 {
		return store.Conflictf("instance %s is not claimed by %s", key, token)
	}
	return nil
}

func (s *Store) Reschedule(ctx context.Context, o store.Outcome) error {
	column := "last_error"
	if o.Success {
		column = "last_success"
	}
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE cron__schedule
		SET status = 0, run_by = NULL, next_run = ?, `+column+` = ?, updated = ?
		WHERE task = ? AND arguments = ? AND instance = ? AND run_by = ?`,
		unix(o.NextRun), unix(o.At), unix(o.At), o.Key.Task, o.Key.Arguments, o.Key.Instance, string(o.Token))
	if err != nil {
		return mark(err)
	}
	if affected(res) == 0 {
		return store.Conflictf("instance %s is not claimed by %s", o.Key, o.Token)
	}
	return nil
}

func (s *Store) DeleteClaimed(ctx context.Context, key domain.InstanceKey, token domain.ClaimToken) error {
	res, err := s.q(ctx).ExecContext(ctx, `
		DELETE FROM cron__schedule WHERE task = ? AND arguments = ? AND instance = ? AND run_by = ?`,
		key.Task, key.Arguments, key.Instance, string(token))
	if err != nil {
		return mark(err)
	}
	if affected(res) == 0 {
		return store.Conflictf("instance %s is not claimed by %s", key, token)
	}
	return nil
}

func (s *Store) MarkPendingRemoval(ctx context.Context, key domain.InstanceKey) error {
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE cron__schedule SET status = 3, run_by = NULL, updated = ?
		WHERE task = ? AND arguments = ? AND instance = ?`,
		unix(time.Now()), key.Task, key.Arguments, key.Instance)
	if err != nil {
		return mark(err)
	}
	if affected(res) == 0 {
		return store.NotFoundf("instance %s", key)
	}
	return nil
}

func (s *Store) SweepPendingRemoval(ctx context.Context) (int, error) {
	res, err := s.q(ctx).ExecContext(ctx, `DELETE FROM cron__schedule WHERE status = 3`)
	if err != nil {
		return 0, mark(err)
	}
	return int(affected(res)), nil
}

func (s *Store) Hung(ctx context.Context, now time.Time) ([]domain.Claimed, error) {
	rows, err := s.q(ctx).QueryContext(ctx, selectClaimed+`
		WHERE s.run_by IS NOT NULL AND s.status IN (1, 2)
		  AND (CASE WHEN s.status = 2 THEN COALESCE(s.last_run, s.updated) ELSE s.updated END)
		      + (CASE WHEN t.max_time > 0 THEN t.max_time ELSE ? END) < ?
		ORDER BY s.next_run`, domain.DefaultMaxTime, unix(now))
	if err != nil {
		return nil, mark(err)
	}
	out, err := scanClaimedRows(rows)
	return out, mark(err)
}

// --- journal ---

func (s *Store) AppendLog(ctx context.Context, e domain.LogEvent) error {
	var (
		runBy, task, args sql.NullString
		instance          sql.NullInt64
	)
	if e.RunBy != nil {
		runBy = sql.NullString{String: string(*e.RunBy), Valid: true}
	}
	if e.Instance != nil {
		task = sql.NullString{String: e.Instance.Task, Valid: true}
		args = sql.NullString{String: e.Instance.Arguments, Valid: true}
		instance = sql.NullInt64{Int64: int64(e.Instance.Instance), Valid: true}
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO cron__log (time, type, run_by, task, arguments, instance, message)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		unix(e.Time), string(e.Type), runBy, task, args, instance, e.Message)
	return mark(err)
}

func (s *Store) ListLogs(ctx context.Context, f store.LogFilter) ([]domain.LogEvent, error) {
	var (
		where []string
		args  []any
	)
	if f.Task != "" {
		where = append(where, "task = ?")
		args = append(args, f.Task)
	}
	if f.RunBy != "" {
		where = append(where, "run_by = ?")
		args = append(args, string(f.RunBy))
	}
	query := `SELECT id, time, type, run_by, task, arguments, instance, message FROM cron__log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mark(err)
	}
	defer rows.Close()

	var out []domain.LogEvent
	for rows.Next() {
		var (
			e                 domain.LogEvent
			at                int64
			typ               string
			runBy, task, argv sql.NullString
			instance          sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &at, &typ, &runBy, &task, &argv, &instance, &e.Message); err != nil {
			return nil, mark(err)
		}
		e.Time = time.Unix(at, 0).UTC()
		e.Type = domain.EventType(typ)
		if runBy.Valid {
			tok := domain.ClaimToken(runBy.String)
			e.RunBy = &tok
		}
		if task.Valid {
			e.Instance = &domain.InstanceKey{Task: task.String, Arguments: argv.String, Instance: int(instance.Int64)}
		}
		out = append(out, e)
	}
	return out, mark(rows.Err())
}

func (s *Store) PurgeLogs(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.q(ctx).ExecContext(ctx, `DELETE FROM cron__log WHERE time < ?`, unix(before))
	if err != nil {
		return 0, mark(err)
	}
	return affected(res), nil
}

// --- helpers ---

func unix(t time.Time) int64 { return t.Unix() }

func fromUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func affected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}

// mark classifies driver errors.
func mark(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return shared.MarkKind(err, shared.KindNotFound)
	case shared.IsCanceled(err), shared.KindOf(err) != shared.KindUnknown:
		return err
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%w: unknown task: %w", shared.ErrNotFound, err)
	case strings.Contains(msg, "CHECK constraint failed"), strings.Contains(msg, "NOT NULL constraint failed"):
		return shared.MarkKind(err, shared.KindValidation)
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return shared.MarkKind(err, shared.KindConflict)
	}
	return shared.MarkKind(err, shared.KindUnavailable)
}
