package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"cronagent/internal/domain"
	"cronagent/internal/store"
)

const taskColumns = `t.task, t.handler, t.parameters, t.setup, t.returns, t.max_time,
	t.min_frequency, t.retry, t.enabled, t.system, t.description`

const instanceColumns = `s.task, s.arguments, s.instance, s.frequency, s.day_of_month, s.day_of_week,
	s.priority, s.message, s.enabled, s.system, s.status, s.run_by, s.next_run,
	s.last_run, s.last_success, s.last_error`

const selectClaimed = `SELECT ` + instanceColumns + `, ` + taskColumns + `
	FROM cron__schedule s JOIN cron__tasks t ON t.task = s.task`

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner, t *domain.Task) error {
	var setup, returns, params string
	if err := row.Scan(&t.Name, &t.Handler, &params, &setup, &returns, &t.MaxTime,
		&t.MinFrequency, &t.RetryAfter, &t.Enabled, &t.System, &t.Description); err != nil {
		return err
	}
	t.Parameters = store.RawParams(params)
	var err error
	if t.Setup, err = store.DecodeJSON[domain.SetupCall](setup); err != nil {
		return err
	}
	t.Returns, err = store.DecodeJSON[json.RawMessage](returns)
	return err
}

func instanceDest(i *domain.Instance, dom, dow *string, runBy *sql.NullString, next *int64, last, ok, failed *sql.NullInt64) []any {
	return []any{&i.Task, &i.Arguments, &i.Instance, &i.Frequency, dom, dow,
		&i.Priority, &i.Message, &i.Enabled, &i.System, &i.Status, runBy, next,
		last, ok, failed}
}

type instanceRaw struct {
	dom, dow         string
	runBy            sql.NullString
	next             int64
	last, ok, failed sql.NullInt64
}

func (r *instanceRaw) apply(i *domain.Instance) error {
	var err error
	if i.DayOfMonth, err = store.DecodeJSON[int](r.dom); err != nil {
		return err
	}
	if i.DayOfWeek, err = store.DecodeJSON[int](r.dow); err != nil {
		return err
	}
	if r.runBy.Valid {
		tok := domain.ClaimToken(r.runBy.String)
		i.RunBy = &tok
	}
	i.NextRun = time.Unix(r.next, 0).UTC()
	i.LastRun = fromUnix(r.last)
	i.LastSuccess = fromUnix(r.ok)
	i.LastError = fromUnix(r.failed)
	return nil
}

func scanInstance(row scanner, i *domain.Instance) error {
	var raw instanceRaw
	if err := row.Scan(instanceDest(i, &raw.dom, &raw.dow, &raw.runBy, &raw.next, &raw.last, &raw.ok, &raw.failed)...); err != nil {
		return err
	}
	return raw.apply(i)
}

func scanClaimedRows(rows *sql.Rows) ([]domain.Claimed, error) {
	defer rows.Close()
	var out []domain.Claimed
	for rows.Next() {
		var (
			c                domain.Claimed
			raw              instanceRaw
			setup, ret, prms string
		)
		dest := instanceDest(&c.Instance, &raw.dom, &raw.dow, &raw.runBy, &raw.next, &raw.last, &raw.ok, &raw.failed)
		t := &c.Task
		dest = append(dest, &t.Name, &t.Handler, &prms, &setup, &ret, &t.MaxTime,
			&t.MinFrequency, &t.RetryAfter, &t.Enabled, &t.System, &t.Description)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		if err := raw.apply(&c.Instance); err != nil {
			return nil, err
		}
		t.Parameters = store.RawParams(prms)
		var err error
		if t.Setup, err = store.DecodeJSON[domain.SetupCall](setup); err != nil {
			return nil, err
		}
		if t.Returns, err = store.DecodeJSON[json.RawMessage](ret); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- tasks ---

func (s *Store) UpsertTask(ctx context.Context, t domain.Task) error {
	setup, err := store.EncodeJSON(t.Setup)
	if err != nil {
		return err
	}
	returns, err := store.EncodeJSON(t.Returns)
	if err != nil {
		return err
	}
	_, err = s.q(ctx).ExecContext(ctx, `
		INSERT INTO cron__tasks (task, handler, parameters, setup, returns, max_time,
			min_frequency, retry, enabled, system, description)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (task) DO UPDATE SET
			handler = excluded.handler, parameters = excluded.parameters,
			setup = excluded.setup, returns = excluded.returns,
			max_time = excluded.max_time, min_frequency = excluded.min_frequency,
			retry = excluded.retry, enabled = excluded.enabled,
			system = excluded.system, description = excluded.description`,
		t.Name, t.Handler, store.Params(t.Parameters), setup, returns, t.MaxTime,
		t.MinFrequency, t.RetryAfter, t.Enabled, t.System, t.Description)
	return mark(err)
}

func (s *Store) GetTask(ctx context.Context, name string) (domain.Task, error) {
	var t domain.Task
	err := scanTask(s.q(ctx).QueryRowContext(ctx, `SELECT `+taskColumns+` FROM cron__tasks t WHERE t.task = ?`, name), &t)
	if err != nil {
		return domain.Task{}, mark(err)
	}
	return t, nil
}

func (s *Store) ListTasks(ctx context.Context) ([]domain.Task, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT `+taskColumns+` FROM cron__tasks t ORDER BY t.task`)
	if err != nil {
		return nil, mark(err)
	}
	defer rows.Close()
	var out []domain.Task
	for rows.Next() {
		var t domain.Task
		if err := scanTask(rows, &t); err != nil {
			return nil, mark(err)
		}
		out = append(out, t)
	}
	return out, mark(rows.Err())
}

func (s *Store) DeleteTask(ctx context.Context, name string) error {
	res, err := s.q(ctx).ExecContext(ctx, `DELETE FROM cron__tasks WHERE task = ?`, name)
	if err != nil {
		return mark(err)
	}
	if affected(res) == 0 {
		return store.NotFoundf("task %q", name)
	}
	return nil
}

func (s *Store) SetTaskSystem(ctx context.Context, name string, system bool) error {
	res, err := s.q(ctx).ExecContext(ctx, `UPDATE cron__tasks SET system = ? WHERE task = ?`, system, name)
	if err != nil {
		return mark(err)
	}
	if affected(res) == 0 {
		return store.NotFoundf("task %q", name)
	}
	return nil
}

// --- instances ---

func (s *Store) UpsertInstance(ctx context.Context, i domain.Instance) error {
	dom, err := store.EncodeJSON(i.DayOfMonth)
	if err != nil {
		return err
	}
	dow, err := store.EncodeJSON(i.DayOfWeek)
	if err != nil {
		return err
	}
	now := unix(time.Now())
	_, err = s.q(ctx).ExecContext(ctx, `
		INSERT INTO cron__schedule (task, arguments, instance, frequency, day_of_month, day_of_week,
			priority, message, enabled, system, registered, updated, next_run)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (task, arguments, instance) DO UPDATE SET
			frequency = excluded.frequency, day_of_month = excluded.day_of_month,
			day_of_week = excluded.day_of_week, priority = excluded.priority,
			message = excluded.message, enabled = excluded.enabled,
			system = excluded.system, updated = excluded.updated,
			next_run = excluded.next_run`,
		i.Task, i.Arguments, i.Instance, i.Frequency, dom, dow,
		i.Priority, i.Message, i.Enabled, i.System, now, now, unix(i.NextRun))
	return mark(err)
}

func (s *Store) GetInstance(ctx context.Context, key domain.InstanceKey) (domain.Instance, error) {
	var i domain.Instance
	err := scanInstance(s.q(ctx).QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM cron__schedule s
		WHERE s.task = ? AND s.arguments = ? AND s.instance = ?`, key.Task, key.Arguments, key.Instance), &i)
	if err != nil {
		return domain.Instance{}, mark(err)
	}
	return i, nil
}

func (s *Store) ListInstances(ctx context.Context, task string) ([]domain.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM cron__schedule s`
	var args []any
	if task != "" {
		query += ` WHERE s.task = ?`
		args = append(args, task)
	}
	query += ` ORDER BY s.task, s.arguments, s.instance`

	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mark(err)
	}
	defer rows.Close()
	var out []domain.Instance
	for rows.Next() {
		var i domain.Instance
		if err := scanInstance(rows, &i); err != nil {
			return nil, mark(err)
		}
		out = append(out, i)
	}
	return out, mark(rows.Err())
}

func (s *Store) DeleteInstance(ctx context.Context, key domain.InstanceKey) error {
	res, err := s.q(ctx).ExecContext(ctx, `DELETE FROM cron__schedule WHERE task = ? AND arguments = ? AND instance = ?`,
		key.Task, key.Arguments, key.Instance)
	if err != nil {
		return mark(err)
	}
	if affected(res) == 0 {
		return store.NotFoundf("instance %s", key)
	}
	return nil
}

func (s *Store) SetInstanceSystem(ctx context.Context, key domain.InstanceKey, system bool) error {
	res, err := s.q(ctx).ExecContext(ctx, `UPDATE cron__schedule SET system = ?, updated = ?
		WHERE task = ? AND arguments = ? AND instance = ?`,
		system, unix(time.Now()), key.Task, key.Arguments, key.Instance)
	if err != nil {
		return mark(err)
	}
	if affected(res) == 0 {
		return store.NotFoundf("instance %s", key)
	}
	return nil
}
