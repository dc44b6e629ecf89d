package pgstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"cronagent/internal/domain"
	"cronagent/internal/store"
)

const taskColumns = `t.task, t.handler, t.parameters, t.setup::text, t.returns::text, t.max_time,
	t.min_frequency, t.retry, t.enabled, t.system, t.description`

const instanceColumns = `s.task, s.arguments, s.instance, s.frequency, s.day_of_month, s.day_of_week,
	s.priority, s.message, s.enabled, s.system, s.status, s.run_by, s.next_run,
	s.last_run, s.last_success, s.last_error`

const selectClaimed = `SELECT ` + instanceColumns + `, ` + taskColumns + `
	FROM cron__schedule s JOIN cron__tasks t ON t.task = s.task`

// taskRow and instanceRow hold the raw column values.
type taskRow struct {
	params, setup, returns string
}

func (r *taskRow) dest(t *domain.Task) []any {
	return []any{&t.Name, &t.Handler, &r.params, &r.setup, &r.returns, &t.MaxTime,
		&t.MinFrequency, &t.RetryAfter, &t.Enabled, &t.System, &t.Description}
}

func (r *taskRow) apply(t *domain.Task) error {
	t.Parameters = store.RawParams(r.params)
	var err error
	if t.Setup, err = store.DecodeJSON[domain.SetupCall](r.setup); err != nil {
		return err
	}
	t.Returns, err = store.DecodeJSON[json.RawMessage](r.returns)
	return err
}

type instanceRow struct {
	status int
	runBy  *string
}

func (r *instanceRow) dest(i *domain.Instance) []any {
	return []any{&i.Task, &i.Arguments, &i.Instance, &i.Frequency, &i.DayOfMonth, &i.DayOfWeek,
		&i.Priority, &i.Message, &i.Enabled, &i.System, &r.status, &r.runBy, &i.NextRun,
		&i.LastRun, &i.LastSuccess, &i.LastError}
}

func (r *instanceRow) apply(i *domain.Instance) {
	i.Status = domain.Status(r.status)
	if r.runBy != nil {
		tok := domain.ClaimToken(*r.runBy)
		i.RunBy = &tok
	}
	if len(i.DayOfMonth) == 0 {
		i.DayOfMonth = nil
	}
	if len(i.DayOfWeek) == 0 {
		i.DayOfWeek = nil
	}
	i.NextRun = i.NextRun.UTC()
}

func scanInstance(row pgx.Row) (domain.Instance, error) {
	var (
		i   domain.Instance
		raw instanceRow
	)
	if err := row.Scan(raw.dest(&i)...); err != nil {
		return domain.Instance{}, err
	}
	raw.apply(&i)
	return i, nil
}

func scanTask(row pgx.Row) (domain.Task, error) {
	var (
		t   domain.Task
		raw taskRow
	)
	if err := row.Scan(raw.dest(&t)...); err != nil {
		return domain.Task{}, err
	}
	return t, raw.apply(&t)
}

func collectClaimed(rows pgx.Rows) ([]domain.Claimed, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Claimed, error) {
		var (
			c    domain.Claimed
			iRaw instanceRow
			tRaw taskRow
		)
		if err := row.Scan(append(iRaw.dest(&c.Instance), tRaw.dest(&c.Task)...)...); err != nil {
			return c, err
		}
		iRaw.apply(&c.Instance)
		return c, tRaw.apply(&c.Task)
	})
}

// days never encodes NULL into the NOT NULL array columns.
func days(v []int) []int {
	if v == nil {
		return []int{}
	}
	return v
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
	_, err = s.q(ctx).Exec(ctx, `
		INSERT INTO cron__tasks (task, handler, parameters, setup, returns, max_time,
			min_frequency, retry, enabled, system, description)
		VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (task) DO UPDATE SET
			handler = EXCLUDED.handler, parameters = EXCLUDED.parameters,
			setup = EXCLUDED.setup, returns = EXCLUDED.returns,
			max_time = EXCLUDED.max_time, min_frequency = EXCLUDED.min_frequency,
			retry = EXCLUDED.retry, enabled = EXCLUDED.enabled,
			system = EXCLUDED.system, description = EXCLUDED.description`,
		t.Name, t.Handler, store.Params(t.Parameters), setup, returns, t.MaxTime,
		t.MinFrequency, t.RetryAfter, t.Enabled, t.System, t.Description)
	return mark(err)
}

func (s *Store) GetTask(ctx context.Context, name string) (domain.Task, error) {
	t, err := scanTask(s.q(ctx).QueryRow(ctx, `SELECT `+taskColumns+` FROM cron__tasks t WHERE t.task = $1`, name))
	if err != nil {
		return domain.Task{}, mark(err)
	}
	return t, nil
}

func (s *Store) ListTasks(ctx context.Context) ([]domain.Task, error) {
	rows, err := s.q(ctx).Query(ctx, `SELECT `+taskColumns+` FROM cron__tasks t ORDER BY t.task`)
	if err != nil {
		return nil, mark(err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Task, error) {
		return scanTask(row)
	})
	return out, mark(err)
}

func (s *Store) DeleteTask(ctx context.Context, name string) error {
	tag, err := s.q(ctx).Exec(ctx, `DELETE FROM cron__tasks WHERE task = $1`, name)
	if err != nil {
		return mark(err)
	}
	if tag.RowsAffected() == 0 {
		return store.NotFoundf("task %q", name)
	}
	return nil
}

func (s *Store) SetTaskSystem(ctx context.Context, name string, system bool) error {
	tag, err := s.q(ctx).Exec(ctx, `UPDATE cron__tasks SET system = $1 WHERE task = $2`, system, name)
	if err != nil {
		return mark(err)
	}
	if tag.RowsAffected() == 0 {
		return store.NotFoundf("task %q", name)
	}
	return nil
}

// --- instances ---

func (s *Store) UpsertInstance(ctx context.Context, i domain.Instance) error {
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO cron__schedule (task, arguments, instance, frequency, day_of_month, day_of_week,
			priority, message, enabled, system, registered, updated, next_run)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11, $12)
		ON CONFLICT (task, arguments, instance) DO UPDATE SET
			frequency = EXCLUDED.frequency, day_of_month = EXCLUDED.day_of_month,
			day_of_week = EXCLUDED.day_of_week, priority = EXCLUDED.priority,
			message = EXCLUDED.message, enabled = EXCLUDED.enabled,
			system = EXCLUDED.system, updated = EXCLUDED.updated,
			next_run = EXCLUDED.next_run`,
		i.Task, i.Arguments, i.Instance, i.Frequency, days(i.DayOfMonth), days(i.DayOfWeek),
		i.Priority, i.Message, i.Enabled, i.System, time.Now(), i.NextRun)
	return mark(err)
}

func (s *Store) GetInstance(ctx context.Context, key domain.InstanceKey) (domain.Instance, error) {
	i, err := scanInstance(s.q(ctx).QueryRow(ctx, `SELECT `+instanceColumns+` FROM cron__schedule s
		WHERE s.task = $1 AND s.arguments = $2 AND s.instance = $3`, key.Task, key.Arguments, key.Instance))
	if err != nil {
		return domain.Instance{}, mark(err)
	}
	return i, nil
}

func (s *Store) ListInstances(ctx context.Context, task string) ([]domain.Instance, error) {
	rows, err := s.q(ctx).Query(ctx, `SELECT `+instanceColumns+` FROM cron__schedule s
		WHERE $1 = '' OR s.task = $1
		ORDER BY s.task, s.arguments, s.instance`, task)
	if err != nil {
		return nil, mark(err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Instance, error) {
		return scanInstance(row)
	})
	return out, mark(err)
}

func (s *Store) DeleteInstance(ctx context.Context, key domain.InstanceKey) error {
	tag, err := s.q(ctx).Exec(ctx, `DELETE FROM cron__schedule WHERE task = $1 AND arguments = $2 AND instance = $3`,
		key.Task, key.Arguments, key.Instance)
	if err != nil {
		return mark(err)
	}
	if tag.RowsAffected() == 0 {
		return store.NotFoundf("instance %s", key)
	}
	return nil
}

func (s *Store) SetInstanceSystem(ctx context.Context, key domain.InstanceKey, system bool) error {
	tag, err := s.q(ctx).Exec(ctx, `UPDATE cron__schedule SET system = $1, updated = now()
		WHERE task = $2 AND arguments = $3 AND instance = $4`,
		system, key.Task, key.Arguments, key.Instance)
	if err != nil {
		return mark(err)
	}
	if tag.RowsAffected() == 0 {
		return store.NotFoundf("instance %s", key)
	}
	return nil
}
