// Package manage is the scheduling API: task definition and schedule entry
// management plus settings. It validates every change before it reaches the
// store and journals what it did.
package manage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"cronagent/internal/agent"
	"cronagent/internal/domain"
	"cronagent/internal/executor"
	"cronagent/internal/nextrun"
	"cronagent/internal/settings"
	"cronagent/internal/shared"
	"cronagent/internal/store"
)

// Store is the part of the datastore the service needs.
type Store interface {
	store.Catalog
	store.Settings
	store.Journal
	MarkPendingRemoval(ctx context.Context, key domain.InstanceKey) error
}

// Service implements the scheduling API.
type Service struct {
	store    Store
	registry *executor.Registry
	journal  *agent.Journal
	log      *slog.Logger
	now      func() time.Time
}

// New creates the service. journal may be nil.
func New(s Store, registry *executor.Registry, journal *agent.Journal, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if journal == nil {
		journal = agent.NewJournal(s, log)
	}
	return &Service{store: s, registry: registry, journal: journal, log: log.With("component", "manage"), now: time.Now}
}

func protectedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", shared.ErrProtected, fmt.Sprintf(format, args...))
}

// --- tasks ---

// UpsertTask creates or replaces a definition. The system flag of an
// existing definition is kept; use SetTaskSystem to change it.
func (s *Service) UpsertTask(ctx context.Context, in TaskInput) (domain.Task, error) {
	if err := check(in); err != nil {
		return domain.Task{}, err
	}
	t := in.task()
	if !s.registry.Has(t.HandlerName()) {
		return domain.Task{}, shared.Validationf("handler %q is not registered", t.HandlerName())
	}
	if len(t.Parameters) > 0 && !json.Valid(t.Parameters) {
		return domain.Task{}, shared.Validationf("parameters are not valid JSON")
	}
	for i, call := range t.Setup {
		if call.Method == "" {
			return domain.Task{}, shared.Validationf("setup %d: method is required", i)
		}
	}

	existing, err := s.store.GetTask(ctx, t.Name)
	switch {
	case err == nil:
		t.System = existing.System
	case !shared.IsNotFound(err):
		return domain.Task{}, err
	}
	if err := s.store.UpsertTask(ctx, t); err != nil {
		return domain.Task{}, err
	}
	s.journal.Log(ctx, agent.Event{Type: domain.EventTaskAdd, Message: "task " + t.Name})
	return t, nil
}

func (s *Service) GetTask(ctx context.Context, name string) (domain.Task, error) {
	return s.store.GetTask(ctx, name)
}

func (s *Service) ListTasks(ctx context.Context) ([]domain.Task, error) {
	return s.store.ListTasks(ctx)
}

// DeleteTask removes a definition and its instances. System definitions
// require force.
func (s *Service) DeleteTask(ctx context.Context, name string, force bool) error {
	t, err := s.store.GetTask(ctx, name)
	if err != nil {
		return err
	}
	if t.System && !force {
		return protectedf("task %q is a system task", name)
	}
	if err := s.store.DeleteTask(ctx, name); err != nil {
		return err
	}
	s.journal.Log(ctx, agent.Event{Type: domain.EventTaskDelete, Message: "task " + name})
	return nil
}

func (s *Service) SetTaskSystem(ctx context.Context, name string, system bool) error {
	return s.store.SetTaskSystem(ctx, name, system)
}

// --- instances ---

// UpsertInstance creates or updates a schedule entry identified by task,
// arguments and instance number.
func (s *Service) UpsertInstance(ctx context.Context, in InstanceInput) (domain.Instance, error) {
	if err := check(in); err != nil {
		return domain.Instance{}, err
	}
	key := in.key()
	task, err := s.store.GetTask(ctx, key.Task)
	if err != nil {
		if shared.IsNotFound(err) {
			return domain.Instance{}, shared.Validationf("unknown task %q", key.Task)
		}
		return domain.Instance{}, err
	}
	if in.Frequency != 0 && in.Frequency < task.MinFrequency {
		return domain.Instance{}, shared.Validationf("frequency %d is below the task minimum %d", in.Frequency, task.MinFrequency)
	}
	if key.Arguments, err = canonicalArguments(key.Arguments, key.Instance); err != nil {
		return domain.Instance{}, err
	}

	inst := domain.Instance{
		InstanceKey: key,
		Frequency:   in.Frequency,
		DayOfMonth:  in.DayOfMonth,
		DayOfWeek:   in.DayOfWeek,
		Priority:    in.Priority,
		Message:     in.Message,
		Enabled:     in.Enabled == nil || *in.Enabled,
		NextRun:     s.now().UTC().Truncate(time.Second),
	}
	existing, err := s.store.GetInstance(ctx, key)
	switch {
	case err == nil:
		inst.System = existing.System
		inst.NextRun = existing.NextRun
	case !shared.IsNotFound(err):
		return domain.Instance{}, err
	}
	if in.NextRun != nil {
		inst.NextRun = in.NextRun.UTC()
	}
	if inst.OneTime() && inst.System {
		return domain.Instance{}, shared.Validationf("one-time instance %s cannot be a system instance", key)
	}
	inst.NextRun = nextrun.NextQualifying(inst.NextRun, inst.DayOfWeek, inst.DayOfMonth)

	if err := s.store.UpsertInstance(ctx, inst); err != nil {
		return domain.Instance{}, err
	}
	s.journal.Log(ctx, agent.Event{Type: domain.EventInstanceAdd, Instance: &key,
		Message: "next run " + inst.NextRun.Format(time.RFC3339)})
	return inst, nil
}

// canonicalArguments checks the arguments decode once the placeholder is
// substituted and compacts them when they are plain JSON.
func canonicalArguments(raw string, instance int) (string, error) {
	if _, err := executor.DecodeArguments(raw, instance); err != nil {
		return "", shared.Validationf("arguments: %v", err)
	}
	if raw == "" || !json.Valid([]byte(raw)) {
		return raw, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(raw)); err != nil {
		return "", shared.Validationf("arguments: %v", err)
	}
	return buf.String(), nil
}

func normalizeKey(key domain.InstanceKey) domain.InstanceKey {
	if key.Instance == 0 {
		key.Instance = 1
	}
	return key
}

func (s *Service) GetInstance(ctx context.Context, key domain.InstanceKey) (domain.Instance, error) {
	return s.store.GetInstance(ctx, normalizeKey(key))
}

// ListInstances returns the entries of task, or all of them when task is empty.
func (s *Service) ListInstances(ctx context.Context, task string) ([]domain.Instance, error) {
	return s.store.ListInstances(ctx, task)
}

// DeleteInstance removes an entry. System entries require force. When the
// delete cannot be confirmed the row is marked for the next sweep.
func (s *Service) DeleteInstance(ctx context.Context, key domain.InstanceKey, force bool) error {
	key = normalizeKey(key)
	inst, err := s.store.GetInstance(ctx, key)
	if err != nil {
		return err
	}
	if inst.System && !force {
		return protectedf("instance %s is a system instance", key)
	}
	if err := s.store.DeleteInstance(ctx, key); err != nil {
		if shared.IsNotFound(err) {
			return err
		}
		s.log.Warn("delete failed, marking for removal", "instance", key.String(), "error", err)
		if merr := s.store.MarkPendingRemoval(ctx, key); merr != nil {
			return merr
		}
	}
	s.journal.Log(ctx, agent.Event{Type: domain.EventInstanceDelete, Instance: &key})
	return nil
}

// SetInstanceSystem toggles deletion protection; one-time entries cannot be
// protected.
func (s *Service) SetInstanceSystem(ctx context.Context, key domain.InstanceKey, system bool) error {
	key = normalizeKey(key)
	inst, err := s.store.GetInstance(ctx, key)
	if err != nil {
		return err
	}
	if system && inst.OneTime() {
		return shared.Validationf("one-time instance %s cannot be a system instance", key)
	}
	return s.store.SetInstanceSystem(ctx, key, system)
}

// --- settings ---

// Settings returns every recognized key with its effective value plus any
// extra keys found in the store.
func (s *Service) Settings(ctx context.Context) (map[string]string, error) {
	raw, err := s.store.Settings(ctx)
	if err != nil {
		return nil, err
	}
	out := defaultsAsText()
	for k, v := range raw {
		out[k] = v
	}
	return out, nil
}

// SetSetting validates and stores one tunable.
func (s *Service) SetSetting(ctx context.Context, key, value string) (string, error) {
	v, err := settings.Normalize(key, value)
	if err != nil {
		return "", err
	}
	if err := s.store.SetSetting(ctx, key, v); err != nil {
		return "", err
	}
	s.journal.Log(ctx, agent.Event{Type: domain.EventSettingsChange, Message: key + "=" + v})
	return v, nil
}

// Logs lists journal events, newest first.
func (s *Service) Logs(ctx context.Context, f store.LogFilter) ([]domain.LogEvent, error) {
	return s.store.ListLogs(ctx, f)
}

func defaultsAsText() map[string]string {
	d := settings.Default()
	return map[string]string{
		settings.KeyEnabled:     fmt.Sprint(d.Enabled),
		settings.KeyRetry:       fmt.Sprint(int(d.OneTimeRetry / time.Second)),
		settings.KeyLogLife:     fmt.Sprint(d.LogLife),
		settings.KeyStreamLoop:  fmt.Sprint(d.StreamLoop),
		settings.KeyStreamRetry: fmt.Sprint(d.StreamRetry.Milliseconds()),
		settings.KeyMaxThreads:  fmt.Sprint(d.MaxThreads),
	}
}
