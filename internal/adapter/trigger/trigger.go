// Package trigger запускает агента по cron-расписанию: каждый тик выполняет
// один нестриминговый проход. Перекрывающиеся тики пропускаются.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"cronagent/internal/agent"
)

// ErrBusy возвращается Fire, если предыдущий проход еще не завершился.
var ErrBusy = errors.New("agent run already in progress")

// Runner выполняет один проход агента.
type Runner interface {
	Run(ctx context.Context, opts agent.RunOptions) (agent.Report, error)
}

// Hooks содержит необязательные хуки для наблюдаемости.
type Hooks struct {
	OnStart  func()
	OnFinish func(report agent.Report, duration time.Duration, err error)
}

// Config содержит конфигурацию триггера.
type Config struct {
	// Schedule - cron-выражение с необязательным полем секунд или дескриптор
	// ("@every 1m", "@hourly").
	Schedule string
	// Items - число экземпляров на проход; 0 означает значение агента.
	Items int
	// Timeout ограничивает ожидание до захвата экземпляров (необязательно);
	// захваченные экземпляры выполняются до конца в пределах бюджета задачи.
	Timeout time.Duration
	Logger  *slog.Logger
	Hooks   Hooks
}

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule проверяет выражение расписания.
func ParseSchedule(spec string) (cron.Schedule, error) {
	return parser.Parse(spec)
}

// Trigger - периодический запуск агента.
type Trigger struct {
	cron    *cron.Cron
	entry   cron.EntryID
	runner  Runner
	cfg     Config
	logger  *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	running sync.Mutex

	startOnce sync.Once
	stopOnce  sync.Once
}

// New создает триггер. Родительский контекст ограничивает все проходы.
func New(parent context.Context, runner Runner, cfg Config) (*Trigger, error) {
	if runner == nil {
		return nil, errors.New("trigger: runner is nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "trigger")
	cl := cronLogger{logger: logger}

	ctx, cancel := context.WithCancel(parent)
	t := &Trigger{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(cl),
			cron.WithChain(cron.SkipIfStillRunning(cl)),
		),
		runner: runner,
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	id, err := t.cron.AddFunc(cfg.Schedule, t.tick)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("trigger: schedule %q: %w", cfg.Schedule, err)
	}
	t.entry = id
	return t, nil
}

// Start запускает расписание. Повторные вызовы ничего не делают.
func (t *Trigger) Start() {
	t.startOnce.Do(func() {
		t.cron.Start()
		t.logger.Info("trigger started", "schedule", t.cfg.Schedule, "next", t.Next())
	})
}

// Next возвращает время следующего тика; нулевое, пока триггер не запущен.
func (t *Trigger) Next() time.Time {
	return t.cron.Entry(t.entry).Next
}

// Stop останавливает расписание и ждет текущий проход. Если ctx истекает
// раньше, возвращается его ошибка, но остановка все равно доводится до конца.
func (t *Trigger) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		t.stopOnce.Do(func() {
			t.cancel()
			<-t.cron.Stop().Done()
			// ручной Fire не учитывается cron-ом, ждем его отдельно
			t.running.Lock()
			t.running.Unlock()
			t.logger.Info("trigger stopped")
		})
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		t.logger.Warn("trigger stop deadline exceeded, waiting for the current run")
		<-done
		return ctx.Err()
	}
}

// IsRunning возвращает true, пока триггер не остановлен.
func (t *Trigger) IsRunning() bool {
	return t.ctx.Err() == nil
}

func (t *Trigger) tick() {
	_, err := t.Fire()
	if errors.Is(err, ErrBusy) {
		t.logger.Debug("tick skipped, previous run still active")
	}
}

// Fire выполняет проход немедленно. Если проход уже идет, возвращает ErrBusy.
func (t *Trigger) Fire() (report agent.Report, err error) {
	if !t.running.TryLock() {
		return agent.Report{}, ErrBusy
	}
	defer t.running.Unlock()

	if t.cfg.Hooks.OnStart != nil {
		t.cfg.Hooks.OnStart()
	}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("agent run panicked", "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
		d := time.Since(start)
		if t.cfg.Hooks.OnFinish != nil {
			t.cfg.Hooks.OnFinish(report, d, err)
		}
		if err != nil {
			t.logger.Error("agent run failed", "error", err, "duration", d)
			return
		}
		t.logger.Debug("agent run finished",
			"token", report.Token.String(),
			"claimed", report.Claimed,
			"succeeded", report.Succeeded,
			"failed", report.Failed,
			"duration", d)
	}()

	ctx := t.ctx
	if t.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.Timeout)
		defer cancel()
	}
	return t.runner.Run(ctx, agent.RunOptions{Items: t.cfg.Items})
}

// cronLogger адаптер cron.Logger поверх slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.LogAttrs(context.Background(), slog.LevelError, msg, append(attrs(keysAndValues), slog.Any("error", err))...)
}

func attrs(kv []any) []slog.Attr {
	out := make([]slog.Attr, 0, len(kv)/2+1)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		out = append(out, slog.Any(key, kv[i+1]))
	}
	return out
}
