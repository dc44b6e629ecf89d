package pg

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"cronagent/pkg/retry"
)

// WaitPolicy возвращает политику ожидания БД при старте агента.
func WaitPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxAttempts = 10
	p.InitialDelay = time.Second
	p.MaxDelay = 30 * time.Second
	p.Retryable = func(error) bool { return true }
	return p
}

// Connect ожидает доступности БД и возвращает пул. Каждая попытка создает
// пул заново: pgxpool не переподключается сам при ошибке ping на старте.
func Connect(ctx context.Context, dsn string, opts PoolOptions, policy retry.Policy, log *slog.Logger) (*pgxpool.Pool, error) {
	if log == nil {
		log = slog.Default()
	}
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.Warn("database not ready", "attempt", attempt, "retry_in", delay, "error", err)
	}

	var pool *pgxpool.Pool
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		p, err := NewPool(ctx, dsn, opts)
		if err != nil {
			return err
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("database not available: %w", err)
	}
	return pool, nil
}

// HealthCheck проверяет пул ping-ом и простым запросом.
func HealthCheck(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return fmt.Errorf("pool is nil")
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("pool ping failed: %w", err)
	}
	var one int
	if err := pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("simple query failed: %w", err)
	}
	if one != 1 {
		return fmt.Errorf("unexpected query result: got %d, want 1", one)
	}
	return nil
}
