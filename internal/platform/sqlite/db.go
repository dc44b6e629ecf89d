package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite драйвер
)

// LockMode определяет режим BEGIN для транзакций TxRunner.
type LockMode string

const (
	// LockDeferred - блокировка при первом чтении/записи
	LockDeferred LockMode = "DEFERRED"
	// LockImmediate - сразу захватывает RESERVED блокировку; нужен для claim
	LockImmediate LockMode = "IMMEDIATE"
)

// Options содержит настройки SQLite базы данных.
type Options struct {
	// MaxOpenConns - максимальное количество открытых соединений
	MaxOpenConns int
	// ConnMaxIdleTime - максимальное время простоя соединения (0 - без ограничения)
	ConnMaxIdleTime time.Duration
	// PingTimeout - таймаут проверки соединения при открытии
	PingTimeout time.Duration
	// WALMode - журнал WAL; не применим к in-memory
	WALMode bool
	// BusyTimeout - ожидание при SQLITE_BUSY
	BusyTimeout time.Duration
}

// DefaultOptions возвращает настройки по умолчанию для файловой БД агента.
func DefaultOptions() Options {
	return Options{
		MaxOpenConns:    4,
		ConnMaxIdleTime: 10 * time.Minute,
		PingTimeout:     5 * time.Second,
		WALMode:         true,
		BusyTimeout:     5 * time.Second,
	}
}

// Open открывает файловую БД, создавая директорию при необходимости.
func Open(ctx context.Context, path string, opts Options) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return open(ctx, buildDSN(path, opts), opts)
}

// OpenInMemory создает in-memory БД. Пул ограничен одним соединением без
// срока жизни: закрытие соединения уничтожает базу.
func OpenInMemory(ctx context.Context) (*sql.DB, error) {
	opts := DefaultOptions()
	opts.WALMode = false
	opts.MaxOpenConns = 1
	opts.ConnMaxIdleTime = 0
	return open(ctx, buildDSN(":memory:", opts), opts)
}

func open(ctx context.Context, dsn string, opts Options) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxOpenConns)
	db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, opts.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	return db, nil
}

// buildDSN передает PRAGMA через _pragma, чтобы драйвер применял их к каждому
// новому соединению пула, а не только к первому.
func buildDSN(path string, opts Options) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "synchronous(NORMAL)")
	if opts.BusyTimeout > 0 {
		q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", opts.BusyTimeout.Milliseconds()))
	}
	if opts.WALMode {
		q.Add("_pragma", "journal_mode(WAL)")
	}
	return "file:" + path + "?" + q.Encode()
}
