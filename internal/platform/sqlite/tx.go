package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"cronagent/pkg/retry"
)

// txKey используется как ключ для хранения транзакции в context.Context
type txKey struct{}

// Querier объединяет методы выполнения запросов, общие для БД и закрепленного
// соединения с открытой транзакцией.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ Querier = (*sql.DB)(nil)
	_ Querier = (*sql.Conn)(nil)
)

// ErrNestedTx возвращается при попытке открыть транзакцию внутри транзакции.
var ErrNestedTx = errors.New("sqlite: nested transactions are not supported")

// TxRunner выполняет код внутри транзакции с ретраями на SQLITE_BUSY.
//
// BEGIN выполняется на закрепленном соединении (sql.Conn): все запросы fn
// идут через то же соединение, иначе пул раздал бы их по разным.
type TxRunner struct {
	DB       *sql.DB
	LockMode LockMode
	Retry    retry.Policy
}

// NewTxRunner создает TxRunner с IMMEDIATE блокировкой.
func NewTxRunner(db *sql.DB) *TxRunner {
	p := retry.DefaultPolicy()
	p.MaxAttempts = 5
	p.InitialDelay = 10 * time.Millisecond
	p.MaxDelay = 500 * time.Millisecond
	p.Retryable = IsBusy
	return &TxRunner{DB: db, LockMode: LockImmediate, Retry: p}
}

// WithinTx выполняет fn внутри транзакции. Ошибка fn откатывает транзакцию,
// nil - коммитит. Внутри fn запросы нужно делать через GetQuerier(ctx).
func (r *TxRunner) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := txFrom(ctx); ok {
		return ErrNestedTx
	}
	return retry.Do(ctx, r.Retry, func(ctx context.Context) error {
		return r.executeTx(ctx, fn)
	})
}

// GetQuerier возвращает соединение активной транзакции или основной пул.
func (r *TxRunner) GetQuerier(ctx context.Context) Querier {
	if conn, ok := txFrom(ctx); ok {
		return conn
	}
	return r.DB
}

// InTx сообщает, есть ли в контексте активная транзакция.
func InTx(ctx context.Context) bool {
	_, ok := txFrom(ctx)
	return ok
}

func txFrom(ctx context.Context) (*sql.Conn, bool) {
	conn, ok := ctx.Value(txKey{}).(*sql.Conn)
	return conn, ok
}

func (r *TxRunner) executeTx(ctx context.Context, fn func(context.Context) error) (err error) {
	conn, err := r.DB.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	mode := r.LockMode
	if mode == "" {
		mode = LockDeferred
	}
	if _, err := conn.ExecContext(ctx, "BEGIN "+string(mode)); err != nil {
		return err
	}

	// Откат и коммит не должны зависеть от отмены ctx вызывающего.
	finish := context.WithoutCancel(ctx)
	defer func() {
		if p := recover(); p != nil {
			_, _ = conn.ExecContext(finish, "ROLLBACK")
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, conn)); err != nil {
		if _, rbErr := conn.ExecContext(finish, "ROLLBACK"); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if _, err := conn.ExecContext(finish, "COMMIT"); err != nil {
		_, _ = conn.ExecContext(finish, "ROLLBACK")
		return err
	}
	return nil
}

// IsBusy проверяет, является ли ошибка SQLITE_BUSY/SQLITE_LOCKED.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "database is locked") ||
		strings.Contains(s, "SQLITE_BUSY") ||
		strings.Contains(s, "database table is locked")
}
