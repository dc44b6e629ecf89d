package sqlite

import (
	"context"
	"database/sql"
	"io/fs"
	"path/filepath"
	"testing"
)

// TestDB представляет тестовую SQLite базу данных с удобными хелперами.
type TestDB struct {
	DB       *sql.DB
	Path     string // Путь к файлу БД (":memory:" для in-memory)
	TxRunner *TxRunner
}

// NewTestDBInMemory создает in-memory SQLite БД для тестов.
// БД автоматически закрывается после завершения теста.
func NewTestDBInMemory(t *testing.T) *TestDB {
	t.Helper()

	db, err := OpenInMemory(context.Background())
	if err != nil {
		t.Fatalf("Failed to create in-memory test DB: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &TestDB{DB: db, Path: ":memory:", TxRunner: NewTxRunner(db)}
}

// NewTestDBFile создает файловую БД во временной директории теста.
// Нужна там, где важна конкуренция нескольких соединений.
func NewTestDBFile(t *testing.T) *TestDB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.sqlite")
	db, err := Open(context.Background(), path, DefaultOptions())
	if err != nil {
		t.Fatalf("Failed to create file test DB: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &TestDB{DB: db, Path: path, TxRunner: NewTxRunner(db)}
}

// Migrate применяет миграции к тестовой БД.
func (tdb *TestDB) Migrate(t *testing.T, fsys fs.FS, dir string) {
	t.Helper()

	if _, err := ApplyMigrations(tdb.DB, fsys, dir); err != nil {
		t.Fatalf("Failed to apply test migrations: %v", err)
	}
}

// Exec выполняет SQL команду и проверяет отсутствие ошибок.
func (tdb *TestDB) Exec(t *testing.T, query string, args ...any) sql.Result {
	t.Helper()

	result, err := tdb.DB.ExecContext(context.Background(), query, args...)
	if err != nil {
		t.Fatalf("Failed to execute query: %v", err)
	}
	return result
}

// CountRows возвращает количество строк в таблице, подходящих под where.
func (tdb *TestDB) CountRows(t *testing.T, table, where string, args ...any) int {
	t.Helper()

	query := "SELECT COUNT(*) FROM " + table
	if where != "" {
		query += " WHERE " + where
	}
	var count int
	if err := tdb.DB.QueryRowContext(context.Background(), query, args...).Scan(&count); err != nil {
		t.Fatalf("Failed to count rows in table %s: %v", table, err)
	}
	return count
}

// TableExists проверяет существование таблицы.
func (tdb *TestDB) TableExists(t *testing.T, name string) bool {
	t.Helper()
	return tdb.CountRows(t, "sqlite_master", "type='table' AND name=?", name) > 0
}
