// Package sqlite предоставляет инфраструктурные компоненты для работы с SQLite.
//
// Основные возможности:
// - Открытие БД с PRAGMA, применяемыми к каждому соединению пула
// - Транзакции на закрепленном соединении с BEGIN IMMEDIATE и ретраями на SQLITE_BUSY
// - Миграции из embed.FS поверх уже открытого *sql.DB
// - Тестовые хелперы
//
// # Транзакции
//
//	runner := sqlite.NewTxRunner(db)
//	err = runner.WithinTx(ctx, func(ctx context.Context) error {
//		q := runner.GetQuerier(ctx)
//		_, err := q.ExecContext(ctx, "UPDATE cron__instances SET status = 1 WHERE ...")
//		return err
//	})
//
// Для in-memory базы пул ограничен одним соединением: внутри fn нельзя
// обращаться к runner.DB напрямую, только через GetQuerier.
//
// # Миграции
//
//	_, err = sqlite.ApplyMigrations(db, migrations.FS, "sqlite")
package sqlite
