// Пакет database — подключение к PostgreSQL через pgxpool,
// применение миграций (golang-migrate) и проверка готовности.
// Готовность включает сверку версии схемы в schema_migrations
// с последней встроенной миграцией.
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/smartact/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Connect создаёт пул подключений к PostgreSQL.
// Выполняет ping для проверки доступности.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания пула подключений: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка подключения к PostgreSQL: %w", err)
	}

	logger.Info("Подключение к PostgreSQL установлено",
		slog.String("host", cfg.DBHost),
		slog.Int("port", cfg.DBPort),
		slog.String("database", cfg.DBName),
	)

	return pool, nil
}

// ErrDirtySchema — предыдущая миграция прервана, схема требует ручного исправления.
var ErrDirtySchema = errors.New("схема БД в состоянии dirty")

// ErrNoSchema — миграции ещё не применялись.
var ErrNoSchema = errors.New("схема БД не инициализирована")

// LatestVersion возвращает версию последней встроенной миграции.
func LatestVersion() (uint, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("ошибка создания источника миграций: %w", err)
	}
	defer source.Close()

	version, err := source.First()
	if err != nil {
		return 0, fmt.Errorf("нет встроенных миграций: %w", err)
	}
	for {
		next, err := source.Next(version)
		if errors.Is(err, fs.ErrNotExist) {
			return version, nil
		}
		if err != nil {
			return 0, fmt.Errorf("ошибка чтения миграций: %w", err)
		}
		version = next
	}
}

// Migrate применяет SQL-миграции из embedded FS к базе данных
// и возвращает итоговую версию схемы. Схема в состоянии dirty
// не мигрируется: возвращается ErrDirtySchema.
func Migrate(cfg *config.Config, logger *slog.Logger) (uint, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("ошибка создания источника миграций: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, cfg.DatabaseURL())
	if err != nil {
		return 0, fmt.Errorf("ошибка инициализации миграций: %w", err)
	}
	defer m.Close()

	before, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		before = 0
	case err != nil:
		return 0, fmt.Errorf("ошибка чтения версии схемы: %w", err)
	case dirty:
		return before, fmt.Errorf("%w: версия %d", ErrDirtySchema, before)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("ошибка применения миграций: %w", err)
	}

	version, _, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("ошибка чтения версии схемы: %w", err)
	}
	logger.Info("Миграции применены",
		slog.Uint64("from_version", uint64(before)),
		slog.Uint64("version", uint64(version)),
	)

	return version, nil
}

// SchemaVersion читает текущую версию схемы из schema_migrations.
func SchemaVersion(ctx context.Context, pool *pgxpool.Pool) (version uint, dirty bool, err error) {
	var v int64
	err = pool.QueryRow(ctx, `SELECT version, dirty FROM schema_migrations LIMIT 1`).Scan(&v, &dirty)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, ErrNoSchema
	}
	if err != nil {
		return 0, false, fmt.Errorf("ошибка чтения schema_migrations: %w", err)
	}
	return uint(v), dirty, nil
}

// ReadinessChecker — проверка готовности PostgreSQL для health endpoint:
// подключение и версия схемы.
type ReadinessChecker struct {
	pool *pgxpool.Pool
	want uint
}

// NewReadinessChecker создаёт проверку готовности PostgreSQL.
// want — версия схемы, с которой собран сервис (LatestVersion).
func NewReadinessChecker(pool *pgxpool.Pool, want uint) *ReadinessChecker {
	return &ReadinessChecker{pool: pool, want: want}
}

// CheckReady проверяет подключение к PostgreSQL и версию схемы.
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := c.pool.Ping(ctx); err != nil {
		return "fail", fmt.Sprintf("PostgreSQL недоступен: %v", err)
	}
	version, dirty, err := SchemaVersion(ctx, c.pool)
	if err != nil {
		return "fail", err.Error()
	}
	return schemaStatus(version, dirty, c.want)
}

// schemaStatus сопоставляет версию схемы с ожидаемой.
// Отстающая или опережающая схема даёт degraded, dirty — fail.
func schemaStatus(version uint, dirty bool, want uint) (status, message string) {
	switch {
	case dirty:
		return "fail", fmt.Sprintf("миграция %d не завершена (dirty)", version)
	case version < want:
		return "degraded", fmt.Sprintf("схема версии %d, ожидалась %d", version, want)
	case version > want:
		return "degraded", fmt.Sprintf("схема версии %d новее ожидаемой %d", version, want)
	default:
		return "ok", fmt.Sprintf("подключение активно, схема версии %d", version)
	}
}
