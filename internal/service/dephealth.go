// dephealth.go — мониторинг зависимостей через topologymetrics SDK.
//
// pipeline-module мониторит:
//   - PostgreSQL — SQL checker через существующий pgxpool (critical)
//   - сервис извлечения — HTTP checker к /health (critical)
//
// Метрики app_dependency_* публикуются на /metrics вместе с остальными.
package service

import (
	"context"
	"database/sql"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // регистрация HTTP checker factory
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bigkaa/smartact/internal/extractor"
)

// DephealthParams — параметры мониторинга зависимостей.
type DephealthParams struct {
	// ServiceID — имя вершины графа (DEPHEALTH_NAME или "pipeline-module")
	ServiceID string
	// Group — группа в метриках (PM_DEPHEALTH_GROUP)
	Group string
	// DB — *sql.DB из stdlib.OpenDBFromPool; nil — PostgreSQL не мониторится
	DB *sql.DB
	// DatabaseURL — URL PostgreSQL для лейблов (не для подключения)
	DatabaseURL string
	// ExtractorURL — базовый URL сервиса извлечения
	ExtractorURL string
	// CheckInterval — интервал проверки
	CheckInterval time.Duration
	// IsEntry — добавить лейбл isentry=yes (DEPHEALTH_ISENTRY)
	IsEntry bool
}

// DephealthService — мониторинг зависимостей pipeline-module.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис. Метрики регистрируются в глобальном registry.
func NewDephealthService(p DephealthParams, logger *slog.Logger) (*DephealthService, error) {
	return newDephealthService(p, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с отдельным Prometheus registerer.
func NewDephealthServiceWithRegisterer(p DephealthParams, logger *slog.Logger, registerer prometheus.Registerer) (*DephealthService, error) {
	return newDephealthService(p, logger, dephealth.WithRegisterer(registerer))
}

func newDephealthService(p DephealthParams, logger *slog.Logger, extraOpts ...dephealth.Option) (*DephealthService, error) {
	common := []dephealth.DependencyOption{
		dephealth.CheckInterval(p.CheckInterval),
		dephealth.Critical(true),
	}
	if p.IsEntry {
		common = append(common, dephealth.WithLabel("isentry", "yes"))
	}

	extOpts := append([]dephealth.DependencyOption{
		dephealth.FromURL(p.ExtractorURL),
		dephealth.WithHTTPHealthPath(extractor.HealthPath),
	}, common...)
	if parsed, err := url.Parse(p.ExtractorURL); err == nil && parsed.Scheme == "https" {
		extOpts = append(extOpts, dephealth.WithHTTPTLSSkipVerify(false))
	}

	opts := make([]dephealth.Option, 0, 3+len(extraOpts))
	opts = append(opts,
		dephealth.WithLogger(logger),
		dephealth.HTTP("extractor", extOpts...),
	)
	if p.DB != nil {
		pgOpts := append([]dephealth.DependencyOption{dephealth.FromURL(p.DatabaseURL)}, common...)
		opts = append(opts, dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(p.DB)), pgOpts...))
	}
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(p.ServiceID, p.Group, opts...)
	if err != nil {
		return nil, err
	}
	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// Start запускает периодические проверки.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен")
	return ds.dh.Start(ctx)
}

// Stop останавливает проверки.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает состояние зависимостей: ключ — "имя:host:port", значение — ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
