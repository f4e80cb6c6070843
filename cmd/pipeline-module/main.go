// Точка входа pipeline-module — сервис обработки записей встреч.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// создаёт клиент сервиса извлечения, сервисный слой и API handlers,
// запускает серверный опрос заданий, topologymetrics и HTTP-сервер
// с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/smartact/internal/api/handlers"
	"github.com/bigkaa/smartact/internal/api/middleware"
	"github.com/bigkaa/smartact/internal/config"
	"github.com/bigkaa/smartact/internal/database"
	"github.com/bigkaa/smartact/internal/domain/progress"
	"github.com/bigkaa/smartact/internal/extractor"
	"github.com/bigkaa/smartact/internal/notifier"
	"github.com/bigkaa/smartact/internal/poller"
	"github.com/bigkaa/smartact/internal/repository"
	"github.com/bigkaa/smartact/internal/server"
	"github.com/bigkaa/smartact/internal/service"
	"github.com/bigkaa/smartact/internal/storage/audiostore"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Pipeline Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	schemaVersion, err := database.Migrate(cfg, logger)
	if err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	store := repository.NewStore(pool)

	// 5. Хранилище аудио (опционально)
	var audio service.AudioStore
	if cfg.AudioDir != "" {
		fileStore, err := audiostore.New(cfg.AudioDir, cfg.MaxUploadSize)
		if err != nil {
			logger.Error("Ошибка инициализации хранилища аудио", slog.String("error", err.Error()))
			os.Exit(1)
		}
		audio = fileStore
		logger.Info("Хранилище аудио", slog.String("dir", cfg.AudioDir))
	} else {
		logger.Warn("PM_AUDIO_DIR не задан, аудио передаётся inline")
	}

	// 6. Клиент сервиса извлечения
	extractorClient, err := extractor.New(cfg.ExtractorURL, cfg.ExtractorToken, cfg.ExtractorTimeout, cfg.ExtractorCACert, logger)
	if err != nil {
		logger.Error("Ошибка создания клиента сервиса извлечения", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 7. Уведомления наблюдателей
	var notify notifier.Notifier = notifier.Noop{}
	if cfg.NotifyURL != "" {
		notify = notifier.NewWebhook(cfg.NotifyURL, cfg.NotifyTimeout, logger)
		logger.Info("Уведомления наблюдателей включены", slog.String("url", cfg.NotifyURL))
	}

	// 8. Оценка прогресса и серверный опрос заданий
	estimator := progress.New(cfg.EstimateMultiplier, cfg.EstimateFallback)
	completionPoller := poller.New(store.Meetings, poller.Options{
		Interval:    cfg.PollInterval,
		MaxAttempts: cfg.PollMaxAttempts,
		Estimator:   estimator,
		Logger:      logger,
	})
	tracker := service.NewProgressTracker(completionPoller, cfg.ProgressCacheSize, cfg.ProgressCacheTTL, logger)

	// 9. Services
	intakeSvc := service.NewIntakeService(
		store.Repositories, store, audio, extractorClient,
		tracker, estimator, cfg.MaxUploadSize,
		logger,
	)
	meetingSvc := service.NewMeetingService(store.Repositories, tracker, estimator)
	callbackSvc := service.NewCallbackService(store, cfg.ReviewConfidenceThreshold, logger)
	reviewSvc := service.NewReviewService(store.Repositories, store, logger)
	actionSvc := service.NewActionService(store.Repositories, notify, logger)

	// 10. topologymetrics — мониторинг зависимостей (PostgreSQL + сервис извлечения)
	serviceID := cfg.DephealthName
	if serviceID == "" {
		serviceID = "pipeline-module"
	}
	var deps handlers.DependencyReporter
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthParams{
		ServiceID:     serviceID,
		Group:         cfg.DephealthGroup,
		DB:            pgDB,
		DatabaseURL:   cfg.DatabaseURL(),
		ExtractorURL:  cfg.ExtractorURL,
		CheckInterval: cfg.DephealthCheckInterval,
		IsEntry:       cfg.DephealthIsEntry,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
		dephealthSvc = nil
	} else {
		deps = dephealthSvc
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 11. Health handler и API handler
	healthHandler := handlers.NewHealthHandler(database.NewReadinessChecker(pool, schemaVersion), deps)
	apiHandler := handlers.NewAPIHandler(handlers.Deps{
		Health:        healthHandler,
		Recordings:    intakeSvc,
		Meetings:      meetingSvc,
		Actions:       actionSvc,
		Review:        reviewSvc,
		Results:       callbackSvc,
		MaxUploadSize: cfg.MaxUploadSize,
		Logger:        logger,
	})

	// 12. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(middleware.JWTAuthConfig{
		JWKSURL:         cfg.JWTJWKSURL,
		CACertPath:      cfg.JWKSCACert,
		Issuer:          cfg.JWTIssuer,
		ClientTimeout:   cfg.JWKSClientTimeout,
		RefreshInterval: cfg.JWKSRefreshInterval,
		Leeway:          cfg.JWTLeeway,
	}, logger)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)

	// 13. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger,
		func(r chi.Router) { apiHandler.Routes(r, jwtAuth.Middleware()) },
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
	)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 14. Остановка фоновых задач: активные сессии опроса отменяются,
	// задания в БД не изменяются
	logger.Info("Останавливаем фоновые задачи...")
	tracker.Stop()
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("Pipeline Module остановлен")
}
