// Точка входа DoWC — сервиса локального редактирования документов
// Documenten API. Загружает конфигурацию, применяет миграции, подключается
// к PostgreSQL, создаёт клиента Documenten API, сервисный слой и API handlers,
// запускает фоновые задачи (sweeper, topologymetrics), HTTP-сервер
// с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/GemeenteUtrecht/dowc/internal/api/handlers"
	"github.com/GemeenteUtrecht/dowc/internal/api/middleware"
	"github.com/GemeenteUtrecht/dowc/internal/config"
	"github.com/GemeenteUtrecht/dowc/internal/database"
	"github.com/GemeenteUtrecht/dowc/internal/drcclient"
	"github.com/GemeenteUtrecht/dowc/internal/notify"
	"github.com/GemeenteUtrecht/dowc/internal/repository"
	"github.com/GemeenteUtrecht/dowc/internal/server"
	"github.com/GemeenteUtrecht/dowc/internal/service"
	"github.com/GemeenteUtrecht/dowc/internal/storage/filestore"
	"github.com/GemeenteUtrecht/dowc/internal/tokens"
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
	logger.Info("DoWC запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	if cfg.WebDAVBaseURL == "" {
		logger.Warn("DOWC_WEBDAV_BASE_URL не задан, magic URL будут относительными")
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
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

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Blob-хранилище рабочих копий
	store, err := filestore.New(cfg.DataDir)
	if err != nil {
		logger.Error("Ошибка инициализации blob-хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Blob-хранилище готово", slog.String("data_dir", store.DataDir()))

	// 6. Клиент Documenten API
	drc, err := drcclient.New(
		cfg.DRCUrl,
		cfg.DRCCACert,
		cfg.DRCTimeout,
		cfg.DRCClientID,
		cfg.DRCClientSecret,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка создания клиента Documenten API", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Клиент Documenten API создан", slog.String("url", cfg.DRCUrl))

	// 7. Repository и сервисный слой
	fileRepo := repository.NewDocumentFileRepository(pool)

	documentsSvc := service.NewDocumentFileService(fileRepo, store, drc, cfg.SecretKey, logger)

	docCache := service.NewCacheService(cfg.DocCacheSize, cfg.DocCacheTTL)
	statusSvc := service.NewStatusService(fileRepo, drc, docCache, logger)

	tokenGen := tokens.New(cfg.SecretKey, cfg.TokenTimeoutDays)
	magicURL := service.NewMagicURLBuilder(cfg.WebDAVBaseURL, tokenGen)

	notifier := notify.NewLogNotifier(logger)
	sweeper := service.NewSweeperService(
		documentsSvc, fileRepo, notifier,
		cfg.SweepInterval, cfg.SweepConcurrency,
		logger,
	)

	// 8. Readiness checkers (PostgreSQL + JWKS)
	pgChecker := database.NewReadinessChecker(pool)
	jwksChecker, err := middleware.NewJWKSReadinessChecker(cfg.JWKSUrl, cfg.JWKSCACert, cfg.JWKSClientTimeout)
	if err != nil {
		logger.Error("Ошибка создания JWKS readiness checker", slog.String("error", err.Error()))
		os.Exit(1)
	}
	healthHandler := handlers.NewHealthHandler(pgChecker, jwksChecker)

	// 9. API handler
	apiHandler := handlers.NewAPIHandler(
		healthHandler,
		documentsSvc,
		statusSvc,
		sweeper,
		magicURL,
		logger,
	)

	// 10. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(
		cfg.JWKSUrl,
		cfg.JWKSCACert,
		cfg.AuthIssuer,
		cfg.AuthAdminGroups,
		cfg.JWKSClientTimeout,
		cfg.JWKSRefreshInterval,
		cfg.JWTLeeway,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer jwtAuth.Close()
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWKSUrl),
		slog.String("issuer", cfg.AuthIssuer),
	)

	// 11. Фоновые задачи
	sweeper.Start()
	defer sweeper.Stop()

	// 11.1 topologymetrics — мониторинг зависимостей (PostgreSQL + Documenten API)
	dephealthSvc, dephealthErr := service.NewDephealthService(
		"dowc",
		cfg.DephealthGroup,
		pgDB,
		cfg.DatabaseDSN(),
		cfg.DRCUrl,
		cfg.DephealthCheckInterval,
		cfg.DephealthIsEntry,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else {
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
			defer dephealthSvc.Stop()
		}
	}

	// 12. HTTP-сервер.
	// JWT применяется ко всем запросам, кроме служебных endpoints.
	srv := server.New(cfg, logger, apiHandler,
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
		server.JWTAuthWithExclusions(
			jwtAuth.Middleware(),
			"/health/", "/metrics",
		),
	)

	// 13. Запуск сервера (блокирующий вызов с graceful shutdown)
	if err := srv.Run(); err != nil {
		logger.Error("Сервер завершился с ошибкой", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("DoWC остановлен")
}
