package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Dosada05/club-system/config"
	"github.com/Dosada05/club-system/db"
	"github.com/Dosada05/club-system/handlers"
	"github.com/Dosada05/club-system/identity"
	"github.com/Dosada05/club-system/metrics"
	"github.com/Dosada05/club-system/middleware"
	"github.com/Dosada05/club-system/repositories"
	api "github.com/Dosada05/club-system/routes"
	"github.com/Dosada05/club-system/services"
	"github.com/Dosada05/club-system/storage"
	"github.com/go-chi/chi/v5"
)

// @title Club System API
// @version 1.0
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	// Настройка логгера
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("configuration loaded", slog.Int("port", cfg.ServerPort))

	// Подключение к базе данных
	dbConn, err := db.Connect(cfg.DatabaseURL, 5*time.Second)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Error("failed to close database connection", slog.Any("error", err))
		} else {
			logger.Info("database connection closed")
		}
	}()
	logger.Info("database connection established")

	if cfg.AutoMigrate {
		migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := db.Migrate(migrateCtx, dbConn)
		cancel()
		if err != nil {
			logger.Error("failed to apply schema", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("schema applied")
	}

	// Хранилище сессий: Redis, если настроен, иначе сессии без состояния
	var sessionStore identity.SessionStore = identity.StatelessSessionStore{}
	if cfg.RedisAddr != "" {
		redisStore, err := identity.NewRedisSessionStore(identity.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			logger.Error("failed to connect to redis", slog.Any("error", err))
			os.Exit(1)
		}
		defer redisStore.Close()
		sessionStore = redisStore
		logger.Info("redis session store initialized")
	} else {
		logger.Warn("REDIS_ADDR not set: sessions are stateless and sign-out cannot revoke them")
	}
	sessions := identity.NewSessionManager(cfg.SessionSecret, cfg.SessionTTL, sessionStore)

	provider, err := identity.NewJWTProvider(identity.JWTProviderConfig{
		SigningKey: cfg.IdPSigningKey,
		Issuer:     cfg.IdPIssuer,
		Audience:   cfg.IdPAudience,
	})
	if err != nil {
		logger.Error("failed to initialize identity provider", slog.Any("error", err))
		os.Exit(1)
	}

	// Инициализация загрузчика файлов (Cloudflare R2)
	var uploader storage.FileUploader
	if cfg.R2Enabled() {
		uploader, err = storage.NewCloudflareR2Uploader(context.Background(), storage.CloudflareR2UploaderConfig{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			PublicBaseURL:   cfg.R2PublicBaseURL,
		})
		if err != nil {
			logger.Error("failed to initialize Cloudflare R2 uploader", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("Cloudflare R2 uploader initialized")
	} else {
		logger.Warn("R2 is not configured: avatar uploads are disabled")
	}

	var notifier services.Notifier = services.NoopNotifier{}
	if cfg.SMTPEnabled() {
		emailService, err := services.NewEmailService(cfg)
		if err != nil {
			logger.Error("failed to initialize email service", slog.Any("error", err))
			os.Exit(1)
		}
		notifier = emailService
		logger.Info("email notifications enabled", slog.String("smtp_host", cfg.SMTPHost))
	}

	appMetrics := metrics.New()

	// Инициализация репозиториев
	tx := repositories.NewPostgresTransactor(dbConn, logger)
	memberRepo := repositories.NewPostgresMemberRepository(dbConn)
	registrationRepo := repositories.NewPostgresRegistrationRepository(dbConn)
	parentRequestRepo := repositories.NewPostgresParentRequestRepository(dbConn)
	kidRepo := repositories.NewPostgresKidRepository(dbConn)
	eventRepo := repositories.NewPostgresEventRepository(dbConn)
	attendanceRepo := repositories.NewPostgresAttendanceRepository(dbConn)
	participationRepo := repositories.NewPostgresParticipationRepository(dbConn)
	logger.Info("Repositories initialized")

	// Инициализация сервисов
	registrationService := services.NewRegistrationService(tx, memberRepo, registrationRepo, parentRequestRepo, notifier, appMetrics, logger)
	statusService := services.NewMemberStatusService(tx, memberRepo, appMetrics, logger)
	delegationService := services.NewDelegationService(tx, memberRepo, kidRepo, attendanceRepo, appMetrics, logger)
	eventService := services.NewEventService(tx, eventRepo, attendanceRepo, participationRepo, appMetrics, logger)
	attendanceService := services.NewAttendanceService(tx, eventRepo, attendanceRepo, delegationService, appMetrics, logger)
	participationService := services.NewParticipationService(tx, eventRepo, attendanceRepo, participationRepo, delegationService, appMetrics, logger)
	memberService := services.NewMemberService(memberRepo, uploader, logger)
	authService := services.NewAuthService(tx, provider, sessions, memberRepo, registrationRepo, registrationService, cfg.BootstrapAdminEmail, logger)
	logger.Info("Services initialized")

	// Инициализация обработчиков HTTP
	secureCookie := strings.HasPrefix(cfg.PublicURL, "https://")
	h := api.Handlers{
		Auth:         handlers.NewAuthHandler(authService, secureCookie),
		Registration: handlers.NewRegistrationHandler(authService, registrationService),
		Member:       handlers.NewMemberHandler(memberService, delegationService, registrationService),
		Event:        handlers.NewEventHandler(eventService, attendanceService, participationService, delegationService),
		Admin:        handlers.NewAdminHandler(registrationService, memberService, statusService, delegationService),
	}
	logger.Info("HTTP handlers initialized")

	// Настройка маршрутизатора
	router := chi.NewRouter()
	api.SetupRoutes(router, h, api.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Authenticator:  middleware.NewAuthenticator(sessions, memberRepo, logger),
		Metrics:        appMetrics,
		DB:             dbConn,
	})
	logger.Info("Routes configured")

	// Настройка и запуск HTTP-сервера
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("address", server.Addr))
		serverErrors <- server.ListenAndServe()
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("server stopped gracefully")
	case sig := <-quit:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancelShutdown()

		logger.Info("shutting down server", slog.Duration("timeout", 15*time.Second))
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", slog.Any("error", err))
			if closeErr := server.Close(); closeErr != nil {
				logger.Error("failed to force close server", slog.Any("error", closeErr))
			}
			os.Exit(1)
		}
		logger.Info("server shutdown complete")
	}
	logger.Info("application exited")
}
