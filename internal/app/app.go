package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"library-backend/internal/api"
	"library-backend/internal/auth"
	"library-backend/internal/config"
	"library-backend/internal/jobs"
	"library-backend/internal/library"
	"library-backend/internal/notify"
	"library-backend/internal/storage"
	"library-backend/internal/storage/ch"
	"library-backend/internal/storage/pg"
	"library-backend/internal/storage/stubs"
)

// App represents the application
type App struct {
	config    *config.Config
	logger    *zap.Logger
	db        storage.Storage
	journal   storage.Journal
	queue     jobs.Queue
	sender    notify.Sender
	worker    *jobs.Worker
	scheduler *jobs.Scheduler
	server    *http.Server
}

// LoadConfig reads .env, if present, and the environment
func LoadConfig() (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// NewLogger builds the zap logger for the configured level and environment
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

// New creates and initializes a new application instance
func New() (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := NewLogger(cfg)
	if err != nil {
		return nil, err
	}

	app := &App{config: cfg, logger: logger}
	logger.Info("Starting library backend...")

	if app.db, err = OpenStorage(context.Background(), cfg, logger); err != nil {
		return nil, err
	}
	if app.journal, err = OpenJournal(cfg, logger); err != nil {
		return nil, err
	}
	if app.queue, err = OpenQueue(cfg, logger); err != nil {
		return nil, err
	}
	if app.sender, err = NewSender(cfg, logger); err != nil {
		return nil, err
	}

	lib := NewLibrary(cfg, app.db, app.journal, app.queue, logger)
	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.AccessTTL, cfg.RefreshTTL)
	accounts := auth.NewService(app.db, issuer, logger)

	app.worker = jobs.NewWorker(app.queue, app.sender, logger)
	sweeper := jobs.NewSweeper(app.db, lib, app.sender, logger)
	app.scheduler, err = jobs.NewScheduler(sweeper, jobs.Schedule{
		jobs.JobOverdue:     cfg.OverdueCron,
		jobs.JobDueToday:    cfg.DueTodayCron,
		jobs.JobExpireHolds: cfg.ExpiryCron,
	}, logger)
	if err != nil {
		return nil, err
	}

	app.initHTTPServer(lib, accounts)
	return app, nil
}

// OpenStorage connects the relational store, or the in-memory store when USE_MOCK_DB is set
func OpenStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Storage, error) {
	var db storage.Storage
	if cfg.UseMockDB {
		logger.Info("Using mock database")
		db = stubs.NewMockDB()
	} else {
		logger.Info("Connecting to PostgreSQL", zap.String("driver", cfg.DBDriver), zap.Bool("auto_migrate", cfg.AutoMigrate))
		pgDB, err := pg.NewPostgresDB(pg.Options{
			Driver:       cfg.DBDriver,
			DSN:          cfg.DatabaseURL,
			MaxOpenConns: cfg.MaxOpenConns,
			MaxIdleConns: cfg.MaxOpenConns / 2,
			AutoMigrate:  cfg.AutoMigrate,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		db = pgDB
	}

	if err := db.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	logger.Info("Database initialized successfully")
	return db, nil
}

// ClickHouseOptions maps the journal settings to connection options
func ClickHouseOptions(cfg *config.Config) ch.Options {
	return ch.Options{
		Host:     cfg.ClickHouseHost,
		Port:     cfg.ClickHousePort,
		Database: cfg.ClickHouseDatabase,
		User:     cfg.ClickHouseUser,
		Password: cfg.ClickHousePassword,
		UseTLS:   cfg.ClickHouseUseTLS,
	}
}

// OpenJournal connects the ClickHouse circulation journal, or an in-memory one when disabled
func OpenJournal(cfg *config.Config, logger *zap.Logger) (storage.Journal, error) {
	if !cfg.JournalEnabled {
		logger.Info("Using in-memory circulation journal")
		return stubs.NewMockJournal(), nil
	}

	tlsStatus := "without TLS"
	if cfg.ClickHouseUseTLS {
		tlsStatus = "with TLS"
	}
	logger.Info(fmt.Sprintf("Connecting to ClickHouse at %s:%d (database: %s, user: %s, %s)",
		cfg.ClickHouseHost, cfg.ClickHousePort, cfg.ClickHouseDatabase, cfg.ClickHouseUser, tlsStatus))

	journal, err := ch.NewClickHouseDB(ClickHouseOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	return journal, nil
}

// OpenQueue connects RabbitMQ when configured, otherwise an in-process queue
func OpenQueue(cfg *config.Config, logger *zap.Logger) (jobs.Queue, error) {
	if cfg.RabbitMQURL == "" {
		logger.Info("Using in-process notification queue", zap.Int("size", cfg.QueueSize))
		return jobs.NewChannelQueue(cfg.QueueSize), nil
	}
	q, err := jobs.NewRabbitQueue(cfg.RabbitMQURL, cfg.RabbitMQExchange, cfg.RabbitMQQueue, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Connected to RabbitMQ", zap.String("exchange", cfg.RabbitMQExchange), zap.String("queue", cfg.RabbitMQQueue))
	return q, nil
}

// NewSender builds the mail sender, mirrored to Telegram when a bot token is set
func NewSender(cfg *config.Config, logger *zap.Logger) (notify.Sender, error) {
	var mail notify.Sender
	if cfg.SMTPHost == "" {
		logger.Warn("SMTP_HOST not set, notifications will only be logged")
		mail = notify.NewLogSender(logger)
	} else {
		smtpSender, err := notify.NewSMTPSender(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.FromEmail,
		})
		if err != nil {
			return nil, err
		}
		mail = smtpSender
	}

	if cfg.TelegramToken == "" {
		return mail, nil
	}
	tg, err := notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID, logger)
	if err != nil {
		return nil, err
	}
	return notify.MultiSender{mail, tg}, nil
}

// NewLibrary creates the circulation service
func NewLibrary(cfg *config.Config, db storage.Storage, journal storage.Journal, publisher library.Publisher, logger *zap.Logger) *library.Service {
	return library.NewService(db, journal, publisher, logger, library.Options{
		FinePerDay: cfg.FinePerDay,
		ReturnURL:  cfg.ReturnURL,
	})
}

// initHTTPServer initializes the HTTP server
func (a *App) initHTTPServer(lib *library.Service, accounts *auth.Service) {
	srv := api.NewServer(lib, accounts, a.logger, api.Options{
		Prefix:             a.config.APIPrefix,
		MediaRoot:          a.config.MediaRoot,
		CORSOrigins:        a.config.CORSOrigins,
		LoginRatePerMinute: a.config.LoginRatePerMinute,
		LoginBurst:         a.config.LoginBurst,
	})

	a.server = &http.Server{
		Addr:         ":" + a.config.Port,
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Run starts the application and blocks until shutdown
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("Starting HTTP server", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	workerCtx, cancelWorker := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.worker.Run(workerCtx); err != nil {
			a.logger.Error("Notification worker error", zap.Error(err))
		}
	}()

	a.scheduler.Start()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("Shutting down...")
	case runErr = <-serverErr:
		a.logger.Error("HTTP server error", zap.Error(runErr))
	}

	shutdownErr := a.Shutdown(cancelWorker, &wg)
	if runErr != nil {
		return runErr
	}
	return shutdownErr
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown(stopWorker context.CancelFunc, wg *sync.WaitGroup) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	a.scheduler.Stop(shutdownCtx)

	// Let the worker drain intents queued by in-flight requests
	if err := a.queue.Close(); err != nil {
		a.logger.Error("Error closing queue", zap.Error(err))
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		a.logger.Warn("Timed out waiting for notification worker")
	}
	stopWorker()

	if err := a.journal.Close(); err != nil {
		a.logger.Error("Error closing journal", zap.Error(err))
	}

	var err error
	if err = a.db.Close(); err != nil {
		a.logger.Error("Error closing database", zap.Error(err))
	}
	a.logger.Info("Shutdown complete")
	_ = a.logger.Sync()
	return err
}
