package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"referral-tracker.backend/internal/config"
	"referral-tracker.backend/internal/infrastructure/datasources"
	"referral-tracker.backend/internal/infrastructure/jobs"
	"referral-tracker.backend/internal/infrastructure/repositories"
	"referral-tracker.backend/internal/interfaces/http/handlers"
	"referral-tracker.backend/internal/usecases"
	"referral-tracker.backend/pkg/idgen"
	"referral-tracker.backend/pkg/logger"
	"referral-tracker.backend/pkg/metrics"
	"referral-tracker.backend/pkg/redis"
	"referral-tracker.backend/pkg/wallet"
)

var (
	loadDotenv = godotenv.Load
	loadCfg    = config.Load
	initLog    = logger.Init
	initRedis  = redis.Init
	openDB     = datasources.Open
	migrateDB  = datasources.Migrate
	notifyCtx  = func() (context.Context, context.CancelFunc) {
		return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	}
	runServer = serveUntilDone
)

func main() {
	if err := runMainProcess(); err != nil {
		log.Fatal(err)
	}
}

func runMainProcess() error {
	if err := loadDotenv(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := loadCfg()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	initLog(cfg.Server.Env)
	defer logger.Sync()
	logger.Info(context.Background(), "Logger initialized", zap.String("env", cfg.Server.Env))

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	walletPolicy, err := wallet.NewPolicy(cfg.Referral.WalletValidation)
	if err != nil {
		return fmt.Errorf("invalid WALLET_VALIDATION: %w", err)
	}
	generator, err := idgen.New(cfg.Referral.IDScheme)
	if err != nil {
		return fmt.Errorf("invalid ID_SCHEME: %w", err)
	}

	db, err := openDB(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get generic database object: %w", err)
	}
	defer sqlDB.Close()

	if err := migrateDB(db); err != nil {
		return err
	}
	logger.Info(context.Background(), "Database ready", zap.String("dialect", db.Dialector.Name()))

	if cfg.Redis.Enabled() {
		if err := initRedis(cfg.Redis.URL, cfg.Redis.PASSWORD); err != nil {
			return fmt.Errorf("failed to initialize redis: %w", err)
		}
		defer redis.Close()
		logger.Info(context.Background(), "Redis initialized, idempotency enabled")
	}

	m := metrics.New()

	userRepo := repositories.NewUserRepository(db)
	uow := repositories.NewUnitOfWork(db)

	referralUsecase := usecases.NewReferralUsecase(
		userRepo,
		uow,
		generator,
		walletPolicy,
		cfg.Referral.BaseURL,
		cfg.Referral.IDMaxAttempts,
		m,
	)
	referralHandler := handlers.NewReferralHandler(referralUsecase)

	ctx, stop := notifyCtx()
	defer stop()

	if cfg.Referral.ReconcileSchedule != "" {
		reconcileJob := jobs.NewReferralReconcileJob(userRepo, cfg.Referral.ReconcileSchedule, m)
		if err := reconcileJob.Start(ctx); err != nil {
			return err
		}
		defer reconcileJob.Stop()
	}

	r := newRouter(routeDeps{
		referralHandler: referralHandler,
		metrics:         m,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info(ctx, "Referral tracker starting", zap.String("port", cfg.Server.Port))
	if err := runServer(ctx, srv, cfg.Server.ShutdownTimeout); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	logger.Info(context.Background(), "Server stopped")
	return nil
}

// serveUntilDone runs srv until ctx is cancelled, then drains in-flight
// requests for at most timeout.
func serveUntilDone(ctx context.Context, srv *http.Server, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info(context.Background(), "Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
