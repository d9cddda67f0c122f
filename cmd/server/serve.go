package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"google.golang.org/grpc"

	"github.com/rl1809/stock-count/internal/adapter/handler"
	"github.com/rl1809/stock-count/internal/adapter/storage"
	"github.com/rl1809/stock-count/internal/config"
	"github.com/rl1809/stock-count/internal/core/service"
	"github.com/rl1809/stock-count/internal/core/workflow"
	"github.com/rl1809/stock-count/internal/logger"
	"github.com/rl1809/stock-count/internal/port"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and gRPC count servers.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		log, err := logger.New(cfg.AppEnv, cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
		defer log.Sync()

		return serve(cmd.Context(), cfg, log)
	},
}

func serve(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Initialize database
	db, err := sqlx.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("open %s: %w", cfg.DBDriver, err)
	}
	defer db.Close()
	if cfg.DBDriver == "sqlite3" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
	}
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", cfg.DBDriver, err)
	}
	log.Info("connected to database", zap.String("driver", cfg.DBDriver))

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: 100,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	log.Info("connected to redis", zap.String("addr", cfg.RedisAddr))

	store := storage.NewSQLStore(db)
	redisAdapter := storage.NewRedisAdapter(rdb)

	locale, err := language.Parse(cfg.Locale)
	if err != nil {
		return fmt.Errorf("LOCALE: %w", err)
	}
	countService, err := service.NewCountService(store, workflow.DefaultRegistry(), cfg.Policy,
		service.WithLocker(redisAdapter, cfg.LockTTL),
		service.WithLogger(log),
		service.WithLocale(locale),
		service.WithOutcomeQueue(cfg.OutcomeQueueSize),
	)
	if err != nil {
		return fmt.Errorf("init count service: %w", err)
	}

	// Start publisher workers
	var wg sync.WaitGroup
	for i := 0; i < cfg.PublisherWorkers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			publishLoop(id, countService.Outcomes(), redisAdapter, log)
		}(i)
	}
	log.Info("started publisher workers", zap.Int("count", cfg.PublisherWorkers))

	// gRPC server
	grpcServer := grpc.NewServer()
	handler.RegisterCountServiceServer(grpcServer, handler.NewGRPCHandler(countService))

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
	}
	go func() {
		log.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			log.Error("gRPC server error", zap.Error(err))
		}
	}()

	// HTTP server
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	handler.NewHTTPHandler(countService, store).RegisterRoutes(router)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}
	go func() {
		log.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown", zap.Error(err))
	}
	log.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	log.Info("gRPC server stopped")

	// Close outcome queue and wait for publishers
	countService.Close()
	wg.Wait()
	log.Info("publisher workers stopped")

	return nil
}

func publishLoop(id int, queue <-chan port.Outcome, publisher port.OutcomePublisher, log *zap.Logger) {
	for outcome := range queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

		if err := publisher.PublishOutcome(ctx, outcome); err != nil {
			log.Warn("publish outcome failed",
				zap.Int("worker", id),
				zap.String("submission_id", outcome.SubmissionID),
				zap.Error(err))
		} else {
			log.Debug("published outcome",
				zap.Int("worker", id),
				zap.String("submission_id", outcome.SubmissionID),
				zap.String("state", outcome.State))
		}

		cancel()
	}
}
