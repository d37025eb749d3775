// cmd/worker/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	r "gopkg.in/rethinkdb/rethinkdb-go.v6"

	"geoval-system/internal/config"
	"geoval-system/internal/infrastructure"
	"geoval-system/internal/messaging"
	"geoval-system/internal/repository"
	"geoval-system/internal/worker"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting validation worker")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	logger.Info("configuration",
		zap.String("redis_url", cfg.RedisURL),
		zap.String("redis_stream", cfg.StreamName),
		zap.String("consumer_group", cfg.ConsumerGroup),
		zap.String("rethinkdb_url", cfg.RethinkDBURL),
		zap.String("db_name", cfg.DBName),
		zap.String("run_table", cfg.RunTableName),
		zap.String("result_table", cfg.ResultTableName),
		zap.String("data_root", cfg.DataRoot),
		zap.Int("worker_count", cfg.WorkerCount),
		zap.String("health_port", cfg.HealthPort))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rethinkSession, err := r.Connect(r.ConnectOpts{
		Address:  cfg.RethinkDBURL,
		Database: cfg.DBName,
		MaxOpen:  20,
	})
	if err != nil {
		logger.Fatal("failed to connect to RethinkDB", zap.Error(err))
	}
	defer rethinkSession.Close()

	logger.Info("connected to RethinkDB")

	if _, err := r.DB(cfg.DBName).TableList().Run(rethinkSession); err != nil {
		logger.Warn("database or tables might not exist yet", zap.Error(err))
	}

	runRepo := repository.NewRunRepository(rethinkSession, cfg.RunTableName)
	resultRepo := repository.NewResultRepository(rethinkSession, cfg.ResultTableName)

	redisClient, err := connectToRedis(cfg, logger)
	if err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	logger.Info("connected to Redis")

	registry := infrastructure.NewRegistry(logger)

	healthServer := startHealthServer(cfg.HealthPort, redisClient, rethinkSession, logger)

	workers := createWorkers(cfg.WorkerCount, runRepo, resultRepo, redisClient, registry, cfg, logger)
	startWorkers(ctx, workers, logger)

	logger.Info("workers started", zap.Int("count", len(workers)))

	waitForShutdown(cancel, workers, healthServer, logger)

	logger.Info("worker stopped gracefully")
}

func connectToRedis(cfg *config.Config, logger *zap.Logger) (messaging.MessageClient, error) {
	maxRetries := 10
	var client messaging.MessageClient
	var err error

	for i := 1; i <= maxRetries; i++ {
		logger.Info("connecting to Redis", zap.Int("attempt", i), zap.Int("max", maxRetries))

		client, err = messaging.NewRedisClient(
			cfg.RedisURL,
			cfg.RedisPassword,
			cfg.RedisDB,
			cfg.StreamName,
			cfg.ConsumerGroup,
			logger,
		)

		if err == nil {
			return client, nil
		}

		if i < maxRetries {
			waitTime := time.Duration(i) * 2 * time.Second
			logger.Warn("connection failed, retrying",
				zap.Error(err),
				zap.Duration("wait", waitTime))
			time.Sleep(waitTime)
		}
	}

	return nil, fmt.Errorf("failed to connect to Redis after %d attempts: %w", maxRetries, err)
}

func createWorkers(count int, runs repository.RunRepository, results repository.ResultRepository,
	msgClient messaging.MessageClient, registry *infrastructure.Registry,
	cfg *config.Config, logger *zap.Logger) []*worker.Worker {

	workers := make([]*worker.Worker, count)
	hostname, _ := os.Hostname()

	for i := 0; i < count; i++ {
		workerID := fmt.Sprintf("%s-%d-%d", hostname, os.Getpid(), i+1)
		workers[i] = worker.NewWorker(workerID, runs, results, msgClient, registry, cfg, logger)
		logger.Info("created worker", zap.String("id", workerID))
	}

	return workers
}

func startWorkers(ctx context.Context, workers []*worker.Worker, logger *zap.Logger) {
	for i, w := range workers {
		go func(idx int, wk *worker.Worker) {
			if err := wk.Start(ctx); err != nil {
				logger.Error("worker stopped with error", zap.Int("index", idx+1), zap.Error(err))
			}
		}(i, w)
	}
}

func startHealthServer(port string, msgClient messaging.MessageClient, session *r.Session, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, rr *http.Request) {
		if err := msgClient.HealthCheck(); err != nil {
			http.Error(w, fmt.Sprintf("Redis: %v", err), http.StatusServiceUnavailable)
			return
		}

		ctx, cancel := context.WithTimeout(rr.Context(), 3*time.Second)
		defer cancel()

		cursor, err := r.Expr(1).Run(session, r.RunOpts{Context: ctx})
		if err != nil {
			http.Error(w, fmt.Sprintf("RethinkDB: %v", err), http.StatusServiceUnavailable)
			return
		}
		cursor.Close()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","service":"worker","timestamp":"%s"}`,
			time.Now().UTC().Format(time.RFC3339))
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})

	server := &http.Server{
		Addr:         port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("health server listening", zap.String("addr", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server error", zap.Error(err))
		}
	}()

	return server
}

func waitForShutdown(cancel context.CancelFunc, workers []*worker.Worker, healthServer *http.Server, logger *zap.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("received signal, initiating graceful shutdown", zap.String("signal", sig.String()))

	cancel()

	stopWorkers(workers, logger)

	if healthServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("health server shutdown error", zap.Error(err))
		}
	}

	select {
	case sig := <-sigChan:
		logger.Warn("received second signal, forcing shutdown", zap.String("signal", sig.String()))
	case <-time.After(10 * time.Second):
		logger.Info("shutdown timeout reached")
	}

	logger.Info("shutdown completed")
}

func stopWorkers(workers []*worker.Worker, logger *zap.Logger) {
	logger.Info("stopping workers", zap.Int("count", len(workers)))

	for _, w := range workers {
		if w != nil {
			w.Stop()
		}
	}
}
