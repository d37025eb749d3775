// cmd/api/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	r "gopkg.in/rethinkdb/rethinkdb-go.v6"

	"geoval-system/internal/api"
	"geoval-system/internal/config"
	"geoval-system/internal/messaging"
	"geoval-system/internal/repository"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting validation API server")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	logConfig(logger, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rethinkSession, err := connectToRethinkDB(cfg, logger)
	if err != nil {
		logger.Fatal("failed to connect to RethinkDB", zap.Error(err))
	}
	defer rethinkSession.Close()

	logger.Info("connected to RethinkDB")

	if err := setupDatabase(rethinkSession, cfg, logger); err != nil {
		logger.Fatal("failed to setup database", zap.Error(err))
	}
	logger.Info("database setup completed")

	redisClient, err := connectToRedis(cfg, logger)
	if err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	logger.Info("connected to Redis")

	runRepo := repository.NewRunRepository(rethinkSession, cfg.RunTableName)
	resultRepo := repository.NewResultRepository(rethinkSession, cfg.ResultTableName)

	apiServer := api.NewServer(runRepo, resultRepo, redisClient, cfg, logger)

	healthServer := startHealthServer(cfg.HealthPort, redisClient, rethinkSession, logger)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- apiServer.Start()
	}()

	waitForShutdown(ctx, cancel, apiServer, healthServer, serverErrors, logger)

	logger.Info("API server stopped gracefully")
}

func logConfig(logger *zap.Logger, cfg *config.Config) {
	logger.Info("configuration",
		zap.String("redis_url", cfg.RedisURL),
		zap.String("redis_stream", cfg.StreamName),
		zap.String("consumer_group", cfg.ConsumerGroup),
		zap.String("rethinkdb_url", cfg.RethinkDBURL),
		zap.String("db_name", cfg.DBName),
		zap.String("run_table", cfg.RunTableName),
		zap.String("result_table", cfg.ResultTableName),
		zap.String("server_port", cfg.ServerPort),
		zap.String("health_port", cfg.HealthPort),
		zap.Int("worker_count", cfg.WorkerCount))
}

func connectToRethinkDB(cfg *config.Config, logger *zap.Logger) (*r.Session, error) {
	maxRetries := 10
	var session *r.Session
	var err error

	for i := 1; i <= maxRetries; i++ {
		logger.Info("connecting to RethinkDB", zap.Int("attempt", i), zap.Int("max", maxRetries))

		session, err = r.Connect(r.ConnectOpts{
			Address:    cfg.RethinkDBURL,
			Database:   cfg.DBName,
			MaxOpen:    20,
			InitialCap: 5,
			Timeout:    10 * time.Second,
		})

		if err == nil {
			if testErr := testRethinkDBConnection(session, logger); testErr == nil {
				return session, nil
			}
			session.Close()
		}

		if i < maxRetries {
			waitTime := time.Duration(i) * 2 * time.Second
			logger.Warn("connection failed, retrying",
				zap.Error(err),
				zap.Duration("wait", waitTime))
			time.Sleep(waitTime)
		}
	}

	return nil, fmt.Errorf("failed to connect to RethinkDB after %d attempts: %w", maxRetries, err)
}

func testRethinkDBConnection(session *r.Session, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cursor, err := r.Now().Run(session, r.RunOpts{Context: ctx})
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	defer cursor.Close()

	var result time.Time
	if err := cursor.One(&result); err != nil {
		return fmt.Errorf("failed to read server time: %w", err)
	}

	logger.Info("RethinkDB connection successful", zap.Time("server_time", result))
	return nil
}

func setupDatabase(session *r.Session, cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	runOpts := r.RunOpts{Context: ctx}

	logger.Info("setting up database", zap.String("db", cfg.DBName))

	cursor, err := r.DBList().Run(session, runOpts)
	if err != nil {
		return fmt.Errorf("failed to list databases: %w", err)
	}
	defer cursor.Close()

	var dbList []string
	if err := cursor.All(&dbList); err != nil {
		return fmt.Errorf("failed to read database list: %w", err)
	}

	if !contains(dbList, cfg.DBName) {
		logger.Info("creating database", zap.String("db", cfg.DBName))
		if _, err := r.DBCreate(cfg.DBName).RunWrite(session, runOpts); err != nil {
			return fmt.Errorf("failed to create database: %w", err)
		}
	}

	session.Use(cfg.DBName)

	tables := map[string][]string{
		cfg.RunTableName:    {"status", "created_at", "updated_at"},
		cfg.ResultTableName: {"run_id", "spatial_id", "created_at"},
	}

	for table, indexes := range tables {
		if err := setupTable(session, table, indexes, ctx, logger); err != nil {
			return err
		}
	}

	return nil
}

func setupTable(session *r.Session, tableName string, indexes []string, ctx context.Context, logger *zap.Logger) error {
	runOpts := r.RunOpts{Context: ctx}

	logger.Info("setting up table", zap.String("table", tableName))

	cursor, err := r.TableList().Run(session, runOpts)
	if err != nil {
		return fmt.Errorf("failed to list tables: %w", err)
	}
	defer cursor.Close()

	var tableList []string
	if err := cursor.All(&tableList); err != nil {
		return fmt.Errorf("failed to read table list: %w", err)
	}

	if contains(tableList, tableName) {
		return nil
	}

	logger.Info("creating table", zap.String("table", tableName))
	if _, err := r.TableCreate(tableName).RunWrite(session, runOpts); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	time.Sleep(1 * time.Second)

	if err := createIndexes(session, tableName, indexes, ctx, logger); err != nil {
		logger.Warn("failed to create indexes", zap.String("table", tableName), zap.Error(err))
	}

	return nil
}

func createIndexes(session *r.Session, tableName string, indexes []string, ctx context.Context, logger *zap.Logger) error {
	runOpts := r.RunOpts{Context: ctx}

	for _, index := range indexes {
		logger.Info("creating index", zap.String("table", tableName), zap.String("index", index))

		_, err := r.Table(tableName).IndexCreate(index).RunWrite(session, runOpts)
		if err != nil && !isIndexExistsError(err) {
			return fmt.Errorf("failed to create index %s: %w", index, err)
		}
	}

	if _, err := r.Table(tableName).IndexWait().RunWrite(session, runOpts); err != nil {
		return fmt.Errorf("failed to wait for indexes: %w", err)
	}

	return nil
}

func isIndexExistsError(err error) bool {
	return strings.Contains(err.Error(), "already exists")
}

func contains(list []string, item string) bool {
	for _, s := range list {
		if s == item {
			return true
		}
	}
	return false
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
		fmt.Fprintf(w, `{"status":"healthy","service":"api","timestamp":"%s"}`,
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

func waitForShutdown(ctx context.Context, cancel context.CancelFunc,
	apiServer *api.Server, healthServer *http.Server,
	serverErrors chan error, logger *zap.Logger) {

	osSignals := make(chan os.Signal, 1)
	signal.Notify(osSignals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", zap.Error(err))
		cancel()

	case sig := <-osSignals:
		logger.Info("received signal, starting graceful shutdown", zap.String("signal", sig.String()))
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("API server shutdown error", zap.Error(err))
		}

		if healthServer != nil {
			if err := healthServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("health server shutdown error", zap.Error(err))
			}
		}

		time.Sleep(2 * time.Second)
	}
}
