package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dom/presence-registry/internal/api"
	"github.com/dom/presence-registry/internal/config"
	"github.com/dom/presence-registry/internal/metrics"
	"github.com/dom/presence-registry/internal/repository"
	"github.com/dom/presence-registry/internal/repository/dynamodb"
	"github.com/dom/presence-registry/internal/repository/memory"
	"github.com/dom/presence-registry/internal/repository/postgres"
	"github.com/dom/presence-registry/internal/repository/redis"
	"github.com/dom/presence-registry/internal/service"
	"github.com/dom/presence-registry/internal/websocket"
	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	clk := clock.WallClock
	ctx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	// Initialize repositories
	repos, closeStore, err := openStore(ctx, cfg, clk)
	if err != nil {
		log.Fatalf("failed to open %s store: %v", cfg.StoreBackend, err)
	}
	defer closeStore()

	m := metrics.New(prometheus.DefaultRegisterer)

	// Initialize services
	services, err := service.NewServices(repos, cfg, clk, m)
	if err != nil {
		log.Fatalf("failed to initialize services: %v", err)
	}

	// Initialize WebSocket hub
	hub := websocket.NewHub(services.Presence, m)
	go hub.Run()

	// Initialize router
	router := api.NewRouter(services, hub, cfg, prometheus.DefaultGatherer)

	// Create server
	srv := &http.Server{
		Addr:         "0.0.0.0:" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on port %s (store=%s, policy=%s)", cfg.Port, cfg.StoreBackend, services.Presence.Policy())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("ERROR [main] server forced to shutdown: %v", err)
	}

	// Close open sockets so each one records its disconnect before exit.
	hub.Stop()
	hub.Wait()
	stopBackground()

	log.Println("Server stopped")
}

func openStore(ctx context.Context, cfg *config.Config, clk clock.Clock) (*repository.Repositories, func(), error) {
	opts := repository.Options{
		ConnectionTTL:           cfg.ConnectionTTL,
		ActivityRetentionMonths: cfg.ActivityRetentionMonths,
	}

	switch cfg.StoreBackend {
	case config.BackendPostgres:
		db, err := postgres.NewConnection(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		go postgres.NewReaper(db, clk, cfg.ReapInterval).Run(ctx)
		return postgres.NewRepositories(db, clk, opts), func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		}, nil

	case config.BackendRedis:
		rdb, err := redis.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return redis.NewRepositories(rdb, cfg.RedisKeyPrefix, clk, opts), func() { rdb.Close() }, nil

	case config.BackendDynamoDB:
		client, err := dynamodb.NewClient(ctx, dynamodb.ClientConfig{
			Region:          cfg.AWSRegion,
			Endpoint:        cfg.DynamoDBEndpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := dynamodb.EnsureTable(ctx, client, cfg.TableName); err != nil {
			return nil, nil, err
		}
		return dynamodb.NewRepositories(client, cfg.TableName, clk, opts), func() {}, nil

	default:
		log.Printf("using in-memory store; presence is not shared between instances")
		return memory.NewRepositories(memory.NewStore(clk, opts)), func() {}, nil
	}
}
