package testutil

import (
	"context"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/docker/go-connections/nat"
	"github.com/dom/presence-registry/internal/api"
	"github.com/dom/presence-registry/internal/config"
	"github.com/dom/presence-registry/internal/metrics"
	"github.com/dom/presence-registry/internal/repository"
	repoDynamo "github.com/dom/presence-registry/internal/repository/dynamodb"
	"github.com/dom/presence-registry/internal/repository/memory"
	repoPostgres "github.com/dom/presence-registry/internal/repository/postgres"
	repoRedis "github.com/dom/presence-registry/internal/repository/redis"
	"github.com/dom/presence-registry/internal/service"
	"github.com/dom/presence-registry/internal/websocket"
	"github.com/google/uuid"
	"github.com/juju/clock/testclock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	gormPostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TestDB manages a testcontainers PostgreSQL instance
type TestDB struct {
	Container testcontainers.Container
	DB        *gorm.DB
	DSN       string
}

// NewTestDB creates a new PostgreSQL testcontainer and returns a migrated connection
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	ctx := context.Background()

	container, err := tcPostgres.Run(ctx,
		"postgres:15-alpine",
		tcPostgres.WithDatabase("test_presence"),
		tcPostgres.WithUsername("test"),
		tcPostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	db, err := gorm.Open(gormPostgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}

	if err := repoPostgres.Migrate(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	testDB := &TestDB{
		Container: container,
		DB:        db,
		DSN:       dsn,
	}

	t.Cleanup(func() {
		testDB.Cleanup()
	})

	return testDB
}

// Cleanup terminates the container
func (tdb *TestDB) Cleanup() {
	if tdb.Container != nil {
		tdb.Container.Terminate(context.Background())
	}
}

// Truncate clears all tables for test isolation
func (tdb *TestDB) Truncate(t *testing.T) {
	t.Helper()

	for _, table := range []string{"presence_connections", "presence_activities"} {
		if err := tdb.DB.Exec(fmt.Sprintf("TRUNCATE TABLE %s", table)).Error; err != nil {
			t.Logf("warning: failed to truncate %s: %v", table, err)
		}
	}
}

// TestRedis manages a Redis testcontainer
type TestRedis struct {
	Container testcontainers.Container
	Client    *redis.Client
}

// NewTestRedis starts Redis and returns a connected client
func NewTestRedis(t *testing.T) *TestRedis {
	t.Helper()

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() {
		container.Terminate(context.Background())
	})

	addr := containerAddr(t, container, "6379/tcp")
	client, err := repoRedis.NewClient(ctx, addr, "", 0)
	if err != nil {
		t.Fatalf("failed to connect to redis: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
	})

	return &TestRedis{Container: container, Client: client}
}

// TestDynamoDB manages a DynamoDB Local testcontainer
type TestDynamoDB struct {
	Container testcontainers.Container
	Client    *dynamodb.Client
}

// NewTestDynamoDB starts DynamoDB Local and returns a client pointed at it
func NewTestDynamoDB(t *testing.T) *TestDynamoDB {
	t.Helper()

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "amazon/dynamodb-local:2.5.2",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"-jar", "DynamoDBLocal.jar", "-inMemory", "-sharedDb"},
			WaitingFor:   wait.ForListeningPort("8000/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start dynamodb container: %v", err)
	}
	t.Cleanup(func() {
		container.Terminate(context.Background())
	})

	client, err := repoDynamo.NewClient(ctx, repoDynamo.ClientConfig{
		Region:          "us-east-1",
		Endpoint:        "http://" + containerAddr(t, container, "8000/tcp"),
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	})
	if err != nil {
		t.Fatalf("failed to build dynamodb client: %v", err)
	}

	return &TestDynamoDB{Container: container, Client: client}
}

// CreateTable creates an empty presence table with a unique name
func (d *TestDynamoDB) CreateTable(t *testing.T) string {
	t.Helper()

	table := "presence_test_" + uuid.NewString()[:8]
	if err := repoDynamo.EnsureTable(context.Background(), d.Client, table); err != nil {
		t.Fatalf("failed to create table: %v", err)
	}
	return table
}

func containerAddr(t *testing.T, container testcontainers.Container, port string) string {
	t.Helper()

	ctx := context.Background()
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}
	mapped, err := container.MappedPort(ctx, nat.Port(port))
	if err != nil {
		t.Fatalf("failed to get mapped port %s: %v", port, err)
	}
	return fmt.Sprintf("%s:%s", host, mapped.Port())
}

// TestConfig returns a configuration suitable for testing
func TestConfig() *config.Config {
	return &config.Config{
		Port:                    "0", // Random port
		Environment:             "test",
		StoreBackend:            config.BackendMemory,
		JWTSecret:               "test-jwt-secret-key-for-testing-only",
		ConnectionTTL:           30 * time.Minute,
		ActivityRetentionMonths: 6,
		BatchSize:               100,
		MaxBulkUsers:            500,
	}
}

// TestServer holds all components for integration testing
type TestServer struct {
	Server   *httptest.Server
	Store    *memory.Store
	Clock    *testclock.Clock
	Services *service.Services
	Hub      *websocket.Hub
	Registry *prometheus.Registry
	Config   *config.Config
}

// NewTestServer creates a complete test server backed by the in-memory store
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	return NewTestServerWithConfig(t, TestConfig())
}

// NewTestServerWithConfig is NewTestServer with a caller-supplied configuration
func NewTestServerWithConfig(t *testing.T, cfg *config.Config) *TestServer {
	t.Helper()

	clk := testclock.NewClock(time.Now().UTC())
	store := memory.NewStore(clk, repoOptions(cfg))
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	services, err := service.NewServices(memory.NewRepositories(store), cfg, clk, m)
	if err != nil {
		t.Fatalf("failed to build services: %v", err)
	}

	hub := websocket.NewHub(services.Presence, m)
	go hub.Run()

	router := api.NewRouter(services, hub, cfg, reg)
	server := httptest.NewServer(router)

	ts := &TestServer{
		Server:   server,
		Store:    store,
		Clock:    clk,
		Services: services,
		Hub:      hub,
		Registry: reg,
		Config:   cfg,
	}

	t.Cleanup(func() {
		server.Close()
		hub.Stop()
	})

	return ts
}

// BaseURL returns the test server's base URL
func (ts *TestServer) BaseURL() string {
	return ts.Server.URL
}

// APIURL returns the full API URL for a given path
func (ts *TestServer) APIURL(path string) string {
	return fmt.Sprintf("%s/api/v1%s", ts.Server.URL, path)
}

// WebSocketURL returns the WebSocket URL with token
func (ts *TestServer) WebSocketURL(token string) string {
	wsURL := "ws" + ts.Server.URL[4:] // Replace "http" with "ws"
	return fmt.Sprintf("%s/api/v1/ws?token=%s", wsURL, token)
}

func repoOptions(cfg *config.Config) repository.Options {
	return repository.Options{
		ConnectionTTL:           cfg.ConnectionTTL,
		ActivityRetentionMonths: cfg.ActivityRetentionMonths,
	}
}
