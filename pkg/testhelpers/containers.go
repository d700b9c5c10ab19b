package testhelpers

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ekaya-inc/portfolio-chat/pkg/catalog"
)

// WarehouseImage is the PostgreSQL image the integration warehouse runs on.
const WarehouseImage = "postgres:16-alpine"

// Container credentials for the integration warehouse.
const (
	WarehouseUser     = "portfolio"
	WarehousePassword = "test_password"
	WarehouseDatabase = "portfolio"
)

// TestWarehouse holds a shared PostgreSQL container seeded with the portfolio star schema.
type TestWarehouse struct {
	Container testcontainers.Container
	Pool      *pgxpool.Pool
	ConnStr   string
	Host      string
	Port      int
}

var (
	sharedWarehouse     *TestWarehouse
	sharedWarehouseOnce sync.Once
	sharedWarehouseErr  error
)

// GetTestWarehouse returns a shared PostgreSQL container for integration tests.
// The container is created and seeded once and reused across all tests in the run.
func GetTestWarehouse(t *testing.T) *TestWarehouse {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedWarehouseOnce.Do(func() {
		sharedWarehouse, sharedWarehouseErr = setupTestWarehouse()
	})

	if sharedWarehouseErr != nil {
		t.Fatalf("Failed to setup test warehouse: %v", sharedWarehouseErr)
	}

	return sharedWarehouse
}

func setupTestWarehouse() (*TestWarehouse, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        WarehouseImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       WarehouseDatabase,
			"POSTGRES_USER":     WarehouseUser,
			"POSTGRES_PASSWORD": WarehousePassword,
		},
		// The server restarts once after initdb; wait for the second ready line.
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		WarehouseUser, WarehousePassword, host, port.Port(), WarehouseDatabase)

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection with retry
	for i := 0; i < 10; i++ {
		if err := pool.Ping(ctx); err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}

	if err := seed(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &TestWarehouse{
		Container: container,
		Pool:      pool,
		ConnStr:   connStr,
		Host:      host,
		Port:      port.Int(),
	}, nil
}

func seed(ctx context.Context, pool *pgxpool.Pool) error {
	cat, err := catalog.LoadDefault()
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	rows, err := StarSchemaSeed(cat)
	if err != nil {
		return err
	}
	for _, stmt := range append(append([]string(nil), StarSchemaDDL...), rows...) {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to seed warehouse: %w", err)
		}
	}
	return nil
}
