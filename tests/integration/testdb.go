// Package integration runs feedsync against real PostgreSQL and Redis
// containers started with testcontainers.
package integration

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/erp/feedsync/internal/infrastructure/migration"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const pgPassword = "feedsync"

// one container per package; every test gets its own database inside it
var (
	pgMu        sync.Mutex
	pgContainer *tcpostgres.PostgresContainer
	pgHost      string
	pgPort      int
	dbSeq       atomic.Int64
)

// TestDB is a migrated database private to one test
type TestDB struct {
	DB    *gorm.DB
	SqlDB *sql.DB
	Name  string
}

func startPostgres(t *testing.T) {
	t.Helper()
	pgMu.Lock()
	defer pgMu.Unlock()
	if pgContainer != nil {
		return
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("postgres"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword(pgPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	pgContainer, pgHost, pgPort = container, host, port.Int()
}

func stopPostgres() {
	pgMu.Lock()
	defer pgMu.Unlock()
	if pgContainer == nil {
		return
	}
	if err := pgContainer.Terminate(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "terminate postgres container: %v\n", err)
	}
	pgContainer = nil
}

func dsnFor(dbName string) string {
	return fmt.Sprintf("host=%s port=%d user=postgres password=%s dbname=%s sslmode=disable",
		pgHost, pgPort, pgPassword, dbName)
}

// NewTestDB creates a fresh database with every migration applied.
// It is dropped when the test ends.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	startPostgres(t)

	name := fmt.Sprintf("feedsync_test_%d", dbSeq.Add(1))
	admin, adminSQL := connect(t, dsnFor("postgres"))
	require.NoError(t, admin.Exec("CREATE DATABASE "+name).Error)

	db, sqlDB := connect(t, dsnFor(name))
	m, err := migration.New(sqlDB, "", zap.NewNop())
	require.NoError(t, err, "Failed to create migrator")
	require.NoError(t, m.Up(), "Failed to run migrations")

	t.Cleanup(func() {
		_ = sqlDB.Close()
		if err := admin.Exec("DROP DATABASE IF EXISTS " + name + " WITH (FORCE)").Error; err != nil {
			t.Logf("Warning: drop database %s: %v", name, err)
		}
		_ = adminSQL.Close()
	})
	return &TestDB{DB: db, SqlDB: sqlDB, Name: name}
}

func connect(t *testing.T, dsn string) (*gorm.DB, *sql.DB) {
	t.Helper()

	level := logger.Silent
	if os.Getenv("TEST_DB_DEBUG") != "" {
		level = logger.Info
	}
	db, err := gorm.Open(gormpostgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(level)})
	require.NoError(t, err, "Failed to connect to database")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// the identifier claim tests need more connections than claimers
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	return db, sqlDB
}
