package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/Badsnus/game-scheduler-bot/internal/adapters/database/postgres"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"
)

// SetupTestDatabase starts a PostgreSQL container and migrates the schema
func SetupTestDatabase(t *testing.T, ctx context.Context) (testcontainers.Container, postgres.Options, *gorm.DB) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database integration test in short mode")
	}

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("scheduler_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	opts := postgres.Options{DSN: connStr}
	db, err := postgres.Open(ctx, opts)
	require.NoError(t, err)

	require.NoError(t, postgres.Migrate(ctx, db))

	return pgContainer, opts, db
}

func CleanupTestDatabase(t *testing.T, ctx context.Context, container testcontainers.Container, db *gorm.DB) {
	t.Helper()
	if db != nil {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if container != nil {
		require.NoError(t, container.Terminate(ctx))
	}
}

func TruncateTables(t *testing.T, ctx context.Context, db *gorm.DB) {
	t.Helper()
	err := db.WithContext(ctx).Exec("TRUNCATE TABLE notification_schedule, game_status_schedule, game_participants, game_sessions CASCADE").Error
	require.NoError(t, err)
}
