//go:build integration

// Package dbtest starts a disposable PostgreSQL for repository tests.
package dbtest

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/partnerportal/portal/internal/platform/db"
	"github.com/partnerportal/portal/migrations"
)

// Postgres starts a container, applies the migrations and returns a pool that
// is closed when the test ends.
func Postgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("portal_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	pool, err := db.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = migrations.Up(ctx, pool, nil)
	require.NoError(t, err, "apply migrations")
	return pool
}

// InsertPartner creates a partner row and returns its id.
func InsertPartner(t *testing.T, pool *pgxpool.Pool, name, partnerType string) string {
	t.Helper()
	var id string
	err := pool.QueryRow(context.Background(),
		`INSERT INTO partners (name, slug, type) VALUES ($1, $2, $3) RETURNING id::text`,
		name, name+"-"+time.Now().Format("150405.000000"), partnerType).Scan(&id)
	require.NoError(t, err)
	return id
}
