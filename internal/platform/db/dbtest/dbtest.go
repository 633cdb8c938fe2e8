// Package dbtest connects repository tests to a real Postgres. Tests using it
// are skipped unless RAPIDCARE_TEST_DATABASE_URL is set.
package dbtest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rapidcare/rapidcare/internal/platform/db"
	"github.com/rapidcare/rapidcare/migrations"
)

// EnvVar names the connection string used by database-backed tests.
const EnvVar = "RAPIDCARE_TEST_DATABASE_URL"

// migrateLock serializes schema setup across test binaries sharing a database.
const migrateLock = 727_001

// Pool returns a migrated pool closed at the end of the test, or skips t.
func Pool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv(EnvVar)
	if dsn == "" {
		t.Skipf("%s not set", EnvVar)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, dsn, 10, 1)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	conn, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer conn.Release()
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, migrateLock); err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, migrateLock)

	if _, err := db.NewMigrator(pool, migrations.FS).Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return pool
}

// Hospital inserts a minimal hospital row and returns its id.
func Hospital(t *testing.T, pool *pgxpool.Pool) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := pool.Exec(context.Background(), `
		INSERT INTO hospital (id, name, latitude, longitude, type, specialties, available_beds, icu_beds)
		VALUES ($1, $2, 12.97, 77.59, 'Government', '{General}', 10, 2)`,
		id, "Test General "+id.String()[:8])
	if err != nil {
		t.Fatalf("insert hospital: %v", err)
	}
	return id
}
