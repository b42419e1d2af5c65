// Package testutil provides helpers for tests that need a real PostgreSQL.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PG returns a migrated, empty database for one test.
//
// It connects to POSTGRES_URL when set (CI), otherwise starts a throwaway
// container. Tests are skipped when neither is available, so the in-memory
// suites still run everywhere.
func PG(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	dsn := os.Getenv("POSTGRES_URL")
	if dsn == "" {
		ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
			tcpostgres.WithDatabase("sentinel_test"),
			tcpostgres.WithUsername("sentinel"),
			tcpostgres.WithPassword("sentinel"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
		)
		if err != nil {
			t.Skipf("postgres unavailable (set POSTGRES_URL or run Docker): %v", err)
		}
		t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

		dsn, err = ctr.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			t.Fatalf("container connection string: %v", err)
		}
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("ping database: %v", err)
	}

	if err := goose.Up(db, migrationsDir()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	// Shared databases (POSTGRES_URL) carry state between tests
	if _, err := db.ExecContext(ctx,
		`TRUNCATE cases, transactions RESTART IDENTITY CASCADE`); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM rules`); err != nil {
		t.Fatalf("reset rules: %v", err)
	}

	return db
}

func migrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}
