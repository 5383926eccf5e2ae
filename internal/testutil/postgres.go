// README: Postgres helpers for DB-backed tests; skip unless DISPATCH_TEST_DSN is set.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"tourdispatch/internal/infra"
)

// NewPool connects to DISPATCH_TEST_DSN, applies the schema and empties every table.
func NewPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("DISPATCH_TEST_DSN")
	if dsn == "" {
		t.Skip("DISPATCH_TEST_DSN not set; skipping DB-backed tests")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	root, err := RepoRoot()
	if err != nil {
		t.Fatalf("repo root: %v", err)
	}
	if err := infra.ApplySQLFile(ctx, db, filepath.Join(root, "migrations", "0001_init.sql")); err != nil {
		t.Fatalf("apply migration: %v", err)
	}

	if _, err := db.Exec(ctx, "TRUNCATE TABLE tour_events, tour_stops, demands, tours, drivers"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return db
}

func RepoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for i := 0; i < 6; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", os.ErrNotExist
}
