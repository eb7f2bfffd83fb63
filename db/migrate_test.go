package db

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// setupTestDB opens TEST_PG_DSN, applies the schema and skips without it.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := Migrate(database); err != nil {
		database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestMigrateCreatesTables(t *testing.T) {
	database := setupTestDB(t)
	for _, table := range []string{"oauth_tokens", "kv", "discord_links", "match_events"} {
		var exists bool
		err := database.QueryRow(`SELECT EXISTS (
			SELECT FROM information_schema.tables WHERE table_name = $1
		)`, table).Scan(&exists)
		if err != nil {
			t.Fatalf("failed to check table %s: %v", table, err)
		}
		if !exists {
			t.Errorf("table %s does not exist after migration", table)
		}
	}
}

func TestMigrateIdempotent(t *testing.T) {
	database := setupTestDB(t)
	v1, dirty1, err := MigrationVersion(database)
	if err != nil {
		t.Fatal(err)
	}
	if err := Migrate(database); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	v2, dirty2, err := MigrationVersion(database)
	if err != nil {
		t.Fatal(err)
	}
	if v1 != v2 || dirty1 || dirty2 {
		t.Errorf("version %d/%v -> %d/%v", v1, dirty1, v2, dirty2)
	}
	if v1 < 1 {
		t.Errorf("version = %d, want >= 1", v1)
	}
}

func TestConnectRejectsEmptyDSN(t *testing.T) {
	if _, err := Connect(context.Background(), ""); err == nil {
		t.Error("expected error")
	}
}
