package migrations_test

import (
	"context"
	"testing"

	"github.com/playperu/checkin/internal/database"
	"github.com/playperu/checkin/internal/migrations"
)

func TestMigrations(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	defer db.Close()

	if err := migrations.Run(ctx, db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	want := []string{"guests", "ticket_index", "pending_scans", "sync_meta"}

	for _, table := range want {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	defer db.Close()

	if err := migrations.Run(ctx, db); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := migrations.Run(ctx, db); err != nil {
		t.Fatalf("second run (should be no-op): %v", err)
	}

	v, err := migrations.Version(ctx, db)
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if v != 1 {
		t.Errorf("schema version = %d, want 1", v)
	}
}

func TestScannedAtIsInteger(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	defer db.Close()

	if err := migrations.Run(ctx, db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	var typ string
	err = db.QueryRow(
		"SELECT type FROM pragma_table_info('pending_scans') WHERE name = 'scanned_at'",
	).Scan(&typ)
	if err != nil {
		t.Fatalf("reading column type: %v", err)
	}
	if typ != "INTEGER" {
		t.Errorf("scanned_at type = %q, want INTEGER", typ)
	}
}
