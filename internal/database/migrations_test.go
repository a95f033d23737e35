package database

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/indubia/notary/backend/internal/documents"
)

func TestOpenSQLiteInitializesSchema(t *testing.T) {
	databasePath := filepath.Join(t.TempDir(), "notary_test.db")

	db, err := OpenSQLite(databasePath, nil)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	for _, table := range []string{"documents", "users", "folders", "fingerprints", "db_migrations"} {
		if !db.Migrator().HasTable(table) {
			t.Fatalf("expected table %s to exist", table)
		}
	}

	var applied int64
	if err := db.Model(&migrationRecord{}).Count(&applied).Error; err != nil {
		t.Fatalf("failed to count migrations: %v", err)
	}
	if applied != 1 {
		t.Fatalf("expected 1 applied migration, got %d", applied)
	}
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	if _, err := OpenSQLite("", nil); err == nil {
		t.Fatalf("expected error for empty database path")
	}
}

func TestNormalizeContentHashCaseMigration(t *testing.T) {
	databasePath := filepath.Join(t.TempDir(), "notary_test.db")

	db, err := OpenSQLite(databasePath, nil)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	// Simulate a pre-canonicalization row and force the migration to rerun.
	mixedCase := "0x" + strings.Repeat("AB", 32)
	doc := documents.Document{
		ID:          "doc-legacy",
		ContentHash: mixedCase,
		OwnerID:     "owner",
		IngestedAt:  time.Unix(1700000600, 0).UTC(),
	}
	if err := db.Create(&doc).Error; err != nil {
		t.Fatalf("failed to seed document: %v", err)
	}
	if err := db.Where("name = ?", migrationNormalizeContentHashCase).Delete(&migrationRecord{}).Error; err != nil {
		t.Fatalf("failed to reset migration record: %v", err)
	}

	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("failed to reapply migrations: %v", err)
	}

	var stored documents.Document
	if err := db.Where("id = ?", "doc-legacy").Take(&stored).Error; err != nil {
		t.Fatalf("failed to load document: %v", err)
	}
	if stored.ContentHash != strings.ToLower(mixedCase) {
		t.Fatalf("expected lowercased content hash, got %q", stored.ContentHash)
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	databasePath := filepath.Join(t.TempDir(), "notary_test.db")

	db, err := OpenSQLite(databasePath, nil)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("reapplying migrations should be a no-op: %v", err)
	}

	var applied int64
	if err := db.Model(&migrationRecord{}).Count(&applied).Error; err != nil {
		t.Fatalf("failed to count migrations: %v", err)
	}
	if applied != 1 {
		t.Fatalf("expected 1 applied migration after rerun, got %d", applied)
	}
}
