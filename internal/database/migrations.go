package database

import (
	"errors"
	"time"

	"github.com/indubia/notary/backend/internal/documents"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationNormalizeContentHashCase = "2026-07-14_normalize_content_hash_case"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeContentHashCase, apply: normalizeContentHashCase},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Verification compares resubmitted hashes for string equality, so rows
// ingested before hashes were canonicalized must be lowered once.
func normalizeContentHashCase(db *gorm.DB) error {
	return db.Model(&documents.Document{}).
		Where("content_hash <> lower(content_hash)").
		Update("content_hash", gorm.Expr("lower(content_hash)")).Error
}
