package database

import (
	"errors"
	"strings"
	"time"

	"github.com/cryptofolio/backend/internal/portfolio"
	"github.com/cryptofolio/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationBackfillCloudSyncFlags = "2026-07-14_backfill_cloud_sync_flags"
	migrationNormalizeTierCasing    = "2026-08-02_normalize_tier_casing"
)

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
		{name: migrationBackfillCloudSyncFlags, apply: backfillCloudSyncFlags},
		{name: migrationNormalizeTierCasing, apply: normalizeTierCasing},
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

// Rows written before the sync bookkeeping landed carry a last sync
// timestamp without the synced flag; reconcile them.
func backfillCloudSyncFlags(db *gorm.DB) error {
	return db.Model(&portfolio.Portfolio{}).
		Where("last_sync_at IS NOT NULL AND is_cloud_synced = ?", false).
		Update("is_cloud_synced", true).Error
}

// Early imports stored mixed-case tier names; entitlement lookups are
// case sensitive.
func normalizeTierCasing(db *gorm.DB) error {
	for _, tier := range users.AllTiers() {
		err := db.Model(&users.User{}).
			Where("lower(subscription_tier) = ? AND subscription_tier <> ?", strings.ToLower(string(tier)), string(tier)).
			Update("subscription_tier", string(tier)).Error
		if err != nil {
			return err
		}
	}
	return nil
}
