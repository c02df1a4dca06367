package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationReconcileChannelTotals = "2026-08-12_reconcile_channel_totals"

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
		{name: migrationReconcileChannelTotals, apply: reconcileChannelTotals},
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

// reconcileChannelTotals rebuilds channel totals from the per-user counts. A
// crash between the two upserts of an accumulate can leave the total behind
// its user-count sum; this repairs any databases written before the totals
// moved into the same transaction.
func reconcileChannelTotals(db *gorm.DB) error {
	return db.Exec(`
		UPDATE channel_totals
		SET count = (
			SELECT COALESCE(SUM(hc.count), 0)
			FROM hotdog_counts hc
			WHERE hc.channel_id = channel_totals.channel_id
		)
	`).Error
}
