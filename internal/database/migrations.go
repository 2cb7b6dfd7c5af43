package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/compass/internal/inference"
	"github.com/MarcoPoloResearchLab/compass/internal/predictions"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillPredictionStrategy = "2026-10-01_backfill_prediction_strategy"

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
		{name: migrationBackfillPredictionStrategy, apply: backfillPredictionStrategy},
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
		if err := db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		}); err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillPredictionStrategy derives the strategy of snapshots written before the
// column existed from their model version prefix.
func backfillPredictionStrategy(db *gorm.DB) error {
	missing := "strategy = '' OR strategy IS NULL"
	if err := db.Model(&predictions.Snapshot{}).
		Where(missing).
		Where("model_version LIKE ?", "fallback/%").
		Update("strategy", string(inference.StrategyFallback)).Error; err != nil {
		return err
	}
	return db.Model(&predictions.Snapshot{}).
		Where(missing).
		Update("strategy", string(inference.StrategyPrimary)).Error
}
