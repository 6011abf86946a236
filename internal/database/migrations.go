package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/storyspark/backend/internal/stories"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillStoryKind = "2026-10-01_backfill_story_kind"

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
		{name: migrationBackfillStoryKind, apply: backfillStoryKind},
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

// Rows written before stories carried a kind column are classified by their label.
func backfillStoryKind(db *gorm.DB) error {
	var legacy []stories.Story
	if err := db.Select("story_id", "prompt").Where("kind = ''").Find(&legacy).Error; err != nil {
		return err
	}
	return db.Transaction(func(tx *gorm.DB) error {
		for _, story := range legacy {
			kind := stories.KindFromPrompt(story.Prompt)
			if err := tx.Model(&stories.Story{}).
				Where("story_id = ?", story.ID).
				Update("kind", kind).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
