package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/webinar-reminder/internal/repository"
	"gorm.io/gorm"
)

func createWebinarsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_webinars",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.WebinarModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_webinars_active_starts_at ON webinars (starts_at) WHERE is_active`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.WebinarModel{})
		},
	}
}
