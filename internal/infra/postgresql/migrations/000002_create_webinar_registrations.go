package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/webinar-reminder/internal/repository"
	"gorm.io/gorm"
)

func createRegistrationsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_webinar_registrations",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.RegistrationModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_registrations_confirmed ON webinar_registrations (webinar_id, created_at) WHERE is_confirmed`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.RegistrationModel{})
		},
	}
}
