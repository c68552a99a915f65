package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/webinar-reminder/internal/repository"
	"gorm.io/gorm"
)

func createReminderDispatchesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_reminder_dispatches",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.ReminderDispatchModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_dispatches_stale_claims ON reminder_dispatches (claimed_at) WHERE status = 'CLAIMED'`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.ReminderDispatchModel{})
		},
	}
}
