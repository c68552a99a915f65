package migrations

import (
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("gorm.Open() error = %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB() error = %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}

func TestMigrateCreatesTables(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	for _, table := range []string{"webinars", "webinar_registrations", "reminder_dispatches", "reminder_deliveries"} {
		if !db.Migrator().HasTable(table) {
			t.Fatalf("HasTable(%q) = false, want true", table)
		}
	}

	indexes := []struct {
		table string
		name  string
	}{
		{table: "webinars", name: "idx_webinars_active_starts_at"},
		{table: "reminder_dispatches", name: "idx_dispatches_stale_claims"},
		{table: "reminder_deliveries", name: "idx_deliveries_dispatch_status"},
	}
	for _, idx := range indexes {
		if !db.Migrator().HasIndex(idx.table, idx.name) {
			t.Fatalf("HasIndex(%q, %q) = false, want true", idx.table, idx.name)
		}
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	for i := 0; i < 2; i++ {
		if err := Migrate(db); err != nil {
			t.Fatalf("Migrate() run %d error = %v", i+1, err)
		}
	}

	var applied int64
	if err := db.Table("migrations").Count(&applied).Error; err != nil {
		t.Fatalf("count migrations error = %v", err)
	}
	if applied != 4 {
		t.Fatalf("applied migrations = %d, want 4", applied)
	}
}

func TestRollbackLastDropsDeliveries(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	if err := newMigrator(db).RollbackLast(); err != nil {
		t.Fatalf("RollbackLast() error = %v", err)
	}

	if db.Migrator().HasTable("reminder_deliveries") {
		t.Fatal("HasTable(reminder_deliveries) = true after rollback, want false")
	}
	if !db.Migrator().HasTable("reminder_dispatches") {
		t.Fatal("HasTable(reminder_dispatches) = false after rollback, want true")
	}
}
