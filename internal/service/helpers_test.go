package service

import (
	"io"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/warit/csvmatch/internal/logger"
)

func intPtr(v int) *int {
	return &v
}

// testLogger returns a logger that discards output.
func testLogger() *logger.Logger {
	return logger.New(&logger.Config{
		Level:  "error",
		Format: "text",
		Output: io.Discard,
	})
}

// testGormDB opens an in-memory database and migrates the given models.
func testGormDB(t *testing.T, models ...interface{}) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// Every pooled connection to :memory: would get its own database
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(models...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}
