// Package history persists per-attempt pipeline outcomes. The ledger and
// summary files are the canonical report surfaces; the history database is
// the queryable audit trail behind them.
package history

import (
	"fmt"
	"time"

	"github.com/refit-bench/refit/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Attempt records one pipeline stage outcome for one run unit.
type Attempt struct {
	ID         uint   `gorm:"primaryKey"`
	Solution   string `gorm:"size:64;index:idx_attempt_key"`
	Model      string `gorm:"size:64"`
	Layer      string `gorm:"size:64;index:idx_attempt_key"`
	App        string `gorm:"size:128;index:idx_attempt_key"`
	Conversion string `gorm:"size:64;index:idx_attempt_key"`
	Stage      string `gorm:"size:32"` // converted, compiled, ran
	RunNum     int
	Outcome    string `gorm:"size:32"`
	Detail     string `gorm:"type:text"`
	CreatedAt  time.Time
}

// Open connects to the history database. A MySQL host in the config selects
// the server backend; otherwise attempts land in a local SQLite file.
func Open(rc config.ResultsConfig) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	var db *gorm.DB
	var err error
	if rc.Host != "" {
		dsn := fmt.Sprintf("root@tcp(%s:%d)/%s?parseTime=true", rc.Host, rc.Port, rc.Database)
		db, err = gorm.Open(mysql.Open(dsn), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("history: connect to %s:%d/%s: %w", rc.Host, rc.Port, rc.Database, err)
		}
	} else {
		db, err = gorm.Open(sqlite.Open(rc.Path), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("history: open %s: %w", rc.Path, err)
		}
	}
	return db, nil
}

// AutoMigrate creates or updates the history tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Attempt{}); err != nil {
		return fmt.Errorf("history: auto-migrate: %w", err)
	}
	return nil
}

// Reset drops and recreates the history tables.
func Reset(db *gorm.DB) error {
	if err := db.Migrator().DropTable(&Attempt{}); err != nil {
		return fmt.Errorf("history: drop tables: %w", err)
	}
	return AutoMigrate(db)
}

// Record inserts one attempt row.
func Record(db *gorm.DB, a Attempt) error {
	if err := db.Create(&a).Error; err != nil {
		return fmt.Errorf("history: record attempt: %w", err)
	}
	return nil
}

// Recent returns the newest attempts, most recent first.
func Recent(db *gorm.DB, limit int) ([]Attempt, error) {
	var attempts []Attempt
	err := db.Order("created_at DESC, id DESC").Limit(limit).Find(&attempts).Error
	if err != nil {
		return nil, fmt.Errorf("history: list attempts: %w", err)
	}
	return attempts, nil
}
