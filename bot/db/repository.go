package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/kanaridev/KanariBot-Go/bot"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Repository provides access to the guard event database.
type Repository struct {
	db *gorm.DB
}

// NewSQLiteRepository creates a repository backed by SQLite.
func NewSQLiteRepository(dsn string, gormLogger logger.Interface) (*Repository, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn required")
	}

	if gormLogger == nil {
		gormLogger = logger.Default.LogMode(logger.Silent)
	}

	dbDir := filepath.Dir(dsn)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		Logger:                 gormLogger,
	})
	if err != nil {
		return nil, err
	}

	if err := applySQLitePragmas(db); err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&GuardEventModel{}, &CounterModel{}); err != nil {
		return nil, err
	}
	if err := migrateEvidencePath(db); err != nil {
		return nil, err
	}

	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &Repository{db: db}, nil
}

// ConfigurePool updates the database connection pool settings.
func (r *Repository) ConfigurePool(maxOpen, maxIdle int, maxLifetime time.Duration) error {
	if r == nil || r.db == nil {
		return errors.New("repository not configured")
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	if maxOpen >= 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	if maxIdle >= 0 {
		sqlDB.SetMaxIdleConns(maxIdle)
	}
	if maxLifetime >= 0 {
		sqlDB.SetConnMaxLifetime(maxLifetime)
	}
	return nil
}

// migrateEvidencePath adds the evidence_path column to databases created
// before thumbnail capture existed.
func migrateEvidencePath(db *gorm.DB) error {
	var columnExists bool
	if err := db.Raw("SELECT COUNT(*) > 0 FROM pragma_table_info('guard_events') WHERE name='evidence_path'").Scan(&columnExists).Error; err != nil {
		return fmt.Errorf("check evidence_path column: %w", err)
	}

	if columnExists {
		return nil
	}

	if err := db.Exec("ALTER TABLE guard_events ADD COLUMN evidence_path TEXT NOT NULL DEFAULT ''").Error; err != nil {
		return fmt.Errorf("add evidence_path column: %w", err)
	}

	return nil
}

// RecordGuardEvent inserts one guard event row.
func (r *Repository) RecordGuardEvent(ctx context.Context, event *bot.GuardEvent) error {
	if r == nil || r.db == nil {
		return errors.New("repository not configured")
	}
	if event == nil || event.Cog == "" {
		return errors.New("guard event requires a cog name")
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model := toModel(event)
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		event.ID = model.ID
		event.CreatedAt = model.CreatedAt
		return nil
	})
}

// CountGuardEvents returns the total recorded events.
func (r *Repository) CountGuardEvents(ctx context.Context) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("repository not configured")
	}
	var count int64
	err := r.db.WithContext(ctx).Model(&GuardEventModel{}).Count(&count).Error
	return count, err
}

// CountGuardEventsByCog returns recorded event counts grouped by cog.
func (r *Repository) CountGuardEventsByCog(ctx context.Context) (map[string]int64, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("repository not configured")
	}
	rows := make([]struct {
		Cog   string
		Count int64
	}, 0)
	err := r.db.WithContext(ctx).Model(&GuardEventModel{}).
		Select("cog, COUNT(*) as count").
		Group("cog").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	result := make(map[string]int64, len(rows))
	for _, row := range rows {
		result[row.Cog] = row.Count
	}
	return result, nil
}

// RecentGuardEvents returns the newest events first, capped at limit.
func (r *Repository) RecentGuardEvents(ctx context.Context, limit int) ([]*bot.GuardEvent, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("repository not configured")
	}
	if limit <= 0 {
		limit = 5
	}
	if limit > 50 {
		limit = 50
	}

	var models []GuardEventModel
	err := r.db.WithContext(ctx).Model(&GuardEventModel{}).
		Order("id DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, nil
	}
	events := make([]*bot.GuardEvent, 0, len(models))
	for _, model := range models {
		events = append(events, toInternal(model))
	}
	return events, nil
}

// GetCounter returns the value stored under key, zero when absent.
func (r *Repository) GetCounter(ctx context.Context, key string) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("repository not configured")
	}
	var counter CounterModel
	err := r.db.WithContext(ctx).Where("key = ?", key).First(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return counter.Value, nil
}

// IncrementCounter bumps the value stored under key, creating it at 1.
func (r *Repository) IncrementCounter(ctx context.Context, key string) error {
	if r == nil || r.db == nil {
		return errors.New("repository not configured")
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"value":      gorm.Expr("value + 1"),
			"updated_at": time.Now(),
		}),
	}).Create(&CounterModel{Key: key, Value: 1}).Error
}

func applySQLitePragmas(db *gorm.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=-64000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, stmt := range pragmas {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
