package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"volume_miner/internal/domain"
)

// DefaultPath is used when no incidents_db path is configured.
const DefaultPath = "data/incidents.db"

// Storage is the incident journal. It implements domain.Alerter so the engine
// can record sell-leg exhaustion next to the chat notifications.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the SQLite database at path.
func NewStorage(path string) (*Storage, error) {
	if path == "" {
		path = DefaultPath
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&domain.Incident{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// Alert records incident.
func (s *Storage) Alert(ctx context.Context, incident domain.Incident) error {
	if incident.CreatedAt.IsZero() {
		incident.CreatedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(&incident).Error; err != nil {
		return fmt.Errorf("save incident %s: %w", incident.ID, err)
	}
	return nil
}

// ListUnresolved returns open incidents, oldest first.
func (s *Storage) ListUnresolved(ctx context.Context) ([]domain.Incident, error) {
	var incidents []domain.Incident
	err := s.db.WithContext(ctx).
		Where("resolved = ?", false).
		Order("created_at asc").
		Find(&incidents).Error
	return incidents, err
}

// Resolve marks an incident as handled by the operator.
func (s *Storage) Resolve(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&domain.Incident{}).Where("id = ?", id).Update("resolved", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("incident %s: %w", id, gorm.ErrRecordNotFound)
	}
	return nil
}

// Close releases the underlying connection.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ domain.Alerter = (*Storage)(nil)
