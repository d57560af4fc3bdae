// Package repository provides data access for the session journal.
package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/caststream/caststream/internal/models"
)

// SessionRepository persists session records.
type SessionRepository interface {
	Create(ctx context.Context, record *models.SessionRecord) error
	Update(ctx context.Context, record *models.SessionRecord) error
	GetByID(ctx context.Context, id models.ULID) (*models.SessionRecord, error)
	ListRecent(ctx context.Context, limit int) ([]models.SessionRecord, error)
}

type sessionRepo struct {
	db *gorm.DB
}

// NewSessionRepository creates a SessionRepository backed by GORM.
func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) Create(ctx context.Context, record *models.SessionRecord) error {
	if record.ID.IsZero() {
		record.ID = models.NewULID()
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("creating session record: %w", err)
	}
	return nil
}

func (r *sessionRepo) Update(ctx context.Context, record *models.SessionRecord) error {
	if err := r.db.WithContext(ctx).Save(record).Error; err != nil {
		return fmt.Errorf("updating session record: %w", err)
	}
	return nil
}

func (r *sessionRepo) GetByID(ctx context.Context, id models.ULID) (*models.SessionRecord, error) {
	var record models.SessionRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting session record: %w", err)
	}
	return &record, nil
}

func (r *sessionRepo) ListRecent(ctx context.Context, limit int) ([]models.SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []models.SessionRecord
	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("listing session records: %w", err)
	}
	return records, nil
}
