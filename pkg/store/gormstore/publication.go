package gormstore

import (
	"context"

	"gorm.io/gorm"

	"github.com/gameupdater/gameupdater/pkg/model"
)

// PublicationRepository persists bus messages that could not be delivered.
type PublicationRepository struct {
	db *gorm.DB
}

func NewPublicationRepository(db *gorm.DB) *PublicationRepository {
	return &PublicationRepository{db: db}
}

func (r *PublicationRepository) Append(ctx context.Context, publication *model.PendingPublication) error {
	return r.db.WithContext(ctx).Create(publication).Error
}

func (r *PublicationRepository) ListOldest(ctx context.Context, limit int) ([]model.PendingPublication, error) {
	if limit <= 0 {
		limit = 100
	}
	var publications []model.PendingPublication
	err := r.db.WithContext(ctx).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&publications).Error
	return publications, err
}

func (r *PublicationRepository) Delete(ctx context.Context, id uint64) error {
	return r.db.WithContext(ctx).Delete(&model.PendingPublication{}, id).Error
}

func (r *PublicationRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.PendingPublication{}).Count(&count).Error
	return count, err
}
