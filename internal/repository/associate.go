package repository

import (
	"context"

	"crewtext/backend/internal/models"

	"gorm.io/gorm"
)

// AssociateRepository is the lookup surface used by inbound ingestion.
type AssociateRepository interface {
	// FindByNormalizedPhone matches on the canonical dialable form.
	FindByNormalizedPhone(ctx context.Context, phone string) ([]models.Associate, error)
	// FindByRawPhone matches on the phone exactly as stored.
	FindByRawPhone(ctx context.Context, phone string) ([]models.Associate, error)
	FindByID(ctx context.Context, id uint) (*models.Associate, error)
}

type GormAssociateRepository struct {
	db *gorm.DB
}

func NewGormAssociateRepository(db *gorm.DB) *GormAssociateRepository {
	return &GormAssociateRepository{db: db}
}

func (r *GormAssociateRepository) FindByNormalizedPhone(ctx context.Context, phone string) ([]models.Associate, error) {
	var associates []models.Associate
	err := r.db.WithContext(ctx).
		Where("phone_normalized = ?", phone).
		Order("id ASC").
		Find(&associates).Error
	return associates, err
}

func (r *GormAssociateRepository) FindByRawPhone(ctx context.Context, phone string) ([]models.Associate, error) {
	var associates []models.Associate
	err := r.db.WithContext(ctx).
		Where("phone = ?", phone).
		Order("id ASC").
		Find(&associates).Error
	return associates, err
}

func (r *GormAssociateRepository) FindByID(ctx context.Context, id uint) (*models.Associate, error) {
	var associate models.Associate
	err := r.db.WithContext(ctx).First(&associate, id).Error
	if err != nil {
		return nil, err
	}
	return &associate, nil
}

var _ AssociateRepository = (*GormAssociateRepository)(nil)
