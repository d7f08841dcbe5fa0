package repository

import (
	"context"

	"crewtext/backend/internal/models"

	"gorm.io/gorm"
)

// CredentialRepository reads tenant provider bindings. Read-only here;
// binding management belongs to the onboarding surface.
type CredentialRepository interface {
	// FindByCompany returns all bindings for the tenant, most recent first.
	FindByCompany(ctx context.Context, companyID string) ([]models.CredentialBinding, error)
}

type GormCredentialRepository struct {
	db *gorm.DB
}

func NewGormCredentialRepository(db *gorm.DB) *GormCredentialRepository {
	return &GormCredentialRepository{db: db}
}

func (r *GormCredentialRepository) FindByCompany(ctx context.Context, companyID string) ([]models.CredentialBinding, error) {
	var bindings []models.CredentialBinding
	err := r.db.WithContext(ctx).
		Where("company_id = ?", companyID).
		Order("created_at DESC").
		Find(&bindings).Error
	return bindings, err
}

var _ CredentialRepository = (*GormCredentialRepository)(nil)
