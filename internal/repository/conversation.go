package repository

import (
	"context"
	"errors"

	"crewtext/backend/internal/models"

	"gorm.io/gorm"
)

// ConversationRepository provides access to conversation threads.
// Lookups that may legitimately miss return (nil, nil).
type ConversationRepository interface {
	FindByID(ctx context.Context, id uint) (*models.Conversation, error)
	FindByIdentity(ctx context.Context, associateID uint, companyID string, channel models.Channel) (*models.Conversation, error)
	// FindLegacy returns conversations for the pair that never had a
	// channel assigned (pre-channel-tracking rows).
	FindLegacy(ctx context.Context, associateID uint, companyID string) ([]models.Conversation, error)
	Create(ctx context.Context, conversation *models.Conversation) error
	// AssignChannel promotes a legacy conversation to a concrete channel.
	// The channel is immutable after this.
	AssignChannel(ctx context.Context, id uint, channel models.Channel) error
}

type GormConversationRepository struct {
	db *gorm.DB
}

func NewGormConversationRepository(db *gorm.DB) *GormConversationRepository {
	return &GormConversationRepository{db: db}
}

func (r *GormConversationRepository) FindByID(ctx context.Context, id uint) (*models.Conversation, error) {
	var conversation models.Conversation
	err := r.db.WithContext(ctx).First(&conversation, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conversation, nil
}

func (r *GormConversationRepository) FindByIdentity(ctx context.Context, associateID uint, companyID string, channel models.Channel) (*models.Conversation, error) {
	var conversation models.Conversation
	err := r.db.WithContext(ctx).
		Where("associate_id = ? AND company_id = ? AND channel = ?", associateID, companyID, channel).
		First(&conversation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conversation, nil
}

func (r *GormConversationRepository) FindLegacy(ctx context.Context, associateID uint, companyID string) ([]models.Conversation, error) {
	var conversations []models.Conversation
	err := r.db.WithContext(ctx).
		Where("associate_id = ? AND company_id = ? AND channel = ?", associateID, companyID, models.ChannelUnset).
		Order("created_at ASC").
		Find(&conversations).Error
	return conversations, err
}

func (r *GormConversationRepository) Create(ctx context.Context, conversation *models.Conversation) error {
	return r.db.WithContext(ctx).Create(conversation).Error
}

func (r *GormConversationRepository) AssignChannel(ctx context.Context, id uint, channel models.Channel) error {
	return r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("id = ? AND channel = ?", id, models.ChannelUnset).
		Update("channel", channel).Error
}
