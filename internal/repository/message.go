package repository

import (
	"context"
	"errors"
	"time"

	"crewtext/backend/internal/models"

	"gorm.io/gorm"
)

// MessageRepository provides access to messages. FindByProviderSID returns
// (nil, nil) when no row exists yet; delivery callbacks can arrive before
// the send path has persisted the message.
type MessageRepository interface {
	Create(ctx context.Context, message *models.Message) error
	FindByProviderSID(ctx context.Context, sid string) (*models.Message, error)
	UpdateStatus(ctx context.Context, id uint, status models.MessageStatus, deliveredAt *time.Time) error
	// HasInboundSince reports whether any inbound message exists on the
	// conversation after the given instant. Source of truth for the
	// WhatsApp session window.
	HasInboundSince(ctx context.Context, conversationID uint, since time.Time) (bool, error)
}

type GormMessageRepository struct {
	db *gorm.DB
}

func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	return &GormMessageRepository{db: db}
}

func (r *GormMessageRepository) Create(ctx context.Context, message *models.Message) error {
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *GormMessageRepository) FindByProviderSID(ctx context.Context, sid string) (*models.Message, error) {
	var message models.Message
	err := r.db.WithContext(ctx).Where("provider_sid = ?", sid).First(&message).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &message, nil
}

func (r *GormMessageRepository) UpdateStatus(ctx context.Context, id uint, status models.MessageStatus, deliveredAt *time.Time) error {
	updates := map[string]interface{}{"status": status}
	if deliveredAt != nil {
		updates["delivered_at"] = deliveredAt
	}
	return r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *GormMessageRepository) HasInboundSince(ctx context.Context, conversationID uint, since time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("conversation_id = ? AND direction = ? AND created_at >= ?", conversationID, models.DirectionInbound, since).
		Count(&count).Error
	return count > 0, err
}
