package repository

import (
	"context"

	"crewtext/backend/internal/models"

	"gorm.io/gorm"
)

// MessageEventRepository persists the append-only delivery-status log.
// Create surfaces gorm.ErrDuplicatedKey when the (sid, status) pair was
// already recorded; callers treat that as an idempotent no-op.
type MessageEventRepository interface {
	Create(ctx context.Context, event *models.MessageEvent) error
	HasFallbackForSID(ctx context.Context, sid string) (bool, error)
	SetFallbackMessage(ctx context.Context, eventID uint, messageID uint) error
}

type GormMessageEventRepository struct {
	db *gorm.DB
}

func NewGormMessageEventRepository(db *gorm.DB) *GormMessageEventRepository {
	return &GormMessageEventRepository{db: db}
}

func (r *GormMessageEventRepository) Create(ctx context.Context, event *models.MessageEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *GormMessageEventRepository) HasFallbackForSID(ctx context.Context, sid string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.MessageEvent{}).
		Where("message_sid = ? AND fallback_sms_message_id IS NOT NULL", sid).
		Count(&count).Error
	return count > 0, err
}

func (r *GormMessageEventRepository) SetFallbackMessage(ctx context.Context, eventID uint, messageID uint) error {
	return r.db.WithContext(ctx).
		Model(&models.MessageEvent{}).
		Where("id = ?", eventID).
		Update("fallback_sms_message_id", messageID).Error
}

// compile-time interface checks
var (
	_ MessageEventRepository = (*GormMessageEventRepository)(nil)
	_ MessageRepository      = (*GormMessageRepository)(nil)
	_ ConversationRepository = (*GormConversationRepository)(nil)
)
