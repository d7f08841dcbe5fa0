package channel

import (
	"context"
	"fmt"
	"time"

	"crewtext/backend/internal/models"
	"crewtext/backend/internal/phone"
	"crewtext/backend/internal/repository"
	"crewtext/backend/pkg/errors"
	"crewtext/backend/pkg/logger"
)

// Arbitrator decides which channel an outbound message may use. The
// provider permits free-text WhatsApp replies only within a session window
// after the associate's last inbound message; SMS carries no such
// restriction.
type Arbitrator struct {
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	associates    repository.AssociateRepository
	lookback      time.Duration
	logger        *logger.Logger
	now           func() time.Time
}

func NewArbitrator(
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
	associates repository.AssociateRepository,
	lookbackHours int,
	log *logger.Logger,
) *Arbitrator {
	if lookbackHours <= 0 {
		lookbackHours = 24
	}
	return &Arbitrator{
		conversations: conversations,
		messages:      messages,
		associates:    associates,
		lookback:      time.Duration(lookbackHours) * time.Hour,
		logger:        log,
		now:           time.Now,
	}
}

// RecentInboundChannel returns the conversation's channel if any inbound
// message arrived within the lookback window, or ChannelUnset otherwise.
// This is the single source of truth for session-window state.
func (a *Arbitrator) RecentInboundChannel(ctx context.Context, conversation *models.Conversation) (models.Channel, error) {
	if conversation == nil {
		return models.ChannelUnset, nil
	}

	since := a.now().Add(-a.lookback)
	recent, err := a.messages.HasInboundSince(ctx, conversation.ID, since)
	if err != nil {
		return models.ChannelUnset, errors.NewInfrastructureError(fmt.Sprintf("inbound lookback failed: %v", err))
	}
	if !recent {
		return models.ChannelUnset, nil
	}
	return conversation.Channel, nil
}

// ResolveSendChannel applies the channel policy. Auto-upgrade to WhatsApp
// only affects the outgoing channel selection; the stored conversation
// channel is never touched here.
func ResolveSendChannel(requested, recent models.Channel, templated bool) (models.Channel, error) {
	// SMS carries no session-window restriction.
	if requested != models.ChannelWhatsApp {
		return models.ChannelSMS, nil
	}

	// Provider-approved template content bypasses the window.
	if templated {
		return models.ChannelWhatsApp, nil
	}

	if recent == models.ChannelWhatsApp {
		return models.ChannelWhatsApp, nil
	}

	return models.ChannelUnset, errors.NewSessionWindowError(
		"Cannot send WhatsApp message: no inbound message in the last 24 hours")
}

// ResolveForSend resolves the recipient's WhatsApp conversation (if any)
// and applies the policy for an outbound send to the given phone.
func (a *Arbitrator) ResolveForSend(ctx context.Context, companyID, toPhone string, requested models.Channel, templated bool) (models.Channel, error) {
	if requested != models.ChannelWhatsApp {
		return models.ChannelSMS, nil
	}

	recent := models.ChannelUnset
	conversation, err := a.findWhatsAppConversation(ctx, companyID, toPhone)
	if err != nil {
		return models.ChannelUnset, err
	}
	if conversation != nil {
		recent, err = a.RecentInboundChannel(ctx, conversation)
		if err != nil {
			return models.ChannelUnset, err
		}
	}

	return ResolveSendChannel(requested, recent, templated)
}

func (a *Arbitrator) findWhatsAppConversation(ctx context.Context, companyID, toPhone string) (*models.Conversation, error) {
	bare, _ := phone.StripChannelPrefix(toPhone)

	var candidates []models.Associate
	if normalized, err := phone.Normalize(bare); err == nil {
		candidates, err = a.associates.FindByNormalizedPhone(ctx, normalized)
		if err != nil {
			return nil, errors.NewInfrastructureError(fmt.Sprintf("associate lookup failed: %v", err))
		}
	}
	if len(candidates) == 0 {
		var err error
		candidates, err = a.associates.FindByRawPhone(ctx, bare)
		if err != nil {
			return nil, errors.NewInfrastructureError(fmt.Sprintf("associate lookup failed: %v", err))
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	associate := candidates[0]
	return a.conversations.FindByIdentity(ctx, associate.ID, companyID, models.ChannelWhatsApp)
}
