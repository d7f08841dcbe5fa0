package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"crewtext/backend/internal/models"
	"crewtext/backend/internal/phone"
	"crewtext/backend/internal/repository"
	"crewtext/backend/pkg/logger"
	"crewtext/backend/pkg/metrics"
)

// ConfirmationParser is the external collaborator that interprets inbound
// replies (YES/NO and friends) against reminder assignments. It runs before
// the raw message is persisted so confirmation side effects see the
// freshest assignment state, but its failure never blocks persistence.
type ConfirmationParser interface {
	ParseInbound(ctx context.Context, associateID uint, companyID, body string) error
}

// NoopParser satisfies ConfirmationParser when no parser is wired.
type NoopParser struct{}

func (NoopParser) ParseInbound(context.Context, uint, string, string) error { return nil }

// Service ingests inbound provider messages: classifies the channel,
// resolves the associate and conversation (including legacy promotion),
// and persists the message.
type Service struct {
	associates    repository.AssociateRepository
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	parser        ConfirmationParser
	logger        *logger.Logger
	now           func() time.Time
}

func NewService(
	associates repository.AssociateRepository,
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
	parser ConfirmationParser,
	log *logger.Logger,
) *Service {
	if parser == nil {
		parser = NoopParser{}
	}
	return &Service{
		associates:    associates,
		conversations: conversations,
		messages:      messages,
		parser:        parser,
		logger:        log,
		now:           time.Now,
	}
}

// ProcessInbound handles one inbound message. The webhook boundary has
// already acknowledged the provider; the returned error is for logging
// only and never reaches the caller.
func (s *Service) ProcessInbound(ctx context.Context, from, to, body string) error {
	ch := ClassifyChannel(from, to)
	metrics.InboundMessages.WithLabelValues(string(ch)).Inc()

	associate, err := s.resolveAssociate(ctx, from)
	if err != nil {
		return err
	}

	conversation, err := s.resolveConversation(ctx, associate.ID, associate.CompanyID, ch)
	if err != nil {
		return err
	}

	// Confirmation parsing runs first, against pre-persistence assignment
	// state; a parser failure must not cost us the raw message.
	if err := s.parser.ParseInbound(ctx, associate.ID, associate.CompanyID, body); err != nil {
		s.logger.Error("Confirmation parser failed",
			"associate_id", associate.ID,
			"error", err.Error(),
		)
	}

	message := &models.Message{
		ConversationID: conversation.ID,
		Direction:      models.DirectionInbound,
		SenderRole:     models.SenderAssociate,
		Body:           strings.TrimSpace(body),
		Status:         models.StatusDelivered,
		CreatedAt:      s.now(),
	}
	if err := s.messages.Create(ctx, message); err != nil {
		return fmt.Errorf("persist inbound message: %w", err)
	}

	return nil
}

// resolveAssociate finds the sender by normalized phone, retrying with the
// raw form. Multiple matches prefer a tenant-bound row; duplicates are a
// data smell and are logged for cleanup, not rejected.
func (s *Service) resolveAssociate(ctx context.Context, from string) (*models.Associate, error) {
	bare, _ := phone.StripChannelPrefix(from)

	var candidates []models.Associate
	if normalized, err := phone.Normalize(bare); err == nil {
		candidates, err = s.associates.FindByNormalizedPhone(ctx, normalized)
		if err != nil {
			return nil, fmt.Errorf("associate lookup: %w", err)
		}
	}
	if len(candidates) == 0 {
		var err error
		candidates, err = s.associates.FindByRawPhone(ctx, bare)
		if err != nil {
			return nil, fmt.Errorf("associate lookup: %w", err)
		}
	}

	if len(candidates) == 0 {
		return nil, fmt.Errorf("no associate found for inbound number %s", bare)
	}

	if len(candidates) > 1 {
		s.logger.Warn("Multiple associates match inbound number",
			"from", bare,
			"count", len(candidates),
		)
	}

	chosen := candidates[0]
	for _, c := range candidates {
		if c.CompanyID != "" {
			chosen = c
			break
		}
	}

	if chosen.CompanyID == "" {
		return nil, fmt.Errorf("associate %d has no company binding; cannot ingest", chosen.ID)
	}

	return &chosen, nil
}

// resolveConversation finds or creates the thread for this contact:
// exact (associate, company, channel) match first, then an unambiguous
// legacy promotion, then a fresh conversation.
func (s *Service) resolveConversation(ctx context.Context, associateID uint, companyID string, ch models.Channel) (*models.Conversation, error) {
	conversation, err := s.conversations.FindByIdentity(ctx, associateID, companyID, ch)
	if err != nil {
		return nil, fmt.Errorf("conversation lookup: %w", err)
	}
	if conversation != nil {
		return conversation, nil
	}

	legacy, err := s.conversations.FindLegacy(ctx, associateID, companyID)
	if err != nil {
		return nil, fmt.Errorf("legacy conversation lookup: %w", err)
	}

	if promoted := PromoteIfUnambiguous(legacy); promoted != nil {
		if err := s.conversations.AssignChannel(ctx, promoted.ID, ch); err != nil {
			return nil, fmt.Errorf("promote legacy conversation: %w", err)
		}
		promoted.Channel = ch
		s.logger.Info("Promoted legacy conversation",
			"conversation_id", promoted.ID,
			"channel", string(ch),
		)
		return promoted, nil
	}

	if len(legacy) > 1 {
		s.logger.Warn("Ambiguous legacy conversations; creating a new thread",
			"associate_id", associateID,
			"count", len(legacy),
		)
	}

	conversation = &models.Conversation{
		AssociateID: associateID,
		CompanyID:   companyID,
		Channel:     ch,
	}
	if err := s.conversations.Create(ctx, conversation); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conversation, nil
}

// PromoteIfUnambiguous returns the single legacy candidate, or nil when
// zero or several exist. With several we never guess; a new conversation
// is created instead.
func PromoteIfUnambiguous(candidates []models.Conversation) *models.Conversation {
	if len(candidates) != 1 {
		return nil
	}
	return &candidates[0]
}

// ClassifyChannel treats a channel-prefix marker on either endpoint as
// WhatsApp; its absence means SMS.
func ClassifyChannel(from, to string) models.Channel {
	if _, wa := phone.StripChannelPrefix(from); wa {
		return models.ChannelWhatsApp
	}
	if _, wa := phone.StripChannelPrefix(to); wa {
		return models.ChannelWhatsApp
	}
	return models.ChannelSMS
}
