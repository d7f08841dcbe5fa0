package delivery

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"crewtext/backend/internal/gate"
	"crewtext/backend/internal/models"
	"crewtext/backend/internal/phone"
	"crewtext/backend/internal/provider"
	"crewtext/backend/internal/repository"
	"crewtext/backend/pkg/logger"
	"crewtext/backend/pkg/metrics"

	"gorm.io/gorm"
)

// StatusCallback is the parsed provider delivery-status payload.
type StatusCallback struct {
	MessageSID   string
	Status       string
	To           string
	From         string
	ErrorCode    string
	ErrorMessage string
}

// fallbackNotice replaces a body that is empty after template markers are
// stripped.
const fallbackNotice = "This message was delivered via SMS because it could not be sent over WhatsApp."

var templateMarker = regexp.MustCompile(`\{\{[^}]*\}\}`)

// Processor consumes provider delivery-status callbacks. Every event is
// recorded idempotently; the (sid, status) pair hitting the table's unique
// index twice is a no-op, which makes duplicate and out-of-order provider
// retries safe.
type Processor struct {
	events        repository.MessageEventRepository
	messages      repository.MessageRepository
	conversations repository.ConversationRepository
	gate          *gate.Gate
	sender        provider.Sender
	logger        *logger.Logger
	now           func() time.Time
}

func NewProcessor(
	events repository.MessageEventRepository,
	messages repository.MessageRepository,
	conversations repository.ConversationRepository,
	g *gate.Gate,
	sender provider.Sender,
	log *logger.Logger,
) *Processor {
	return &Processor{
		events:        events,
		messages:      messages,
		conversations: conversations,
		gate:          g,
		sender:        sender,
		logger:        log,
		now:           time.Now,
	}
}

// Process handles one status callback. The HTTP boundary has already
// acknowledged the provider before this runs, so errors here are logged
// and swallowed rather than propagated.
func (p *Processor) Process(ctx context.Context, cb StatusCallback) {
	if cb.MessageSID == "" || cb.Status == "" {
		p.logger.Warn("Dropping status callback with missing fields",
			"message_sid", cb.MessageSID,
			"status", cb.Status,
		)
		return
	}

	status := models.MessageStatus(strings.ToLower(cb.Status))
	ch := classifyChannel(cb.To, cb.From)

	message, err := p.messages.FindByProviderSID(ctx, cb.MessageSID)
	if err != nil {
		p.logger.Error("Message lookup failed for status callback",
			"message_sid", cb.MessageSID,
			"error", err.Error(),
		)
		return
	}

	event := &models.MessageEvent{
		MessageSID: cb.MessageSID,
		Status:     string(status),
		Channel:    ch,
		ToNumber:   normalizeEndpoint(cb.To),
		FromNumber: normalizeEndpoint(cb.From),
	}
	if cb.ErrorCode != "" {
		event.ErrorCode = &cb.ErrorCode
	}
	if cb.ErrorMessage != "" {
		event.ErrorMessage = &cb.ErrorMessage
	}
	if message != nil {
		event.MessageID = &message.ID
	}

	if err := p.events.Create(ctx, event); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Exact (sid, status) pair already processed.
			p.logger.Debug("Duplicate status event ignored",
				"message_sid", cb.MessageSID,
				"status", string(status),
			)
			return
		}
		p.logger.Error("Failed to record status event",
			"message_sid", cb.MessageSID,
			"error", err.Error(),
		)
		return
	}

	// Counted only once the insert lands, so provider retries of the same
	// (sid, status) pair do not inflate the series.
	metrics.StatusEvents.WithLabelValues(string(status)).Inc()

	// The message row may not exist yet; status can outrun the send path.
	if message != nil {
		var deliveredAt *time.Time
		if status.IsFinalDelivery() {
			now := p.now()
			deliveredAt = &now
		}
		if err := p.messages.UpdateStatus(ctx, message.ID, status, deliveredAt); err != nil {
			p.logger.Error("Failed to update message status",
				"message_id", message.ID,
				"error", err.Error(),
			)
		}
	}

	if p.shouldFallBack(ch, status, cb.ErrorCode, message) {
		p.fallBackToSMS(ctx, event, message)
	}
}

// shouldFallBack gates the automatic WhatsApp-to-SMS fallback: WhatsApp
// channel, terminal failure, the policy-violation error code, and an
// original message row to fall back from.
func (p *Processor) shouldFallBack(ch models.Channel, status models.MessageStatus, errorCode string, message *models.Message) bool {
	return ch == models.ChannelWhatsApp &&
		status.IsTerminalFailure() &&
		errorCode == models.WhatsAppPolicyViolationCode &&
		message != nil
}

// fallBackToSMS re-sends the original body over SMS, at most once per
// provider message SID. Every failure here is swallowed; the provider
// already got its acknowledgment.
func (p *Processor) fallBackToSMS(ctx context.Context, event *models.MessageEvent, original *models.Message) {
	already, err := p.events.HasFallbackForSID(ctx, event.MessageSID)
	if err != nil {
		p.logger.Error("Fallback dedup check failed",
			"message_sid", event.MessageSID,
			"error", err.Error(),
		)
		return
	}
	if already {
		return
	}

	conversation, err := p.conversations.FindByID(ctx, original.ConversationID)
	if err != nil || conversation == nil {
		p.logger.Error("Conversation lookup failed for SMS fallback",
			"message_sid", event.MessageSID,
			"conversation_id", original.ConversationID,
		)
		return
	}

	binding, err := p.gate.ResolveCredentials(ctx, conversation.CompanyID)
	if err != nil {
		p.logger.Error("Credential resolution failed for SMS fallback",
			"message_sid", event.MessageSID,
			"company_id", conversation.CompanyID,
			"error", err.Error(),
		)
		return
	}

	body := StripTemplateMarkers(original.Body)
	if body == "" {
		body = fallbackNotice
	}

	sid, err := p.sender.Send(ctx, provider.SendParams{
		Channel:       models.ChannelSMS,
		To:            event.ToNumber,
		From:          binding.MessagingNumber,
		Body:          body,
		SubaccountSID: binding.SubaccountSID,
	})
	if err != nil {
		p.logger.Error("SMS fallback send failed",
			"message_sid", event.MessageSID,
			"error", err.Error(),
		)
		return
	}

	now := p.now()
	fallback := &models.Message{
		ConversationID: original.ConversationID,
		Direction:      models.DirectionOutbound,
		SenderRole:     models.SenderSystem,
		Body:           body,
		ProviderSID:    &sid,
		Status:         models.StatusSent,
		SentAt:         &now,
	}
	if err := p.messages.Create(ctx, fallback); err != nil {
		p.logger.Error("Failed to persist SMS fallback message",
			"message_sid", event.MessageSID,
			"error", err.Error(),
		)
		return
	}

	if err := p.events.SetFallbackMessage(ctx, event.ID, fallback.ID); err != nil {
		p.logger.Error("Failed to link SMS fallback to event",
			"event_id", event.ID,
			"error", err.Error(),
		)
		return
	}

	metrics.FallbackSends.Inc()
	p.logger.Info("SMS fallback sent",
		"original_sid", event.MessageSID,
		"fallback_sid", sid,
	)
}

// StripTemplateMarkers removes provider template placeholders from a body.
func StripTemplateMarkers(body string) string {
	return strings.TrimSpace(templateMarker.ReplaceAllString(body, ""))
}

// classifyChannel treats a channel prefix on either endpoint as WhatsApp.
func classifyChannel(to, from string) models.Channel {
	if _, wa := phone.StripChannelPrefix(to); wa {
		return models.ChannelWhatsApp
	}
	if _, wa := phone.StripChannelPrefix(from); wa {
		return models.ChannelWhatsApp
	}
	return models.ChannelSMS
}

// normalizeEndpoint strips channel markers and normalizes to E.164,
// keeping the raw value when normalization is impossible.
func normalizeEndpoint(endpoint string) string {
	bare, _ := phone.StripChannelPrefix(endpoint)
	if normalized, err := phone.Normalize(bare); err == nil {
		return normalized
	}
	return bare
}
