package intake

import (
	"context"
	"fmt"
	"strings"
	"time"

	"crewtext/backend/internal/channel"
	"crewtext/backend/internal/gate"
	"crewtext/backend/internal/models"
	"crewtext/backend/internal/queue"
	"crewtext/backend/pkg/errors"
	"crewtext/backend/pkg/logger"
	"crewtext/backend/pkg/metrics"

	"github.com/google/uuid"
)

// SendRequest is the router's intake body. Validation happens here, at the
// boundary, before anything enters the pipeline.
type SendRequest struct {
	To          string `json:"to"`
	From        string `json:"from"`
	Message     string `json:"message"`
	Channel     string `json:"channel"`
	Templated   bool   `json:"templated"`
	TargetTime  string `json:"target_time"`
	MessageType string `json:"message_type"`
}

// QueuedMessage is the caller-visible result of a routed send.
type QueuedMessage struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
	To        string `json:"to"`
	From      string `json:"from"`
}

// Service authenticates nothing itself (the handler's JWT middleware owns
// that); it validates, gates, arbitrates, and publishes send tasks.
type Service struct {
	gate       *gate.Gate
	arbitrator *channel.Arbitrator
	publisher  queue.Publisher
	logger     *logger.Logger
	now        func() time.Time
}

func NewService(g *gate.Gate, a *channel.Arbitrator, p queue.Publisher, log *logger.Logger) *Service {
	return &Service{
		gate:       g,
		arbitrator: a,
		publisher:  p,
		logger:     log,
		now:        time.Now,
	}
}

// Route validates a send request and publishes it as a durable send task.
// Client-class failures (validation, credentials, rate limit, session
// window) come back as 4xx AppErrors; queue failures come back as 5xx and
// are copied to the dead-letter queue in the background.
func (s *Service) Route(ctx context.Context, companyID string, req SendRequest) (*QueuedMessage, error) {
	if companyID == "" {
		return nil, errors.NewValidationError("Company id is missing from token claims")
	}

	messageType, targetTime, err := s.validate(&req)
	if err != nil {
		return nil, err
	}

	binding, err := s.gate.ResolveCredentials(ctx, companyID)
	if err != nil {
		return nil, err
	}

	if err := s.gate.Admit(ctx, companyID); err != nil {
		return nil, err
	}

	requested := models.ChannelSMS
	if strings.EqualFold(req.Channel, string(models.ChannelWhatsApp)) {
		requested = models.ChannelWhatsApp
	}

	resolved, err := s.arbitrator.ResolveForSend(ctx, companyID, req.To, requested, req.Templated)
	if err != nil {
		return nil, err
	}

	from := req.From
	if from == "" {
		from = binding.MessagingNumber
	}

	task := queue.SendTask{
		CompanyID:       companyID,
		To:              req.To,
		From:            from,
		Body:            req.Message,
		MessageType:     messageType,
		Channel:         string(resolved),
		TargetTime:      targetTime,
		SubaccountSID:   binding.SubaccountSID,
		MessagingNumber: binding.MessagingNumber,
		CreatedAt:       s.now().UTC(),
		MessageID:       uuid.New().String(),
	}

	if err := s.publisher.EnqueueSend(ctx, task); err != nil {
		infraErr := errors.NewInfrastructureError(fmt.Sprintf("failed to queue message: %v", err))
		s.deadLetter(task, infraErr)
		return nil, infraErr
	}

	metrics.MessagesQueued.WithLabelValues(messageType).Inc()

	return &QueuedMessage{
		MessageID: task.MessageID,
		Status:    "queued",
		To:        task.To,
		From:      task.From,
	}, nil
}

// validate normalizes the request and returns the message type and the
// canonical target instant (nil for immediate sends).
func (s *Service) validate(req *SendRequest) (string, *time.Time, error) {
	req.To = strings.TrimSpace(req.To)
	req.Message = strings.TrimSpace(req.Message)

	if req.To == "" {
		return "", nil, errors.NewValidationError("'to' is required")
	}
	if req.Message == "" {
		return "", nil, errors.NewValidationError("'message' is required")
	}

	messageType := req.MessageType
	if messageType == "" {
		if req.TargetTime != "" {
			messageType = queue.MessageTypeReminder
		} else {
			messageType = queue.MessageTypeImmediate
		}
	}
	if messageType != queue.MessageTypeImmediate && messageType != queue.MessageTypeReminder {
		return "", nil, errors.NewValidationError(fmt.Sprintf("invalid message_type %q", req.MessageType))
	}

	var targetTime *time.Time
	if messageType == queue.MessageTypeReminder {
		if req.TargetTime == "" {
			return "", nil, errors.NewValidationError("'target_time' is required for reminder messages")
		}
		parsed, err := time.Parse(time.RFC3339, req.TargetTime)
		if err != nil {
			return "", nil, errors.NewValidationError("'target_time' must be a valid ISO-8601 timestamp")
		}
		if !parsed.After(s.now()) {
			return "", nil, errors.NewValidationError("'target_time' must be in the future")
		}
		utc := parsed.UTC()
		targetTime = &utc
	}

	return messageType, targetTime, nil
}

// deadLetter copies a failed send to the dead-letter queue without blocking
// or failing the caller's response path.
func (s *Service) deadLetter(task queue.SendTask, cause error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		record := queue.DeadLetterRecord{
			Payload:  task,
			Error:    cause.Error(),
			FailedAt: time.Now().UTC(),
			Source:   "message-router",
		}
		if err := s.publisher.EnqueueDeadLetter(ctx, record); err != nil {
			s.logger.Error("Failed to dead-letter send request",
				"message_id", task.MessageID,
				"error", err.Error(),
			)
			return
		}
		metrics.DeadLetters.Inc()
	}()
}
