package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"crewtext/backend/internal/models"
	"crewtext/backend/internal/phone"
	"crewtext/backend/internal/provider"
	"crewtext/backend/internal/repository"
	"crewtext/backend/pkg/logger"
	"crewtext/backend/pkg/metrics"

	"github.com/hibiken/asynq"
)

// WorkerConfig configures the background send worker.
type WorkerConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Concurrency   int
}

// Worker consumes send tasks, delivers them through the carrier, and
// persists the outbound message. Immediate traffic is weighted over
// scheduled reminders so a reminder burst cannot starve live replies.
type Worker struct {
	server        *asynq.Server
	sender        provider.Sender
	publisher     Publisher
	associates    repository.AssociateRepository
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	logger        *logger.Logger
	now           func() time.Time
}

func NewWorker(
	cfg WorkerConfig,
	sender provider.Sender,
	publisher Publisher,
	associates repository.AssociateRepository,
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
	log *logger.Logger,
) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}

	server := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		},
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				MessageTypeImmediate: 6,
				MessageTypeReminder:  3,
				DeadLetterQueue:      1,
			},
		},
	)

	return &Worker{
		server:        server,
		sender:        sender,
		publisher:     publisher,
		associates:    associates,
		conversations: conversations,
		messages:      messages,
		logger:        log,
		now:           time.Now,
	}
}

// Start runs the worker in the background. It returns once the asynq
// server has started; Shutdown stops it.
func (w *Worker) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeSendMessage, w.handleSend)
	mux.HandleFunc(TypeDeadLetter, w.handleDeadLetter)
	return w.server.Start(mux)
}

// Shutdown waits for in-flight tasks to finish
func (w *Worker) Shutdown() {
	w.server.Shutdown()
}

// handleSend delivers one send task. A provider failure is returned so
// asynq retries with backoff; once retries are exhausted the task is
// copied to the dead-letter queue instead of vanishing into the archive.
func (w *Worker) handleSend(ctx context.Context, t *asynq.Task) error {
	var task SendTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		// A payload that never unmarshals will never succeed on retry.
		w.deadLetter(ctx, task, fmt.Errorf("unmarshal send task: %w", err))
		return fmt.Errorf("unmarshal send task: %v: %w", err, asynq.SkipRetry)
	}

	sid, err := w.sender.Send(ctx, provider.SendParams{
		Channel:       models.Channel(task.Channel),
		To:            task.To,
		From:          task.From,
		Body:          task.Body,
		SubaccountSID: task.SubaccountSID,
	})
	if err != nil {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		if retried >= maxRetry {
			w.deadLetter(ctx, task, err)
		}
		return fmt.Errorf("send message %s: %w", task.MessageID, err)
	}

	w.persistOutbound(ctx, task, sid)

	w.logger.Info("Message sent",
		"message_id", task.MessageID,
		"provider_sid", sid,
		"channel", task.Channel,
		"message_type", task.MessageType,
	)
	return nil
}

// persistOutbound records the sent message on its conversation. The carrier
// already accepted the message, so persistence failures are logged rather
// than retried; a retry would send the message twice.
func (w *Worker) persistOutbound(ctx context.Context, task SendTask, sid string) {
	conversation, err := w.resolveConversation(ctx, task)
	if err != nil {
		w.logger.Error("Failed to resolve conversation for sent message",
			"message_id", task.MessageID,
			"error", err.Error(),
		)
		return
	}
	if conversation == nil {
		w.logger.Warn("No associate for outbound number; message not persisted",
			"message_id", task.MessageID,
			"to", task.To,
		)
		return
	}

	sentAt := w.now().UTC()
	message := &models.Message{
		ConversationID: conversation.ID,
		Direction:      models.DirectionOutbound,
		SenderRole:     models.SenderBusiness,
		Body:           task.Body,
		ProviderSID:    &sid,
		Status:         models.StatusSent,
		SentAt:         &sentAt,
		CreatedAt:      sentAt,
	}
	if err := w.messages.Create(ctx, message); err != nil {
		w.logger.Error("Failed to persist sent message",
			"message_id", task.MessageID,
			"provider_sid", sid,
			"error", err.Error(),
		)
	}
}

func (w *Worker) resolveConversation(ctx context.Context, task SendTask) (*models.Conversation, error) {
	bare, _ := phone.StripChannelPrefix(task.To)

	var candidates []models.Associate
	if normalized, err := phone.Normalize(bare); err == nil {
		candidates, err = w.associates.FindByNormalizedPhone(ctx, normalized)
		if err != nil {
			return nil, err
		}
	}
	if len(candidates) == 0 {
		var err error
		candidates, err = w.associates.FindByRawPhone(ctx, bare)
		if err != nil {
			return nil, err
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	associate := candidates[0]
	ch := models.Channel(task.Channel)
	conversation, err := w.conversations.FindByIdentity(ctx, associate.ID, task.CompanyID, ch)
	if err != nil {
		return nil, err
	}
	if conversation != nil {
		return conversation, nil
	}

	conversation = &models.Conversation{
		AssociateID: associate.ID,
		CompanyID:   task.CompanyID,
		Channel:     ch,
	}
	if err := w.conversations.Create(ctx, conversation); err != nil {
		return nil, err
	}
	return conversation, nil
}

// handleDeadLetter logs the forensic record; the queue's retention option
// keeps the task inspectable afterwards.
func (w *Worker) handleDeadLetter(_ context.Context, t *asynq.Task) error {
	var record DeadLetterRecord
	if err := json.Unmarshal(t.Payload(), &record); err != nil {
		w.logger.Error("Unreadable dead letter", "error", err.Error())
		return nil
	}
	w.logger.Error("Dead letter recorded",
		"source", record.Source,
		"failed_at", record.FailedAt.Format(time.RFC3339),
		"cause", record.Error,
	)
	return nil
}

func (w *Worker) deadLetter(ctx context.Context, task SendTask, cause error) {
	record := DeadLetterRecord{
		Payload:  task,
		Error:    cause.Error(),
		FailedAt: w.now().UTC(),
		Source:   "send-worker",
	}
	if err := w.publisher.EnqueueDeadLetter(ctx, record); err != nil {
		w.logger.Error("Failed to dead-letter send task",
			"message_id", task.MessageID,
			"error", err.Error(),
		)
		return
	}
	metrics.DeadLetters.Inc()
}
