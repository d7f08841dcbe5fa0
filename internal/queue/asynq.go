package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// AsynqPublisher implements Publisher using github.com/hibiken/asynq with
// Redis as the backing store.
type AsynqPublisher struct {
	client   *asynq.Client
	maxRetry int
}

// NewAsynqPublisher constructs a publisher against the given Redis address.
func NewAsynqPublisher(addr, password string, db, maxRetry int) *AsynqPublisher {
	if maxRetry <= 0 {
		maxRetry = 5
	}
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &AsynqPublisher{client: client, maxRetry: maxRetry}
}

var _ Publisher = (*AsynqPublisher)(nil)

// EnqueueSend publishes a send task. The message type selects the queue,
// and reminder tasks with a future target time are scheduled rather than
// processed immediately.
func (p *AsynqPublisher) EnqueueSend(ctx context.Context, task SendTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal send task: %w", err)
	}

	opts := []asynq.Option{
		asynq.Queue(task.MessageType),
		asynq.MaxRetry(p.maxRetry),
	}
	if task.MessageType == MessageTypeReminder && task.TargetTime != nil {
		opts = append(opts, asynq.ProcessAt(*task.TargetTime))
	}

	at := asynq.NewTask(TypeSendMessage, payload)
	if _, err := p.client.EnqueueContext(ctx, at, opts...); err != nil {
		return fmt.Errorf("enqueue send task: %w", err)
	}
	return nil
}

// EnqueueDeadLetter deposits a forensic record on the dead-letter queue.
// Retention keeps the record inspectable; the task is never retried.
func (p *AsynqPublisher) EnqueueDeadLetter(ctx context.Context, record DeadLetterRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	at := asynq.NewTask(TypeDeadLetter, payload)
	_, err = p.client.EnqueueContext(ctx, at,
		asynq.Queue(DeadLetterQueue),
		asynq.MaxRetry(0),
		asynq.Retention(7*24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("enqueue dead letter: %w", err)
	}
	return nil
}

func (p *AsynqPublisher) Close() error {
	return p.client.Close()
}
