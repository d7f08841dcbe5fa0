package queue

import (
	"context"
	"time"
)

// Task type identifiers. Stable strings; downstream workers route on them.
const (
	TypeSendMessage = "message:send"
	TypeDeadLetter  = "message:dead_letter"
)

// Message types carried on send tasks. They double as queue names so the
// delivery worker can weight immediate traffic over scheduled reminders.
const (
	MessageTypeImmediate = "immediate"
	MessageTypeReminder  = "reminder"
)

// DeadLetterQueue is where forensic copies of failed send requests land.
const DeadLetterQueue = "deadletter"

// SendTask is the durable, at-least-once send request published by the
// router. Kept decoupled from domain types so the wire shape stays stable.
type SendTask struct {
	CompanyID       string     `json:"company_id"`
	To              string     `json:"to"`
	From            string     `json:"from"`
	Body            string     `json:"body"`
	MessageType     string     `json:"message_type"`
	Channel         string     `json:"channel"`
	TargetTime      *time.Time `json:"target_time"`
	SubaccountSID   string     `json:"subaccount_sid"`
	MessagingNumber string     `json:"messaging_number"`
	CreatedAt       time.Time  `json:"created_at"`
	MessageID       string     `json:"message_id"`
}

// DeadLetterRecord is the forensic copy deposited when the router hits an
// infrastructure failure.
type DeadLetterRecord struct {
	Payload  any       `json:"payload"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
	Source   string    `json:"source"`
}

// Publisher enqueues tasks for background processing.
type Publisher interface {
	EnqueueSend(ctx context.Context, task SendTask) error
	EnqueueDeadLetter(ctx context.Context, record DeadLetterRecord) error
	Close() error
}
