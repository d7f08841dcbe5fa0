package models

import (
	"time"
)

// Channel identifies the transport a conversation is bound to. Legacy rows
// created before channel tracking carry ChannelUnset and are promoted once,
// on first unambiguous inbound contact.
type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelUnset    Channel = ""
)

// Direction of a message relative to the business
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// SenderRole identifies who authored a message
type SenderRole string

const (
	SenderAssociate SenderRole = "associate"
	SenderBusiness  SenderRole = "business"
	SenderSystem    SenderRole = "system"
)

// MessageStatus mirrors the provider's message lifecycle
type MessageStatus string

const (
	StatusQueued      MessageStatus = "queued"
	StatusSending     MessageStatus = "sending"
	StatusSent        MessageStatus = "sent"
	StatusDelivered   MessageStatus = "delivered"
	StatusUndelivered MessageStatus = "undelivered"
	StatusFailed      MessageStatus = "failed"
	StatusRead        MessageStatus = "read"
)

// IsTerminalFailure reports whether the status denotes a failed delivery
func (s MessageStatus) IsTerminalFailure() bool {
	return s == StatusFailed || s == StatusUndelivered
}

// IsFinalDelivery reports whether the status denotes the message reaching the handset
func (s MessageStatus) IsFinalDelivery() bool {
	return s == StatusDelivered || s == StatusRead
}

// ConfirmationStatus tracks an associate's response to a shift reminder
type ConfirmationStatus string

const (
	ConfirmationPending   ConfirmationStatus = "PENDING"
	ConfirmationConfirmed ConfirmationStatus = "CONFIRMED"
	ConfirmationDeclined  ConfirmationStatus = "DECLINED"
)

// WhatsAppPolicyViolationCode is the provider error code for a WhatsApp
// message rejected by messaging policy. It is the only failure code that
// triggers the automatic SMS fallback.
const WhatsAppPolicyViolationCode = "63049"

// Associate is a contractor reachable over SMS/WhatsApp. CRUD on associates
// lives outside this service; this is the lookup surface for ingestion.
type Associate struct {
	ID              uint      `json:"id" gorm:"primaryKey"`
	CompanyID       string    `json:"company_id" gorm:"index"`
	FirstName       string    `json:"first_name"`
	Phone           string    `json:"phone" gorm:"index"`
	PhoneNormalized string    `json:"phone_normalized" gorm:"index"`
	CreatedAt       time.Time `json:"created_at"`
}

// Conversation is the unique (associate, company, channel) thread.
// Channel is assigned once and treated as display truth thereafter.
type Conversation struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	AssociateID uint      `json:"associate_id" gorm:"uniqueIndex:idx_conversation_identity"`
	CompanyID   string    `json:"company_id" gorm:"uniqueIndex:idx_conversation_identity"`
	Channel     Channel   `json:"channel" gorm:"uniqueIndex:idx_conversation_identity"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Message belongs to exactly one conversation. Status is mutated only by
// the delivery-status processor.
type Message struct {
	ID             uint          `json:"id" gorm:"primaryKey"`
	ConversationID uint          `json:"conversation_id" gorm:"index"`
	Direction      Direction     `json:"direction"`
	SenderRole     SenderRole    `json:"sender_role"`
	Body           string        `json:"body"`
	ProviderSID    *string       `json:"provider_sid" gorm:"index"`
	Status         MessageStatus `json:"status"`
	SentAt         *time.Time    `json:"sent_at"`
	DeliveredAt    *time.Time    `json:"delivered_at"`
	CreatedAt      time.Time     `json:"created_at"`
}

// MessageEvent is an append-only record of one (provider sid, status) pair.
// The unique pair makes duplicate provider callbacks safe no-ops.
type MessageEvent struct {
	ID                   uint       `json:"id" gorm:"primaryKey"`
	MessageSID           string     `json:"message_sid" gorm:"uniqueIndex:idx_event_sid_status"`
	Status               string     `json:"status" gorm:"uniqueIndex:idx_event_sid_status"`
	Channel              Channel    `json:"channel"`
	ToNumber             string     `json:"to_number"`
	FromNumber           string     `json:"from_number"`
	ErrorCode            *string    `json:"error_code"`
	ErrorMessage         *string    `json:"error_message"`
	MessageID            *uint      `json:"message_id" gorm:"index"`
	FallbackSMSMessageID *uint      `json:"fallback_sms_message_id"`
	CreatedAt            time.Time  `json:"created_at"`
}

// ReminderAssignment pairs a job with an associate for a shift. NumReminders
// is the remaining reminder budget; it never goes below zero.
type ReminderAssignment struct {
	ID                 uint               `json:"id" gorm:"primaryKey"`
	JobID              string             `json:"job_id" gorm:"index"`
	AssociateID        uint               `json:"associate_id" gorm:"index"`
	CompanyID          string             `json:"company_id" gorm:"index"`
	WorkDate           time.Time          `json:"work_date" gorm:"type:date;index"`
	StartTime          string             `json:"start_time"`
	Phone              string             `json:"phone"`
	FirstName          string             `json:"first_name"`
	JobTitle           string             `json:"job_title"`
	CustomerName       string             `json:"customer_name"`
	ConfirmationStatus ConfirmationStatus `json:"confirmation_status"`
	NumReminders       int                `json:"num_reminders"`
	LastReminderTime   *time.Time         `json:"last_reminder_time"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// CredentialBinding is a tenant's resolved provider sending identity.
// Read-only to this service.
type CredentialBinding struct {
	ID              uint      `json:"id" gorm:"primaryKey"`
	CompanyID       string    `json:"company_id" gorm:"index"`
	SubaccountSID   string    `json:"subaccount_sid"`
	MessagingNumber string    `json:"messaging_number"`
	WhatsAppNumber  string    `json:"whatsapp_number"`
	CreatedAt       time.Time `json:"created_at"`
}
