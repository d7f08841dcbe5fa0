package delivery

import (
	"context"
	"fmt"
	"testing"
	"time"

	"crewtext/backend/internal/gate"
	"crewtext/backend/internal/models"
	"crewtext/backend/internal/provider"
	"crewtext/backend/pkg/logger"
	"crewtext/backend/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeEvents struct {
	created      []*models.MessageEvent
	duplicateKey bool
	fallbackSIDs map[string]bool
	linked       map[uint]uint
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{
		fallbackSIDs: make(map[string]bool),
		linked:       make(map[uint]uint),
	}
}

func (f *fakeEvents) Create(_ context.Context, event *models.MessageEvent) error {
	if f.duplicateKey {
		return gorm.ErrDuplicatedKey
	}
	event.ID = uint(len(f.created) + 1)
	f.created = append(f.created, event)
	return nil
}

func (f *fakeEvents) HasFallbackForSID(_ context.Context, sid string) (bool, error) {
	return f.fallbackSIDs[sid], nil
}

func (f *fakeEvents) SetFallbackMessage(_ context.Context, eventID, messageID uint) error {
	f.linked[eventID] = messageID
	return nil
}

type fakeMessages struct {
	bySID         map[string]*models.Message
	created       []*models.Message
	statusUpdates map[uint]models.MessageStatus
	deliveredAt   map[uint]*time.Time
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{
		bySID:         make(map[string]*models.Message),
		statusUpdates: make(map[uint]models.MessageStatus),
		deliveredAt:   make(map[uint]*time.Time),
	}
}

func (f *fakeMessages) Create(_ context.Context, message *models.Message) error {
	message.ID = uint(100 + len(f.created))
	f.created = append(f.created, message)
	return nil
}

func (f *fakeMessages) FindByProviderSID(_ context.Context, sid string) (*models.Message, error) {
	return f.bySID[sid], nil
}

func (f *fakeMessages) UpdateStatus(_ context.Context, id uint, status models.MessageStatus, deliveredAt *time.Time) error {
	f.statusUpdates[id] = status
	f.deliveredAt[id] = deliveredAt
	return nil
}

func (f *fakeMessages) HasInboundSince(context.Context, uint, time.Time) (bool, error) {
	return false, nil
}

type fakeConversations struct {
	byID map[uint]*models.Conversation
}

func (f *fakeConversations) FindByID(_ context.Context, id uint) (*models.Conversation, error) {
	return f.byID[id], nil
}

func (f *fakeConversations) FindByIdentity(context.Context, uint, string, models.Channel) (*models.Conversation, error) {
	return nil, nil
}

func (f *fakeConversations) FindLegacy(context.Context, uint, string) ([]models.Conversation, error) {
	return nil, nil
}

func (f *fakeConversations) Create(context.Context, *models.Conversation) error { return nil }

func (f *fakeConversations) AssignChannel(context.Context, uint, models.Channel) error { return nil }

type fakeCredentials struct {
	bindings map[string][]models.CredentialBinding
}

func (f *fakeCredentials) FindByCompany(_ context.Context, companyID string) ([]models.CredentialBinding, error) {
	return f.bindings[companyID], nil
}

type noopCounter struct{}

func (noopCounter) Incr(context.Context, string) (int64, error) { return 1, nil }

func (noopCounter) Expire(context.Context, string, time.Duration) error { return nil }

type fakeSender struct {
	sent []provider.SendParams
	err  error
}

func (f *fakeSender) Send(_ context.Context, params provider.SendParams) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, params)
	return fmt.Sprintf("SM_fallback_%d", len(f.sent)), nil
}

type fixture struct {
	events        *fakeEvents
	messages      *fakeMessages
	conversations *fakeConversations
	sender        *fakeSender
	processor     *Processor
}

func newFixture() *fixture {
	log := logger.New(logger.Config{Level: "error"})
	events := newFakeEvents()
	messages := newFakeMessages()
	conversations := &fakeConversations{byID: map[uint]*models.Conversation{}}
	sender := &fakeSender{}
	creds := &fakeCredentials{bindings: map[string][]models.CredentialBinding{
		"acme": {{CompanyID: "acme", SubaccountSID: "AC123", MessagingNumber: "+15550000001"}},
	}}
	g := gate.New(noopCounter{}, creds, 60, log)

	return &fixture{
		events:        events,
		messages:      messages,
		conversations: conversations,
		sender:        sender,
		processor:     NewProcessor(events, messages, conversations, g, sender, log),
	}
}

func (f *fixture) seedOutbound(sid string) *models.Message {
	message := &models.Message{
		ID:             42,
		ConversationID: 7,
		Direction:      models.DirectionOutbound,
		Body:           "Hello {{1}}",
		ProviderSID:    &sid,
		Status:         models.StatusSent,
	}
	f.messages.bySID[sid] = message
	f.conversations.byID[7] = &models.Conversation{ID: 7, CompanyID: "acme", Channel: models.ChannelWhatsApp}
	return message
}

func TestProcessRecordsEventAndUpdatesStatus(t *testing.T) {
	f := newFixture()
	f.seedOutbound("SM123")

	f.processor.Process(context.Background(), StatusCallback{
		MessageSID: "SM123",
		Status:     "Delivered",
		To:         "whatsapp:+15551234567",
		From:       "whatsapp:+15550000001",
	})

	require.Len(t, f.events.created, 1)
	event := f.events.created[0]
	assert.Equal(t, "delivered", event.Status)
	assert.Equal(t, models.ChannelWhatsApp, event.Channel)
	assert.Equal(t, "+15551234567", event.ToNumber)
	require.NotNil(t, event.MessageID)
	assert.Equal(t, uint(42), *event.MessageID)

	assert.Equal(t, models.StatusDelivered, f.messages.statusUpdates[42])
	assert.NotNil(t, f.messages.deliveredAt[42])
}

func TestProcessDropsCallbackWithMissingFields(t *testing.T) {
	f := newFixture()

	f.processor.Process(context.Background(), StatusCallback{MessageSID: "", Status: "delivered"})
	f.processor.Process(context.Background(), StatusCallback{MessageSID: "SM123", Status: ""})

	assert.Empty(t, f.events.created)
}

func TestProcessDuplicateEventIsNoOp(t *testing.T) {
	f := newFixture()
	f.seedOutbound("SM123")
	f.events.duplicateKey = true

	f.processor.Process(context.Background(), StatusCallback{
		MessageSID: "SM123",
		Status:     "delivered",
		To:         "+15551234567",
	})

	// The duplicate insert short-circuits everything downstream.
	assert.Empty(t, f.messages.statusUpdates)
	assert.Empty(t, f.sender.sent)
}

func TestDuplicateEventNotCountedInMetrics(t *testing.T) {
	f := newFixture()
	f.seedOutbound("SM123")

	cb := StatusCallback{
		MessageSID: "SM123",
		Status:     "delivered",
		To:         "+15551234567",
	}

	series := metrics.StatusEvents.WithLabelValues("delivered")
	before := testutil.ToFloat64(series)

	f.processor.Process(context.Background(), cb)
	assert.Equal(t, before+1, testutil.ToFloat64(series))

	// A provider retry of the same (sid, status) pair is a no-op and must
	// not move the counter.
	f.events.duplicateKey = true
	f.processor.Process(context.Background(), cb)
	assert.Equal(t, before+1, testutil.ToFloat64(series))
}

func TestProcessToleratesUnknownSID(t *testing.T) {
	f := newFixture()

	f.processor.Process(context.Background(), StatusCallback{
		MessageSID: "SM_unknown",
		Status:     "sent",
		To:         "+15551234567",
	})

	// The event is still recorded; status can outrun the send path.
	require.Len(t, f.events.created, 1)
	assert.Nil(t, f.events.created[0].MessageID)
	assert.Empty(t, f.messages.statusUpdates)
}

func TestPolicyViolationTriggersSMSFallback(t *testing.T) {
	f := newFixture()
	f.seedOutbound("SM123")

	f.processor.Process(context.Background(), StatusCallback{
		MessageSID: "SM123",
		Status:     "failed",
		To:         "whatsapp:+15551234567",
		From:       "whatsapp:+15550000001",
		ErrorCode:  "63049",
	})

	require.Len(t, f.sender.sent, 1)
	sent := f.sender.sent[0]
	assert.Equal(t, models.ChannelSMS, sent.Channel)
	assert.Equal(t, "+15551234567", sent.To)
	assert.Equal(t, "+15550000001", sent.From)
	// Template markers are stripped from the fallback body.
	assert.Equal(t, "Hello", sent.Body)

	require.Len(t, f.messages.created, 1)
	fallback := f.messages.created[0]
	assert.Equal(t, models.SenderSystem, fallback.SenderRole)
	assert.Equal(t, models.DirectionOutbound, fallback.Direction)
	assert.Equal(t, uint(7), fallback.ConversationID)

	// The fallback message is linked back to the status event.
	assert.Equal(t, fallback.ID, f.events.linked[f.events.created[0].ID])
}

func TestFallbackConditions(t *testing.T) {
	cases := []struct {
		name      string
		to        string
		status    string
		errorCode string
		seed      bool
		wantSent  bool
	}{
		{"whatsapp failed 63049", "whatsapp:+15551234567", "failed", "63049", true, true},
		{"whatsapp undelivered 63049", "whatsapp:+15551234567", "undelivered", "63049", true, true},
		{"sms channel never falls back", "+15551234567", "failed", "63049", true, false},
		{"other error code", "whatsapp:+15551234567", "failed", "30008", true, false},
		{"non-terminal status", "whatsapp:+15551234567", "sent", "63049", true, false},
		{"no original message", "whatsapp:+15551234567", "failed", "63049", false, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			if tc.seed {
				f.seedOutbound("SM123")
			}

			f.processor.Process(context.Background(), StatusCallback{
				MessageSID: "SM123",
				Status:     tc.status,
				To:         tc.to,
				ErrorCode:  tc.errorCode,
			})

			if tc.wantSent {
				assert.Len(t, f.sender.sent, 1)
			} else {
				assert.Empty(t, f.sender.sent)
			}
		})
	}
}

func TestFallbackAtMostOncePerSID(t *testing.T) {
	f := newFixture()
	f.seedOutbound("SM123")
	f.events.fallbackSIDs["SM123"] = true

	f.processor.Process(context.Background(), StatusCallback{
		MessageSID: "SM123",
		Status:     "failed",
		To:         "whatsapp:+15551234567",
		ErrorCode:  "63049",
	})

	assert.Empty(t, f.sender.sent)
}

func TestFallbackBodyForPureTemplate(t *testing.T) {
	f := newFixture()
	message := f.seedOutbound("SM123")
	message.Body = "{{1}}{{2}}"

	f.processor.Process(context.Background(), StatusCallback{
		MessageSID: "SM123",
		Status:     "failed",
		To:         "whatsapp:+15551234567",
		ErrorCode:  "63049",
	})

	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, fallbackNotice, f.sender.sent[0].Body)
}

func TestFallbackSendFailureIsSwallowed(t *testing.T) {
	f := newFixture()
	f.seedOutbound("SM123")
	f.sender.err = fmt.Errorf("carrier down")

	// Must not panic or persist a phantom fallback message.
	f.processor.Process(context.Background(), StatusCallback{
		MessageSID: "SM123",
		Status:     "failed",
		To:         "whatsapp:+15551234567",
		ErrorCode:  "63049",
	})

	assert.Empty(t, f.messages.created)
}

func TestStripTemplateMarkers(t *testing.T) {
	assert.Equal(t, "Hello  world", StripTemplateMarkers("Hello {{name}} world"))
	assert.Equal(t, "Hello", StripTemplateMarkers("{{1}} Hello {{2}}"))
	assert.Equal(t, "", StripTemplateMarkers("{{only_template}}"))
	assert.Equal(t, "plain text", StripTemplateMarkers("plain text"))
}
