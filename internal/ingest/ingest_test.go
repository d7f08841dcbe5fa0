package ingest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"crewtext/backend/internal/models"
	"crewtext/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAssociates struct {
	byNormalized map[string][]models.Associate
	byRaw        map[string][]models.Associate
}

func (f *fakeAssociates) FindByNormalizedPhone(_ context.Context, phone string) ([]models.Associate, error) {
	return f.byNormalized[phone], nil
}

func (f *fakeAssociates) FindByRawPhone(_ context.Context, phone string) ([]models.Associate, error) {
	return f.byRaw[phone], nil
}

func (f *fakeAssociates) FindByID(context.Context, uint) (*models.Associate, error) {
	return nil, nil
}

type fakeConversations struct {
	byIdentity map[string]*models.Conversation
	legacy     []models.Conversation
	created    []*models.Conversation
	assigned   map[uint]models.Channel
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{
		byIdentity: make(map[string]*models.Conversation),
		assigned:   make(map[uint]models.Channel),
	}
}

func identityKey(associateID uint, companyID string, ch models.Channel) string {
	return fmt.Sprintf("%d|%s|%s", associateID, companyID, ch)
}

func (f *fakeConversations) FindByID(context.Context, uint) (*models.Conversation, error) {
	return nil, nil
}

func (f *fakeConversations) FindByIdentity(_ context.Context, associateID uint, companyID string, ch models.Channel) (*models.Conversation, error) {
	return f.byIdentity[identityKey(associateID, companyID, ch)], nil
}

func (f *fakeConversations) FindLegacy(context.Context, uint, string) ([]models.Conversation, error) {
	return f.legacy, nil
}

func (f *fakeConversations) Create(_ context.Context, conversation *models.Conversation) error {
	conversation.ID = uint(50 + len(f.created))
	f.created = append(f.created, conversation)
	return nil
}

func (f *fakeConversations) AssignChannel(_ context.Context, id uint, ch models.Channel) error {
	f.assigned[id] = ch
	return nil
}

type fakeMessages struct {
	created []*models.Message
}

func (f *fakeMessages) Create(_ context.Context, message *models.Message) error {
	f.created = append(f.created, message)
	return nil
}

func (f *fakeMessages) FindByProviderSID(context.Context, string) (*models.Message, error) {
	return nil, nil
}

func (f *fakeMessages) UpdateStatus(context.Context, uint, models.MessageStatus, *time.Time) error {
	return nil
}

func (f *fakeMessages) HasInboundSince(context.Context, uint, time.Time) (bool, error) {
	return false, nil
}

type recordingParser struct {
	calls []string
	err   error
}

func (p *recordingParser) ParseInbound(_ context.Context, _ uint, _ string, body string) error {
	p.calls = append(p.calls, body)
	return p.err
}

func newTestService(associates *fakeAssociates, conversations *fakeConversations, messages *fakeMessages, parser ConfirmationParser) *Service {
	return NewService(associates, conversations, messages, parser, logger.New(logger.Config{Level: "error"}))
}

func boundAssociate() *fakeAssociates {
	return &fakeAssociates{
		byNormalized: map[string][]models.Associate{
			"+15551234567": {{ID: 3, CompanyID: "acme", Phone: "5551234567"}},
		},
		byRaw: make(map[string][]models.Associate),
	}
}

func TestClassifyChannel(t *testing.T) {
	assert.Equal(t, models.ChannelWhatsApp, ClassifyChannel("whatsapp:+15551234567", "+15550000001"))
	assert.Equal(t, models.ChannelWhatsApp, ClassifyChannel("+15551234567", "whatsapp:+15550000001"))
	assert.Equal(t, models.ChannelSMS, ClassifyChannel("+15551234567", "+15550000001"))
}

func TestProcessInboundPersistsOnExistingConversation(t *testing.T) {
	conversations := newFakeConversations()
	conversations.byIdentity[identityKey(3, "acme", models.ChannelSMS)] = &models.Conversation{
		ID: 9, AssociateID: 3, CompanyID: "acme", Channel: models.ChannelSMS,
	}
	messages := &fakeMessages{}
	s := newTestService(boundAssociate(), conversations, messages, nil)

	err := s.ProcessInbound(context.Background(), "+15551234567", "+15550000001", "  YES  ")
	require.NoError(t, err)

	require.Len(t, messages.created, 1)
	m := messages.created[0]
	assert.Equal(t, uint(9), m.ConversationID)
	assert.Equal(t, models.DirectionInbound, m.Direction)
	assert.Equal(t, models.SenderAssociate, m.SenderRole)
	assert.Equal(t, "YES", m.Body)
	assert.Equal(t, models.StatusDelivered, m.Status)
	assert.Empty(t, conversations.created)
}

func TestProcessInboundPromotesSingleLegacyConversation(t *testing.T) {
	conversations := newFakeConversations()
	conversations.legacy = []models.Conversation{
		{ID: 4, AssociateID: 3, CompanyID: "acme", Channel: models.ChannelUnset},
	}
	messages := &fakeMessages{}
	s := newTestService(boundAssociate(), conversations, messages, nil)

	err := s.ProcessInbound(context.Background(), "whatsapp:+15551234567", "whatsapp:+15550000001", "hi")
	require.NoError(t, err)

	assert.Equal(t, models.ChannelWhatsApp, conversations.assigned[4])
	assert.Empty(t, conversations.created)
	require.Len(t, messages.created, 1)
	assert.Equal(t, uint(4), messages.created[0].ConversationID)
}

func TestProcessInboundAmbiguousLegacyCreatesNew(t *testing.T) {
	conversations := newFakeConversations()
	conversations.legacy = []models.Conversation{
		{ID: 4, AssociateID: 3, CompanyID: "acme"},
		{ID: 5, AssociateID: 3, CompanyID: "acme"},
	}
	messages := &fakeMessages{}
	s := newTestService(boundAssociate(), conversations, messages, nil)

	err := s.ProcessInbound(context.Background(), "+15551234567", "+15550000001", "hi")
	require.NoError(t, err)

	// Neither legacy row is promoted when the choice is ambiguous.
	assert.Empty(t, conversations.assigned)
	require.Len(t, conversations.created, 1)
	assert.Equal(t, models.ChannelSMS, conversations.created[0].Channel)
}

func TestProcessInboundNoLegacyCreatesNew(t *testing.T) {
	conversations := newFakeConversations()
	messages := &fakeMessages{}
	s := newTestService(boundAssociate(), conversations, messages, nil)

	err := s.ProcessInbound(context.Background(), "+15551234567", "+15550000001", "hi")
	require.NoError(t, err)

	require.Len(t, conversations.created, 1)
	created := conversations.created[0]
	assert.Equal(t, uint(3), created.AssociateID)
	assert.Equal(t, "acme", created.CompanyID)
	assert.Equal(t, models.ChannelSMS, created.Channel)
}

func TestProcessInboundUnknownSender(t *testing.T) {
	conversations := newFakeConversations()
	messages := &fakeMessages{}
	associates := &fakeAssociates{
		byNormalized: make(map[string][]models.Associate),
		byRaw:        make(map[string][]models.Associate),
	}
	s := newTestService(associates, conversations, messages, nil)

	err := s.ProcessInbound(context.Background(), "+15559999999", "+15550000001", "hi")
	assert.Error(t, err)
	assert.Empty(t, messages.created)
}

func TestProcessInboundPrefersTenantBoundAssociate(t *testing.T) {
	conversations := newFakeConversations()
	messages := &fakeMessages{}
	associates := &fakeAssociates{
		byNormalized: map[string][]models.Associate{
			"+15551234567": {
				{ID: 1, CompanyID: ""},
				{ID: 2, CompanyID: "acme"},
			},
		},
		byRaw: make(map[string][]models.Associate),
	}
	s := newTestService(associates, conversations, messages, nil)

	err := s.ProcessInbound(context.Background(), "+15551234567", "+15550000001", "hi")
	require.NoError(t, err)

	require.Len(t, conversations.created, 1)
	assert.Equal(t, uint(2), conversations.created[0].AssociateID)
}

func TestParserRunsBeforePersistenceAndFailureIsNonFatal(t *testing.T) {
	conversations := newFakeConversations()
	messages := &fakeMessages{}
	parser := &recordingParser{err: fmt.Errorf("parser broke")}
	s := newTestService(boundAssociate(), conversations, messages, parser)

	err := s.ProcessInbound(context.Background(), "+15551234567", "+15550000001", "YES")
	require.NoError(t, err)

	assert.Equal(t, []string{"YES"}, parser.calls)
	assert.Len(t, messages.created, 1)
}

func TestPromoteIfUnambiguous(t *testing.T) {
	assert.Nil(t, PromoteIfUnambiguous(nil))
	assert.Nil(t, PromoteIfUnambiguous([]models.Conversation{{ID: 1}, {ID: 2}}))

	promoted := PromoteIfUnambiguous([]models.Conversation{{ID: 1}})
	require.NotNil(t, promoted)
	assert.Equal(t, uint(1), promoted.ID)
}
