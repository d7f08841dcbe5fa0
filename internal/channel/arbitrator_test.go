package channel

import (
	"context"
	"fmt"
	"testing"
	"time"

	"crewtext/backend/internal/models"
	"crewtext/backend/pkg/errors"
	"crewtext/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConversations struct {
	byIdentity map[string]*models.Conversation
}

func identityKey(associateID uint, companyID string, ch models.Channel) string {
	return fmt.Sprintf("%d|%s|%s", associateID, companyID, ch)
}

func (f *fakeConversations) FindByID(_ context.Context, id uint) (*models.Conversation, error) {
	for _, c := range f.byIdentity {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, nil
}

func (f *fakeConversations) FindByIdentity(_ context.Context, associateID uint, companyID string, ch models.Channel) (*models.Conversation, error) {
	return f.byIdentity[identityKey(associateID, companyID, ch)], nil
}

func (f *fakeConversations) FindLegacy(context.Context, uint, string) ([]models.Conversation, error) {
	return nil, nil
}

func (f *fakeConversations) Create(context.Context, *models.Conversation) error { return nil }

func (f *fakeConversations) AssignChannel(context.Context, uint, models.Channel) error { return nil }

type fakeMessages struct {
	inboundSince map[uint]time.Time
}

func (f *fakeMessages) Create(context.Context, *models.Message) error { return nil }

func (f *fakeMessages) FindByProviderSID(context.Context, string) (*models.Message, error) {
	return nil, nil
}

func (f *fakeMessages) UpdateStatus(context.Context, uint, models.MessageStatus, *time.Time) error {
	return nil
}

func (f *fakeMessages) HasInboundSince(_ context.Context, conversationID uint, since time.Time) (bool, error) {
	last, ok := f.inboundSince[conversationID]
	return ok && last.After(since), nil
}

type fakeAssociates struct {
	byNormalized map[string][]models.Associate
}

func (f *fakeAssociates) FindByNormalizedPhone(_ context.Context, phone string) ([]models.Associate, error) {
	return f.byNormalized[phone], nil
}

func (f *fakeAssociates) FindByRawPhone(_ context.Context, phone string) ([]models.Associate, error) {
	return f.byNormalized[phone], nil
}

func (f *fakeAssociates) FindByID(context.Context, uint) (*models.Associate, error) {
	return nil, nil
}

func TestResolveSendChannel(t *testing.T) {
	cases := []struct {
		name      string
		requested models.Channel
		recent    models.Channel
		templated bool
		want      models.Channel
		wantErr   bool
	}{
		{"sms always allowed", models.ChannelSMS, models.ChannelUnset, false, models.ChannelSMS, false},
		{"sms allowed with recent whatsapp", models.ChannelSMS, models.ChannelWhatsApp, false, models.ChannelSMS, false},
		{"unset requested falls to sms", models.ChannelUnset, models.ChannelUnset, false, models.ChannelSMS, false},
		{"whatsapp inside window", models.ChannelWhatsApp, models.ChannelWhatsApp, false, models.ChannelWhatsApp, false},
		{"whatsapp outside window rejected", models.ChannelWhatsApp, models.ChannelUnset, false, models.ChannelUnset, true},
		{"whatsapp with recent sms rejected", models.ChannelWhatsApp, models.ChannelSMS, false, models.ChannelUnset, true},
		{"templated bypasses window", models.ChannelWhatsApp, models.ChannelUnset, true, models.ChannelWhatsApp, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ResolveSendChannel(tc.requested, tc.recent, tc.templated)
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, errors.CodeOutsideSessionWindow))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRecentInboundChannel(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	conversation := &models.Conversation{ID: 7, Channel: models.ChannelWhatsApp}

	messages := &fakeMessages{inboundSince: map[uint]time.Time{
		7: now.Add(-2 * time.Hour),
	}}
	a := NewArbitrator(&fakeConversations{}, messages, &fakeAssociates{}, 24, logger.New(logger.Config{Level: "error"}))
	a.now = func() time.Time { return now }

	// Inbound two hours ago: inside the window.
	ch, err := a.RecentInboundChannel(context.Background(), conversation)
	require.NoError(t, err)
	assert.Equal(t, models.ChannelWhatsApp, ch)

	// Inbound 25 hours ago: window expired.
	messages.inboundSince[7] = now.Add(-25 * time.Hour)
	ch, err = a.RecentInboundChannel(context.Background(), conversation)
	require.NoError(t, err)
	assert.Equal(t, models.ChannelUnset, ch)

	// Nil conversation: nothing to look back on.
	ch, err = a.RecentInboundChannel(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, models.ChannelUnset, ch)
}

func TestResolveForSend(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	associate := models.Associate{ID: 3, CompanyID: "acme"}
	conversation := &models.Conversation{ID: 9, AssociateID: 3, CompanyID: "acme", Channel: models.ChannelWhatsApp}

	conversations := &fakeConversations{byIdentity: map[string]*models.Conversation{
		identityKey(3, "acme", models.ChannelWhatsApp): conversation,
	}}
	messages := &fakeMessages{inboundSince: map[uint]time.Time{
		9: now.Add(-time.Hour),
	}}
	associates := &fakeAssociates{byNormalized: map[string][]models.Associate{
		"+15551234567": {associate},
	}}

	a := NewArbitrator(conversations, messages, associates, 24, logger.New(logger.Config{Level: "error"}))
	a.now = func() time.Time { return now }

	// WhatsApp with a recent inbound on the thread: allowed.
	ch, err := a.ResolveForSend(context.Background(), "acme", "+15551234567", models.ChannelWhatsApp, false)
	require.NoError(t, err)
	assert.Equal(t, models.ChannelWhatsApp, ch)

	// Unknown recipient has no conversation, so no session window.
	_, err = a.ResolveForSend(context.Background(), "acme", "+15559999999", models.ChannelWhatsApp, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeOutsideSessionWindow))

	// SMS never consults the window at all.
	ch, err = a.ResolveForSend(context.Background(), "acme", "+15559999999", models.ChannelSMS, false)
	require.NoError(t, err)
	assert.Equal(t, models.ChannelSMS, ch)
}

func TestResolveForSendNormalizesRecipient(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	associate := models.Associate{ID: 3, CompanyID: "acme", PhoneNormalized: "+15551230000"}
	conversation := &models.Conversation{ID: 9, AssociateID: 3, CompanyID: "acme", Channel: models.ChannelWhatsApp}

	conversations := &fakeConversations{byIdentity: map[string]*models.Conversation{
		identityKey(3, "acme", models.ChannelWhatsApp): conversation,
	}}
	messages := &fakeMessages{inboundSince: map[uint]time.Time{
		9: now.Add(-time.Hour),
	}}
	// The associate is only findable under the canonical E.164 form.
	associates := &fakeAssociates{byNormalized: map[string][]models.Associate{
		"+15551230000": {associate},
	}}

	a := NewArbitrator(conversations, messages, associates, 24, logger.New(logger.Config{Level: "error"}))
	a.now = func() time.Time { return now }

	// Formatted and prefixed recipient values still find the thread.
	for _, to := range []string{"555-123-0000", "(555) 123-0000", "whatsapp:+15551230000", "15551230000"} {
		ch, err := a.ResolveForSend(context.Background(), "acme", to, models.ChannelWhatsApp, false)
		require.NoError(t, err, to)
		assert.Equal(t, models.ChannelWhatsApp, ch, to)
	}
}
