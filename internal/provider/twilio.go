package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"crewtext/backend/internal/models"
	"crewtext/backend/pkg/logger"
	"crewtext/backend/pkg/resilience"
)

// whatsAppPrefix is the address marker Twilio uses to route a message over
// WhatsApp instead of SMS.
const whatsAppPrefix = "whatsapp:"

// TwilioClient sends messages through Twilio's Messages REST endpoint.
type TwilioClient struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	logger     *logger.Logger
}

// TwilioConfig holds the client configuration
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	BaseURL    string
	Timeout    time.Duration
}

// NewTwilioClient creates a Twilio sender. Calls are wrapped in a circuit
// breaker so a carrier outage fails fast instead of piling up timeouts.
func NewTwilioClient(cfg TwilioConfig, log *logger.Logger) *TwilioClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.twilio.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}

	return &TwilioClient{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("twilio"), log),
		logger:     log,
	}
}

var _ Sender = (*TwilioClient)(nil)

type twilioMessageResponse struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	ErrorCode    *int   `json:"error_code"`
	ErrorMessage string `json:"message"`
}

// Send posts one message to the Messages endpoint. A subaccount SID on the
// params scopes the request to that subaccount.
func (t *TwilioClient) Send(ctx context.Context, params SendParams) (string, error) {
	accountSID := t.accountSID
	if params.SubaccountSID != "" {
		accountSID = params.SubaccountSID
	}

	form := url.Values{}
	form.Set("To", addressFor(params.Channel, params.To))
	form.Set("From", addressFor(params.Channel, params.From))
	form.Set("Body", params.Body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", t.baseURL, accountSID)

	var sid string
	err := t.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.SetBasicAuth(accountSID, t.authToken)

		resp, err := t.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}

		var parsed twilioMessageResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return fmt.Errorf("unexpected provider response (%d): %w", resp.StatusCode, err)
		}

		if resp.StatusCode >= 400 {
			return fmt.Errorf("provider rejected send (%d): %s", resp.StatusCode, parsed.ErrorMessage)
		}

		sid = parsed.SID
		return nil
	})
	if err != nil {
		return "", err
	}

	t.logger.Debug("Provider send accepted",
		"sid", sid,
		"channel", string(params.Channel),
	)
	return sid, nil
}

// addressFor prefixes the endpoint for WhatsApp routing, leaving already
// prefixed values untouched.
func addressFor(channel models.Channel, number string) string {
	if channel != models.ChannelWhatsApp {
		return strings.TrimPrefix(number, whatsAppPrefix)
	}
	if strings.HasPrefix(number, whatsAppPrefix) {
		return number
	}
	return whatsAppPrefix + number
}
