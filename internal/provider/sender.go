package provider

import (
	"context"

	"crewtext/backend/internal/models"
)

// SendParams carries everything the carrier needs for one outbound message.
type SendParams struct {
	Channel       models.Channel
	To            string
	From          string
	Body          string
	SubaccountSID string
}

// Sender delivers a single message over the carrier and returns the
// provider's message SID. Implementations must be safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, params SendParams) (string, error)
}
