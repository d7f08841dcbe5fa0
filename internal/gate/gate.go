package gate

import (
	"context"
	"fmt"
	"time"

	"crewtext/backend/internal/models"
	"crewtext/backend/internal/repository"
	"crewtext/backend/pkg/errors"
	"crewtext/backend/pkg/logger"
	"crewtext/backend/pkg/metrics"
)

// Gate resolves tenant sending credentials and enforces the per-tenant
// minute send quota.
type Gate struct {
	counter     RateCounter
	credentials repository.CredentialRepository
	ceiling     int
	logger      *logger.Logger
	now         func() time.Time
}

func New(counter RateCounter, credentials repository.CredentialRepository, ceiling int, log *logger.Logger) *Gate {
	if ceiling <= 0 {
		ceiling = 60
	}
	return &Gate{
		counter:     counter,
		credentials: credentials,
		ceiling:     ceiling,
		logger:      log,
		now:         time.Now,
	}
}

// Admit increments the tenant's current-minute counter and admits the send
// if the post-increment value is within the ceiling. The increment is never
// rolled back on rejection; the counter stays a true count of attempts and
// the rejection is terminal for this window.
func (g *Gate) Admit(ctx context.Context, companyID string) error {
	bucket := g.now().UTC().Format("200601021504")
	key := fmt.Sprintf("ratelimit:%s:%s", companyID, bucket)

	count, err := g.counter.Incr(ctx, key)
	if err != nil {
		return errors.NewInfrastructureError(fmt.Sprintf("rate counter increment failed: %v", err))
	}

	// First hit in the window owns the TTL. A failed expire only delays
	// key cleanup; admission already happened on the INCR.
	if count == 1 {
		if err := g.counter.Expire(ctx, key, 2*time.Minute); err != nil {
			g.logger.Warn("Failed to set rate window TTL", "key", key, "error", err.Error())
		}
	}

	if count > int64(g.ceiling) {
		metrics.RateLimitRejections.Inc()
		g.logger.Warn("Send rate limit exceeded",
			"company_id", companyID,
			"count", count,
			"ceiling", g.ceiling,
		)
		return errors.NewRateLimitError(
			fmt.Sprintf("Rate limit of %d messages per minute exceeded", g.ceiling))
	}

	return nil
}

// ResolveCredentials returns the tenant's provider binding. Multiple rows
// are tolerated by picking the most recently created one; that is a data
// integrity smell, so it is logged for cleanup rather than hardened into
// an error.
func (g *Gate) ResolveCredentials(ctx context.Context, companyID string) (*models.CredentialBinding, error) {
	bindings, err := g.credentials.FindByCompany(ctx, companyID)
	if err != nil {
		return nil, errors.NewInfrastructureError(fmt.Sprintf("credential lookup failed: %v", err))
	}

	if len(bindings) == 0 {
		return nil, errors.NewConfigurationError("No messaging credentials configured for company")
	}

	if len(bindings) > 1 {
		g.logger.Warn("Multiple credential bindings for company, using most recent",
			"company_id", companyID,
			"count", len(bindings),
		)
	}

	return &bindings[0], nil
}
