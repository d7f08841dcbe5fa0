package reminder

import (
	"context"
	"fmt"
	"time"

	"crewtext/backend/internal/gate"
	"crewtext/backend/internal/models"
	"crewtext/backend/internal/phone"
	"crewtext/backend/internal/provider"
	"crewtext/backend/internal/repository"
	"crewtext/backend/pkg/errors"
	"crewtext/backend/pkg/logger"
	"crewtext/backend/pkg/metrics"
)

// Result records the outcome of one reminder send attempt.
type Result struct {
	Success      bool   `json:"success"`
	AssignmentID uint   `json:"assignment_id"`
	JobID        string `json:"job_id"`
	AssociateID  uint   `json:"associate_id"`
	Phone        string `json:"phone"`
	Tier         Tier   `json:"tier"`
	MessageSID   string `json:"message_sid,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Scheduler selects eligible shift assignments, personalizes reminders,
// sends them through the carrier, and consumes the per-assignment reminder
// budget. Sends within one run are deliberately sequential with a fixed
// gap to stay inside the carrier's throughput ceiling.
type Scheduler struct {
	assignments repository.AssignmentRepository
	gate        *gate.Gate
	sender      provider.Sender
	logger      *logger.Logger
	sendDelay   time.Duration
	now         func() time.Time
	sleep       func(time.Duration)
}

func NewScheduler(
	assignments repository.AssignmentRepository,
	g *gate.Gate,
	sender provider.Sender,
	sendDelay time.Duration,
	log *logger.Logger,
) *Scheduler {
	if sendDelay <= 0 {
		sendDelay = 200 * time.Millisecond
	}
	return &Scheduler{
		assignments: assignments,
		gate:        g,
		sender:      sender,
		logger:      log,
		sendDelay:   sendDelay,
		now:         time.Now,
		sleep:       time.Sleep,
	}
}

// ProcessScheduledReminders runs every scheduled tier and aggregates the
// per-assignment results. A query failure in one tier is logged and does
// not abort the others.
func (s *Scheduler) ProcessScheduledReminders(ctx context.Context) []Result {
	results := make([]Result, 0)

	for _, tier := range ScheduledTiers {
		tierResults, err := s.processTier(ctx, tier)
		if err != nil {
			s.logger.Error("Reminder tier query failed",
				"tier", string(tier),
				"error", err.Error(),
			)
			continue
		}
		results = append(results, tierResults...)
	}

	return results
}

// ProcessTrigger handles an explicit tier trigger for one job.
func (s *Scheduler) ProcessTrigger(ctx context.Context, jobID string, tier Tier) ([]Result, error) {
	assignments, err := s.assignments.FindByJobID(ctx, jobID)
	if err != nil {
		return nil, errors.NewInfrastructureError(fmt.Sprintf("assignment query failed: %v", err))
	}

	results := make([]Result, 0, len(assignments))
	for i := range assignments {
		a := &assignments[i]
		if !s.eligible(a) {
			continue
		}
		results = append(results, s.SendReminderToAssociate(ctx, a, tier))
		s.sleep(s.sendDelay)
	}
	return results, nil
}

func (s *Scheduler) processTier(ctx context.Context, tier Tier) ([]Result, error) {
	workDate := tier.WorkDateFor(s.now())
	assignments, err := s.assignments.FindByWorkDate(ctx, workDate)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(assignments))
	for i := range assignments {
		a := &assignments[i]
		if !s.eligible(a) {
			continue
		}
		results = append(results, s.SendReminderToAssociate(ctx, a, tier))
		s.sleep(s.sendDelay)
	}
	return results, nil
}

// eligible applies the per-assignment filter: not already answered, budget
// remaining, and cool-down elapsed since last contact.
func (s *Scheduler) eligible(a *models.ReminderAssignment) bool {
	if a.ConfirmationStatus == models.ConfirmationConfirmed || a.ConfirmationStatus == models.ConfirmationDeclined {
		return false
	}
	if a.NumReminders <= 0 {
		return false
	}
	if a.LastReminderTime != nil {
		coolDown := CoolDownFor(a, s.now())
		if s.now().Sub(*a.LastReminderTime) < coolDown {
			return false
		}
	}
	return true
}

// SendReminderToAssociate sends one personalized reminder and, on success,
// consumes the assignment's reminder budget. The budget update failing
// after a successful send is logged but does not flip the result; the
// message is already on its way.
func (s *Scheduler) SendReminderToAssociate(ctx context.Context, a *models.ReminderAssignment, tier Tier) Result {
	result := Result{
		AssignmentID: a.ID,
		JobID:        a.JobID,
		AssociateID:  a.AssociateID,
		Tier:         tier,
	}

	dialable, err := phone.Normalize(a.Phone)
	if err != nil {
		result.Error = fmt.Sprintf("invalid phone %q", a.Phone)
		metrics.RemindersSent.WithLabelValues(string(tier), "failure").Inc()
		s.logger.Warn("Skipping reminder for malformed phone",
			"assignment_id", a.ID,
			"phone", a.Phone,
		)
		return result
	}
	result.Phone = dialable

	binding, err := s.gate.ResolveCredentials(ctx, a.CompanyID)
	if err != nil {
		result.Error = err.Error()
		metrics.RemindersSent.WithLabelValues(string(tier), "failure").Inc()
		return result
	}

	body := ComposeMessage(a, tier)

	sid, err := s.sender.Send(ctx, provider.SendParams{
		Channel:       models.ChannelSMS,
		To:            dialable,
		From:          binding.MessagingNumber,
		Body:          body,
		SubaccountSID: binding.SubaccountSID,
	})
	if err != nil {
		result.Error = err.Error()
		metrics.RemindersSent.WithLabelValues(string(tier), "failure").Inc()
		s.logger.Error("Reminder send failed",
			"assignment_id", a.ID,
			"tier", string(tier),
			"error", err.Error(),
		)
		return result
	}

	result.Success = true
	result.MessageSID = sid
	metrics.RemindersSent.WithLabelValues(string(tier), "success").Inc()

	if err := s.assignments.ConsumeReminderBudget(ctx, a.ID, s.now()); err != nil {
		s.logger.Error("Failed to update reminder budget after send",
			"assignment_id", a.ID,
			"error", err.Error(),
		)
	}

	return result
}

// SendTestReminder bypasses the eligibility filter for a single
// (job, associate) pairing. Used by operators to verify templates and
// credentials end to end.
func (s *Scheduler) SendTestReminder(ctx context.Context, jobID string, associateID uint) (Result, error) {
	assignment, err := s.assignments.FindByJobAndAssociate(ctx, jobID, associateID)
	if err != nil {
		return Result{}, errors.NewInfrastructureError(fmt.Sprintf("assignment lookup failed: %v", err))
	}
	if assignment == nil {
		return Result{}, errors.NewNotFoundError("Assignment not found for job and associate")
	}

	return s.SendReminderToAssociate(ctx, assignment, TierDayBefore), nil
}
