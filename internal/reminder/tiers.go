package reminder

import (
	"fmt"
	"strings"
	"time"

	"crewtext/backend/internal/models"
)

// Tier is a named point in time relative to a shift at which a reminder
// may go out. One authoritative set; TWO_HOURS_BEFORE exists for legacy
// trigger callers and shares MORNING_OF semantics.
type Tier string

const (
	TierDayBefore      Tier = "DAY_BEFORE"
	TierTwoDaysBefore  Tier = "TWO_DAYS_BEFORE"
	TierMorningOf      Tier = "MORNING_OF"
	TierTwoHoursBefore Tier = "TWO_HOURS_BEFORE"
)

// ScheduledTiers are the tiers the batch scheduler processes on each run.
var ScheduledTiers = []Tier{TierDayBefore, TierMorningOf, TierTwoDaysBefore}

// ParseTier validates a trigger payload value.
func ParseTier(raw string) (Tier, error) {
	switch Tier(strings.ToUpper(strings.TrimSpace(raw))) {
	case TierDayBefore:
		return TierDayBefore, nil
	case TierTwoDaysBefore:
		return TierTwoDaysBefore, nil
	case TierMorningOf:
		return TierMorningOf, nil
	case TierTwoHoursBefore:
		return TierTwoHoursBefore, nil
	default:
		return "", fmt.Errorf("invalid reminder_type %q", raw)
	}
}

// WorkDateFor returns the calendar date of shifts this tier targets,
// relative to the given day.
func (t Tier) WorkDateFor(today time.Time) time.Time {
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, today.Location())
	switch t {
	case TierDayBefore:
		return day.AddDate(0, 0, 1)
	case TierTwoDaysBefore:
		return day.AddDate(0, 0, 2)
	default:
		return day
	}
}

// ComposeMessage personalizes the tier-specific reminder text.
func ComposeMessage(a *models.ReminderAssignment, tier Tier) string {
	firstName := a.FirstName
	if firstName == "" {
		firstName = "there"
	}
	workDate := a.WorkDate.Format("Monday, January 2")
	startTime := FormatTime12Hour(a.StartTime)

	switch tier {
	case TierTwoDaysBefore:
		return fmt.Sprintf(
			"Hi %s! A heads up that your %s shift with %s is coming up in two days, on %s at %s. Reply YES to confirm or NO if you can't make it.",
			firstName, a.JobTitle, a.CustomerName, workDate, startTime,
		)
	case TierMorningOf, TierTwoHoursBefore:
		return fmt.Sprintf(
			"Good morning %s! Your %s shift with %s starts today at %s. Reply YES to confirm you're on your way or NO if something came up.",
			firstName, a.JobTitle, a.CustomerName, startTime,
		)
	default:
		return fmt.Sprintf(
			"Hi %s! Reminder: you're scheduled for a %s shift with %s tomorrow, %s at %s. Reply YES to confirm or NO if you can't make it.",
			firstName, a.JobTitle, a.CustomerName, workDate, startTime,
		)
	}
}

// FormatTime12Hour converts a 24-hour clock value like "14:00" to "2:00 PM".
// Unparseable input comes back unchanged rather than failing the send.
func FormatTime12Hour(raw string) string {
	trimmed := strings.TrimSpace(raw)
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t.Format("3:04 PM")
		}
	}
	return raw
}

// CoolDownFor returns the minimum gap since last contact before another
// reminder may go out: 4 hours when the shift is today, 24 hours otherwise.
func CoolDownFor(a *models.ReminderAssignment, now time.Time) time.Duration {
	if sameDay(a.WorkDate, now) {
		return 4 * time.Hour
	}
	return 24 * time.Hour
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
