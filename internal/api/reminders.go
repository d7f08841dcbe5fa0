package api

import (
	"net/http"

	"crewtext/backend/internal/reminder"
	"crewtext/backend/pkg/errors"

	"github.com/gin-gonic/gin"
)

// ReminderController exposes the reminder trigger endpoints
type ReminderController struct {
	scheduler *reminder.Scheduler
}

// NewReminderController creates a new reminder controller
func NewReminderController(scheduler *reminder.Scheduler) *ReminderController {
	return &ReminderController{scheduler: scheduler}
}

// RegisterRoutes registers the routes for the reminder controller
func (c *ReminderController) RegisterRoutes(router *gin.Engine, auth gin.HandlerFunc) {
	group := router.Group("/api/reminders")
	group.Use(auth)
	{
		group.POST("/trigger", c.Trigger)
		group.POST("/test", c.SendTest)
		group.POST("/process", c.ProcessBatch)
	}
}

// TriggerRequest is the explicit tier trigger payload
type TriggerRequest struct {
	JobID        string `json:"job_id"`
	WorkDate     string `json:"work_date"`
	StartTime    string `json:"start_time"`
	ReminderType string `json:"reminder_type"`
}

// Trigger runs one reminder tier for a single job
func (c *ReminderController) Trigger(ctx *gin.Context) {
	var req TriggerRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.Error(errors.NewValidationError("Invalid request format"))
		ctx.Abort()
		return
	}

	if req.JobID == "" {
		ctx.Error(errors.NewValidationError("'job_id' is required"))
		ctx.Abort()
		return
	}

	tier, err := reminder.ParseTier(req.ReminderType)
	if err != nil {
		ctx.Error(errors.NewValidationError(err.Error()))
		ctx.Abort()
		return
	}

	results, err := c.scheduler.ProcessTrigger(ctx.Request.Context(), req.JobID, tier)
	if err != nil {
		ctx.Error(err)
		ctx.Abort()
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"success": true,
		"results": results,
	})
}

// TestRequest identifies a single assignment for a test send
type TestRequest struct {
	JobID       string `json:"job_id"`
	AssociateID uint   `json:"associate_id"`
}

// SendTest sends one reminder bypassing the eligibility filters
func (c *ReminderController) SendTest(ctx *gin.Context) {
	var req TestRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.Error(errors.NewValidationError("Invalid request format"))
		ctx.Abort()
		return
	}

	if req.JobID == "" || req.AssociateID == 0 {
		ctx.Error(errors.NewValidationError("'job_id' and 'associate_id' are required"))
		ctx.Abort()
		return
	}

	result, err := c.scheduler.SendTestReminder(ctx.Request.Context(), req.JobID, req.AssociateID)
	if err != nil {
		ctx.Error(err)
		ctx.Abort()
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"success": result.Success,
		"result":  result,
	})
}

// ProcessBatch runs the full scheduled batch on demand
func (c *ReminderController) ProcessBatch(ctx *gin.Context) {
	results := c.scheduler.ProcessScheduledReminders(ctx.Request.Context())

	sent := 0
	for _, r := range results {
		if r.Success {
			sent++
		}
	}

	ctx.JSON(http.StatusOK, gin.H{
		"success":   true,
		"processed": len(results),
		"sent":      sent,
		"results":   results,
	})
}
