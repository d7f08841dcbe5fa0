package api

import (
	"net/http"

	"crewtext/backend/internal/intake"
	"crewtext/backend/pkg/errors"
	"crewtext/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// SendController handles the message-send intake endpoint
type SendController struct {
	service *intake.Service
}

// NewSendController creates a new send controller
func NewSendController(service *intake.Service) *SendController {
	return &SendController{service: service}
}

// RegisterRoutes registers the routes for the send controller
func (c *SendController) RegisterRoutes(router *gin.Engine, auth gin.HandlerFunc) {
	group := router.Group("/api/messages")
	group.Use(auth)
	{
		group.POST("/send", c.SendMessage)
	}
}

// SendMessage validates and queues an outbound message
func (c *SendController) SendMessage(ctx *gin.Context) {
	var req intake.SendRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.Error(errors.NewValidationError("Invalid request format"))
		ctx.Abort()
		return
	}

	companyID := middleware.CompanyID(ctx)

	queued, err := c.service.Route(ctx.Request.Context(), companyID, req)
	if err != nil {
		ctx.Error(err)
		ctx.Abort()
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"success":   true,
		"messageId": queued.MessageID,
		"status":    queued.Status,
		"to":        queued.To,
		"from":      queued.From,
	})
}
