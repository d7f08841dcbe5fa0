package api

import (
	"context"
	"net/http"
	"time"

	"crewtext/backend/internal/delivery"
	"crewtext/backend/internal/ingest"
	"crewtext/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// emptyTwiML is the acknowledgment body for inbound message callbacks.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// WebhookController handles provider callbacks. Both endpoints always
// acknowledge with a fixed success response before (and regardless of)
// processing; giving the provider an error status only invites a retry
// storm against handlers that are already idempotent.
type WebhookController struct {
	processor *delivery.Processor
	ingestion *ingest.Service
	logger    *logger.Logger
}

// NewWebhookController creates a new webhook controller
func NewWebhookController(processor *delivery.Processor, ingestion *ingest.Service, log *logger.Logger) *WebhookController {
	return &WebhookController{
		processor: processor,
		ingestion: ingestion,
		logger:    log,
	}
}

// RegisterRoutes registers the webhook routes. No auth middleware: the
// provider signs requests at the transport layer, and these endpoints
// never return anything but their fixed acknowledgment.
func (c *WebhookController) RegisterRoutes(router *gin.Engine) {
	group := router.Group("/webhooks")
	{
		group.POST("/status", c.StatusCallback)
		group.POST("/inbound", c.InboundMessage)
	}
}

// StatusCallback ingests a delivery-status update
func (c *WebhookController) StatusCallback(ctx *gin.Context) {
	cb := delivery.StatusCallback{
		MessageSID:   ctx.PostForm("MessageSid"),
		Status:       ctx.PostForm("MessageStatus"),
		To:           ctx.PostForm("To"),
		From:         ctx.PostForm("From"),
		ErrorCode:    ctx.PostForm("ErrorCode"),
		ErrorMessage: ctx.PostForm("ErrorMessage"),
	}

	// Ack first; everything after is detached from the response path.
	ctx.String(http.StatusOK, "ok")

	go func() {
		bg, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		c.processor.Process(bg, cb)
	}()
}

// InboundMessage ingests an inbound SMS/WhatsApp message
func (c *WebhookController) InboundMessage(ctx *gin.Context) {
	from := ctx.PostForm("From")
	to := ctx.PostForm("To")
	body := ctx.PostForm("Body")

	ctx.Data(http.StatusOK, "text/xml", []byte(emptyTwiML))

	go func() {
		bg, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.ingestion.ProcessInbound(bg, from, to, body); err != nil {
			c.logger.Error("Inbound ingestion failed",
				"from", from,
				"error", err.Error(),
			)
		}
	}()
}
