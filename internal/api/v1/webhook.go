package v1

import (
	"io"
	"net/http"

	ierr "github.com/dineloop/dineloop/internal/errors"
	"github.com/dineloop/dineloop/internal/logger"
	"github.com/dineloop/dineloop/internal/service"
	"github.com/gin-gonic/gin"
)

const headerStripeSignature = "Stripe-Signature"

type WebhookHandler struct {
	service service.WebhookService
	log     *logger.Logger
}

func NewWebhookHandler(service service.WebhookService, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{service: service, log: log}
}

// @Summary Stripe webhook
// @Description Receive and process a signed Stripe event
// @Tags Webhooks
// @Accept json
// @Produce json
// @Success 200 {object} dto.WebhookResult
// @Failure 400 {object} middleware.ErrorResponse
// @Router /webhooks/stripe [post]
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	// Signature verification needs the raw bytes, before any JSON binding.
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Unable to read webhook payload").
			Mark(ierr.ErrValidation))
		return
	}

	result, err := h.service.HandleEvent(c.Request.Context(), payload, c.GetHeader(headerStripeSignature))
	if err != nil {
		h.log.Errorw("webhook processing failed", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, result)
}
