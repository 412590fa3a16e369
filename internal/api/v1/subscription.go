package v1

import (
	"net/http"

	"github.com/dineloop/dineloop/internal/api/dto"
	ierr "github.com/dineloop/dineloop/internal/errors"
	"github.com/dineloop/dineloop/internal/logger"
	"github.com/dineloop/dineloop/internal/service"
	"github.com/gin-gonic/gin"
)

type SubscriptionHandler struct {
	service  service.SubscriptionService
	invoices service.InvoiceSyncService
	log      *logger.Logger
}

func NewSubscriptionHandler(
	service service.SubscriptionService,
	invoices service.InvoiceSyncService,
	log *logger.Logger,
) *SubscriptionHandler {
	return &SubscriptionHandler{service: service, invoices: invoices, log: log}
}

// @Summary Create or change subscription
// @Description Start a checkout or switch the caller's plan
// @Tags Subscriptions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param subscription body dto.CreateSubscriptionRequest true "Subscription Request"
// @Success 200 {object} dto.SubscriptionResponse
// @Failure 400 {object} middleware.ErrorResponse
// @Failure 402 {object} middleware.ErrorResponse
// @Failure 409 {object} middleware.ErrorResponse
// @Router /subscriptions [post]
func (h *SubscriptionHandler) CreateOrChangeSubscription(c *gin.Context) {
	var req dto.CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Errorw("failed to bind request", "error", err)
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.CreateOrChangeSubscription(c.Request.Context(), &req)
	if err != nil {
		h.log.Errorw("failed to create or change subscription", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Get current subscription
// @Description Get the caller's subscription row
// @Tags Subscriptions
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.SubscriptionResponse
// @Failure 404 {object} middleware.ErrorResponse
// @Router /subscriptions/current [get]
func (h *SubscriptionHandler) GetCurrentSubscription(c *gin.Context) {
	resp, err := h.service.GetCurrentSubscription(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Cancel subscription
// @Description Schedule cancellation at the end of the paid-for period
// @Tags Subscriptions
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.CancelSubscriptionResponse
// @Failure 400 {object} middleware.ErrorResponse
// @Failure 404 {object} middleware.ErrorResponse
// @Router /subscriptions/cancel [post]
func (h *SubscriptionHandler) CancelSubscription(c *gin.Context) {
	resp, err := h.service.CancelSubscription(c.Request.Context())
	if err != nil {
		h.log.Errorw("failed to cancel subscription", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Reactivate subscription
// @Description Resume a canceled subscription whose paid-for period has not ended
// @Tags Subscriptions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body dto.ReactivateSubscriptionRequest true "Reactivate Request"
// @Success 200 {object} dto.ReactivateSubscriptionResponse
// @Failure 409 {object} middleware.ErrorResponse
// @Router /subscriptions/reactivate [post]
func (h *SubscriptionHandler) ReactivateSubscription(c *gin.Context) {
	var req dto.ReactivateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.ReactivateSubscription(c.Request.Context(), &req)
	if err != nil {
		h.log.Errorw("failed to reactivate subscription", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Preview plan change
// @Description Dry-run the cost of switching plans, nothing is committed
// @Tags Subscriptions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body dto.PreviewPlanChangeRequest true "Preview Request"
// @Success 200 {object} dto.PreviewPlanChangeResponse
// @Failure 400 {object} middleware.ErrorResponse
// @Router /subscriptions/preview [post]
func (h *SubscriptionHandler) PreviewPlanChange(c *gin.Context) {
	var req dto.PreviewPlanChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.PreviewPlanChange(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary List invoices
// @Description List the caller's stored invoices, newest first
// @Tags Subscriptions
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.ListInvoicesResponse
// @Router /subscriptions/invoices [get]
func (h *SubscriptionHandler) ListInvoices(c *gin.Context) {
	invoices, err := h.invoices.ListInvoices(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.NewListInvoicesResponse(invoices))
}
