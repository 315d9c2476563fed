package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/coursemart-api/internal/models"
	appErrors "github.com/noah-isme/coursemart-api/pkg/errors"
	"github.com/noah-isme/coursemart-api/pkg/logger"
	"github.com/noah-isme/coursemart-api/pkg/response"
)

// Headers carrying the gateway's webhook credentials.
const (
	HeaderVerifHash        = "verif-hash"
	HeaderPaymentSignature = "X-Payment-Signature"
)

const maxWebhookBody = 1 << 20

type checkoutService interface {
	Start(ctx context.Context, principal models.Principal, req models.CheckoutRequest) (*models.CheckoutInit, error)
	Cancel(ctx context.Context, principal models.Principal, ref string) error
}

type paymentEventReceiver interface {
	ReceiveWebhook(ctx context.Context, verifHash, signature string, body []byte) (*models.PaymentEvent, error)
	Callback(ctx context.Context, principal models.Principal, cb models.PaymentCallback) (*models.PurchaseResult, error)
}

// PaymentHandler serves checkout initiation, the browser callback and the gateway webhook.
type PaymentHandler struct {
	checkout checkoutService
	events   paymentEventReceiver
	logger   *zap.Logger
}

// NewPaymentHandler constructs a PaymentHandler.
func NewPaymentHandler(checkout checkoutService, events paymentEventReceiver, log *zap.Logger) *PaymentHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &PaymentHandler{checkout: checkout, events: events, logger: log}
}

// StartCheckout godoc
// @Summary Start a course purchase
// @Description Returns the gateway initialisation payload. The amount is the course price.
// @Tags Payments
// @Accept json
// @Produce json
// @Param payload body models.CheckoutRequest true "Course to buy"
// @Success 201 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /checkout [post]
func (h *PaymentHandler) StartCheckout(c *gin.Context) {
	var req models.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid checkout payload"))
		return
	}
	init, err := h.checkout.Start(c.Request.Context(), principalFrom(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, init)
}

// CancelCheckout godoc
// @Summary Cancel a pending checkout
// @Description Called when the gateway widget is closed without paying.
// @Tags Payments
// @Param ref path string true "Transaction reference"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /checkout/{ref}/cancel [post]
func (h *PaymentHandler) CancelCheckout(c *gin.Context) {
	if err := h.checkout.Cancel(c.Request.Context(), principalFrom(c), c.Param("ref")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Callback godoc
// @Summary Report a payment result from the browser
// @Description The caller's user id replaces any user id in the payload. Without gateway verification the result is accepted with 202 and the course unlocks once the signed webhook arrives.
// @Tags Payments
// @Accept json
// @Produce json
// @Param payload body models.PaymentCallback true "Gateway callback"
// @Success 200 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Failure 402 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Failure 500 {object} response.Envelope
// @Security BearerAuth
// @Router /payments/callback [post]
func (h *PaymentHandler) Callback(c *gin.Context) {
	var cb models.PaymentCallback
	if err := c.ShouldBindJSON(&cb); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid callback payload"))
		return
	}
	result, err := h.events.Callback(c.Request.Context(), principalFrom(c), cb)
	if err != nil {
		response.Error(c, err)
		return
	}
	status := http.StatusOK
	if result.AwaitingConfirmation {
		status = http.StatusAccepted
	}
	response.JSON(c, status, result, nil)
}

// Webhook godoc
// @Summary Gateway payment notification
// @Description Verified by verif-hash or X-Payment-Signature, stored and projected asynchronously.
// @Tags Payments
// @Accept json
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Router /webhooks/payments [post]
func (h *PaymentHandler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "failed to read body"))
		return
	}
	if len(body) > maxWebhookBody {
		response.Error(c, appErrors.New(appErrors.ErrValidation.Code, http.StatusRequestEntityTooLarge, "payload too large"))
		return
	}

	event, err := h.events.ReceiveWebhook(c.Request.Context(), c.GetHeader(HeaderVerifHash), c.GetHeader(HeaderPaymentSignature), body)
	if err != nil {
		logger.FromContext(h.logger, c).Warn("webhook rejected", zap.String("ip", c.ClientIP()), zap.Error(err))
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"tx_ref": event.Ref, "received": true}, nil)
}
