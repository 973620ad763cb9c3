// internal/handlers/webhook.go
package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/chanvault/chanvault-backend/internal/services"
)

// Gateways cap webhook payloads well below this.
const maxWebhookBody = 1 << 20

// WebhookHandler terminates the payment gateway callbacks. Signatures are
// verified against the raw body before any processing; a bad signature gets a
// non-2xx so the gateway does not treat the delivery as acknowledged.
type WebhookHandler struct {
	paymentService   *services.PaymentService
	cryptoPayService *services.CryptoPayService
}

func NewWebhookHandler(paymentService *services.PaymentService, cryptoPayService *services.CryptoPayService) *WebhookHandler {
	return &WebhookHandler{
		paymentService:   paymentService,
		cryptoPayService: cryptoPayService,
	}
}

// POST /webhooks/stripe
func (h *WebhookHandler) StripeWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	err = h.paymentService.HandleWebhook(body, c.GetHeader("Stripe-Signature"))
	h.respond(c, "stripe", err)
}

// POST /webhooks/crypto
func (h *WebhookHandler) CryptoWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	err = h.cryptoPayService.HandleWebhook(body, c.GetHeader("X-Nowpayments-Sig"))
	h.respond(c, "crypto", err)
}

func (h *WebhookHandler) respond(c *gin.Context, provider string, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"received": true})
	case errors.Is(err, services.ErrSignatureInvalid):
		logrus.WithField("provider", provider).Warn("Webhook signature verification failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
	default:
		// Processing failed after verification; the gateway will retry.
		logrus.WithError(err).WithField("provider", provider).Error("Webhook processing failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
	}
}
