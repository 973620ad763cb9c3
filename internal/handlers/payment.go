// internal/handlers/payment.go
package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/chanvault/chanvault-backend/internal/i18n"
	"github.com/chanvault/chanvault-backend/internal/models"
	"github.com/chanvault/chanvault-backend/internal/services"
	"github.com/chanvault/chanvault-backend/internal/utils"
)

type PaymentHandler struct {
	paymentService   *services.PaymentService
	cryptoPayService *services.CryptoPayService
}

func NewPaymentHandler(paymentService *services.PaymentService, cryptoPayService *services.CryptoPayService) *PaymentHandler {
	return &PaymentHandler{
		paymentService:   paymentService,
		cryptoPayService: cryptoPayService,
	}
}

// POST /deals/:id/payments/card
func (h *PaymentHandler) CreateCardPayment(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	userID, _, dealID, ok := dealRequestContext(c)
	if !ok {
		return
	}

	resp, err := h.paymentService.CreateCardPayment(dealID, userID)
	if err != nil {
		respondPaymentError(c, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyPaymentCreated),
		"payment": resp,
	})
}

type createCryptoPaymentRequest struct {
	PayCurrency string `json:"pay_currency" binding:"required,max=20"`
}

// POST /deals/:id/payments/crypto
func (h *PaymentHandler) CreateCryptoPayment(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	userID, _, dealID, ok := dealRequestContext(c)
	if !ok {
		return
	}

	var req createCryptoPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	resp, err := h.cryptoPayService.CreateCryptoPayment(c.Request.Context(), dealID, userID, req.PayCurrency)
	if err != nil {
		respondPaymentError(c, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyPaymentCreated),
		"payment": resp,
	})
}

// GET /deals/:id/payments
func (h *PaymentHandler) ListDealPayments(c *gin.Context) {
	userID, userType, dealID, ok := dealRequestContext(c)
	if !ok {
		return
	}

	intents, err := h.paymentService.ListDealPayments(dealID, userID, userType)
	if err != nil {
		respondDealError(c, err)
		return
	}

	utils.SuccessResponse(c, intents)
}

// POST /payments/:id/reconcile
//
// Polls the gateway for the payment's current status. Covers the window
// where a webhook was lost or delayed.
func (h *PaymentHandler) ReconcilePayment(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	userType := currentUserType(c)

	paymentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid payment ID", nil)
		return
	}

	intent, err := h.paymentService.GetPayment(paymentID, userID, userType)
	if err != nil {
		respondPaymentError(c, err)
		return
	}

	switch intent.Provider {
	case models.PaymentProviderCard:
		intent, err = h.paymentService.ReconcilePayment(paymentID, userID, userType)
	case models.PaymentProviderCrypto:
		intent, err = h.cryptoPayService.ReconcilePayment(c.Request.Context(), paymentID, userID, userType)
	default:
		utils.NotFoundResponse(c, "payment")
		return
	}
	if err != nil {
		respondPaymentError(c, err)
		return
	}

	utils.SuccessResponse(c, intent)
}

func respondPaymentError(c *gin.Context, err error) {
	lang := utils.GetLangFromContext(c)
	switch {
	case errors.Is(err, services.ErrDealNotFound):
		utils.NotFoundResponse(c, "deal")
	case errors.Is(err, services.ErrPaymentNotFound):
		utils.NotFoundResponse(c, "payment")
	case errors.Is(err, services.ErrForbidden):
		utils.ForbiddenResponse(c, "")
	case errors.Is(err, services.ErrFeeNotDue), errors.Is(err, services.ErrFeeAlreadyPaid):
		utils.BadRequestResponse(c, err.Error(), nil)
	case errors.Is(err, services.ErrInvalidCurrency):
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyPaymentInvalidCurrency), nil)
	case errors.Is(err, services.ErrGatewayUnavailable):
		utils.GatewayUnavailableResponse(c, "")
	default:
		respondDealError(c, err)
	}
}
