// internal/services/cryptopay_service.go
package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/chanvault/chanvault-backend/internal/config"
	"github.com/chanvault/chanvault-backend/internal/models"
)

// CryptoPayService handles the crypto rail for escrow fee payments through a
// NOWPayments-compatible gateway. All outbound calls run under a bounded
// timeout so a hung gateway cannot stall a request handler.
type CryptoPayService struct {
	db          *gorm.DB
	config      *config.Config
	dealService *DealService
	httpClient  *http.Client
	baseURL     string
}

type cryptoPaymentRequest struct {
	PriceAmount   float64 `json:"price_amount"`
	PriceCurrency string  `json:"price_currency"`
	PayCurrency   string  `json:"pay_currency"`
	OrderID       string  `json:"order_id"`
	OrderDesc     string  `json:"order_description,omitempty"`
	IPNCallback   string  `json:"ipn_callback_url,omitempty"`
}

type cryptoPaymentResponse struct {
	PaymentID     json.Number `json:"payment_id"`
	PaymentStatus string      `json:"payment_status"`
	PayAddress    string      `json:"pay_address"`
	PayAmount     float64     `json:"pay_amount"`
	PayCurrency   string      `json:"pay_currency"`
	PriceAmount   float64     `json:"price_amount"`
	PriceCurrency string      `json:"price_currency"`
	InvoiceURL    string      `json:"invoice_url,omitempty"`
	Message       string      `json:"message,omitempty"`
}

// CryptoWebhookPayload is the IPN body the gateway posts on status changes.
type CryptoWebhookPayload struct {
	PaymentID     json.Number `json:"payment_id"`
	PaymentStatus string      `json:"payment_status"`
	OrderID       string      `json:"order_id"`
	PayCurrency   string      `json:"pay_currency"`
	ActuallyPaid  float64     `json:"actually_paid"`
}

type CryptoPaymentResult struct {
	PaymentID  uuid.UUID `json:"payment_id"`
	ExternalID string    `json:"external_id"`
	PayAddress string    `json:"pay_address"`
	PayAmount  float64   `json:"pay_amount"`
	Currency   string    `json:"pay_currency"`
	PayURL     string    `json:"pay_url,omitempty"`
	Status     string    `json:"status"`
}

func NewCryptoPayService(db *gorm.DB, config *config.Config, dealService *DealService) *CryptoPayService {
	return &CryptoPayService{
		db:          db,
		config:      config,
		dealService: dealService,
		httpClient: &http.Client{
			Timeout: time.Duration(config.Payment.GatewayTimeout) * time.Second,
		},
		baseURL: strings.TrimRight(config.Payment.CryptoBaseURL, "/"),
	}
}

// CreateCryptoPayment opens a crypto payment for the deal's escrow fee in the
// requested pay currency.
func (s *CryptoPayService) CreateCryptoPayment(ctx context.Context, dealID, userID uuid.UUID, payCurrency string) (*CryptoPaymentResult, error) {
	deal, payer, err := loadDealForFeePayment(s.db, dealID, userID)
	if err != nil {
		return nil, err
	}

	payCurrency = strings.ToLower(strings.TrimSpace(payCurrency))
	if payCurrency == "" {
		return nil, ErrInvalidCurrency
	}

	gwReq := &cryptoPaymentRequest{
		PriceAmount:   deal.EscrowFee,
		PriceCurrency: "usd",
		PayCurrency:   payCurrency,
		OrderID:       deal.Reference,
		OrderDesc:     fmt.Sprintf("Escrow fee for deal %s", deal.Reference),
	}

	var gwResp cryptoPaymentResponse
	status, err := s.doRequest(ctx, http.MethodPost, "/payment", gwReq, &gwResp)
	if err != nil {
		logrus.WithError(err).WithField("deal_id", deal.ID).Error("Crypto gateway request failed")
		return nil, ErrGatewayUnavailable
	}
	if status == http.StatusBadRequest && strings.Contains(strings.ToLower(gwResp.Message), "currenc") {
		return nil, ErrInvalidCurrency
	}
	if status >= 300 {
		logrus.WithFields(logrus.Fields{
			"deal_id": deal.ID,
			"status":  status,
			"message": gwResp.Message,
		}).Error("Crypto gateway rejected payment creation")
		return nil, ErrGatewayUnavailable
	}

	intent := &models.PaymentIntent{
		DealID:     deal.ID,
		Provider:   models.PaymentProviderCrypto,
		ExternalID: gwResp.PaymentID.String(),
		PayerRole:  payer,
		Amount:     deal.EscrowFee,
		Currency:   gwResp.PayCurrency,
		Status:     normalizeCryptoStatus(gwResp.PaymentStatus),
		PayURL:     gwResp.InvoiceURL,
		PayAddress: gwResp.PayAddress,
		RawStatus:  gwResp.PaymentStatus,
	}
	if err := s.db.Create(intent).Error; err != nil {
		return nil, fmt.Errorf("failed to record payment intent: %w", err)
	}

	return &CryptoPaymentResult{
		PaymentID:  intent.ID,
		ExternalID: intent.ExternalID,
		PayAddress: gwResp.PayAddress,
		PayAmount:  gwResp.PayAmount,
		Currency:   gwResp.PayCurrency,
		PayURL:     gwResp.InvoiceURL,
		Status:     string(intent.Status),
	}, nil
}

// VerifyWebhook checks the IPN signature over the raw body and parses the
// payload. An unset IPN secret fails verification rather than waving the
// payload through.
func (s *CryptoPayService) VerifyWebhook(body []byte, signature string) (*CryptoWebhookPayload, error) {
	secret := s.config.Payment.CryptoIPNSecret
	if secret == "" {
		return nil, ErrSignatureInvalid
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	cleaned := strings.TrimSpace(signature)
	cleaned = strings.TrimPrefix(strings.ToLower(cleaned), "0x")
	if cleaned == "" {
		return nil, ErrSignatureInvalid
	}
	got, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, ErrSignatureInvalid
	}
	if !hmac.Equal(expected, got) {
		return nil, ErrSignatureInvalid
	}

	var payload CryptoWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse webhook payload: %w", err)
	}
	return &payload, nil
}

// HandleWebhook verifies and applies one IPN notification.
func (s *CryptoPayService) HandleWebhook(body []byte, signature string) error {
	payload, err := s.VerifyWebhook(body, signature)
	if err != nil {
		return err
	}

	return applyGatewayStatus(s.db, s.dealService,
		payload.PaymentID.String(),
		normalizeCryptoStatus(payload.PaymentStatus),
		payload.PaymentStatus,
		"crypto")
}

// ReconcilePayment polls the gateway for the payment's current status,
// covering lost IPN deliveries.
func (s *CryptoPayService) ReconcilePayment(ctx context.Context, paymentID, userID uuid.UUID, userType models.UserType) (*models.PaymentIntent, error) {
	intent, err := loadOwnedIntent(s.db, paymentID, userID, userType)
	if err != nil {
		return nil, err
	}
	if intent.Provider != models.PaymentProviderCrypto {
		return nil, ErrPaymentNotFound
	}

	var gwResp cryptoPaymentResponse
	status, err := s.doRequest(ctx, http.MethodGet, "/payment/"+intent.ExternalID, nil, &gwResp)
	if err != nil {
		logrus.WithError(err).WithField("payment_id", intent.ID).Error("Crypto status poll failed")
		return nil, ErrGatewayUnavailable
	}
	if status >= 300 {
		return nil, ErrGatewayUnavailable
	}

	if err := applyGatewayStatus(s.db, s.dealService, intent.ExternalID,
		normalizeCryptoStatus(gwResp.PaymentStatus), gwResp.PaymentStatus, "crypto"); err != nil {
		return nil, err
	}

	if err := s.db.First(intent, "id = ?", intent.ID).Error; err != nil {
		return nil, fmt.Errorf("failed to reload payment intent: %w", err)
	}
	return intent, nil
}

func (s *CryptoPayService) doRequest(ctx context.Context, method, path string, payload, out interface{}) (int, error) {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", s.config.Payment.CryptoAPIKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, err
	}
	if out != nil && len(raw) > 0 {
		// Error bodies share the envelope; decode failures on non-2xx
		// responses are not fatal.
		if err := json.Unmarshal(raw, out); err != nil && resp.StatusCode < 300 {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

// normalizeCryptoStatus maps the gateway's payment lifecycle onto the
// canonical vocabulary.
func normalizeCryptoStatus(status string) models.PaymentIntentStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "finished":
		return models.PaymentStatusFinished
	case "confirming", "confirmed", "sending", "partially_paid":
		return models.PaymentStatusConfirming
	case "failed", "refunded":
		return models.PaymentStatusFailed
	case "expired":
		return models.PaymentStatusExpired
	default:
		return models.PaymentStatusWaiting
	}
}
