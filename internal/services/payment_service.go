// internal/services/payment_service.go
package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
	"github.com/stripe/stripe-go/v74/webhook"
	"gorm.io/gorm"

	"github.com/chanvault/chanvault-backend/internal/config"
	"github.com/chanvault/chanvault-backend/internal/models"
)

// PaymentService handles the card rail for escrow fee payments through
// Stripe. Gateway statuses are normalized into the canonical vocabulary
// before they touch the database; only "finished" ever mutates a deal.
type PaymentService struct {
	db          *gorm.DB
	config      *config.Config
	dealService *DealService
}

type CardPaymentResponse struct {
	PaymentID    uuid.UUID `json:"payment_id"`
	ExternalID   string    `json:"external_id"`
	ClientSecret string    `json:"client_secret"`
	Amount       float64   `json:"amount"`
	Currency     string    `json:"currency"`
	Status       string    `json:"status"`
}

func NewPaymentService(db *gorm.DB, config *config.Config, dealService *DealService) *PaymentService {
	// Initialize Stripe
	stripe.Key = config.Payment.StripeSecretKey

	return &PaymentService{
		db:          db,
		config:      config,
		dealService: dealService,
	}
}

// feeCents converts a dollar fee to Stripe's integer cents. Rounding, not
// truncation: amounts like 25.01 are not exactly representable in a float64
// and would otherwise lose a cent.
func feeCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// CreateCardPayment opens a Stripe payment intent for the deal's escrow fee.
// Either party may pay; the payer role is fixed on the intent so the webhook
// can attribute the payment later.
func (s *PaymentService) CreateCardPayment(dealID, userID uuid.UUID) (*CardPaymentResponse, error) {
	deal, payer, err := loadDealForFeePayment(s.db, dealID, userID)
	if err != nil {
		return nil, err
	}

	amountInCents := feeCents(deal.EscrowFee)

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountInCents),
		Currency: stripe.String("usd"),
	}
	params.AddMetadata("deal_id", deal.ID.String())
	params.AddMetadata("deal_reference", deal.Reference)
	params.AddMetadata("payer_role", string(payer))

	pi, err := paymentintent.New(params)
	if err != nil {
		logrus.WithError(err).WithField("deal_id", deal.ID).Error("Stripe payment intent creation failed")
		return nil, ErrGatewayUnavailable
	}

	intent := &models.PaymentIntent{
		DealID:     deal.ID,
		Provider:   models.PaymentProviderCard,
		ExternalID: pi.ID,
		PayerRole:  payer,
		Amount:     deal.EscrowFee,
		Currency:   "usd",
		Status:     models.PaymentStatusWaiting,
		RawStatus:  string(pi.Status),
	}
	if err := s.db.Create(intent).Error; err != nil {
		return nil, fmt.Errorf("failed to record payment intent: %w", err)
	}

	return &CardPaymentResponse{
		PaymentID:    intent.ID,
		ExternalID:   pi.ID,
		ClientSecret: pi.ClientSecret,
		Amount:       intent.Amount,
		Currency:     intent.Currency,
		Status:       string(intent.Status),
	}, nil
}

// HandleWebhook processes a Stripe event. The signature is verified against
// the raw body before anything is read from it; unverifiable payloads are
// rejected outright.
func (s *PaymentService) HandleWebhook(payload []byte, signature string) error {
	if s.config.Payment.StripeWebhookSecret == "" {
		return ErrSignatureInvalid
	}

	event, err := webhook.ConstructEvent(payload, signature, s.config.Payment.StripeWebhookSecret)
	if err != nil {
		return ErrSignatureInvalid
	}

	switch event.Type {
	case "payment_intent.succeeded",
		"payment_intent.processing",
		"payment_intent.payment_failed",
		"payment_intent.canceled":
	default:
		// Unsubscribed event types are acknowledged and dropped.
		return nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return fmt.Errorf("failed to parse stripe event payload: %w", err)
	}

	return applyGatewayStatus(s.db, s.dealService, pi.ID, normalizeStripeStatus(pi.Status), string(pi.Status), "card")
}

// ReconcilePayment polls Stripe for the intent's current status. The deal UI
// calls this when a webhook may have been missed.
func (s *PaymentService) ReconcilePayment(paymentID, userID uuid.UUID, userType models.UserType) (*models.PaymentIntent, error) {
	intent, err := loadOwnedIntent(s.db, paymentID, userID, userType)
	if err != nil {
		return nil, err
	}
	if intent.Provider != models.PaymentProviderCard {
		return nil, ErrPaymentNotFound
	}

	pi, err := paymentintent.Get(intent.ExternalID, nil)
	if err != nil {
		logrus.WithError(err).WithField("payment_id", intent.ID).Error("Stripe status poll failed")
		return nil, ErrGatewayUnavailable
	}

	if err := applyGatewayStatus(s.db, s.dealService, intent.ExternalID, normalizeStripeStatus(pi.Status), string(pi.Status), "card"); err != nil {
		return nil, err
	}

	if err := s.db.First(intent, "id = ?", intent.ID).Error; err != nil {
		return nil, fmt.Errorf("failed to reload payment intent: %w", err)
	}
	return intent, nil
}

// GetPayment loads one payment intent the caller may see. Handlers use it to
// dispatch reconciliation to the intent's provider.
func (s *PaymentService) GetPayment(paymentID, userID uuid.UUID, userType models.UserType) (*models.PaymentIntent, error) {
	return loadOwnedIntent(s.db, paymentID, userID, userType)
}

// ListDealPayments returns every fee payment attempt on a deal, newest first.
func (s *PaymentService) ListDealPayments(dealID, userID uuid.UUID, userType models.UserType) ([]models.PaymentIntent, error) {
	if _, err := s.dealService.GetDeal(dealID, userID, userType); err != nil {
		return nil, err
	}

	var intents []models.PaymentIntent
	if err := s.db.Where("deal_id = ?", dealID).Order("created_at desc").Find(&intents).Error; err != nil {
		return nil, fmt.Errorf("failed to list payment intents: %w", err)
	}
	return intents, nil
}

// normalizeStripeStatus maps Stripe's intent lifecycle onto the canonical
// payment vocabulary.
func normalizeStripeStatus(status stripe.PaymentIntentStatus) models.PaymentIntentStatus {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return models.PaymentStatusFinished
	case stripe.PaymentIntentStatusProcessing:
		return models.PaymentStatusConfirming
	case stripe.PaymentIntentStatusCanceled:
		return models.PaymentStatusExpired
	case stripe.PaymentIntentStatusRequiresPaymentMethod,
		stripe.PaymentIntentStatusRequiresConfirmation,
		stripe.PaymentIntentStatusRequiresAction,
		stripe.PaymentIntentStatusRequiresCapture:
		return models.PaymentStatusWaiting
	default:
		return models.PaymentStatusFailed
	}
}

// loadDealForFeePayment authorizes a fee payment attempt: the caller must be
// a party, the seller must have agreed, and the fee must still be unpaid.
func loadDealForFeePayment(db *gorm.DB, dealID, userID uuid.UUID) (*models.Deal, models.PayerRole, error) {
	var deal models.Deal
	if err := db.First(&deal, "id = ?", dealID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", ErrDealNotFound
		}
		return nil, "", fmt.Errorf("failed to load deal: %w", err)
	}

	var payer models.PayerRole
	switch deal.PartyRole(userID) {
	case models.UserTypeBuyer:
		payer = models.PayerBuyer
	case models.UserTypeSeller:
		payer = models.PayerSeller
	default:
		return nil, "", ErrForbidden
	}

	if !deal.SellerAgreed {
		return nil, "", ErrFeeNotDue
	}
	if deal.FeePaid {
		return nil, "", ErrFeeAlreadyPaid
	}
	return &deal, payer, nil
}

// loadOwnedIntent loads a payment intent the caller is allowed to act on.
func loadOwnedIntent(db *gorm.DB, paymentID, userID uuid.UUID, userType models.UserType) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	if err := db.Preload("Deal").First(&intent, "id = ?", paymentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to load payment intent: %w", err)
	}
	if userType != models.UserTypeAdmin && intent.Deal.PartyRole(userID) == "" {
		return nil, ErrForbidden
	}
	return &intent, nil
}

// applyGatewayStatus records a normalized gateway status on the matching
// intent and, on the terminal success, settles the deal's fee through the
// transition path. Re-delivery of a status the intent already carries is a
// no-op, which makes webhook retries harmless.
func applyGatewayStatus(db *gorm.DB, dealService *DealService, externalID string, status models.PaymentIntentStatus, rawStatus, method string) error {
	var intent models.PaymentIntent
	if err := db.First(&intent, "external_id = ?", externalID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// An intent we never issued; acknowledge without acting.
			logrus.WithField("external_id", externalID).Warn("Gateway status for unknown payment intent")
			return nil
		}
		return fmt.Errorf("failed to load payment intent: %w", err)
	}

	if intent.Status.Terminal() && intent.Status != status {
		logrus.WithFields(logrus.Fields{
			"payment_id": intent.ID,
			"have":       intent.Status,
			"got":        status,
		}).Warn("Ignoring gateway status for settled payment intent")
		return nil
	}

	updates := map[string]interface{}{
		"status":     status,
		"raw_status": rawStatus,
	}
	if status == models.PaymentStatusFinished && intent.FinishedAt == nil {
		now := time.Now()
		updates["finished_at"] = now
	}
	if err := db.Model(&intent).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update payment intent: %w", err)
	}

	if status != models.PaymentStatusFinished {
		return nil
	}

	_, changed, err := dealService.RecordFeePaid(intent.DealID, intent.PayerRole, method)
	if err != nil {
		return fmt.Errorf("failed to settle escrow fee: %w", err)
	}
	if !changed {
		logrus.WithField("deal_id", intent.DealID).Debug("Fee already settled, duplicate gateway confirmation ignored")
	}
	return nil
}
