// internal/services/deal_service.go
package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/chanvault/chanvault-backend/internal/config"
	"github.com/chanvault/chanvault-backend/internal/dealflow"
	"github.com/chanvault/chanvault-backend/internal/models"
	"github.com/chanvault/chanvault-backend/internal/utils"
)

// DealService orchestrates the escrow workflow around the pure transition
// function: every mutation is load, authorize, apply, optimistic save. On a
// version conflict the whole cycle is retried so a lost race against an
// already-applied event degrades into the idempotent no-op.
type DealService struct {
	db            *gorm.DB
	config        *config.Config
	notifications *NotificationService
	rules         dealflow.Rules
	nowFn         func() time.Time
}

func NewDealService(db *gorm.DB, config *config.Config, notifications *NotificationService) *DealService {
	return &DealService{
		db:            db,
		config:        config,
		notifications: notifications,
		rules: dealflow.Rules{
			OwnershipHold: time.Duration(config.Escrow.OwnershipHoldDays) * 24 * time.Hour,
		},
		nowFn: time.Now,
	}
}

// SetNowFunc overrides the service clock. Tests use it to drive the
// ownership-hold timer without sleeping.
func (s *DealService) SetNowFunc(fn func() time.Time) {
	s.nowFn = fn
}

// Rules exposes the active transition rules (the timer sweep shares them).
func (s *DealService) Rules() dealflow.Rules {
	return s.rules
}

type CreateDealRequest struct {
	ListingID      string   `json:"listing_id" binding:"required,uuid"`
	TransferSpeed  string   `json:"transfer_speed" binding:"omitempty,oneof=conservative expedited"`
	PaymentMethods []string `json:"payment_methods" binding:"required,min=1,dive,payment_method"`
	TransferEmail  string   `json:"transfer_email" binding:"omitempty,email"`
}

// CreateDeal opens a deal against an active listing, snapshotting the
// commercial terms and computing the escrow fee from current settings.
func (s *DealService) CreateDeal(buyerID uuid.UUID, req *CreateDealRequest) (*models.Deal, error) {
	listingID, err := uuid.Parse(req.ListingID)
	if err != nil {
		return nil, ErrListingNotFound
	}

	var listing models.Listing
	if err := s.db.First(&listing, "id = ?", listingID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrListingNotFound
		}
		return nil, fmt.Errorf("failed to load listing: %w", err)
	}
	if listing.Status != models.ListingStatusActive {
		return nil, ErrListingUnavailable
	}
	if listing.SellerID == buyerID {
		return nil, ErrForbidden
	}

	speed := models.TransferSpeedConservative
	if req.TransferSpeed != "" {
		speed = models.TransferSpeed(req.TransferSpeed)
	}

	reference, err := utils.GenerateDealReference()
	if err != nil {
		return nil, fmt.Errorf("failed to generate deal reference: %w", err)
	}

	deal := &models.Deal{
		Reference:      reference,
		ListingID:      listing.ID,
		BuyerID:        buyerID,
		SellerID:       listing.SellerID,
		ChannelTitle:   listing.Title,
		PlatformType:   listing.PlatformType,
		ChannelPrice:   listing.Price,
		EscrowFee:      models.ComputeEscrowFee(listing.Price, s.config.Escrow.FeePercent, s.config.Escrow.FeeMinimum),
		TransferSpeed:  speed,
		PaymentMethods: pq.StringArray(req.PaymentMethods),
		TransferEmail:  req.TransferEmail,
		Status:         models.DealStatusPending,
	}

	if err := s.db.Create(deal).Error; err != nil {
		return nil, fmt.Errorf("failed to create deal: %w", err)
	}

	go s.notifications.NotifyDealOpened(deal)

	logrus.WithFields(logrus.Fields{
		"deal_id":   deal.ID,
		"reference": deal.Reference,
		"buyer_id":  buyerID,
		"seller_id": deal.SellerID,
	}).Info("Deal created")

	return deal, nil
}

// SubmitEvent runs one transition on behalf of an authenticated user. The
// actor role is derived from the deal itself: the caller must be the deal's
// buyer or seller (admins act as such regardless of party). Returns the
// updated deal and whether anything changed.
func (s *DealService) SubmitEvent(dealID, userID uuid.UUID, userType models.UserType, evt dealflow.Event) (*models.Deal, bool, error) {
	return s.submit(dealID, evt, func(deal *models.Deal) (dealflow.Actor, error) {
		if userType == models.UserTypeAdmin {
			return dealflow.ActorAdmin, nil
		}
		switch deal.PartyRole(userID) {
		case models.UserTypeBuyer:
			return dealflow.ActorBuyer, nil
		case models.UserTypeSeller:
			return dealflow.ActorSeller, nil
		}
		return "", ErrForbidden
	})
}

// SubmitSystemEvent runs a transition on behalf of the platform itself: the
// payment reconciliation path and the timer sweep.
func (s *DealService) SubmitSystemEvent(dealID uuid.UUID, evt dealflow.Event) (*models.Deal, bool, error) {
	return s.submit(dealID, evt, func(*models.Deal) (dealflow.Actor, error) {
		return dealflow.ActorSystem, nil
	})
}

// RecordFeePaid marks the escrow fee as settled. Called by the payment
// services once a gateway reports a finished payment.
func (s *DealService) RecordFeePaid(dealID uuid.UUID, payer models.PayerRole, method string) (*models.Deal, bool, error) {
	return s.SubmitSystemEvent(dealID, dealflow.FeePaid(payer, method))
}

// CompleteTimer fires the ownership-hold expiry for one deal. Called by the
// background sweep; rejects deals whose timer has not elapsed yet.
func (s *DealService) CompleteTimer(dealID uuid.UUID) (*models.Deal, bool, error) {
	return s.SubmitSystemEvent(dealID, dealflow.TimerElapsed())
}

func (s *DealService) submit(dealID uuid.UUID, evt dealflow.Event, resolveActor func(*models.Deal) (dealflow.Actor, error)) (*models.Deal, bool, error) {
	retries := s.config.Escrow.SaveRetries
	if retries < 1 {
		retries = 1
	}

	for attempt := 0; attempt < retries; attempt++ {
		var deal models.Deal
		if err := s.db.First(&deal, "id = ?", dealID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, false, ErrDealNotFound
			}
			return nil, false, fmt.Errorf("failed to load deal: %w", err)
		}

		actor, err := resolveActor(&deal)
		if err != nil {
			return nil, false, err
		}

		res, err := dealflow.Apply(&deal, evt, actor, s.nowFn(), s.rules)
		if err != nil {
			return nil, false, err
		}
		if !res.Changed {
			return &deal, false, nil
		}

		if err := s.saveTransition(&deal); err != nil {
			if errors.Is(err, ErrConcurrencyConflict) {
				logrus.WithFields(logrus.Fields{
					"deal_id": dealID,
					"event":   evt.Kind,
					"attempt": attempt + 1,
				}).Debug("Optimistic save lost a race, retrying")
				continue
			}
			return nil, false, err
		}

		go s.notifications.NotifyTransition(&deal, res)

		logrus.WithFields(logrus.Fields{
			"deal_id": deal.ID,
			"event":   evt.Kind,
			"actor":   actor,
			"status":  deal.Status,
			"version": deal.Version,
		}).Info("Deal transition applied")

		return &deal, true, nil
	}

	return nil, false, ErrConcurrencyConflict
}

// saveTransition persists a mutated deal guarded by its version: the UPDATE
// only matches when nobody else saved since our load.
func (s *DealService) saveTransition(deal *models.Deal) error {
	prev := deal.Version
	next := prev + 1

	result := s.db.Model(&models.Deal{}).
		Where("id = ? AND version = ?", deal.ID, prev).
		Updates(map[string]interface{}{
			"seller_agreed":               deal.SellerAgreed,
			"seller_agreed_at":            deal.SellerAgreedAt,
			"fee_paid":                    deal.FeePaid,
			"fee_paid_at":                 deal.FeePaidAt,
			"fee_paid_by":                 deal.FeePaidBy,
			"fee_paid_method":             deal.FeePaidMethod,
			"agent_access_granted":        deal.AgentAccessGranted,
			"agent_access_granted_at":     deal.AgentAccessGrantedAt,
			"access_evidence_key":         deal.AccessEvidenceKey,
			"rights_timer_started_at":     deal.RightsTimerStartedAt,
			"rights_timer_expires_at":     deal.RightsTimerExpiresAt,
			"timer_completed":             deal.TimerCompleted,
			"timer_completed_at":          deal.TimerCompletedAt,
			"agent_promoted":              deal.AgentPromoted,
			"agent_promoted_at":           deal.AgentPromotedAt,
			"buyer_paid_seller":           deal.BuyerPaidSeller,
			"buyer_paid_seller_at":        deal.BuyerPaidSellerAt,
			"seller_confirmed_payment":    deal.SellerConfirmedPayment,
			"seller_confirmed_payment_at": deal.SellerConfirmedPaymentAt,
			"status":                      deal.Status,
			"version":                     next,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to save deal: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrConcurrencyConflict
	}

	deal.Version = next
	return nil
}

// GetDeal loads a deal for an authenticated caller. Only the two parties and
// admins may see it.
func (s *DealService) GetDeal(dealID, userID uuid.UUID, userType models.UserType) (*models.Deal, error) {
	var deal models.Deal
	if err := s.db.Preload("Listing").First(&deal, "id = ?", dealID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDealNotFound
		}
		return nil, fmt.Errorf("failed to load deal: %w", err)
	}

	if userType != models.UserTypeAdmin && deal.PartyRole(userID) == "" {
		return nil, ErrForbidden
	}
	return &deal, nil
}

// ListUserDeals returns the caller's deals on either side of the table,
// newest first, optionally filtered by status.
func (s *DealService) ListUserDeals(userID uuid.UUID, status string, params utils.PaginationParams) (*utils.PaginationResult, error) {
	query := s.db.Model(&models.Deal{}).Where("buyer_id = ? OR seller_id = ?", userID, userID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count deals: %w", err)
	}

	var deals []models.Deal
	query = utils.ApplySort(query, params, []string{"created_at", "updated_at", "status", "channel_price"})
	query = utils.ApplyPagination(query, params)
	if err := query.Find(&deals).Error; err != nil {
		return nil, fmt.Errorf("failed to list deals: %w", err)
	}

	result := utils.CreatePaginationResult(deals, total, params)
	return &result, nil
}

// DealProjection is the read model served to clients: the deal plus the live
// countdown. RemainingSeconds is computed at projection time, never stored.
type DealProjection struct {
	models.Deal
	Role                  models.UserType `json:"viewer_role,omitempty"`
	TimerActive           bool            `json:"timer_active"`
	TimerRemainingSeconds int64           `json:"timer_remaining_seconds"`
	TimerExpiresFormatted string          `json:"timer_expires_formatted,omitempty"`
}

// ProjectDeal builds the client view of a deal for the given viewer.
func (s *DealService) ProjectDeal(deal *models.Deal, userID uuid.UUID) *DealProjection {
	p := &DealProjection{
		Deal: *deal,
		Role: deal.PartyRole(userID),
	}
	if deal.RightsTimerExpiresAt != nil {
		p.TimerExpiresFormatted = deal.RightsTimerExpiresAt.UTC().Format("02 Jan 2006 15:04 MST")
	}
	if deal.RightsTimerExpiresAt != nil && !deal.TimerCompleted {
		p.TimerActive = true
		remaining := deal.RightsTimerExpiresAt.Sub(s.nowFn())
		if remaining > 0 {
			p.TimerRemainingSeconds = int64(remaining.Seconds())
		}
	}
	return p
}

// PostMessage appends a user message to the deal chat. Only parties may post.
func (s *DealService) PostMessage(dealID, userID uuid.UUID, userType models.UserType, body string) (*models.DealMessage, error) {
	var deal models.Deal
	if err := s.db.First(&deal, "id = ?", dealID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDealNotFound
		}
		return nil, fmt.Errorf("failed to load deal: %w", err)
	}
	if userType != models.UserTypeAdmin && deal.PartyRole(userID) == "" {
		return nil, ErrForbidden
	}

	message := &models.DealMessage{
		DealID:   deal.ID,
		SenderID: &userID,
		Kind:     models.MessageKindUser,
		Body:     body,
	}
	if err := s.db.Create(message).Error; err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	return message, nil
}

// ListMessages returns the deal's chat thread, oldest first.
func (s *DealService) ListMessages(dealID, userID uuid.UUID, userType models.UserType, params utils.PaginationParams) (*utils.PaginationResult, error) {
	var deal models.Deal
	if err := s.db.First(&deal, "id = ?", dealID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDealNotFound
		}
		return nil, fmt.Errorf("failed to load deal: %w", err)
	}
	if userType != models.UserTypeAdmin && deal.PartyRole(userID) == "" {
		return nil, ErrForbidden
	}

	query := s.db.Model(&models.DealMessage{}).Where("deal_id = ?", dealID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}

	var messages []models.DealMessage
	query = query.Order("created_at asc")
	query = utils.ApplyPagination(query, params)
	if err := query.Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	result := utils.CreatePaginationResult(messages, total, params)
	return &result, nil
}

// AttachEvidence records the storage key of an uploaded access screenshot on
// a deal that already granted access without evidence. The write bumps the
// version so an in-flight transition loaded before it cannot overwrite the
// key with its stale copy.
func (s *DealService) AttachEvidence(dealID, userID uuid.UUID, key string) error {
	retries := s.config.Escrow.SaveRetries
	if retries < 1 {
		retries = 1
	}

	for attempt := 0; attempt < retries; attempt++ {
		var deal models.Deal
		if err := s.db.First(&deal, "id = ?", dealID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrDealNotFound
			}
			return fmt.Errorf("failed to load deal: %w", err)
		}
		if deal.SellerID != userID {
			return ErrForbidden
		}

		result := s.db.Model(&models.Deal{}).
			Where("id = ? AND version = ?", deal.ID, deal.Version).
			Updates(map[string]interface{}{
				"access_evidence_key": key,
				"version":             deal.Version + 1,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to save evidence key: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			continue
		}
		return nil
	}

	return ErrConcurrencyConflict
}
