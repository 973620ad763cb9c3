// internal/models/deal.go
package models

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Deal is one buyer-seller channel-sale transaction and the single source of
// truth for the escrow workflow. Each stage is a monotonic flag plus its
// timestamp: once a flag is true it never reverts. Status is a projection of
// the flags, recomputed after every transition.
type Deal struct {
	BaseModel
	Reference string    `json:"reference" gorm:"uniqueIndex;size:20;not null"`
	ListingID uuid.UUID `json:"listing_id" gorm:"type:uuid;not null;index"`
	BuyerID   uuid.UUID `json:"buyer_id" gorm:"type:uuid;not null;index"`
	SellerID  uuid.UUID `json:"seller_id" gorm:"type:uuid;not null;index"`

	// Commercial terms snapshotted from the listing at creation time.
	ChannelTitle   string         `json:"channel_title" gorm:"size:255;not null"`
	PlatformType   PlatformType   `json:"platform_type" gorm:"type:varchar(20);not null;index"`
	ChannelPrice   float64        `json:"channel_price" gorm:"type:decimal(12,2);not null"`
	EscrowFee      float64        `json:"escrow_fee" gorm:"type:decimal(12,2);not null"`
	TransferSpeed  TransferSpeed  `json:"transfer_speed" gorm:"type:varchar(20);default:'conservative'"`
	PaymentMethods pq.StringArray `json:"payment_methods" gorm:"type:text[]"`
	TransferEmail  string         `json:"transfer_email" gorm:"size:255"`

	// Workflow flags. Order of the fields mirrors the order of the stages.
	SellerAgreed   bool       `json:"seller_agreed" gorm:"default:false"`
	SellerAgreedAt *time.Time `json:"seller_agreed_at"`

	FeePaid       bool       `json:"fee_paid" gorm:"default:false"`
	FeePaidAt     *time.Time `json:"fee_paid_at"`
	FeePaidBy     PayerRole  `json:"fee_paid_by,omitempty" gorm:"type:varchar(10)"`
	FeePaidMethod string     `json:"fee_paid_method,omitempty" gorm:"size:30"`

	AgentAccessGranted   bool       `json:"agent_access_granted" gorm:"default:false"`
	AgentAccessGrantedAt *time.Time `json:"agent_access_granted_at"`
	AccessEvidenceKey    string     `json:"access_evidence_key,omitempty" gorm:"size:512"`

	RightsTimerStartedAt *time.Time `json:"rights_timer_started_at"`
	RightsTimerExpiresAt *time.Time `json:"rights_timer_expires_at" gorm:"index"`

	TimerCompleted   bool       `json:"timer_completed" gorm:"default:false"`
	TimerCompletedAt *time.Time `json:"timer_completed_at"`

	AgentPromoted   bool       `json:"agent_promoted" gorm:"default:false"`
	AgentPromotedAt *time.Time `json:"agent_promoted_at"`

	BuyerPaidSeller   bool       `json:"buyer_paid_seller" gorm:"default:false"`
	BuyerPaidSellerAt *time.Time `json:"buyer_paid_seller_at"`

	SellerConfirmedPayment   bool       `json:"seller_confirmed_payment" gorm:"default:false"`
	SellerConfirmedPaymentAt *time.Time `json:"seller_confirmed_payment_at"`

	Status DealStatus `json:"status" gorm:"type:varchar(30);default:'pending';index"`

	// Version guards concurrent transitions: every save checks and bumps it.
	Version int `json:"version" gorm:"not null;default:0"`

	// Relationships
	Listing        Listing         `json:"listing,omitempty" gorm:"foreignKey:ListingID"`
	Buyer          User            `json:"buyer,omitempty" gorm:"foreignKey:BuyerID"`
	Seller         User            `json:"seller,omitempty" gorm:"foreignKey:SellerID"`
	PaymentIntents []PaymentIntent `json:"payment_intents,omitempty" gorm:"foreignKey:DealID"`
	Messages       []DealMessage   `json:"messages,omitempty" gorm:"foreignKey:DealID"`
}

// Completed reports whether the deal has reached its terminal stage.
func (d *Deal) Completed() bool {
	return d.SellerConfirmedPayment
}

// PartyRole returns the role the given user plays on this deal, or "" if the
// user is not a party to it.
func (d *Deal) PartyRole(userID uuid.UUID) UserType {
	switch userID {
	case d.BuyerID:
		return UserTypeBuyer
	case d.SellerID:
		return UserTypeSeller
	}
	return ""
}

// ComputeEscrowFee applies the platform's service charge: a percentage of the
// channel price with a floor minimum, rounded to cents.
func ComputeEscrowFee(price, percent, minimum float64) float64 {
	fee := price * percent / 100
	if fee < minimum {
		fee = minimum
	}
	return math.Round(fee*100) / 100
}
