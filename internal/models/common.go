// internal/models/common.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base model with common fields
type BaseModel struct {
	ID        uuid.UUID      `json:"id" gorm:"type:uuid;primary_key"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// BeforeCreate assigns the id client-side so inserts work the same against
// databases without gen_random_uuid().
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// JSONB type for PostgreSQL
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, j)
}

// Enums
type UserType string

const (
	UserTypeBuyer  UserType = "buyer"
	UserTypeSeller UserType = "seller"
	UserTypeAdmin  UserType = "admin"
)

type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
	UserStatusBanned    UserStatus = "banned"
)

// PlatformType classifies the social network a channel belongs to. YouTube is
// the only platform with a mandatory ownership-transfer hold.
type PlatformType string

const (
	PlatformYouTube   PlatformType = "youtube"
	PlatformTelegram  PlatformType = "telegram"
	PlatformInstagram PlatformType = "instagram"
	PlatformTikTok    PlatformType = "tiktok"
	PlatformTwitter   PlatformType = "twitter"
)

// RequiresHold reports whether the platform imposes a waiting period between
// granting the agent manager access and promoting it to primary owner.
func (p PlatformType) RequiresHold() bool {
	return p == PlatformYouTube
}

type TransferSpeed string

const (
	TransferSpeedConservative TransferSpeed = "conservative"
	TransferSpeedExpedited    TransferSpeed = "expedited"
)

// PayerRole identifies which party settled the escrow fee.
type PayerRole string

const (
	PayerBuyer  PayerRole = "buyer"
	PayerSeller PayerRole = "seller"
)

// DealStatus is a projection of the deal's flag-set, recomputed after every
// transition. It is never assigned from free text.
type DealStatus string

const (
	DealStatusPending                DealStatus = "pending"
	DealStatusTermsAgreed            DealStatus = "terms_agreed"
	DealStatusFeePaid                DealStatus = "fee_paid"
	DealStatusAgentAccessPending     DealStatus = "agent_access_pending"
	DealStatusWaitingPromotionTimer  DealStatus = "waiting_promotion_timer"
	DealStatusPromotionTimerComplete DealStatus = "promotion_timer_complete"
	DealStatusPrimaryOwnerConfirmed  DealStatus = "primary_owner_confirmed"
	DealStatusBuyerPaid              DealStatus = "buyer_paid"
	DealStatusCompleted              DealStatus = "completed"
)

type ListingStatus string

const (
	ListingStatusActive    ListingStatus = "active"
	ListingStatusReserved  ListingStatus = "reserved"
	ListingStatusSold      ListingStatus = "sold"
	ListingStatusSuspended ListingStatus = "suspended"
)

// PaymentProvider names the gateway a payment intent was created against.
type PaymentProvider string

const (
	PaymentProviderCard   PaymentProvider = "card"
	PaymentProviderCrypto PaymentProvider = "crypto"
)

// PaymentIntentStatus is the canonical payment status both gateway adapters
// normalize their provider vocabularies into.
type PaymentIntentStatus string

const (
	PaymentStatusWaiting    PaymentIntentStatus = "waiting"
	PaymentStatusConfirming PaymentIntentStatus = "confirming"
	PaymentStatusFinished   PaymentIntentStatus = "finished"
	PaymentStatusFailed     PaymentIntentStatus = "failed"
	PaymentStatusExpired    PaymentIntentStatus = "expired"
)

// Terminal reports whether the status can no longer change.
func (s PaymentIntentStatus) Terminal() bool {
	switch s {
	case PaymentStatusFinished, PaymentStatusFailed, PaymentStatusExpired:
		return true
	}
	return false
}

type MessageKind string

const (
	MessageKindUser   MessageKind = "user"
	MessageKindSystem MessageKind = "system"
)
