// internal/models/payment.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentIntent is one attempt to pay a deal's escrow fee through a gateway.
// A deal may accumulate several intents across retries, but at most one ever
// reaches "finished" and flips the deal's fee_paid flag.
type PaymentIntent struct {
	BaseModel
	DealID     uuid.UUID           `json:"deal_id" gorm:"type:uuid;not null;index"`
	Provider   PaymentProvider     `json:"provider" gorm:"type:varchar(20);not null"`
	ExternalID string              `json:"external_id" gorm:"uniqueIndex;size:255;not null"`
	PayerRole  PayerRole           `json:"payer_role" gorm:"type:varchar(10);not null"`
	Amount     float64             `json:"amount" gorm:"type:decimal(12,2);not null"`
	Currency   string              `json:"currency" gorm:"size:10;not null"`
	Status     PaymentIntentStatus `json:"status" gorm:"type:varchar(20);default:'waiting';index"`
	PayURL     string              `json:"pay_url,omitempty" gorm:"size:1000"`
	PayAddress string              `json:"pay_address,omitempty" gorm:"size:255"`
	QRURL      string              `json:"qr_url,omitempty" gorm:"size:1000"`
	RawStatus  string              `json:"raw_status,omitempty" gorm:"size:50"`
	FinishedAt *time.Time          `json:"finished_at"`

	// Relationships
	Deal Deal `json:"deal,omitempty" gorm:"foreignKey:DealID"`
}
