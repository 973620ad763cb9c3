// internal/models/listing.go
package models

import (
	"github.com/google/uuid"
)

// Listing is the channel advertisement a deal is opened against. Listing
// CRUD, search and browsing belong to the catalog service; the deal backend
// reads listings to snapshot the commercial terms at purchase time.
type Listing struct {
	BaseModel
	SellerID     uuid.UUID     `json:"seller_id" gorm:"type:uuid;not null;index"`
	Title        string        `json:"title" gorm:"size:255;not null"`
	PlatformType PlatformType  `json:"platform_type" gorm:"type:varchar(20);not null;index"`
	ChannelURL   string        `json:"channel_url" gorm:"size:500"`
	Subscribers  int64         `json:"subscribers"`
	Price        float64       `json:"price" gorm:"type:decimal(12,2);not null"`
	Currency     string        `json:"currency" gorm:"size:10;default:'USD'"`
	Status       ListingStatus `json:"status" gorm:"type:varchar(20);default:'active';index"`
	Description  string        `json:"description" gorm:"type:text"`

	// Relationships
	Seller User   `json:"seller,omitempty" gorm:"foreignKey:SellerID"`
	Deals  []Deal `json:"deals,omitempty" gorm:"foreignKey:ListingID"`
}
