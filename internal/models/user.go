// internal/models/user.go
package models

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

// User is the actor record referenced by deals. Registration, login and
// session management live in a separate identity service; this backend only
// needs enough of the user to authorize deal events and address
// notifications.
type User struct {
	BaseModel
	Username     string     `json:"username" gorm:"uniqueIndex;size:50;not null"`
	Email        string     `json:"email" gorm:"uniqueIndex;size:255;not null"`
	PasswordHash string     `json:"-" gorm:"size:255;not null"`
	UserType     UserType   `json:"user_type" gorm:"type:varchar(20);not null"`
	Status       UserStatus `json:"status" gorm:"type:varchar(20);default:'active'"`
	ProfileData  JSONB      `json:"profile_data" gorm:"type:jsonb"`
	LastSeenAt   *time.Time `json:"last_seen_at"`

	// Relationships
	Listings     []Listing `json:"listings,omitempty" gorm:"foreignKey:SellerID"`
	BuyerDeals   []Deal    `json:"buyer_deals,omitempty" gorm:"foreignKey:BuyerID"`
	SellerDeals  []Deal    `json:"seller_deals,omitempty" gorm:"foreignKey:SellerID"`
}

func (u *User) SetPassword(password string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hashedPassword)
	return nil
}

func (u *User) CheckPassword(password string) error {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
}
