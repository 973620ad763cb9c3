// internal/models/deal_test.go
package models

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// The schema must migrate and insert on databases without gen_random_uuid();
// ids are assigned client-side in BeforeCreate.
func TestMigrateAssignsIDClientSide(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&User{}, &Listing{}, &Deal{}))

	user := &User{
		Username: "seller-1",
		Email:    "seller-1@example.com",
		UserType: UserTypeSeller,
		Status:   UserStatusActive,
	}
	require.NoError(t, db.Create(user).Error)
	assert.NotEqual(t, uuid.Nil, user.ID)

	preset := uuid.New()
	listing := &Listing{
		BaseModel:    BaseModel{ID: preset},
		SellerID:     user.ID,
		Title:        "Channel",
		PlatformType: PlatformTelegram,
		Price:        100,
		Currency:     "USD",
		Status:       ListingStatusActive,
	}
	require.NoError(t, db.Create(listing).Error)
	assert.Equal(t, preset, listing.ID)
}

func TestComputeEscrowFee(t *testing.T) {
	cases := []struct {
		price   float64
		percent float64
		minimum float64
		want    float64
	}{
		{5000, 4.0, 25, 200},
		{100, 4.0, 25, 25},    // floor wins
		{625, 4.0, 25, 25},    // exactly at the floor
		{626, 4.0, 25, 25.04}, // just above, rounded to cents
		{333.33, 4.0, 25, 25}, // 13.3332 clamped to floor
		{10000, 2.5, 50, 250},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ComputeEscrowFee(tc.price, tc.percent, tc.minimum),
			"price=%.2f percent=%.2f min=%.2f", tc.price, tc.percent, tc.minimum)
	}
}

func TestRequiresHold(t *testing.T) {
	assert.True(t, PlatformYouTube.RequiresHold())
	assert.False(t, PlatformTelegram.RequiresHold())
	assert.False(t, PlatformInstagram.RequiresHold())
	assert.False(t, PlatformTikTok.RequiresHold())
	assert.False(t, PlatformTwitter.RequiresHold())
}

func TestPartyRole(t *testing.T) {
	buyer := uuid.New()
	seller := uuid.New()
	d := &Deal{BaseModel: BaseModel{ID: uuid.New()}, BuyerID: buyer, SellerID: seller}

	assert.Equal(t, UserTypeBuyer, d.PartyRole(buyer))
	assert.Equal(t, UserTypeSeller, d.PartyRole(seller))
	assert.Equal(t, UserType(""), d.PartyRole(uuid.New()))
}

func TestPaymentStatusTerminal(t *testing.T) {
	assert.True(t, PaymentStatusFinished.Terminal())
	assert.True(t, PaymentStatusFailed.Terminal())
	assert.True(t, PaymentStatusExpired.Terminal())
	assert.False(t, PaymentStatusWaiting.Terminal())
	assert.False(t, PaymentStatusConfirming.Terminal())
}
