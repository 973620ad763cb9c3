// internal/services/service_test.go
package services

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/chanvault/chanvault-backend/internal/config"
	"github.com/chanvault/chanvault-backend/internal/models"
	"github.com/chanvault/chanvault-backend/internal/utils"
)

// setupTestDB opens a fresh in-memory database with the full schema.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Listing{},
		&models.Deal{},
		&models.PaymentIntent{},
		&models.DealMessage{},
		&models.AdminSettings{},
		&models.AuditLog{},
	))
	return db
}

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		Escrow: config.EscrowConfig{
			FeePercent:        4.0,
			FeeMinimum:        25.0,
			OwnershipHoldDays: 7,
			SweepInterval:     60,
			SaveRetries:       3,
		},
		Payment: config.PaymentConfig{
			CryptoAPIKey:    "test-api-key",
			CryptoIPNSecret: "test-ipn-secret",
			GatewayTimeout:  5,
		},
	}
}

func createTestUser(t *testing.T, db *gorm.DB, userType models.UserType) *models.User {
	t.Helper()
	id := uuid.New()
	user := &models.User{
		Username: "user-" + id.String()[:8],
		Email:    "user-" + id.String()[:8] + "@example.com",
		UserType: userType,
		Status:   models.UserStatusActive,
	}
	require.NoError(t, user.SetPassword("TestPass123!"))
	require.NoError(t, db.Create(user).Error)
	return user
}

func createTestListing(t *testing.T, db *gorm.DB, sellerID uuid.UUID, platform models.PlatformType, price float64) *models.Listing {
	t.Helper()
	listing := &models.Listing{
		SellerID:     sellerID,
		Title:        "Channel for sale",
		PlatformType: platform,
		Price:        price,
		Currency:     "USD",
		Status:       models.ListingStatusActive,
	}
	require.NoError(t, db.Create(listing).Error)
	return listing
}

// testHarness wires the service graph against an in-memory database.
type testHarness struct {
	db      *gorm.DB
	cfg     *config.Config
	deals   *DealService
	timers  *TimerService
	buyer   *models.User
	seller  *models.User
	admin   *models.User
	listing *models.Listing
	now     time.Time
}

func newTestHarness(t *testing.T, platform models.PlatformType) *testHarness {
	t.Helper()

	db := setupTestDB(t)
	cfg := testConfig()

	notifications := NewNotificationService(db, cfg)
	deals := NewDealService(db, cfg, notifications)
	timers := NewTimerService(db, cfg, deals)

	h := &testHarness{
		db:     db,
		cfg:    cfg,
		deals:  deals,
		timers: timers,
		buyer:  createTestUser(t, db, models.UserTypeBuyer),
		seller: createTestUser(t, db, models.UserTypeSeller),
		admin:  createTestUser(t, db, models.UserTypeAdmin),
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	h.listing = createTestListing(t, db, h.seller.ID, platform, 5000)

	timers.SetNowFunc(func() time.Time { return h.now })
	return h
}

func (h *testHarness) advanceClock(d time.Duration) {
	h.now = h.now.Add(d)
}

func paginationDefaults() utils.PaginationParams {
	return utils.PaginationParams{Page: 1, Limit: 50, Sort: "created_at", Order: "desc"}
}

func (h *testHarness) createDeal(t *testing.T) *models.Deal {
	t.Helper()
	deal, err := h.deals.CreateDeal(h.buyer.ID, &CreateDealRequest{
		ListingID:      h.listing.ID.String(),
		PaymentMethods: []string{"card", "crypto"},
	})
	require.NoError(t, err)
	return deal
}
