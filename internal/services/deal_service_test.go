// internal/services/deal_service_test.go
package services

import (
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chanvault/chanvault-backend/internal/dealflow"
	"github.com/chanvault/chanvault-backend/internal/models"
)

func TestCreateDealSnapshotsListing(t *testing.T) {
	h := newTestHarness(t, models.PlatformYouTube)

	deal := h.createDeal(t)

	assert.True(t, strings.HasPrefix(deal.Reference, "CV-"))
	assert.Len(t, deal.Reference, 11)
	assert.Equal(t, h.listing.ID, deal.ListingID)
	assert.Equal(t, h.buyer.ID, deal.BuyerID)
	assert.Equal(t, h.seller.ID, deal.SellerID)
	assert.Equal(t, models.PlatformYouTube, deal.PlatformType)
	assert.Equal(t, 5000.0, deal.ChannelPrice)
	assert.Equal(t, 200.0, deal.EscrowFee) // 4% of 5000
	assert.Equal(t, models.DealStatusPending, deal.Status)
	assert.Equal(t, 0, deal.Version)
}

func TestCreateDealFeeFloor(t *testing.T) {
	h := newTestHarness(t, models.PlatformTelegram)
	cheap := createTestListing(t, h.db, h.seller.ID, models.PlatformTelegram, 100)

	deal, err := h.deals.CreateDeal(h.buyer.ID, &CreateDealRequest{
		ListingID:      cheap.ID.String(),
		PaymentMethods: []string{"card"},
	})
	require.NoError(t, err)
	assert.Equal(t, 25.0, deal.EscrowFee) // floor beats 4% of 100
}

func TestCreateDealRejectsOwnListing(t *testing.T) {
	h := newTestHarness(t, models.PlatformYouTube)

	_, err := h.deals.CreateDeal(h.seller.ID, &CreateDealRequest{
		ListingID:      h.listing.ID.String(),
		PaymentMethods: []string{"card"},
	})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestCreateDealRejectsInactiveListing(t *testing.T) {
	h := newTestHarness(t, models.PlatformYouTube)
	require.NoError(t, h.db.Model(h.listing).Update("status", models.ListingStatusSold).Error)

	_, err := h.deals.CreateDeal(h.buyer.ID, &CreateDealRequest{
		ListingID:      h.listing.ID.String(),
		PaymentMethods: []string{"card"},
	})
	assert.ErrorIs(t, err, ErrListingUnavailable)
}

func TestSubmitEventFullLifecycle(t *testing.T) {
	h := newTestHarness(t, models.PlatformYouTube)
	deal := h.createDeal(t)

	// Seller agrees to terms.
	updated, changed, err := h.deals.SubmitEvent(deal.ID, h.seller.ID, models.UserTypeSeller, dealflow.SellerAgrees())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.DealStatusTermsAgreed, updated.Status)
	assert.Equal(t, 1, updated.Version)

	// Gateway settles the fee.
	updated, changed, err = h.deals.RecordFeePaid(deal.ID, models.PayerBuyer, "card")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.DealStatusFeePaid, updated.Status)

	// Seller hands over agent access; the hold timer starts.
	updated, changed, err = h.deals.SubmitEvent(deal.ID, h.seller.ID, models.UserTypeSeller, dealflow.AgentAccessGranted(""))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.DealStatusWaitingPromotionTimer, updated.Status)
	require.NotNil(t, updated.RightsTimerExpiresAt)
	assert.Equal(t, h.now.Add(7*24*time.Hour), updated.RightsTimerExpiresAt.UTC())

	// Hold elapses.
	h.advanceClock(7*24*time.Hour + time.Minute)
	updated, changed, err = h.deals.CompleteTimer(deal.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.DealStatusPromotionTimerComplete, updated.Status)

	// Admin promotes the escrow agent to primary owner.
	updated, changed, err = h.deals.SubmitEvent(deal.ID, h.admin.ID, models.UserTypeAdmin, dealflow.PromoteAgent())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.DealStatusPrimaryOwnerConfirmed, updated.Status)

	// Buyer pays the seller directly, seller confirms.
	updated, changed, err = h.deals.SubmitEvent(deal.ID, h.buyer.ID, models.UserTypeBuyer, dealflow.BuyerPaidSeller())
	require.NoError(t, err)
	assert.True(t, changed)

	updated, changed, err = h.deals.SubmitEvent(deal.ID, h.seller.ID, models.UserTypeSeller, dealflow.SellerConfirmedPayment())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.DealStatusCompleted, updated.Status)
	assert.Equal(t, 7, updated.Version)
}

func TestSubmitEventTelegramSkipsHold(t *testing.T) {
	h := newTestHarness(t, models.PlatformTelegram)
	deal := h.createDeal(t)

	_, _, err := h.deals.SubmitEvent(deal.ID, h.seller.ID, models.UserTypeSeller, dealflow.SellerAgrees())
	require.NoError(t, err)
	_, _, err = h.deals.RecordFeePaid(deal.ID, models.PayerSeller, "crypto")
	require.NoError(t, err)

	updated, _, err := h.deals.SubmitEvent(deal.ID, h.seller.ID, models.UserTypeSeller, dealflow.AgentAccessGranted(""))
	require.NoError(t, err)
	assert.Nil(t, updated.RightsTimerExpiresAt)
	assert.Equal(t, models.DealStatusAgentAccessPending, updated.Status)

	// Promotion needs no timer on telegram.
	updated, changed, err := h.deals.SubmitEvent(deal.ID, h.admin.ID, models.UserTypeAdmin, dealflow.PromoteAgent())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.DealStatusPrimaryOwnerConfirmed, updated.Status)
}

func TestSubmitEventRejectsOutsider(t *testing.T) {
	h := newTestHarness(t, models.PlatformYouTube)
	deal := h.createDeal(t)
	outsider := createTestUser(t, h.db, models.UserTypeBuyer)

	_, _, err := h.deals.SubmitEvent(deal.ID, outsider.ID, models.UserTypeBuyer, dealflow.SellerAgrees())
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestSubmitEventWrongParty(t *testing.T) {
	h := newTestHarness(t, models.PlatformYouTube)
	deal := h.createDeal(t)

	// The buyer cannot agree on the seller's behalf.
	_, _, err := h.deals.SubmitEvent(deal.ID, h.buyer.ID, models.UserTypeBuyer, dealflow.SellerAgrees())
	var unauthorized *dealflow.UnauthorizedError
	assert.ErrorAs(t, err, &unauthorized)
}

func TestSubmitEventUnknownDeal(t *testing.T) {
	h := newTestHarness(t, models.PlatformYouTube)

	_, _, err := h.deals.SubmitEvent(uuid.New(), h.buyer.ID, models.UserTypeBuyer, dealflow.SellerAgrees())
	assert.ErrorIs(t, err, ErrDealNotFound)
}

func TestDuplicateEventIsIdempotent(t *testing.T) {
	h := newTestHarness(t, models.PlatformYouTube)
	deal := h.createDeal(t)

	_, changed, err := h.deals.SubmitEvent(deal.ID, h.seller.ID, models.UserTypeSeller, dealflow.SellerAgrees())
	require.NoError(t, err)
	require.True(t, changed)

	updated, changed, err := h.deals.SubmitEvent(deal.ID, h.seller.ID, models.UserTypeSeller, dealflow.SellerAgrees())
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 1, updated.Version) // no extra save
}

func TestDuplicateFeeSettlementIsIdempotent(t *testing.T) {
	h := newTestHarness(t, models.PlatformYouTube)
	deal := h.createDeal(t)

	_, _, err := h.deals.SubmitEvent(deal.ID, h.seller.ID, models.UserTypeSeller, dealflow.SellerAgrees())
	require.NoError(t, err)

	_, changed, err := h.deals.RecordFeePaid(deal.ID, models.PayerBuyer, "card")
	require.NoError(t, err)
	require.True(t, changed)

	// The same gateway confirmation delivered again.
	updated, changed, err := h.deals.RecordFeePaid(deal.ID, models.PayerBuyer, "card")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, models.PayerBuyer, updated.FeePaidBy)
}

func TestStaleSaveLosesToConcurrentWriter(t *testing.T) {
	h := newTestHarness(t, models.PlatformYouTube)
	deal := h.createDeal(t)

	// Load a copy, then let another writer commit first.
	var stale models.Deal
	require.NoError(t, h.db.First(&stale, "id = ?", deal.ID).Error)

	_, changed, err := h.deals.SubmitEvent(deal.ID, h.seller.ID, models.UserTypeSeller, dealflow.SellerAgrees())
	require.NoError(t, err)
	require.True(t, changed)

	// The stale copy's guarded save must not clobber the newer version.
	_, err = dealflow.Apply(&stale, dealflow.SellerAgrees(), dealflow.ActorSeller, h.now, h.deals.Rules())
	require.NoError(t, err)
	err = h.deals.saveTransition(&stale)
	assert.ErrorIs(t, err, ErrConcurrencyConflict)
}

func TestEvidenceSurvivesConcurrentTransition(t *testing.T) {
	h := newTestHarness(t, models.PlatformYouTube)
	deal := h.createDeal(t)

	// A transition is loaded while the seller's evidence upload commits.
	var stale models.Deal
	require.NoError(t, h.db.First(&stale, "id = ?", deal.ID).Error)

	require.NoError(t, h.deals.AttachEvidence(deal.ID, h.seller.ID, "deal-evidence/x/shot.png"))

	// The evidence write bumped the version, so the stale save loses.
	_, err := dealflow.Apply(&stale, dealflow.SellerAgrees(), dealflow.ActorSeller, h.now, h.deals.Rules())
	require.NoError(t, err)
	assert.ErrorIs(t, h.deals.saveTransition(&stale), ErrConcurrencyConflict)

	// The retried submit reloads fresh state and carries the key forward.
	updated, changed, err := h.deals.SubmitEvent(deal.ID, h.seller.ID, models.UserTypeSeller, dealflow.SellerAgrees())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "deal-evidence/x/shot.png", updated.AccessEvidenceKey)

	var final models.Deal
	require.NoError(t, h.db.First(&final, "id = ?", deal.ID).Error)
	assert.Equal(t, "deal-evidence/x/shot.png", final.AccessEvidenceKey)
}

func TestAttachEvidenceSellerOnly(t *testing.T) {
	h := newTestHarness(t, models.PlatformYouTube)
	deal := h.createDeal(t)

	err := h.deals.AttachEvidence(deal.ID, h.buyer.ID, "deal-evidence/x/shot.png")
	assert.ErrorIs(t, err, ErrForbidden)

	err = h.deals.AttachEvidence(uuid.New(), h.seller.ID, "deal-evidence/x/shot.png")
	assert.ErrorIs(t, err, ErrDealNotFound)
}

func TestSubmitRetriesAfterLostRace(t *testing.T) {
	h := newTestHarness(t, models.PlatformYouTube)
	deal := h.createDeal(t)

	_, _, err := h.deals.SubmitEvent(deal.ID, h.seller.ID, models.UserTypeSeller, dealflow.SellerAgrees())
	require.NoError(t, err)

	// Two different webhook deliveries racing on fee settlement: whichever
	// loses the version check reloads and lands on the idempotent no-op.
	_, changed1, err := h.deals.RecordFeePaid(deal.ID, models.PayerBuyer, "card")
	require.NoError(t, err)
	_, changed2, err := h.deals.RecordFeePaid(deal.ID, models.PayerBuyer, "crypto")
	require.NoError(t, err)

	assert.True(t, changed1)
	assert.False(t, changed2)

	var final models.Deal
	require.NoError(t, h.db.First(&final, "id = ?", deal.ID).Error)
	assert.Equal(t, "card", final.FeePaidMethod)
	assert.Equal(t, 2, final.Version)
}

// TestRandomOrderSubmissionsConverge replays the full set of lifecycle
// submissions in shuffled order, round after round, the way impatient
// clients and retried webhooks hit the real service. Out-of-turn events
// bounce with typed errors and the deal still converges on the same
// completed state with exactly one save per accepted transition.
func TestRandomOrderSubmissionsConverge(t *testing.T) {
	for iter := 0; iter < 10; iter++ {
		rng := rand.New(rand.NewSource(int64(iter)))
		h := newTestHarness(t, models.PlatformYouTube)
		deal := h.createDeal(t)

		submissions := []func() error{
			func() error {
				_, _, err := h.deals.SubmitEvent(deal.ID, h.seller.ID, models.UserTypeSeller, dealflow.SellerAgrees())
				return err
			},
			func() error {
				_, _, err := h.deals.RecordFeePaid(deal.ID, models.PayerBuyer, "card")
				return err
			},
			func() error {
				_, _, err := h.deals.SubmitEvent(deal.ID, h.seller.ID, models.UserTypeSeller, dealflow.AgentAccessGranted(""))
				return err
			},
			func() error {
				_, _, err := h.deals.CompleteTimer(deal.ID)
				return err
			},
			func() error {
				_, _, err := h.deals.SubmitEvent(deal.ID, h.admin.ID, models.UserTypeAdmin, dealflow.PromoteAgent())
				return err
			},
			func() error {
				_, _, err := h.deals.SubmitEvent(deal.ID, h.buyer.ID, models.UserTypeBuyer, dealflow.BuyerPaidSeller())
				return err
			},
			func() error {
				_, _, err := h.deals.SubmitEvent(deal.ID, h.seller.ID, models.UserTypeSeller, dealflow.SellerConfirmedPayment())
				return err
			},
		}

		for round := 0; round < 12; round++ {
			rng.Shuffle(len(submissions), func(i, j int) {
				submissions[i], submissions[j] = submissions[j], submissions[i]
			})
			for _, submit := range submissions {
				if err := submit(); err != nil {
					var invalid *dealflow.InvalidTransitionError
					var unauthorized *dealflow.UnauthorizedError
					require.True(t, errors.As(err, &invalid) || errors.As(err, &unauthorized),
						"iter=%d round=%d: unexpected error %v", iter, round, err)
				}
			}
			h.advanceClock(3 * 24 * time.Hour)
		}

		var final models.Deal
		require.NoError(t, h.db.First(&final, "id = ?", deal.ID).Error)
		assert.Equal(t, models.DealStatusCompleted, final.Status, "iter=%d", iter)
		assert.Equal(t, 7, final.Version, "iter=%d", iter)
		assert.Equal(t, dealflow.DeriveStatus(&final), final.Status)
	}
}

func TestProjectDealCountdown(t *testing.T) {
	h := newTestHarness(t, models.PlatformYouTube)
	deal := h.createDeal(t)

	_, _, err := h.deals.SubmitEvent(deal.ID, h.seller.ID, models.UserTypeSeller, dealflow.SellerAgrees())
	require.NoError(t, err)
	_, _, err = h.deals.RecordFeePaid(deal.ID, models.PayerBuyer, "card")
	require.NoError(t, err)
	updated, _, err := h.deals.SubmitEvent(deal.ID, h.seller.ID, models.UserTypeSeller, dealflow.AgentAccessGranted(""))
	require.NoError(t, err)

	p := h.deals.ProjectDeal(updated, h.buyer.ID)
	assert.True(t, p.TimerActive)
	assert.Equal(t, int64(7*24*3600), p.TimerRemainingSeconds)
	assert.Equal(t, "08 Mar 2026 12:00 UTC", p.TimerExpiresFormatted)
	assert.Equal(t, models.UserTypeBuyer, p.Role)

	h.advanceClock(3 * 24 * time.Hour)
	p = h.deals.ProjectDeal(updated, h.seller.ID)
	assert.Equal(t, int64(4*24*3600), p.TimerRemainingSeconds)
	assert.Equal(t, models.UserTypeSeller, p.Role)

	// Past expiry the countdown clamps at zero.
	h.advanceClock(5 * 24 * time.Hour)
	p = h.deals.ProjectDeal(updated, h.buyer.ID)
	assert.Equal(t, int64(0), p.TimerRemainingSeconds)
}

func TestGetDealAccessControl(t *testing.T) {
	h := newTestHarness(t, models.PlatformYouTube)
	deal := h.createDeal(t)
	outsider := createTestUser(t, h.db, models.UserTypeBuyer)

	_, err := h.deals.GetDeal(deal.ID, h.buyer.ID, models.UserTypeBuyer)
	assert.NoError(t, err)

	_, err = h.deals.GetDeal(deal.ID, outsider.ID, models.UserTypeBuyer)
	assert.ErrorIs(t, err, ErrForbidden)

	// Admins see everything.
	_, err = h.deals.GetDeal(deal.ID, h.admin.ID, models.UserTypeAdmin)
	assert.NoError(t, err)
}

func TestPostAndListMessages(t *testing.T) {
	h := newTestHarness(t, models.PlatformTelegram)
	deal := h.createDeal(t)

	msg, err := h.deals.PostMessage(deal.ID, h.buyer.ID, models.UserTypeBuyer, "when can you hand over access?")
	require.NoError(t, err)
	assert.Equal(t, models.MessageKindUser, msg.Kind)
	require.NotNil(t, msg.SenderID)
	assert.Equal(t, h.buyer.ID, *msg.SenderID)

	outsider := createTestUser(t, h.db, models.UserTypeBuyer)
	_, err = h.deals.PostMessage(deal.ID, outsider.ID, models.UserTypeBuyer, "hi")
	assert.ErrorIs(t, err, ErrForbidden)

	result, err := h.deals.ListMessages(deal.ID, h.seller.ID, models.UserTypeSeller, paginationDefaults())
	require.NoError(t, err)
	messages := result.Data.([]models.DealMessage)
	require.NotEmpty(t, messages)
	found := false
	for _, m := range messages {
		if m.Body == "when can you hand over access?" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestListUserDeals(t *testing.T) {
	h := newTestHarness(t, models.PlatformYouTube)
	h.createDeal(t)
	h.createDeal(t)

	result, err := h.deals.ListUserDeals(h.buyer.ID, "", paginationDefaults())
	require.NoError(t, err)
	assert.EqualValues(t, 2, result.Total)

	result, err = h.deals.ListUserDeals(h.seller.ID, string(models.DealStatusPending), paginationDefaults())
	require.NoError(t, err)
	assert.EqualValues(t, 2, result.Total)

	outsider := createTestUser(t, h.db, models.UserTypeBuyer)
	result, err = h.deals.ListUserDeals(outsider.ID, "", paginationDefaults())
	require.NoError(t, err)
	assert.EqualValues(t, 0, result.Total)
}
