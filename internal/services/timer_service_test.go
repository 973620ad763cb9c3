// internal/services/timer_service_test.go
package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chanvault/chanvault-backend/internal/dealflow"
	"github.com/chanvault/chanvault-backend/internal/models"
)

func setupTimedDeal(t *testing.T, h *testHarness) *models.Deal {
	t.Helper()
	deal := h.createDeal(t)

	_, _, err := h.deals.SubmitEvent(deal.ID, h.seller.ID, models.UserTypeSeller, dealflow.SellerAgrees())
	require.NoError(t, err)
	_, _, err = h.deals.RecordFeePaid(deal.ID, models.PayerBuyer, "card")
	require.NoError(t, err)
	updated, _, err := h.deals.SubmitEvent(deal.ID, h.seller.ID, models.UserTypeSeller, dealflow.AgentAccessGranted(""))
	require.NoError(t, err)
	return updated
}

func TestSweepIgnoresRunningTimers(t *testing.T) {
	h := newTestHarness(t, models.PlatformYouTube)
	setupTimedDeal(t, h)

	h.advanceClock(6 * 24 * time.Hour)
	n, err := h.timers.SweepOnce()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSweepCompletesExpiredTimers(t *testing.T) {
	h := newTestHarness(t, models.PlatformYouTube)
	deal := setupTimedDeal(t, h)

	h.advanceClock(7*24*time.Hour + time.Second)
	n, err := h.timers.SweepOnce()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var reloaded models.Deal
	require.NoError(t, h.db.First(&reloaded, "id = ?", deal.ID).Error)
	assert.True(t, reloaded.TimerCompleted)
	assert.Equal(t, models.DealStatusPromotionTimerComplete, reloaded.Status)

	// A second sweep finds nothing left to do.
	n, err = h.timers.SweepOnce()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSweepSkipsPlatformsWithoutHold(t *testing.T) {
	h := newTestHarness(t, models.PlatformTelegram)
	deal := setupTimedDeal(t, h)
	assert.Nil(t, deal.RightsTimerExpiresAt)

	h.advanceClock(30 * 24 * time.Hour)
	n, err := h.timers.SweepOnce()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSweepHandlesMultipleDeals(t *testing.T) {
	h := newTestHarness(t, models.PlatformYouTube)
	first := setupTimedDeal(t, h)

	h.advanceClock(2 * 24 * time.Hour)
	second := setupTimedDeal(t, h)

	// Only the first deal's hold has elapsed.
	h.advanceClock(5*24*time.Hour + time.Second)
	n, err := h.timers.SweepOnce()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var a, b models.Deal
	require.NoError(t, h.db.First(&a, "id = ?", first.ID).Error)
	require.NoError(t, h.db.First(&b, "id = ?", second.ID).Error)
	assert.True(t, a.TimerCompleted)
	assert.False(t, b.TimerCompleted)

	h.advanceClock(2 * 24 * time.Hour)
	n, err = h.timers.SweepOnce()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
