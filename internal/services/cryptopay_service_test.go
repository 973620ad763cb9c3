// internal/services/cryptopay_service_test.go
package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chanvault/chanvault-backend/internal/dealflow"
	"github.com/chanvault/chanvault-backend/internal/models"
)

func signIPN(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func newCryptoService(h *testHarness, gatewayURL string) *CryptoPayService {
	cfg := *h.cfg
	cfg.Payment.CryptoBaseURL = gatewayURL
	return NewCryptoPayService(h.db, &cfg, h.deals)
}

func TestVerifyWebhook(t *testing.T) {
	h := newTestHarness(t, models.PlatformYouTube)
	svc := newCryptoService(h, "http://gateway.invalid")

	body := []byte(`{"payment_id":4093829,"payment_status":"finished","order_id":"CV-ABCDEFGH"}`)
	sig := signIPN("test-ipn-secret", body)

	payload, err := svc.VerifyWebhook(body, sig)
	require.NoError(t, err)
	assert.Equal(t, "finished", payload.PaymentStatus)
	assert.Equal(t, "4093829", payload.PaymentID.String())
	assert.Equal(t, "CV-ABCDEFGH", payload.OrderID)

	// 0x-prefixed and uppercase hex are accepted.
	_, err = svc.VerifyWebhook(body, "0x"+sig)
	assert.NoError(t, err)
}

func TestVerifyWebhookRejectsTamperedBody(t *testing.T) {
	h := newTestHarness(t, models.PlatformYouTube)
	svc := newCryptoService(h, "http://gateway.invalid")

	body := []byte(`{"payment_id":4093829,"payment_status":"waiting"}`)
	sig := signIPN("test-ipn-secret", body)

	tampered := []byte(`{"payment_id":4093829,"payment_status":"finished"}`)
	_, err := svc.VerifyWebhook(tampered, sig)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerifyWebhookRejectsWrongSecret(t *testing.T) {
	h := newTestHarness(t, models.PlatformYouTube)
	svc := newCryptoService(h, "http://gateway.invalid")

	body := []byte(`{"payment_id":1,"payment_status":"finished"}`)
	_, err := svc.VerifyWebhook(body, signIPN("some-other-secret", body))
	assert.ErrorIs(t, err, ErrSignatureInvalid)

	_, err = svc.VerifyWebhook(body, "")
	assert.ErrorIs(t, err, ErrSignatureInvalid)

	_, err = svc.VerifyWebhook(body, "not-hex!")
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerifyWebhookRequiresConfiguredSecret(t *testing.T) {
	h := newTestHarness(t, models.PlatformYouTube)
	cfg := *h.cfg
	cfg.Payment.CryptoIPNSecret = ""
	svc := NewCryptoPayService(h.db, &cfg, h.deals)

	body := []byte(`{"payment_id":1,"payment_status":"finished"}`)
	_, err := svc.VerifyWebhook(body, signIPN("", body))
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestCreateCryptoPayment(t *testing.T) {
	h := newTestHarness(t, models.PlatformYouTube)
	deal := h.createDeal(t)
	_, _, err := h.deals.SubmitEvent(deal.ID, h.seller.ID, models.UserTypeSeller, dealflow.SellerAgrees())
	require.NoError(t, err)

	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payment", r.URL.Path)
		assert.Equal(t, "test-api-key", r.Header.Get("x-api-key"))

		var req cryptoPaymentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 200.0, req.PriceAmount)
		assert.Equal(t, "usd", req.PriceCurrency)
		assert.Equal(t, "btc", req.PayCurrency)
		assert.Equal(t, deal.Reference, req.OrderID)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"payment_id":     5524759814,
			"payment_status": "waiting",
			"pay_address":    "bc1qxy2kgdygjrsqtzq2n0yrf2493p83kkfjhx0wlh",
			"pay_amount":     0.0031,
			"pay_currency":   "btc",
			"price_amount":   200.0,
			"price_currency": "usd",
		})
	}))
	defer gateway.Close()

	svc := newCryptoService(h, gateway.URL)
	result, err := svc.CreateCryptoPayment(context.Background(), deal.ID, h.buyer.ID, "BTC")
	require.NoError(t, err)
	assert.Equal(t, "5524759814", result.ExternalID)
	assert.Equal(t, "bc1qxy2kgdygjrsqtzq2n0yrf2493p83kkfjhx0wlh", result.PayAddress)
	assert.Equal(t, 0.0031, result.PayAmount)
	assert.Equal(t, "waiting", result.Status)

	var intent models.PaymentIntent
	require.NoError(t, h.db.First(&intent, "external_id = ?", "5524759814").Error)
	assert.Equal(t, models.PaymentProviderCrypto, intent.Provider)
	assert.Equal(t, models.PayerBuyer, intent.PayerRole)
	assert.Equal(t, deal.EscrowFee, intent.Amount)
}

func TestCreateCryptoPaymentInvalidCurrency(t *testing.T) {
	h := newTestHarness(t, models.PlatformYouTube)
	deal := h.createDeal(t)
	_, _, err := h.deals.SubmitEvent(deal.ID, h.seller.ID, models.UserTypeSeller, dealflow.SellerAgrees())
	require.NoError(t, err)

	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"message": "Currency dogecoin2 was not found",
		})
	}))
	defer gateway.Close()

	svc := newCryptoService(h, gateway.URL)
	_, err = svc.CreateCryptoPayment(context.Background(), deal.ID, h.buyer.ID, "dogecoin2")
	assert.ErrorIs(t, err, ErrInvalidCurrency)

	_, err = svc.CreateCryptoPayment(context.Background(), deal.ID, h.buyer.ID, "  ")
	assert.ErrorIs(t, err, ErrInvalidCurrency)
}

func TestCreateCryptoPaymentGatewayDown(t *testing.T) {
	h := newTestHarness(t, models.PlatformYouTube)
	deal := h.createDeal(t)
	_, _, err := h.deals.SubmitEvent(deal.ID, h.seller.ID, models.UserTypeSeller, dealflow.SellerAgrees())
	require.NoError(t, err)

	// A server that is no longer listening.
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	gateway.Close()

	svc := newCryptoService(h, gateway.URL)
	_, err = svc.CreateCryptoPayment(context.Background(), deal.ID, h.buyer.ID, "btc")
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
}

func TestHandleWebhookSettlesFee(t *testing.T) {
	h := newTestHarness(t, models.PlatformYouTube)
	deal, _ := feeDealWithIntent(t, h, models.PaymentProviderCrypto, "5524759814")
	svc := newCryptoService(h, "http://gateway.invalid")

	body := []byte(`{"payment_id":5524759814,"payment_status":"finished","order_id":"` + deal.Reference + `"}`)
	require.NoError(t, svc.HandleWebhook(body, signIPN("test-ipn-secret", body)))

	var reloaded models.Deal
	require.NoError(t, h.db.First(&reloaded, "id = ?", deal.ID).Error)
	assert.True(t, reloaded.FeePaid)
	assert.Equal(t, "crypto", reloaded.FeePaidMethod)

	// Redelivery is acknowledged without effect.
	require.NoError(t, svc.HandleWebhook(body, signIPN("test-ipn-secret", body)))
}

func TestNormalizeCryptoStatus(t *testing.T) {
	cases := []struct {
		in   string
		want models.PaymentIntentStatus
	}{
		{"waiting", models.PaymentStatusWaiting},
		{"confirming", models.PaymentStatusConfirming},
		{"confirmed", models.PaymentStatusConfirming},
		{"sending", models.PaymentStatusConfirming},
		{"partially_paid", models.PaymentStatusConfirming},
		{"finished", models.PaymentStatusFinished},
		{"FINISHED", models.PaymentStatusFinished},
		{"failed", models.PaymentStatusFailed},
		{"refunded", models.PaymentStatusFailed},
		{"expired", models.PaymentStatusExpired},
		{"", models.PaymentStatusWaiting},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, normalizeCryptoStatus(tc.in), "status %q", tc.in)
	}
}
