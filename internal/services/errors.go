// internal/services/errors.go
package services

import "errors"

// Sentinel errors shared across services. Handlers map these onto the
// response envelope; everything else surfaces as a 500.
var (
	ErrDealNotFound       = errors.New("deal not found")
	ErrListingNotFound    = errors.New("listing not found")
	ErrListingUnavailable = errors.New("listing is not available")
	ErrUserNotFound       = errors.New("user not found")
	ErrPaymentNotFound    = errors.New("payment not found")

	// ErrForbidden means the caller is neither a party to the deal nor an
	// admin.
	ErrForbidden = errors.New("not a party to this deal")

	// ErrConcurrencyConflict is returned once the optimistic save retries
	// are exhausted.
	ErrConcurrencyConflict = errors.New("deal was modified concurrently")

	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrInvalidCurrency    = errors.New("unsupported pay currency")
	ErrSignatureInvalid   = errors.New("webhook signature verification failed")
	ErrFeeAlreadyPaid     = errors.New("escrow fee already paid")
	ErrFeeNotDue          = errors.New("escrow fee is not due yet")
)
