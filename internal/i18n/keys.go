// internal/i18n/keys.go
package i18n

// Translation keys constants
const (
	// Common
	KeySuccess = "success"
	KeyError   = "error"

	// Authentication
	KeyAuthRequired     = "auth.required"
	KeyAuthInvalidToken = "auth.invalid_token"
	KeyAuthTokenExpired = "auth.token_expired"

	// Deals
	KeyDealNotFound          = "deal.not_found"
	KeyDealForbidden         = "deal.forbidden"
	KeyDealInvalidTransition = "deal.invalid_transition"
	KeyDealConflictRetry     = "deal.conflict_retry"
	KeyDealCreated           = "deal.created"
	KeyDealCompleted         = "deal.completed"

	// Deal chat system messages. The state machine posts these into the
	// deal thread on every transition.
	KeyDealMsgOpened             = "deal.msg.opened"
	KeyDealMsgSellerAgreed       = "deal.msg.seller_agreed"
	KeyDealMsgFeePaid            = "deal.msg.fee_paid"
	KeyDealMsgAccessGranted      = "deal.msg.access_granted"
	KeyDealMsgAccessGrantedTimer = "deal.msg.access_granted_timer"
	KeyDealMsgTimerComplete      = "deal.msg.timer_complete"
	KeyDealMsgAgentPromoted      = "deal.msg.agent_promoted"
	KeyDealMsgBuyerPaid          = "deal.msg.buyer_paid"
	KeyDealMsgCompleted          = "deal.msg.completed"

	// Listings
	KeyListingNotFound    = "listing.not_found"
	KeyListingUnavailable = "listing.unavailable"

	// Payments
	KeyPaymentNotFound        = "payment.not_found"
	KeyPaymentGatewayDown     = "payment.gateway_down"
	KeyPaymentInvalidCurrency = "payment.invalid_currency"
	KeyPaymentCreated         = "payment.created"

	// Admin
	KeyAdminActionSuccess = "admin.action_success"
	KeyAdminAccessDenied  = "admin.access_denied"

	// Validation
	KeyValidationRequired = "validation.required"
	KeyValidationInvalid  = "validation.invalid"

	// File Upload
	KeyFileUploadSuccess = "file.upload_success"
	KeyFileUploadFailed  = "file.upload_failed"
	KeyFileInvalidType   = "file.invalid_type"
	KeyFileTooLarge      = "file.too_large"
)
