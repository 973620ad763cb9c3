// internal/utils/validator.go
package utils

import (
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/chanvault/chanvault-backend/internal/models"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterValidation("platform_type", validatePlatformType)
	validate.RegisterValidation("payment_method", validatePaymentMethod)

	// Gin binds request structs through its own validator instance; the
	// custom tags must exist there as well.
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("platform_type", validatePlatformType)
		v.RegisterValidation("payment_method", validatePaymentMethod)
	}
}

func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}

func validatePlatformType(fl validator.FieldLevel) bool {
	switch models.PlatformType(fl.Field().String()) {
	case models.PlatformYouTube, models.PlatformTelegram, models.PlatformInstagram,
		models.PlatformTikTok, models.PlatformTwitter:
		return true
	}
	return false
}

// Payment method tags a buyer may declare as acceptable for settling with
// the seller.
func validatePaymentMethod(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "card", "crypto", "bank_transfer", "paypal":
		return true
	}
	return false
}

// Validation tags for common fields
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

func GetValidationErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		for _, e := range validationErrs {
			validationErrors = append(validationErrors, ValidationError{
				Field:   strings.ToLower(e.Field()),
				Tag:     e.Tag(),
				Message: getValidationMessage(e),
			})
		}
	}

	return validationErrors
}

func getValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return e.Field() + " is required"
	case "email":
		return "Invalid email format"
	case "min":
		return e.Field() + " must be at least " + e.Param()
	case "max":
		return e.Field() + " must be at most " + e.Param()
	case "platform_type":
		return "Unknown platform type"
	case "payment_method":
		return "Unknown payment method"
	default:
		return e.Field() + " is invalid"
	}
}
