package domain

import "errors"

// Domain errors
var (
	// Reservation errors
	ErrReservationNotFound = errors.New("reservation not found")
	ErrReservationExpired  = errors.New("reservation has expired")
	ErrAlreadyConfirmed    = errors.New("reservation already confirmed")
	ErrNotPending          = errors.New("reservation is not pending")

	// Facility errors
	ErrFacilityNotFound = errors.New("facility not found")
	ErrFacilityInactive = errors.New("facility is not active")

	// Block errors
	ErrBlockNotFound = errors.New("block not found")

	// Validation errors
	ErrInvalidTimeRange  = errors.New("invalid time range")
	ErrInvalidDate       = errors.New("invalid date")
	ErrEmptySlotSet      = errors.New("slot set must not be empty")
	ErrInvalidAmount     = errors.New("amount cannot be negative")
	ErrMissingCustomer   = errors.New("customer name and phone are required")
	ErrMissingPaymentRef = errors.New("external payment reference is required")

	// Webhook errors
	ErrInvalidSignature   = errors.New("invalid webhook signature")
	ErrStaleTimestamp     = errors.New("webhook timestamp outside accepted skew")
	ErrMissingBookingData = errors.New("missing booking metadata")

	// Store errors
	ErrTransactionAbort = errors.New("transaction aborted due to contention")
)

// IsNotFoundError checks if the error is a not found error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrReservationNotFound) ||
		errors.Is(err, ErrFacilityNotFound) ||
		errors.Is(err, ErrBlockNotFound)
}

// IsValidationError checks if the error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidTimeRange) ||
		errors.Is(err, ErrInvalidDate) ||
		errors.Is(err, ErrEmptySlotSet) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrMissingCustomer) ||
		errors.Is(err, ErrMissingPaymentRef)
}

// IsWebhookRejection checks if the error is a webhook-side rejection that
// gains nothing from a retry
func IsWebhookRejection(err error) bool {
	return errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrStaleTimestamp) ||
		errors.Is(err, ErrMissingBookingData)
}
