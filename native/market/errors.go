package market

import "errors"

// Failure taxonomy shared by every marketplace operation. Callers classify
// failures with errors.Is; operation-specific detail is wrapped around these
// sentinels.
var (
	// ErrInvalidInput marks an empty, zero, or non-positive field.
	ErrInvalidInput = errors.New("market: invalid input")
	// ErrNotFound marks a reference to an id with no record.
	ErrNotFound = errors.New("market: not found")
	// ErrNotOwner marks a caller who lacks ownership of the entity.
	ErrNotOwner = errors.New("market: caller is not the owner")
	// ErrNotAuthorized marks a caller who lacks the required relation to the
	// deal.
	ErrNotAuthorized = errors.New("market: caller not authorized")
	// ErrInvalidState marks an operation not valid for the entity's current
	// lifecycle state, including races where a listing or interest was
	// retired between deal steps.
	ErrInvalidState = errors.New("market: invalid state for operation")
	// ErrInsufficientPayment marks an attached payment below the agreed
	// price.
	ErrInsufficientPayment = errors.New("market: insufficient payment")
)
