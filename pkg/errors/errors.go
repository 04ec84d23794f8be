package apperrors

import "errors"

// Transient errors: the operation may succeed if retried. Retry loops
// classify with IsTransient; exhaustion degrades the tick, not the process.
var (
	ErrNetwork           = errors.New("network error")
	ErrTimeout           = errors.New("request timed out")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrVenueUnavailable  = errors.New("venue unavailable")
)

// Data errors: one bad row or fill. The offending record is skipped and
// logged; processing continues with the next record.
var (
	ErrMalformedRow         = errors.New("malformed row")
	ErrDuplicateTransaction = errors.New("duplicate transaction")
	ErrInvalidQuantity      = errors.New("invalid quantity")
	ErrInvalidPrice         = errors.New("invalid price")
)

// Structural errors: no further progress is possible without operator
// action. These are the only errors allowed to terminate a loop.
var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrStateCorrupted       = errors.New("state store corrupted")
	ErrStateLocked          = errors.New("state store locked by another instance")
	ErrInvalidConfig        = errors.New("invalid configuration")
)

// IsTransient reports whether err belongs to the retryable class.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimitExceeded) ||
		errors.Is(err, ErrVenueUnavailable)
}

// IsStructural reports whether err requires operator action. Loops stop
// on these instead of retrying.
func IsStructural(err error) bool {
	return errors.Is(err, ErrAuthenticationFailed) ||
		errors.Is(err, ErrStateCorrupted) ||
		errors.Is(err, ErrStateLocked) ||
		errors.Is(err, ErrInvalidConfig)
}

// IsData reports whether err is a per-record data error.
func IsData(err error) bool {
	return errors.Is(err, ErrMalformedRow) ||
		errors.Is(err, ErrDuplicateTransaction) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidPrice)
}
