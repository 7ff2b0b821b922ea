package circulation

import "errors"

// Borrow outcomes. Every error returned by Service.Borrow matches exactly one
// of these with errors.Is.
var (
	// ErrInvalidRequest is returned for malformed identifiers, before any store access.
	ErrInvalidRequest = errors.New("invalid borrow request")

	// ErrQuotaExceeded is returned when the member already holds MaxActiveLoans loans.
	ErrQuotaExceeded = errors.New("member has reached the active loan limit")

	// ErrNoCopyAvailable is returned when the book has no available copy or does not exist.
	ErrNoCopyAvailable = errors.New("no copy of the book is available")

	// ErrConflict is returned when every claim attempt lost a race and the retry budget is spent.
	ErrConflict = errors.New("lost the race for an available copy")

	// ErrStoreUnavailable is returned for infrastructure failures. Nothing was committed
	// and the call is safe to retry.
	ErrStoreUnavailable = errors.New("circulation store unavailable")
)

// ErrCopyClaimed is returned by Tx.ClaimCopy when the copy is no longer available.
var ErrCopyClaimed = errors.New("copy already claimed")

// Kind returns a short machine-readable name for a borrow outcome.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, ErrNoCopyAvailable):
		return "no_copy_available"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	}
	return "other"
}
