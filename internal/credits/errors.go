package credits

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized means no resolvable identity where one is required,
	// or a guest bearer-credential/fingerprint mismatch.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound means the referenced account or guest session does not
	// exist or has expired.
	ErrNotFound = errors.New("not found")
)

// ValidationError reports malformed input, distinct from business failures
// like an insufficient balance.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// InsufficientCreditsError is returned when a deduction would drive a
// balance negative. It carries both sides for caller-facing messaging.
type InsufficientCreditsError struct {
	Required  int
	Available int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: need %d, have %d", e.Required, e.Available)
}

// UserMessage maps any error from the credit core to a stable, user-safe
// string. Unrecognized errors collapse to a generic fallback; details stay
// in the logs.
func UserMessage(err error) string {
	var insufficient *InsufficientCreditsError
	var validation *ValidationError
	switch {
	case errors.As(err, &insufficient):
		return fmt.Sprintf("Insufficient credits: this requires %d but you have %d.", insufficient.Required, insufficient.Available)
	case errors.As(err, &validation):
		return "Invalid request: " + validation.Reason + "."
	case errors.Is(err, ErrUnauthorized):
		return "No active session. Please sign in or enable cookies."
	case errors.Is(err, ErrNotFound):
		return "Account or session not found."
	default:
		return "Something went wrong. Please try again."
	}
}
