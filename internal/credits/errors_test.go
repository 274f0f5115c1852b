package credits

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestUserMessageMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"unauthorized", ErrUnauthorized, "No active session. Please sign in or enable cookies."},
		{"wrapped unauthorized", fmt.Errorf("resolve: %w", ErrUnauthorized), "No active session. Please sign in or enable cookies."},
		{"not found", ErrNotFound, "Account or session not found."},
		{"validation", &ValidationError{Reason: "amount must be a positive integer"}, "Invalid request: amount must be a positive integer."},
		{"insufficient", &InsufficientCreditsError{Required: 5, Available: 2}, "Insufficient credits: this requires 5 but you have 2."},
		{"unknown", errors.New("disk on fire"), "Something went wrong. Please try again."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := UserMessage(tc.err); got != tc.want {
				t.Errorf("UserMessage() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestStartOfDay(t *testing.T) {
	// 23:59 UTC and 00:01 UTC the next day fall on different grant days.
	late := time.Date(2026, 1, 5, 23, 59, 0, 0, time.UTC)
	early := time.Date(2026, 1, 6, 0, 1, 0, 0, time.UTC)
	if !StartOfDay(late).Before(StartOfDay(early)) {
		t.Error("expected distinct UTC calendar days")
	}
	if got := StartOfDay(early); got != time.Date(2026, 1, 6, 0, 0, 0, 0, time.UTC) {
		t.Errorf("StartOfDay = %v, want midnight UTC", got)
	}

	// Non-UTC inputs normalize to the UTC date.
	est := time.FixedZone("EST", -5*3600)
	evening := time.Date(2026, 1, 5, 20, 0, 0, 0, est) // 01:00 UTC Jan 6
	if got := StartOfDay(evening); got != time.Date(2026, 1, 6, 0, 0, 0, 0, time.UTC) {
		t.Errorf("StartOfDay = %v, want Jan 6 UTC", got)
	}
}
