// Package credits defines the credit-ledger domain: grant and spend
// constants and the error taxonomy shared by the user and guest ledgers.
package credits

import "time"

const (
	// InitialGuestCredits is the starter balance for a brand-new guest session.
	InitialGuestCredits = 10

	// InitialUserCredits is the starter balance granted on signup.
	InitialUserCredits = 10

	// DailyCap is the balance ceiling for the daily grant. Purchased credits
	// may exceed it; the grant never pushes a balance past it.
	DailyCap = 10

	// DailyGrant is the amount added by one successful daily grant.
	DailyGrant = 1

	// MaxDeductAmount bounds a single deduction; larger requests are
	// rejected as validation failures before touching the store.
	MaxDeductAmount = 100

	// GuestSessionTTL is the sliding guest-session lifetime. Every
	// successful validation or credit operation pushes expiry forward by
	// this much, so sessions stay alive through use.
	GuestSessionTTL = 7 * 24 * time.Hour

	// UserSessionTTL is the authenticated session lifetime.
	UserSessionTTL = 90 * 24 * time.Hour
)

// StartOfDay returns midnight UTC of the calendar day containing t. Daily
// grants reset at the UTC date boundary, not on a rolling 24-hour window.
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
