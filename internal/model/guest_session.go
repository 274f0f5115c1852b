package model

import "time"

// GuestSession is an anonymous visitor's session row. The id plus the
// access token and session secret form the bearer credential required to
// mutate the session; the fingerprint is a separate recovery channel for
// clients that lost their cookies but kept the same device.
type GuestSession struct {
	ID                string     `json:"id"`
	Credits           int        `json:"credits"`
	AccessToken       string     `json:"-"`
	SessionSecret     string     `json:"-"`
	Fingerprint       string     `json:"-"`
	LastDailyCreditAt *time.Time `json:"last_daily_credit_at"`
	IPAddress         string     `json:"-"`
	UserAgent         string     `json:"-"`
	ExpiresAt         time.Time  `json:"expires_at"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Active reports whether the session has not yet expired.
func (g *GuestSession) Active(now time.Time) bool {
	return g.ExpiresAt.After(now)
}
