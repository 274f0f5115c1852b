package model

import "time"

type User struct {
	ID                int64      `json:"id"`
	Email             string     `json:"email"`
	PasswordHash      string     `json:"-"`
	Credits           int        `json:"credits"`
	LastDailyCreditAt *time.Time `json:"last_daily_credit_at"`
	StripeCustomerID  *string    `json:"-"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

type Session struct {
	ID        int64     `json:"id"`
	Token     string    `json:"-"`
	UserID    int64     `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}
