package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/lumora-app/lumora/internal/credits"
	"github.com/lumora-app/lumora/internal/model"
)

// GuestStore manages anonymous sessions and their credit balance. A session
// is addressed two ways: by the exact bearer triple (id, access token,
// session secret) or, for recovery only, by device fingerprint. Expired rows
// are invisible on every path.
type GuestStore struct {
	db *sql.DB
}

func NewGuestStore(db *sql.DB) *GuestStore {
	return &GuestStore{db: db}
}

// GuestCredentials is the cookie-carried bearer material presented by a client.
type GuestCredentials struct {
	ID            string
	AccessToken   string
	SessionSecret string
	Fingerprint   string
}

// EnsureResult reports how Ensure satisfied the request.
type EnsureResult struct {
	Session *model.GuestSession
	Created bool
	Rotated bool
}

func scanGuest(scanner interface{ Scan(...any) error }) (*model.GuestSession, error) {
	var g model.GuestSession
	var lastGrant sql.NullTime
	err := scanner.Scan(&g.ID, &g.Credits, &g.AccessToken, &g.SessionSecret, &g.Fingerprint,
		&lastGrant, &g.IPAddress, &g.UserAgent, &g.ExpiresAt, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastGrant.Valid {
		g.LastDailyCreditAt = &lastGrant.Time
	}
	return &g, nil
}

const guestCols = `id, credits, access_token, session_secret, fingerprint, last_daily_credit_at, ip_address, user_agent, expires_at, created_at, updated_at`

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Create allocates a session with starter credits and fresh bearer
// credentials. A uniqueness collision is retried once with all-new
// randomness; at 128-256 bits of entropy this is a safety net, not a
// control path.
func (s *GuestStore) Create(ipAddress, userAgent, fingerprint string) (*model.GuestSession, error) {
	var created *model.GuestSession
	first := true

	backoff := retry.WithMaxRetries(1, retry.NewConstant(time.Millisecond))
	err := retry.Do(context.Background(), backoff, func(ctx context.Context) error {
		accessToken, err := randomHex(32)
		if err != nil {
			return err
		}
		sessionSecret, err := randomHex(32)
		if err != nil {
			return err
		}
		fp := fingerprint
		if fp == "" || !first {
			// A collision on the supplied fingerprint (e.g. with an
			// expired row) also gets fresh randomness on retry.
			fp, err = randomHex(16)
			if err != nil {
				return err
			}
		}
		first = false

		now := time.Now().UTC()
		row := s.db.QueryRow(
			`INSERT INTO guest_sessions (id, credits, access_token, session_secret, fingerprint, ip_address, user_agent, expires_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 RETURNING `+guestCols,
			uuid.NewString(), credits.InitialGuestCredits, accessToken, sessionSecret, fp,
			ipAddress, userAgent, now.Add(credits.GuestSessionTTL),
		)
		created, err = scanGuest(row)
		if isUniqueViolation(err) {
			return retry.RetryableError(err)
		}
		if err != nil {
			return fmt.Errorf("insert guest session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Ensure is the idempotent find-or-create-or-recover used on every
// guest-facing request.
//
//  1. Exact bearer-triple match on an active row: touch and return it.
//  2. Fingerprint match on an active row: rotate the bearer pair (the old
//     one is invalidated), touch, and return it. This preserves the balance
//     for a client that lost its cookies but kept the device fingerprint.
//  3. Otherwise create a new session.
func (s *GuestStore) Ensure(creds GuestCredentials, ipAddress, userAgent string) (*EnsureResult, error) {
	result, err := s.Lookup(creds, ipAddress, userAgent)
	if err != nil || result != nil {
		return result, err
	}

	g, err := s.Create(ipAddress, userAgent, creds.Fingerprint)
	if err != nil {
		return nil, err
	}
	return &EnsureResult{Session: g, Created: true}, nil
}

// Lookup runs the find-or-recover half of Ensure: an exact bearer-triple
// touch, then fingerprint rotation. It returns nil when nothing matches,
// letting callers decide whether a new session gets minted.
func (s *GuestStore) Lookup(creds GuestCredentials, ipAddress, userAgent string) (*EnsureResult, error) {
	now := time.Now().UTC()

	if creds.ID != "" && creds.AccessToken != "" && creds.SessionSecret != "" {
		g, err := s.touch(
			`id = ? AND access_token = ? AND session_secret = ?`,
			[]any{creds.ID, creds.AccessToken, creds.SessionSecret},
			now, ipAddress, userAgent,
		)
		if err != nil {
			return nil, err
		}
		if g != nil {
			return &EnsureResult{Session: g}, nil
		}
	}

	if creds.Fingerprint != "" {
		g, err := s.rotate(creds.Fingerprint, now, ipAddress, userAgent)
		if err != nil {
			return nil, err
		}
		if g != nil {
			return &EnsureResult{Session: g, Rotated: true}, nil
		}
	}

	return nil, nil
}

// Validate is the strict authentication check for mutating calls. No
// recovery happens here: a missing credential, a non-matching triple, or a
// fingerprint that disagrees with the stored one all fail as unauthorized.
// On success the session expiry slides forward.
func (s *GuestStore) Validate(creds GuestCredentials, ipAddress, userAgent string) (*model.GuestSession, error) {
	if creds.ID == "" || creds.AccessToken == "" || creds.SessionSecret == "" {
		return nil, credits.ErrUnauthorized
	}
	now := time.Now().UTC()

	row := s.db.QueryRow(
		`SELECT `+guestCols+` FROM guest_sessions
		 WHERE id = ? AND access_token = ? AND session_secret = ? AND expires_at > ?`,
		creds.ID, creds.AccessToken, creds.SessionSecret, now,
	)
	g, err := scanGuest(row)
	if err == sql.ErrNoRows {
		return nil, credits.ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("validate guest session: %w", err)
	}

	// A supplied fingerprint that disagrees with the stored one means
	// tampering or session confusion, never silent recovery.
	if creds.Fingerprint != "" && creds.Fingerprint != g.Fingerprint {
		return nil, credits.ErrUnauthorized
	}

	refreshed, err := s.touch(`id = ?`, []any{g.ID}, now, ipAddress, userAgent)
	if err != nil {
		return nil, err
	}
	if refreshed == nil {
		return nil, credits.ErrUnauthorized
	}
	return refreshed, nil
}

// touch slides expiry and refreshes provenance on an active row matching
// the condition, returning nil if no such row exists.
func (s *GuestStore) touch(cond string, condArgs []any, now time.Time, ipAddress, userAgent string) (*model.GuestSession, error) {
	args := []any{now.Add(credits.GuestSessionTTL), ipAddress, userAgent, now}
	args = append(args, condArgs...)
	args = append(args, now)

	row := s.db.QueryRow(
		`UPDATE guest_sessions SET expires_at = ?, ip_address = ?, user_agent = ?, updated_at = ?
		 WHERE `+cond+` AND expires_at > ?
		 RETURNING `+guestCols,
		args...,
	)
	g, err := scanGuest(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("touch guest session: %w", err)
	}
	return g, nil
}

// rotate issues a brand-new bearer pair for the active row with the given
// fingerprint, invalidating the old credentials.
func (s *GuestStore) rotate(fingerprint string, now time.Time, ipAddress, userAgent string) (*model.GuestSession, error) {
	accessToken, err := randomHex(32)
	if err != nil {
		return nil, err
	}
	sessionSecret, err := randomHex(32)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRow(
		`UPDATE guest_sessions
		 SET access_token = ?, session_secret = ?, expires_at = ?, ip_address = ?, user_agent = ?, updated_at = ?
		 WHERE fingerprint = ? AND expires_at > ?
		 RETURNING `+guestCols,
		accessToken, sessionSecret, now.Add(credits.GuestSessionTTL), ipAddress, userAgent, now,
		fingerprint, now,
	)
	g, err := scanGuest(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rotate guest session: %w", err)
	}
	return g, nil
}

// Get returns the active session with the given id, or nil if absent or
// expired.
func (s *GuestStore) Get(id string) (*model.GuestSession, error) {
	row := s.db.QueryRow(
		`SELECT `+guestCols+` FROM guest_sessions WHERE id = ? AND expires_at > ?`,
		id, time.Now().UTC(),
	)
	g, err := scanGuest(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get guest session: %w", err)
	}
	return g, nil
}

// EnsureDailyCredit applies the same at-most-once grant as the user ledger,
// scoped to an active session. The not-granted path still slides expiry:
// any successful credit operation keeps the session alive.
func (s *GuestStore) EnsureDailyCredit(id string, now time.Time) (balance int, granted bool, err error) {
	now = now.UTC()
	dayStart := credits.StartOfDay(now)

	row := s.db.QueryRow(
		`UPDATE guest_sessions
		 SET credits = MIN(credits + ?, ?), last_daily_credit_at = ?, expires_at = ?, updated_at = ?
		 WHERE id = ? AND expires_at > ? AND credits < ?
		   AND (last_daily_credit_at IS NULL OR last_daily_credit_at < ?)
		 RETURNING credits`,
		credits.DailyGrant, credits.DailyCap, now, now.Add(credits.GuestSessionTTL), now,
		id, now, credits.DailyCap, dayStart,
	)
	err = row.Scan(&balance)
	if err == nil {
		return balance, true, nil
	}
	if err != sql.ErrNoRows {
		return 0, false, fmt.Errorf("grant daily credit: %w", err)
	}

	err = s.db.QueryRow(
		`UPDATE guest_sessions SET expires_at = ?, updated_at = ?
		 WHERE id = ? AND expires_at > ?
		 RETURNING credits`,
		now.Add(credits.GuestSessionTTL), now, id, now,
	).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, false, credits.ErrNotFound
	}
	if err != nil {
		return 0, false, fmt.Errorf("read balance: %w", err)
	}
	return balance, false, nil
}

// Deduct atomically spends amount from an active session's balance.
func (s *GuestStore) Deduct(id string, amount int) (int, error) {
	if err := validateAmount(amount); err != nil {
		return 0, err
	}
	now := time.Now().UTC()

	var balance int
	err := s.db.QueryRow(
		`UPDATE guest_sessions SET credits = credits - ?, expires_at = ?, updated_at = ?
		 WHERE id = ? AND expires_at > ? AND credits >= ?
		 RETURNING credits`,
		amount, now.Add(credits.GuestSessionTTL), now, id, now, amount,
	).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("deduct credits: %w", err)
	}

	err = s.db.QueryRow(
		`SELECT credits FROM guest_sessions WHERE id = ? AND expires_at > ?`,
		id, now,
	).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, credits.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return 0, &credits.InsufficientCreditsError{Required: amount, Available: balance}
}

// Drain empties an active session's balance and expires the session,
// returning the drained amount. The read and the zeroing share one
// transaction so signup migration has no double-spend window. RETURNING
// yields post-update values, hence the explicit read first.
func (s *GuestStore) Drain(id string) (int, error) {
	now := time.Now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin drain: %w", err)
	}
	defer tx.Rollback()

	var balance int
	err = tx.QueryRow(
		`SELECT credits FROM guest_sessions WHERE id = ? AND expires_at > ?`,
		id, now,
	).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, credits.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}

	if _, err := tx.Exec(
		`UPDATE guest_sessions SET credits = 0, expires_at = ?, updated_at = ? WHERE id = ?`,
		now, now, id,
	); err != nil {
		return 0, fmt.Errorf("drain guest session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit drain: %w", err)
	}
	return balance, nil
}

// DeleteExpired garbage-collects expired rows.
func (s *GuestStore) DeleteExpired() (int64, error) {
	result, err := s.db.Exec(`DELETE FROM guest_sessions WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired guest sessions: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
