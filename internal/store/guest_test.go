package store

import (
	"errors"
	"testing"
	"time"

	"github.com/lumora-app/lumora/internal/credits"
	"github.com/lumora-app/lumora/internal/database"
)

func setupGuestTestDB(t *testing.T) *GuestStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewGuestStore(db)
}

func expireGuest(t *testing.T, gs *GuestStore, id string) {
	t.Helper()
	past := time.Now().UTC().Add(-time.Hour)
	if _, err := gs.db.Exec(`UPDATE guest_sessions SET expires_at = ? WHERE id = ?`, past, id); err != nil {
		t.Fatalf("expire guest: %v", err)
	}
}

func TestGuestCreate(t *testing.T) {
	gs := setupGuestTestDB(t)

	g, err := gs.Create("203.0.113.7", "test-agent", "")
	if err != nil {
		t.Fatalf("create guest: %v", err)
	}
	if g.Credits != credits.InitialGuestCredits {
		t.Errorf("credits = %d, want %d", g.Credits, credits.InitialGuestCredits)
	}
	if len(g.AccessToken) != 64 { // 32 bytes hex-encoded
		t.Errorf("access token length = %d, want 64", len(g.AccessToken))
	}
	if len(g.SessionSecret) != 64 {
		t.Errorf("session secret length = %d, want 64", len(g.SessionSecret))
	}
	if len(g.Fingerprint) != 32 { // 16 bytes hex-encoded
		t.Errorf("fingerprint length = %d, want 32", len(g.Fingerprint))
	}
	if !g.ExpiresAt.After(time.Now().UTC().Add(6 * 24 * time.Hour)) {
		t.Errorf("expires_at = %v, want ~7 days out", g.ExpiresAt)
	}
	if g.IPAddress != "203.0.113.7" {
		t.Errorf("ip = %q, want 203.0.113.7", g.IPAddress)
	}
}

func TestGuestCreateWithSuppliedFingerprint(t *testing.T) {
	gs := setupGuestTestDB(t)

	g, err := gs.Create("", "", "client-fp-0123456789abcdef")
	if err != nil {
		t.Fatalf("create guest: %v", err)
	}
	if g.Fingerprint != "client-fp-0123456789abcdef" {
		t.Errorf("fingerprint = %q, want supplied value", g.Fingerprint)
	}
}

func TestGuestCreateRetriesFingerprintCollision(t *testing.T) {
	gs := setupGuestTestDB(t)

	first, err := gs.Create("", "", "shared-fp")
	if err != nil {
		t.Fatalf("create first: %v", err)
	}

	// Same fingerprint again: the unique constraint trips and the retry
	// regenerates, so the second create still succeeds.
	second, err := gs.Create("", "", "shared-fp")
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if second.ID == first.ID {
		t.Error("expected a distinct session")
	}
	if second.Fingerprint == first.Fingerprint {
		t.Error("expected a regenerated fingerprint")
	}
}

func TestGuestEnsureExactMatchIsHit(t *testing.T) {
	gs := setupGuestTestDB(t)
	g, _ := gs.Create("", "", "")

	result, err := gs.Ensure(GuestCredentials{
		ID:            g.ID,
		AccessToken:   g.AccessToken,
		SessionSecret: g.SessionSecret,
	}, "198.51.100.2", "new-agent")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if result.Created || result.Rotated {
		t.Errorf("result = created:%v rotated:%v, want hit", result.Created, result.Rotated)
	}
	if result.Session.ID != g.ID {
		t.Errorf("session id = %q, want %q", result.Session.ID, g.ID)
	}
	if result.Session.AccessToken != g.AccessToken {
		t.Error("access token should not rotate on an exact hit")
	}
	if result.Session.IPAddress != "198.51.100.2" {
		t.Error("provenance not refreshed")
	}
	if !result.Session.ExpiresAt.After(g.ExpiresAt) && !result.Session.ExpiresAt.Equal(g.ExpiresAt) {
		t.Error("expiry did not slide forward")
	}
}

func TestGuestEnsureRecoversByFingerprint(t *testing.T) {
	gs := setupGuestTestDB(t)
	g, _ := gs.Create("", "", "")
	if _, err := gs.Deduct(g.ID, 3); err != nil {
		t.Fatalf("deduct: %v", err)
	}

	// Lost cookies: wrong token, correct fingerprint.
	result, err := gs.Ensure(GuestCredentials{
		ID:          g.ID,
		AccessToken: "wrong",
		Fingerprint: g.Fingerprint,
	}, "", "")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if !result.Rotated || result.Created {
		t.Errorf("result = created:%v rotated:%v, want recovery", result.Created, result.Rotated)
	}
	if result.Session.ID != g.ID {
		t.Error("recovery should return the same session")
	}
	if result.Session.Credits != 7 {
		t.Errorf("credits = %d, want preserved balance 7", result.Session.Credits)
	}
	if result.Session.AccessToken == g.AccessToken {
		t.Error("expected rotated access token")
	}

	// The old bearer pair is invalidated.
	if _, err := gs.Validate(GuestCredentials{
		ID:            g.ID,
		AccessToken:   g.AccessToken,
		SessionSecret: g.SessionSecret,
	}, "", ""); !errors.Is(err, credits.ErrUnauthorized) {
		t.Errorf("old credentials err = %v, want ErrUnauthorized", err)
	}
}

func TestGuestLookupNeverCreates(t *testing.T) {
	gs := setupGuestTestDB(t)
	g, _ := gs.Create("", "", "")

	result, err := gs.Lookup(GuestCredentials{ID: g.ID, AccessToken: "wrong", SessionSecret: "wrong"}, "", "")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if result != nil {
		t.Fatalf("result = %+v, want nil for unmatched credentials", result)
	}

	var count int
	if err := gs.db.QueryRow(`SELECT COUNT(*) FROM guest_sessions`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("sessions = %d, want 1: lookup must not mint rows", count)
	}
}

func TestGuestEnsureCreatesWhenNothingMatches(t *testing.T) {
	gs := setupGuestTestDB(t)

	result, err := gs.Ensure(GuestCredentials{}, "", "")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if !result.Created {
		t.Error("expected a new session")
	}
	if result.Session.Credits != credits.InitialGuestCredits {
		t.Errorf("credits = %d, want starter %d", result.Session.Credits, credits.InitialGuestCredits)
	}
}

func TestGuestValidate(t *testing.T) {
	gs := setupGuestTestDB(t)
	g, _ := gs.Create("", "", "")

	refreshed, err := gs.Validate(GuestCredentials{
		ID:            g.ID,
		AccessToken:   g.AccessToken,
		SessionSecret: g.SessionSecret,
		Fingerprint:   g.Fingerprint,
	}, "203.0.113.9", "agent")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if refreshed.ID != g.ID {
		t.Errorf("id = %q, want %q", refreshed.ID, g.ID)
	}
}

func TestGuestValidateRejectsMissingOrWrongCredentials(t *testing.T) {
	gs := setupGuestTestDB(t)
	g, _ := gs.Create("", "", "")

	cases := []GuestCredentials{
		{},
		{ID: g.ID},
		{ID: g.ID, AccessToken: g.AccessToken},
		{ID: g.ID, AccessToken: "wrong", SessionSecret: g.SessionSecret},
		{ID: g.ID, AccessToken: g.AccessToken, SessionSecret: "wrong"},
		{ID: "other", AccessToken: g.AccessToken, SessionSecret: g.SessionSecret},
	}
	for i, creds := range cases {
		if _, err := gs.Validate(creds, "", ""); !errors.Is(err, credits.ErrUnauthorized) {
			t.Errorf("case %d: err = %v, want ErrUnauthorized", i, err)
		}
	}
}

func TestGuestValidateFingerprintMismatchIsTampering(t *testing.T) {
	gs := setupGuestTestDB(t)
	g, _ := gs.Create("", "", "")

	_, err := gs.Validate(GuestCredentials{
		ID:            g.ID,
		AccessToken:   g.AccessToken,
		SessionSecret: g.SessionSecret,
		Fingerprint:   "someone-elses-fingerprint",
	}, "", "")
	if !errors.Is(err, credits.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestGuestExpiredSessionIsInvisible(t *testing.T) {
	gs := setupGuestTestDB(t)
	g, _ := gs.Create("", "", "")
	expireGuest(t, gs, g.ID)

	if _, err := gs.Validate(GuestCredentials{
		ID:            g.ID,
		AccessToken:   g.AccessToken,
		SessionSecret: g.SessionSecret,
	}, "", ""); !errors.Is(err, credits.ErrUnauthorized) {
		t.Errorf("validate err = %v, want ErrUnauthorized", err)
	}

	if _, _, err := gs.EnsureDailyCredit(g.ID, time.Now()); !errors.Is(err, credits.ErrNotFound) {
		t.Errorf("grant err = %v, want ErrNotFound", err)
	}

	if _, err := gs.Deduct(g.ID, 1); !errors.Is(err, credits.ErrNotFound) {
		t.Errorf("deduct err = %v, want ErrNotFound", err)
	}

	got, err := gs.Get(g.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Error("expected nil for expired session")
	}

	// Ensure with the expired row's bearer triple starts over.
	result, err := gs.Ensure(GuestCredentials{
		ID:            g.ID,
		AccessToken:   g.AccessToken,
		SessionSecret: g.SessionSecret,
	}, "", "")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if !result.Created || result.Session.ID == g.ID {
		t.Error("expected a fresh session for expired credentials")
	}
}

func TestGuestDailyCreditSlidesExpiryWithoutGrant(t *testing.T) {
	gs := setupGuestTestDB(t)
	g, _ := gs.Create("", "", "")

	// At cap: no grant, but the touch keeps the session alive.
	balance, granted, err := gs.EnsureDailyCredit(g.ID, time.Now())
	if err != nil {
		t.Fatalf("ensure daily credit: %v", err)
	}
	if granted || balance != credits.DailyCap {
		t.Errorf("grant = (%d, %v), want (%d, false)", balance, granted, credits.DailyCap)
	}

	fresh, _ := gs.Get(g.ID)
	if fresh.ExpiresAt.Before(g.ExpiresAt) {
		t.Error("expiry moved backward")
	}
}

func TestGuestDailyCreditGrant(t *testing.T) {
	gs := setupGuestTestDB(t)
	g, _ := gs.Create("", "", "")
	gs.Deduct(g.ID, 5)

	// Noon of the current UTC day: a fixed past date would slide the
	// session's expiry behind the wall clock.
	day1 := credits.StartOfDay(time.Now()).Add(12 * time.Hour)
	balance, granted, err := gs.EnsureDailyCredit(g.ID, day1)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if !granted || balance != 6 {
		t.Errorf("grant = (%d, %v), want (6, true)", balance, granted)
	}

	balance, granted, _ = gs.EnsureDailyCredit(g.ID, day1.Add(time.Hour))
	if granted || balance != 6 {
		t.Errorf("same-day grant = (%d, %v), want (6, false)", balance, granted)
	}
}

func TestGuestDeductInsufficient(t *testing.T) {
	gs := setupGuestTestDB(t)
	g, _ := gs.Create("", "", "")

	_, err := gs.Deduct(g.ID, 11)
	var insufficient *credits.InsufficientCreditsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("err = %v, want InsufficientCreditsError", err)
	}
	if insufficient.Available != 10 {
		t.Errorf("available = %d, want 10", insufficient.Available)
	}

	fresh, _ := gs.Get(g.ID)
	if fresh.Credits != 10 {
		t.Errorf("balance = %d, want unchanged 10", fresh.Credits)
	}
}

func TestGuestDrain(t *testing.T) {
	gs := setupGuestTestDB(t)
	g, _ := gs.Create("", "", "")
	gs.Deduct(g.ID, 3)

	drained, err := gs.Drain(g.ID)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if drained != 7 {
		t.Errorf("drained = %d, want 7", drained)
	}

	// The session is now expired: a second drain finds nothing.
	if _, err := gs.Drain(g.ID); !errors.Is(err, credits.ErrNotFound) {
		t.Errorf("second drain err = %v, want ErrNotFound", err)
	}
}

func TestGuestDeleteExpired(t *testing.T) {
	gs := setupGuestTestDB(t)
	g1, _ := gs.Create("", "", "")
	gs.Create("", "", "")
	expireGuest(t, gs, g1.ID)

	count, err := gs.DeleteExpired()
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if count != 1 {
		t.Errorf("deleted = %d, want 1", count)
	}
}
