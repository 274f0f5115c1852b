package actions

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/lumora-app/lumora/internal/auth"
	"github.com/lumora-app/lumora/internal/credits"
	"github.com/lumora-app/lumora/internal/database"
	"github.com/lumora-app/lumora/internal/model"
	"github.com/lumora-app/lumora/internal/store"
)

type testEnv struct {
	svc    *Service
	users  *store.UserStore
	guests *store.GuestStore
}

func setupService(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	users := store.NewUserStore(db)
	guests := store.NewGuestStore(db)
	svc := NewService(users, guests, nil, slog.Default())
	return &testEnv{svc: svc, users: users, guests: guests}
}

func (e *testEnv) setNow(t time.Time) {
	e.svc.now = func() time.Time { return t }
}

// grantDays returns two consecutive UTC days anchored at the wall clock.
// The stores compare expiry against time.Now(), so pinned past dates would
// make a grant's expiry slide land behind the clock and hide the session.
func grantDays() (day1, day2 time.Time) {
	day1 = time.Now().UTC()
	return day1, day1.Add(24 * time.Hour)
}

func guestCtx(g *model.GuestSession) context.Context {
	return auth.WithSession(context.Background(), auth.Guest(g))
}

func userCtx(userID int64) context.Context {
	return auth.WithSession(context.Background(), auth.User(&model.Session{UserID: userID}))
}

func TestGetCreditsNoSession(t *testing.T) {
	env := setupService(t)

	_, err := env.svc.GetCredits(context.Background())
	if !errors.Is(err, credits.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestDeductCreditsNoSession(t *testing.T) {
	env := setupService(t)

	_, err := env.svc.DeductCredits(context.Background(), 1, "edit")
	if !errors.Is(err, credits.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

// A new guest walks the full spend lifecycle: starter credits at cap, a
// same-day grant is a no-op, spends come off atomically, and a failed
// overdraft leaves only its eager grant behind.
func TestGuestEndToEnd(t *testing.T) {
	env := setupService(t)
	g, _ := env.guests.Create("", "", "")
	ctx := guestCtx(g)

	balance, err := env.svc.GetCredits(ctx)
	if err != nil {
		t.Fatalf("get credits: %v", err)
	}
	if balance.Credits != 10 || balance.Granted {
		t.Errorf("balance = %+v, want {10 false}", balance)
	}

	after, err := env.svc.DeductCredits(ctx, 4, "edit")
	if err != nil {
		t.Fatalf("deduct: %v", err)
	}
	if after != 6 {
		t.Errorf("balance = %d, want 6", after)
	}

	// The at-cap no-ops above never consumed the day's grant, so this
	// overdraw applies it first (6 -> 7) and then fails against 7.
	_, err = env.svc.DeductCredits(ctx, 10, "edit")
	var insufficient *credits.InsufficientCreditsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("err = %v, want InsufficientCreditsError", err)
	}
	if insufficient.Available != 7 {
		t.Errorf("available = %d, want post-grant 7", insufficient.Available)
	}

	balance, _ = env.svc.GetCredits(ctx)
	if balance.Credits != 7 || balance.Granted {
		t.Errorf("balance = %+v, want {7 false}: the failed spend's grant persists", balance)
	}
}

// Guests receive the day's grant inside the spend path, so the deduction is
// evaluated against the post-grant balance.
func TestGuestEagerGrantThenSpend(t *testing.T) {
	env := setupService(t)
	g, _ := env.guests.Create("", "", "")
	ctx := guestCtx(g)

	day1, day2 := grantDays()
	env.setNow(day1)
	if _, err := env.svc.DeductCredits(ctx, 6, "edit"); err != nil {
		t.Fatalf("first deduct: %v", err) // 10 (at cap, no grant) - 6 = 4
	}

	env.setNow(day2)
	after, err := env.svc.DeductCredits(ctx, 3, "edit")
	if err != nil {
		t.Fatalf("second deduct: %v", err)
	}
	// min(4+1, cap) - 3
	if after != 2 {
		t.Errorf("balance = %d, want 2", after)
	}
}

// When the post-grant balance still cannot cover the spend, the deduction
// fails but the grant persists.
func TestGuestGrantPersistsWhenSpendFails(t *testing.T) {
	env := setupService(t)
	g, _ := env.guests.Create("", "", "")
	ctx := guestCtx(g)

	day1, day2 := grantDays()
	env.setNow(day1)
	if _, err := env.svc.DeductCredits(ctx, 8, "edit"); err != nil {
		t.Fatalf("setup deduct: %v", err) // balance 2
	}

	env.setNow(day2)
	_, err := env.svc.DeductCredits(ctx, 10, "edit")
	var insufficient *credits.InsufficientCreditsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("err = %v, want InsufficientCreditsError", err)
	}
	if insufficient.Available != 3 {
		t.Errorf("available = %d, want post-grant 3", insufficient.Available)
	}

	balance, _ := env.svc.GetCredits(ctx)
	if balance.Credits != 3 || balance.Granted {
		t.Errorf("balance = %+v, want {3 false}: grant already applied", balance)
	}
}

// Users do not get the eager grant: deduction and grant are independent.
func TestUserSpendSkipsGrant(t *testing.T) {
	env := setupService(t)
	u, _ := env.users.Create("alice@example.com", "hash")
	ctx := userCtx(u.ID)

	day1, day2 := grantDays()
	env.setNow(day1)
	if _, err := env.svc.DeductCredits(ctx, 5, "edit"); err != nil {
		t.Fatalf("first deduct: %v", err) // balance 5, no grant attempted
	}

	env.setNow(day2)
	after, err := env.svc.DeductCredits(ctx, 5, "edit")
	if err != nil {
		t.Fatalf("second deduct: %v", err)
	}
	if after != 0 {
		t.Errorf("balance = %d, want 0 (no eager grant on the user path)", after)
	}

	// The grant is still available through the read path.
	balance, err := env.svc.GetCredits(ctx)
	if err != nil {
		t.Fatalf("get credits: %v", err)
	}
	if !balance.Granted || balance.Credits != 1 {
		t.Errorf("balance = %+v, want {1 true}", balance)
	}
}

func TestAddCreditsBypassesCap(t *testing.T) {
	env := setupService(t)
	u, _ := env.users.Create("alice@example.com", "hash")

	balance, err := env.svc.AddCredits(u.ID, 50, "purchase")
	if err != nil {
		t.Fatalf("add credits: %v", err)
	}
	if balance != 60 {
		t.Errorf("balance = %d, want 60", balance)
	}
}

func TestMigrateGuest(t *testing.T) {
	env := setupService(t)
	u, _ := env.users.Create("alice@example.com", "hash")
	g, _ := env.guests.Create("", "", "")
	env.guests.Deduct(g.ID, 3) // guest balance 7

	balance, err := env.svc.MigrateGuest(u.ID, g)
	if err != nil {
		t.Fatalf("migrate guest: %v", err)
	}
	if balance != 17 {
		t.Errorf("balance = %d, want 17", balance)
	}

	// The guest session is spent: expired and empty.
	got, _ := env.guests.Get(g.ID)
	if got != nil {
		t.Error("expected guest session to be expired after migration")
	}

	// A second migration attempt finds nothing to claim.
	if _, err := env.svc.MigrateGuest(u.ID, g); err == nil {
		t.Error("expected error on double migration")
	}
}
