// Package actions composes the identity resolver and the two credit
// ledgers into the externally-callable credit operations. It is the single
// place where domain errors are logged with operational context and mapped
// to user-safe messages.
package actions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lumora-app/lumora/internal/auth"
	"github.com/lumora-app/lumora/internal/credits"
	"github.com/lumora-app/lumora/internal/model"
	"github.com/lumora-app/lumora/internal/store"
	"github.com/lumora-app/lumora/internal/websocket"
)

type Service struct {
	users  *store.UserStore
	guests *store.GuestStore
	hub    *websocket.Hub
	logger *slog.Logger
	now    func() time.Time
}

func NewService(users *store.UserStore, guests *store.GuestStore, hub *websocket.Hub, logger *slog.Logger) *Service {
	return &Service{
		users:  users,
		guests: guests,
		hub:    hub,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Balance is the result of a credit read or grant.
type Balance struct {
	Credits int  `json:"credits"`
	Granted bool `json:"granted"`
}

// GetCredits resolves the request identity without failing on absence,
// attempts the daily grant on the matching ledger, and returns the balance.
// A none-context yields ErrUnauthorized for the caller to map, never a panic
// or a silent zero.
func (s *Service) GetCredits(ctx context.Context) (Balance, error) {
	sc := auth.FromContext(ctx)

	var (
		balance int
		granted bool
		err     error
	)
	switch sc.Kind {
	case auth.KindUser:
		balance, granted, err = s.users.EnsureDailyCredit(sc.UserID, s.now())
	case auth.KindGuest:
		balance, granted, err = s.guests.EnsureDailyCredit(sc.Guest.ID, s.now())
	default:
		err = credits.ErrUnauthorized
	}
	if err != nil {
		s.logOpError("get_credits", sc, 0, err)
		return Balance{}, err
	}
	if granted {
		s.broadcast(sc, balance, "daily_grant")
	}
	return Balance{Credits: balance, Granted: granted}, nil
}

// DeductCredits spends amount on behalf of the request identity. Guests get
// the day's grant applied first, so a guest's first paid action of a new
// day is evaluated against the post-grant balance; the grant persists even
// when the spend then fails. Users deduct directly — grant and spend are
// independent operations on the user path.
func (s *Service) DeductCredits(ctx context.Context, amount int, reason string) (int, error) {
	sc := auth.FromContext(ctx)

	var (
		balance int
		err     error
	)
	switch sc.Kind {
	case auth.KindUser:
		balance, err = s.users.Deduct(sc.UserID, amount)
	case auth.KindGuest:
		if _, _, err = s.guests.EnsureDailyCredit(sc.Guest.ID, s.now()); err == nil {
			balance, err = s.guests.Deduct(sc.Guest.ID, amount)
		}
	default:
		err = credits.ErrUnauthorized
	}
	if err != nil {
		s.logOpError("deduct_credits", sc, amount, err)
		return 0, err
	}

	s.logger.Info("credits deducted", "identity", sc.Identity(), "amount", amount, "balance", balance, "reason", reason)
	s.broadcast(sc, balance, reason)
	return balance, nil
}

// AddCredits unconditionally credits a user account. Purchase fulfillment
// calls this, so the result may exceed the daily cap.
func (s *Service) AddCredits(userID int64, amount int, reason string) (int, error) {
	balance, err := s.users.Add(userID, amount)
	if err != nil {
		s.logger.Error("add credits failed", "op", "add_credits", "user_id", userID, "amount", amount, "error", err)
		return 0, err
	}

	s.logger.Info("credits added", "user_id", userID, "amount", amount, "balance", balance, "reason", reason)
	if s.hub != nil {
		s.hub.Broadcast(websocket.CreditsChanged("user", balance, reason))
	}
	return balance, nil
}

// MigrateGuest transfers an active guest session's balance to a user
// account and expires the session. The drain is atomic, so the balance can
// be claimed at most once even if signup requests race.
func (s *Service) MigrateGuest(userID int64, guest *model.GuestSession) (int, error) {
	drained, err := s.guests.Drain(guest.ID)
	if err != nil {
		return 0, fmt.Errorf("drain guest %s: %w", guest.ID, err)
	}
	if drained == 0 {
		return 0, nil
	}

	balance, err := s.users.Add(userID, drained)
	if err != nil {
		// The guest balance is already drained; losing it here is an
		// operational incident, so log loudly with everything needed to
		// restore it by hand.
		s.logger.Error("guest migration credit lost", "op", "migrate_guest",
			"user_id", userID, "guest_id", guest.ID, "amount", drained, "error", err)
		return 0, err
	}

	s.logger.Info("guest credits migrated", "user_id", userID, "guest_id", guest.ID, "amount", drained)
	return balance, nil
}

func (s *Service) broadcast(sc auth.SessionContext, balance int, reason string) {
	if s.hub == nil {
		return
	}
	s.hub.Broadcast(websocket.CreditsChanged(sc.Identity(), balance, reason))
}

// logOpError records a failed operation with identifying context but never
// secrets; callers receive only the typed error.
func (s *Service) logOpError(op string, sc auth.SessionContext, amount int, err error) {
	attrs := []any{"op", op, "identity", sc.Identity(), "error", err}
	if sc.Kind == auth.KindUser {
		attrs = append(attrs, "user_id", sc.UserID)
	}
	if sc.Kind == auth.KindGuest {
		attrs = append(attrs, "guest_id", sc.Guest.ID)
	}
	if amount != 0 {
		attrs = append(attrs, "amount", amount)
	}
	s.logger.Warn("credit operation failed", attrs...)
}
