package auth

import (
	"context"
	"testing"

	"github.com/lumora-app/lumora/internal/model"
)

func TestFromContextDefaultsToNone(t *testing.T) {
	sc := FromContext(context.Background())
	if sc.Kind != KindNone {
		t.Errorf("kind = %q, want none", sc.Kind)
	}
}

func TestWithSessionRoundTrip(t *testing.T) {
	ctx := WithSession(context.Background(), User(&model.Session{ID: 1, UserID: 42}))

	sc := FromContext(ctx)
	if sc.Kind != KindUser {
		t.Errorf("kind = %q, want user", sc.Kind)
	}
	if sc.UserID != 42 {
		t.Errorf("user id = %d, want 42", sc.UserID)
	}
}

func TestGuestContext(t *testing.T) {
	g := &model.GuestSession{ID: "abc", Credits: 10}
	sc := FromContext(WithSession(context.Background(), Guest(g)))

	if sc.Kind != KindGuest {
		t.Errorf("kind = %q, want guest", sc.Kind)
	}
	if sc.Guest == nil || sc.Guest.ID != "abc" {
		t.Errorf("guest = %+v, want id abc", sc.Guest)
	}
}

func TestIdentity(t *testing.T) {
	if got := None().Identity(); got != "none" {
		t.Errorf("Identity() = %q, want none", got)
	}
	if got := User(&model.Session{UserID: 1}).Identity(); got != "user" {
		t.Errorf("Identity() = %q, want user", got)
	}
	if got := Guest(&model.GuestSession{ID: "x"}).Identity(); got != "guest" {
		t.Errorf("Identity() = %q, want guest", got)
	}
}
