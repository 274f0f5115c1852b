package auth

import (
	"context"

	"github.com/lumora-app/lumora/internal/model"
)

type contextKey struct{}

// Kind tags which identity variant a SessionContext holds.
type Kind string

const (
	KindNone  Kind = "none"
	KindUser  Kind = "user"
	KindGuest Kind = "guest"
)

// SessionContext classifies one request as exactly one of: an authenticated
// user, an anonymous guest session, or nothing. It is produced fresh per
// request and never persisted.
type SessionContext struct {
	Kind    Kind
	UserID  int64
	Session *model.Session
	Guest   *model.GuestSession
}

func None() SessionContext {
	return SessionContext{Kind: KindNone}
}

func User(sess *model.Session) SessionContext {
	return SessionContext{Kind: KindUser, UserID: sess.UserID, Session: sess}
}

func Guest(g *model.GuestSession) SessionContext {
	return SessionContext{Kind: KindGuest, Guest: g}
}

// Identity returns a log-safe identifier for the context's subject.
func (sc SessionContext) Identity() string {
	switch sc.Kind {
	case KindUser:
		return "user"
	case KindGuest:
		return "guest"
	default:
		return "none"
	}
}

func WithSession(ctx context.Context, sc SessionContext) context.Context {
	return context.WithValue(ctx, contextKey{}, sc)
}

// FromContext returns the request's session context. A missing value is
// equivalent to KindNone.
func FromContext(ctx context.Context) SessionContext {
	sc, ok := ctx.Value(contextKey{}).(SessionContext)
	if !ok {
		return None()
	}
	return sc
}
