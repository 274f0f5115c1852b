package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/lumora-app/lumora/internal/auth"
	"github.com/lumora-app/lumora/internal/credits"
	"github.com/lumora-app/lumora/internal/model"
	"github.com/lumora-app/lumora/internal/store"
)

// Cookie names carrying session material. The guest bearer triple plus the
// recovery fingerprint are all opaque to the client.
const (
	SessionCookieName = "lumora_session"
	GuestIDCookie     = "lumora_guest_id"
	GuestTokenCookie  = "lumora_guest_token"
	GuestSecretCookie = "lumora_guest_secret"
	GuestFPCookie     = "lumora_guest_fp"
)

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func guestCredentials(r *http.Request) store.GuestCredentials {
	return store.GuestCredentials{
		ID:            cookieValue(r, GuestIDCookie),
		AccessToken:   cookieValue(r, GuestTokenCookie),
		SessionSecret: cookieValue(r, GuestSecretCookie),
		Fingerprint:   cookieValue(r, GuestFPCookie),
	}
}

// SetGuestCookies writes the four guest credential cookies with max-age
// equal to the session TTL, so client-side expiry tracks the server's.
func SetGuestCookies(w http.ResponseWriter, g *model.GuestSession) {
	maxAge := int(credits.GuestSessionTTL.Seconds())
	for name, value := range map[string]string{
		GuestIDCookie:     g.ID,
		GuestTokenCookie:  g.AccessToken,
		GuestSecretCookie: g.SessionSecret,
		GuestFPCookie:     g.Fingerprint,
	} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    value,
			Path:     "/",
			MaxAge:   maxAge,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

// ClearGuestCookies removes all guest credential cookies.
func ClearGuestCookies(w http.ResponseWriter) {
	for _, name := range []string{GuestIDCookie, GuestTokenCookie, GuestSecretCookie, GuestFPCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

// Per-IP budget for minting brand-new guest sessions. Returning guests
// resolve by lookup and are never counted against it.
const (
	guestCreateLimit  = 20
	guestCreateWindow = time.Minute
)

// ResolveSession is the non-throwing identity resolver. An authenticated
// session always wins over stale guest cookies; otherwise the guest session
// is found, recovered, or created; otherwise the context is none. Downstream
// handlers read the result from the request context and never see an error.
// Creation of new guest rows is rate limited per client IP, so a cookie-less
// crawler cannot flood the table; over-limit requests resolve as none.
func ResolveSession(sessions *store.SessionStore, guests *store.GuestStore, limiter *RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sc := auth.None()

			if token := cookieValue(r, SessionCookieName); token != "" {
				sess, err := sessions.GetByToken(token)
				if err != nil {
					logger.Error("resolve user session", "error", err)
				} else if sess != nil {
					sc = auth.User(sess)
				}
			}

			if sc.Kind == auth.KindNone {
				if g := resolveGuest(r, guests, limiter, logger); g != nil {
					if g.issued {
						SetGuestCookies(w, g.session)
					}
					sc = auth.Guest(g.session)
				}
			}

			next.ServeHTTP(w, r.WithContext(auth.WithSession(r.Context(), sc)))
		})
	}
}

type resolvedGuest struct {
	session *model.GuestSession
	issued  bool
}

func resolveGuest(r *http.Request, guests *store.GuestStore, limiter *RateLimiter, logger *slog.Logger) *resolvedGuest {
	ip := RealIP(r)
	result, err := guests.Lookup(guestCredentials(r), ip, r.UserAgent())
	if err != nil {
		logger.Error("lookup guest session", "error", err)
		return nil
	}
	if result != nil {
		return &resolvedGuest{session: result.Session, issued: result.Rotated}
	}

	if limiter != nil && !limiter.Allow("guest-create:"+ip, guestCreateLimit, guestCreateWindow) {
		logger.Warn("guest creation rate limited", "ip", ip)
		return nil
	}

	g, err := guests.Create(ip, r.UserAgent(), cookieValue(r, GuestFPCookie))
	if err != nil {
		logger.Error("create guest session", "error", err)
		return nil
	}
	return &resolvedGuest{session: g, issued: true}
}

// RequireSession is the throwing variant used by mutating routes. Users
// resolve as above; guests must pass the strict credential check (exact
// bearer triple, fingerprint agreement, no recovery). Anything else is 401.
func RequireSession(sessions *store.SessionStore, guests *store.GuestStore, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token := cookieValue(r, SessionCookieName); token != "" {
				sess, err := sessions.GetByToken(token)
				if err != nil {
					logger.Error("resolve user session", "error", err)
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
					return
				}
				if sess != nil {
					ctx := auth.WithSession(r.Context(), auth.User(sess))
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			g, err := guests.Validate(guestCredentials(r), RealIP(r), r.UserAgent())
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := auth.WithSession(r.Context(), auth.Guest(g))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
