package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/lumora-app/lumora/internal/actions"
	"github.com/lumora-app/lumora/internal/auth"
	"github.com/lumora-app/lumora/internal/credits"
	"github.com/lumora-app/lumora/internal/middleware"
	"github.com/lumora-app/lumora/internal/model"
	"github.com/lumora-app/lumora/internal/store"
)

const minPasswordLength = 8

type AuthHandler struct {
	users    *store.UserStore
	sessions *store.SessionStore
	svc      *actions.Service
	logger   *slog.Logger
}

func NewAuthHandler(us *store.UserStore, ss *store.SessionStore, svc *actions.Service, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{users: us, sessions: ss, svc: svc, logger: logger}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Signup registers an account. When the request carries an active guest
// session, its balance transfers to the new account and the guest session
// is expired, so converting never forfeits earned credits.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "a valid email is required"})
		return
	}
	if len(req.Password) < minPasswordLength {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "password must be at least 8 characters"})
		return
	}

	existing, err := h.users.GetByEmail(req.Email)
	if err != nil {
		h.logger.Error("signup lookup", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "signup failed"})
		return
	}
	if existing != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "email already registered"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.logger.Error("signup hash", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "signup failed"})
		return
	}

	user, err := h.users.Create(req.Email, string(hash))
	if err != nil {
		h.logger.Error("signup create", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "signup failed"})
		return
	}

	if sc := auth.FromContext(r.Context()); sc.Kind == auth.KindGuest {
		if _, err := h.svc.MigrateGuest(user.ID, sc.Guest); err != nil {
			// Account exists; the transfer failure is logged inside the
			// service and must not block signup.
			h.logger.Warn("guest migration on signup", "user_id", user.ID, "error", err)
		}
		middleware.ClearGuestCookies(w)
	}

	h.startSession(w, user)
}

// Login authenticates by email and password.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	user, err := h.users.GetByEmail(strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		h.logger.Error("login lookup", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "login failed"})
		return
	}
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid email or password"})
		return
	}

	h.startSession(w, user)
}

// Logout deletes the current session and clears the cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if sc := auth.FromContext(r.Context()); sc.Kind == auth.KindUser && sc.Session != nil {
		if err := h.sessions.Delete(sc.Session.ID); err != nil {
			h.logger.Error("logout delete session", "error", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "signed out"})
}

// LogoutAll revokes every session belonging to the current user, signing
// out all devices at once.
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	sc := auth.FromContext(r.Context())
	if sc.Kind != auth.KindUser {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not signed in"})
		return
	}

	if err := h.sessions.DeleteByUserID(sc.UserID); err != nil {
		h.logger.Error("logout all", "user_id", sc.UserID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "sign out failed"})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "signed out everywhere"})
}

func (h *AuthHandler) startSession(w http.ResponseWriter, user *model.User) {
	sess, err := h.sessions.Create(user.ID)
	if err != nil {
		h.logger.Error("create session", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not start session"})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sess.Token,
		Path:     "/",
		MaxAge:   int(credits.UserSessionTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	// Re-read so the response reflects any migrated guest balance.
	fresh, err := h.users.GetByID(user.ID)
	if err != nil || fresh == nil {
		fresh = user
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":      fresh.ID,
		"email":   fresh.Email,
		"credits": fresh.Credits,
	})
}
