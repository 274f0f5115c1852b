package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/lumora-app/lumora/internal/actions"
	"github.com/lumora-app/lumora/internal/handler"
	"github.com/lumora-app/lumora/internal/middleware"
	"github.com/lumora-app/lumora/internal/payments"
	"github.com/lumora-app/lumora/internal/store"
	ws "github.com/lumora-app/lumora/internal/websocket"
)

type Config struct {
	Stripe payments.Config
}

type Server struct {
	db           *sql.DB
	hub          *ws.Hub
	userStore    *store.UserStore
	guestStore   *store.GuestStore
	sessionStore *store.SessionStore
	creditsSvc   *actions.Service
	creditsH     *handler.CreditsHandler
	authH        *handler.AuthHandler
	promptH      *handler.PromptHandler
	checkoutH    *handler.CheckoutHandler
	webhookH     *handler.WebhookHandler
	rateLimiter  *middleware.RateLimiter
	logger       *slog.Logger
}

func New(db *sql.DB, cfg Config, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	userStore := store.NewUserStore(db)
	guestStore := store.NewGuestStore(db)
	sessionStore := store.NewSessionStore(db)
	promptStore := store.NewPromptStore(db)
	purchaseStore := store.NewPurchaseStore(db)

	creditsSvc := actions.NewService(userStore, guestStore, hub, logger.With("component", "credits"))

	var stripeClient *payments.Client
	var checkoutH *handler.CheckoutHandler
	var webhookH *handler.WebhookHandler
	if cfg.Stripe.SecretKey != "" {
		stripeClient = payments.NewClient(cfg.Stripe)
		checkoutH = handler.NewCheckoutHandler(stripeClient, userStore, purchaseStore, logger.With("component", "checkout"))
		webhookH = handler.NewWebhookHandler(stripeClient, purchaseStore, creditsSvc, logger.With("component", "webhook"))
	}

	return &Server{
		db:           db,
		hub:          hub,
		userStore:    userStore,
		guestStore:   guestStore,
		sessionStore: sessionStore,
		creditsSvc:   creditsSvc,
		creditsH:     handler.NewCreditsHandler(creditsSvc),
		authH:        handler.NewAuthHandler(userStore, sessionStore, creditsSvc, logger.With("component", "auth")),
		promptH:      handler.NewPromptHandler(promptStore, creditsSvc, logger.With("component", "prompt")),
		checkoutH:    checkoutH,
		webhookH:     webhookH,
		rateLimiter:  middleware.NewRateLimiter(),
		logger:       logger,
	}
}

// SessionStore returns the session store for cleanup tasks.
func (s *Server) SessionStore() *store.SessionStore {
	return s.sessionStore
}

// GuestStore returns the guest session store for cleanup tasks.
func (s *Server) GuestStore() *store.GuestStore {
	return s.guestStore
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Webhooks authenticate by signature, not session.
	if s.webhookH != nil {
		outerMux.HandleFunc("POST /webhooks/stripe", s.webhookH.HandleStripeWebhook)
	}
	outerMux.HandleFunc("GET /health", s.healthHandler)

	// Read routes — non-throwing resolver; a first visit gets a guest
	// session and its starter credits here.
	resolvedMux := http.NewServeMux()
	resolvedMux.HandleFunc("POST /signup", s.rateLimitedHandler(s.authH.Signup))
	resolvedMux.HandleFunc("POST /login", s.rateLimitedHandler(s.authH.Login))
	resolvedMux.HandleFunc("POST /logout", s.authH.Logout)
	resolvedMux.HandleFunc("POST /logout-all", s.authH.LogoutAll)
	resolvedMux.HandleFunc("GET /api/credits", s.creditsH.Get)
	resolvedMux.HandleFunc("GET /api/prompts", s.promptH.List)
	resolvedMux.HandleFunc("GET /api/prompts/{id}", s.promptH.Get)
	resolvedMux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.logger.With("component", "websocket")))
	if s.checkoutH != nil {
		resolvedMux.HandleFunc("GET /api/purchases", s.checkoutH.History)
	}

	resolve := middleware.ResolveSession(s.sessionStore, s.guestStore, s.rateLimiter, s.logger.With("component", "resolver"))
	outerMux.Handle("/", resolve(resolvedMux))

	// Mutating routes — strict resolver; guests must present the exact
	// bearer triple, with no fingerprint recovery.
	requiredMux := http.NewServeMux()
	requiredMux.HandleFunc("POST /api/credits/deduct", s.creditsH.Deduct)
	requiredMux.HandleFunc("POST /api/prompts", s.promptH.Create)
	requiredMux.HandleFunc("POST /api/prompts/{id}/buy", s.promptH.Buy)
	requiredMux.HandleFunc("PUT /api/prompts/{id}", s.promptH.Update)
	requiredMux.HandleFunc("DELETE /api/prompts/{id}", s.promptH.Delete)
	if s.checkoutH != nil {
		requiredMux.HandleFunc("POST /api/checkout", s.checkoutH.Create)
	}

	require := middleware.RequireSession(s.sessionStore, s.guestStore, s.logger.With("component", "resolver"))
	required := require(requiredMux)
	outerMux.Handle("POST /api/", required)
	outerMux.Handle("PUT /api/", required)
	outerMux.Handle("DELETE /api/", required)

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return middleware.RealIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, keyFunc, 10, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}
