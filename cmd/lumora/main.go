package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lumora-app/lumora/internal/database"
	"github.com/lumora-app/lumora/internal/logging"
	"github.com/lumora-app/lumora/internal/payments"
	"github.com/lumora-app/lumora/internal/server"
)

func main() {
	port := os.Getenv("LUMORA_PORT")
	if port == "" {
		port = "8080"
	}

	dbPath := os.Getenv("LUMORA_DB_PATH")
	if dbPath == "" {
		dbPath = "lumora.db"
	}

	logger := logging.Setup(os.Getenv("LUMORA_LOG_LEVEL"), os.Getenv("LUMORA_LOG_FORMAT"))

	db, err := database.Open(dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	baseURL := os.Getenv("LUMORA_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:" + port
	}

	cfg := server.Config{
		Stripe: payments.Config{
			SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
			WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
			SuccessURL:    baseURL + "/credits?checkout=success",
			CancelURL:     baseURL + "/credits?checkout=cancelled",
			Packs: []payments.Pack{
				{ID: "starter", Credits: 50, PriceID: os.Getenv("STRIPE_PRICE_STARTER")},
				{ID: "studio", Credits: 200, PriceID: os.Getenv("STRIPE_PRICE_STUDIO")},
			},
		},
	}

	srv := server.New(db, cfg, logger)

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Hourly sweep of expired sessions and stale rate-limit entries.
	stopCleanup := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := srv.SessionStore().DeleteExpired(); err != nil {
					logger.Error("cleanup sessions", "error", err)
				} else if n > 0 {
					logger.Info("cleaned expired sessions", "count", n)
				}
				if n, err := srv.GuestStore().DeleteExpired(); err != nil {
					logger.Error("cleanup guest sessions", "error", err)
				} else if n > 0 {
					logger.Info("cleaned expired guest sessions", "count", n)
				}
				srv.RateLimiter().Cleanup()
			case <-stopCleanup:
				return
			}
		}
	}()

	go func() {
		logger.Info("lumora running", "addr", "http://localhost:"+port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	close(stopCleanup)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}
}
