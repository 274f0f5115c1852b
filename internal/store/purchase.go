package store

import (
	"database/sql"
	"fmt"

	"github.com/lumora-app/lumora/internal/model"
)

type PurchaseStore struct {
	db *sql.DB
}

func NewPurchaseStore(db *sql.DB) *PurchaseStore {
	return &PurchaseStore{db: db}
}

// Create records a fulfilled credit-pack checkout. It returns created=false
// when the Stripe session was already recorded, which makes webhook
// retries idempotent: the caller must only grant credits when created is
// true.
func (s *PurchaseStore) Create(userID int64, stripeSessionID string, creditAmount int) (*model.CreditPurchase, bool, error) {
	result, err := s.db.Exec(
		`INSERT INTO credit_purchases (user_id, stripe_session_id, credits) VALUES (?, ?, ?)`,
		userID, stripeSessionID, creditAmount,
	)
	if isUniqueViolation(err) {
		existing, getErr := s.GetByStripeSessionID(stripeSessionID)
		if getErr != nil {
			return nil, false, getErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("insert credit purchase: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, false, fmt.Errorf("last insert id: %w", err)
	}
	p, err := s.getByID(id)
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

func (s *PurchaseStore) GetByStripeSessionID(stripeSessionID string) (*model.CreditPurchase, error) {
	row := s.db.QueryRow(
		`SELECT id, user_id, stripe_session_id, credits, created_at FROM credit_purchases WHERE stripe_session_id = ?`,
		stripeSessionID,
	)
	return scanPurchase(row)
}

func (s *PurchaseStore) getByID(id int64) (*model.CreditPurchase, error) {
	row := s.db.QueryRow(
		`SELECT id, user_id, stripe_session_id, credits, created_at FROM credit_purchases WHERE id = ?`,
		id,
	)
	return scanPurchase(row)
}

func scanPurchase(row *sql.Row) (*model.CreditPurchase, error) {
	var p model.CreditPurchase
	err := row.Scan(&p.ID, &p.UserID, &p.StripeSessionID, &p.Credits, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credit purchase: %w", err)
	}
	return &p, nil
}

// ListByUserID returns a user's purchase history, newest first.
func (s *PurchaseStore) ListByUserID(userID int64) ([]model.CreditPurchase, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, stripe_session_id, credits, created_at FROM credit_purchases WHERE user_id = ? ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list credit purchases: %w", err)
	}
	defer rows.Close()

	var purchases []model.CreditPurchase
	for rows.Next() {
		var p model.CreditPurchase
		if err := rows.Scan(&p.ID, &p.UserID, &p.StripeSessionID, &p.Credits, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan credit purchase: %w", err)
		}
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}
