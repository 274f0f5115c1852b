package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lumora-app/lumora/internal/credits"
	"github.com/lumora-app/lumora/internal/model"
)

type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

func scanUser(scanner interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	var lastGrant sql.NullTime
	var stripeID sql.NullString
	err := scanner.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Credits, &lastGrant, &stripeID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastGrant.Valid {
		u.LastDailyCreditAt = &lastGrant.Time
	}
	if stripeID.Valid {
		u.StripeCustomerID = &stripeID.String
	}
	return &u, nil
}

const userCols = `id, email, password_hash, credits, last_daily_credit_at, stripe_customer_id, created_at, updated_at`

func (s *UserStore) Create(email, passwordHash string) (*model.User, error) {
	result, err := s.db.Exec(
		`INSERT INTO users (email, password_hash, credits) VALUES (?, ?, ?)`,
		email, passwordHash, credits.InitialUserCredits,
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *UserStore) GetByID(id int64) (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *UserStore) GetByEmail(email string) (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE email = ?`, email)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

func (s *UserStore) UpdateStripeCustomerID(id int64, customerID string) error {
	_, err := s.db.Exec(
		`UPDATE users SET stripe_customer_id = ?, updated_at = ? WHERE id = ?`,
		customerID, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update stripe customer id: %w", err)
	}
	return nil
}

// EnsureDailyCredit applies the at-most-once-per-UTC-day grant. The guarded
// UPDATE is the arbiter under concurrency: of N racing calls on the same
// day, exactly one matches the WHERE clause and applies the increment.
func (s *UserStore) EnsureDailyCredit(id int64, now time.Time) (balance int, granted bool, err error) {
	now = now.UTC()
	dayStart := credits.StartOfDay(now)

	row := s.db.QueryRow(
		`UPDATE users
		 SET credits = MIN(credits + ?, ?), last_daily_credit_at = ?, updated_at = ?
		 WHERE id = ? AND credits < ?
		   AND (last_daily_credit_at IS NULL OR last_daily_credit_at < ?)
		 RETURNING credits`,
		credits.DailyGrant, credits.DailyCap, now, now, id, credits.DailyCap, dayStart,
	)
	err = row.Scan(&balance)
	if err == nil {
		return balance, true, nil
	}
	if err != sql.ErrNoRows {
		return 0, false, fmt.Errorf("grant daily credit: %w", err)
	}

	// Not eligible. Could be at cap, already granted today, or missing.
	err = s.db.QueryRow(`SELECT credits FROM users WHERE id = ?`, id).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, false, credits.ErrNotFound
	}
	if err != nil {
		return 0, false, fmt.Errorf("read balance: %w", err)
	}
	return balance, false, nil
}

// Deduct atomically spends amount from the balance. The guarded UPDATE
// keeps two concurrent deductions from both passing the balance check.
func (s *UserStore) Deduct(id int64, amount int) (int, error) {
	if err := validateAmount(amount); err != nil {
		return 0, err
	}
	now := time.Now().UTC()

	var balance int
	err := s.db.QueryRow(
		`UPDATE users SET credits = credits - ?, updated_at = ?
		 WHERE id = ? AND credits >= ?
		 RETURNING credits`,
		amount, now, id, amount,
	).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("deduct credits: %w", err)
	}

	err = s.db.QueryRow(`SELECT credits FROM users WHERE id = ?`, id).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, credits.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return 0, &credits.InsufficientCreditsError{Required: amount, Available: balance}
}

// Add unconditionally increments the balance. Purchases use this path, so
// the result may exceed the daily cap.
func (s *UserStore) Add(id int64, amount int) (int, error) {
	if amount <= 0 {
		return 0, &credits.ValidationError{Reason: "amount must be a positive integer"}
	}
	var balance int
	err := s.db.QueryRow(
		`UPDATE users SET credits = credits + ?, updated_at = ? WHERE id = ? RETURNING credits`,
		amount, time.Now().UTC(), id,
	).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, credits.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("add credits: %w", err)
	}
	return balance, nil
}

func validateAmount(amount int) error {
	if amount <= 0 {
		return &credits.ValidationError{Reason: "amount must be a positive integer"}
	}
	if amount > credits.MaxDeductAmount {
		return &credits.ValidationError{Reason: fmt.Sprintf("amount exceeds maximum of %d", credits.MaxDeductAmount)}
	}
	return nil
}
