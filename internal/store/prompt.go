package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lumora-app/lumora/internal/model"
)

type PromptStore struct {
	db *sql.DB
}

func NewPromptStore(db *sql.DB) *PromptStore {
	return &PromptStore{db: db}
}

func scanPrompt(scanner interface{ Scan(...any) error }) (*model.Prompt, error) {
	var p model.Prompt
	err := scanner.Scan(&p.ID, &p.AuthorID, &p.Title, &p.Body, &p.PriceCredits, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

const promptCols = `id, author_id, title, body, price_credits, active, created_at, updated_at`

func (s *PromptStore) Create(authorID int64, title, body string, priceCredits int) (*model.Prompt, error) {
	result, err := s.db.Exec(
		`INSERT INTO prompts (author_id, title, body, price_credits) VALUES (?, ?, ?, ?)`,
		authorID, title, body, priceCredits,
	)
	if err != nil {
		return nil, fmt.Errorf("insert prompt: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *PromptStore) GetByID(id int64) (*model.Prompt, error) {
	row := s.db.QueryRow(`SELECT `+promptCols+` FROM prompts WHERE id = ?`, id)
	p, err := scanPrompt(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get prompt: %w", err)
	}
	return p, nil
}

// List returns active prompts, newest first.
func (s *PromptStore) List() ([]model.Prompt, error) {
	rows, err := s.db.Query(`SELECT ` + promptCols + ` FROM prompts WHERE active = 1 ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	defer rows.Close()

	var prompts []model.Prompt
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan prompt: %w", err)
		}
		prompts = append(prompts, *p)
	}
	return prompts, rows.Err()
}

func (s *PromptStore) Update(id int64, title, body string, priceCredits int, active bool) (*model.Prompt, error) {
	_, err := s.db.Exec(
		`UPDATE prompts SET title = ?, body = ?, price_credits = ?, active = ?, updated_at = ? WHERE id = ?`,
		title, body, priceCredits, active, time.Now().UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update prompt: %w", err)
	}
	return s.GetByID(id)
}

func (s *PromptStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM prompts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete prompt: %w", err)
	}
	return nil
}

// RecordPurchase logs a completed prompt sale after the spend succeeded.
func (s *PromptStore) RecordPurchase(promptID int64, buyerKind, buyerID string, creditsSpent int) (*model.PromptPurchase, error) {
	result, err := s.db.Exec(
		`INSERT INTO prompt_purchases (prompt_id, buyer_kind, buyer_id, credits_spent) VALUES (?, ?, ?, ?)`,
		promptID, buyerKind, buyerID, creditsSpent,
	)
	if err != nil {
		return nil, fmt.Errorf("insert prompt purchase: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	var p model.PromptPurchase
	err = s.db.QueryRow(
		`SELECT id, prompt_id, buyer_kind, buyer_id, credits_spent, created_at FROM prompt_purchases WHERE id = ?`,
		id,
	).Scan(&p.ID, &p.PromptID, &p.BuyerKind, &p.BuyerID, &p.CreditsSpent, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get prompt purchase: %w", err)
	}
	return &p, nil
}
