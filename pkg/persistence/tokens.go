package persistence

import (
	"database/sql"
	"errors"
	"fmt"

	"testforge/pkg/llm"
)

// AddTokenUsage increments the accumulated counts for a model.
func (s *Store) AddTokenUsage(model string, usage llm.Usage) error {
	_, err := s.db.Exec(`
		INSERT INTO token_usage (model, prompt_tokens, completion_tokens)
		VALUES (?, ?, ?)
		ON CONFLICT(model) DO UPDATE SET
			prompt_tokens = prompt_tokens + excluded.prompt_tokens,
			completion_tokens = completion_tokens + excluded.completion_tokens,
			updated_at = CURRENT_TIMESTAMP`,
		model, usage.PromptTokens, usage.CompletionTokens)
	if err != nil {
		return fmt.Errorf("failed to record token usage for %s: %w", model, err)
	}
	return nil
}

// UsageForModel returns the accumulated counts for one model, zeroes when the
// model has never been used.
func (s *Store) UsageForModel(model string) (TokenUsage, error) {
	usage := TokenUsage{Model: model}
	err := s.db.QueryRow(`
		SELECT prompt_tokens, completion_tokens FROM token_usage WHERE model = ?`,
		model).Scan(&usage.PromptTokens, &usage.CompletionTokens)
	if errors.Is(err, sql.ErrNoRows) {
		return usage, nil
	}
	if err != nil {
		return usage, fmt.Errorf("failed to query token usage for %s: %w", model, err)
	}
	return usage, nil
}

// AllUsage returns the accumulated counts for every model seen so far.
func (s *Store) AllUsage() ([]TokenUsage, error) {
	rows, err := s.db.Query(`
		SELECT model, prompt_tokens, completion_tokens FROM token_usage ORDER BY model`)
	if err != nil {
		return nil, fmt.Errorf("failed to query token usage: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var usages []TokenUsage
	for rows.Next() {
		var u TokenUsage
		if err := rows.Scan(&u.Model, &u.PromptTokens, &u.CompletionTokens); err != nil {
			return nil, fmt.Errorf("failed to scan token usage: %w", err)
		}
		usages = append(usages, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate token usage: %w", err)
	}
	return usages, nil
}
