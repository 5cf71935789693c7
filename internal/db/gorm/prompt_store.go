package gorm

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/memengine/pkg/models"
)

// PromptStore persists user prompts for prompt-echo dedup (§3's UserPrompt, used by the
// injection-echo detection threshold in §4.6).
type PromptStore struct {
	db *gorm.DB
}

// NewPromptStore creates a new prompt store.
func NewPromptStore(store *Store) *PromptStore {
	return &PromptStore{db: store.DB}
}

// RecordPrompt stores a user prompt turn and the count of observations it matched against.
func (s *PromptStore) RecordPrompt(ctx context.Context, claudeSessionID string, promptNumber int, text string, matchedObservations int) (*models.UserPrompt, error) {
	prompt := &models.UserPrompt{
		ClaudeSessionID:     claudeSessionID,
		PromptNumber:        promptNumber,
		PromptText:          text,
		MatchedObservations: matchedObservations,
		CreatedAtEpoch:      time.Now().UnixMilli(),
	}
	if err := s.db.WithContext(ctx).Create(prompt).Error; err != nil {
		return nil, err
	}
	return prompt, nil
}

// SearchPromptsFTS runs a Postgres tsquery search over prompt_text, the building block used
// when checking whether an incoming observation merely echoes a recent prompt.
func (s *PromptStore) SearchPromptsFTS(ctx context.Context, query string, limit int) ([]models.UserPrompt, error) {
	var prompts []models.UserPrompt
	err := s.db.WithContext(ctx).Raw(`
		SELECT * FROM user_prompts
		WHERE search_vector @@ plainto_tsquery('english', ?)
		ORDER BY ts_rank(search_vector, plainto_tsquery('english', ?)) DESC
		LIMIT ?`, query, query, limit).Scan(&prompts).Error
	return prompts, err
}

// GetRecentPrompts returns the most recent prompts for a session, newest first.
func (s *PromptStore) GetRecentPrompts(ctx context.Context, claudeSessionID string, limit int) ([]models.UserPrompt, error) {
	var prompts []models.UserPrompt
	err := s.db.WithContext(ctx).
		Where("claude_session_id = ?", claudeSessionID).
		Order("created_at_epoch DESC").
		Limit(limit).
		Find(&prompts).Error
	return prompts, err
}
