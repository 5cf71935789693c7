package gorm

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/memengine/pkg/models"
)

// SessionStore provides session-related database operations (§3.2).
type SessionStore struct {
	db *gorm.DB
}

// NewSessionStore creates a new session store.
func NewSessionStore(store *Store) *SessionStore {
	return &SessionStore{db: store.DB}
}

// EnsureSession creates a session if one doesn't already exist for this content session id,
// idempotently — concurrent hook callbacks for the same conversation must not race a
// duplicate row into existence.
func (s *SessionStore) EnsureSession(ctx context.Context, contentSessionID, project, userPrompt string) error {
	session := &models.Session{
		ID:               uuid.NewString(),
		ContentSessionID: contentSessionID,
		StartedAtEpoch:   time.Now().UnixMilli(),
		Status:           models.SessionActive,
	}
	if project != "" {
		session.Project = sql.NullString{String: project, Valid: true}
	}
	if userPrompt != "" {
		session.UserPrompt = sql.NullString{String: userPrompt, Valid: true}
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "content_session_id"}}, DoNothing: true}).
		Create(session).Error
}

// GetSessionByContentID fetches a session by its content (hook-visible) session id.
func (s *SessionStore) GetSessionByContentID(ctx context.Context, contentSessionID string) (*models.Session, error) {
	var session models.Session
	err := s.db.WithContext(ctx).Where("content_session_id = ?", contentSessionID).First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// IncrementPromptCounter atomically bumps a session's prompt counter and returns the new
// value, used to stamp Observation.PromptNumber (§3.1).
func (s *SessionStore) IncrementPromptCounter(ctx context.Context, contentSessionID string) (int, error) {
	var session models.Session
	err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("content_session_id = ?", contentSessionID).
		First(&session).Error
	if err != nil {
		return 0, err
	}
	session.PromptCounter++
	if err := s.db.WithContext(ctx).Model(&session).Update("prompt_counter", session.PromptCounter).Error; err != nil {
		return 0, err
	}
	return session.PromptCounter, nil
}

// CompleteSession marks a session ended, stamping ended_at_epoch (the session summary
// completion endpoint supplemented feature).
func (s *SessionStore) CompleteSession(ctx context.Context, contentSessionID string) error {
	return s.db.WithContext(ctx).Model(&models.Session{}).
		Where("content_session_id = ?", contentSessionID).
		Updates(map[string]any{
			"status":         models.SessionCompleted,
			"ended_at_epoch": time.Now().UnixMilli(),
		}).Error
}

// SweepStaleSessions marks sessions still "active" but started before cutoff as completed,
// a housekeeping pass the worker pool runs alongside its claim loop so no session is left
// dangling after its process exits uncleanly.
func (s *SessionStore) SweepStaleSessions(ctx context.Context, staleAfter time.Duration) (int64, error) {
	cutoff := time.Now().Add(-staleAfter).UnixMilli()
	result := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("status = ? AND started_at_epoch < ?", models.SessionActive, cutoff).
		Updates(map[string]any{
			"status":         models.SessionCompleted,
			"ended_at_epoch": time.Now().UnixMilli(),
		})
	return result.RowsAffected, result.Error
}
