package gorm

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/memengine/pkg/models"
)

// KnowledgeStore provides CRUD for the global knowledge base (§3.6, supplemented feature 4).
type KnowledgeStore struct {
	db *gorm.DB
}

// NewKnowledgeStore creates a new knowledge store.
func NewKnowledgeStore(store *Store) *KnowledgeStore {
	return &KnowledgeStore{db: store.DB}
}

// SaveKnowledge upserts by normalized title: an existing entry's confidence is bumped
// (BumpConfidence) rather than overwritten, so repeated reinforcement of the same skill or
// gotcha strengthens it instead of duplicating it.
func (s *KnowledgeStore) SaveKnowledge(ctx context.Context, title, content string) (*models.GlobalKnowledge, error) {
	normalized := strings.ToLower(strings.TrimSpace(title))
	now := time.Now().UnixMilli()

	var entry *models.GlobalKnowledge
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.GlobalKnowledge
		err := tx.Where("title_normalized = ?", normalized).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			entry = &models.GlobalKnowledge{
				Title:           title,
				TitleNormalized: normalized,
				Content:         content,
				UsageCount:      1,
				Confidence:      0.5,
				CreatedAtEpoch:  now,
				UpdatedAtEpoch:  now,
			}
			return tx.Create(entry).Error
		case err != nil:
			return err
		default:
			existing.Content = content
			existing.BumpConfidence(0.2)
			existing.UpdatedAtEpoch = now
			entry = &existing
			return tx.Save(&existing).Error
		}
	})
	return entry, err
}

// GetKnowledge fetches one entry by id.
func (s *KnowledgeStore) GetKnowledge(ctx context.Context, id int64) (*models.GlobalKnowledge, error) {
	var entry models.GlobalKnowledge
	if err := s.db.WithContext(ctx).First(&entry, id).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// SearchKnowledge does a substring match over title/content, ordered by confidence
// descending, so the strongest-reinforced matches surface first.
func (s *KnowledgeStore) SearchKnowledge(ctx context.Context, query string, limit int) ([]models.GlobalKnowledge, error) {
	var entries []models.GlobalKnowledge
	like := "%" + query + "%"
	err := s.db.WithContext(ctx).
		Where("title ILIKE ? OR content ILIKE ?", like, like).
		Order("confidence DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// ListKnowledge returns entries ordered by confidence descending, most-trusted first.
func (s *KnowledgeStore) ListKnowledge(ctx context.Context, limit, offset int) ([]models.GlobalKnowledge, int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&models.GlobalKnowledge{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var entries []models.GlobalKnowledge
	err := s.db.WithContext(ctx).Order("confidence DESC").Limit(limit).Offset(offset).Find(&entries).Error
	return entries, total, err
}

// DeleteKnowledge removes an entry by id.
func (s *KnowledgeStore) DeleteKnowledge(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Delete(&models.GlobalKnowledge{}, id).Error
}
