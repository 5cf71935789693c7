package gorm

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/memengine/pkg/models"
)

// RelationStore persists associations discovered by the consolidation scheduler (§3.6
// supplement, SPEC_FULL.md supplemented feature 3).
type RelationStore struct {
	db *gorm.DB
}

// NewRelationStore creates a new relation store.
func NewRelationStore(store *Store) *RelationStore {
	return &RelationStore{db: store.DB}
}

// SaveRelation inserts a discovered relation, ignoring an exact (source, target, type)
// duplicate rather than erroring — association discovery reruns periodically over
// overlapping samples and re-finding the same edge is expected.
func (s *RelationStore) SaveRelation(ctx context.Context, rel *models.ObservationRelation) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rel).Error
}

// ListBySource returns relations originating from observationID, most confident first.
func (s *RelationStore) ListBySource(ctx context.Context, observationID int64, limit int) ([]models.ObservationRelation, error) {
	var rels []models.ObservationRelation
	err := s.db.WithContext(ctx).
		Where("source_id = ?", observationID).
		Order("confidence DESC").
		Limit(limit).
		Find(&rels).Error
	return rels, err
}

// StoreRelation inserts a discovered relation and returns its assigned id, ignoring an exact
// (source, target, type) duplicate the same way SaveRelation does.
func (s *RelationStore) StoreRelation(ctx context.Context, rel *models.ObservationRelation) (int64, error) {
	if err := s.SaveRelation(ctx, rel); err != nil {
		return 0, err
	}
	return rel.ID, nil
}

// GetRelationsByObservationID returns every relation touching obsID on either side.
func (s *RelationStore) GetRelationsByObservationID(ctx context.Context, obsID int64) ([]models.ObservationRelation, error) {
	var rels []models.ObservationRelation
	err := s.db.WithContext(ctx).
		Where("source_id = ? OR target_id = ?", obsID, obsID).
		Find(&rels).Error
	return rels, err
}

// GetRelationCount returns how many relations touch obsID on either side.
func (s *RelationStore) GetRelationCount(ctx context.Context, obsID int64) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.ObservationRelation{}).
		Where("source_id = ? OR target_id = ?", obsID, obsID).
		Count(&count).Error
	return int(count), err
}
