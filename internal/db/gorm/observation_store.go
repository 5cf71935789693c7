package gorm

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/memengine/internal/errs"
	"github.com/thebtf/memengine/pkg/models"
)

// ObservationStore provides the observation persistence operations backing C2 (§4.5).
type ObservationStore struct {
	db *gorm.DB
}

// NewObservationStore creates an observation store over the given Store's connection.
func NewObservationStore(store *Store) *ObservationStore {
	return &ObservationStore{db: store.DB}
}

// SaveObservation performs an atomic insert-if-not-exists on id, relying on the
// title_normalized uniqueness constraint to reject title collisions across restarts.
// Returns true on a new row, false on conflict with an existing one.
func (s *ObservationStore) SaveObservation(obs *models.Observation) (bool, error) {
	result := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(obs)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// GetObservationByID fetches a single observation by its primary key.
func (s *ObservationStore) GetObservationByID(id int64) (*models.Observation, error) {
	var obs models.Observation
	if err := s.db.First(&obs, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.New(errs.PermanentIO, "observation_store.GetObservationByID", err)
		}
		return nil, err
	}
	return &obs, nil
}

// GetObservationByTitle looks up an observation by its normalized title, used by the
// dedup/merge path to resolve an id before calling MergeIntoExisting.
func (s *ObservationStore) GetObservationByTitle(titleNormalized string) (*models.Observation, error) {
	var obs models.Observation
	err := s.db.Where("title_normalized = ?", titleNormalized).First(&obs).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &obs, nil
}

// GetObservationsBySessionID fetches every observation created within a session, oldest
// first, for session-summary completion (§6.1 POST /sessions/{id}/complete).
func (s *ObservationStore) GetObservationsBySessionID(sessionID string) ([]*models.Observation, error) {
	var obs []*models.Observation
	if err := s.db.Where("session_id = ?", sessionID).Order("created_at_epoch asc").Find(&obs).Error; err != nil {
		return nil, err
	}
	return obs, nil
}

// GetObservationsByIDs fetches multiple observations, preserving no particular order.
func (s *ObservationStore) GetObservationsByIDs(ids []int64) ([]*models.Observation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var obs []*models.Observation
	if err := s.db.Where("id IN ?", ids).Find(&obs).Error; err != nil {
		return nil, err
	}
	return obs, nil
}

// GetRecentObservations returns the most recently created observations, newest first.
func (s *ObservationStore) GetRecentObservations(project string, limit, offset int) ([]*models.Observation, int64, error) {
	q := s.db.Model(&models.Observation{}).Where("archived_at_epoch IS NULL")
	if project != "" {
		q = q.Where("project = ?", project)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var obs []*models.Observation
	if err := q.Order("created_at_epoch DESC").Limit(limit).Offset(offset).Find(&obs).Error; err != nil {
		return nil, 0, err
	}
	return obs, total, nil
}

// GetAllObservations returns every non-archived observation, used by the consolidation
// scheduler's decay and forgetting cycles which need to walk the full set rather than a page.
func (s *ObservationStore) GetAllObservations(project string) ([]*models.Observation, error) {
	q := s.db.Where("archived_at_epoch IS NULL")
	if project != "" {
		q = q.Where("project = ?", project)
	}
	var obs []*models.Observation
	if err := q.Order("created_at_epoch ASC").Find(&obs).Error; err != nil {
		return nil, err
	}
	return obs, nil
}

// UpdateImportanceScores bulk-applies recalculated relevance scores from a decay cycle. Each
// observation is updated individually inside one transaction; the set is expected to be at
// most a few thousand rows per run.
func (s *ObservationStore) UpdateImportanceScores(scores map[int64]float64) error {
	if len(scores) == 0 {
		return nil
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		for id, score := range scores {
			if err := tx.Model(&models.Observation{}).Where("id = ?", id).
				Update("importance_score", score).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveDiscoveryTokens persists a recomputed discovery_tokens count for an existing row, used
// after a merge refreshes an observation's canonical text.
func (s *ObservationStore) SaveDiscoveryTokens(id int64, count int64) error {
	return s.db.Model(&models.Observation{}).Where("id = ?", id).
		Update("discovery_tokens", count).Error
}

// MergeIntoExisting merges newer into the row identified by existingID (§4.5's merge rule):
// set-like fields union with existing-first ordering, narrative/subtitle keep the strictly
// longer byte-length value (ties favor existing), created_at takes the max of the two, and
// every other field is preserved from the existing row. Fails NotFound if existingID is gone.
func (s *ObservationStore) MergeIntoExisting(existingID int64, newer *models.Observation) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var existing models.Observation
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&existing, existingID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.New(errs.PermanentIO, "observation_store.MergeIntoExisting", err)
			}
			return err
		}

		merged := mergeObservations(&existing, newer)
		return tx.Model(&existing).Updates(merged).Error
	})
}

func mergeObservations(existing, newer *models.Observation) map[string]any {
	return map[string]any{
		"facts":            models.UnionDedup(existing.Facts, newer.Facts),
		"keywords":         models.UnionDedup(existing.Keywords, newer.Keywords),
		"files_read":       models.UnionDedup(existing.FilesRead, newer.FilesRead),
		"files_modified":   models.UnionDedup(existing.FilesModified, newer.FilesModified),
		"concepts":         models.UnionDedup(existing.Concepts, newer.Concepts),
		"file_mtimes":      models.UnionMtimes(existing.FileMtimes, newer.FileMtimes),
		"created_at_epoch": maxInt64(existing.CreatedAtEpoch, newer.CreatedAtEpoch),
		"narrative":        longerNullString(existing.Narrative, newer.Narrative),
		"subtitle":         longerNullString(existing.Subtitle, newer.Subtitle),
	}
}

func maxInt64(a, b int64) int64 {
	if b > a {
		return b
	}
	return a
}

// longerNullString returns the strictly longer (by byte length) of two nullable string
// fields; ties and invalid values favor existing (a), per §4.5.
func longerNullString(a, b sql.NullString) sql.NullString {
	if b.Valid && len(b.String) > len(a.String) {
		return b
	}
	return a
}

// CleanupOldObservations archives observations beyond the per-project cap, oldest first,
// leaving the most recent maxPerProject rows untouched (supplemented archival lifecycle).
func (s *ObservationStore) CleanupOldObservations(project string, maxPerProject int) (int64, error) {
	var ids []int64
	err := s.db.Model(&models.Observation{}).
		Where("project = ? AND archived_at_epoch IS NULL", project).
		Order("created_at_epoch DESC").
		Offset(maxPerProject).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	now := time.Now().UnixMilli()
	result := s.db.Model(&models.Observation{}).Where("id IN ?", ids).Updates(map[string]any{
		"archived_at_epoch": now,
		"archived_reason":   "project_cap_exceeded",
	})
	return result.RowsAffected, result.Error
}

// ArchiveObservation marks an observation as archived without deleting it, optionally
// recording the observation that supersedes it.
func (s *ObservationStore) ArchiveObservation(id int64, reason string, supersededBy *int64) error {
	updates := map[string]any{
		"archived_at_epoch": time.Now().UnixMilli(),
		"archived_reason":   reason,
	}
	if supersededBy != nil {
		updates["superseded_by"] = *supersededBy
	}
	return s.db.Model(&models.Observation{}).Where("id = ?", id).Updates(updates).Error
}

// UnarchiveObservation clears an observation's archived state.
func (s *ObservationStore) UnarchiveObservation(id int64) error {
	return s.db.Model(&models.Observation{}).Where("id = ?", id).Updates(map[string]any{
		"archived_at_epoch": nil,
		"archived_reason":   nil,
		"superseded_by":     nil,
	}).Error
}

// SearchObservationsFTS runs a Postgres tsquery search and returns rows with their rank,
// the raw building block for the hybrid fusion in §4.7.
func (s *ObservationStore) SearchObservationsFTS(query string, limit int) ([]models.Observation, []float64, error) {
	type row struct {
		models.Observation
		Rank float64
	}
	var rows []row
	err := s.db.Raw(`
		SELECT o.*, ts_rank(o.search_vector, plainto_tsquery('english', ?)) AS rank
		FROM observations o
		WHERE o.search_vector @@ plainto_tsquery('english', ?) AND o.archived_at_epoch IS NULL
		ORDER BY rank DESC
		LIMIT ?`, query, query, limit).Scan(&rows).Error
	if err != nil {
		return nil, nil, err
	}
	obs := make([]models.Observation, len(rows))
	ranks := make([]float64, len(rows))
	for i, r := range rows {
		obs[i] = r.Observation
		ranks[i] = r.Rank
	}
	return obs, ranks, nil
}

// tokenize splits text into lowercase alphanumeric tokens for the keyword-overlap term in
// the text-only hybrid score (§4.7).
func tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}
