package gorm

import (
	"context"
	"database/sql"
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/memengine/pkg/models"
)

// SummaryStore provides session summary and hierarchical rollup operations (§3.3, §4.8).
type SummaryStore struct {
	db *gorm.DB
}

// NewSummaryStore creates a new summary store.
func NewSummaryStore(store *Store) *SummaryStore {
	return &SummaryStore{db: store.DB}
}

// SaveSessionSummary upserts the one-per-session synthesis produced at session completion.
func (s *SummaryStore) SaveSessionSummary(ctx context.Context, summary *models.SessionSummary) error {
	summary.CreatedAtEpoch = time.Now().UnixMilli()
	return s.db.WithContext(ctx).Save(summary).Error
}

// GetSessionSummary fetches the summary for a session, if one exists.
func (s *SummaryStore) GetSessionSummary(ctx context.Context, sessionID string) (*models.SessionSummary, error) {
	var summary models.SessionSummary
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&summary).Error; err != nil {
		return nil, err
	}
	return &summary, nil
}

// RecordRawEvent appends one raw event to the ingestion stream that feeds C9's rollup.
func (s *SummaryStore) RecordRawEvent(ctx context.Context, event *models.RawEvent) error {
	return s.db.WithContext(ctx).Create(event).Error
}

// FetchUnsummarizedEvents returns up to limit raw events not yet rolled into a 5-minute
// summary, oldest first, grouped later by the caller per session_id (§4.8's compression run).
func (s *SummaryStore) FetchUnsummarizedEvents(ctx context.Context, limit int) ([]models.RawEvent, error) {
	var events []models.RawEvent
	err := s.db.WithContext(ctx).
		Where("summary_5min_id IS NULL").
		Order("ts_epoch ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// CreateFiveMinuteSummary inserts a new 5-minute summary and repoints the given raw events
// to it, atomically, so the `WHERE summary_5min_id IS NULL` precondition used by
// FetchUnsummarizedEvents prevents any event from being rolled up twice.
func (s *SummaryStore) CreateFiveMinuteSummary(ctx context.Context, summary *models.Summary, eventIDs []int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		summary.Level = models.LevelMin5
		if err := tx.Create(summary).Error; err != nil {
			return err
		}
		return tx.Model(&models.RawEvent{}).
			Where("id IN ?", eventIDs).
			Update("summary_5min_id", summary.ID).Error
	})
}

// FetchUnrolledSummaries returns summaries at level that have not yet been rolled into a
// parent, used to decide whether a session has accumulated enough children to roll up.
func (s *SummaryStore) FetchUnrolledSummaries(ctx context.Context, level models.SummaryLevel, sessionID string) ([]models.Summary, error) {
	var summaries []models.Summary
	q := s.db.WithContext(ctx).Where("level = ? AND parent_id IS NULL", level)
	if sessionID != "" {
		q = q.Where("session_id = ?", sessionID)
	}
	err := q.Order("ts_start_epoch ASC").Find(&summaries).Error
	return summaries, err
}

// RollUp creates a parent summary at the next coarser level and repoints children to it in
// one transaction: INSERT parent, then UPDATE child rows, so a crash mid-rollup leaves no
// child pointed at a half-created parent (§4.8's atomicity rule).
func (s *SummaryStore) RollUp(ctx context.Context, parent *models.Summary, children []models.Summary) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(parent).Error; err != nil {
			return err
		}
		ids := make([]int64, len(children))
		for i, c := range children {
			ids[i] = c.ID
		}
		return tx.Model(&models.Summary{}).
			Where("id IN ? AND parent_id IS NULL", ids).
			Update("parent_id", sql.NullInt64{Int64: parent.ID, Valid: true}).Error
	})
}

// GetChildren returns the summaries (or raw events, for a 5-minute parent) rolled into
// parentID, for the hierarchical memory drill-down tool.
func (s *SummaryStore) GetChildren(ctx context.Context, parentID int64) ([]models.Summary, error) {
	var children []models.Summary
	err := s.db.WithContext(ctx).Where("parent_id = ?", parentID).Order("ts_start_epoch ASC").Find(&children).Error
	return children, err
}

// GetRawEventsBySessionID returns every raw event recorded for a session, oldest first, for
// session-summary completion (§6.1 POST /sessions/{id}/complete).
func (s *SummaryStore) GetRawEventsBySessionID(ctx context.Context, sessionID string) ([]models.RawEvent, error) {
	var events []models.RawEvent
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("ts_epoch ASC").Find(&events).Error
	return events, err
}

// GetRawEventsBySummary returns the raw events a 5-minute summary rolled up.
func (s *SummaryStore) GetRawEventsBySummary(ctx context.Context, summaryID int64) ([]models.RawEvent, error) {
	var events []models.RawEvent
	err := s.db.WithContext(ctx).Where("summary_5min_id = ?", summaryID).Order("ts_epoch ASC").Find(&events).Error
	return events, err
}
