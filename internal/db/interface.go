// Package db defines the storage interfaces the worker pool, search manager, and transport
// layers depend on, so they can be exercised against the GORM/Postgres implementation in
// internal/db/gorm without an import cycle.
package db

import (
	"context"
	"time"

	"github.com/thebtf/memengine/pkg/models"
)

// ObservationReader defines read operations for observations (§3.1, §4.5).
type ObservationReader interface {
	GetObservationByID(id int64) (*models.Observation, error)
	GetObservationByTitle(titleNormalized string) (*models.Observation, error)
	GetObservationsByIDs(ids []int64) ([]*models.Observation, error)
	GetRecentObservations(project string, limit, offset int) ([]*models.Observation, int64, error)
	GetAllObservations(project string) ([]*models.Observation, error)
	SearchObservationsFTS(query string, limit int) ([]models.Observation, []float64, error)
}

// ObservationWriter defines write operations for observations (§4.5).
type ObservationWriter interface {
	SaveObservation(obs *models.Observation) (bool, error)
	MergeIntoExisting(existingID int64, newer *models.Observation) error
	ArchiveObservation(id int64, reason string, supersededBy *int64) error
	UnarchiveObservation(id int64) error
	CleanupOldObservations(project string, maxPerProject int) (int64, error)
	UpdateImportanceScores(scores map[int64]float64) error
}

// ObservationStore combines read and write operations for observations.
type ObservationStore interface {
	ObservationReader
	ObservationWriter
}

// SessionStore defines session lifecycle operations (§3.2).
type SessionStore interface {
	EnsureSession(ctx context.Context, contentSessionID, project, userPrompt string) error
	GetSessionByContentID(ctx context.Context, contentSessionID string) (*models.Session, error)
	IncrementPromptCounter(ctx context.Context, contentSessionID string) (int, error)
	CompleteSession(ctx context.Context, contentSessionID string) error
	SweepStaleSessions(ctx context.Context, staleAfter time.Duration) (int64, error)
}

// SummaryStore defines session summary and hierarchical rollup operations (§3.3, §4.8).
type SummaryStore interface {
	SaveSessionSummary(ctx context.Context, summary *models.SessionSummary) error
	GetSessionSummary(ctx context.Context, sessionID string) (*models.SessionSummary, error)
	RecordRawEvent(ctx context.Context, event *models.RawEvent) error
	FetchUnsummarizedEvents(ctx context.Context, limit int) ([]models.RawEvent, error)
	CreateFiveMinuteSummary(ctx context.Context, summary *models.Summary, eventIDs []int64) error
	FetchUnrolledSummaries(ctx context.Context, level models.SummaryLevel, sessionID string) ([]models.Summary, error)
	RollUp(ctx context.Context, parent *models.Summary, children []models.Summary) error
	GetChildren(ctx context.Context, parentID int64) ([]models.Summary, error)
	GetRawEventsBySummary(ctx context.Context, summaryID int64) ([]models.RawEvent, error)
}

// PromptStore defines user prompt persistence for injection-echo dedup (§4.6).
type PromptStore interface {
	RecordPrompt(ctx context.Context, claudeSessionID string, promptNumber int, text string, matchedObservations int) (*models.UserPrompt, error)
	SearchPromptsFTS(ctx context.Context, query string, limit int) ([]models.UserPrompt, error)
	GetRecentPrompts(ctx context.Context, claudeSessionID string, limit int) ([]models.UserPrompt, error)
}

// KnowledgeStore defines the global knowledge base CRUD (§3.6, supplemented feature 4).
type KnowledgeStore interface {
	SaveKnowledge(ctx context.Context, title, content string) (*models.GlobalKnowledge, error)
	GetKnowledge(ctx context.Context, id int64) (*models.GlobalKnowledge, error)
	SearchKnowledge(ctx context.Context, query string, limit int) ([]models.GlobalKnowledge, error)
	ListKnowledge(ctx context.Context, limit, offset int) ([]models.GlobalKnowledge, int64, error)
	DeleteKnowledge(ctx context.Context, id int64) error
}

// RelationStore defines association-edge persistence for the consolidation scheduler.
type RelationStore interface {
	SaveRelation(ctx context.Context, rel *models.ObservationRelation) error
	StoreRelation(ctx context.Context, rel *models.ObservationRelation) (int64, error)
	ListBySource(ctx context.Context, observationID int64, limit int) ([]models.ObservationRelation, error)
	GetRelationsByObservationID(ctx context.Context, obsID int64) ([]models.ObservationRelation, error)
	GetRelationCount(ctx context.Context, obsID int64) (int, error)
}
