package models

// SearchResult is the response shape for every C8 search operation.
type SearchResult struct {
	ID         int64           `json:"id"`
	Title      string          `json:"title"`
	Subtitle   string          `json:"subtitle,omitempty"`
	Type       ObservationType `json:"observation_type"`
	NoiseLevel NoiseLevel      `json:"noise_level"`
	Score      float64         `json:"score"`
	// Stale flags that a tracked file has changed since the observation was captured
	// (supplemented feature 1's read-time advisory), never stored, recomputed per query.
	Stale bool `json:"stale,omitempty"`
}

// PaginatedResult wraps any list endpoint's response with cursor/offset bookkeeping.
type PaginatedResult[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// MaxQueryLimit is the process-wide cap every list endpoint enforces (§4.7).
const MaxQueryLimit = 500

// RelationType classifies a discovered association between two observations.
type RelationType string

const (
	RelationSimilar     RelationType = "similar"
	RelationCausal      RelationType = "causal"
	RelationContradicts RelationType = "contradicts"
	RelationExtends     RelationType = "extends"
)

// ObservationRelation is a supplemented-feature edge discovered by the consolidation
// scheduler's association pass (SPEC_FULL.md supplemented feature 3).
type ObservationRelation struct {
	ID              int64        `gorm:"primaryKey;autoIncrement" json:"id"`
	SourceID        int64        `gorm:"column:source_id;index" json:"source_id"`
	TargetID        int64        `gorm:"column:target_id;index" json:"target_id"`
	Type            RelationType `gorm:"column:relation_type" json:"relation_type"`
	Confidence      float64      `gorm:"column:confidence" json:"confidence"`
	DetectionSource string       `gorm:"column:detection_source" json:"detection_source"`
	Reason          string       `gorm:"column:reason" json:"reason,omitempty"`
	CreatedAtEpoch  int64        `gorm:"column:created_at_epoch" json:"created_at_epoch"`
}

func (ObservationRelation) TableName() string { return "observation_relations" }

// NewObservationRelation builds a relation row with created_at stamped by the caller via
// the epoch argument (time.Now() is intentionally kept out of pkg/models to keep this
// package free of wall-clock side effects for its pure constructors).
func NewObservationRelation(sourceID, targetID int64, relType RelationType, confidence float64, detectionSource, reason string) *ObservationRelation {
	return &ObservationRelation{
		SourceID:        sourceID,
		TargetID:        targetID,
		Type:            relType,
		Confidence:      confidence,
		DetectionSource: detectionSource,
		Reason:          reason,
	}
}
