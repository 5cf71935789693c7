package models

import "database/sql"

// EventKind is the tagged variant of a RawEvent.
type EventKind string

const (
	EventUser       EventKind = "user"
	EventAssistant  EventKind = "assistant"
	EventTool       EventKind = "tool"
	EventDecision   EventKind = "decision"
	EventError      EventKind = "error"
	EventCommit     EventKind = "commit"
	EventDelegation EventKind = "delegation"
)

// RawEvent is the finest-grained unit fed into the hierarchical summarization pipeline (C9).
type RawEvent struct {
	ID            int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Kind          EventKind      `gorm:"column:kind" json:"kind"`
	SessionID     string         `gorm:"column:session_id;index" json:"session_id"`
	Project       sql.NullString `gorm:"column:project;index" json:"project,omitempty"`
	Content       string         `gorm:"column:content" json:"content"`
	TSEpoch       int64          `gorm:"column:ts_epoch;index" json:"ts_epoch"`
	Summary5MinID sql.NullInt64  `gorm:"column:summary_5min_id;index" json:"summary_5min_id,omitempty"`
}

func (RawEvent) TableName() string { return "raw_events" }

// SummaryLevel is the coarseness tier of a rolled-up Summary.
type SummaryLevel string

const (
	LevelMin5 SummaryLevel = "5min"
	LevelHour SummaryLevel = "hour"
	LevelDay  SummaryLevel = "day"
)

// Summary is one node in the hierarchical rollup: 5-minute, hour, or day. A summary's
// [TSStartEpoch, TSEndEpoch] strictly contains every child it references.
type Summary struct {
	ID           int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	TSStartEpoch int64          `gorm:"column:ts_start_epoch" json:"ts_start_epoch"`
	TSEndEpoch   int64          `gorm:"column:ts_end_epoch" json:"ts_end_epoch"`
	SessionID    sql.NullString `gorm:"column:session_id;index" json:"session_id,omitempty"`
	Project      sql.NullString `gorm:"column:project;index" json:"project,omitempty"`
	Content      string         `gorm:"column:content" json:"content"`
	EventCount   int            `gorm:"column:event_count" json:"event_count"`
	Entities     JSONStringArray `gorm:"column:entities;type:jsonb" json:"entities,omitempty"`
	Level        SummaryLevel   `gorm:"column:level;index" json:"level"`
	ParentID     sql.NullInt64  `gorm:"column:parent_id;index" json:"parent_id,omitempty"`
}

func (Summary) TableName() string { return "summaries" }

// NextLevel returns the coarser level a summary rolls up into, and whether one exists.
func (l SummaryLevel) NextLevel() (SummaryLevel, bool) {
	switch l {
	case LevelMin5:
		return LevelHour, true
	case LevelHour:
		return LevelDay, true
	default:
		return "", false
	}
}

// GlobalKnowledge is an upsert-by-normalized-title record of a reusable skill, pattern, or
// gotcha (§3.6). Confidence monotonically increases toward 1 on repeated use.
type GlobalKnowledge struct {
	ID              int64   `gorm:"primaryKey;autoIncrement" json:"id"`
	Title           string  `gorm:"column:title" json:"title"`
	TitleNormalized string  `gorm:"column:title_normalized;uniqueIndex" json:"-"`
	Content         string  `gorm:"column:content" json:"content"`
	UsageCount      int64   `gorm:"column:usage_count" json:"usage_count"`
	Confidence      float64 `gorm:"column:confidence" json:"confidence"`
	CreatedAtEpoch  int64   `gorm:"column:created_at_epoch" json:"created_at_epoch"`
	UpdatedAtEpoch  int64   `gorm:"column:updated_at_epoch" json:"updated_at_epoch"`
}

func (GlobalKnowledge) TableName() string { return "global_knowledge" }

// BumpConfidence nudges confidence toward 1.0 by the given step on each use, never exceeding it.
func (k *GlobalKnowledge) BumpConfidence(step float64) {
	k.Confidence += (1.0 - k.Confidence) * step
	if k.Confidence > 1.0 {
		k.Confidence = 1.0
	}
	k.UsageCount++
}
