package models

import "database/sql"

// MessageStatus is the lifecycle state of a PendingMessage (§3.4).
type MessageStatus string

const (
	MessagePending    MessageStatus = "pending"
	MessageProcessing MessageStatus = "processing"
	MessageFailed     MessageStatus = "failed"
	MessageProcessed  MessageStatus = "processed"
)

// PendingMessage is one element of the at-least-once ingestion queue (C6).
type PendingMessage struct {
	ID              int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID       string         `gorm:"column:session_id;index" json:"session_id"`
	Project         sql.NullString `gorm:"column:project;index" json:"project,omitempty"`
	Status          MessageStatus  `gorm:"column:status;index" json:"status"`
	ToolName        string         `gorm:"column:tool_name" json:"tool_name"`
	ToolInput       sql.NullString `gorm:"column:tool_input" json:"tool_input,omitempty"`
	ToolResponse    sql.NullString `gorm:"column:tool_response" json:"tool_response,omitempty"`
	RetryCount      int            `gorm:"column:retry_count" json:"retry_count"`
	CreatedAtEpoch  int64          `gorm:"column:created_at_epoch;index" json:"created_at_epoch"`
	ClaimedAtEpoch  sql.NullInt64  `gorm:"column:claimed_at_epoch" json:"claimed_at_epoch,omitempty"`
	CompletedAtEpoch sql.NullInt64 `gorm:"column:completed_at_epoch" json:"completed_at_epoch,omitempty"`
}

func (PendingMessage) TableName() string { return "pending_messages" }
