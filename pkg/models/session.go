package models

import "database/sql"

// SessionStatus is the lifecycle state of a Session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// Session groups a conversation's observations and summaries together.
type Session struct {
	ID               string         `gorm:"column:id;primaryKey" json:"id"`
	ContentSessionID string         `gorm:"column:content_session_id;index" json:"content_session_id"`
	MemorySessionID  sql.NullString `gorm:"column:memory_session_id" json:"memory_session_id,omitempty"`
	Project          sql.NullString `gorm:"column:project;index" json:"project,omitempty"`
	UserPrompt       sql.NullString `gorm:"column:user_prompt" json:"user_prompt,omitempty"`
	StartedAtEpoch   int64          `gorm:"column:started_at_epoch" json:"started_at_epoch"`
	EndedAtEpoch     sql.NullInt64  `gorm:"column:ended_at_epoch" json:"ended_at_epoch,omitempty"`
	Status           SessionStatus  `gorm:"column:status" json:"status"`
	PromptCounter    int            `gorm:"column:prompt_counter" json:"prompt_counter"`
}

func (Session) TableName() string { return "sessions" }

// SessionSummary is the post-hoc synthesis of one completed session.
type SessionSummary struct {
	ID            int64           `gorm:"primaryKey" json:"id"`
	SessionID     string          `gorm:"column:session_id;uniqueIndex" json:"session_id"`
	Request       string          `gorm:"column:request" json:"request"`
	Investigated  string          `gorm:"column:investigated" json:"investigated"`
	Learned       string          `gorm:"column:learned" json:"learned"`
	Completed     string          `gorm:"column:completed" json:"completed"`
	NextSteps     string          `gorm:"column:next_steps" json:"next_steps"`
	Notes         string          `gorm:"column:notes" json:"notes"`
	FilesRead     JSONStringArray `gorm:"column:files_read;type:jsonb" json:"files_read"`
	FilesEdited   JSONStringArray `gorm:"column:files_edited;type:jsonb" json:"files_edited"`
	CreatedAtEpoch int64          `gorm:"column:created_at_epoch" json:"created_at_epoch"`
}

func (SessionSummary) TableName() string { return "session_summaries" }

// UserPrompt records a single user turn within a session, used for prompt-echo dedup.
type UserPrompt struct {
	ID                   int64  `gorm:"primaryKey" json:"id"`
	ClaudeSessionID       string `gorm:"column:claude_session_id;index" json:"claude_session_id"`
	PromptNumber          int    `gorm:"column:prompt_number" json:"prompt_number"`
	PromptText            string `gorm:"column:prompt_text" json:"prompt_text"`
	MatchedObservations    int   `gorm:"column:matched_observations" json:"matched_observations"`
	CreatedAtEpoch         int64 `gorm:"column:created_at_epoch" json:"created_at_epoch"`
}

func (UserPrompt) TableName() string { return "user_prompts" }

// UserPromptWithSession joins a UserPrompt to its owning session's project, for listing.
type UserPromptWithSession struct {
	UserPrompt
	Project string `json:"project,omitempty"`
}
