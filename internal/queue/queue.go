// Package queue implements the at-least-once ingestion queue (C6).
package queue

import (
	"context"
	"database/sql"
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/memengine/internal/errs"
	"github.com/thebtf/memengine/pkg/models"
)

// Queue is the durable pending_messages surface workers claim from.
type Queue struct {
	db *gorm.DB
}

// New wraps a GORM handle.
func New(db *gorm.DB) *Queue {
	return &Queue{db: db}
}

// Enqueue durably inserts a message with status Pending, retry_count 0.
func (q *Queue) Enqueue(ctx context.Context, sessionID, toolName string, toolInput, toolResponse, project *string) (int64, error) {
	msg := &models.PendingMessage{
		SessionID:      sessionID,
		Status:         models.MessagePending,
		ToolName:       toolName,
		CreatedAtEpoch: time.Now().UnixMilli(),
	}
	if toolInput != nil {
		msg.ToolInput = sql.NullString{String: *toolInput, Valid: true}
	}
	if toolResponse != nil {
		msg.ToolResponse = sql.NullString{String: *toolResponse, Valid: true}
	}
	if project != nil {
		msg.Project = sql.NullString{String: *project, Valid: true}
	}
	if err := q.db.WithContext(ctx).Create(msg).Error; err != nil {
		return 0, errs.New(errs.TransientIO, "Enqueue", err)
	}
	return msg.ID, nil
}

// Claim atomically selects up to limit messages eligible for processing — pending, or
// processing past the visibility timeout (a stranded claimer) — and transitions them to
// Processing. Row-level SKIP LOCKED makes this safe under concurrent claimers without
// blocking one claimer on another's in-flight selection.
func (q *Queue) Claim(ctx context.Context, limit int, visibilityTimeoutSeconds int64) ([]models.PendingMessage, error) {
	now := time.Now().UnixMilli()
	staleThreshold := now - visibilityTimeoutSeconds*1000

	var claimed []models.PendingMessage
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var candidates []models.PendingMessage
		err := tx.Raw(`
			SELECT id FROM pending_messages
			WHERE status = ?
			   OR (status = ? AND claimed_at_epoch < ?)
			ORDER BY created_at_epoch ASC
			LIMIT ?
			FOR UPDATE SKIP LOCKED
		`, models.MessagePending, models.MessageProcessing, staleThreshold, limit).Scan(&candidates).Error
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			return nil
		}
		ids := make([]int64, len(candidates))
		for i, c := range candidates {
			ids[i] = c.ID
		}
		if err := tx.Model(&models.PendingMessage{}).Where("id IN ?", ids).
			Updates(map[string]any{"status": models.MessageProcessing, "claimed_at_epoch": now}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Order("created_at_epoch ASC").Find(&claimed).Error
	})
	if err != nil {
		return nil, errs.New(errs.TransientIO, "Claim", err)
	}
	return claimed, nil
}

// Complete durably deletes a message. Raw tool output may carry secrets, so retention past
// successful processing is not desirable.
func (q *Queue) Complete(ctx context.Context, id int64) error {
	if err := q.db.WithContext(ctx).Delete(&models.PendingMessage{}, id).Error; err != nil {
		return errs.New(errs.TransientIO, "Complete", err)
	}
	return nil
}

// Fail transitions a message on processing failure. When incrementRetry is true the retry
// counter advances and the message returns to Pending unless it has now reached max_retries,
// in which case it moves to Failed. When false it moves to Failed directly (non-transient
// failures are not worth retrying).
func (q *Queue) Fail(ctx context.Context, id int64, incrementRetry bool, maxRetries int) error {
	if !incrementRetry {
		err := q.db.WithContext(ctx).Model(&models.PendingMessage{}).Where("id = ?", id).
			Update("status", models.MessageFailed).Error
		if err != nil {
			return errs.New(errs.TransientIO, "Fail", err)
		}
		return nil
	}

	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var msg models.PendingMessage
		if err := tx.First(&msg, id).Error; err != nil {
			return err
		}
		retryCount := msg.RetryCount + 1
		status := models.MessagePending
		var claimedAt sql.NullInt64
		if retryCount >= maxRetries {
			status = models.MessageFailed
		}
		return tx.Model(&models.PendingMessage{}).Where("id = ?", id).
			Updates(map[string]any{"retry_count": retryCount, "status": status, "claimed_at_epoch": claimedAt}).Error
	})
	if err != nil {
		return errs.New(errs.TransientIO, "Fail", err)
	}
	return nil
}

// ReleaseStale returns stranded Processing messages (claimer crashed before completing or
// failing them) back to Pending, and reports how many were recovered.
func (q *Queue) ReleaseStale(ctx context.Context, visibilityTimeoutSeconds int64) (int64, error) {
	staleThreshold := time.Now().UnixMilli() - visibilityTimeoutSeconds*1000
	result := q.db.WithContext(ctx).Model(&models.PendingMessage{}).
		Where("status = ? AND claimed_at_epoch <= ?", models.MessageProcessing, staleThreshold).
		Updates(map[string]any{"status": models.MessagePending, "claimed_at_epoch": sql.NullInt64{}})
	if result.Error != nil {
		return 0, errs.New(errs.TransientIO, "ReleaseStale", result.Error)
	}
	return result.RowsAffected, nil
}

// ClearFailed deletes every Failed message, an operator knob for bulk cleanup.
func (q *Queue) ClearFailed(ctx context.Context) (int64, error) {
	result := q.db.WithContext(ctx).Where("status = ?", models.MessageFailed).Delete(&models.PendingMessage{})
	if result.Error != nil {
		return 0, errs.New(errs.TransientIO, "ClearFailed", result.Error)
	}
	return result.RowsAffected, nil
}

// RetryFailed resets every Failed message back to Pending with retry_count zeroed.
func (q *Queue) RetryFailed(ctx context.Context) (int64, error) {
	result := q.db.WithContext(ctx).Model(&models.PendingMessage{}).
		Where("status = ?", models.MessageFailed).
		Updates(map[string]any{"status": models.MessagePending, "retry_count": 0, "claimed_at_epoch": sql.NullInt64{}})
	if result.Error != nil {
		return 0, errs.New(errs.TransientIO, "RetryFailed", result.Error)
	}
	return result.RowsAffected, nil
}

// ClearAll deletes every queued message regardless of status, an operator knob for resets.
func (q *Queue) ClearAll(ctx context.Context) (int64, error) {
	result := q.db.WithContext(ctx).Where("1 = 1").Delete(&models.PendingMessage{})
	if result.Error != nil {
		return 0, errs.New(errs.TransientIO, "ClearAll", result.Error)
	}
	return result.RowsAffected, nil
}

// PendingCount reports how many messages are currently Pending.
func (q *Queue) PendingCount(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.WithContext(ctx).Model(&models.PendingMessage{}).
		Where("status = ?", models.MessagePending).Count(&count).Error
	if err != nil {
		return 0, errs.New(errs.TransientIO, "PendingCount", err)
	}
	return count, nil
}
