// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the outbox functions for Handoff intents.
//
// Lifecycle of a row:
//
//	pending --claim--> running --complete--> done | skipped
//	                      |--reschedule--> pending (next_attempt_at in the future)
//	                      `--fail--------> failed --retry (operator)--> pending
//
// A running row whose lease expired is claimable again, so a crashed worker
// never strands an intent.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/resume-intake-bot/internal/domain"
)

// ErrDuplicate indicates a unique constraint rejected the insert, e.g. an
// intent of the same kind already exists for the record session.
var ErrDuplicate = errors.New("duplicate")

// isUniqueViolation recognizes unique constraint errors across drivers.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key value")
}

// EnqueueHandoff persists a pending intent that is due immediately.
// It returns ErrDuplicate when the (session, kind) pair already exists.
func EnqueueHandoff(ctx context.Context, db *gorm.DB, recordID int64, sessionID string, kind domain.HandoffKind, payload []byte) (*domain.Handoff, error) {
	now := time.Now().UTC()
	h := &domain.Handoff{
		ID:            uuid.NewString(),
		RecordID:      recordID,
		SessionID:     sessionID,
		Kind:          kind,
		Payload:       datatypes.JSON(payload),
		Status:        domain.HandoffPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := db.WithContext(ctx).Create(h).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return h, nil
}

// GetHandoff loads a single intent by id.
func GetHandoff(ctx context.Context, db *gorm.DB, id string) (*domain.Handoff, error) {
	var h domain.Handoff
	if err := db.WithContext(ctx).First(&h, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &h, nil
}

// claimable matches intents that are due, or running with an expired lease.
func claimable(q *gorm.DB, now time.Time) *gorm.DB {
	return q.Where(
		"(status = ? AND next_attempt_at <= ?) OR (status = ? AND locked_until < ?)",
		domain.HandoffPending, now, domain.HandoffRunning, now,
	)
}

// DueHandoffs lists ids of claimable intents, oldest schedule first.
func DueHandoffs(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]string, error) {
	var ids []string
	err := claimable(db.WithContext(ctx).Model(&domain.Handoff{}), now).
		Order("next_attempt_at asc").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// ClaimHandoff atomically moves a claimable intent to running, bumps its
// attempt counter and leases it until now+lease. It reports whether this
// caller won the claim.
func ClaimHandoff(ctx context.Context, db *gorm.DB, id string, now time.Time, lease time.Duration) (bool, error) {
	res := claimable(db.WithContext(ctx).Model(&domain.Handoff{}).Where("id = ?", id), now).
		Updates(map[string]any{
			"status":       domain.HandoffRunning,
			"locked_until": now.Add(lease),
			"attempts":     gorm.Expr("attempts + 1"),
		})
	return res.RowsAffected > 0, res.Error
}

// CompleteHandoff marks an intent finished with status done or skipped.
func CompleteHandoff(ctx context.Context, db *gorm.DB, id, status string) error {
	now := time.Now().UTC()
	return db.WithContext(ctx).
		Model(&domain.Handoff{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       status,
			"completed_at": now,
			"locked_until": nil,
			"last_error":   "",
		}).Error
}

// RescheduleHandoff returns a failed attempt to pending with a later due time.
func RescheduleHandoff(ctx context.Context, db *gorm.DB, id string, next time.Time, lastErr string) error {
	return db.WithContext(ctx).
		Model(&domain.Handoff{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":          domain.HandoffPending,
			"next_attempt_at": next,
			"locked_until":    nil,
			"last_error":      lastErr,
		}).Error
}

// FailHandoff marks an intent as permanently failed.
func FailHandoff(ctx context.Context, db *gorm.DB, id, lastErr string) error {
	now := time.Now().UTC()
	return db.WithContext(ctx).
		Model(&domain.Handoff{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       domain.HandoffFailed,
			"completed_at": now,
			"locked_until": nil,
			"last_error":   lastErr,
		}).Error
}

// RetryHandoff re-queues a failed intent with a fresh attempt budget.
// It returns ErrNotFound when no failed intent with that id exists.
func RetryHandoff(ctx context.Context, db *gorm.DB, id string, now time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Handoff{}).
		Where("id = ? AND status = ?", id, domain.HandoffFailed).
		Updates(map[string]any{
			"status":          domain.HandoffPending,
			"attempts":        0,
			"next_attempt_at": now,
			"completed_at":    nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func handoffFilter(db *gorm.DB, status string) *gorm.DB {
	q := db.Model(&domain.Handoff{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	return q
}

// CountHandoffs counts intents, optionally filtered by status.
func CountHandoffs(ctx context.Context, db *gorm.DB, status string) (int64, error) {
	var total int64
	err := handoffFilter(db.WithContext(ctx), status).Count(&total).Error
	return total, err
}

// ListHandoffsPage returns a page of intents, newest first.
func ListHandoffsPage(ctx context.Context, db *gorm.DB, status string, offset, limit int) ([]domain.Handoff, error) {
	var out []domain.Handoff
	err := handoffFilter(db.WithContext(ctx), status).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
