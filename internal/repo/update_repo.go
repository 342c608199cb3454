// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file records processed chat update ids so webhook
// redeliveries are recognized and dropped.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/resume-intake-bot/internal/domain"
)

// MarkUpdateProcessed records updateID and reports whether this is the first
// time it was seen. An expired entry for the same id counts as unseen.
func MarkUpdateProcessed(ctx context.Context, db *gorm.DB, updateID, chatID int64, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	if err := db.WithContext(ctx).
		Where("update_id = ? AND expires_at <= ?", updateID, now).
		Delete(&domain.ProcessedUpdate{}).Error; err != nil {
		return false, err
	}

	rec := &domain.ProcessedUpdate{
		UpdateID:  updateID,
		ChatID:    chatID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// PurgeExpiredUpdates deletes entries whose TTL elapsed before now.
func PurgeExpiredUpdates(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.ProcessedUpdate{})
	return res.RowsAffected, res.Error
}
