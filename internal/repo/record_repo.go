// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for IntakeRecord.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. They follow the "thin repository"
// approach: no business logic, only persistence and guarded updates.
//
// Error semantics:
//   - Missing rows return ErrNotFound (gorm.ErrRecordNotFound).
//   - AdvanceStep returns ErrStaleStep when the stored step no longer matches
//     the step the caller read (concurrent or duplicate delivery).
//   - Guarded single-field writes report whether they matched a row.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/resume-intake-bot/internal/domain"
)

// ErrNotFound is returned when a requested row does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrStaleStep indicates the record moved past the step the caller expected.
var ErrStaleStep = errors.New("record step changed concurrently")

// GetRecord fetches the intake record for a chat id or returns ErrNotFound.
func GetRecord(ctx context.Context, db *gorm.DB, id int64) (*domain.IntakeRecord, error) {
	var rec domain.IntakeRecord
	if err := db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateRecord inserts a fresh record at step 0 with a new session id.
func CreateRecord(ctx context.Context, db *gorm.DB, id int64, language string) (*domain.IntakeRecord, error) {
	now := time.Now().UTC()
	rec := &domain.IntakeRecord{
		ID:        id,
		SessionID: uuid.NewString(),
		Step:      0,
		Language:  language,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, err
	}
	return rec, nil
}

// DeleteRecord removes the record for id. Deleting a missing record succeeds.
func DeleteRecord(ctx context.Context, db *gorm.DB, id int64) error {
	return db.WithContext(ctx).Where("id = ?", id).Delete(&domain.IntakeRecord{}).Error
}

// ResetRecord deletes any existing record for id and creates a new one in a
// single transaction, so a failed insert never leaves the user without state.
func ResetRecord(ctx context.Context, db *gorm.DB, id int64, language string) (*domain.IntakeRecord, error) {
	var rec *domain.IntakeRecord
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := DeleteRecord(ctx, tx, id); err != nil {
			return err
		}
		var err error
		rec, err = CreateRecord(ctx, tx, id, language)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// AdvanceStep moves the record from step `from` to `from+1` and writes fields
// in the same statement. The update only matches while the stored step is
// still `from`; otherwise ErrStaleStep is returned and nothing changes.
func AdvanceStep(ctx context.Context, db *gorm.DB, id int64, from int, fields map[string]any) error {
	updates := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		updates[k] = v
	}
	updates["step"] = from + 1

	res := db.WithContext(ctx).
		Model(&domain.IntakeRecord{}).
		Where("id = ? AND step = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleStep
	}
	return nil
}

// CompleteTranscription stores translated experience text for a record whose
// transcription is still pending. It reports whether a row was updated.
func CompleteTranscription(ctx context.Context, db *gorm.DB, id int64, text string) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.IntakeRecord{}).
		Where("id = ? AND transcription_status = ?", id, domain.TranscriptionPending).
		Updates(map[string]any{
			"experience":           text,
			"transcription_status": domain.TranscriptionDone,
		})
	return res.RowsAffected > 0, res.Error
}

// FailTranscription marks a pending transcription as failed.
func FailTranscription(ctx context.Context, db *gorm.DB, id int64) error {
	return db.WithContext(ctx).
		Model(&domain.IntakeRecord{}).
		Where("id = ? AND transcription_status = ?", id, domain.TranscriptionPending).
		Update("transcription_status", domain.TranscriptionFailed).Error
}

// SaveResume persists generated resume content once per session. It reports
// false without error when the record already carries a resume or belongs to
// another session.
func SaveResume(ctx context.Context, db *gorm.DB, id int64, sessionID, markdown, html string) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.IntakeRecord{}).
		Where("id = ? AND session_id = ?", id, sessionID).
		Where("(resume_html IS NULL OR resume_html = '') AND (resume_markdown IS NULL OR resume_markdown = '')").
		Updates(map[string]any{
			"resume_markdown": markdown,
			"resume_html":     html,
		})
	return res.RowsAffected > 0, res.Error
}

// MarkDocumentSent records that the resume PDF was delivered to the chat of
// the given session. It reports false when the mark was already set or the
// record belongs to another session.
func MarkDocumentSent(ctx context.Context, db *gorm.DB, id int64, sessionID string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.IntakeRecord{}).
		Where("id = ? AND session_id = ? AND document_sent_at IS NULL", id, sessionID).
		Update("document_sent_at", at)
	return res.RowsAffected > 0, res.Error
}

// ApproveRecord sets approved=true on a record that has a resume and was not
// approved before. It reports whether the flag flipped.
func ApproveRecord(ctx context.Context, db *gorm.DB, id int64) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.IntakeRecord{}).
		Where("id = ? AND approved = ? AND resume_html IS NOT NULL AND resume_html <> ''", id, false).
		Update("approved", true)
	return res.RowsAffected > 0, res.Error
}

// CountRecords returns the total number of intake records.
func CountRecords(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.IntakeRecord{}).Count(&total).Error
	return total, err
}

// ListRecordsPage returns a page of records, most recently updated first.
func ListRecordsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.IntakeRecord, error) {
	var out []domain.IntakeRecord
	err := db.WithContext(ctx).
		Order("updated_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
