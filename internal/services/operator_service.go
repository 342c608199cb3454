// Package services – OperatorService
//
// Read model and maintenance actions for the operator API: paginated record
// and handoff listings and a manual retry for failed handoffs. A retried
// intent is picked up by the outbox relay on its next poll.
package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/resume-intake-bot/internal/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// OperatorRepo defines the repository contract required by OperatorService.
type OperatorRepo interface {
	GetRecord(ctx context.Context, db *gorm.DB, id int64) (*domain.IntakeRecord, error)
	CountRecords(ctx context.Context, db *gorm.DB) (int64, error)
	ListRecordsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.IntakeRecord, error)
	CountHandoffs(ctx context.Context, db *gorm.DB, status string) (int64, error)
	ListHandoffsPage(ctx context.Context, db *gorm.DB, status string, offset, limit int) ([]domain.Handoff, error)
	RetryHandoff(ctx context.Context, db *gorm.DB, id string, now time.Time) error
}

// OperatorService exposes the operator read model.
type OperatorService struct {
	DB   *gorm.DB
	Repo OperatorRepo
}

// NewOperatorService constructs an OperatorService.
func NewOperatorService(db *gorm.DB, r OperatorRepo) *OperatorService {
	return &OperatorService{DB: db, Repo: r}
}

// pageBounds applies defaults for invalid page/pageSize and returns the offset.
func pageBounds(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	return (page - 1) * pageSize, pageSize
}

// ListRecords returns a page of intake records, most recently updated first.
func (s *OperatorService) ListRecords(ctx context.Context, page, pageSize int) ([]domain.IntakeRecord, int64, error) {
	tr := otel.Tracer("services/OperatorService")
	ctx, span := tr.Start(ctx, "ListRecords",
		trace.WithAttributes(attribute.Int("page", page), attribute.Int("page_size", pageSize)),
	)
	defer span.End()

	offset, limit := pageBounds(page, pageSize)
	total, err := s.Repo.CountRecords(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.IntakeRecord{}, 0, nil
	}
	items, err := s.Repo.ListRecordsPage(ctx, s.DB, offset, limit)
	return items, total, err
}

// GetRecord returns a single record or ErrRecordNotFound.
func (s *OperatorService) GetRecord(ctx context.Context, id int64) (*domain.IntakeRecord, error) {
	rec, err := s.Repo.GetRecord(ctx, s.DB, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	return rec, err
}

// ListHandoffs returns a page of handoff intents, optionally filtered by status.
func (s *OperatorService) ListHandoffs(ctx context.Context, status string, page, pageSize int) ([]domain.Handoff, int64, error) {
	tr := otel.Tracer("services/OperatorService")
	ctx, span := tr.Start(ctx, "ListHandoffs",
		trace.WithAttributes(attribute.String("status", status), attribute.Int("page", page)),
	)
	defer span.End()

	offset, limit := pageBounds(page, pageSize)
	total, err := s.Repo.CountHandoffs(ctx, s.DB, status)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Handoff{}, 0, nil
	}
	items, err := s.Repo.ListHandoffsPage(ctx, s.DB, status, offset, limit)
	return items, total, err
}

// RetryHandoff moves a failed intent back to pending.
func (s *OperatorService) RetryHandoff(ctx context.Context, id string) error {
	err := s.Repo.RetryHandoff(ctx, s.DB, id, time.Now().UTC())
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrHandoffNotFound
	}
	return err
}
