package handlers

import (
	"context"

	"github.com/tbourn/resume-intake-bot/internal/domain"
	"github.com/tbourn/resume-intake-bot/internal/services"
)

// IntakeService handles one inbound chat event.
type IntakeService interface {
	HandleEvent(ctx context.Context, ev services.Event) error
}

// PipelineService receives record changes and conversion callbacks.
type PipelineService interface {
	HandleChange(ctx context.Context, n services.ChangeNotification) error
	HandleConversionFinished(ctx context.Context, res services.ConversionResult) error
}

// OperatorService is the operator read model.
type OperatorService interface {
	ListRecords(ctx context.Context, page, pageSize int) ([]domain.IntakeRecord, int64, error)
	GetRecord(ctx context.Context, id int64) (*domain.IntakeRecord, error)
	ListHandoffs(ctx context.Context, status string, page, pageSize int) ([]domain.Handoff, int64, error)
	RetryHandoff(ctx context.Context, id string) error
}

// UpdateGuard remembers chat update ids so redeliveries are dropped.
type UpdateGuard interface {
	// MarkProcessed reports whether updateID is seen for the first time.
	MarkProcessed(ctx context.Context, updateID, chatID int64) (bool, error)
}

// Handlers groups the webhook and operator endpoints. They depend on narrow
// service interfaces, not on the services package types.
type Handlers struct {
	intake   IntakeService
	pipeline PipelineService
	operator OperatorService
	updates  UpdateGuard
}

// New constructs Handlers bound to the given services. updates may be nil,
// in which case duplicate updates are caught by the step guard alone.
func New(intake IntakeService, pipeline PipelineService, operator OperatorService, updates UpdateGuard) *Handlers {
	return &Handlers{intake: intake, pipeline: pipeline, operator: operator, updates: updates}
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// WebhookAck is returned by every accepted webhook delivery.
type WebhookAck struct {
	// Status is "ok", "duplicate" or "ignored".
	Status string `json:"status" example:"ok"`
}
