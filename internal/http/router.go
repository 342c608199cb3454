// Package httpapi wires the HTTP transport (Gin) to the intake services,
// middleware and route handlers. It centralizes cross-cutting concerns:
// tracing, correlation ids, redacted access logs, panic recovery, metrics,
// shared-secret authentication, rate limiting, CORS and security headers.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/resume-intake-bot/internal/config"
	"github.com/tbourn/resume-intake-bot/internal/domain"
	"github.com/tbourn/resume-intake-bot/internal/http/handlers"
	"github.com/tbourn/resume-intake-bot/internal/http/middleware"
	"github.com/tbourn/resume-intake-bot/internal/repo"
)

// maxBodyBytes caps webhook and API request bodies. Chat updates and
// callbacks are small; media arrives by file id, never inline.
const maxBodyBytes = 1 << 20

// RepoShim adapts the repository free functions to the services repository
// interfaces (RecordRepo, HandoffRepo and OperatorRepo).
type RepoShim struct{}

// GetRecord proxies repo.GetRecord.
func (RepoShim) GetRecord(ctx context.Context, db *gorm.DB, id int64) (*domain.IntakeRecord, error) {
	return repo.GetRecord(ctx, db, id)
}

// ResetRecord proxies repo.ResetRecord.
func (RepoShim) ResetRecord(ctx context.Context, db *gorm.DB, id int64, language string) (*domain.IntakeRecord, error) {
	return repo.ResetRecord(ctx, db, id, language)
}

// DeleteRecord proxies repo.DeleteRecord.
func (RepoShim) DeleteRecord(ctx context.Context, db *gorm.DB, id int64) error {
	return repo.DeleteRecord(ctx, db, id)
}

// AdvanceStep proxies repo.AdvanceStep.
func (RepoShim) AdvanceStep(ctx context.Context, db *gorm.DB, id int64, from int, fields map[string]any) error {
	return repo.AdvanceStep(ctx, db, id, from, fields)
}

// ApproveRecord proxies repo.ApproveRecord.
func (RepoShim) ApproveRecord(ctx context.Context, db *gorm.DB, id int64) (bool, error) {
	return repo.ApproveRecord(ctx, db, id)
}

// CompleteTranscription proxies repo.CompleteTranscription.
func (RepoShim) CompleteTranscription(ctx context.Context, db *gorm.DB, id int64, text string) (bool, error) {
	return repo.CompleteTranscription(ctx, db, id, text)
}

// FailTranscription proxies repo.FailTranscription.
func (RepoShim) FailTranscription(ctx context.Context, db *gorm.DB, id int64) error {
	return repo.FailTranscription(ctx, db, id)
}

// SaveResume proxies repo.SaveResume.
func (RepoShim) SaveResume(ctx context.Context, db *gorm.DB, id int64, sessionID, markdown, html string) (bool, error) {
	return repo.SaveResume(ctx, db, id, sessionID, markdown, html)
}

// MarkDocumentSent proxies repo.MarkDocumentSent.
func (RepoShim) MarkDocumentSent(ctx context.Context, db *gorm.DB, id int64, sessionID string, at time.Time) (bool, error) {
	return repo.MarkDocumentSent(ctx, db, id, sessionID, at)
}

// CountRecords proxies repo.CountRecords (pagination support).
func (RepoShim) CountRecords(ctx context.Context, db *gorm.DB) (int64, error) {
	return repo.CountRecords(ctx, db)
}

// ListRecordsPage proxies repo.ListRecordsPage (pagination support).
func (RepoShim) ListRecordsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.IntakeRecord, error) {
	return repo.ListRecordsPage(ctx, db, offset, limit)
}

// EnqueueHandoff proxies repo.EnqueueHandoff.
func (RepoShim) EnqueueHandoff(ctx context.Context, db *gorm.DB, recordID int64, sessionID string, kind domain.HandoffKind, payload []byte) (*domain.Handoff, error) {
	return repo.EnqueueHandoff(ctx, db, recordID, sessionID, kind, payload)
}

// GetHandoff proxies repo.GetHandoff.
func (RepoShim) GetHandoff(ctx context.Context, db *gorm.DB, id string) (*domain.Handoff, error) {
	return repo.GetHandoff(ctx, db, id)
}

// ClaimHandoff proxies repo.ClaimHandoff.
func (RepoShim) ClaimHandoff(ctx context.Context, db *gorm.DB, id string, now time.Time, lease time.Duration) (bool, error) {
	return repo.ClaimHandoff(ctx, db, id, now, lease)
}

// CompleteHandoff proxies repo.CompleteHandoff.
func (RepoShim) CompleteHandoff(ctx context.Context, db *gorm.DB, id, status string) error {
	return repo.CompleteHandoff(ctx, db, id, status)
}

// RescheduleHandoff proxies repo.RescheduleHandoff.
func (RepoShim) RescheduleHandoff(ctx context.Context, db *gorm.DB, id string, next time.Time, lastErr string) error {
	return repo.RescheduleHandoff(ctx, db, id, next, lastErr)
}

// FailHandoff proxies repo.FailHandoff.
func (RepoShim) FailHandoff(ctx context.Context, db *gorm.DB, id, lastErr string) error {
	return repo.FailHandoff(ctx, db, id, lastErr)
}

// CountHandoffs proxies repo.CountHandoffs.
func (RepoShim) CountHandoffs(ctx context.Context, db *gorm.DB, status string) (int64, error) {
	return repo.CountHandoffs(ctx, db, status)
}

// ListHandoffsPage proxies repo.ListHandoffsPage.
func (RepoShim) ListHandoffsPage(ctx context.Context, db *gorm.DB, status string, offset, limit int) ([]domain.Handoff, error) {
	return repo.ListHandoffsPage(ctx, db, status, offset, limit)
}

// RetryHandoff proxies repo.RetryHandoff.
func (RepoShim) RetryHandoff(ctx context.Context, db *gorm.DB, id string, now time.Time) error {
	return repo.RetryHandoff(ctx, db, id, now)
}

// RegisterRoutes attaches all middleware and endpoints to the Gin engine.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with secret and PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. SecretValidator (before the rate limiter so webhook senders bypass it)
//  8. Rate limiter (per IP)
//  9. CORS and security headers
func RegisterRoutes(r *gin.Engine, h *handlers.Handlers, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-Telegram-Bot-Api-Secret-Token"},
		MaskQuery:   []string{middleware.SecretQueryParam, "token"},
	}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(maxBodyBytes))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(middleware.SecretValidator(cfg.WebhookSecret))
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByIP())
	r.Use(rl.Handler())

	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	hooks := r.Group("/webhooks", middleware.RequireSecret())
	{
		hooks.POST("/telegram", h.TelegramWebhook)
		hooks.POST("/records", h.RecordsWebhook)
		hooks.POST("/conversions", h.ConversionWebhook)
	}

	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(
		middleware.RequireSecret(),
		middleware.SecurityHeaders(middleware.SecurityOptions{NoStore: true}),
		gzip.Gzip(gzip.DefaultCompression),
	)
	{
		api.GET("/records", h.ListRecords)
		api.GET("/records/:id", h.GetRecord)
		api.GET("/handoffs", h.ListHandoffs)
		api.POST("/handoffs/:id/retry", h.RetryHandoff)
	}
}

// corsMiddleware allows every origin when none are configured; otherwise it
// echoes allowlisted origins.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	base := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "If-None-Match"},
		ExposeHeaders:    []string{"X-Request-ID", "ETag", "Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		base.AllowAllOrigins = true
		return []gin.HandlerFunc{
			// ACAO even without an Origin header, for plain health probes.
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(base),
		}
	}
	base.AllowOrigins = origins
	return []gin.HandlerFunc{cors.New(base)}
}

// limitBody caps the request body size with http.MaxBytesReader.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
