// Operator HTTP handlers.
//
// This file exposes the operator API, mounted under the API base path and
// protected by the shared secret:
//   - GET  /records               (list, paginated, ETag support)
//   - GET  /records/{id}          (single record)
//   - GET  /handoffs              (list, optional status filter, ETag support)
//   - POST /handoffs/{id}/retry   (requeue a failed handoff)
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/resume-intake-bot/internal/domain"
	"github.com/tbourn/resume-intake-bot/internal/repo"
	"github.com/tbourn/resume-intake-bot/internal/services"
	"github.com/tbourn/resume-intake-bot/internal/utils"
)

// ListRecordsResponse wraps a page of intake records.
type ListRecordsResponse struct {
	Records    []domain.IntakeRecord `json:"records"`
	Pagination Pagination            `json:"pagination"`
}

// ListHandoffsResponse wraps a page of handoff intents.
type ListHandoffsResponse struct {
	Handoffs   []domain.Handoff `json:"handoffs"`
	Pagination Pagination       `json:"pagination"`
}

var handoffStatuses = map[string]struct{}{
	domain.HandoffPending: {},
	domain.HandoffRunning: {},
	domain.HandoffDone:    {},
	domain.HandoffFailed:  {},
	domain.HandoffSkipped: {},
}

func paginationOf(page, pageSize int, total int64) Pagination {
	totalPages := utils.TotalPages(total, pageSize)
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// operatorDB returns the database behind the operator service, if any.
func (h *Handlers) operatorDB() *gorm.DB {
	if svc, ok := h.operator.(*services.OperatorService); ok {
		return svc.DB
	}
	return nil
}

// notModified sets a weak ETag and reports whether If-None-Match matched.
func notModified(c *gin.Context, scope string, count int64, maxTS *time.Time) bool {
	var ts int64
	if maxTS != nil {
		ts = maxTS.UnixNano()
	}
	etag := fmt.Sprintf(`W/"%s:%d:%d"`, scope, count, ts)
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}

// ListRecords godoc
// @ID          listRecords
// @Summary     List intake records (paginated)
// @Description Returns a page of intake records, most recently updated first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Operator
// @Produce     json
//
// @Param       secret         query   string  true  "Shared secret"
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       page           query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListRecordsResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     405  {object} handlers.ErrorResponse "Missing or wrong secret"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /records [get]
func (h *Handlers) ListRecords(c *gin.Context) {
	ctx := c.Request.Context()
	page, pageSize := utils.ParsePage(c.Query("page"), c.Query("page_size"))

	if db := h.operatorDB(); db != nil {
		if count, maxTS, err := repo.RecordsStats(ctx, db); err == nil {
			scope := fmt.Sprintf("records:%d:%d", page, pageSize)
			if notModified(c, scope, count, maxTS) {
				return
			}
		}
	}

	items, total, err := h.operator.ListRecords(ctx, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListRecordsResponse{Records: items, Pagination: paginationOf(page, pageSize, total)})
}

// GetRecord godoc
// @ID          getRecord
// @Summary     Get an intake record
// @Tags        Operator
// @Produce     json
//
// @Param       secret  query  string  true  "Shared secret"
// @Param       id      path   int     true  "Chat id"  example(123456789)
//
// @Success     200  {object} domain.IntakeRecord
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Record not found"
// @Failure     405  {object} handlers.ErrorResponse "Missing or wrong secret"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /records/{id} [get]
func (h *Handlers) GetRecord(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "record id must be an integer")
		return
	}
	rec, err := h.operator.GetRecord(c.Request.Context(), id)
	switch {
	case errors.Is(err, services.ErrRecordNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "record not found")
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	default:
		ok(c, http.StatusOK, rec)
	}
}

// ListHandoffs godoc
// @ID          listHandoffs
// @Summary     List handoff intents (paginated)
// @Description Returns a page of handoff intents, optionally filtered by status. Supports weak ETag via If-None-Match.
// @Tags        Operator
// @Produce     json
//
// @Param       secret         query   string  true  "Shared secret"
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       status         query   string  false "Status filter"  Enums(pending, running, done, failed, skipped)
// @Param       page           query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListHandoffsResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Unknown status"
// @Failure     405  {object} handlers.ErrorResponse "Missing or wrong secret"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /handoffs [get]
func (h *Handlers) ListHandoffs(c *gin.Context) {
	ctx := c.Request.Context()
	status := strings.ToLower(strings.TrimSpace(c.Query("status")))
	if _, known := handoffStatuses[status]; status != "" && !known {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown status")
		return
	}
	page, pageSize := utils.ParsePage(c.Query("page"), c.Query("page_size"))

	if db := h.operatorDB(); db != nil {
		if count, maxTS, err := repo.HandoffsStats(ctx, db, status); err == nil {
			scope := fmt.Sprintf("handoffs:%s:%d:%d", status, page, pageSize)
			if notModified(c, scope, count, maxTS) {
				return
			}
		}
	}

	items, total, err := h.operator.ListHandoffs(ctx, status, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListHandoffsResponse{Handoffs: items, Pagination: paginationOf(page, pageSize, total)})
}

// RetryHandoff godoc
// @ID          retryHandoff
// @Summary     Retry a failed handoff
// @Description Moves a failed intent back to pending; the outbox relay runs it on its next poll.
// @Tags        Operator
// @Produce     json
//
// @Param       secret  query  string  true  "Shared secret"
// @Param       id      path   string  true  "Handoff id (UUID)"  format(uuid)
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "No failed handoff with this id"
// @Failure     405  {object} handlers.ErrorResponse "Missing or wrong secret"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /handoffs/{id}/retry [post]
func (h *Handlers) RetryHandoff(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "handoff id must be a UUID")
		return
	}
	err := h.operator.RetryHandoff(c.Request.Context(), id)
	switch {
	case errors.Is(err, services.ErrHandoffNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "no failed handoff with this id")
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeRetryFailed, err.Error())
	default:
		noContent(c)
	}
}
