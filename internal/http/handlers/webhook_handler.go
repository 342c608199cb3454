// Webhook HTTP handlers.
//
// This file exposes the inbound entry points. All of them sit behind the
// shared-secret check in the router:
//   - POST /webhooks/telegram     (chat updates)
//   - POST /webhooks/records      (record change notifications)
//   - POST /webhooks/conversions  (audio conversion callbacks)
//
// Chat updates are always acknowledged with 200 once decoded. Conversation
// errors are answered in-band by the state machine; a 5xx would only make the
// chat platform redeliver the same update.
package handlers

import (
	"errors"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gin-gonic/gin"

	"github.com/tbourn/resume-intake-bot/internal/clients"
	"github.com/tbourn/resume-intake-bot/internal/http/middleware"
	"github.com/tbourn/resume-intake-bot/internal/services"
)

// Webhook sources, used as metric labels.
const (
	sourceTelegram    = "telegram"
	sourceRecords     = "records"
	sourceConversions = "conversions"
)

// TelegramWebhook godoc
// @ID          telegramWebhook
// @Summary     Receive a chat update
// @Description Decodes a Telegram update, drops redeliveries by update_id and runs one conversation turn.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
//
// @Param       secret  query  string  true  "Shared webhook secret"
// @Param       body    body   object  true  "Telegram Update"
//
// @Success     200  {object}  handlers.WebhookAck
// @Failure     400  {object}  handlers.ErrorResponse  "Undecodable update"
// @Failure     405  {object}  handlers.ErrorResponse  "Missing or wrong secret"
// @Router      /webhooks/telegram [post]
func (h *Handlers) TelegramWebhook(c *gin.Context) {
	var upd tgbotapi.Update
	if err := c.ShouldBindJSON(&upd); err != nil {
		middleware.ObserveWebhook(sourceTelegram, "invalid")
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid update body")
		return
	}
	lg := middleware.LoggerFrom(c)

	ev, supported := clients.EventFromUpdate(upd)
	if !supported {
		middleware.ObserveWebhook(sourceTelegram, "ignored")
		lg.Debug().Int("update_id", upd.UpdateID).Msg("unsupported update ignored")
		ok(c, http.StatusOK, WebhookAck{Status: "ignored"})
		return
	}

	ctx := c.Request.Context()
	if h.updates != nil {
		first, err := h.updates.MarkProcessed(ctx, ev.UpdateID, ev.ChatID)
		switch {
		case err != nil:
			// The step guard still rejects a replayed answer.
			lg.Warn().Err(err).Int64("update_id", ev.UpdateID).Msg("update guard unavailable")
		case !first:
			middleware.ObserveWebhook(sourceTelegram, "duplicate")
			lg.Info().Int64("update_id", ev.UpdateID).Int64("chat_id", ev.ChatID).Msg("duplicate update dropped")
			ok(c, http.StatusOK, WebhookAck{Status: "duplicate"})
			return
		}
	}

	if err := h.intake.HandleEvent(ctx, ev); err != nil {
		middleware.ObserveWebhook(sourceTelegram, "error")
		lg.Error().Err(err).Int64("chat_id", ev.ChatID).Str("kind", string(ev.Kind)).Msg("turn failed")
	} else {
		middleware.ObserveWebhook(sourceTelegram, "handled")
	}
	ok(c, http.StatusOK, WebhookAck{Status: "ok"})
}

// RecordsWebhook godoc
// @ID          recordsWebhook
// @Summary     Receive a record change notification
// @Description Forwards a users-table change to the handoff dispatcher.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
//
// @Param       secret  query  string                       true  "Shared webhook secret"
// @Param       body    body   services.ChangeNotification  true  "Change notification"
//
// @Success     200  {object}  handlers.WebhookAck
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid payload"
// @Failure     405  {object}  handlers.ErrorResponse  "Missing or wrong secret"
// @Failure     500  {object}  handlers.ErrorResponse  "Dispatch failed"
// @Router      /webhooks/records [post]
func (h *Handlers) RecordsWebhook(c *gin.Context) {
	var n services.ChangeNotification
	if err := c.ShouldBindJSON(&n); err != nil || n.Type == "" {
		middleware.ObserveWebhook(sourceRecords, "invalid")
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid change notification")
		return
	}
	if err := h.pipeline.HandleChange(c.Request.Context(), n); err != nil {
		middleware.ObserveWebhook(sourceRecords, "error")
		fail(c, http.StatusInternalServerError, ErrCodeDispatchFailed, "could not schedule handoff")
		return
	}
	middleware.ObserveWebhook(sourceRecords, "handled")
	ok(c, http.StatusOK, WebhookAck{Status: "ok"})
}

// ConversionWebhook godoc
// @ID          conversionWebhook
// @Summary     Receive an audio conversion callback
// @Description Schedules transcription of a finished voice conversion. Other job events are acknowledged and ignored.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
//
// @Param       secret  query  string  true  "Shared webhook secret"
// @Param       body    body   object  true  "Conversion job callback"
//
// @Success     200  {object}  handlers.WebhookAck
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid payload"
// @Failure     405  {object}  handlers.ErrorResponse  "Missing or wrong secret"
// @Failure     500  {object}  handlers.ErrorResponse  "Dispatch failed"
// @Router      /webhooks/conversions [post]
func (h *Handlers) ConversionWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		middleware.ObserveWebhook(sourceConversions, "invalid")
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable body")
		return
	}
	res, err := clients.ParseConversionWebhook(body)
	if err == nil {
		err = h.pipeline.HandleConversionFinished(c.Request.Context(), res)
	}
	switch {
	case err == nil:
		middleware.ObserveWebhook(sourceConversions, "handled")
		ok(c, http.StatusOK, WebhookAck{Status: "ok"})
	case errors.Is(err, services.ErrRecordNotFound):
		// The user restarted or left; nothing is waiting for this audio.
		middleware.ObserveWebhook(sourceConversions, "ignored")
		ok(c, http.StatusOK, WebhookAck{Status: "ignored"})
	case errors.Is(err, services.ErrBadPayload):
		middleware.ObserveWebhook(sourceConversions, "invalid")
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	default:
		middleware.ObserveWebhook(sourceConversions, "error")
		fail(c, http.StatusInternalServerError, ErrCodeDispatchFailed, "could not schedule transcription")
	}
}
