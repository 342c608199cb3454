// Package services – IntakeService
//
// This file implements the conversation state machine. Each inbound event is
// handled statelessly: the record is reloaded, the transition for its step is
// looked up, the answer is validated and written with a step guard, and only
// then are replies sent and the change forwarded to the handoff pipeline.
//
// Failure mapping:
//   - invalid answer (age): re-prompt, record untouched
//   - wrong event kind or unhandled step: localized generic error, record untouched
//   - persistence failure: localized generic error, step not advanced
//   - stale step (duplicate or concurrent delivery): logged, nothing sent
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/resume-intake-bot/internal/domain"
	"github.com/tbourn/resume-intake-bot/internal/i18n"
	"github.com/tbourn/resume-intake-bot/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Callback payload keys ("<key>:<value>").
const (
	CallbackLanguage = "language"
	CallbackApproval = "approval"
	CallbackRestart  = "restart"
)

// Change notification types.
const (
	ChangeInsert = "INSERT"
	ChangeUpdate = "UPDATE"
	ChangeDelete = "DELETE"
)

// RecordsTable is the table name carried by record change notifications.
const RecordsTable = "users"

// Pipeline is the handoff side seen by the state machine. QueueConversion
// writes through the caller's transaction; Start runs the committed intent.
type Pipeline interface {
	ChangeHandler
	QueueConversion(ctx context.Context, db *gorm.DB, rec *domain.IntakeRecord, fileID string) (string, error)
	Start(ctx context.Context, id string)
}

// IntakeService drives the scripted intake conversation.
type IntakeService struct {
	DB        *gorm.DB
	Repo      RecordRepo
	Text      *i18n.Table
	Messenger Messenger
	Store     ObjectStore
	Files     Downloader
	Pipeline  Pipeline

	// StickerID is sent after the last question. Empty disables it.
	StickerID string
	// ImagesBucket receives user photos.
	ImagesBucket string
	// MaxAge is the largest accepted age answer.
	MaxAge int
	// DefaultLanguage is used before a record exists.
	DefaultLanguage string
}

// NewIntakeService constructs an IntakeService with default limits.
func NewIntakeService(db *gorm.DB, r RecordRepo, m Messenger, p Pipeline) *IntakeService {
	return &IntakeService{
		DB:              db,
		Repo:            r,
		Text:            i18n.Default(),
		Messenger:       m,
		Pipeline:        p,
		ImagesBucket:    "images",
		MaxAge:          MaxAgeDefault,
		DefaultLanguage: i18n.DefaultLanguage,
	}
}

// HandleEvent processes one inbound chat event. A non-nil error means a
// reply could not be delivered; conversation-level failures are answered
// in-band and return nil.
func (s *IntakeService) HandleEvent(ctx context.Context, ev Event) error {
	tr := otel.Tracer("services/IntakeService")
	ctx, span := tr.Start(ctx, "HandleEvent",
		trace.WithAttributes(
			attribute.Int64("chat.id", ev.ChatID),
			attribute.String("event.kind", string(ev.Kind)),
		),
	)
	defer span.End()

	var err error
	switch {
	case ev.Kind == EventCallback:
		err = s.handleCallback(ctx, ev)
	case ev.Kind == EventCommand && ev.Text == "start":
		err = s.sendWelcome(ctx, ev.ChatID)
	default:
		err = s.handleMessage(ctx, ev)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *IntakeService) handleMessage(ctx context.Context, ev Event) error {
	rec, err := s.Repo.GetRecord(ctx, s.DB, ev.ChatID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.sendWelcome(ctx, ev.ChatID)
	}
	if err != nil {
		logger(ctx).Error().Err(err).Int64("chat_id", ev.ChatID).Msg("load record")
		return s.sendError(ctx, ev.ChatID, s.defaultLanguage())
	}

	step := Step(rec.Step)
	tr, ok := transitions[step]
	if !ok {
		transitionsTotal.WithLabelValues(step.String(), "unhandled").Inc()
		logger(ctx).Warn().Int64("chat_id", rec.ID).Int("step", rec.Step).Err(ErrUnhandledStep).Msg("message ignored")
		return s.sendError(ctx, rec.ID, rec.Language)
	}
	if !tr.allows(ev.Kind) {
		transitionsTotal.WithLabelValues(step.String(), "rejected").Inc()
		logger(ctx).Info().Int64("chat_id", rec.ID).Stringer("step", step).Str("kind", string(ev.Kind)).
			Err(ErrUnexpectedInput).Msg("answer rejected")
		return s.sendError(ctx, rec.ID, rec.Language)
	}

	ans, err := tr.apply(ctx, s, rec, ev)
	switch {
	case errors.Is(err, ErrInvalidAge):
		transitionsTotal.WithLabelValues(step.String(), "reprompt").Inc()
		return s.say(ctx, rec.ID, i18n.KeyInvalidAge, rec.Language, "")
	case err != nil:
		transitionsTotal.WithLabelValues(step.String(), "rejected").Inc()
		logger(ctx).Warn().Err(err).Int64("chat_id", rec.ID).Stringer("step", step).Msg("answer not accepted")
		return s.sendError(ctx, rec.ID, rec.Language)
	}

	var queued string
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.Repo.AdvanceStep(ctx, tx, rec.ID, rec.Step, ans.fields); err != nil {
			return err
		}
		if ans.handoff == nil {
			return nil
		}
		id, err := ans.handoff(ctx, tx)
		if err != nil {
			return fmt.Errorf("queue handoff: %w", err)
		}
		queued = id
		return nil
	})
	if err != nil {
		if errors.Is(err, repo.ErrStaleStep) {
			transitionsTotal.WithLabelValues(step.String(), "stale").Inc()
			logger(ctx).Warn().Int64("chat_id", rec.ID).Stringer("step", step).Msg("stale answer dropped")
			return nil
		}
		transitionsTotal.WithLabelValues(step.String(), "error").Inc()
		logger(ctx).Error().Err(err).Int64("chat_id", rec.ID).Stringer("step", step).Msg("advance step")
		return s.sendError(ctx, rec.ID, rec.Language)
	}
	transitionsTotal.WithLabelValues(step.String(), "advanced").Inc()
	if queued != "" {
		s.Pipeline.Start(ctx, queued)
	}

	updated, err := s.Repo.GetRecord(ctx, s.DB, rec.ID)
	if err != nil {
		logger(ctx).Error().Err(err).Int64("chat_id", rec.ID).Msg("reload record")
		updated = nil
	}

	next := step + 1
	if err := s.say(ctx, rec.ID, i18n.StepKey(int(next)), rec.Language, ans.interp); err != nil {
		return err
	}
	if next == StepGenerating && s.StickerID != "" {
		if err := s.Messenger.SendSticker(ctx, rec.ID, s.StickerID); err != nil {
			logger(ctx).Warn().Err(err).Int64("chat_id", rec.ID).Msg("send sticker")
		}
	}
	if updated != nil {
		s.notify(ctx, ChangeNotification{Type: ChangeUpdate, Table: RecordsTable, Record: updated, OldRecord: rec})
	}
	return nil
}

func (s *IntakeService) handleCallback(ctx context.Context, ev Event) error {
	if err := s.Messenger.AnswerCallback(ctx, ev.CallbackID); err != nil {
		logger(ctx).Warn().Err(err).Str("callback_id", ev.CallbackID).Msg("answer callback")
	}
	key, value, _ := strings.Cut(ev.CallbackData, ":")
	switch key {
	case CallbackLanguage:
		return s.selectLanguage(ctx, ev.ChatID, value)
	case CallbackApproval:
		return s.approve(ctx, ev.ChatID)
	case CallbackRestart:
		return s.restart(ctx, ev.ChatID)
	}
	logger(ctx).Warn().Int64("chat_id", ev.ChatID).Str("data", ev.CallbackData).Msg("unknown callback")
	return s.sendError(ctx, ev.ChatID, s.defaultLanguage())
}

// selectLanguage restarts the conversation in the chosen language.
func (s *IntakeService) selectLanguage(ctx context.Context, chatID int64, code string) error {
	if !i18n.IsSupported(code) {
		logger(ctx).Warn().Int64("chat_id", chatID).Str("language", code).Err(ErrUnknownLanguage).Msg("language rejected")
		return s.sendError(ctx, chatID, s.defaultLanguage())
	}
	old := s.previousRecord(ctx, chatID)
	rec, err := s.Repo.ResetRecord(ctx, s.DB, chatID, code)
	if err != nil {
		logger(ctx).Error().Err(err).Int64("chat_id", chatID).Msg("reset record")
		return s.sendError(ctx, chatID, code)
	}
	transitionsTotal.WithLabelValues("language", "advanced").Inc()
	if err := s.say(ctx, chatID, i18n.StepKey(int(StepName)), code, ""); err != nil {
		return err
	}
	s.notify(ctx, ChangeNotification{Type: ChangeInsert, Table: RecordsTable, Record: rec, OldRecord: old})
	return nil
}

// approve records the user's consent to submit the generated resume.
func (s *IntakeService) approve(ctx context.Context, chatID int64) error {
	rec, err := s.Repo.GetRecord(ctx, s.DB, chatID)
	if err != nil {
		logger(ctx).Warn().Err(err).Int64("chat_id", chatID).Msg("approval without record")
		return s.sendError(ctx, chatID, s.defaultLanguage())
	}
	flipped, err := s.Repo.ApproveRecord(ctx, s.DB, chatID)
	if err != nil {
		logger(ctx).Error().Err(err).Int64("chat_id", chatID).Msg("approve record")
		return s.sendError(ctx, chatID, rec.Language)
	}
	if !flipped {
		transitionsTotal.WithLabelValues("approval", "rejected").Inc()
		logger(ctx).Warn().Int64("chat_id", chatID).Err(ErrNotReady).Msg("approval ignored")
		return s.sendError(ctx, chatID, rec.Language)
	}
	transitionsTotal.WithLabelValues("approval", "advanced").Inc()

	updated := *rec
	updated.Approved = true
	if err := s.say(ctx, chatID, i18n.KeyStepFinal, rec.Language, ""); err != nil {
		return err
	}
	s.notify(ctx, ChangeNotification{Type: ChangeUpdate, Table: RecordsTable, Record: &updated, OldRecord: rec})
	return nil
}

// previousRecord loads the record about to be replaced. It returns nil when
// there is none or it cannot be read; read failures are logged.
func (s *IntakeService) previousRecord(ctx context.Context, chatID int64) *domain.IntakeRecord {
	old, err := s.Repo.GetRecord(ctx, s.DB, chatID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			logger(ctx).Error().Err(err).Int64("chat_id", chatID).Msg("load previous record")
		}
		return nil
	}
	return old
}

// restart deletes the record and offers the language choice again.
func (s *IntakeService) restart(ctx context.Context, chatID int64) error {
	old := s.previousRecord(ctx, chatID)
	if err := s.Repo.DeleteRecord(ctx, s.DB, chatID); err != nil {
		logger(ctx).Error().Err(err).Int64("chat_id", chatID).Msg("delete record")
		lang := s.defaultLanguage()
		if old != nil {
			lang = old.Language
		}
		return s.sendError(ctx, chatID, lang)
	}
	transitionsTotal.WithLabelValues("restart", "advanced").Inc()
	if err := s.sendWelcome(ctx, chatID); err != nil {
		return err
	}
	if old != nil {
		s.notify(ctx, ChangeNotification{Type: ChangeDelete, Table: RecordsTable, OldRecord: old})
	}
	return nil
}

// sendWelcome sends the greeting with one language button per row.
func (s *IntakeService) sendWelcome(ctx context.Context, chatID int64) error {
	text, err := s.Text.Render(i18n.KeyWelcome, s.defaultLanguage(), "")
	if err != nil {
		logger(ctx).Error().Err(err).Msg("render welcome")
		return err
	}
	return s.send(ctx, OutgoingMessage{ChatID: chatID, Text: text, Keyboard: LanguageKeyboard()})
}

// LanguageKeyboard lists the supported languages, labelled in themselves.
func LanguageKeyboard() [][]Button {
	rows := make([][]Button, 0, len(i18n.Supported))
	for _, l := range i18n.Supported {
		rows = append(rows, []Button{{Text: l.Label(), Data: CallbackLanguage + ":" + l.Code}})
	}
	return rows
}

func (s *IntakeService) say(ctx context.Context, chatID int64, key, lang, interp string) error {
	text, err := s.Text.Render(key, lang, interp)
	if err != nil {
		logger(ctx).Error().Err(err).Int64("chat_id", chatID).Msg("render prompt")
		return err
	}
	return s.send(ctx, OutgoingMessage{ChatID: chatID, Text: text})
}

func (s *IntakeService) sendError(ctx context.Context, chatID int64, lang string) error {
	return s.say(ctx, chatID, i18n.KeyError, lang, "")
}

func (s *IntakeService) send(ctx context.Context, msg OutgoingMessage) error {
	if err := s.Messenger.Send(ctx, msg); err != nil {
		return fmt.Errorf("send to %d: %w", msg.ChatID, err)
	}
	return nil
}

func (s *IntakeService) notify(ctx context.Context, n ChangeNotification) {
	if s.Pipeline == nil {
		return
	}
	if err := s.Pipeline.HandleChange(ctx, n); err != nil {
		logger(ctx).Error().Err(err).Str("type", n.Type).Msg("change notification")
	}
}

// storePhoto copies the transport photo into object storage and returns its key.
func (s *IntakeService) storePhoto(ctx context.Context, chatID int64, fileID string) (string, error) {
	url, err := s.Messenger.FileURL(ctx, fileID)
	if err != nil {
		return "", fmt.Errorf("resolve photo: %w", err)
	}
	data, err := s.Files.Fetch(ctx, url)
	if err != nil {
		return "", fmt.Errorf("download photo: %w", err)
	}
	key := PhotoKey(chatID)
	if err := s.Store.Put(ctx, s.ImagesBucket, key, data, "image/jpeg"); err != nil {
		return "", fmt.Errorf("store photo: %w", err)
	}
	return key, nil
}

func (s *IntakeService) maxAge() int {
	if s.MaxAge > 0 {
		return s.MaxAge
	}
	return MaxAgeDefault
}

func (s *IntakeService) defaultLanguage() string {
	if s.DefaultLanguage != "" {
		return s.DefaultLanguage
	}
	return i18n.DefaultLanguage
}
