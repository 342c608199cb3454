// Package services – Dispatcher
//
// The Dispatcher turns record changes and conversion callbacks into handoff
// intents and executes them. Every intent is persisted before any outbound
// call (outbox); an immediate attempt is started in a tracked goroutine and
// the outbox relay retries whatever is still due. Claiming an intent takes a
// lease, so the immediate attempt and the relay never run the same intent at
// the same time.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/resume-intake-bot/internal/domain"
	"github.com/tbourn/resume-intake-bot/internal/i18n"
	"github.com/tbourn/resume-intake-bot/internal/observability"
	"github.com/tbourn/resume-intake-bot/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ChangeNotification is a record change event. The JSON shape matches the
// database webhook payload accepted on /webhooks/records.
type ChangeNotification struct {
	Type      string               `json:"type"`
	Table     string               `json:"table"`
	Schema    string               `json:"schema,omitempty"`
	Record    *domain.IntakeRecord `json:"record"`
	OldRecord *domain.IntakeRecord `json:"old_record"`
}

// ConversionResult is a decoded conversion-service callback.
type ConversionResult struct {
	Event    string
	JobID    string
	FileURL  string
	Filename string
}

// ConversionFinished is the callback event that carries an exported file.
const ConversionFinished = "job.finished"

// Buckets names the object storage buckets used by the pipeline.
type Buckets struct {
	Images      string
	Resumes     string
	Experiences string
}

// Dispatcher owns handoff intents and their runners.
type Dispatcher struct {
	DB       *gorm.DB
	Records  RecordRepo
	Handoffs HandoffRepo
	Text     *i18n.Table

	Messenger   Messenger
	Store       ObjectStore
	Files       Downloader
	Converter   AudioConverter
	Transcriber Transcriber
	Model       Completer
	Renderer    PDFRenderer
	Mailer      Mailer

	Buckets       Buckets
	SignedURLTTL  time.Duration
	PhotoWidth    int
	ConversionTag string

	// Disabled completes every intent as skipped without outbound calls.
	Disabled bool

	// Timeout bounds one execution attempt.
	Timeout time.Duration
	// Lease is how long a claimed intent is reserved for its executor.
	Lease time.Duration
	// MaxAttempts is the number of executions before an intent fails.
	MaxAttempts int
	// BackoffBase is the delay before the first retry; it doubles per attempt.
	BackoffBase time.Duration

	// Now is overridable for tests.
	Now func() time.Time

	wg sync.WaitGroup
}

// NewDispatcher constructs a Dispatcher with default retry settings.
func NewDispatcher(db *gorm.DB, records RecordRepo, handoffs HandoffRepo) *Dispatcher {
	return &Dispatcher{
		DB:            db,
		Records:       records,
		Handoffs:      handoffs,
		Text:          i18n.Default(),
		Buckets:       Buckets{Images: "images", Resumes: "resumes", Experiences: "experiences"},
		SignedURLTTL:  60 * time.Second,
		PhotoWidth:    200,
		ConversionTag: "jobbuilder",
		Timeout:       2 * time.Minute,
		Lease:         5 * time.Minute,
		MaxAttempts:   5,
		BackoffBase:   10 * time.Second,
		Now:           func() time.Time { return time.Now().UTC() },
	}
}

// HandleChange enqueues generation and delivery when a record reaches the
// corresponding state. Deletes and other tables are ignored.
func (d *Dispatcher) HandleChange(ctx context.Context, n ChangeNotification) error {
	if n.Table != RecordsTable || n.Record == nil || (n.Type != ChangeUpdate && n.Type != ChangeInsert) {
		return nil
	}
	rec := n.Record
	if rec.SessionID == "" {
		// External notifications may omit columns; the store is authoritative.
		fresh, err := d.Records.GetRecord(ctx, d.DB, rec.ID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		rec = fresh
	}

	var errs []error
	if Step(rec.Step) >= StepGenerating && rec.HasExperience() && !rec.HasResume() {
		errs = append(errs, d.enqueue(ctx, rec, domain.HandoffGeneration, nil))
	}
	if rec.Approved && (n.OldRecord == nil || !n.OldRecord.Approved) {
		errs = append(errs, d.enqueue(ctx, rec, domain.HandoffDelivery, nil))
	}
	return errors.Join(errs...)
}

type conversionPayload struct {
	FileID string `json:"file_id"`
}

type transcriptionPayload struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

// QueueConversion persists a conversion intent through db without starting
// it, so callers can commit it together with the answer that caused it. The
// returned id is empty when the session already has a conversion intent.
func (d *Dispatcher) QueueConversion(ctx context.Context, db *gorm.DB, rec *domain.IntakeRecord, fileID string) (string, error) {
	return d.persist(ctx, db, rec, domain.HandoffConversion, conversionPayload{FileID: fileID})
}

// Start runs an immediate attempt of a committed intent.
func (d *Dispatcher) Start(ctx context.Context, id string) {
	if id != "" {
		d.kick(ctx, id)
	}
}

// HandleConversionFinished schedules transcription of a converted voice answer.
// Events other than job.finished are ignored.
func (d *Dispatcher) HandleConversionFinished(ctx context.Context, res ConversionResult) error {
	if res.Event != ConversionFinished {
		return nil
	}
	if res.FileURL == "" || res.Filename == "" {
		return fmt.Errorf("%w: missing exported file", ErrBadPayload)
	}
	id, err := strconv.ParseInt(strings.TrimSuffix(res.Filename, ".mp3"), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: filename %q", ErrBadPayload, res.Filename)
	}
	rec, err := d.Records.GetRecord(ctx, d.DB, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRecordNotFound
		}
		return err
	}
	if rec.TranscriptionStatus != domain.TranscriptionPending {
		logger(ctx).Info().Int64("chat_id", id).Str("status", rec.TranscriptionStatus).Msg("conversion callback ignored")
		return nil
	}
	return d.enqueue(ctx, rec, domain.HandoffTranscription, transcriptionPayload{URL: res.FileURL, Filename: res.Filename})
}

// enqueue persists the intent and starts an immediate attempt. An intent of
// the same kind for the same session is a no-op.
func (d *Dispatcher) enqueue(ctx context.Context, rec *domain.IntakeRecord, kind domain.HandoffKind, payload any) error {
	id, err := d.persist(ctx, d.DB, rec, kind, payload)
	if err != nil {
		return err
	}
	d.Start(ctx, id)
	return nil
}

// persist writes the intent row and returns its id, or an empty id when the
// session already has an intent of that kind.
func (d *Dispatcher) persist(ctx context.Context, db *gorm.DB, rec *domain.IntakeRecord, kind domain.HandoffKind, payload any) (string, error) {
	var raw []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("encode %s payload: %w", kind, err)
		}
		raw = b
	}
	h, err := d.Handoffs.EnqueueHandoff(ctx, db, rec.ID, rec.SessionID, kind, raw)
	if errors.Is(err, repo.ErrDuplicate) {
		logger(ctx).Debug().Int64("chat_id", rec.ID).Str("kind", string(kind)).Msg("handoff already queued")
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", kind, err)
	}
	logger(ctx).Info().Int64("chat_id", rec.ID).Str("kind", string(kind)).Str("handoff_id", h.ID).Msg("handoff queued")
	return h.ID, nil
}

// kick runs one attempt in the background, detached from the caller.
func (d *Dispatcher) kick(parent context.Context, id string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(observability.Detach(parent), d.timeout())
		defer cancel()
		if err := d.Execute(ctx, id); err != nil {
			logger(ctx).Error().Err(err).Str("handoff_id", id).Msg("handoff attempt")
		}
	}()
}

// Wait blocks until all background attempts started by this dispatcher end.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// Execute claims and runs one intent. It returns an error only for
// bookkeeping failures; runner failures are recorded on the intent.
func (d *Dispatcher) Execute(ctx context.Context, id string) error {
	tr := otel.Tracer("services/Dispatcher")
	ctx, span := tr.Start(ctx, "Execute", trace.WithAttributes(attribute.String("handoff.id", id)))
	defer span.End()

	now := d.now()
	won, err := d.Handoffs.ClaimHandoff(ctx, d.DB, id, now, d.lease())
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("claim %s: %w", id, err)
	}
	if !won {
		return nil
	}
	h, err := d.Handoffs.GetHandoff(ctx, d.DB, id)
	if err != nil {
		return fmt.Errorf("load %s: %w", id, err)
	}
	span.SetAttributes(
		attribute.String("handoff.kind", string(h.Kind)),
		attribute.Int64("chat.id", h.RecordID),
		attribute.Int("handoff.attempt", h.Attempts),
	)
	lg := logger(ctx).With().Str("handoff_id", h.ID).Str("kind", string(h.Kind)).Int64("chat_id", h.RecordID).Int("attempt", h.Attempts).Logger()

	if d.Disabled {
		lg.Info().Msg("external calls disabled; handoff skipped")
		handoffsTotal.WithLabelValues(string(h.Kind), "skipped").Inc()
		return d.Handoffs.CompleteHandoff(ctx, d.DB, h.ID, domain.HandoffSkipped)
	}

	runErr := d.run(ctx, h)
	switch {
	case runErr == nil:
		handoffsTotal.WithLabelValues(string(h.Kind), "done").Inc()
		lg.Info().Msg("handoff done")
		return d.Handoffs.CompleteHandoff(ctx, d.DB, h.ID, domain.HandoffDone)

	case errors.Is(runErr, ErrSessionChanged):
		handoffsTotal.WithLabelValues(string(h.Kind), "superseded").Inc()
		lg.Info().Msg("record restarted; handoff superseded")
		return d.Handoffs.CompleteHandoff(ctx, d.DB, h.ID, domain.HandoffSkipped)
	}

	span.RecordError(runErr)
	span.SetStatus(codes.Error, runErr.Error())
	if h.Attempts >= d.maxAttempts() {
		handoffsTotal.WithLabelValues(string(h.Kind), "failed").Inc()
		lg.Error().Err(runErr).Msg("handoff failed permanently")
		if err := d.Handoffs.FailHandoff(ctx, d.DB, h.ID, runErr.Error()); err != nil {
			return err
		}
		d.exhausted(ctx, h)
		return nil
	}
	handoffsTotal.WithLabelValues(string(h.Kind), "retry").Inc()
	next := now.Add(d.backoff(h.Attempts))
	lg.Warn().Err(runErr).Time("next_attempt_at", next).Msg("handoff attempt failed; rescheduled")
	return d.Handoffs.RescheduleHandoff(ctx, d.DB, h.ID, next, runErr.Error())
}

func (d *Dispatcher) run(ctx context.Context, h *domain.Handoff) error {
	switch h.Kind {
	case domain.HandoffConversion:
		return d.runConversion(ctx, h)
	case domain.HandoffTranscription:
		return d.runTranscription(ctx, h)
	case domain.HandoffGeneration:
		return d.runGeneration(ctx, h)
	case domain.HandoffRendering:
		return d.runRendering(ctx, h)
	case domain.HandoffDelivery:
		return d.runDelivery(ctx, h)
	}
	return fmt.Errorf("unknown handoff kind %q", h.Kind)
}

// exhausted tells the user about a pipeline step that will not complete.
func (d *Dispatcher) exhausted(ctx context.Context, h *domain.Handoff) {
	if h.Kind == domain.HandoffTranscription || h.Kind == domain.HandoffConversion {
		if err := d.Records.FailTranscription(ctx, d.DB, h.RecordID); err != nil {
			logger(ctx).Error().Err(err).Int64("chat_id", h.RecordID).Msg("mark transcription failed")
		}
	}
	if !h.Kind.UserFacing() {
		return
	}
	rec, err := d.Records.GetRecord(ctx, d.DB, h.RecordID)
	if err != nil || rec.SessionID != h.SessionID {
		return
	}
	text, err := d.Text.Render(i18n.KeyError, rec.Language, "")
	if err != nil {
		logger(ctx).Error().Err(err).Msg("render error prompt")
		return
	}
	if err := d.Messenger.Send(ctx, OutgoingMessage{ChatID: rec.ID, Text: text}); err != nil {
		logger(ctx).Error().Err(err).Int64("chat_id", rec.ID).Msg("notify handoff failure")
	}
}

// loadSession reloads the record and checks it still belongs to the
// intent's session.
func (d *Dispatcher) loadSession(ctx context.Context, h *domain.Handoff) (*domain.IntakeRecord, error) {
	rec, err := d.Records.GetRecord(ctx, d.DB, h.RecordID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionChanged
	}
	if err != nil {
		return nil, err
	}
	if rec.SessionID != h.SessionID {
		return nil, ErrSessionChanged
	}
	return rec, nil
}

func (d *Dispatcher) backoff(attempts int) time.Duration {
	base := d.BackoffBase
	if base <= 0 {
		base = 10 * time.Second
	}
	if attempts < 1 {
		attempts = 1
	}
	delay := base << (attempts - 1)
	if delay <= 0 || delay > time.Hour {
		return time.Hour
	}
	return delay
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

func (d *Dispatcher) timeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return 2 * time.Minute
}

func (d *Dispatcher) lease() time.Duration {
	if d.Lease > 0 {
		return d.Lease
	}
	return 5 * time.Minute
}

func (d *Dispatcher) maxAttempts() int {
	if d.MaxAttempts > 0 {
		return d.MaxAttempts
	}
	return 5
}
