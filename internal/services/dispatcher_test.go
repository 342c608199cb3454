package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tbourn/resume-intake-bot/internal/domain"
	"github.com/tbourn/resume-intake-bot/internal/i18n"
	"github.com/tbourn/resume-intake-bot/internal/repo"
)

type dispatchFixture struct {
	d      *Dispatcher
	msgr   *fakeMessenger
	store  *fakeStore
	conv   *fakeConverter
	model  *fakeModel
	mailer *fakeMailer
}

func newDispatch(t *testing.T) *dispatchFixture {
	t.Helper()
	db := newSvcDB(t)
	f := &dispatchFixture{
		msgr:   &fakeMessenger{},
		store:  &fakeStore{},
		conv:   &fakeConverter{},
		model:  &fakeModel{reply: "# Alice Tan\n\nForklift driver."},
		mailer: &fakeMailer{},
	}
	d := NewDispatcher(db, repoShim{}, repoShim{})
	d.Messenger = f.msgr
	d.Store = f.store
	d.Files = fakeFiles{}
	d.Converter = f.conv
	d.Transcriber = fakeTranscriber{text: "I drove forklifts for ten years."}
	d.Model = f.model
	d.Renderer = fakeRenderer{}
	d.Mailer = f.mailer
	d.BackoffBase = time.Millisecond
	f.d = d
	t.Cleanup(d.Wait)
	return f
}

// readyRecord stores a record that finished the conversation.
func (f *dispatchFixture) readyRecord(t *testing.T, experience *string, status string) *domain.IntakeRecord {
	t.Helper()
	ctx := context.Background()
	rec, err := repo.CreateRecord(ctx, f.d.DB, chat, "en")
	if err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	name, phone, age := "Alice Tan", "91234567", 66
	err = f.d.DB.Model(&domain.IntakeRecord{}).Where("id = ?", chat).Updates(map[string]any{
		"step": int(StepGenerating), "name": name, "phone_number": phone, "age": age,
		"experience": experience, "transcription_status": status,
	}).Error
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	rec, err = repo.GetRecord(ctx, f.d.DB, rec.ID)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	return rec
}

func (f *dispatchFixture) handoffs(t *testing.T) map[domain.HandoffKind]domain.Handoff {
	t.Helper()
	var hs []domain.Handoff
	if err := f.d.DB.Find(&hs).Error; err != nil {
		t.Fatalf("list handoffs: %v", err)
	}
	out := map[domain.HandoffKind]domain.Handoff{}
	for _, h := range hs {
		out[h.Kind] = h
	}
	return out
}

func strptr(s string) *string { return &s }

func TestHandleChange_GeneratesRendersAndPrompts(t *testing.T) {
	f := newDispatch(t)
	ctx := context.Background()
	rec := f.readyRecord(t, strptr("Forklift driver"), "")

	if err := f.d.HandleChange(ctx, ChangeNotification{Type: ChangeUpdate, Table: RecordsTable, Record: rec}); err != nil {
		t.Fatalf("HandleChange: %v", err)
	}
	f.d.Wait()

	got, _ := repo.GetRecord(ctx, f.d.DB, chat)
	if got.ResumeHTML == nil || !strings.Contains(*got.ResumeHTML, "<h1>Alice Tan</h1>") {
		t.Fatalf("resume html not saved: %v", got.ResumeHTML)
	}
	hs := f.handoffs(t)
	if hs[domain.HandoffGeneration].Status != domain.HandoffDone || hs[domain.HandoffRendering].Status != domain.HandoffDone {
		t.Fatalf("unexpected handoffs: %+v", hs)
	}
	if !f.store.has("resumes/4242.pdf") {
		t.Fatalf("pdf not archived")
	}
	if len(f.msgr.documents) != 1 || f.msgr.documents[0] != "Alice Tan-resume.pdf" {
		t.Fatalf("documents = %v", f.msgr.documents)
	}
	msg := f.msgr.last(t)
	expectText(t, msg, "step-6", "en", "")
	if !msg.MarkdownV2 || len(msg.Keyboard) != 1 || len(msg.Keyboard[0]) != 2 {
		t.Fatalf("approval prompt malformed: %+v", msg)
	}
	if msg.Keyboard[0][0].Data != "approval:en" || msg.Keyboard[0][1].Data != "restart:en" {
		t.Fatalf("buttons = %+v", msg.Keyboard[0])
	}
	if !strings.Contains(f.model.prompts[0], "Name: Alice Tan") {
		t.Fatalf("prompt missing name: %s", f.model.prompts[0])
	}
}

func TestHandleChange_DuplicateNotificationGeneratesOnce(t *testing.T) {
	f := newDispatch(t)
	ctx := context.Background()
	rec := f.readyRecord(t, strptr("Cook"), "")
	n := ChangeNotification{Type: ChangeUpdate, Table: RecordsTable, Record: rec}

	_ = f.d.HandleChange(ctx, n)
	_ = f.d.HandleChange(ctx, n)
	f.d.Wait()

	if c := f.model.count(); c != 1 {
		t.Fatalf("model called %d times; want 1", c)
	}
}

func TestHandleChange_WaitsForPendingTranscription(t *testing.T) {
	f := newDispatch(t)
	rec := f.readyRecord(t, nil, domain.TranscriptionPending)

	if err := f.d.HandleChange(context.Background(), ChangeNotification{Type: ChangeUpdate, Table: RecordsTable, Record: rec}); err != nil {
		t.Fatalf("HandleChange: %v", err)
	}
	f.d.Wait()
	if len(f.handoffs(t)) != 0 {
		t.Fatalf("nothing should be enqueued while transcription is pending")
	}
}

func TestHandleChange_IgnoresDeletesAndOtherTables(t *testing.T) {
	f := newDispatch(t)
	rec := f.readyRecord(t, strptr("Cook"), "")
	ctx := context.Background()
	_ = f.d.HandleChange(ctx, ChangeNotification{Type: ChangeDelete, Table: RecordsTable, OldRecord: rec})
	_ = f.d.HandleChange(ctx, ChangeNotification{Type: ChangeUpdate, Table: "jobs", Record: rec})
	f.d.Wait()
	if len(f.handoffs(t)) != 0 {
		t.Fatalf("no handoffs expected")
	}
}

func TestGeneration_SkippedWhenResumeExists(t *testing.T) {
	f := newDispatch(t)
	ctx := context.Background()
	rec := f.readyRecord(t, strptr("Cook"), "")
	h, err := repo.EnqueueHandoff(ctx, f.d.DB, rec.ID, rec.SessionID, domain.HandoffGeneration, nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := repo.SaveResume(ctx, f.d.DB, rec.ID, rec.SessionID, "# x", "<h1>x</h1>"); err != nil {
		t.Fatalf("SaveResume: %v", err)
	}
	if err := f.d.Execute(ctx, h.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	f.d.Wait()
	if f.model.count() != 0 {
		t.Fatalf("model must not be called when a resume exists")
	}
	if h := f.handoffs(t)[domain.HandoffRendering]; h.Status != domain.HandoffDone {
		t.Fatalf("existing resume should still be rendered: %+v", h)
	}
}

func TestGeneration_RetryQueuesRenderingAfterEnqueueFailure(t *testing.T) {
	f := newDispatch(t)
	ctx := context.Background()
	f.d.Handoffs = &failingHandoffs{repoShim: repoShim{}, kind: domain.HandoffRendering, fail: 1}
	rec := f.readyRecord(t, strptr("Cook"), "")

	h, err := repo.EnqueueHandoff(ctx, f.d.DB, rec.ID, rec.SessionID, domain.HandoffGeneration, nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := f.d.Execute(ctx, h.ID); err != nil {
		t.Fatalf("Execute #1: %v", err)
	}
	got, _ := repo.GetHandoff(ctx, f.d.DB, h.ID)
	if got.Status != domain.HandoffPending || got.Attempts != 1 {
		t.Fatalf("generation should be rescheduled: %+v", got)
	}
	if saved, _ := repo.GetRecord(ctx, f.d.DB, chat); !saved.HasResume() {
		t.Fatalf("resume should be saved by the first attempt")
	}

	later := time.Now().UTC().Add(time.Hour)
	f.d.Now = func() time.Time { return later }
	if err := f.d.Execute(ctx, h.ID); err != nil {
		t.Fatalf("Execute #2: %v", err)
	}
	f.d.Wait()

	hs := f.handoffs(t)
	if hs[domain.HandoffGeneration].Status != domain.HandoffDone {
		t.Fatalf("generation = %+v", hs[domain.HandoffGeneration])
	}
	if hs[domain.HandoffRendering].Status != domain.HandoffDone {
		t.Fatalf("rendering = %+v", hs[domain.HandoffRendering])
	}
	if f.model.count() != 1 {
		t.Fatalf("model calls = %d; want 1", f.model.count())
	}
	if len(f.msgr.documents) != 1 {
		t.Fatalf("documents = %v", f.msgr.documents)
	}
	expectText(t, f.msgr.last(t), "step-6", "en", "")
}

func TestRendering_RetrySendsDocumentOnce(t *testing.T) {
	f := newDispatch(t)
	ctx := context.Background()
	f.msgr.sendFailures = 2
	rec := f.readyRecord(t, strptr("Cook"), "")
	if _, err := repo.SaveResume(ctx, f.d.DB, rec.ID, rec.SessionID, "# x", "<h1>x</h1>"); err != nil {
		t.Fatalf("SaveResume: %v", err)
	}
	h, err := repo.EnqueueHandoff(ctx, f.d.DB, rec.ID, rec.SessionID, domain.HandoffRendering, nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	for i := 1; i <= 3; i++ {
		at := time.Now().UTC().Add(time.Duration(i) * time.Hour)
		f.d.Now = func() time.Time { return at }
		if err := f.d.Execute(ctx, h.ID); err != nil {
			t.Fatalf("Execute #%d: %v", i, err)
		}
	}

	got, _ := repo.GetHandoff(ctx, f.d.DB, h.ID)
	if got.Status != domain.HandoffDone || got.Attempts != 3 {
		t.Fatalf("rendering = %+v", got)
	}
	if len(f.msgr.documents) != 1 {
		t.Fatalf("documents = %v; want exactly one", f.msgr.documents)
	}
	if r, _ := repo.GetRecord(ctx, f.d.DB, chat); r.DocumentSentAt == nil {
		t.Fatalf("document not marked as sent")
	}
	msgs := f.msgr.sent()
	if len(msgs) != 1 {
		t.Fatalf("messages = %d; want one approval prompt", len(msgs))
	}
	expectText(t, msgs[0], "step-6", "en", "")
}

func TestExecute_DisabledSkipsWithoutCalls(t *testing.T) {
	f := newDispatch(t)
	f.d.Disabled = true
	rec := f.readyRecord(t, strptr("Cook"), "")

	_ = f.d.HandleChange(context.Background(), ChangeNotification{Type: ChangeUpdate, Table: RecordsTable, Record: rec})
	f.d.Wait()

	if f.model.count() != 0 {
		t.Fatalf("external calls must be disabled")
	}
	if h := f.handoffs(t)[domain.HandoffGeneration]; h.Status != domain.HandoffSkipped {
		t.Fatalf("status = %q; want skipped", h.Status)
	}
}

func TestExecute_RetriesThenFailsAndNotifiesUser(t *testing.T) {
	f := newDispatch(t)
	ctx := context.Background()
	f.model.err = errors.New("rate limited")
	f.d.MaxAttempts = 2
	rec := f.readyRecord(t, strptr("Cook"), "")

	h, err := repo.EnqueueHandoff(ctx, f.d.DB, rec.ID, rec.SessionID, domain.HandoffGeneration, nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := f.d.Execute(ctx, h.ID); err != nil {
		t.Fatalf("Execute #1: %v", err)
	}
	got, _ := repo.GetHandoff(ctx, f.d.DB, h.ID)
	if got.Status != domain.HandoffPending || got.Attempts != 1 || got.LastError == "" {
		t.Fatalf("after first failure: %+v", got)
	}
	if len(f.msgr.sent()) != 0 {
		t.Fatalf("user must not be told before retries are exhausted")
	}

	f.d.Now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	if err := f.d.Execute(ctx, h.ID); err != nil {
		t.Fatalf("Execute #2: %v", err)
	}
	got, _ = repo.GetHandoff(ctx, f.d.DB, h.ID)
	if got.Status != domain.HandoffFailed || got.Attempts != 2 {
		t.Fatalf("after exhaustion: %+v", got)
	}
	expectText(t, f.msgr.last(t), i18n.KeyError, "en", "")
}

func TestExecute_SupersededAfterRestart(t *testing.T) {
	f := newDispatch(t)
	ctx := context.Background()
	rec := f.readyRecord(t, strptr("Cook"), "")
	h, _ := repo.EnqueueHandoff(ctx, f.d.DB, rec.ID, rec.SessionID, domain.HandoffGeneration, nil)
	if _, err := repo.ResetRecord(ctx, f.d.DB, rec.ID, "en"); err != nil {
		t.Fatalf("ResetRecord: %v", err)
	}
	if err := f.d.Execute(ctx, h.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	got, _ := repo.GetHandoff(ctx, f.d.DB, h.ID)
	if got.Status != domain.HandoffSkipped || f.model.count() != 0 {
		t.Fatalf("stale intent should be skipped: %+v", got)
	}
}

func TestExecute_ClaimedIntentNotRunTwice(t *testing.T) {
	f := newDispatch(t)
	ctx := context.Background()
	rec := f.readyRecord(t, strptr("Cook"), "")
	h, _ := repo.EnqueueHandoff(ctx, f.d.DB, rec.ID, rec.SessionID, domain.HandoffGeneration, nil)
	if won, _ := repo.ClaimHandoff(ctx, f.d.DB, h.ID, time.Now().UTC(), time.Hour); !won {
		t.Fatalf("pre-claim failed")
	}
	if err := f.d.Execute(ctx, h.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if f.model.count() != 0 {
		t.Fatalf("leased intent must not run")
	}
}

func TestVoicePipeline_ConversionThenTranscriptionThenGeneration(t *testing.T) {
	f := newDispatch(t)
	ctx := context.Background()
	rec := f.readyRecord(t, nil, domain.TranscriptionPending)

	id, err := f.d.QueueConversion(ctx, f.d.DB, rec, "voice-1")
	if err != nil || id == "" {
		t.Fatalf("QueueConversion: id=%q err=%v", id, err)
	}
	f.d.Start(ctx, id)
	f.d.Wait()
	if len(f.conv.jobs) != 1 {
		t.Fatalf("jobs = %+v", f.conv.jobs)
	}
	job := f.conv.jobs[0]
	if job.OutputFilename != "4242.mp3" || job.Tag != "jobbuilder" || job.SourceFilename != "voice-1.oga" {
		t.Fatalf("unexpected job: %+v", job)
	}

	res := ConversionResult{Event: ConversionFinished, FileURL: "https://cc.test/4242.mp3", Filename: "4242.mp3"}
	if err := f.d.HandleConversionFinished(ctx, res); err != nil {
		t.Fatalf("HandleConversionFinished: %v", err)
	}
	f.d.Wait()

	got, _ := repo.GetRecord(ctx, f.d.DB, chat)
	if got.TranscriptionStatus != domain.TranscriptionDone || got.Experience == nil || *got.Experience != "I drove forklifts for ten years." {
		t.Fatalf("transcription not stored: %+v", got)
	}
	if !f.store.has("experiences/4242.mp3") {
		t.Fatalf("audio not archived")
	}
	if f.model.count() != 1 {
		t.Fatalf("generation should follow transcription")
	}
}

func TestTranscription_ExhaustedMarksFailed(t *testing.T) {
	f := newDispatch(t)
	ctx := context.Background()
	f.d.Transcriber = fakeTranscriber{err: errors.New("whisper down")}
	f.d.MaxAttempts = 1
	rec := f.readyRecord(t, nil, domain.TranscriptionPending)

	if err := f.d.HandleConversionFinished(ctx, ConversionResult{Event: ConversionFinished, FileURL: "u", Filename: "4242.mp3"}); err != nil {
		t.Fatalf("HandleConversionFinished: %v", err)
	}
	f.d.Wait()

	got, _ := repo.GetRecord(ctx, f.d.DB, rec.ID)
	if got.TranscriptionStatus != domain.TranscriptionFailed {
		t.Fatalf("status = %q; want failed", got.TranscriptionStatus)
	}
	expectText(t, f.msgr.last(t), i18n.KeyError, "en", "")
}

func TestHandleConversionFinished_Validation(t *testing.T) {
	f := newDispatch(t)
	ctx := context.Background()

	if err := f.d.HandleConversionFinished(ctx, ConversionResult{Event: "job.failed"}); err != nil {
		t.Fatalf("other events are ignored, got %v", err)
	}
	err := f.d.HandleConversionFinished(ctx, ConversionResult{Event: ConversionFinished, FileURL: "u", Filename: "abc.mp3"})
	if !errors.Is(err, ErrBadPayload) {
		t.Fatalf("expected ErrBadPayload, got %v", err)
	}
	err = f.d.HandleConversionFinished(ctx, ConversionResult{Event: ConversionFinished, FileURL: "u", Filename: "99.mp3"})
	if !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestDelivery_EmailsApprovedResume(t *testing.T) {
	f := newDispatch(t)
	ctx := context.Background()
	rec := f.readyRecord(t, strptr("Cook"), "")
	if _, err := repo.SaveResume(ctx, f.d.DB, rec.ID, rec.SessionID, "# x", "<h1>x</h1>"); err != nil {
		t.Fatalf("SaveResume: %v", err)
	}
	if _, err := repo.ApproveRecord(ctx, f.d.DB, rec.ID); err != nil {
		t.Fatalf("ApproveRecord: %v", err)
	}
	approved, _ := repo.GetRecord(ctx, f.d.DB, rec.ID)

	n := ChangeNotification{Type: ChangeUpdate, Table: RecordsTable, Record: approved, OldRecord: rec}
	if err := f.d.HandleChange(ctx, n); err != nil {
		t.Fatalf("HandleChange: %v", err)
	}
	f.d.Wait()

	if len(f.mailer.emails) != 1 {
		t.Fatalf("emails = %d; want 1", len(f.mailer.emails))
	}
	e := f.mailer.emails[0]
	if e.Subject != "Elderly looking for Jobs - Alice Tan" || e.AttachmentName != "Alice Tan-resume.pdf" {
		t.Fatalf("unexpected email: %+v", e)
	}
	if !strings.Contains(e.AttachmentURL, "resumes/4242.pdf") {
		t.Fatalf("attachment url = %q", e.AttachmentURL)
	}

	// Re-delivery of an already approved record does not mail again.
	_ = f.d.HandleChange(ctx, ChangeNotification{Type: ChangeUpdate, Table: RecordsTable, Record: approved, OldRecord: approved})
	f.d.Wait()
	if len(f.mailer.emails) != 1 {
		t.Fatalf("duplicate delivery")
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	d := &Dispatcher{BackoffBase: time.Second}
	if got := d.backoff(1); got != time.Second {
		t.Fatalf("backoff(1) = %v", got)
	}
	if got := d.backoff(3); got != 4*time.Second {
		t.Fatalf("backoff(3) = %v", got)
	}
	if got := d.backoff(40); got != time.Hour {
		t.Fatalf("backoff(40) = %v", got)
	}
}
