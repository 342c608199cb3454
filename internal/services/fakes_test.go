package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tbourn/resume-intake-bot/internal/domain"
	"github.com/tbourn/resume-intake-bot/internal/repo"
)

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	// Background handoff attempts share the database with the test.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// repoShim adapts the repo free functions to the service interfaces.
type repoShim struct{}

func (repoShim) GetRecord(ctx context.Context, db *gorm.DB, id int64) (*domain.IntakeRecord, error) {
	return repo.GetRecord(ctx, db, id)
}
func (repoShim) ResetRecord(ctx context.Context, db *gorm.DB, id int64, language string) (*domain.IntakeRecord, error) {
	return repo.ResetRecord(ctx, db, id, language)
}
func (repoShim) DeleteRecord(ctx context.Context, db *gorm.DB, id int64) error {
	return repo.DeleteRecord(ctx, db, id)
}
func (repoShim) AdvanceStep(ctx context.Context, db *gorm.DB, id int64, from int, fields map[string]any) error {
	return repo.AdvanceStep(ctx, db, id, from, fields)
}
func (repoShim) ApproveRecord(ctx context.Context, db *gorm.DB, id int64) (bool, error) {
	return repo.ApproveRecord(ctx, db, id)
}
func (repoShim) CompleteTranscription(ctx context.Context, db *gorm.DB, id int64, text string) (bool, error) {
	return repo.CompleteTranscription(ctx, db, id, text)
}
func (repoShim) FailTranscription(ctx context.Context, db *gorm.DB, id int64) error {
	return repo.FailTranscription(ctx, db, id)
}
func (repoShim) SaveResume(ctx context.Context, db *gorm.DB, id int64, sessionID, markdown, html string) (bool, error) {
	return repo.SaveResume(ctx, db, id, sessionID, markdown, html)
}
func (repoShim) MarkDocumentSent(ctx context.Context, db *gorm.DB, id int64, sessionID string, at time.Time) (bool, error) {
	return repo.MarkDocumentSent(ctx, db, id, sessionID, at)
}
func (repoShim) EnqueueHandoff(ctx context.Context, db *gorm.DB, recordID int64, sessionID string, kind domain.HandoffKind, payload []byte) (*domain.Handoff, error) {
	return repo.EnqueueHandoff(ctx, db, recordID, sessionID, kind, payload)
}
func (repoShim) GetHandoff(ctx context.Context, db *gorm.DB, id string) (*domain.Handoff, error) {
	return repo.GetHandoff(ctx, db, id)
}
func (repoShim) ClaimHandoff(ctx context.Context, db *gorm.DB, id string, now time.Time, lease time.Duration) (bool, error) {
	return repo.ClaimHandoff(ctx, db, id, now, lease)
}
func (repoShim) CompleteHandoff(ctx context.Context, db *gorm.DB, id, status string) error {
	return repo.CompleteHandoff(ctx, db, id, status)
}
func (repoShim) RescheduleHandoff(ctx context.Context, db *gorm.DB, id string, next time.Time, lastErr string) error {
	return repo.RescheduleHandoff(ctx, db, id, next, lastErr)
}
func (repoShim) FailHandoff(ctx context.Context, db *gorm.DB, id, lastErr string) error {
	return repo.FailHandoff(ctx, db, id, lastErr)
}
func (repoShim) CountRecords(ctx context.Context, db *gorm.DB) (int64, error) {
	return repo.CountRecords(ctx, db)
}
func (repoShim) ListRecordsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.IntakeRecord, error) {
	return repo.ListRecordsPage(ctx, db, offset, limit)
}
func (repoShim) CountHandoffs(ctx context.Context, db *gorm.DB, status string) (int64, error) {
	return repo.CountHandoffs(ctx, db, status)
}
func (repoShim) ListHandoffsPage(ctx context.Context, db *gorm.DB, status string, offset, limit int) ([]domain.Handoff, error) {
	return repo.ListHandoffsPage(ctx, db, status, offset, limit)
}
func (repoShim) RetryHandoff(ctx context.Context, db *gorm.DB, id string, now time.Time) error {
	return repo.RetryHandoff(ctx, db, id, now)
}

// fakeMessenger records outbound chat traffic.
type fakeMessenger struct {
	mu        sync.Mutex
	messages  []OutgoingMessage
	stickers  []string
	documents []string
	callbacks []string
	sendErr   error

	// sendFailures fails that many Send calls before succeeding.
	sendFailures int
}

func (m *fakeMessenger) Send(_ context.Context, msg OutgoingMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	if m.sendFailures > 0 {
		m.sendFailures--
		return errors.New("chat api unavailable")
	}
	m.messages = append(m.messages, msg)
	return nil
}
func (m *fakeMessenger) SendSticker(_ context.Context, _ int64, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stickers = append(m.stickers, id)
	return nil
}
func (m *fakeMessenger) SendDocument(_ context.Context, _ int64, name string, _ []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents = append(m.documents, name)
	return nil
}
func (m *fakeMessenger) AnswerCallback(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, id)
	return nil
}
func (m *fakeMessenger) FileURL(_ context.Context, fileID string) (string, error) {
	return "https://files.test/voice/" + fileID + ".oga", nil
}

func (m *fakeMessenger) sent() []OutgoingMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]OutgoingMessage(nil), m.messages...)
}

func (m *fakeMessenger) last(t *testing.T) OutgoingMessage {
	t.Helper()
	msgs := m.sent()
	if len(msgs) == 0 {
		t.Fatalf("no messages sent")
	}
	return msgs[len(msgs)-1]
}

// fakeStore keeps objects in memory.
type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func (s *fakeStore) Put(_ context.Context, bucket, key string, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	if s.objects == nil {
		s.objects = map[string][]byte{}
	}
	s.objects[bucket+"/"+key] = data
	return nil
}
func (s *fakeStore) SignedURL(_ context.Context, bucket, key string, _ time.Duration, width int) (string, error) {
	u := "https://store.test/" + bucket + "/" + key + "?sig=1"
	if width > 0 {
		u += fmt.Sprintf("&width=%d", width)
	}
	return u, nil
}
func (s *fakeStore) has(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[path]
	return ok
}

type fakeFiles struct{}

func (fakeFiles) Fetch(_ context.Context, url string) ([]byte, error) { return []byte("body:" + url), nil }

type fakeConverter struct {
	mu   sync.Mutex
	jobs []ConversionJob
	err  error
}

func (c *fakeConverter) SubmitConversion(_ context.Context, job ConversionJob) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	c.jobs = append(c.jobs, job)
	return "job-1", nil
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f fakeTranscriber) TranslateAudio(context.Context, string, []byte) (string, error) {
	return f.text, f.err
}

type fakeModel struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	reply   string
	err     error
}

func (m *fakeModel) Complete(_ context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.prompts = append(m.prompts, prompt)
	return m.reply, m.err
}
func (m *fakeModel) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type fakeRenderer struct{}

func (fakeRenderer) RenderPDF(context.Context, string) ([]byte, error) { return []byte("%PDF-1.4"), nil }

type fakeMailer struct {
	mu     sync.Mutex
	emails []ResumeEmail
}

func (m *fakeMailer) SendResume(_ context.Context, e ResumeEmail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emails = append(m.emails, e)
	return nil
}

// fakePipeline records what the state machine handed off.
type fakePipeline struct {
	mu          sync.Mutex
	changes     []ChangeNotification
	conversions []string
	started     []string
	queueErr    error
}

func (p *fakePipeline) HandleChange(_ context.Context, n ChangeNotification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, n)
	return nil
}
func (p *fakePipeline) QueueConversion(_ context.Context, _ *gorm.DB, _ *domain.IntakeRecord, fileID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.queueErr != nil {
		return "", p.queueErr
	}
	p.conversions = append(p.conversions, fileID)
	return "conversion-" + fileID, nil
}
func (p *fakePipeline) Start(_ context.Context, id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = append(p.started, id)
}

// failingHandoffs rejects the first `fail` enqueues of one kind.
type failingHandoffs struct {
	repoShim
	kind domain.HandoffKind
	mu   sync.Mutex
	fail int
}

func (r *failingHandoffs) EnqueueHandoff(ctx context.Context, db *gorm.DB, recordID int64, sessionID string, kind domain.HandoffKind, payload []byte) (*domain.Handoff, error) {
	r.mu.Lock()
	if kind == r.kind && r.fail > 0 {
		r.fail--
		r.mu.Unlock()
		return nil, errors.New("outbox unavailable")
	}
	r.mu.Unlock()
	return repo.EnqueueHandoff(ctx, db, recordID, sessionID, kind, payload)
}

// staleRepo simulates a concurrent delivery that already advanced the record.
type staleRepo struct{ repoShim }

func (staleRepo) AdvanceStep(context.Context, *gorm.DB, int64, int, map[string]any) error {
	return repo.ErrStaleStep
}

// brokenRepo fails every step write.
type brokenRepo struct{ repoShim }

func (brokenRepo) AdvanceStep(context.Context, *gorm.DB, int64, int, map[string]any) error {
	return errors.New("database is down")
}

// unreadableRepo fails record reads with a storage error.
type unreadableRepo struct{ repoShim }

func (unreadableRepo) GetRecord(context.Context, *gorm.DB, int64) (*domain.IntakeRecord, error) {
	return nil, errors.New("connection reset")
}
