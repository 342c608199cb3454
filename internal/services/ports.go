// Package services – ports
//
// This file declares the narrow contracts the services depend on. Concrete
// implementations live in internal/clients (chat transport, storage, model,
// rendering, mail) and internal/repo (persistence, via shims in the router
// and in main). Tests substitute hand-written fakes.
package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/resume-intake-bot/internal/domain"
)

// Button is one inline keyboard button.
type Button struct {
	Text string
	Data string
}

// OutgoingMessage is a chat message sent to a user.
type OutgoingMessage struct {
	ChatID     int64
	Text       string
	MarkdownV2 bool
	// Keyboard rows, top to bottom.
	Keyboard [][]Button
}

// Messenger is the outbound side of the chat transport.
type Messenger interface {
	Send(ctx context.Context, msg OutgoingMessage) error
	SendSticker(ctx context.Context, chatID int64, stickerID string) error
	SendDocument(ctx context.Context, chatID int64, filename string, data []byte) error
	AnswerCallback(ctx context.Context, callbackID string) error
	// FileURL resolves a transport file id into a downloadable URL.
	FileURL(ctx context.Context, fileID string) (string, error)
}

// ObjectStore stores binary blobs by bucket and key.
type ObjectStore interface {
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
	// SignedURL returns a short-lived retrieval URL. width > 0 asks the
	// storage front for a resized image.
	SignedURL(ctx context.Context, bucket, key string, ttl time.Duration, width int) (string, error)
}

// Downloader fetches a remote file.
type Downloader interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// ConversionJob asks the audio conversion service to transcode a voice note.
type ConversionJob struct {
	SourceURL      string
	SourceFilename string
	OutputFilename string
	Tag            string
}

// AudioConverter submits conversion jobs; completion arrives by callback.
type AudioConverter interface {
	SubmitConversion(ctx context.Context, job ConversionJob) (jobID string, err error)
}

// Transcriber turns spoken audio in any language into English text.
type Transcriber interface {
	TranslateAudio(ctx context.Context, filename string, audio []byte) (string, error)
}

// Completer produces a language model completion for a single prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// PDFRenderer converts HTML into a PDF document.
type PDFRenderer interface {
	RenderPDF(ctx context.Context, html string) ([]byte, error)
}

// ResumeEmail is the operator notification for an approved resume.
type ResumeEmail struct {
	Subject        string
	HTML           string
	AttachmentName string
	AttachmentURL  string
}

// Mailer delivers operator notifications.
type Mailer interface {
	SendResume(ctx context.Context, email ResumeEmail) error
}

// RecordRepo is the record store contract used by the state machine and runners.
type RecordRepo interface {
	GetRecord(ctx context.Context, db *gorm.DB, id int64) (*domain.IntakeRecord, error)
	ResetRecord(ctx context.Context, db *gorm.DB, id int64, language string) (*domain.IntakeRecord, error)
	DeleteRecord(ctx context.Context, db *gorm.DB, id int64) error
	AdvanceStep(ctx context.Context, db *gorm.DB, id int64, from int, fields map[string]any) error
	ApproveRecord(ctx context.Context, db *gorm.DB, id int64) (bool, error)
	CompleteTranscription(ctx context.Context, db *gorm.DB, id int64, text string) (bool, error)
	FailTranscription(ctx context.Context, db *gorm.DB, id int64) error
	SaveResume(ctx context.Context, db *gorm.DB, id int64, sessionID, markdown, html string) (bool, error)
	MarkDocumentSent(ctx context.Context, db *gorm.DB, id int64, sessionID string, at time.Time) (bool, error)
}

// HandoffRepo is the outbox contract used by the dispatcher.
type HandoffRepo interface {
	EnqueueHandoff(ctx context.Context, db *gorm.DB, recordID int64, sessionID string, kind domain.HandoffKind, payload []byte) (*domain.Handoff, error)
	GetHandoff(ctx context.Context, db *gorm.DB, id string) (*domain.Handoff, error)
	ClaimHandoff(ctx context.Context, db *gorm.DB, id string, now time.Time, lease time.Duration) (bool, error)
	CompleteHandoff(ctx context.Context, db *gorm.DB, id, status string) error
	RescheduleHandoff(ctx context.Context, db *gorm.DB, id string, next time.Time, lastErr string) error
	FailHandoff(ctx context.Context, db *gorm.DB, id, lastErr string) error
}

// ChangeHandler receives record change notifications.
type ChangeHandler interface {
	HandleChange(ctx context.Context, n ChangeNotification) error
}
