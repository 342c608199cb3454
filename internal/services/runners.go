// Package services – handoff runners
//
// One runner per handoff kind. Each reloads the record, checks it still
// belongs to the intent's session and that its work is not already done,
// then performs the external calls. Runners may be retried, so every write
// they make is guarded or idempotent (object keys are overwritten, resume
// and transcription writes are conditional).
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/tbourn/resume-intake-bot/internal/domain"
	"github.com/tbourn/resume-intake-bot/internal/i18n"
)

// ResumeKey is the object key of a rendered resume in the resumes bucket.
func ResumeKey(chatID int64) string { return fmt.Sprintf("%d.pdf", chatID) }

// ResumeFilename is the document name sent to the user and attached to mail.
func ResumeFilename(name string) string { return name + "-resume.pdf" }

// Operator mail content.
const (
	deliverySubjectPrefix = "Elderly looking for Jobs - "
	deliveryHTML          = "<strong>Elderly Looking for suitable Jobs!</strong>"
)

func (d *Dispatcher) runConversion(ctx context.Context, h *domain.Handoff) error {
	rec, err := d.loadSession(ctx, h)
	if err != nil {
		return err
	}
	if rec.TranscriptionStatus != domain.TranscriptionPending {
		return ErrSessionChanged
	}
	var p conversionPayload
	if err := json.Unmarshal(h.Payload, &p); err != nil || p.FileID == "" {
		return fmt.Errorf("%w: conversion payload", ErrBadPayload)
	}
	src, err := d.Messenger.FileURL(ctx, p.FileID)
	if err != nil {
		return fmt.Errorf("resolve voice file: %w", err)
	}
	jobID, err := d.Converter.SubmitConversion(ctx, ConversionJob{
		SourceURL:      src,
		SourceFilename: path.Base(src),
		OutputFilename: fmt.Sprintf("%d.mp3", rec.ID),
		Tag:            d.ConversionTag,
	})
	if err != nil {
		return fmt.Errorf("submit conversion: %w", err)
	}
	logger(ctx).Info().Int64("chat_id", rec.ID).Str("job_id", jobID).Msg("conversion submitted")
	return nil
}

func (d *Dispatcher) runTranscription(ctx context.Context, h *domain.Handoff) error {
	rec, err := d.loadSession(ctx, h)
	if err != nil {
		return err
	}
	if rec.TranscriptionStatus != domain.TranscriptionPending {
		return ErrSessionChanged
	}
	var p transcriptionPayload
	if err := json.Unmarshal(h.Payload, &p); err != nil || p.URL == "" || p.Filename == "" {
		return fmt.Errorf("%w: transcription payload", ErrBadPayload)
	}

	audio, err := d.Files.Fetch(ctx, p.URL)
	if err != nil {
		return fmt.Errorf("download audio: %w", err)
	}
	if err := d.Store.Put(ctx, d.Buckets.Experiences, p.Filename, audio, "audio/mpeg"); err != nil {
		return fmt.Errorf("archive audio: %w", err)
	}
	text, err := d.Transcriber.TranslateAudio(ctx, p.Filename, audio)
	if err != nil {
		return fmt.Errorf("translate audio: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("translate audio: %w", ErrEmptyCompletion)
	}

	written, err := d.Records.CompleteTranscription(ctx, d.DB, rec.ID, text)
	if err != nil {
		return fmt.Errorf("save transcription: %w", err)
	}
	if !written {
		return nil
	}
	updated, err := d.Records.GetRecord(ctx, d.DB, rec.ID)
	if err != nil {
		return fmt.Errorf("reload record: %w", err)
	}
	return d.HandleChange(ctx, ChangeNotification{Type: ChangeUpdate, Table: RecordsTable, Record: updated, OldRecord: rec})
}

func (d *Dispatcher) runGeneration(ctx context.Context, h *domain.Handoff) error {
	rec, err := d.loadSession(ctx, h)
	if err != nil {
		return err
	}
	if rec.HasResume() {
		// A resume saved by an earlier attempt still needs its rendering intent.
		return d.enqueue(ctx, rec, domain.HandoffRendering, nil)
	}
	if Step(rec.Step) < StepGenerating || !rec.HasExperience() {
		return ErrSessionChanged
	}

	facts := ResumeFacts{
		Name:       rec.DisplayName(),
		Age:        rec.Age,
		Phone:      deref(rec.PhoneNumber),
		Experience: deref(rec.Experience),
	}
	if rec.PhotoPath != nil && *rec.PhotoPath != "" {
		url, err := d.Store.SignedURL(ctx, d.Buckets.Images, *rec.PhotoPath, d.SignedURLTTL, d.PhotoWidth)
		if err != nil {
			return fmt.Errorf("sign photo url: %w", err)
		}
		facts.PhotoURL = url
	}

	markdown, err := d.Model.Complete(ctx, BuildResumePrompt(facts, d.now()))
	if err != nil {
		return fmt.Errorf("complete resume: %w", err)
	}
	markdown = strings.TrimSpace(markdown)
	if markdown == "" {
		return ErrEmptyCompletion
	}
	html, err := MarkdownToHTML(markdown)
	if err != nil {
		return fmt.Errorf("render markdown: %w", err)
	}

	if _, err := d.Records.SaveResume(ctx, d.DB, rec.ID, rec.SessionID, markdown, html); err != nil {
		return fmt.Errorf("save resume: %w", err)
	}
	return d.enqueue(ctx, rec, domain.HandoffRendering, nil)
}

func (d *Dispatcher) runRendering(ctx context.Context, h *domain.Handoff) error {
	rec, err := d.loadSession(ctx, h)
	if err != nil {
		return err
	}
	if rec.ResumeHTML == nil || *rec.ResumeHTML == "" {
		return fmt.Errorf("render resume: no html for record %d", rec.ID)
	}

	if rec.DocumentSentAt == nil {
		if err := d.sendResumePDF(ctx, rec); err != nil {
			return err
		}
	}

	text, err := d.Text.Render(i18n.StepKey(6), rec.Language, "")
	if err != nil {
		return err
	}
	apply, err := d.Text.Render(i18n.KeyApply, rec.Language, "")
	if err != nil {
		return err
	}
	restart, err := d.Text.Render(i18n.KeyRestart, rec.Language, "")
	if err != nil {
		return err
	}
	return d.Messenger.Send(ctx, OutgoingMessage{
		ChatID:     rec.ID,
		Text:       text,
		MarkdownV2: true,
		Keyboard: [][]Button{{
			{Text: apply, Data: CallbackApproval + ":" + rec.Language},
			{Text: restart, Data: CallbackRestart + ":" + rec.Language},
		}},
	})
}

// sendResumePDF renders, archives and sends the resume document, then marks
// it sent so a retried rendering intent only repeats the approval prompt.
func (d *Dispatcher) sendResumePDF(ctx context.Context, rec *domain.IntakeRecord) error {
	pdf, err := d.Renderer.RenderPDF(ctx, *rec.ResumeHTML)
	if err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	if err := d.Store.Put(ctx, d.Buckets.Resumes, ResumeKey(rec.ID), pdf, "application/pdf"); err != nil {
		return fmt.Errorf("archive pdf: %w", err)
	}
	if err := d.Messenger.SendDocument(ctx, rec.ID, ResumeFilename(rec.DisplayName()), pdf); err != nil {
		return fmt.Errorf("send pdf: %w", err)
	}
	if _, err := d.Records.MarkDocumentSent(ctx, d.DB, rec.ID, rec.SessionID, d.now()); err != nil {
		return fmt.Errorf("mark pdf sent: %w", err)
	}
	return nil
}

func (d *Dispatcher) runDelivery(ctx context.Context, h *domain.Handoff) error {
	rec, err := d.loadSession(ctx, h)
	if err != nil {
		return err
	}
	if !rec.Approved {
		return ErrSessionChanged
	}
	url, err := d.Store.SignedURL(ctx, d.Buckets.Resumes, ResumeKey(rec.ID), d.SignedURLTTL, 0)
	if err != nil {
		return fmt.Errorf("sign resume url: %w", err)
	}
	name := rec.DisplayName()
	return d.Mailer.SendResume(ctx, ResumeEmail{
		Subject:        deliverySubjectPrefix + name,
		HTML:           deliveryHTML,
		AttachmentName: ResumeFilename(name),
		AttachmentURL:  url,
	})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
