package clients

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/resend/resend-go/v2"

	"github.com/tbourn/resume-intake-bot/internal/services"
)

// ResendMailer delivers operator notifications through Resend.
type ResendMailer struct {
	client *resend.Client
	from   string
	to     []string
}

var _ services.Mailer = (*ResendMailer)(nil)

// NewResendMailer builds a mailer that always writes to the operator address.
func NewResendMailer(apiKey, from, to string) *ResendMailer {
	return &ResendMailer{client: resend.NewClient(apiKey), from: from, to: []string{to}}
}

// WithBaseURL points the mailer at another API root.
func (m *ResendMailer) WithBaseURL(raw string) (*ResendMailer, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	m.client.BaseURL = u
	return m, nil
}

// SendResume sends the notification with the resume attached by URL; the
// mail provider fetches the attachment itself.
func (m *ResendMailer) SendResume(ctx context.Context, e services.ResumeEmail) error {
	req := &resend.SendEmailRequest{
		From:    m.from,
		To:      m.to,
		Subject: e.Subject,
		Html:    e.HTML,
	}
	if e.AttachmentURL != "" {
		req.Attachments = []*resend.Attachment{{Filename: e.AttachmentName, Path: e.AttachmentURL}}
	}
	sent, err := m.client.Emails.SendWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("resend: %w", err)
	}
	if sent == nil || sent.Id == "" {
		return errors.New("resend: message id missing")
	}
	return nil
}
