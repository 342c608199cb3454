package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tbourn/resume-intake-bot/internal/services"
)

const maxPDFBytes = 20 << 20

// Browserless renders HTML into A4 PDFs with a hosted headless browser.
type Browserless struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

var _ services.PDFRenderer = (*Browserless)(nil)

// NewBrowserless builds a renderer for baseURL (e.g. https://chrome.browserless.io).
func NewBrowserless(token, baseURL string, httpClient *http.Client) *Browserless {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Browserless{token: token, baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

type pdfOptions struct {
	DisplayHeaderFooter bool   `json:"displayHeaderFooter"`
	PrintBackground     bool   `json:"printBackground"`
	Format              string `json:"format"`
}

type pdfRequest struct {
	HTML    string     `json:"html"`
	Options pdfOptions `json:"options"`
}

// RenderPDF posts html to the /pdf endpoint and returns the document bytes.
func (b *Browserless) RenderPDF(ctx context.Context, html string) ([]byte, error) {
	body, err := json.Marshal(pdfRequest{
		HTML:    html,
		Options: pdfOptions{DisplayHeaderFooter: true, PrintBackground: false, Format: "A4"},
	})
	if err != nil {
		return nil, err
	}

	endpoint := b.baseURL + "/pdf?token=" + url.QueryEscape(b.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		// The token travels in the query string; keep it out of logs.
		return nil, fmt.Errorf("browserless: %w", redactURLError(err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("browserless", resp)
	}
	pdf, err := io.ReadAll(io.LimitReader(resp.Body, maxPDFBytes))
	if err != nil {
		return nil, fmt.Errorf("browserless: read pdf: %w", err)
	}
	if len(pdf) == 0 {
		return nil, errors.New("browserless: empty document")
	}
	return pdf, nil
}

func redactURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s <redacted>: %w", ue.Op, ue.Err)
	}
	return err
}
