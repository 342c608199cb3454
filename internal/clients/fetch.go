package clients

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/tbourn/resume-intake-bot/internal/services"
)

const maxDownloadBytes = 25 << 20

// ErrTooLarge is returned when a download exceeds the size cap.
var ErrTooLarge = errors.New("download too large")

// HTTPDownloader fetches transport files and converted audio.
type HTTPDownloader struct {
	client *http.Client
	limit  int64
}

var _ services.Downloader = (*HTTPDownloader)(nil)

// NewHTTPDownloader returns a downloader capped at 25 MiB per file.
func NewHTTPDownloader(client *http.Client) *HTTPDownloader {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPDownloader{client: client, limit: maxDownloadBytes}
}

// Fetch GETs url and returns the body.
func (d *HTTPDownloader) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", redactURLError(err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("download", resp)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, d.limit+1))
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	if int64(len(data)) > d.limit {
		return nil, ErrTooLarge
	}
	return data, nil
}
