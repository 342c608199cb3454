package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tbourn/resume-intake-bot/internal/services"
)

// CloudConvert submits audio conversion jobs over the JSON job API.
// Completion is reported asynchronously to the conversions webhook.
type CloudConvert struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

var _ services.AudioConverter = (*CloudConvert)(nil)

// NewCloudConvert builds a client for baseURL (e.g. https://api.cloudconvert.com/v2).
func NewCloudConvert(apiKey, baseURL string, httpClient *http.Client) *CloudConvert {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &CloudConvert{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

type ccTask map[string]any

type ccJobRequest struct {
	Tasks map[string]ccTask `json:"tasks"`
	Tag   string            `json:"tag,omitempty"`
}

type ccJobResponse struct {
	Data struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"data"`
}

// SubmitConversion creates an import → convert (oga to mp3) → export job and
// returns the job id.
func (c *CloudConvert) SubmitConversion(ctx context.Context, job services.ConversionJob) (string, error) {
	body, err := json.Marshal(ccJobRequest{
		Tag: job.Tag,
		Tasks: map[string]ccTask{
			"import-1": {
				"operation": "import/url",
				"url":       job.SourceURL,
				"filename":  job.SourceFilename,
			},
			"task-1": {
				"operation":     "convert",
				"input_format":  "oga",
				"output_format": "mp3",
				"engine":        "ffmpeg",
				"input":         []string{"import-1"},
				"audio_codec":   "mp3",
				"audio_qscale":  0,
				"filename":      job.OutputFilename,
			},
			"export-1": {
				"operation":              "export/url",
				"input":                  []string{"task-1"},
				"inline":                 false,
				"archive_multiple_files": false,
			},
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/jobs", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("cloudconvert: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", statusError("cloudconvert", resp)
	}

	var out ccJobResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("cloudconvert: decode job: %w", err)
	}
	if out.Data.ID == "" {
		return "", errors.New("cloudconvert: job id missing")
	}
	return out.Data.ID, nil
}

type ccWebhook struct {
	Event string `json:"event"`
	Job   struct {
		ID    string `json:"id"`
		Tag   string `json:"tag"`
		Tasks []struct {
			Name      string `json:"name"`
			Operation string `json:"operation"`
			Status    string `json:"status"`
			Result    *struct {
				Files []struct {
					Filename string `json:"filename"`
					URL      string `json:"url"`
				} `json:"files"`
			} `json:"result"`
		} `json:"tasks"`
	} `json:"job"`
}

// ParseConversionWebhook decodes a job callback. The export task's first
// file becomes FileURL/Filename; both stay empty when the job has none.
func ParseConversionWebhook(body []byte) (services.ConversionResult, error) {
	var wh ccWebhook
	if err := json.Unmarshal(body, &wh); err != nil {
		return services.ConversionResult{}, fmt.Errorf("%w: %v", services.ErrBadPayload, err)
	}
	res := services.ConversionResult{Event: wh.Event, JobID: wh.Job.ID}
	for _, t := range wh.Job.Tasks {
		if t.Operation != "export/url" || t.Result == nil || len(t.Result.Files) == 0 {
			continue
		}
		res.FileURL = t.Result.Files[0].URL
		res.Filename = t.Result.Files[0].Filename
		break
	}
	return res, nil
}

// statusError reads a bounded body snippet for the error message.
func statusError(service string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%s: unexpected status %d: %s", service, resp.StatusCode, strings.TrimSpace(string(snippet)))
}
