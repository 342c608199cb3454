package clients

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/resume-intake-bot/internal/services"
)

// Disabled stands in for every outbound collaborator when external calls are
// switched off. Calls are logged and succeed without side effects.
type Disabled struct {
	Log zerolog.Logger
}

var (
	_ services.Messenger      = Disabled{}
	_ services.ObjectStore    = Disabled{}
	_ services.Downloader     = Disabled{}
	_ services.AudioConverter = Disabled{}
	_ services.Transcriber    = Disabled{}
	_ services.Completer      = Disabled{}
	_ services.PDFRenderer    = Disabled{}
	_ services.Mailer         = Disabled{}
)

func (d Disabled) skip(op string) *zerolog.Event {
	return d.Log.Info().Str("op", op).Bool("disabled", true)
}

func (d Disabled) Send(_ context.Context, msg services.OutgoingMessage) error {
	d.skip("send").Int64("chat_id", msg.ChatID).Str("text", msg.Text).Msg("outbound message")
	return nil
}

func (d Disabled) SendSticker(_ context.Context, chatID int64, stickerID string) error {
	d.skip("sticker").Int64("chat_id", chatID).Str("sticker", stickerID).Msg("outbound sticker")
	return nil
}

func (d Disabled) SendDocument(_ context.Context, chatID int64, filename string, data []byte) error {
	d.skip("document").Int64("chat_id", chatID).Str("filename", filename).Int("bytes", len(data)).Msg("outbound document")
	return nil
}

func (d Disabled) AnswerCallback(_ context.Context, callbackID string) error {
	d.skip("callback").Str("callback_id", callbackID).Msg("callback answered")
	return nil
}

func (d Disabled) FileURL(_ context.Context, fileID string) (string, error) {
	return "disabled://files/" + fileID, nil
}

func (d Disabled) Put(_ context.Context, bucket, key string, data []byte, _ string) error {
	d.skip("put").Str("bucket", bucket).Str("key", key).Int("bytes", len(data)).Msg("object discarded")
	return nil
}

func (d Disabled) SignedURL(_ context.Context, bucket, key string, _ time.Duration, _ int) (string, error) {
	return "disabled://" + bucket + "/" + key, nil
}

func (d Disabled) Fetch(_ context.Context, url string) ([]byte, error) {
	d.skip("fetch").Msg("download skipped")
	return nil, nil
}

func (d Disabled) SubmitConversion(_ context.Context, job services.ConversionJob) (string, error) {
	d.skip("convert").Str("output", job.OutputFilename).Msg("conversion skipped")
	return "disabled", nil
}

func (d Disabled) TranslateAudio(_ context.Context, filename string, _ []byte) (string, error) {
	d.skip("translate").Str("filename", filename).Msg("translation skipped")
	return "", nil
}

func (d Disabled) Complete(_ context.Context, _ string) (string, error) {
	d.skip("complete").Msg("completion skipped")
	return "", nil
}

func (d Disabled) RenderPDF(_ context.Context, _ string) ([]byte, error) {
	d.skip("render").Msg("rendering skipped")
	return nil, nil
}

func (d Disabled) SendResume(_ context.Context, e services.ResumeEmail) error {
	d.skip("mail").Str("subject", e.Subject).Msg("mail skipped")
	return nil
}
