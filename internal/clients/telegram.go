// Package clients implements the outbound collaborators of the intake bot:
// the chat transport, object storage, the language model, audio conversion,
// PDF rendering, mail delivery and update dedupe. Each type satisfies one of
// the narrow ports declared in internal/services.
package clients

import (
	"context"
	"fmt"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tbourn/resume-intake-bot/internal/services"
)

// Telegram is the chat transport backed by the Bot API.
type Telegram struct {
	bot *tgbotapi.BotAPI
}

var _ services.Messenger = (*Telegram)(nil)

// NewTelegram connects to the Bot API. endpoint is printf-style with the
// token and method, like tgbotapi.APIEndpoint. Construction calls getMe.
func NewTelegram(token, endpoint string, client *http.Client) (*Telegram, error) {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &Telegram{bot: bot}, nil
}

// Username returns the bot account name reported by getMe.
func (t *Telegram) Username() string { return t.bot.Self.UserName }

// Send delivers a text message with an optional inline keyboard.
func (t *Telegram) Send(ctx context.Context, msg services.OutgoingMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := tgbotapi.NewMessage(msg.ChatID, msg.Text)
	if msg.MarkdownV2 {
		m.ParseMode = tgbotapi.ModeMarkdownV2
	}
	if len(msg.Keyboard) > 0 {
		m.ReplyMarkup = inlineKeyboard(msg.Keyboard)
	}
	_, err := t.bot.Send(m)
	return err
}

// SendSticker sends a sticker by file id.
func (t *Telegram) SendSticker(ctx context.Context, chatID int64, stickerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.bot.Send(tgbotapi.NewSticker(chatID, tgbotapi.FileID(stickerID)))
	return err
}

// SendDocument uploads data as a named document.
func (t *Telegram) SendDocument(ctx context.Context, chatID int64, filename string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.bot.Send(tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: filename, Bytes: data}))
	return err
}

// AnswerCallback acknowledges a button press so the client stops its spinner.
func (t *Telegram) AnswerCallback(ctx context.Context, callbackID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.bot.Request(tgbotapi.NewCallback(callbackID, ""))
	return err
}

// FileURL resolves a file id into a direct download link.
func (t *Telegram) FileURL(ctx context.Context, fileID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return t.bot.GetFileDirectURL(fileID)
}

// RegisterWebhook points the bot at url.
func (t *Telegram) RegisterWebhook(url string) error {
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return fmt.Errorf("webhook url: %w", err)
	}
	if _, err := t.bot.Request(wh); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	return nil
}

func inlineKeyboard(rows [][]services.Button) tgbotapi.InlineKeyboardMarkup {
	out := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		out = append(out, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(out...)
}

// EventFromUpdate maps a Bot API update to a transport-neutral event. It
// reports false for updates the conversation does not react to.
func EventFromUpdate(u tgbotapi.Update) (services.Event, bool) {
	ev := services.Event{UpdateID: int64(u.UpdateID)}

	if cq := u.CallbackQuery; cq != nil {
		switch {
		case cq.Message != nil && cq.Message.Chat != nil:
			ev.ChatID = cq.Message.Chat.ID
		case cq.From != nil:
			ev.ChatID = cq.From.ID
		default:
			return ev, false
		}
		ev.Kind = services.EventCallback
		ev.CallbackID = cq.ID
		ev.CallbackData = cq.Data
		return ev, true
	}

	m := u.Message
	if m == nil || m.Chat == nil {
		return ev, false
	}
	ev.ChatID = m.Chat.ID
	switch {
	case m.IsCommand():
		ev.Kind = services.EventCommand
		ev.Text = m.Command()
	case m.Voice != nil:
		ev.Kind = services.EventVoice
		ev.FileID = m.Voice.FileID
	case len(m.Photo) > 0:
		// Sizes are ascending; keep the largest.
		ev.Kind = services.EventPhoto
		ev.FileID = m.Photo[len(m.Photo)-1].FileID
	case m.Text != "":
		ev.Kind = services.EventText
		ev.Text = m.Text
	default:
		return ev, false
	}
	return ev, true
}
