package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

const telegramAPI = "https://api.telegram.org"

// TelegramSender posts alerts through the Bot API sendMessage method.
type TelegramSender struct {
	baseURL string
	token   string
	chatID  string
	client  *http.Client
}

func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{baseURL: telegramAPI, token: token, chatID: chatID, client: newHTTPClient()}
}

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

type telegramMessage struct {
	ChatID              string `json:"chat_id"`
	Text                string `json:"text"`
	ParseMode           string `json:"parse_mode"`
	DisableNotification bool   `json:"disable_notification"`
}

func telegramText(msg Message) string {
	var b strings.Builder
	b.WriteString("*" + markdownEscaper.Replace(msg.Title) + "*")
	for _, f := range msg.Fields {
		fmt.Fprintf(&b, "\n%s: `%s`", markdownEscaper.Replace(f.Name), strings.ReplaceAll(f.Value, "`", "'"))
	}
	return b.String()
}

// Send delivers msg. Only critical alerts make a sound.
func (t *TelegramSender) Send(ctx context.Context, msg Message) error {
	err := postJSON(ctx, t.client, t.baseURL+"/bot"+t.token+"/sendMessage", telegramMessage{
		ChatID:              t.chatID,
		Text:                telegramText(msg),
		ParseMode:           "Markdown",
		DisableNotification: msg.Severity < SeverityCritical,
	})
	if err != nil {
		// The URL carries the bot token; keep it out of logs.
		return fmt.Errorf("telegram: %s", strings.ReplaceAll(err.Error(), t.token, "***"))
	}
	return nil
}

func (t *TelegramSender) Name() string { return "telegram" }
