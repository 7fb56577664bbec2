package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/obsidianstack/vigil/server/internal/config"
)

// Telegram sends a markdown message through the bot API.
type Telegram struct {
	cfg      config.TelegramConfig
	branding config.BrandingConfig
	client   *http.Client
}

type telegramPayload struct {
	// ChatID is a numeric user id or an @channel name.
	ChatID                interface{} `json:"chat_id"`
	Text                  string      `json:"text"`
	ParseMode             string      `json:"parse_mode"`
	DisableWebPagePreview bool        `json:"disable_web_page_preview"`
}

func (t *Telegram) Name() string                   { return "telegram" }
func (t *Telegram) CanNotify(n *Notification) bool { return n.Expected(t.cfg.RemindersOnly) }

func (t *Telegram) Attempt(ctx context.Context, n *Notification) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", statusIcon(n.Status), headline(n, strings.ToUpper(n.Status.String())))
	for _, nc := range countByNode(n.Replicas) {
		fmt.Fprintf(&b, "- `%s`: %d %s\n", nc.node, nc.count, n.Status)
	}
	fmt.Fprintf(&b, "Link: %s", t.branding.PageURL)

	var chatID interface{} = t.cfg.ChatID
	if id, err := strconv.ParseInt(t.cfg.ChatID, 10, 64); err == nil {
		chatID = id
	}

	body, err := json.Marshal(telegramPayload{
		ChatID:                chatID,
		Text:                  b.String(),
		ParseMode:             "markdown",
		DisableWebPagePreview: true,
	})
	if err != nil {
		return err
	}

	apiURL := t.cfg.APIURL
	if apiURL == "" {
		apiURL = config.DefaultTelegramAPIURL
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(apiURL, "/"), t.cfg.Token())
	return post(ctx, t.client, url, "application/json", body, nil)
}
