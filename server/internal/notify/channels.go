package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/obsidianstack/vigil/pkg/types"
	"github.com/obsidianstack/vigil/server/internal/config"
)

// FromConfig builds the configured channels. Channels without a target URL
// or token are skipped.
func FromConfig(cfg config.NotifyConfig, branding config.BrandingConfig) []Notifier {
	client := &http.Client{Timeout: dispatchTimeout}

	var out []Notifier
	if c := cfg.Webhook; c != nil && c.URL() != "" {
		out = append(out, &Webhook{url: c.URL(), branding: branding, client: client})
	}
	if c := cfg.Slack; c != nil && c.URL() != "" {
		out = append(out, &Slack{cfg: *c, branding: branding, client: client})
	}
	if c := cfg.Teams; c != nil && c.URL() != "" {
		out = append(out, &Teams{cfg: *c, branding: branding, client: client})
	}
	if c := cfg.Telegram; c != nil && c.Token() != "" && c.ChatID != "" {
		out = append(out, &Telegram{cfg: *c, branding: branding, client: client})
	}
	if c := cfg.Gotify; c != nil && c.AppURL != "" && c.Token() != "" {
		out = append(out, &Gotify{cfg: *c, branding: branding, client: client})
	}
	if c := cfg.Pushover; c != nil && c.Token() != "" && len(c.UserKeys) > 0 {
		out = append(out, &Pushover{cfg: *c, branding: branding, client: client})
	}
	if c := cfg.Twilio; c != nil && c.AccountSID != "" && c.Token() != "" && len(c.To) > 0 {
		out = append(out, &Twilio{cfg: *c, branding: branding, client: client})
	}
	if c := cfg.Zulip; c != nil && c.APIURL != "" && c.BotEmail != "" && c.Key() != "" {
		out = append(out, &Zulip{cfg: *c, branding: branding, client: client})
	}
	if c := cfg.Matrix; c != nil && c.HomeserverURL != "" && c.Token() != "" && c.RoomID != "" {
		out = append(out, &Matrix{cfg: *c, branding: branding, client: client})
	}
	if c := cfg.Webex; c != nil && c.Token() != "" && c.RoomID != "" {
		out = append(out, &Webex{cfg: *c, branding: branding, client: client})
	}
	return out
}

// post sends body to url and treats any status >= 400 as a failure.
func post(ctx context.Context, client *http.Client, url, contentType string, body []byte, header http.Header) error {
	return send(ctx, client, http.MethodPost, url, contentType, body, header)
}

func send(ctx context.Context, client *http.Client, method, url, contentType string, body []byte, header http.Header) error {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("http %s: %w", strings.ToLower(method), err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("endpoint returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func basicAuth(user, password string) http.Header {
	token := base64.StdEncoding.EncodeToString([]byte(user + ":" + password))
	return http.Header{"Authorization": []string{"Basic " + token}}
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": []string{"Bearer " + token}}
}

// headline is the one-line summary shared by the chat channels.
func headline(n *Notification, status string) string {
	switch {
	case n.Startup:
		return fmt.Sprintf("Status started up, as: *%s*.", status)
	case n.Changed:
		return fmt.Sprintf("Status changed to: *%s*.", status)
	default:
		return fmt.Sprintf("Status is still: *%s*.", status)
	}
}

func statusIcon(s types.Status) string {
	switch s {
	case types.StatusDead:
		return "❌"
	case types.StatusSick:
		return "⚠"
	default:
		return "✅"
	}
}

func statusColor(s types.Status) string {
	switch s {
	case types.StatusDead:
		return "FF4F6A"
	case types.StatusSick:
		return "FFAB40"
	default:
		return "2ECC71"
	}
}

// countByNode groups service:node:replica paths into sorted service:node
// counts.
func countByNode(replicas []string) []nodeCount {
	counts := make(map[string]int)
	for _, r := range replicas {
		parts := strings.SplitN(r, ":", 3)
		key := r
		if len(parts) >= 2 {
			key = parts[0] + ":" + parts[1]
		}
		counts[key]++
	}
	out := make([]nodeCount, 0, len(counts))
	for k, c := range counts {
		out = append(out, nodeCount{node: k, count: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].node < out[j].node })
	return out
}

type nodeCount struct {
	node  string
	count int
}
