package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/obsidianstack/vigil/pkg/types"
	"github.com/obsidianstack/vigil/server/internal/config"
)

// Webhook posts a typed JSON payload to an arbitrary endpoint.
type Webhook struct {
	url      string
	branding config.BrandingConfig
	client   *http.Client
}

type webhookPayload struct {
	Type     string       `json:"type"`
	Status   types.Status `json:"status"`
	Time     string       `json:"time"`
	Replicas []string     `json:"replicas"`
	Page     webhookPage  `json:"page"`
}

type webhookPage struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

func (w *Webhook) Name() string                 { return "webhook" }
func (w *Webhook) CanNotify(*Notification) bool { return true }

func (w *Webhook) Attempt(ctx context.Context, n *Notification) error {
	replicas := n.Replicas
	if replicas == nil {
		replicas = []string{}
	}
	body, err := json.Marshal(webhookPayload{
		Type:     n.Kind(),
		Status:   n.Status,
		Time:     n.Time,
		Replicas: replicas,
		Page:     webhookPage{Title: w.branding.PageTitle, URL: w.branding.PageURL},
	})
	if err != nil {
		return err
	}
	return post(ctx, w.client, w.url, "application/json", body, nil)
}

// Slack posts to an incoming webhook with a colored attachment.
type Slack struct {
	cfg      config.SlackConfig
	branding config.BrandingConfig
	client   *http.Client
}

type slackPayload struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Fallback string       `json:"fallback"`
	Color    string       `json:"color"`
	Fields   []slackField `json:"fields"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func (s *Slack) Name() string                   { return "slack" }
func (s *Slack) CanNotify(n *Notification) bool { return n.Expected(s.cfg.RemindersOnly) }

func (s *Slack) Attempt(ctx context.Context, n *Notification) error {
	message := headline(n, n.Status.String())
	text := message
	if s.cfg.MentionChannel {
		text = "<!channel> " + message
	}

	attachment := slackAttachment{Fallback: message, Color: slackColor(n.Status)}
	if len(n.Replicas) > 0 {
		nodes := strings.Join(n.Replicas, ", ")
		suffix := fmt.Sprintf(" Nodes: *%s*.", nodes)
		text += suffix
		attachment.Fallback += suffix
		attachment.Fields = append(attachment.Fields, slackField{Title: "Nodes", Value: nodes})
	}
	attachment.Fields = append(attachment.Fields,
		slackField{Title: "Status", Value: n.Status.String(), Short: true},
		slackField{Title: "Time", Value: n.Time, Short: true},
		slackField{Title: "Monitor Page", Value: s.branding.PageURL},
	)

	body, err := json.Marshal(slackPayload{Text: text, Attachments: []slackAttachment{attachment}})
	if err != nil {
		return err
	}
	return post(ctx, s.client, s.cfg.URL(), "application/json", body, nil)
}

func slackColor(s types.Status) string {
	switch s {
	case types.StatusDead:
		return "danger"
	case types.StatusSick:
		return "warning"
	default:
		return "good"
	}
}

// Teams posts a MessageCard to a Microsoft Teams connector.
type Teams struct {
	cfg      config.TeamsConfig
	branding config.BrandingConfig
	client   *http.Client
}

func (t *Teams) Name() string                   { return "teams" }
func (t *Teams) CanNotify(n *Notification) bool { return n.Expected(t.cfg.RemindersOnly) }

func (t *Teams) Attempt(ctx context.Context, n *Notification) error {
	facts := []map[string]string{
		{"name": "Status", "value": n.Status.String()},
		{"name": "Time", "value": n.Time},
	}
	if len(n.Replicas) > 0 {
		facts = append(facts, map[string]string{"name": "Nodes", "value": strings.Join(n.Replicas, ", ")})
	}

	summary := headline(n, n.Status.String())
	payload := map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": statusColor(n.Status),
		"summary":    summary,
		"title":      fmt.Sprintf("%s: %s", t.branding.PageTitle, summary),
		"sections":   []map[string]interface{}{{"facts": facts}},
	}
	if t.branding.PageURL != "" {
		payload["potentialAction"] = []map[string]interface{}{{
			"@type":   "OpenUri",
			"name":    "Open status page",
			"targets": []map[string]string{{"os": "default", "uri": t.branding.PageURL}},
		}}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return post(ctx, t.client, t.cfg.URL(), "application/json", body, nil)
}
