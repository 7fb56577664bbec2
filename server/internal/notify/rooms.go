package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/obsidianstack/vigil/server/internal/config"
)

// zulipTopic groups every vigil message under one topic of the stream.
const zulipTopic = "vigil status"

// Zulip posts a markdown message to a stream as a bot.
type Zulip struct {
	cfg      config.ZulipConfig
	branding config.BrandingConfig
	client   *http.Client
}

func (z *Zulip) Name() string                   { return "zulip" }
func (z *Zulip) CanNotify(n *Notification) bool { return n.Expected(z.cfg.RemindersOnly) }

func (z *Zulip) Attempt(ctx context.Context, n *Notification) error {
	var b strings.Builder
	b.WriteString(headline(n, n.Status.String()))
	if len(n.Replicas) > 0 {
		fmt.Fprintf(&b, "\n **Nodes**: *%s*.", strings.Join(n.Replicas, ", "))
	}
	fmt.Fprintf(&b, "\n **Status**: %s", statusTitle(n.Status))
	fmt.Fprintf(&b, "\n **Time**: %s", n.Time)
	fmt.Fprintf(&b, "\n **Page**: %s", z.branding.PageURL)

	form := url.Values{}
	form.Set("type", "stream")
	form.Set("to", z.cfg.Channel)
	form.Set("topic", zulipTopic)
	form.Set("content", b.String())

	target := strings.TrimRight(z.cfg.APIURL, "/") + "/messages"
	return post(ctx, z.client, target, "application/x-www-form-urlencoded", []byte(form.Encode()),
		basicAuth(z.cfg.BotEmail, z.cfg.Key()))
}

// Matrix sends an HTML message to a room. The notification ID is the
// transaction ID, so a retried attempt is not delivered twice.
type Matrix struct {
	cfg      config.MatrixConfig
	branding config.BrandingConfig
	client   *http.Client
}

type matrixMessage struct {
	MsgType       string `json:"msgtype"`
	Body          string `json:"body"`
	Format        string `json:"format"`
	FormattedBody string `json:"formatted_body"`
}

func (m *Matrix) Name() string                   { return "matrix" }
func (m *Matrix) CanNotify(n *Notification) bool { return n.Expected(m.cfg.RemindersOnly) }

func (m *Matrix) Attempt(ctx context.Context, n *Notification) error {
	var b strings.Builder
	fmt.Fprintf(&b, "<p>%s %s</p>", statusIcon(n.Status),
		strings.ReplaceAll(headline(n, strings.ToUpper(n.Status.String())), "*", ""))
	if counts := countByNode(n.Replicas); len(counts) > 0 {
		b.WriteString("<ul>")
		for _, nc := range counts {
			fmt.Fprintf(&b, "<li><code>%s</code>: %d %s</li>", nc.node, nc.count, n.Status)
		}
		b.WriteString("</ul>")
	}
	fmt.Fprintf(&b, "<p>Status page: %s</p>", m.branding.PageURL)
	fmt.Fprintf(&b, "<p>Time: %s</p>", n.Time)

	body, err := json.Marshal(matrixMessage{
		MsgType:       "m.text",
		Body:          "You received a vigil alert.",
		Format:        "org.matrix.custom.html",
		FormattedBody: b.String(),
	})
	if err != nil {
		return err
	}

	txn := n.ID
	if txn == "" {
		txn = uuid.NewString()
	}
	target := fmt.Sprintf("%s/_matrix/client/v3/rooms/%s/send/m.room.message/%s",
		strings.TrimRight(m.cfg.HomeserverURL, "/"), url.PathEscape(m.cfg.RoomID), url.PathEscape(txn))
	return send(ctx, m.client, http.MethodPut, target, "application/json", body, bearer(m.cfg.Token()))
}

// Webex posts a plain-text message to a room.
type Webex struct {
	cfg      config.WebexConfig
	branding config.BrandingConfig
	client   *http.Client
}

type webexPayload struct {
	RoomID string `json:"roomId"`
	Text   string `json:"text"`
}

func (w *Webex) Name() string                   { return "webex" }
func (w *Webex) CanNotify(n *Notification) bool { return n.Expected(w.cfg.RemindersOnly) }

func (w *Webex) Attempt(ctx context.Context, n *Notification) error {
	var b strings.Builder
	switch {
	case n.Startup:
		fmt.Fprintf(&b, "Status startup alert from: %s\n", w.branding.PageTitle)
	case n.Changed:
		fmt.Fprintf(&b, "Status change report from: %s\n", w.branding.PageTitle)
	default:
		fmt.Fprintf(&b, "Status unchanged reminder from: %s\n", w.branding.PageTitle)
	}
	fmt.Fprintf(&b, "Status: %s\n", statusTitle(n.Status))
	fmt.Fprintf(&b, "Nodes: %s\n", strings.Join(n.Replicas, ", "))
	fmt.Fprintf(&b, "Time: %s\n", n.Time)
	fmt.Fprintf(&b, "URL: %s", w.branding.PageURL)

	body, err := json.Marshal(webexPayload{RoomID: w.cfg.RoomID, Text: b.String()})
	if err != nil {
		return err
	}

	target := w.cfg.EndpointURL
	if target == "" {
		target = config.DefaultWebexEndpointURL
	}
	return post(ctx, w.client, target, "application/json", body, bearer(w.cfg.Token()))
}
