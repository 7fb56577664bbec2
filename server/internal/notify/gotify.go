package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/obsidianstack/vigil/server/internal/config"
)

// reminderPriority raises reminders above regular change messages.
const reminderPriority = "10"

// Gotify pushes a message to a Gotify application.
type Gotify struct {
	cfg      config.GotifyConfig
	branding config.BrandingConfig
	client   *http.Client
}

func (g *Gotify) Name() string                   { return "gotify" }
func (g *Gotify) CanNotify(n *Notification) bool { return n.Expected(g.cfg.RemindersOnly) }

func (g *Gotify) Attempt(ctx context.Context, n *Notification) error {
	var b strings.Builder
	switch {
	case n.Startup:
		b.WriteString("This is a startup alert.\n\n")
	case !n.Changed:
		b.WriteString("This is a reminder.\n\n")
	}
	fmt.Fprintf(&b, "Status: %s\n", strings.ToUpper(n.Status.String()))
	fmt.Fprintf(&b, "Nodes:\n%s\n", strings.Join(n.Replicas, "\n"))
	fmt.Fprintf(&b, "Time: %s", n.Time)

	form := url.Values{}
	form.Set("title", g.branding.PageTitle)
	form.Set("message", b.String())
	if !n.Changed {
		form.Set("priority", reminderPriority)
	}

	target := strings.TrimRight(g.cfg.AppURL, "/") + "/message"
	header := http.Header{"X-Gotify-Key": []string{g.cfg.Token()}}
	return post(ctx, g.client, target, "application/x-www-form-urlencoded", []byte(form.Encode()), header)
}
