package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/multierr"

	"github.com/obsidianstack/vigil/pkg/types"
	"github.com/obsidianstack/vigil/server/internal/config"
)

// smsMaxLength keeps a text message within a few SMS segments.
const (
	smsMaxLength    = 1000
	smsTruncatedTag = "[..]"
)

// Pushover sends one HTML push message per user key. Reminders go out with
// high priority.
type Pushover struct {
	cfg      config.PushoverConfig
	branding config.BrandingConfig
	client   *http.Client
}

func (p *Pushover) Name() string                   { return "pushover" }
func (p *Pushover) CanNotify(n *Notification) bool { return n.Expected(p.cfg.RemindersOnly) }

func (p *Pushover) Attempt(ctx context.Context, n *Notification) error {
	var b strings.Builder
	switch {
	case n.Startup:
		b.WriteString("<b><i>This is a startup alert.</i></b>\n\n")
	case !n.Changed:
		b.WriteString("<b><i>This is a reminder.</i></b>\n\n")
	}
	fmt.Fprintf(&b, "<u>Status:</u> <b><font color=\"#%s\">%s</font></b>\n",
		statusColor(n.Status), strings.ToUpper(n.Status.String()))
	fmt.Fprintf(&b, "<u>Nodes:</u> %s\n", strings.Join(n.Replicas, ", "))
	fmt.Fprintf(&b, "<u>Time:</u> %s", n.Time)

	target := p.cfg.APIURL
	if target == "" {
		target = config.DefaultPushoverAPIURL
	}

	var errs error
	for _, user := range p.cfg.UserKeys {
		form := url.Values{}
		form.Set("token", p.cfg.Token())
		form.Set("user", user)
		form.Set("title", p.branding.PageTitle)
		form.Set("message", b.String())
		form.Set("html", "1")
		form.Set("url_title", "Details on "+p.branding.PageTitle)
		form.Set("url", p.branding.PageURL)
		if !n.Changed {
			form.Set("priority", "1")
		}
		if err := post(ctx, p.client, target, "application/x-www-form-urlencoded", []byte(form.Encode()), nil); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("user %s: %w", user, err))
		}
	}
	return errs
}

// Twilio sends one SMS per destination number.
type Twilio struct {
	cfg      config.TwilioConfig
	branding config.BrandingConfig
	client   *http.Client
}

func (t *Twilio) Name() string                   { return "twilio" }
func (t *Twilio) CanNotify(n *Notification) bool { return n.Expected(t.cfg.RemindersOnly) }

func (t *Twilio) Attempt(ctx context.Context, n *Notification) error {
	message := smsText(n, t.branding.PageTitle)

	apiURL := t.cfg.APIURL
	if apiURL == "" {
		apiURL = config.DefaultTwilioAPIURL
	}
	target := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json",
		strings.TrimRight(apiURL, "/"), url.PathEscape(t.cfg.AccountSID))
	header := basicAuth(t.cfg.AccountSID, t.cfg.Token())

	var errs error
	for _, to := range t.cfg.To {
		form := url.Values{}
		form.Set("MessagingServiceSid", t.cfg.ServiceSID)
		form.Set("To", to)
		form.Set("Body", message)
		if err := post(ctx, t.client, target, "application/x-www-form-urlencoded", []byte(form.Encode()), header); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("number %s: %w", to, err))
		}
	}
	return errs
}

func smsText(n *Notification, title string) string {
	var b strings.Builder
	switch {
	case n.Startup:
		b.WriteString("Startup alert for: ")
	case !n.Changed:
		b.WriteString("Reminder for: ")
	}
	fmt.Fprintf(&b, "%s\n\n", title)
	fmt.Fprintf(&b, "Status: %s\n", statusTitle(n.Status))
	fmt.Fprintf(&b, "Nodes: %s\n", strings.Join(n.Replicas, ", "))
	fmt.Fprintf(&b, "Time: %s\n", n.Time)

	msg := b.String()
	if len(msg) > smsMaxLength {
		msg = msg[:smsMaxLength-len(smsTruncatedTag)] + smsTruncatedTag
	}
	return msg
}

// statusTitle renders a status as Healthy, Sick or Dead.
func statusTitle(s types.Status) string {
	word := s.String()
	if word == "" {
		return word
	}
	return strings.ToUpper(word[:1]) + word[1:]
}
