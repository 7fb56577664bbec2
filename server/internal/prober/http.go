package prober

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/obsidianstack/vigil/server/internal/store"
)

// maxBodyBytes bounds how much of a response is read for body matching.
const maxBodyBytes = 1 << 20

const cacheBusterParam = "_vigil"

func userAgent(pageURL string) string {
	return fmt.Sprintf("vigil (+%s)", pageURL)
}

// defaultHeaderRoundTripper sets headers that the request does not already
// carry, so per-node headers can override them.
type defaultHeaderRoundTripper struct {
	base    http.RoundTripper
	headers http.Header
}

func (t *defaultHeaderRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	missing := false
	for k := range t.headers {
		if req.Header.Get(k) == "" {
			missing = true
			break
		}
	}
	if missing {
		req = req.Clone(req.Context())
		for k, v := range t.headers {
			if req.Header.Get(k) == "" {
				req.Header[k] = v
			}
		}
	}
	return t.base.RoundTrip(req)
}

// newProbeClient returns a client that never follows redirects and gives up
// after timeout.
func newProbeClient(timeout time.Duration, ua string) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DisableKeepAlives = true

	return &http.Client{
		Transport: &defaultHeaderRoundTripper{
			base:    transport,
			headers: http.Header{"User-Agent": []string{ua}},
		},
		Timeout: timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// probeHTTP issues one request and reports whether the status code is in
// [healthy_above, healthy_below) and the body matches, when a match is set.
// expiring is set when an HTTPS certificate is close to its end of validity.
func (e *Engine) probeHTTP(ctx context.Context, u store.HTTPURL, opts store.HTTPOptions) (up, expiring bool) {
	target := u.Raw
	if opts.CacheBuster {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target = fmt.Sprintf("%s%s%s=%d", target, sep, cacheBusterParam, e.now().Unix())
	}

	method := opts.Method
	if method == "" {
		method = http.MethodHead
		if opts.BodyMatch != nil {
			method = http.MethodGet
		}
	}

	var body io.Reader
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		body = strings.NewReader(opts.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		slog.Debug("prober: http build request failed", "url", target, "err", err)
		return false, false
	}
	for k, v := range opts.Headers {
		req.Header[k] = v
	}

	resp, err := e.client.Do(req)
	if err != nil {
		slog.Debug("prober: http request failed", "url", target, "method", method, "err", err)
		return false, false
	}
	defer resp.Body.Close()

	if resp.StatusCode < e.cfg.PollHTTPStatusHealthyAbove || resp.StatusCode >= e.cfg.PollHTTPStatusHealthyBelow {
		slog.Debug("prober: http status out of healthy range", "url", target, "code", resp.StatusCode)
		return false, false
	}

	if opts.BodyMatch != nil {
		text, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			slog.Debug("prober: http read body failed", "url", target, "err", err)
			return false, false
		}
		if !opts.BodyMatch.Match(text) {
			slog.Debug("prober: http body did not match", "url", target)
			return false, false
		}
	}

	if left, soon := certExpiring(resp.TLS, e.cfg.PollTLSExpirySickWithin, e.now()); soon {
		slog.Warn("prober: certificate expiring", "url", u.Raw, "left", left.Round(time.Hour))
		return true, true
	}
	return true, false
}
