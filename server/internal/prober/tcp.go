package prober

import (
	"context"
	"log/slog"
	"net"
	"strconv"

	"github.com/obsidianstack/vigil/server/internal/store"
)

// probeTCP connects to the first resolved address within poll_delay_dead.
func (e *Engine) probeTCP(ctx context.Context, u store.TCPURL) bool {
	ips, err := e.lookupIP(ctx, u.Host)
	if err == nil && len(ips) == 0 {
		err = errNoAddress
	}
	if err != nil {
		slog.Debug("prober: tcp resolve failed", "host", u.Host, "err", err)
		return false
	}

	addr := net.JoinHostPort(ips[0].String(), strconv.Itoa(int(u.Port)))
	dialCtx, cancel := context.WithTimeout(ctx, e.cfg.PollDelayDead)
	defer cancel()

	conn, err := e.dial(dialCtx, "tcp", addr)
	if err != nil {
		slog.Debug("prober: tcp connect failed", "addr", addr, "err", err)
		return false
	}
	_ = conn.Close()
	return true
}
