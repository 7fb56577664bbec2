package prober

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/obsidianstack/vigil/server/internal/store"
)

const (
	protocolICMP      = 1
	protocolICMPv6    = 58
	icmpIdentifierMod = 65536
)

var errNoAddress = errors.New("no address resolved")

// probeICMP pings every address the host resolves to. One missing reply
// fails the whole replica; latency is the slowest round trip.
func (e *Engine) probeICMP(ctx context.Context, u store.ICMPURL) (bool, *time.Duration) {
	ips, err := e.lookupIP(ctx, u.Host)
	if err == nil && len(ips) == 0 {
		err = errNoAddress
	}
	if err != nil {
		slog.Debug("prober: icmp resolve failed", "host", u.Host, "err", err)
		return false, nil
	}

	timeout := min(icmpTimeout, e.cfg.PollDelayDead)

	var maxRTT time.Duration
	for _, ip := range ips {
		rtt, err := e.pinger.Ping(ctx, ip, timeout)
		if err != nil {
			slog.Debug("prober: icmp echo failed", "host", u.Host, "ip", ip, "err", err)
			return false, nil
		}
		maxRTT = max(maxRTT, rtt)
	}
	return true, &maxRTT
}

// icmpPinger opens one socket per echo. Raw sockets need CAP_NET_RAW; dgram
// sockets need net.ipv4.ping_group_range to include the process group.
type icmpPinger struct {
	privileged bool
	id         int
	seq        atomic.Uint32
}

func newICMPPinger(privileged bool) *icmpPinger {
	return &icmpPinger{
		privileged: privileged,
		id:         int(time.Now().UnixNano() % icmpIdentifierMod),
	}
}

func (p *icmpPinger) Ping(ctx context.Context, ip net.IP, timeout time.Duration) (time.Duration, error) {
	var (
		network, laddr      string
		proto               int
		echoType, replyType icmp.Type
	)
	if ip.To4() != nil {
		network, laddr, proto = "udp4", "0.0.0.0", protocolICMP
		if p.privileged {
			network = "ip4:icmp"
		}
		echoType, replyType = ipv4.ICMPTypeEcho, ipv4.ICMPTypeEchoReply
	} else {
		network, laddr, proto = "udp6", "::", protocolICMPv6
		if p.privileged {
			network = "ip6:ipv6-icmp"
		}
		echoType, replyType = ipv6.ICMPTypeEchoRequest, ipv6.ICMPTypeEchoReply
	}

	conn, err := icmp.ListenPacket(network, laddr)
	if err != nil {
		return 0, fmt.Errorf("listen %s: %w", network, err)
	}
	defer conn.Close()

	seq := int(p.seq.Add(1) & 0xffff)
	msg := icmp.Message{
		Type: echoType,
		Body: &icmp.Echo{ID: p.id, Seq: seq, Data: []byte("vigil")},
	}
	wb, err := msg.Marshal(nil)
	if err != nil {
		return 0, fmt.Errorf("marshal echo: %w", err)
	}

	var dst net.Addr = &net.IPAddr{IP: ip}
	if !p.privileged {
		dst = &net.UDPAddr{IP: ip}
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return 0, err
	}

	start := time.Now()
	if _, err := conn.WriteTo(wb, dst); err != nil {
		return 0, fmt.Errorf("send echo: %w", err)
	}

	rb := make([]byte, 1500)
	for {
		n, peer, err := conn.ReadFrom(rb)
		if err != nil {
			return 0, fmt.Errorf("await reply: %w", err)
		}
		rm, err := icmp.ParseMessage(proto, rb[:n])
		if err != nil || rm.Type != replyType {
			continue
		}
		echo, ok := rm.Body.(*icmp.Echo)
		// Dgram sockets rewrite the identifier, so only raw sockets check it.
		if !ok || echo.Seq != seq || (p.privileged && echo.ID != p.id) {
			continue
		}
		if !peerIP(peer).Equal(ip) {
			continue
		}
		return time.Since(start), nil
	}
}

func peerIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.IPAddr:
		return a.IP
	case *net.UDPAddr:
		return a.IP
	}
	return nil
}
