package prober

import (
	"crypto/tls"
	"time"
)

// certExpiring reports how long the leaf certificate of a TLS connection
// remains valid and whether that is within window. A zero window or a
// plain-HTTP response never reports expiring.
func certExpiring(cs *tls.ConnectionState, window time.Duration, now time.Time) (time.Duration, bool) {
	if cs == nil || window <= 0 || len(cs.PeerCertificates) == 0 {
		return 0, false
	}
	left := cs.PeerCertificates[0].NotAfter.Sub(now)
	return left, left <= window
}
