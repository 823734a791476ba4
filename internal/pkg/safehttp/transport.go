// Package safehttp guards outbound connections to addresses that arrive
// from remote APIs.
package safehttp

import (
	"context"
	"fmt"
	"net"
	"syscall"
	"time"
)

// DialTimeout bounds a single connection attempt.
const DialTimeout = 5 * time.Second

// Dialer refuses loopback, private and link-local destinations. The check
// runs on the resolved address of every attempt, so a hostname that
// resolves to a private range is refused too.
var Dialer = &net.Dialer{
	Timeout: DialTimeout,
	Control: func(network, address string, _ syscall.RawConn) error {
		host, _, err := net.SplitHostPort(address)
		if err != nil {
			return err
		}
		ip := net.ParseIP(host)
		if ip == nil {
			return fmt.Errorf("failed to parse remote IP for %q", address)
		}
		if Denied(ip) {
			return fmt.Errorf("access to private IP %s is denied", ip)
		}
		return nil
	},
}

// DialContext dials through Dialer.
func DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return Dialer.DialContext(ctx, network, addr)
}

// Denied reports whether ip is in a range outbound calls must not reach.
func Denied(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}
