// Package probe implements the three independent measurements NodeTester
// runs against a proxied node: TCP connect latency, HTTP latency through
// the node's SOCKS5 lease, and download throughput through the same lease.
// Each probe returns an (value, ok) pair rather than an error: per spec.md
// §4.4, a failed probe is simply "no measurement", not a fatal condition.
package probe

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/proxy"
)

// socksHTTPClient returns an http.Client that dials exclusively through the
// SOCKS5 proxy at addr (typically a Worker's local inbound from
// internal/engine), with the given total request timeout.
func socksHTTPClient(addr string, timeout time.Duration) (*http.Client, error) {
	dialer, err := proxy.SOCKS5("tcp", addr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("probe: socks5 dialer: %w", err)
	}
	contextDialer, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("probe: socks5 dialer lacks context support")
	}

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return contextDialer.DialContext(ctx, network, addr)
			},
		},
	}, nil
}
