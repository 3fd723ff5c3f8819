package engine

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/proxy"
)

const healthCheckBudget = 3 * time.Second

// healthCheckEndpoint is a well-known 204 endpoint used to confirm a
// reconfigured worker's SOCKS5 inbound actually routes traffic.
const healthCheckEndpoint = "http://cp.cloudflare.com/generate_204"

// healthCheck issues a SOCKS5-proxied GET against healthCheckEndpoint
// through the worker listening on port, within healthCheckBudget.
func healthCheck(ctx context.Context, port int) error {
	dialer, err := proxy.SOCKS5("tcp", fmt.Sprintf("127.0.0.1:%d", port), nil, proxy.Direct)
	if err != nil {
		return fmt.Errorf("engine: health check dialer: %w", err)
	}
	contextDialer, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return fmt.Errorf("engine: health check dialer lacks context support")
	}

	ctx, cancel := context.WithTimeout(ctx, healthCheckBudget)
	defer cancel()

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return contextDialer.DialContext(ctx, network, addr)
			},
		},
		Timeout: healthCheckBudget,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthCheckEndpoint, nil)
	if err != nil {
		return fmt.Errorf("engine: health check request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("engine: health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("engine: health check unexpected status %d", resp.StatusCode)
	}
	return nil
}
