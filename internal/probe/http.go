package probe

import (
	"context"
	"io"
	"net/http"
	"time"
)

// maxHTTPLatencyEndpoints caps the number of configured endpoints probed,
// per spec.md §4.4 ("up to two configured HTTP 204 endpoints").
const maxHTTPLatencyEndpoints = 2

// HTTPLatency issues a GET through the SOCKS5 proxy at socksAddr against
// each of up to the first two entries in endpoints, each bounded by
// timeout (spec.md's "total budget latencyTimeoutS" is interpreted as a
// per-request budget, since a single shared deadline across sequential
// endpoint probes would starve the second endpoint whenever the first is
// slow to fail). A probe counts as successful when the response status is
// 200 or 204; its measurement is the wall time of the full request
// including body drain. The reported latency is the arithmetic mean of
// successful probes; ok is false if none succeeded.
func HTTPLatency(ctx context.Context, socksAddr string, endpoints []string, timeout time.Duration) (ms float64, ok bool) {
	if len(endpoints) > maxHTTPLatencyEndpoints {
		endpoints = endpoints[:maxHTTPLatencyEndpoints]
	}

	client, err := socksHTTPClient(socksAddr, timeout)
	if err != nil {
		return 0, false
	}

	var sum float64
	var n int

	for _, endpoint := range endpoints {
		latency, success := probeOnce(ctx, client, endpoint, timeout)
		if success {
			sum += latency
			n++
		}
	}

	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func probeOnce(ctx context.Context, client *http.Client, endpoint string, timeout time.Duration) (ms float64, ok bool) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, false
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, false
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, resp.Body)
	elapsed := time.Since(start)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return 0, false
	}
	return roundMs(elapsed), true
}
