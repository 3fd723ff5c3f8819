package probe

import (
	"context"
	"net/http"
	"time"
)

// speedChunkSize is the read buffer size for the download-speed probe,
// per spec.md §4.4 ("stream the body in 8 KiB chunks").
const speedChunkSize = 8 * 1024

// DownloadSpeed GETs each of up to endpointsLimit endpoints through the
// SOCKS5 proxy at socksAddr, streaming the body in 8 KiB chunks until
// either duration has elapsed or minSize bytes have been received.
// Throughput for a sample is bytes·8 / elapsedSeconds / 2^20 Mbps; a
// sample only counts when bytes >= minSize. DownloadSpeed stops at the
// first successful endpoint and reports its throughput; absent any
// success, ok is false.
func DownloadSpeed(ctx context.Context, socksAddr string, endpoints []string, duration time.Duration, minSize int64, endpointsLimit int) (mbps float64, ok bool) {
	if endpointsLimit > 0 && len(endpoints) > endpointsLimit {
		endpoints = endpoints[:endpointsLimit]
	}

	// The HTTP client timeout is the probe duration plus one second; it
	// bounds the whole request lifecycle including body streaming.
	client, err := socksHTTPClient(socksAddr, duration+time.Second)
	if err != nil {
		return 0, false
	}

	for _, endpoint := range endpoints {
		speed, success := downloadOnce(ctx, client, endpoint, duration, minSize)
		if success {
			return speed, true
		}
	}
	return 0, false
}

func downloadOnce(ctx context.Context, client *http.Client, endpoint string, duration time.Duration, minSize int64) (mbps float64, ok bool) {
	ctx, cancel := context.WithTimeout(ctx, duration)
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

	var received int64
	buf := make([]byte, speedChunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		received += int64(n)
		if received >= minSize || readErr != nil || ctx.Err() != nil {
			break
		}
	}
	elapsed := time.Since(start)

	if received < minSize {
		return 0, false
	}
	if elapsed <= 0 {
		return 0, false
	}

	mbps = float64(received) * 8 / elapsed.Seconds() / (1 << 20)
	return mbps, true
}
