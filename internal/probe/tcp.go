package probe

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TCPLatency opens a stream socket to addr with the given connect timeout.
// The measurement is the wall time from immediately before connect to
// immediately after, in milliseconds rounded to two decimals. The socket is
// closed on every path. ok is false when the connect failed or timed out.
func TCPLatency(ctx context.Context, server string, port int, timeout time.Duration) (ms float64, ok bool) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr := fmt.Sprintf("%s:%d", server, port)
	var d net.Dialer

	start := time.Now()
	conn, err := d.DialContext(ctx, "tcp", addr)
	elapsed := time.Since(start)
	if err != nil {
		return 0, false
	}
	defer conn.Close()

	return roundMs(elapsed), true
}

func roundMs(d time.Duration) float64 {
	ms := float64(d) / float64(time.Millisecond)
	return float64(int(ms*100+0.5)) / 100
}
