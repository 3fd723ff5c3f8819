package tester

import (
	"context"
	"fmt"
	"time"

	"github.com/twj0/subcheck-termux-ubuntu/internal/engine"
	"github.com/twj0/subcheck-termux-ubuntu/internal/node"
	"github.com/twj0/subcheck-termux-ubuntu/internal/probe"
)

// pool is the subset of engine.Pool's contract NodeTester depends on,
// narrowed to an interface so tests can substitute a fake without starting
// real subprocesses.
type pool interface {
	Acquire(ctx context.Context, n node.Node) (engine.Lease, error)
	Release(lease engine.Lease)
}

// Config bundles the timeouts and probe endpoints a Tester needs. Callers
// fill the timeouts and speed limits field by field from internal/config's
// TestConfig/SpeedTestConfig; the endpoint lists are not part of that
// config.
type Config struct {
	ConnectTimeout time.Duration
	LatencyTimeout time.Duration
	SpeedTimeout   time.Duration

	HTTPEndpoints  []string
	SpeedEndpoints []string

	SpeedMinSizeBytes   int64
	SpeedEndpointsLimit int

	// GeoLookup resolves a best-effort two-letter country code for a
	// server host. Optional; nil disables Result.Region enrichment.
	GeoLookup func(server string) (string, bool)

	// Now returns the current time, stamped onto Result.TestTime.
	// Defaults to time.Now when nil.
	Now func() time.Time
}

func (c Config) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Tester drives a single node.Node through the TCP -> acquire -> HTTP ->
// speed -> release pipeline described in spec.md §4.5.
type Tester struct {
	pool pool
	cfg  Config
}

// New constructs a Tester bound to p. p is typically *engine.Pool; tests
// may substitute any type satisfying Acquire/Release.
func New(p pool, cfg Config) *Tester {
	return &Tester{pool: p, cfg: cfg}
}

// Run executes the full pipeline for n and always returns a Result, never
// an error: any probe or pool failure is captured into Result.Error with
// status failed, and release always runs once a lease is acquired.
func (t *Tester) Run(ctx context.Context, n node.Node) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = failed(n, t.cfg.now().UTC().Format(time.RFC3339), fmt.Sprintf("panic: %v", r))
		}
	}()

	testTime := t.cfg.now().UTC().Format(time.RFC3339)

	tcpMs, ok := probe.TCPLatency(ctx, n.Server, n.Port, t.cfg.ConnectTimeout)
	if !ok {
		return failed(n, testTime, "TCP connect failed")
	}

	lease, err := t.pool.Acquire(ctx, n)
	if err != nil {
		r := failed(n, testTime, fmt.Sprintf("proxy acquire failed: %v", err))
		r.TCPLatencyMs = ptr(tcpMs)
		return r
	}
	defer t.pool.Release(lease)

	r := identity(n)
	r.TestTime = testTime
	r.TCPLatencyMs = ptr(tcpMs)
	r.Region = t.region(n.Server)

	httpMs, httpOK := probe.HTTPLatency(ctx, lease.SOCKS5Addr(), t.cfg.HTTPEndpoints, t.cfg.LatencyTimeout)
	if httpOK {
		r.HTTPLatencyMs = ptr(httpMs)

		speedMbps, speedOK := probe.DownloadSpeed(
			ctx, lease.SOCKS5Addr(), t.cfg.SpeedEndpoints,
			t.cfg.SpeedTimeout, t.cfg.SpeedMinSizeBytes, t.cfg.SpeedEndpointsLimit,
		)
		if speedOK {
			r.DownloadSpeedMbps = ptr(speedMbps)
		}
	}

	if r.HTTPLatencyMs == nil && r.DownloadSpeedMbps == nil {
		r.Status = StatusFailed
		r.Error = "HTTP probes failed"
		return r
	}

	r.Status = StatusSuccess
	return r
}

func (t *Tester) region(server string) string {
	if t.cfg.GeoLookup == nil {
		return ""
	}
	code, ok := t.cfg.GeoLookup(server)
	if !ok {
		return ""
	}
	return code
}
