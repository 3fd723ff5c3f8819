// Package orchestrator drives a batch of nodes through tester.Tester under
// bounded concurrency, owning the engine.Pool's lifecycle end to end.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/twj0/subcheck-termux-ubuntu/internal/config"
	"github.com/twj0/subcheck-termux-ubuntu/internal/engine"
	"github.com/twj0/subcheck-termux-ubuntu/internal/node"
	"github.com/twj0/subcheck-termux-ubuntu/internal/tester"
)

// HTTPEndpoints and SpeedEndpoints are the well-known probe targets used
// across runs; they are not user-configurable in spec.md's data model, only
// the timeouts and counts around them are.
var (
	HTTPEndpoints = []string{
		"http://cp.cloudflare.com/generate_204",
		"http://connectivitycheck.gstatic.com/generate_204",
	}
	SpeedEndpoints = []string{
		"https://speed.cloudflare.com/__down?bytes=25000000",
		"http://speedtest.tele2.net/10MB.zip",
	}
)

// Orchestrator runs TestOrchestrator's pipeline: truncate to maxNodes,
// determine concurrency, initialize the pool, run testers under a
// semaphore, aggregate in submission order, always shut the pool down.
type Orchestrator struct {
	registry  *config.Registry
	geoLookup func(server string) (string, bool)
}

// New constructs an Orchestrator bound to registry.
func New(registry *config.Registry) *Orchestrator {
	return &Orchestrator{registry: registry}
}

// WithGeoLookup attaches an optional Region-enrichment function, forwarded
// to every tester.Config this orchestrator builds. Returns the receiver for
// chaining at construction time.
func (o *Orchestrator) WithGeoLookup(lookup func(server string) (string, bool)) *Orchestrator {
	o.geoLookup = lookup
	return o
}

// Run executes the full batch and returns results in the same order as the
// (possibly truncated) input nodes. pool.Shutdown() always runs, even if
// initialization or every test fails.
func (o *Orchestrator) Run(ctx context.Context, nodes []node.Node) ([]tester.Result, error) {
	doc := o.registry.Document()

	maxNodes := doc.Test.MaxNodes
	if maxNodes > 0 && len(nodes) > maxNodes {
		nodes = nodes[:maxNodes]
	}

	concurrency := o.registry.OptimalConcurrency()
	if concurrency < 1 {
		concurrency = 1
	}

	pool, err := engine.New(engine.Options{
		PortStart:     doc.Proxy.PortRange.Start,
		PortEnd:       doc.Proxy.PortRange.End,
		ParallelLimit: doc.Proxy.Startup.ParallelLimit,
		WarmupTime:    time.Duration(doc.Proxy.Startup.WarmupTime),
		HealthCheck:   doc.Proxy.Startup.HealthCheck,
		BinaryPath:    doc.Proxy.Engine.BinaryPath,
		Reloadable:    doc.Proxy.Engine.ReloadSupported,
		SettleTime:    200 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: construct pool: %w", err)
	}
	defer pool.Shutdown()

	if err := pool.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("orchestrator: initialize pool: %w", err)
	}

	tCfg := tester.Config{
		ConnectTimeout:      time.Duration(doc.Test.Timeout.Connect),
		LatencyTimeout:      time.Duration(doc.Test.Timeout.Latency),
		SpeedTimeout:        time.Duration(doc.Test.Timeout.Speed),
		HTTPEndpoints:       HTTPEndpoints,
		SpeedEndpoints:      SpeedEndpoints,
		SpeedMinSizeBytes:   doc.Test.Speed.MinSizeBytes,
		SpeedEndpointsLimit: doc.Test.Speed.EndpointsLimit,
		GeoLookup:           o.geoLookup,
	}
	nodeTester := tester.New(pool, tCfg)

	results := make([]tester.Result, len(nodes))
	sem := make(chan struct{}, concurrency)
	done := make(chan int, len(nodes))

	for i, n := range nodes {
		sem <- struct{}{}
		go func(i int, n node.Node) {
			defer func() { <-sem }()
			results[i] = runOne(ctx, nodeTester, n)
			done <- i
		}(i, n)
	}

	for range nodes {
		<-done
	}

	return results, nil
}

// runOne wraps Tester.Run with an orchestrator-level recover: Tester.Run
// already captures its own panics, but spec.md §4.6 asks for a second
// safety net at this layer regardless.
func runOne(ctx context.Context, t *tester.Tester, n node.Node) (r tester.Result) {
	defer func() {
		if rec := recover(); rec != nil {
			r = tester.Result{
				Name:   n.Name,
				Server: n.Server,
				Port:   n.Port,
				Type:   n.Type,
				Status: tester.StatusFailed,
				Error:  fmt.Sprintf("panic: %v", rec),
			}
		}
	}()
	return t.Run(ctx, n)
}
