// Package engine manages a pool of external proxy-engine subprocesses, each
// exposing a local SOCKS5 inbound that can be reconfigured (or, on the
// fallback path, freshly spawned) to front a specific node.Node for the
// duration of a probe.
package engine

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/twj0/subcheck-termux-ubuntu/internal/node"
	"github.com/twj0/subcheck-termux-ubuntu/internal/proxyconfig"
)

const acquireQueueTimeout = 5 * time.Second

// Options configures a Pool. Most fields correspond to internal/config's
// ProxyConfig (port range, startup and engine sections), which callers
// copy over field by field; SettleTime has no config counterpart.
type Options struct {
	PortStart     int
	PortEnd       int
	ParallelLimit int
	WarmupTime    time.Duration
	HealthCheck   bool
	BinaryPath    string
	Reloadable    bool
	SettleTime    time.Duration
}

// Pool amortizes engine subprocess startup across many probes (spec.md
// §4.3). Idle workers are reconfigured in place when possible; the
// acquire-queue-timeout path falls back to spawning a temporary Worker on
// its own port.
type Pool struct {
	opts    Options
	workDir string
	ports   *portPool

	mu      sync.Mutex
	all     []*worker // every idle-origin worker, for shutdown
	idle    chan *worker
	closed  bool

	// temp tracks live temporary workers by id; xsync.Map because the
	// fallback path is the hot path under acquire-queue contention.
	temp *xsync.Map[string, *worker]
}

// New constructs a Pool; call Initialize before Acquire.
func New(opts Options) (*Pool, error) {
	workDir, err := os.MkdirTemp("", "subcheck-engine-*")
	if err != nil {
		return nil, fmt.Errorf("engine: create work dir: %w", err)
	}

	return &Pool{
		opts:    opts,
		workDir: workDir,
		ports:   newPortPool(opts.PortStart, opts.PortEnd),
		idle:    make(chan *worker, opts.ParallelLimit),
		temp:    xsync.NewMap[string, *worker](),
	}, nil
}

// Initialize pre-starts up to ParallelLimit idle workers on distinct ports,
// running a no-op SOCKS5+freedom config. After WarmupTime, workers whose
// process is still alive are marked idle and enqueued for lease; dead ones
// are dropped silently (their port returns to the free set).
func (p *Pool) Initialize(ctx context.Context) error {
	spawned := make([]*worker, 0, p.opts.ParallelLimit)

	for i := 0; i < p.opts.ParallelLimit; i++ {
		port, ok := p.ports.acquire()
		if !ok {
			break
		}
		w := newWorker(uuid.NewString(), port, p.workDir, p.opts.BinaryPath, p.opts.Reloadable)
		cfg, err := noopConfig(port)
		if err != nil {
			p.ports.release(port)
			return err
		}
		if err := w.spawn(ctx, cfg); err != nil {
			p.ports.release(port)
			continue
		}
		spawned = append(spawned, w)
	}

	time.Sleep(p.opts.WarmupTime)

	p.mu.Lock()
	for _, w := range spawned {
		if !w.alive() {
			p.ports.release(w.port)
			continue
		}
		w.setState(stateIdle)
		p.all = append(p.all, w)
		p.idle <- w
	}
	p.mu.Unlock()

	return nil
}

func noopConfig(port int) (proxyconfig.EngineConfig, error) {
	return proxyconfig.EngineConfig{
		Log: &proxyconfig.LogConfig{LogLevel: "none"},
		Inbounds: []proxyconfig.Inbound{{
			Listen:   "127.0.0.1",
			Port:     port,
			Protocol: "socks",
			Settings: proxyconfig.InboundSocks{Auth: "noauth", UDP: true},
		}},
		Outbounds: []proxyconfig.Outbound{
			{Protocol: "freedom", Settings: proxyconfig.FreedomSettings{}, Tag: "direct"},
		},
	}, nil
}

// Acquire dequeues an idle worker (waiting up to the acquire queue timeout),
// reconfigures it for n, and optionally health-checks it. On timeout it
// falls back to spawning a temporary worker on any free port. Returns
// ErrPoolExhausted if no free port exists for that fallback.
func (p *Pool) Acquire(ctx context.Context, n node.Node) (Lease, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return Lease{}, ErrPoolClosed
	}
	p.mu.Unlock()

	cfg, err := proxyconfig.Build(n, 0)
	if err != nil {
		return Lease{}, err
	}

	select {
	case w := <-p.idle:
		nodeCfg, err := proxyconfig.Build(n, w.port)
		if err != nil {
			p.idle <- w
			return Lease{}, err
		}
		if err := w.reconfigure(ctx, nodeCfg, p.opts.SettleTime); err != nil {
			p.idle <- w
			return Lease{}, fmt.Errorf("engine: reconfigure: %w", err)
		}
		w.mu.Lock()
		w.boundNode = n.Hash()
		w.mu.Unlock()
		w.setState(stateActive)

		if p.opts.HealthCheck {
			if err := healthCheck(ctx, w.port); err != nil {
				p.idle <- w
				return Lease{}, ErrHealthCheckFailed
			}
		}
		return Lease{w: w, addr: fmt.Sprintf("127.0.0.1:%d", w.port)}, nil

	case <-time.After(acquireQueueTimeout):
		return p.acquireTemporary(ctx, n, cfg)

	case <-ctx.Done():
		return Lease{}, ctx.Err()
	}
}

func (p *Pool) acquireTemporary(ctx context.Context, n node.Node, _ proxyconfig.EngineConfig) (Lease, error) {
	port, ok := p.ports.acquire()
	if !ok {
		return Lease{}, ErrPoolExhausted
	}

	w := newWorker(uuid.NewString(), port, p.workDir, p.opts.BinaryPath, p.opts.Reloadable)
	w.temporary = true
	nodeCfg, err := proxyconfig.Build(n, port)
	if err != nil {
		p.ports.release(port)
		return Lease{}, err
	}
	if err := w.spawn(ctx, nodeCfg); err != nil {
		p.ports.release(port)
		return Lease{}, fmt.Errorf("engine: spawn temporary worker: %w", err)
	}
	time.Sleep(p.opts.SettleTime)
	w.boundNode = n.Hash()
	w.setState(stateActive)
	p.temp.Store(w.id, w)

	if p.opts.HealthCheck {
		if err := healthCheck(ctx, w.port); err != nil {
			p.temp.Delete(w.id)
			w.destroy()
			p.ports.release(port)
			return Lease{}, ErrHealthCheckFailed
		}
	}

	return Lease{w: w, addr: fmt.Sprintf("127.0.0.1:%d", w.port), Temporary: true}, nil
}

// Release returns a leased worker to the pool. Temporary workers are torn
// down; idle-origin workers are cleared and re-enqueued. Release never
// fails; callers only see errors via logging at a higher layer.
func (p *Pool) Release(lease Lease) {
	w := lease.w
	if w == nil {
		return
	}

	if w.temporary {
		p.temp.Delete(w.id)
		w.destroy()
		p.ports.release(w.port)
		return
	}

	w.mu.Lock()
	w.boundNode = node.Zero
	w.mu.Unlock()

	if w.state() == stateDead || !w.alive() {
		p.mu.Lock()
		p.ports.release(w.port)
		p.mu.Unlock()
		return
	}

	w.setState(stateIdle)
	select {
	case p.idle <- w:
	default:
		// idle channel at capacity should not happen (bounded by
		// ParallelLimit idle-origin workers); drop silently rather than
		// block a caller inside Release.
	}
}

// Shutdown drains the pool: every worker (idle-origin and temporary) is
// terminated, escalating to Kill after its grace period, and its config
// file removed.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	all := append([]*worker(nil), p.all...)
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range all {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			w.destroy()
		}(w)
	}
	p.temp.Range(func(id string, w *worker) bool {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			w.destroy()
		}(w)
		return true
	})
	wg.Wait()

	_ = os.RemoveAll(p.workDir)
}
