package engine

import (
	"context"
	"testing"
	"time"

	"github.com/twj0/subcheck-termux-ubuntu/internal/node"
)

func sampleVLESSNode() node.Node {
	return node.Node{
		Name:    "sample",
		Type:    node.TypeVLESS,
		Server:  "example.com",
		Port:    443,
		UUID:    "11111111-1111-1111-1111-111111111111",
		Network: "tcp",
	}
}

func TestPoolInitializeAndShutdown(t *testing.T) {
	bin := fakeEngineBinary(t)

	p, err := New(Options{
		PortStart:     19900,
		PortEnd:       19903,
		ParallelLimit: 2,
		WarmupTime:    50 * time.Millisecond,
		HealthCheck:   false,
		BinaryPath:    bin,
		Reloadable:    false,
		SettleTime:    10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	if err := p.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	p.mu.Lock()
	idleCount := len(p.all)
	p.mu.Unlock()
	if idleCount != 2 {
		t.Fatalf("expected 2 pre-warmed workers, got %d", idleCount)
	}

	p.Shutdown()

	p.mu.Lock()
	for _, w := range p.all {
		if w.state() != stateDestroyed {
			t.Errorf("worker %s state = %v, want destroyed", w.id, w.state())
		}
	}
	p.mu.Unlock()
}

func TestPoolAcquireReleaseIdleWorker(t *testing.T) {
	bin := fakeEngineBinary(t)

	p, err := New(Options{
		PortStart:     19910,
		PortEnd:       19912,
		ParallelLimit: 1,
		WarmupTime:    50 * time.Millisecond,
		HealthCheck:   false,
		BinaryPath:    bin,
		Reloadable:    false,
		SettleTime:    10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Shutdown()

	ctx := context.Background()
	if err := p.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	lease, err := p.Acquire(ctx, sampleVLESSNode())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if lease.Temporary {
		t.Error("expected non-temporary lease from the pre-warmed pool")
	}
	if lease.SOCKS5Addr() == "" {
		t.Error("expected a non-empty SOCKS5 address")
	}

	p.Release(lease)

	select {
	case w := <-p.idle:
		if w.state() != stateIdle {
			t.Errorf("released worker state = %v, want idle", w.state())
		}
		p.idle <- w
	case <-time.After(time.Second):
		t.Fatal("expected released worker to return to the idle channel")
	}
}

func TestPoolAcquireUnsupportedProtocolFailsFast(t *testing.T) {
	bin := fakeEngineBinary(t)

	p, err := New(Options{
		PortStart:     19920,
		PortEnd:       19921,
		ParallelLimit: 1,
		WarmupTime:    10 * time.Millisecond,
		BinaryPath:    bin,
		SettleTime:    10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Shutdown()

	ctx := context.Background()
	if err := p.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	bad := sampleVLESSNode()
	bad.Type = "ss"
	if _, err := p.Acquire(ctx, bad); err == nil {
		t.Fatal("expected error for unsupported protocol")
	}
}
