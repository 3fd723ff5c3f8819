package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/twj0/subcheck-termux-ubuntu/internal/proxyconfig"
)

// fakeEngineBinary writes a shell script that ignores its arguments and
// sleeps, standing in for the external engine subprocess in tests that only
// need a long-lived process to manage.
func fakeEngineBinary(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fakeengine.sh")
	script := "#!/bin/sh\nsleep 30\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake engine: %v", err)
	}
	return path
}

func TestWorkerSpawnAliveDestroy(t *testing.T) {
	bin := fakeEngineBinary(t)
	workDir := t.TempDir()

	w := newWorker("test-id", 19999, workDir, bin, false)
	cfg, err := noopConfig(19999)
	if err != nil {
		t.Fatalf("noopConfig: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.spawn(ctx, cfg); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if !w.alive() {
		t.Fatal("expected worker to be alive immediately after spawn")
	}
	if _, err := os.Stat(w.configPath); err != nil {
		t.Fatalf("expected config file to exist: %v", err)
	}

	w.destroy()
	time.Sleep(100 * time.Millisecond)
	if w.state() != stateDestroyed {
		t.Errorf("state = %v, want destroyed", w.state())
	}
	if _, err := os.Stat(w.configPath); !os.IsNotExist(err) {
		t.Errorf("expected config file removed after destroy, err = %v", err)
	}
}

func TestWorkerReconfigureFallbackRestart(t *testing.T) {
	bin := fakeEngineBinary(t)
	workDir := t.TempDir()

	w := newWorker("test-id-2", 19998, workDir, bin, false)
	cfg, err := noopConfig(19998)
	if err != nil {
		t.Fatalf("noopConfig: %v", err)
	}

	ctx := context.Background()
	if err := w.spawn(ctx, cfg); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer w.destroy()

	newCfg, err := proxyconfig.Build(sampleVLESSNode(), 19998)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if err := w.reconfigure(ctx, newCfg, 10*time.Millisecond); err != nil {
		t.Fatalf("reconfigure: %v", err)
	}
	if !w.alive() {
		t.Fatal("expected worker alive after reconfigure restart")
	}
}
