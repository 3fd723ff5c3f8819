package engine

import "errors"

// Sentinel errors surfaced by ProxyPool, matching spec.md §8's error table.
var (
	// ErrPoolExhausted is returned by acquire when no idle Worker became
	// available within the acquire budget and no free port remains for a
	// temporary Worker.
	ErrPoolExhausted = errors.New("proxy pool exhausted")

	// ErrHealthCheckFailed is returned when a reconfigured or freshly
	// spawned Worker fails its post-reconfigure health check.
	ErrHealthCheckFailed = errors.New("proxy health check failed")

	// ErrEngineStartFailed is returned when the engine subprocess could not
	// be started or exited before becoming ready.
	ErrEngineStartFailed = errors.New("engine process failed to start")

	// ErrPoolClosed is returned by acquire once shutdown has begun.
	ErrPoolClosed = errors.New("proxy pool closed")
)
