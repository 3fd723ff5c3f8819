// Package config handles YAML-based configuration loading and the derived
// values (optimal concurrency, port pool) that the rest of the system relies
// on. Missing or invalid values never abort loading; they are replaced with
// defaults and recorded on the Registry, mirroring the original Python
// ConfigManager's "warn and fall back" behaviour.
package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// NetworkConfig controls bandwidth-derived concurrency.
type NetworkConfig struct {
	UserBandwidthMbps float64 `yaml:"user_bandwidth"`
	AutoConcurrent    bool    `yaml:"auto_concurrent"`
	ManualConcurrent  int     `yaml:"manual_concurrent"`
}

// TimeoutConfig holds the per-operation deadlines from spec.md §5.
type TimeoutConfig struct {
	Connect    Duration `yaml:"connect"`
	Latency    Duration `yaml:"latency"`
	Speed      Duration `yaml:"speed"`
	ProxyStart Duration `yaml:"proxy_start"`
}

// SpeedTestConfig controls the download-speed probe.
type SpeedTestConfig struct {
	Duration        Duration `yaml:"test_duration"`
	MinSizeBytes    int64    `yaml:"min_size"`
	EndpointsLimit  int      `yaml:"endpoints_limit"`
}

// TestConfig groups node-testing knobs.
type TestConfig struct {
	MaxNodes int             `yaml:"max_nodes"`
	Timeout  TimeoutConfig   `yaml:"timeout"`
	Speed    SpeedTestConfig `yaml:"speed"`
}

// PortRange is the inclusive [Start, End] pool of local SOCKS5 ports.
type PortRange struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
}

// ProxyStartupConfig controls ProxyPool warmup behaviour.
type ProxyStartupConfig struct {
	ParallelLimit int      `yaml:"parallel_limit"`
	WarmupTime    Duration `yaml:"warmup_time"`
	HealthCheck   bool     `yaml:"health_check"`
}

// EngineConfig names the external engine binary and its reload strategy.
type EngineConfig struct {
	BinaryPath      string `yaml:"binary_path"`
	ReloadSupported bool   `yaml:"reload_supported"`
}

// ProxyConfig groups ProxyPool knobs.
type ProxyConfig struct {
	PortRange PortRange          `yaml:"port_range"`
	Startup   ProxyStartupConfig `yaml:"startup"`
	Engine    EngineConfig       `yaml:"engine"`
}

// GitHubProxyConfig configures the subscription mirror rewrite (spec.md §6).
type GitHubProxyConfig struct {
	Enabled bool     `yaml:"enabled"`
	Mirrors []string `yaml:"mirrors"`
}

// SubscriptionCacheConfig controls the on-disk fetch cache.
type SubscriptionCacheConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Duration Duration `yaml:"duration"`
	Path     string   `yaml:"path"`
}

// SubscriptionConfig groups subscription-fetch knobs.
type SubscriptionConfig struct {
	Cache SubscriptionCacheConfig `yaml:"cache"`
}

// GeoIPConfig optionally enables Region enrichment on TestResult (ambient
// addition, see SPEC_FULL.md §3).
type GeoIPConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// Document is the raw, typed shape of the YAML configuration file.
type Document struct {
	Network      NetworkConfig      `yaml:"network"`
	Test         TestConfig         `yaml:"test"`
	Proxy        ProxyConfig        `yaml:"proxy"`
	GitHubProxy  GitHubProxyConfig  `yaml:"github_proxy"`
	Subscription SubscriptionConfig `yaml:"subscription"`
	GeoIP        GeoIPConfig        `yaml:"geoip"`
}

// Registry is a read-only, process-wide typed view over a loaded Document.
// It is safe for concurrent reads from multiple goroutines once Load
// returns, provided SetMaxNodes (the only mutator) is not called
// concurrently with those reads.
type Registry struct {
	doc      Document
	warnings []string
}

func defaultDocument() Document {
	return Document{
		Network: NetworkConfig{
			UserBandwidthMbps: 100,
			AutoConcurrent:    true,
			ManualConcurrent:  3,
		},
		Test: TestConfig{
			MaxNodes: 50,
			Timeout: TimeoutConfig{
				Connect:    Duration(8 * time.Second),
				Latency:    Duration(5 * time.Second),
				Speed:      Duration(15 * time.Second),
				ProxyStart: Duration(3 * time.Second),
			},
			Speed: SpeedTestConfig{
				Duration:       Duration(8 * time.Second),
				MinSizeBytes:   1 << 20,
				EndpointsLimit: 2,
			},
		},
		Proxy: ProxyConfig{
			PortRange: PortRange{Start: 10800, End: 10900},
			Startup: ProxyStartupConfig{
				ParallelLimit: 10,
				WarmupTime:    Duration(1 * time.Second),
				HealthCheck:   true,
			},
			Engine: EngineConfig{
				BinaryPath:      "xray",
				ReloadSupported: true,
			},
		},
		GitHubProxy: GitHubProxyConfig{
			Enabled: true,
			Mirrors: []string{
				"https://ghfast.top/",
				"https://gh-proxy.com/",
				"https://ghproxy.net/",
			},
		},
		Subscription: SubscriptionConfig{
			Cache: SubscriptionCacheConfig{
				Enabled:  true,
				Duration: Duration(30 * time.Minute),
				Path:     "subcheck-cache.sqlite",
			},
		},
	}
}

// Default returns a Registry populated entirely with built-in defaults,
// equivalent to Load("") against a nonexistent path.
func Default() *Registry {
	return &Registry{doc: defaultDocument()}
}

// Load reads and validates the YAML document at path. A missing file is not
// an error: it yields the default document with a recorded warning, matching
// spec.md §4.1 ("validation never raises; invalid values are replaced with
// defaults and recorded").
func Load(path string) (*Registry, error) {
	r := &Registry{doc: defaultDocument()}

	if path == "" {
		return r, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			r.warn(fmt.Sprintf("config file %q not found, using defaults", path))
			return r, nil
		}
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	doc := defaultDocument()
	if err := yaml.Unmarshal(data, &doc); err != nil {
		r.warn(fmt.Sprintf("config file %q failed to parse (%v), using defaults", path, err))
		return r, nil
	}

	r.doc = doc
	r.validate()
	return r, nil
}

func (r *Registry) warn(msg string) {
	r.warnings = append(r.warnings, msg)
}

// Warnings returns the validation/load warnings recorded so far, in order.
func (r *Registry) Warnings() []string {
	out := make([]string, len(r.warnings))
	copy(out, r.warnings)
	return out
}

// validate applies spec.md §4.1's port-pool validation, reverting to
// defaults on violation. Other fields are either always-valid (booleans,
// enums guarded elsewhere) or simply defaulted by defaultDocument when the
// YAML key is absent.
func (r *Registry) validate() {
	pr := r.doc.Proxy.PortRange
	if pr.Start >= pr.End || pr.Start < 1024 {
		r.warn(fmt.Sprintf("invalid proxy port range [%d, %d], reverting to default [10800, 10900]", pr.Start, pr.End))
		r.doc.Proxy.PortRange = PortRange{Start: 10800, End: 10900}
	}

	if r.doc.Network.UserBandwidthMbps <= 0 {
		r.warn("invalid network.user_bandwidth, reverting to default 100")
		r.doc.Network.UserBandwidthMbps = 100
	}

	if r.doc.Test.MaxNodes <= 0 {
		r.warn("invalid test.max_nodes, reverting to default 50")
		r.doc.Test.MaxNodes = 50
	}
}

// Document returns a copy of the effective configuration document.
func (r *Registry) Document() Document {
	return r.doc
}

// SetMaxNodes overrides Test.MaxNodes, letting a CLI -n flag take
// precedence over whatever the loaded document specifies.
func (r *Registry) SetMaxNodes(n int) {
	r.doc.Test.MaxNodes = n
}

// OptimalConcurrency implements spec.md §4.1's formula:
//
//	clamp(⌊(bandwidthMbps · 0.8) / 5⌋, 1, min(50, 4·cpuCount))
//
// or the manual value when auto-concurrency is disabled.
func (r *Registry) OptimalConcurrency() int {
	return OptimalConcurrency(r.doc.Network, runtime.NumCPU())
}

// OptimalConcurrency is the pure form of Registry.OptimalConcurrency, taking
// the CPU count explicitly so it can be tested without depending on the
// host machine (spec.md §8: "optimalConcurrency(bandwidth=0) = 1").
func OptimalConcurrency(n NetworkConfig, cpuCount int) int {
	if !n.AutoConcurrent {
		if n.ManualConcurrent < 1 {
			return 1
		}
		return n.ManualConcurrent
	}

	maxConcurrent := 50
	if limit := 4 * cpuCount; limit < maxConcurrent {
		maxConcurrent = limit
	}

	optimal := int((n.UserBandwidthMbps * 0.8) / 5)
	if optimal < 1 {
		optimal = 1
	}
	if optimal > maxConcurrent {
		optimal = maxConcurrent
	}
	return optimal
}

// PortPool returns the validated inclusive port range.
func (r *Registry) PortPool() PortRange {
	return r.doc.Proxy.PortRange
}
