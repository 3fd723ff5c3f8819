// Command subcheck ingests VLESS/VMess/Trojan subscription links, dedupes
// them into node.Node records, and drives each one through a local SOCKS5
// probe to measure reachability and throughput.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/twj0/subcheck-termux-ubuntu/internal/buildinfo"
	"github.com/twj0/subcheck-termux-ubuntu/internal/config"
	"github.com/twj0/subcheck-termux-ubuntu/internal/geoip"
	"github.com/twj0/subcheck-termux-ubuntu/internal/netutil"
	"github.com/twj0/subcheck-termux-ubuntu/internal/node"
	"github.com/twj0/subcheck-termux-ubuntu/internal/orchestrator"
	"github.com/twj0/subcheck-termux-ubuntu/internal/subscription"
	"github.com/twj0/subcheck-termux-ubuntu/internal/tester"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "parse":
		err = runParse(os.Args[2:])
	case "test":
		err = runTest(os.Args[2:])
	case "run":
		err = runRun(os.Args[2:])
	case "version":
		fmt.Printf("subcheck %s (commit %s, built %s)\n", buildinfo.Version, buildinfo.GitCommit, buildinfo.BuildTime)
		return
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fatalf("%v", err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: subcheck <parse|test|run|version> [flags]")
	fmt.Fprintln(os.Stderr, "  parse <urls-file> [-o out.json]")
	fmt.Fprintln(os.Stderr, "  test  <nodes-file> [-o out.json] [-n maxNodes] [-config subcheck.yaml]")
	fmt.Fprintln(os.Stderr, "  run   <urls-file> [-n maxNodes] [-nodes-output f] [-results-output f] [-schedule cron] [-config subcheck.yaml]")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "fatal: "+format+"\n", args...)
	os.Exit(1)
}

// runParse fetches and dedupes subscription URLs listed one per line in
// urlsFile, writing the resulting nodes as JSON.
func runParse(args []string) error {
	fs := flag.NewFlagSet("parse", flag.ExitOnError)
	out := fs.String("o", "", "output file (default stdout)")
	configPath := fs.String("config", "subcheck.yaml", "path to subcheck.yaml")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("parse: missing urls-file argument")
	}

	registry, err := loadRegistry(*configPath)
	if err != nil {
		return err
	}

	urls, err := readLines(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}

	nodes, err := collectNodes(context.Background(), registry, urls)
	if err != nil {
		return err
	}

	return writeJSON(*out, nodes)
}

// runTest loads node records from nodesFile and measures each one directly,
// without a subscription-fetch step.
func runTest(args []string) error {
	fs := flag.NewFlagSet("test", flag.ExitOnError)
	out := fs.String("o", "", "output file (default stdout)")
	maxNodes := fs.Int("n", 0, "cap the number of nodes tested (0 = use config default)")
	configPath := fs.String("config", "subcheck.yaml", "path to subcheck.yaml")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("test: missing nodes-file argument")
	}

	registry, err := loadRegistry(*configPath)
	if err != nil {
		return err
	}
	if *maxNodes > 0 {
		registry.SetMaxNodes(*maxNodes)
	}

	nodes, err := readNodes(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("test: %w", err)
	}

	results, err := runOrchestrator(registry, nodes)
	if err != nil {
		return err
	}
	return writeJSON(*out, results)
}

// runRun is the end-to-end pipeline: fetch+parse the subscription URLs,
// then test every resulting node. With -schedule it repeats on a cron
// expression instead of running exactly once.
func runRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	nodesOut := fs.String("nodes-output", "", "write parsed nodes to this file")
	resultsOut := fs.String("results-output", "", "write test results to this file (default stdout)")
	maxNodes := fs.Int("n", 0, "cap the number of nodes tested (0 = use config default)")
	configPath := fs.String("config", "subcheck.yaml", "path to subcheck.yaml")
	schedule := fs.String("schedule", "", "cron expression to rerun the pipeline on; omit to run once")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("run: missing urls-file argument")
	}
	urlsFile := fs.Arg(0)

	registry, err := loadRegistry(*configPath)
	if err != nil {
		return err
	}
	if *maxNodes > 0 {
		registry.SetMaxNodes(*maxNodes)
	}

	pipeline := func() error {
		urls, err := readLines(urlsFile)
		if err != nil {
			return fmt.Errorf("run: %w", err)
		}

		nodes, err := collectNodes(context.Background(), registry, urls)
		if err != nil {
			return err
		}
		if *nodesOut != "" {
			if err := writeJSON(*nodesOut, nodes); err != nil {
				return err
			}
		}

		results, err := runOrchestrator(registry, nodes)
		if err != nil {
			return err
		}
		return writeJSON(*resultsOut, results)
	}

	if *schedule == "" {
		return pipeline()
	}
	return runScheduled(*schedule, pipeline)
}

// runScheduled repeats pipeline on the given cron expression until
// SIGINT/SIGTERM is received, logging (rather than aborting) on a failed
// run so one bad iteration doesn't kill the schedule.
func runScheduled(schedule string, pipeline func() error) error {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if err := pipeline(); err != nil {
			log.Printf("scheduled run failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("run: invalid schedule %q: %w", schedule, err)
	}
	c.Start()
	defer c.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	sig := <-quit
	log.Printf("received signal %s, shutting down scheduler", sig)
	return fmt.Errorf("run: interrupted by signal %s", sig)
}

func loadRegistry(path string) (*config.Registry, error) {
	registry, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	for _, w := range registry.Warnings() {
		log.Printf("config: %s", w)
	}
	return registry, nil
}

func collectNodes(ctx context.Context, registry *config.Registry, urls []string) ([]node.Node, error) {
	doc := registry.Document()

	var cache *config.FetchCache
	if doc.Subscription.Cache.Enabled {
		c, err := config.OpenFetchCache(doc.Subscription.Cache.Path)
		if err != nil {
			log.Printf("subscription: fetch cache disabled: %v", err)
		} else {
			cache = c
			defer cache.Close()
		}
	}

	var mirrors []string
	if doc.GitHubProxy.Enabled {
		mirrors = append(append([]string{}, doc.GitHubProxy.Mirrors...), "")
	} else {
		mirrors = []string{""}
	}

	fetcher := subscription.NewFetcher(subscription.FetcherConfig{
		Cache:    cache,
		CacheTTL: time.Duration(doc.Subscription.Cache.Duration),
		Timeout:  15 * time.Second,
		Mirrors:  mirrors,
	})
	result := subscription.Collect(ctx, fetcher, urls)
	for _, fe := range result.Errors {
		log.Printf("subscription: skipping %s: %v", fe.URL, fe.Err)
	}
	if len(result.Nodes) == 0 {
		return nil, fmt.Errorf("no usable nodes found across %d url(s)", len(urls))
	}
	return result.Nodes, nil
}

// geoLookupFromConfig opens the configured GeoIP database, if any, and
// returns a lookup function plus a closer. Region enrichment is best-effort:
// a missing or unreadable database simply disables it.
func geoLookupFromConfig(registry *config.Registry) (func(string) (string, bool), func()) {
	path := registry.Document().GeoIP.DatabasePath
	if path == "" {
		return nil, func() {}
	}
	svc := geoip.NewService(geoip.ServiceConfig{
		CacheDir:   "",
		DBFilename: path,
		Downloader: netutil.NewDirectDownloader(30 * time.Second),
	})
	if err := svc.Start(); err != nil {
		log.Printf("geoip: disabled: %v", err)
		return nil, func() {}
	}
	return svc.LookupHost, svc.Stop
}

func runOrchestrator(registry *config.Registry, nodes []node.Node) ([]tester.Result, error) {
	lookup, closeGeo := geoLookupFromConfig(registry)
	defer closeGeo()

	o := orchestrator.New(registry).WithGeoLookup(lookup)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)
	go func() {
		if sig, ok := <-quit; ok {
			log.Printf("received signal %s, cancelling run", sig)
			cancel()
		}
	}()

	results, err := o.Run(ctx, nodes)
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("test run interrupted by signal")
	}
	return results, nil
}

func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var out []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: no URLs found", path)
	}
	return out, nil
}

func readNodes(path string) ([]node.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var nodes []node.Node
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", path, err)
	}
	valid := node.FilterValid(nodes)
	if len(valid) == 0 {
		return nil, fmt.Errorf("%s: no valid nodes found", path)
	}
	return valid, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	data = append(data, '\n')

	if path == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
