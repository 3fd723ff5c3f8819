// Package geoip provides best-effort country-code enrichment for
// Result.Region, resolving a node's server host through a MaxMind-format
// database that refreshes itself on a cron schedule when
// ServiceConfig.UpdateSchedule is set.
package geoip

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oschwald/maxminddb-golang"
	"github.com/robfig/cron/v3"

	"github.com/twj0/subcheck-termux-ubuntu/internal/netutil"
)

// GeoReader abstracts the underlying country database reader.
type GeoReader interface {
	Lookup(ip netip.Addr) string
	Close() error
}

// OpenFunc opens a GeoIP database file and returns a GeoReader.
type OpenFunc func(path string) (GeoReader, error)

type noOpReader struct{}

func (noOpReader) Lookup(_ netip.Addr) string { return "" }
func (noOpReader) Close() error               { return nil }

// NoOpOpen is a placeholder OpenFunc for tests; always returns "".
func NoOpOpen(_ string) (GeoReader, error) { return noOpReader{}, nil }

type mmdbReader struct {
	reader *maxminddb.Reader
}

type mmdbCountryRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
	RegisteredCountry struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"registered_country"`
}

func (m *mmdbReader) Lookup(ip netip.Addr) string {
	if m == nil || m.reader == nil || !ip.IsValid() {
		return ""
	}
	ip = ip.Unmap()
	var record mmdbCountryRecord
	if err := m.reader.Lookup(net.IP(ip.AsSlice()), &record); err != nil {
		return ""
	}
	if record.Country.ISOCode != "" {
		return strings.ToLower(record.Country.ISOCode)
	}
	if record.RegisteredCountry.ISOCode != "" {
		return strings.ToLower(record.RegisteredCountry.ISOCode)
	}
	return ""
}

func (m *mmdbReader) Close() error {
	if m == nil || m.reader == nil {
		return nil
	}
	return m.reader.Close()
}

// MMDBOpen opens a MaxMind-compatible mmdb database.
func MMDBOpen(path string) (GeoReader, error) {
	reader, err := maxminddb.Open(path)
	if err != nil {
		return nil, err
	}
	return &mmdbReader{reader: reader}, nil
}

// ServiceConfig configures the GeoIP service.
type ServiceConfig struct {
	CacheDir       string
	DBFilename     string
	UpdateSchedule string
	OpenDB         OpenFunc
	Downloader     netutil.Downloader
}

// ReleaseAPIURL is the GitHub API endpoint for the latest MetaCubeX
// country-database release; used only when auto-refresh is enabled.
const ReleaseAPIURL = "https://api.github.com/repos/MetaCubeX/meta-rules-dat/releases/latest"

// Service provides GeoIP lookup with hot-reloading via RWMutex.
type Service struct {
	mu     sync.RWMutex
	reader GeoReader

	cacheDir    string
	dbFilename  string
	openDB      OpenFunc
	downloader  netutil.Downloader
	cron        *cron.Cron
	cronEntryID cron.EntryID
	updateMu    sync.Mutex
	lifeCtx     context.Context
	lifeCancel  context.CancelFunc
}

func (s *Service) isStopped() bool {
	if s.lifeCtx == nil {
		return false
	}
	select {
	case <-s.lifeCtx.Done():
		return true
	default:
		return false
	}
}

// NewService creates a GeoIP service. If cfg.UpdateSchedule is empty, no
// cron refresh is scheduled and callers are expected to seed the database
// file out of band (or simply go without region enrichment).
func NewService(cfg ServiceConfig) *Service {
	if cfg.DBFilename == "" {
		cfg.DBFilename = "country.mmdb"
	}
	if cfg.OpenDB == nil {
		cfg.OpenDB = MMDBOpen
	}
	c := cron.New()
	lifeCtx, lifeCancel := context.WithCancel(context.Background())
	s := &Service{
		cacheDir:   cfg.CacheDir,
		dbFilename: cfg.DBFilename,
		openDB:     cfg.OpenDB,
		downloader: cfg.Downloader,
		cron:       c,
		lifeCtx:    lifeCtx,
		lifeCancel: lifeCancel,
	}

	if cfg.UpdateSchedule != "" {
		entryID, err := c.AddFunc(cfg.UpdateSchedule, func() {
			if err := s.UpdateNow(); err != nil {
				log.Printf("[geoip] scheduled update failed: %v", err)
			}
		})
		if err != nil {
			log.Printf("[geoip] invalid cron expression %q: %v", cfg.UpdateSchedule, err)
		} else {
			s.cronEntryID = entryID
		}
	}

	return s
}

// Start loads the database from disk if present and starts the cron
// scheduler. It never triggers a network fetch on its own; callers decide
// whether to call UpdateNow.
func (s *Service) Start() error {
	dbPath := filepath.Join(s.cacheDir, s.dbFilename)
	if _, err := os.Stat(dbPath); err == nil {
		if err := s.reloadReader(dbPath); err != nil {
			log.Printf("[geoip] failed to load initial db: %v", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("geoip: stat db %s: %w", dbPath, err)
	}
	s.cron.Start()
	return nil
}

// Stop stops the cron scheduler and closes the reader.
func (s *Service) Stop() {
	if s.lifeCancel != nil {
		s.lifeCancel()
	}
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}

	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	s.mu.Lock()
	r := s.reader
	s.reader = nil
	s.mu.Unlock()
	if r != nil {
		r.Close()
	}
}

// Lookup returns the lowercase ISO country code for ip, or "" if unknown.
func (s *Service) Lookup(ip netip.Addr) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.reader == nil {
		return ""
	}
	return s.reader.Lookup(ip)
}

// LookupHost resolves server (a hostname or literal IP) and returns its
// country code, matching tester.Config.GeoLookup's signature. A lookup
// against a hostname that fails to resolve, or a database that isn't
// loaded, reports ok=false rather than an error: region enrichment is
// best-effort and must never fail a node's test.
func (s *Service) LookupHost(server string) (string, bool) {
	if addr, err := netip.ParseAddr(server); err == nil {
		if code := s.Lookup(addr); code != "" {
			return code, true
		}
		return "", false
	}

	ips, err := net.LookupIP(server)
	if err != nil || len(ips) == 0 {
		return "", false
	}
	addr, ok := netip.AddrFromSlice(ips[0])
	if !ok {
		return "", false
	}
	if code := s.Lookup(addr); code != "" {
		return code, true
	}
	return "", false
}

type releaseAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

type releaseInfo struct {
	TagName string         `json:"tag_name"`
	Assets  []releaseAsset `json:"assets"`
}

// UpdateNow downloads the latest database release, verifies its SHA256,
// atomically replaces the local file, and hot-reloads the reader.
func (s *Service) UpdateNow() error {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	if s.isStopped() {
		return context.Canceled
	}
	if s.downloader == nil {
		return fmt.Errorf("geoip: no downloader configured")
	}

	ctx := s.lifeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	releaseBody, err := s.downloader.Download(ctx, ReleaseAPIURL)
	if err != nil {
		return fmt.Errorf("geoip: fetch release info: %w", err)
	}

	var release releaseInfo
	if err := json.Unmarshal(releaseBody, &release); err != nil {
		return fmt.Errorf("geoip: parse release info: %w", err)
	}

	dbURL, sha256URL := "", ""
	for _, a := range release.Assets {
		if a.Name == s.dbFilename {
			dbURL = a.BrowserDownloadURL
		} else if a.Name == s.dbFilename+".sha256sum" {
			sha256URL = a.BrowserDownloadURL
		}
	}
	if dbURL == "" {
		return fmt.Errorf("geoip: asset %q not found in release %s", s.dbFilename, release.TagName)
	}

	dbData, err := s.downloader.Download(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("geoip: download db: %w", err)
	}

	tmpFile, err := os.CreateTemp(s.cacheDir, s.dbFilename+".tmp.*")
	if err != nil {
		return fmt.Errorf("geoip: create temp: %w", err)
	}
	tmpPath := tmpFile.Name()
	if _, err := tmpFile.Write(dbData); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("geoip: write temp: %w", err)
	}
	tmpFile.Close()
	defer os.Remove(tmpPath)

	if sha256URL == "" {
		return fmt.Errorf("geoip: sha256sum asset %q not found in release %s; refusing to replace without verification",
			s.dbFilename+".sha256sum", release.TagName)
	}
	sha256Body, err := s.downloader.Download(ctx, sha256URL)
	if err != nil {
		return fmt.Errorf("geoip: download sha256: %w", err)
	}
	expectedHash := parseSHA256Sum(string(sha256Body))
	if expectedHash == "" {
		return fmt.Errorf("geoip: could not parse sha256sum from %q", string(sha256Body))
	}
	if err := VerifySHA256(tmpPath, expectedHash); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	dbPath := filepath.Join(s.cacheDir, s.dbFilename)
	if err := os.Rename(tmpPath, dbPath); err != nil {
		return fmt.Errorf("geoip: atomic replace: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return s.reloadReader(dbPath)
}

func (s *Service) reloadReader(path string) error {
	if s.openDB == nil {
		return fmt.Errorf("geoip: no OpenDB function configured")
	}
	newReader, err := s.openDB(path)
	if err != nil {
		return fmt.Errorf("geoip: open %s: %w", path, err)
	}
	s.mu.Lock()
	old := s.reader
	s.reader = newReader
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

// VerifySHA256 checks that the file at path has the expected SHA256 hash.
func VerifySHA256(path, expectedHex string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	got := sha256.Sum256(data)
	gotHex := hex.EncodeToString(got[:])
	if gotHex != expectedHex {
		return fmt.Errorf("geoip: sha256 mismatch: got %s, want %s", gotHex, expectedHex)
	}
	return nil
}

func parseSHA256Sum(s string) string {
	s = strings.TrimSpace(s)
	parts := strings.Fields(s)
	if len(parts) >= 1 && len(parts[0]) == 64 {
		return strings.ToLower(parts[0])
	}
	return ""
}
