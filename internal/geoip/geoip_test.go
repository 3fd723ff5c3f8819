package geoip

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/robfig/cron/v3"
)

type mockReader struct {
	country string
	closed  bool
	mu      sync.Mutex
}

func (m *mockReader) Lookup(_ netip.Addr) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.country
}

func (m *mockReader) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockReader) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func TestLookupNilReader(t *testing.T) {
	s := &Service{}
	if got := s.Lookup(netip.MustParseAddr("1.2.3.4")); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestNewServiceDefaults(t *testing.T) {
	s := NewService(ServiceConfig{CacheDir: t.TempDir(), OpenDB: NoOpOpen})
	defer s.Stop()

	if s.dbFilename != "country.mmdb" {
		t.Fatalf("dbFilename = %q, want %q", s.dbFilename, "country.mmdb")
	}
	if s.cronEntryID != 0 {
		t.Fatal("no cron entry should be registered when UpdateSchedule is empty")
	}
}

func TestNewServiceWithSchedule(t *testing.T) {
	s := NewService(ServiceConfig{CacheDir: t.TempDir(), OpenDB: NoOpOpen, UpdateSchedule: "0 7 * * *"})
	defer s.Stop()

	entry := s.cron.Entry(s.cronEntryID)
	if entry.ID == 0 || entry.Schedule == nil {
		t.Fatal("cron entry was not registered")
	}
}

func TestReloadReaderClosesOld(t *testing.T) {
	old := &mockReader{country: "us"}
	s := &Service{reader: old}

	newReader := &mockReader{country: "jp"}
	s.openDB = func(path string) (GeoReader, error) { return newReader, nil }

	if err := s.reloadReader("/fake/path"); err != nil {
		t.Fatal(err)
	}
	if got := s.Lookup(netip.Addr{}); got != "jp" {
		t.Fatalf("expected jp, got %q", got)
	}
	if !old.isClosed() {
		t.Fatal("old reader should be closed")
	}
}

func TestStopClosesReader(t *testing.T) {
	r := &mockReader{country: "cn"}
	lifeCtx, lifeCancel := context.WithCancel(context.Background())
	s := &Service{reader: r, lifeCtx: lifeCtx, lifeCancel: lifeCancel}
	s.Stop()

	if !r.isClosed() {
		t.Fatal("reader should be closed after stop")
	}
	if got := s.Lookup(netip.Addr{}); got != "" {
		t.Fatalf("expected empty after stop, got %q", got)
	}
}

func TestLookupHostLiteralIP(t *testing.T) {
	s := &Service{reader: &mockReader{country: "us"}}
	code, ok := s.LookupHost("1.2.3.4")
	if !ok || code != "us" {
		t.Fatalf("LookupHost = (%q, %v), want (us, true)", code, ok)
	}
}

func TestLookupHostNoReaderFails(t *testing.T) {
	s := &Service{}
	if _, ok := s.LookupHost("1.2.3.4"); ok {
		t.Fatal("expected ok=false with no reader loaded")
	}
}

func TestLookupHostUnresolvableHostFails(t *testing.T) {
	s := &Service{reader: &mockReader{country: "us"}}
	if _, ok := s.LookupHost("this-host-does-not-resolve.invalid"); ok {
		t.Fatal("expected ok=false for an unresolvable host")
	}
}

func TestVerifySHA256Success(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.dat")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := VerifySHA256(path, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestVerifySHA256Failure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.dat")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := VerifySHA256(path, "0000000000000000000000000000000000000000000000000000000000000000"); err == nil {
		t.Fatal("expected SHA256 mismatch error")
	}
}

type mockDownloader struct {
	mu        sync.Mutex
	responses map[string][]byte
}

func (d *mockDownloader) Download(_ context.Context, url string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	body, ok := d.responses[url]
	if !ok {
		return nil, fmt.Errorf("mock: not found: %s", url)
	}
	return body, nil
}

func TestUpdateNowDownloadVerifyReload(t *testing.T) {
	dir := t.TempDir()

	dbContent := []byte("fake-geoip-database-content")
	hash := sha256.Sum256(dbContent)
	hashHex := hex.EncodeToString(hash[:])

	release := releaseInfo{
		TagName: "v20240101",
		Assets: []releaseAsset{
			{Name: "geoip.db", BrowserDownloadURL: "https://example.com/geoip.db"},
			{Name: "geoip.db.sha256sum", BrowserDownloadURL: "https://example.com/geoip.db.sha256sum"},
		},
	}
	releaseJSON, _ := json.Marshal(release)

	dl := &mockDownloader{responses: map[string][]byte{
		ReleaseAPIURL:                          releaseJSON,
		"https://example.com/geoip.db":         dbContent,
		"https://example.com/geoip.db.sha256sum": []byte(hashHex + "  geoip.db\n"),
	}}

	var reloaded bool
	s := &Service{
		cacheDir:   dir,
		dbFilename: "geoip.db",
		downloader: dl,
		openDB: func(path string) (GeoReader, error) {
			reloaded = true
			return &mockReader{country: "us"}, nil
		},
	}

	if err := s.UpdateNow(); err != nil {
		t.Fatalf("UpdateNow: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "geoip.db"))
	if err != nil {
		t.Fatalf("read db: %v", err)
	}
	if string(data) != string(dbContent) {
		t.Fatal("database content mismatch")
	}
	if !reloaded {
		t.Fatal("reader was not reloaded after download")
	}
	if got := s.Lookup(netip.MustParseAddr("1.2.3.4")); got != "us" {
		t.Fatalf("expected us, got %q", got)
	}
}

func TestUpdateNowSHA256MismatchNoReplace(t *testing.T) {
	dir := t.TempDir()
	origContent := []byte("original-db")
	dbPath := filepath.Join(dir, "geoip.db")
	if err := os.WriteFile(dbPath, origContent, 0o644); err != nil {
		t.Fatal(err)
	}

	release := releaseInfo{
		TagName: "v20240102",
		Assets: []releaseAsset{
			{Name: "geoip.db", BrowserDownloadURL: "https://example.com/geoip.db"},
			{Name: "geoip.db.sha256sum", BrowserDownloadURL: "https://example.com/geoip.db.sha256sum"},
		},
	}
	releaseJSON, _ := json.Marshal(release)

	dl := &mockDownloader{responses: map[string][]byte{
		ReleaseAPIURL:                          releaseJSON,
		"https://example.com/geoip.db":         []byte("new-db-content"),
		"https://example.com/geoip.db.sha256sum": []byte("0000000000000000000000000000000000000000000000000000000000000000  geoip.db\n"),
	}}

	s := &Service{
		cacheDir:   dir,
		dbFilename: "geoip.db",
		downloader: dl,
		openDB: func(path string) (GeoReader, error) {
			t.Fatal("OpenDB should not be called on SHA256 mismatch")
			return nil, nil
		},
	}

	if err := s.UpdateNow(); err == nil {
		t.Fatal("expected error on SHA256 mismatch")
	}

	data, err := os.ReadFile(dbPath)
	if err != nil {
		t.Fatalf("read db: %v", err)
	}
	if string(data) != string(origContent) {
		t.Fatal("original database was corrupted despite SHA256 mismatch")
	}
}

func TestUpdateNowMissingSHA256Fails(t *testing.T) {
	dir := t.TempDir()
	release := releaseInfo{
		TagName: "v20240103",
		Assets: []releaseAsset{
			{Name: "geoip.db", BrowserDownloadURL: "https://example.com/geoip.db"},
		},
	}
	releaseJSON, _ := json.Marshal(release)

	dl := &mockDownloader{responses: map[string][]byte{
		ReleaseAPIURL:                  releaseJSON,
		"https://example.com/geoip.db": []byte("new-db-content"),
	}}

	s := &Service{
		cacheDir:   dir,
		dbFilename: "geoip.db",
		downloader: dl,
		openDB: func(path string) (GeoReader, error) {
			t.Fatal("OpenDB should not be called when sha256sum asset is missing")
			return nil, nil
		},
	}

	if err := s.UpdateNow(); err == nil {
		t.Fatal("expected error when sha256sum asset is missing")
	}
}

func TestUpdateNowNoDownloaderFails(t *testing.T) {
	s := &Service{cacheDir: t.TempDir(), dbFilename: "geoip.db"}
	if err := s.UpdateNow(); err == nil {
		t.Fatal("expected error when no downloader configured")
	}
}

func TestStartLoadsExistingDatabase(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "geoip.db"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	var loaded bool
	s := &Service{
		cacheDir:   dir,
		dbFilename: "geoip.db",
		cron:       cron.New(),
		openDB: func(path string) (GeoReader, error) {
			loaded = true
			return &mockReader{country: "de"}, nil
		},
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.cron.Stop()

	if !loaded {
		t.Fatal("Start should load the database that already exists on disk")
	}
}

func TestParseSHA256Sum(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9  geoip.db", "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"},
		{"bad", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := parseSHA256Sum(tt.input); got != tt.want {
			t.Errorf("parseSHA256Sum(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
