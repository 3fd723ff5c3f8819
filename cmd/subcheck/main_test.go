package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/twj0/subcheck-termux-ubuntu/internal/config"
	"github.com/twj0/subcheck-termux-ubuntu/internal/node"
)

func newTestRegistry(t *testing.T) *config.Registry {
	t.Helper()
	return config.Default()
}

func TestReadLinesSkipsBlankAndCommentLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urls.txt")
	content := "https://a.example.com/sub\n\n# comment\n  https://b.example.com/sub  \n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	urls, err := readLines(path)
	if err != nil {
		t.Fatalf("readLines: %v", err)
	}
	want := []string{"https://a.example.com/sub", "https://b.example.com/sub"}
	if len(urls) != len(want) {
		t.Fatalf("urls = %v, want %v", urls, want)
	}
	for i := range want {
		if urls[i] != want[i] {
			t.Errorf("urls[%d] = %q, want %q", i, urls[i], want[i])
		}
	}
}

func TestReadLinesEmptyFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.txt")
	if err := os.WriteFile(path, []byte("  \n# only comments\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := readLines(path); err == nil {
		t.Fatal("expected error for a file with no usable URLs")
	}
}

func TestReadLinesMissingFileFails(t *testing.T) {
	if _, err := readLines(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

func TestReadNodesFiltersInvalidAndRequiresAtLeastOne(t *testing.T) {
	nodes := []node.Node{
		{Name: "ok", Type: node.TypeVLESS, Server: "example.com", Port: 443, UUID: "11111111-1111-1111-1111-111111111111"},
		{Name: "bad", Type: node.TypeVLESS, Server: "", Port: 443},
	}
	data, err := json.Marshal(nodes)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "nodes.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := readNodes(path)
	if err != nil {
		t.Fatalf("readNodes: %v", err)
	}
	if len(got) != 1 || got[0].Name != "ok" {
		t.Fatalf("got = %+v, want only the valid node", got)
	}
}

func TestReadNodesAllInvalidFails(t *testing.T) {
	nodes := []node.Node{{Name: "bad", Type: node.TypeVLESS, Server: ""}}
	data, _ := json.Marshal(nodes)
	path := filepath.Join(t.TempDir(), "nodes.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := readNodes(path); err == nil {
		t.Fatal("expected error when every node is invalid")
	}
}

func TestWriteJSONToFileAndStdout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	payload := map[string]string{"hello": "world"}

	if err := writeJSON(path, payload); err != nil {
		t.Fatalf("writeJSON to file: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]string
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal written file: %v", err)
	}
	if got["hello"] != "world" {
		t.Errorf("got = %v, want {hello: world}", got)
	}

	if err := writeJSON("", payload); err != nil {
		t.Fatalf("writeJSON to stdout: %v", err)
	}
}

func TestGeoLookupFromConfigDisabledWithoutDatabasePath(t *testing.T) {
	registry := newTestRegistry(t)
	lookup, closeFn := geoLookupFromConfig(registry)
	defer closeFn()
	if lookup != nil {
		t.Fatal("expected nil lookup when GeoIP.DatabasePath is unset")
	}
}
