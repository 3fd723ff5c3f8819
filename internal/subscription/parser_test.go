package subscription

import (
	"encoding/base64"
	"testing"

	"github.com/twj0/subcheck-termux-ubuntu/internal/node"
)

func TestParseDocumentPlainLinks(t *testing.T) {
	doc := "vless://11111111-1111-1111-1111-111111111111@example.com:443?security=tls&sni=example.com&type=ws&path=%2Fws&host=example.com#My%20Node\n" +
		"trojan://secretpass@trojan.example.com:443?sni=trojan.example.com#Trojan%20Node\n"

	nodes, err := ParseDocument([]byte(doc))
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("len(nodes) = %d, want 2", len(nodes))
	}

	v := nodes[0]
	if v.Type != node.TypeVLESS || v.Server != "example.com" || v.Port != 443 || v.UUID != "11111111-1111-1111-1111-111111111111" {
		t.Errorf("vless node mismatch: %+v", v)
	}
	if v.Name != "My Node" {
		t.Errorf("vless name = %q, want %q", v.Name, "My Node")
	}
	if v.TLS != "tls" || v.Network != "ws" || v.Path != "/ws" || v.Host != "example.com" {
		t.Errorf("vless ws/tls fields mismatch: %+v", v)
	}

	tr := nodes[1]
	if tr.Type != node.TypeTrojan || tr.Server != "trojan.example.com" || tr.Password != "secretpass" {
		t.Errorf("trojan node mismatch: %+v", tr)
	}
}

func TestParseDocumentVmessURI(t *testing.T) {
	payload := `{"v":"2","ps":"VM Node","add":"vm.example.com","port":"8443","id":"22222222-2222-2222-2222-222222222222","aid":"0","net":"ws","path":"/vm","host":"vm.example.com","tls":"tls"}`
	uri := "vmess://" + base64.StdEncoding.EncodeToString([]byte(payload))

	nodes, err := ParseDocument([]byte(uri))
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	if len(nodes) != 1 {
		t.Fatalf("len(nodes) = %d, want 1", len(nodes))
	}
	n := nodes[0]
	if n.Type != node.TypeVMess || n.Server != "vm.example.com" || n.Port != 8443 {
		t.Errorf("vmess node mismatch: %+v", n)
	}
	if n.Name != "VM Node" || !n.TLSBool || n.Network != "ws" || n.Path != "/vm" {
		t.Errorf("vmess fields mismatch: %+v", n)
	}
}

func TestParseDocumentBase64WrappedLinks(t *testing.T) {
	inner := "trojan://secretpass@trojan.example.com:443?sni=trojan.example.com#Trojan\nvless://11111111-1111-1111-1111-111111111111@example.com:443#VLESS\n"
	wrapped := base64.StdEncoding.EncodeToString([]byte(inner))

	nodes, err := ParseDocument([]byte(wrapped))
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("len(nodes) = %d, want 2", len(nodes))
	}
}

func TestParseDocumentClashYAML(t *testing.T) {
	doc := `
proxies:
  - name: clash-vless
    type: vless
    server: clash.example.com
    port: 443
    uuid: 33333333-3333-3333-3333-333333333333
    network: ws
    tls: true
    servername: clash.example.com
    ws-opts:
      path: /clash
      headers:
        Host: clash.example.com
  - name: clash-trojan
    type: trojan
    server: trojan-clash.example.com
    port: 443
    password: clashpass
    sni: trojan-clash.example.com
`
	nodes, err := ParseDocument([]byte(doc))
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("len(nodes) = %d, want 2", len(nodes))
	}
	if nodes[0].Type != node.TypeVLESS || nodes[0].Network != "ws" || nodes[0].Path != "/clash" {
		t.Errorf("clash vless mismatch: %+v", nodes[0])
	}
	if nodes[1].Type != node.TypeTrojan || nodes[1].Password != "clashpass" {
		t.Errorf("clash trojan mismatch: %+v", nodes[1])
	}
}

func TestParseDocumentJSONArray(t *testing.T) {
	doc := `[{"Name":"j1","Type":"vless","Server":"j.example.com","Port":443,"UUID":"44444444-4444-4444-4444-444444444444"}]`
	nodes, err := ParseDocument([]byte(doc))
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	if len(nodes) != 1 || nodes[0].Server != "j.example.com" {
		t.Fatalf("nodes = %+v", nodes)
	}
}

func TestParseDocumentEmptyFails(t *testing.T) {
	if _, err := ParseDocument([]byte("   \n  ")); err == nil {
		t.Fatal("expected error for empty document")
	}
}

func TestParseDocumentUnrecognizedFails(t *testing.T) {
	if _, err := ParseDocument([]byte("not a known format at all")); err == nil {
		t.Fatal("expected error for unrecognized format")
	}
}
