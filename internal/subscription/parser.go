// Package subscription ingests subscription documents (plain protocol
// links, base64-wrapped concatenations, Clash-style YAML, or a JSON array
// of node records) and yields deduplicated node.Node values, per spec.md
// §6's subscription-parser contract.
package subscription

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/twj0/subcheck-termux-ubuntu/internal/node"
)

// ParseDocument parses one subscription document, trying JSON (an array of
// node.Node records or a {"proxies": [...]} object) / Clash YAML /
// URI-per-line forms in turn, falling back to a base64-decoded retry of the
// whole document when nothing is recognized.
func ParseDocument(data []byte) ([]node.Node, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("subscription: empty document")
	}

	if nodes, recognized, err := parseContent(trimmed); err != nil {
		return nil, err
	} else if recognized {
		return nodes, nil
	}

	if decodedText, ok := tryDecodeBase64ToText(trimmed); ok {
		if nodes, recognized, err := parseContent([]byte(decodedText)); err != nil {
			return nil, err
		} else if recognized {
			return nodes, nil
		}
	}

	return nil, fmt.Errorf("subscription: unsupported format or no supported nodes found")
}

func parseContent(data []byte) (nodes []node.Node, recognized bool, err error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, false, nil
	}

	if looksLikeJSON(trimmed) {
		nodes, recognized, err := parseJSONDocument(trimmed)
		if err != nil {
			return nil, false, err
		}
		if recognized {
			return nodes, true, nil
		}
	}

	text := string(trimmed)
	if nodes, recognized, err := parseClashYAMLDocument(text); err != nil {
		return nil, false, err
	} else if recognized {
		return nodes, true, nil
	}

	if nodes, recognized := parseURILines(text); recognized {
		return nodes, true, nil
	}

	return nil, false, nil
}

// parseJSONDocument handles a bare JSON array of node.Node records, or a
// JSON object whose "proxies" list holds Clash-style proxy entries.
func parseJSONDocument(data []byte) ([]node.Node, bool, error) {
	var arr []node.Node
	if err := json.Unmarshal(data, &arr); err == nil && len(arr) > 0 {
		return arr, true, nil
	}

	var obj struct {
		Proxies []map[string]any `json:"proxies"`
	}
	if err := json.Unmarshal(data, &obj); err == nil && obj.Proxies != nil {
		return parseClashProxies(obj.Proxies), true, nil
	}

	return nil, false, nil
}

func parseClashYAMLDocument(text string) ([]node.Node, bool, error) {
	if !looksLikeClashYAML(text) {
		return nil, false, nil
	}
	var cfg struct {
		Proxies []map[string]any `yaml:"proxies"`
	}
	if err := yaml.Unmarshal([]byte(text), &cfg); err != nil {
		return nil, true, fmt.Errorf("subscription: unmarshal clash yaml: %w", err)
	}
	return parseClashProxies(cfg.Proxies), true, nil
}

func parseClashProxies(proxies []map[string]any) []node.Node {
	nodes := make([]node.Node, 0, len(proxies))
	for _, proxy := range proxies {
		if n, ok := convertClashProxy(proxy); ok {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

func convertClashProxy(proxy map[string]any) (node.Node, bool) {
	typ := strings.ToLower(strings.TrimSpace(getString(proxy, "type")))
	name := strings.TrimSpace(getString(proxy, "name"))
	server := strings.TrimSpace(getString(proxy, "server"))
	port, ok := getUint(proxy, "port")
	if !ok || server == "" {
		return node.Node{}, false
	}

	switch typ {
	case "vless":
		uuid := strings.TrimSpace(getString(proxy, "uuid"))
		if uuid == "" {
			return node.Node{}, false
		}
		network := strings.ToLower(strings.TrimSpace(getString(proxy, "network")))
		tls := "none"
		if enabled, ok := getBool(proxy, "tls"); ok && enabled {
			tls = "tls"
		}
		n := node.Node{
			Name: name, Type: node.TypeVLESS, Server: server, Port: port,
			UUID: uuid, Network: network, TLS: tls,
			SNI: firstNonEmpty(getString(proxy, "servername"), getString(proxy, "sni")),
		}
		applyClashWS(&n, proxy)
		return n, true

	case "vmess":
		uuid := strings.TrimSpace(getString(proxy, "uuid"))
		if uuid == "" {
			return node.Node{}, false
		}
		cipher := firstNonEmpty(getString(proxy, "cipher"))
		if cipher == "" {
			cipher = "auto"
		}
		alterID, _ := getUint(proxy, "alterId", "alter_id")
		tlsEnabled, _ := getBool(proxy, "tls")
		n := node.Node{
			Name: name, Type: node.TypeVMess, Server: server, Port: port,
			UUID: uuid, Cipher: cipher, AlterID: uint32(alterID), TLSBool: tlsEnabled,
			Host: firstNonEmpty(getString(proxy, "servername"), getString(proxy, "sni")),
		}
		applyClashWS(&n, proxy)
		return n, true

	case "trojan":
		password := strings.TrimSpace(getString(proxy, "password"))
		if password == "" {
			return node.Node{}, false
		}
		skipVerify, _ := getBool(proxy, "skip-cert-verify", "allowInsecure", "insecure")
		if _, explicit := getBool(proxy, "skip-cert-verify", "allowInsecure", "insecure"); !explicit {
			skipVerify = true
		}
		n := node.Node{
			Name: name, Type: node.TypeTrojan, Server: server, Port: port,
			Password: password, SkipCertVerify: skipVerify,
			SNI: firstNonEmpty(getString(proxy, "sni"), getString(proxy, "servername")),
		}
		return n, true

	default:
		return node.Node{}, false
	}
}

func applyClashWS(n *node.Node, proxy map[string]any) {
	if n.Network == "" {
		n.Network = strings.ToLower(strings.TrimSpace(getString(proxy, "network")))
	}
	if n.Network != "ws" {
		return
	}
	if wsOpts, ok := proxy["ws-opts"].(map[string]any); ok {
		n.Path = strings.TrimSpace(getString(wsOpts, "path"))
		if headers, ok := wsOpts["headers"].(map[string]any); ok {
			n.Host = strings.TrimSpace(getString(headers, "Host", "host"))
		}
	}
}

// parseURILines parses plain vless://, vmess://, trojan:// link lines,
// one per line, ignoring blank lines and "#" comments.
func parseURILines(text string) (nodes []node.Node, recognized bool) {
	for _, rawLine := range strings.Split(text, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		lower := strings.ToLower(line)
		var n node.Node
		var ok bool
		switch {
		case strings.HasPrefix(lower, "vless://"):
			recognized = true
			n, ok = parseVLESSURI(line)
		case strings.HasPrefix(lower, "vmess://"):
			recognized = true
			n, ok = parseVMessURI(line)
		case strings.HasPrefix(lower, "trojan://"):
			recognized = true
			n, ok = parseTrojanURI(line)
		}
		if ok {
			nodes = append(nodes, n)
		}
	}
	return nodes, recognized
}

func parseVLESSURI(uri string) (node.Node, bool) {
	u, err := url.Parse(uri)
	if err != nil {
		return node.Node{}, false
	}
	uuid := strings.TrimSpace(u.User.Username())
	server := strings.TrimSpace(u.Hostname())
	if uuid == "" || server == "" {
		return node.Node{}, false
	}
	port := uriPortOrDefault(u, 443)
	name := decodeTag(u.Fragment)

	query := u.Query()
	n := node.Node{
		Name: name, Type: node.TypeVLESS, Server: server, Port: port, UUID: uuid,
		Network: strings.ToLower(firstNonEmpty(query.Get("type"), query.Get("network"))),
		TLS:     "none",
	}
	security := strings.ToLower(query.Get("security"))
	sni := firstNonEmpty(query.Get("sni"), query.Get("servername"))
	if security == "tls" || security == "reality" || sni != "" {
		n.TLS = "tls"
	}
	n.SNI = sni
	if n.Network == "ws" {
		n.Path = query.Get("path")
		n.Host = query.Get("host")
	}
	return n, true
}

func parseVMessURI(uri string) (node.Node, bool) {
	payload := strings.TrimSpace(strings.TrimPrefix(uri, "vmess://"))
	if payload == "" {
		return node.Node{}, false
	}
	decoded, ok := decodeBase64Relaxed(payload)
	if !ok {
		return node.Node{}, false
	}

	var v map[string]any
	if err := json.Unmarshal(decoded, &v); err != nil {
		return node.Node{}, false
	}

	server := strings.TrimSpace(getString(v, "add"))
	uuid := strings.TrimSpace(getString(v, "id"))
	if server == "" || uuid == "" {
		return node.Node{}, false
	}
	port := 443
	if p, ok := getUint(v, "port"); ok {
		port = p
	}
	cipher := firstNonEmpty(getString(v, "scy", "security"))
	if cipher == "" {
		cipher = "auto"
	}
	alterID, _ := getUint(v, "aid", "alterId", "alter_id")

	n := node.Node{
		Name:    strings.TrimSpace(getString(v, "ps")),
		Type:    node.TypeVMess,
		Server:  server,
		Port:    port,
		UUID:    uuid,
		Cipher:  cipher,
		AlterID: uint32(alterID),
		Network: strings.ToLower(firstNonEmpty(getString(v, "net"), getString(v, "type"), getString(v, "network"))),
	}
	tlsValue := strings.ToLower(strings.TrimSpace(getString(v, "tls")))
	n.TLSBool = tlsValue == "tls" || tlsValue == "1" || tlsValue == "true"
	n.Host = firstNonEmpty(getString(v, "host"), getString(v, "sni"))
	if n.Network == "ws" {
		n.Path = strings.TrimSpace(getString(v, "path"))
	}
	return n, true
}

func parseTrojanURI(uri string) (node.Node, bool) {
	u, err := url.Parse(uri)
	if err != nil {
		return node.Node{}, false
	}
	password := strings.TrimSpace(u.User.Username())
	server := strings.TrimSpace(u.Hostname())
	if password == "" || server == "" {
		return node.Node{}, false
	}
	port := uriPortOrDefault(u, 443)
	name := decodeTag(u.Fragment)

	query := u.Query()
	skipVerify := true
	if v := query.Get("allowInsecure"); v != "" {
		skipVerify = v == "1" || strings.EqualFold(v, "true")
	}

	return node.Node{
		Name:           name,
		Type:           node.TypeTrojan,
		Server:         server,
		Port:           port,
		Password:       password,
		SNI:            firstNonEmpty(query.Get("sni"), query.Get("peer")),
		SkipCertVerify: skipVerify,
	}, true
}
