// Package proxyconfig maps a validated node.Node onto the external engine's
// JSON configuration schema.
package proxyconfig

// EngineConfig is the top-level document written to a Worker's config file.
// The shape mirrors Xray/V2Ray's inbound/outbound schema: a SOCKS5 inbound
// the Worker exposes locally, one outbound dispatching to the node, a
// mandatory freedom outbound as fallback route, a fixed DNS resolver list,
// and a routing rule sending private-range IPs straight to the direct
// outbound instead of through the proxy.
type EngineConfig struct {
	Log       *LogConfig `json:"log,omitempty"`
	Inbounds  []Inbound  `json:"inbounds"`
	Outbounds []Outbound `json:"outbounds"`
	Dns       *Dns       `json:"dns,omitempty"`
	Routing   *Routing   `json:"routing,omitempty"`
}

// Dns is the engine's DNS resolver configuration.
type Dns struct {
	Servers []string `json:"servers"`
}

// Routing holds the field-matching route rules evaluated before dispatch.
type Routing struct {
	Rules []RoutingRule `json:"rules"`
}

// RoutingRule is one "type: field" rule matching on IP ranges.
type RoutingRule struct {
	Type        string   `json:"type"`
	IP          []string `json:"ip"`
	OutboundTag string   `json:"outboundTag"`
}

// LogConfig silences the engine's default access/error logging; Workers are
// short-lived and per-process stdout is not collected.
type LogConfig struct {
	LogLevel string `json:"loglevel"`
}

// Inbound is a SOCKS5 listener. Only the fields ProxyConfigBuilder sets are
// modeled; the engine defaults the rest.
type Inbound struct {
	Listen   string         `json:"listen"`
	Port     int            `json:"port"`
	Protocol string         `json:"protocol"`
	Settings InboundSocks   `json:"settings"`
}

// InboundSocks is the settings object for a "socks" protocol inbound.
type InboundSocks struct {
	Auth string `json:"auth"`
	UDP  bool   `json:"udp"`
}

// Outbound is one dispatch target: either the per-node proxy outbound or
// the trailing "freedom" direct outbound.
type Outbound struct {
	Protocol       string          `json:"protocol"`
	Settings       any             `json:"settings,omitempty"`
	StreamSettings *StreamSettings `json:"streamSettings,omitempty"`
	Tag            string          `json:"tag,omitempty"`
}

// StreamSettings carries the transport/security wrapper around an outbound.
type StreamSettings struct {
	Network     string       `json:"network,omitempty"`
	Security    string       `json:"security,omitempty"`
	TLSSettings *TLSSettings `json:"tlsSettings,omitempty"`
	WSSettings  *WSSettings  `json:"wsSettings,omitempty"`
}

// TLSSettings configures TLS/REALITY-style fields relevant at this scope.
type TLSSettings struct {
	ServerName    string `json:"serverName,omitempty"`
	AllowInsecure bool   `json:"allowInsecure"`
}

// WSSettings configures a websocket transport.
type WSSettings struct {
	Path    string            `json:"path,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// VLESSSettings is the "settings" object for a vless outbound.
type VLESSSettings struct {
	VNext []VLESSServer `json:"vnext"`
}

// VLESSServer is one vnext entry.
type VLESSServer struct {
	Address string      `json:"address"`
	Port    int         `json:"port"`
	Users   []VLESSUser `json:"users"`
}

// VLESSUser is the user credential for a vless vnext entry.
type VLESSUser struct {
	ID         string `json:"id"`
	Encryption string `json:"encryption"`
}

// VMessSettings is the "settings" object for a vmess outbound.
type VMessSettings struct {
	VNext []VMessServer `json:"vnext"`
}

// VMessServer is one vnext entry.
type VMessServer struct {
	Address string      `json:"address"`
	Port    int         `json:"port"`
	Users   []VMessUser `json:"users"`
}

// VMessUser is the user credential for a vmess vnext entry.
type VMessUser struct {
	ID       string `json:"id"`
	AlterID  uint32 `json:"alterId"`
	Security string `json:"security"`
}

// TrojanSettings is the "settings" object for a trojan outbound.
type TrojanSettings struct {
	Servers []TrojanServer `json:"servers"`
}

// TrojanServer is one server entry.
type TrojanServer struct {
	Address  string `json:"address"`
	Port     int    `json:"port"`
	Password string `json:"password"`
}

// FreedomSettings is the (empty) "settings" object for the freedom outbound.
type FreedomSettings struct{}
