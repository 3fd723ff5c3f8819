package proxyconfig

import (
	"errors"
	"fmt"

	"github.com/twj0/subcheck-termux-ubuntu/internal/node"
)

// ErrUnsupportedProtocol is returned when node.Type has no outbound mapping.
var ErrUnsupportedProtocol = errors.New("unsupported protocol")

// DefaultDNSServers are the resolvers used when Build is not given an
// explicit override, matching the original network tester's China-friendly
// resolver list with a public fallback.
var DefaultDNSServers = []string{
	"223.5.5.5",
	"119.29.29.29",
	"114.114.114.114",
	"8.8.8.8",
}

// Build maps n onto an EngineConfig exposing a SOCKS5 inbound on localPort.
// It is a pure function: the same (n, localPort, dnsServers) always produces
// the same EngineConfig. Callers that need a stable on-disk representation
// should marshal the result with encoding/json directly. A nil dnsServers
// falls back to DefaultDNSServers.
func Build(n node.Node, localPort int, dnsServers ...string) (EngineConfig, error) {
	outbound, err := buildOutbound(n)
	if err != nil {
		return EngineConfig{}, err
	}

	servers := dnsServers
	if len(servers) == 0 {
		servers = DefaultDNSServers
	}

	return EngineConfig{
		Log: &LogConfig{LogLevel: "none"},
		Inbounds: []Inbound{
			{
				Listen:   "127.0.0.1",
				Port:     localPort,
				Protocol: "socks",
				Settings: InboundSocks{Auth: "noauth", UDP: true},
			},
		},
		Outbounds: []Outbound{
			outbound,
			{Protocol: "freedom", Settings: FreedomSettings{}, Tag: "direct"},
		},
		Dns: &Dns{Servers: servers},
		Routing: &Routing{
			Rules: []RoutingRule{
				{Type: "field", IP: []string{"geoip:private"}, OutboundTag: "direct"},
			},
		},
	}, nil
}

func buildOutbound(n node.Node) (Outbound, error) {
	switch n.Type {
	case node.TypeVLESS:
		return buildVLESS(n), nil
	case node.TypeVMess:
		return buildVMess(n), nil
	case node.TypeTrojan:
		return buildTrojan(n), nil
	default:
		return Outbound{}, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, n.Type)
	}
}

func buildVLESS(n node.Node) Outbound {
	out := Outbound{
		Protocol: "vless",
		Settings: VLESSSettings{
			VNext: []VLESSServer{{
				Address: n.Server,
				Port:    n.Port,
				Users: []VLESSUser{{
					ID:         n.UUID,
					Encryption: "none",
				}},
			}},
		},
		Tag: "proxy",
	}

	stream := &StreamSettings{Network: n.Network}
	if n.TLS != "" && n.TLS != "none" {
		serverName := n.SNI
		if serverName == "" {
			serverName = n.Server
		}
		stream.Security = "tls"
		stream.TLSSettings = &TLSSettings{ServerName: serverName, AllowInsecure: true}
	}
	if n.Network == "ws" && n.Host != "" {
		headers := map[string]string{"Host": n.Host}
		stream.WSSettings = &WSSettings{Path: n.Path, Headers: headers}
	}
	out.StreamSettings = stream
	return out
}

func buildVMess(n node.Node) Outbound {
	security := n.Cipher
	if security == "" {
		security = "auto"
	}

	out := Outbound{
		Protocol: "vmess",
		Settings: VMessSettings{
			VNext: []VMessServer{{
				Address: n.Server,
				Port:    n.Port,
				Users: []VMessUser{{
					ID:       n.UUID,
					AlterID:  n.AlterID,
					Security: security,
				}},
			}},
		},
		Tag: "proxy",
	}

	if n.TLSBool {
		serverName := n.Host
		if serverName == "" {
			serverName = n.Server
		}
		out.StreamSettings = &StreamSettings{
			Security:    "tls",
			TLSSettings: &TLSSettings{ServerName: serverName, AllowInsecure: true},
		}
	}
	return out
}

func buildTrojan(n node.Node) Outbound {
	serverName := n.SNI
	if serverName == "" {
		serverName = n.Server
	}

	return Outbound{
		Protocol: "trojan",
		Settings: TrojanSettings{
			Servers: []TrojanServer{{
				Address:  n.Server,
				Port:     n.Port,
				Password: n.Password,
			}},
		},
		StreamSettings: &StreamSettings{
			Security: "tls",
			TLSSettings: &TLSSettings{
				ServerName:    serverName,
				AllowInsecure: trojanAllowInsecure(n),
			},
		},
		Tag: "proxy",
	}
}

// trojanAllowInsecure returns n.SkipCertVerify. Node has no tri-state for
// "unspecified": the trojan URI and Clash parsers set it to true unless the
// document explicitly turns verification on, but a JSON node.Node record
// that omits SkipCertVerify decodes to false, so TLS verification stays on
// for such a node.
func trojanAllowInsecure(n node.Node) bool {
	return n.SkipCertVerify
}
