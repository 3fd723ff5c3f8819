// Package tester sequences the TCP, HTTP, and speed probes for a single
// node.Node against a leased engine.Pool worker and produces a Result.
package tester

import "github.com/twj0/subcheck-termux-ubuntu/internal/node"

// Status is a TestResult's outcome.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Result is the output record for one tested node, per spec.md §3.
// status = success iff at least one of HTTPLatencyMs or DownloadSpeedMbps
// is present; Region is ambient enrichment and never participates in that
// invariant.
type Result struct {
	Name   string    `json:"name"`
	Server string    `json:"server"`
	Port   int       `json:"port"`
	Type   node.Type `json:"type"`

	TCPLatencyMs      *float64 `json:"tcpLatencyMs,omitempty"`
	HTTPLatencyMs     *float64 `json:"httpLatencyMs,omitempty"`
	DownloadSpeedMbps *float64 `json:"downloadSpeedMbps,omitempty"`

	Status   Status `json:"status"`
	Error    string `json:"error,omitempty"`
	TestTime string `json:"testTime"`

	Region string `json:"region,omitempty"`
}

func identity(n node.Node) Result {
	return Result{Name: n.Name, Server: n.Server, Port: n.Port, Type: n.Type}
}

func failed(n node.Node, testTime, errMsg string) Result {
	r := identity(n)
	r.Status = StatusFailed
	r.Error = errMsg
	r.TestTime = testTime
	return r
}

func ptr(f float64) *float64 { return &f }
