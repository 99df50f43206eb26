package history

import (
	"net"
	"net/url"
	"strings"
)

// Capabilities describes what the backing store supports. It is explicit
// construction-time input: the engine itself never inspects endpoints, it
// only branches on these flags.
type Capabilities struct {
	// DisableTransactions forces sequential per-item writes and deletes in
	// place of atomic multi-item transactions.
	DisableTransactions bool `json:"disableTransactions"`
	// DisableCountQuery forces counting by paging keys instead of a COUNT
	// query.
	DisableCountQuery bool `json:"disableCountQuery"`
}

// DetectCapabilities classifies an endpoint override as a capability-limited
// local emulator when its host looks loopback-like. This is a development
// bootstrap heuristic, not a negotiated capability; production wiring should
// set Capabilities explicitly and skip this function.
func DetectCapabilities(endpoint string) Capabilities {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return Capabilities{}
	}
	host := endpoint
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		host = u.Host
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.Trim(host, "[]"))
	if isLoopbackHost(host) {
		return Capabilities{DisableTransactions: true, DisableCountQuery: true}
	}
	return Capabilities{}
}

func isLoopbackHost(host string) bool {
	switch {
	case host == "localhost", strings.HasSuffix(host, ".localhost"):
		return true
	case host == "host.docker.internal":
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
