package node

import (
	"net"
	"strings"
)

// NormalizeHostPort cuts a udp:// or http:// scheme from addr and adds
// defPort when addr has no port.
func NormalizeHostPort(addr, defPort string) string {
	for _, scheme := range []string{"udp://", "http://", "https://"} {
		if rest, ok := strings.CutPrefix(addr, scheme); ok {
			addr = rest
			break
		}
	}

	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}

	return net.JoinHostPort(addr, defPort)
}

// NormalizeAll applies NormalizeHostPort to every non-empty entry.
func NormalizeAll(addrs []string, defPort string) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, NormalizeHostPort(a, defPort))
		}
	}
	return out
}
