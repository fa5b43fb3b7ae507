package sandbox

import (
	"net"
	"strings"
)

// Cloud metadata endpoints are blocked even when other link-local
// traffic would slip through a resolver quirk.
var metadataAddrs = []string{
	"169.254.169.254",
	"fd00:ec2::254",
}

// NormalizeHostname trims whitespace, lowercases, strips trailing dots,
// and unwraps IPv6 brackets.
func NormalizeHostname(hostname string) string {
	normalized := strings.ToLower(strings.TrimSpace(hostname))
	normalized = strings.TrimSuffix(normalized, ".")
	if strings.HasPrefix(normalized, "[") && strings.HasSuffix(normalized, "]") {
		normalized = normalized[1 : len(normalized)-1]
	}
	return normalized
}

// IsMetadataAddr reports whether ip is a cloud metadata service address.
func IsMetadataAddr(ip net.IP) bool {
	for _, addr := range metadataAddrs {
		if ip.Equal(net.ParseIP(addr)) {
			return true
		}
	}
	return false
}

// IsBlockedIP reports whether ip belongs to a range that must never be
// reached from sandboxed network tools: RFC1918, loopback (unless
// allowLoopback), link-local, unspecified, carrier-grade NAT, and cloud
// metadata addresses.
func IsBlockedIP(ip net.IP, allowLoopback bool) bool {
	if ip == nil {
		return true
	}
	if ip.IsLoopback() {
		return !allowLoopback
	}
	if ip.IsUnspecified() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	if IsMetadataAddr(ip) {
		return true
	}
	// 100.64.0.0/10 carrier-grade NAT is not covered by IsPrivate.
	if v4 := ip.To4(); v4 != nil && v4[0] == 100 && v4[1] >= 64 && v4[1] <= 127 {
		return true
	}
	return false
}
