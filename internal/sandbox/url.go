package sandbox

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"
)

// DefaultAllowedPorts are the ports network tools may reach when the
// validator is not configured otherwise.
var DefaultAllowedPorts = []int{80, 443, 8080, 8443}

// URLValidator validates outbound URLs against a host allow-list and
// blocks requests that would resolve to private or metadata addresses.
type URLValidator struct {
	// AllowHosts is the set of permitted hostnames (normalized). Empty
	// means deny all hosts; "*" permits any public host.
	AllowHosts []string

	// AllowLoopback permits loopback targets (off by default).
	AllowLoopback bool

	// BlockPrivateRanges rejects URLs whose host resolves to a private,
	// link-local, or metadata address. Defaults to true via NewURLValidator.
	BlockPrivateRanges bool

	// AllowedPorts restricts the destination port. Nil falls back to
	// DefaultAllowedPorts.
	AllowedPorts []int

	// LookupIP overrides DNS resolution, primarily for tests.
	LookupIP func(ctx context.Context, host string) ([]net.IP, error)
}

// NewURLValidator builds a deny-by-default validator for the given
// allow-list.
func NewURLValidator(allowHosts []string) *URLValidator {
	normalized := make([]string, 0, len(allowHosts))
	for _, h := range allowHosts {
		normalized = append(normalized, NormalizeHostname(h))
	}
	return &URLValidator{
		AllowHosts:         normalized,
		BlockPrivateRanges: true,
	}
}

// Validate checks raw and returns its canonical form, or a URLError
// naming the first violated rule.
func (v *URLValidator) Validate(ctx context.Context, raw string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", &URLError{URL: raw, Reason: "unparseable"}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", &URLError{URL: raw, Reason: "scheme must be http or https"}
	}

	host := NormalizeHostname(parsed.Hostname())
	if host == "" {
		return "", &URLError{URL: raw, Reason: "missing host"}
	}

	port, err := v.effectivePort(parsed)
	if err != nil {
		return "", &URLError{URL: raw, Reason: err.Error()}
	}
	if !v.portAllowed(port) {
		return "", &URLError{URL: raw, Reason: fmt.Sprintf("port %d not allowed", port)}
	}

	if !v.hostAllowed(host) {
		return "", &URLError{URL: raw, Reason: "host not in allow-list"}
	}

	if v.BlockPrivateRanges {
		ips, err := v.resolve(ctx, host)
		if err != nil {
			return "", &URLError{URL: raw, Reason: "host does not resolve"}
		}
		for _, ip := range ips {
			if IsBlockedIP(ip, v.AllowLoopback) {
				return "", &URLError{URL: raw, Reason: "resolves to blocked address " + ip.String()}
			}
		}
	}

	canonical := *parsed
	canonical.Host = net.JoinHostPort(host, strconv.Itoa(port))
	if (parsed.Scheme == "http" && port == 80) || (parsed.Scheme == "https" && port == 443) {
		canonical.Host = host
	}
	return canonical.String(), nil
}

func (v *URLValidator) effectivePort(u *url.URL) (int, error) {
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return 0, fmt.Errorf("invalid port %q", p)
		}
		return port, nil
	}
	if u.Scheme == "https" {
		return 443, nil
	}
	return 80, nil
}

func (v *URLValidator) portAllowed(port int) bool {
	allowed := v.AllowedPorts
	if allowed == nil {
		allowed = DefaultAllowedPorts
	}
	for _, p := range allowed {
		if p == port {
			return true
		}
	}
	return false
}

func (v *URLValidator) hostAllowed(host string) bool {
	for _, allowed := range v.AllowHosts {
		if allowed == "*" || allowed == host {
			return true
		}
	}
	return false
}

func (v *URLValidator) resolve(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}
	lookup := v.LookupIP
	if lookup == nil {
		lookup = func(ctx context.Context, host string) ([]net.IP, error) {
			resolveCtx, cancelFn := context.WithTimeout(ctx, 5*time.Second)
			defer cancelFn()
			addrs, err := net.DefaultResolver.LookupIPAddr(resolveCtx, host)
			if err != nil {
				return nil, err
			}
			ips := make([]net.IP, 0, len(addrs))
			for _, a := range addrs {
				ips = append(ips, a.IP)
			}
			return ips, nil
		}
	}
	return lookup(ctx, host)
}
