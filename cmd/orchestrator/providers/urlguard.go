package providers

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// URLGuard checks that a URL reported by a provider is a public web
// address before it is stored and pushed to clients
type URLGuard struct {
	allowedSchemes   map[string]bool
	blockedHostnames []string
	blockedPatterns  []string
}

// NewURLGuard creates a guard with the default rules
func NewURLGuard() *URLGuard {
	return &URLGuard{
		allowedSchemes: map[string]bool{
			"http":  true,
			"https": true,
		},
		blockedHostnames: []string{
			"localhost",
			"0.0.0.0",
			"::",
			"::1",
		},
		blockedPatterns: []string{
			"../",
			"..\\",
			"file://",
		},
	}
}

// Check validates scheme, host and path of raw
func (g *URLGuard) Check(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		return errors.New("protocol scheme is required")
	}
	if !g.allowedSchemes[scheme] {
		return fmt.Errorf("protocol '%s' is not allowed (only http/https permitted)", u.Scheme)
	}

	if err := g.checkHost(u.Hostname()); err != nil {
		return err
	}

	p := strings.ToLower(u.EscapedPath() + "?" + u.RawQuery)
	for _, pattern := range g.blockedPatterns {
		if strings.Contains(p, pattern) {
			return fmt.Errorf("URL contains blocked pattern '%s'", pattern)
		}
	}
	return nil
}

// checkHost rejects local names and non-public literal IPs. Names are not
// resolved: a fresh deployment's DNS may not have propagated yet.
func (g *URLGuard) checkHost(hostname string) error {
	host := strings.ToLower(strings.TrimSpace(hostname))
	if host == "" {
		return errors.New("hostname is required")
	}
	for _, blocked := range g.blockedHostnames {
		if host == blocked {
			return fmt.Errorf("hostname '%s' is blocked (local address)", hostname)
		}
	}
	if strings.HasSuffix(host, ".localhost") {
		return fmt.Errorf("hostname '%s' is blocked (local address)", hostname)
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return nil
	}
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("IP %s is blocked (loopback address)", ip)
	case ip.IsPrivate():
		return fmt.Errorf("IP %s is blocked (private network)", ip)
	case ip.IsLinkLocalUnicast():
		return fmt.Errorf("IP %s is blocked (link-local address)", ip)
	case ip.IsMulticast():
		return fmt.Errorf("IP %s is blocked (multicast address)", ip)
	case ip.IsUnspecified():
		return fmt.Errorf("IP %s is blocked (unspecified address)", ip)
	}
	return nil
}
