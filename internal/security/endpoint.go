package security

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// internalHosts are hostnames an operator-supplied endpoint must never
// point at.
var internalHosts = []string{"localhost", "metadata.google.internal", "metadata.google"}

// ValidateOutboundURL checks that an operator-configured URL (such as the
// price API endpoint) is safe for server-side requests. It blocks loopback,
// private, link-local, and unspecified addresses so a misconfigured or
// malicious endpoint cannot be used to probe the internal network. Both the
// literal host and its DNS-resolved addresses are checked.
func ValidateOutboundURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format")
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("URL scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}

	host := u.Hostname()
	for _, b := range internalHosts {
		if strings.EqualFold(host, b) {
			return fmt.Errorf("URL host %q is not allowed", host)
		}
	}

	// An IP literal is checked directly, no DNS resolution needed.
	if ip := net.ParseIP(host); ip != nil {
		return checkOutboundIP(ip)
	}

	ips, err := net.LookupHost(host)
	if err != nil {
		return fmt.Errorf("cannot resolve URL host: %s", host)
	}
	for _, ipStr := range ips {
		if resolved := net.ParseIP(ipStr); resolved != nil {
			if err := checkOutboundIP(resolved); err != nil {
				return fmt.Errorf("URL host %q resolves to blocked address: %v", host, err)
			}
		}
	}
	return nil
}

func checkOutboundIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("loopback addresses are not allowed")
	case ip.IsPrivate():
		return fmt.Errorf("private addresses are not allowed")
	case ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast():
		return fmt.Errorf("link-local addresses are not allowed")
	case ip.IsUnspecified():
		return fmt.Errorf("unspecified addresses are not allowed")
	}
	return nil
}
