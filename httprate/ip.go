package httprate

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP returns the address of the peer that sent r. Forwarding headers
// are ignored, since any client can set them.
func ClientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// TrustedClientIP resolves the client address of r when it arrived through
// one of the trusted proxies. X-Forwarded-For is walked from the right and the
// first hop outside trusted wins. X-Real-IP is used only when there is no
// X-Forwarded-For. Requests from untrusted peers resolve to ClientIP.
func TrustedClientIP(r *http.Request, trusted []netip.Prefix) string {
	peer := ClientIP(r)
	if !inPrefixes(peer, trusted) {
		return peer
	}

	var hops []string
	for _, v := range r.Header.Values("X-Forwarded-For") {
		hops = append(hops, strings.Split(v, ",")...)
	}

	for i := len(hops) - 1; i >= 0; i-- {
		addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			// a hop we cannot parse ends the trusted chain
			return peer
		}
		addr = addr.Unmap()
		if !containsAddr(trusted, addr) || i == 0 {
			return addr.String()
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if addr, err := netip.ParseAddr(xri); err == nil {
			return addr.Unmap().String()
		}
	}
	return peer
}

func inPrefixes(ip string, prefixes []netip.Prefix) bool {
	if len(prefixes) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	return containsAddr(prefixes, addr.Unmap())
}

func containsAddr(prefixes []netip.Prefix, addr netip.Addr) bool {
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
