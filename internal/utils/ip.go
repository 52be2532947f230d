package utils

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// ParseSource parses a firewall source specifier into a network prefix.
// A bare address becomes a /32 or /128 host prefix.
func ParseSource(src string) (netip.Prefix, error) {
	src = strings.TrimSpace(src)
	if strings.Contains(src, "/") {
		prefix, err := netip.ParsePrefix(src)
		if err != nil {
			return netip.Prefix{}, err
		}
		return prefix.Masked(), nil
	}
	addr, err := netip.ParseAddr(src)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// PortRange parses "587" or "580-600".
func PortRange(spec string) (int, int, error) {
	parts := strings.SplitN(strings.TrimSpace(spec), "-", 2)
	start, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid port %q: %w", spec, err)
	}
	end := start
	if len(parts) == 2 {
		end, err = strconv.Atoi(parts[1])
		if err != nil {
			return 0, 0, fmt.Errorf("invalid port %q: %w", spec, err)
		}
	}
	if start > end {
		return 0, 0, fmt.Errorf("invalid port range %q", spec)
	}
	return start, end, nil
}

// PortInRange reports whether port falls inside spec.
func PortInRange(spec string, port int) bool {
	start, end, err := PortRange(spec)
	if err != nil {
		return false
	}
	return port >= start && port <= end
}
