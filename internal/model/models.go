package model

import (
	"net/netip"
	"sort"
)

type Protocol string // "tcp", "udp"

const (
	TCP Protocol = "tcp"
	UDP Protocol = "udp"
)

// TargetAccept is the zone target that lets every connection through.
const TargetAccept = "ACCEPT"

type Port struct {
	Port     string // "587" or "580-600"
	Protocol Protocol
}

type ZoneSettings struct {
	Target   string
	Services []string
	Ports    []Port
	Sources  []string
}

// AddrSet is a set of individual addresses. Keys are always unmapped so
// that ::ffff:10.0.0.1 and 10.0.0.1 are the same member.
type AddrSet map[netip.Addr]struct{}

func NewAddrSet(addrs ...netip.Addr) AddrSet {
	s := make(AddrSet, len(addrs))
	for _, a := range addrs {
		s.Add(a)
	}
	return s
}

func (s AddrSet) Add(a netip.Addr) {
	s[a.Unmap()] = struct{}{}
}

func (s AddrSet) Has(a netip.Addr) bool {
	_, ok := s[a.Unmap()]
	return ok
}

func (s AddrSet) Len() int {
	return len(s)
}

// Diff returns the members of s that are not in other.
func (s AddrSet) Diff(other AddrSet) AddrSet {
	out := make(AddrSet)
	for a := range s {
		if !other.Has(a) {
			out[a] = struct{}{}
		}
	}
	return out
}

func (s AddrSet) Merge(other AddrSet) {
	for a := range other {
		s[a] = struct{}{}
	}
}

// Sorted returns the members in address order.
func (s AddrSet) Sorted() []netip.Addr {
	out := make([]netip.Addr, 0, len(s))
	for a := range s {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Less(out[j])
	})
	return out
}

func (s AddrSet) Strings() []string {
	sorted := s.Sorted()
	out := make([]string, len(sorted))
	for i, a := range sorted {
		out[i] = a.String()
	}
	return out
}
