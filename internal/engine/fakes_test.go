package engine

import (
	"context"
	"errors"
	"net/netip"

	"submission-allowlist/internal/model"
)

type fakeFirewall struct {
	zones    map[string]model.ZoneSettings
	entries  map[string][]string
	zonesErr error
	getErr   error
	setErr   error
	setCalls int
	lastSet  []string
}

func newFakeFirewall() *fakeFirewall {
	return &fakeFirewall{
		zones:   make(map[string]model.ZoneSettings),
		entries: make(map[string][]string),
	}
}

func (f *fakeFirewall) ActiveZones(ctx context.Context) ([]string, error) {
	if f.zonesErr != nil {
		return nil, f.zonesErr
	}
	var zones []string
	for z := range f.zones {
		zones = append(zones, z)
	}
	return zones, nil
}

func (f *fakeFirewall) ZoneSettings(ctx context.Context, zone string) (model.ZoneSettings, error) {
	s, ok := f.zones[zone]
	if !ok {
		return model.ZoneSettings{}, errors.New("INVALID_ZONE")
	}
	return s, nil
}

func (f *fakeFirewall) Entries(ctx context.Context, ipset string) ([]string, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return append([]string(nil), f.entries[ipset]...), nil
}

func (f *fakeFirewall) SetEntries(ctx context.Context, ipset string, entries []string) error {
	f.setCalls++
	if f.setErr != nil {
		return f.setErr
	}
	f.lastSet = append([]string(nil), entries...)
	f.entries[ipset] = f.lastSet
	return nil
}

// fakeLister replays results in order and repeats the last one.
type fakeLister struct {
	results []listResult
	calls   int
	onCall  func(n int)
}

type listResult struct {
	addrs model.AddrSet
	err   error
}

func (l *fakeLister) Addresses(ctx context.Context) (model.AddrSet, error) {
	l.calls++
	if l.onCall != nil {
		l.onCall(l.calls)
	}
	if len(l.results) == 0 {
		return make(model.AddrSet), nil
	}
	i := l.calls - 1
	if i >= len(l.results) {
		i = len(l.results) - 1
	}
	r := l.results[i]
	return r.addrs, r.err
}

func ok(addrs ...string) listResult {
	s := make(model.AddrSet)
	for _, a := range addrs {
		s.Add(netip.MustParseAddr(a))
	}
	return listResult{addrs: s}
}

var errPoll = errors.New("doveadm timed out")

func failed() listResult {
	return listResult{err: errPoll}
}

type fakeServices map[string]bool

func (f fakeServices) IsActive(ctx context.Context, unit string) bool {
	return f[unit]
}

func mustPrefixes(cidrs ...string) []netip.Prefix {
	out := make([]netip.Prefix, len(cidrs))
	for i, c := range cidrs {
		out[i] = netip.MustParsePrefix(c)
	}
	return out
}
