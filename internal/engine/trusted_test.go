package engine

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	"submission-allowlist/internal/model"
)

func TestDiscoverTrustedAlwaysIncludesLoopback(t *testing.T) {
	trusted, err := DiscoverTrusted(context.Background(), newFakeFirewall(), TrustedOptions{Service: "submission", Port: 587})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(trusted.Networks) != 1 || trusted.Networks[0] != LocalNetwork {
		t.Fatalf("expected only loopback network, got %v", trusted.Networks)
	}
	if !trusted.Contains(netip.MustParseAddr("127.0.0.99")) {
		t.Fatalf("expected loopback address to be trusted")
	}
	if trusted.Contains(netip.MustParseAddr("127.0.1.1")) {
		t.Fatalf("expected only 127.0.0.0/24 to be trusted")
	}
}

func TestDiscoverTrustedSelectsPermittingZones(t *testing.T) {
	fw := newFakeFirewall()
	fw.zones["trusted"] = model.ZoneSettings{Target: model.TargetAccept, Sources: []string{"192.168.10.0/24"}}
	fw.zones["internal"] = model.ZoneSettings{Target: "DEFAULT", Services: []string{"submission"}, Sources: []string{"10.1.0.0/16"}}
	fw.zones["office"] = model.ZoneSettings{Target: "DEFAULT", Services: []string{"smtp-submission"}, Sources: []string{"10.2.0.5"}}
	fw.zones["lab"] = model.ZoneSettings{Target: "DEFAULT", Ports: []model.Port{{Port: "587", Protocol: model.TCP}}, Sources: []string{"2001:db8::/48"}}
	fw.zones["range"] = model.ZoneSettings{Target: "DEFAULT", Ports: []model.Port{{Port: "500-600", Protocol: model.TCP}}, Sources: []string{"10.3.0.0/24"}}
	fw.zones["udp"] = model.ZoneSettings{Target: "DEFAULT", Ports: []model.Port{{Port: "587", Protocol: model.UDP}}, Sources: []string{"10.4.0.0/24"}}
	fw.zones["public"] = model.ZoneSettings{Target: "DEFAULT", Services: []string{"ssh", "imaps"}, Sources: []string{"10.5.0.0/24"}}

	trusted, err := DiscoverTrusted(context.Background(), fw, TrustedOptions{Service: "submission", Port: 587})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	for _, addr := range []string{"192.168.10.1", "10.1.200.1", "10.2.0.5", "2001:db8::1", "10.3.0.9", "127.0.0.1"} {
		if !trusted.Contains(netip.MustParseAddr(addr)) {
			t.Errorf("expected %s to be trusted", addr)
		}
	}
	for _, addr := range []string{"10.4.0.1", "10.5.0.1", "10.2.0.6"} {
		if trusted.Contains(netip.MustParseAddr(addr)) {
			t.Errorf("expected %s not to be trusted", addr)
		}
	}
	if len(trusted.Networks) != 6 {
		t.Errorf("expected 6 networks, got %v", trusted.Networks)
	}
}

func TestDiscoverTrustedIgnoresNonIPSources(t *testing.T) {
	fw := newFakeFirewall()
	fw.zones["trusted"] = model.ZoneSettings{
		Target:  model.TargetAccept,
		Sources: []string{"00:11:22:33:44:55", "ipset:office", "10.9.0.0/24"},
	}
	trusted, err := DiscoverTrusted(context.Background(), fw, TrustedOptions{Service: "submission", Port: 587})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(trusted.Networks) != 2 || trusted.Networks[1].String() != "10.9.0.0/24" {
		t.Fatalf("expected loopback plus 10.9.0.0/24, got %v", trusted.Networks)
	}
}

func TestDiscoverTrustedManagedZoneExclusion(t *testing.T) {
	fw := newFakeFirewall()
	fw.zones["dovecot"] = model.ZoneSettings{Target: "DEFAULT", Services: []string{"submission"}, Sources: []string{"ipset:dovecot", "198.51.100.0/24"}}

	excluded, err := DiscoverTrusted(context.Background(), fw, TrustedOptions{ManagedZone: "dovecot", ExcludeManagedZone: true, Service: "submission", Port: 587})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if excluded.Contains(netip.MustParseAddr("198.51.100.1")) {
		t.Errorf("expected managed zone sources to be skipped")
	}

	included, err := DiscoverTrusted(context.Background(), fw, TrustedOptions{ManagedZone: "dovecot", Service: "submission", Port: 587})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !included.Contains(netip.MustParseAddr("198.51.100.1")) {
		t.Errorf("expected managed zone sources to be used when not excluded")
	}
}

func TestDiscoverTrustedAppendsExtraNetworks(t *testing.T) {
	trusted, err := DiscoverTrusted(context.Background(), newFakeFirewall(), TrustedOptions{
		Service: "submission",
		Port:    587,
		Extra:   mustPrefixes("203.0.113.0/24", "203.0.113.0/24"),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	// Duplicates are kept in the list.
	if len(trusted.Networks) != 3 {
		t.Fatalf("expected 3 networks, got %v", trusted.Networks)
	}
	if !trusted.Contains(netip.MustParseAddr("203.0.113.77")) {
		t.Fatalf("expected extra network to be trusted")
	}
}

func TestDiscoverTrustedPropagatesFirewallErrors(t *testing.T) {
	fw := newFakeFirewall()
	fw.zonesErr = errors.New("dbus: timeout")
	if _, err := DiscoverTrusted(context.Background(), fw, TrustedOptions{}); err == nil {
		t.Fatalf("expected error when zones cannot be listed")
	}
}

func TestTrustedFilter(t *testing.T) {
	trusted, err := NewTrusted(mustPrefixes("127.0.0.0/24", "10.0.0.0/24"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	in := ok("10.0.0.5", "::ffff:10.0.0.6", "127.0.0.1", "192.0.2.1").addrs
	out := trusted.Filter(in)
	if out.Len() != 1 || !out.Has(netip.MustParseAddr("192.0.2.1")) {
		t.Fatalf("expected only 192.0.2.1 to survive, got %v", out.Strings())
	}
}
