package utils

import (
	"testing"
)

func TestParseSourceAcceptsAddressesAndPrefixes(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"10.0.0.0/24", "10.0.0.0/24"},
		{"10.0.0.77/24", "10.0.0.0/24"},
		{"192.0.2.1", "192.0.2.1/32"},
		{"2001:db8::/32", "2001:db8::/32"},
		{"2001:db8::1", "2001:db8::1/128"},
		{"::ffff:192.0.2.1", "192.0.2.1/32"},
	}
	for _, tt := range tests {
		prefix, err := ParseSource(tt.in)
		if err != nil {
			t.Fatalf("ParseSource(%q) returned error: %v", tt.in, err)
		}
		if prefix.String() != tt.want {
			t.Fatalf("ParseSource(%q) = %s, want %s", tt.in, prefix, tt.want)
		}
	}
}

func TestParseSourceRejectsNonIPSpecifiers(t *testing.T) {
	// firewalld zones can also bind MAC addresses and ipsets as sources.
	for _, in := range []string{"00:11:22:33:44:55", "ipset:blocked", "eth0", ""} {
		if _, err := ParseSource(in); err == nil {
			t.Fatalf("expected ParseSource(%q) to fail", in)
		}
	}
}

func TestPortInRange(t *testing.T) {
	tests := []struct {
		spec string
		port int
		want bool
	}{
		{"587", 587, true},
		{"588", 587, false},
		{"580-600", 587, true},
		{"588-600", 587, false},
		{"600-580", 587, false},
		{"abc", 587, false},
		{"580-x", 587, false},
	}
	for _, tt := range tests {
		if got := PortInRange(tt.spec, tt.port); got != tt.want {
			t.Errorf("PortInRange(%q, %d) = %v, want %v", tt.spec, tt.port, got, tt.want)
		}
	}
}
