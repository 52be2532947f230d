package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"

	"go4.org/netipx"

	"submission-allowlist/internal/firewall"
	"submission-allowlist/internal/model"
	"submission-allowlist/internal/utils"
	"submission-allowlist/pkg/wellknown"
)

// LocalNetwork is always trusted.
var LocalNetwork = netip.MustParsePrefix("127.0.0.0/24")

// Trusted holds the networks that already reach the submission port
// through other zones. Networks keeps discovery order and may contain
// duplicates; lookups go through the merged set.
type Trusted struct {
	Networks []netip.Prefix
	set      *netipx.IPSet
}

func NewTrusted(networks []netip.Prefix) (*Trusted, error) {
	var b netipx.IPSetBuilder
	for _, n := range networks {
		b.AddPrefix(n)
	}
	set, err := b.IPSet()
	if err != nil {
		return nil, fmt.Errorf("building trusted network set: %w", err)
	}
	return &Trusted{Networks: networks, set: set}, nil
}

func (t *Trusted) Contains(addr netip.Addr) bool {
	return t.set.Contains(addr.Unmap())
}

// Filter returns the members of addrs outside every trusted network.
func (t *Trusted) Filter(addrs model.AddrSet) model.AddrSet {
	out := make(model.AddrSet)
	for a := range addrs {
		if !t.Contains(a) {
			out.Add(a)
		}
	}
	return out
}

type TrustedOptions struct {
	// ManagedZone is skipped when ExcludeManagedZone is set.
	ManagedZone        string
	ExcludeManagedZone bool
	Service            string
	Port               int
	Extra              []netip.Prefix
}

// DiscoverTrusted scans the active zones for ones that let connections
// reach the submission port and collects their sources.
func DiscoverTrusted(ctx context.Context, fw firewall.Manager, opts TrustedOptions) (*Trusted, error) {
	networks := []netip.Prefix{LocalNetwork}

	zones, err := fw.ActiveZones(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing active zones: %w", err)
	}
	for _, zone := range zones {
		if opts.ExcludeManagedZone && zone == opts.ManagedZone {
			continue
		}
		settings, err := fw.ZoneSettings(ctx, zone)
		if err != nil {
			return nil, fmt.Errorf("zone %s: %w", zone, err)
		}
		if !permitsSubmission(settings, opts.Service, opts.Port) {
			continue
		}
		for _, src := range settings.Sources {
			prefix, err := utils.ParseSource(src)
			if err != nil {
				slog.Debug("Ignoring non-IP zone source", "zone", zone, "source", src)
				continue
			}
			networks = append(networks, prefix)
		}
	}
	networks = append(networks, opts.Extra...)
	return NewTrusted(networks)
}

func permitsSubmission(settings model.ZoneSettings, service string, port int) bool {
	if settings.Target == model.TargetAccept {
		return true
	}
	for _, svc := range settings.Services {
		if svc == service || wellknown.Opens(svc, port, model.TCP) {
			return true
		}
	}
	for _, p := range settings.Ports {
		if p.Protocol == model.TCP && utils.PortInRange(p.Port, port) {
			return true
		}
	}
	return false
}
