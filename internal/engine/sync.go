package engine

import (
	"context"
	"log/slog"
	"net/netip"

	"submission-allowlist/internal/model"
)

// push writes the untrusted members of fresh into the managed ipset and
// returns the addresses that made it. The ipset only supports whole-list
// replacement, so the current entries are read back first. Any firewall
// error drops the update for this cycle.
func (d *Daemon) push(ctx context.Context, fresh model.AddrSet) model.AddrSet {
	admit := d.trusted.Filter(fresh)
	if admit.Len() == 0 {
		return admit
	}

	entries, err := d.fw.Entries(ctx, d.cfg.IPSet)
	if err != nil {
		d.metrics.FirewallErrors.Inc()
		slog.Error("Unable to contact firewalld", "ipset", d.cfg.IPSet, "error", err)
		return nil
	}

	present := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		present[canonicalEntry(e)] = struct{}{}
	}
	combined := append([]string(nil), entries...)
	added := 0
	for _, a := range admit.Strings() {
		if _, ok := present[a]; ok {
			continue
		}
		combined = append(combined, a)
		added++
	}
	if added == 0 {
		return admit
	}

	if err := d.fw.SetEntries(ctx, d.cfg.IPSet, combined); err != nil {
		d.metrics.FirewallErrors.Inc()
		slog.Error("Unable to add ipset entries", "ipset", d.cfg.IPSet, "count", added, "error", err)
		return nil
	}
	d.metrics.Admitted.Add(float64(added))
	slog.Debug("Added ipset entries", "ipset", d.cfg.IPSet, "count", added, "entries", admit.Strings())
	return admit
}

func canonicalEntry(e string) string {
	if addr, err := netip.ParseAddr(e); err == nil {
		return addr.Unmap().String()
	}
	return e
}

// parseEntries keeps the ipset entries that are single addresses.
func parseEntries(entries []string) model.AddrSet {
	known := make(model.AddrSet, len(entries))
	for _, e := range entries {
		addr, err := netip.ParseAddr(e)
		if err != nil {
			slog.Debug("Ignoring non-address ipset entry", "entry", e)
			continue
		}
		known.Add(addr)
	}
	return known
}
