// Package service checks whether systemd units are running.
package service

import (
	"context"
	"os/exec"
)

const DefaultSystemctl = "/bin/systemctl"

type Checker struct {
	Systemctl string
}

func NewChecker(systemctl string) *Checker {
	if systemctl == "" {
		systemctl = DefaultSystemctl
	}
	return &Checker{Systemctl: systemctl}
}

// IsActive reports whether unit is active. Any failure to run systemctl
// counts as inactive.
func (c *Checker) IsActive(ctx context.Context, unit string) bool {
	cmd := exec.CommandContext(ctx, c.Systemctl, "--quiet", "is-active", unit)
	return cmd.Run() == nil
}
