//go:build linux

package main

import (
	"log/slog"

	"golang.org/x/sys/unix"
)

// hardening stops doveadm and systemctl children from gaining privileges
// through setuid binaries.
func hardening() {
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		slog.Warn("Unable to set no_new_privs", "error", err)
	}
}
