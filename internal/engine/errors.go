package engine

import "errors"

var (
	// ErrServiceInactive means a prerequisite unit is not running.
	ErrServiceInactive = errors.New("service not running")
	// ErrFirewallUnavailable means firewalld could not be queried at startup.
	ErrFirewallUnavailable = errors.New("firewalld unavailable")
	// ErrTooManyFailures means the session poll failed too often in a row.
	ErrTooManyFailures = errors.New("too many doveadm failures")
)
