// Package session lists the remote addresses of active Dovecot sessions.
package session

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/netip"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"submission-allowlist/internal/model"
)

const (
	DefaultDoveadm = "/bin/doveadm"
	DefaultTimeout = 15 * time.Second
)

// whoAddrs matches the trailing parenthesized address list of a
// `doveadm who` line, e.g. "jane  2 imap (1234 1250) (192.0.2.7 2001:db8::7)".
var whoAddrs = regexp.MustCompile(`\(([^()]*)\)\s*$`)

// Lister runs `doveadm who`.
type Lister struct {
	Path    string
	Timeout time.Duration
}

func NewLister(path string, timeout time.Duration) *Lister {
	if path == "" {
		path = DefaultDoveadm
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Lister{Path: path, Timeout: timeout}
}

// Addresses returns the set of addresses with an active session. A nil set
// and a non-nil error mean the poll failed, which is different from a
// successful poll that found no sessions.
func (l *Lister) Addresses(ctx context.Context) (model.AddrSet, error) {
	ctx, cancel := context.WithTimeout(ctx, l.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, l.Path, "who")
	cmd.Env = []string{"LANG=en_US.UTF-8"}
	// Children that inherit stdout must not hold Output past the timeout.
	cmd.WaitDelay = time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("'doveadm who' timed out after %s", l.Timeout)
	}
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("'doveadm who' failed: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("'doveadm who' failed: %w", err)
	}
	return ParseWho(bytes.NewReader(out))
}

// ParseWho collects the addresses from `doveadm who` output. Lines without
// an address list and tokens that are not addresses are skipped.
func ParseWho(r io.Reader) (model.AddrSet, error) {
	addrs := make(model.AddrSet)
	// A user seen from thousands of addresses is one very long line.
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("error reading doveadm output: %w", err)
		}
		collect(addrs, line)
		if err == io.EOF {
			return addrs, nil
		}
	}
}

func collect(addrs model.AddrSet, line string) {
	match := whoAddrs.FindStringSubmatch(line)
	if match == nil {
		return
	}
	for _, token := range strings.Fields(match[1]) {
		addr, err := netip.ParseAddr(token)
		if err != nil {
			continue
		}
		addrs.Add(addr.WithZone(""))
	}
}
