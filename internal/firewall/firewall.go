// Package firewall talks to firewalld over the system D-Bus.
//
// Only the runtime configuration is touched. Entries of the managed ipset
// are always written as a whole list with setEntries.
package firewall

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/godbus/dbus/v5"

	"submission-allowlist/internal/model"
)

const (
	busName    = "org.fedoraproject.FirewallD1"
	objectPath = dbus.ObjectPath("/org/fedoraproject/FirewallD1")

	zoneInterface  = busName + ".zone"
	ipsetInterface = busName + ".ipset"

	unknownMethod = "org.freedesktop.DBus.Error.UnknownMethod"

	DefaultTimeout = 15 * time.Second
)

// Manager is the subset of the firewalld API the sync loop relies on.
type Manager interface {
	ActiveZones(ctx context.Context) ([]string, error)
	ZoneSettings(ctx context.Context, zone string) (model.ZoneSettings, error)
	Entries(ctx context.Context, ipset string) ([]string, error)
	SetEntries(ctx context.Context, ipset string, entries []string) error
}

// Client is a Manager backed by a private system bus connection. A failed
// call drops the connection and the next call dials again.
type Client struct {
	timeout time.Duration
	dial    func() (*dbus.Conn, error)
	conn    *dbus.Conn
}

type OptFunc func(*Client)

func WithTimeout(d time.Duration) OptFunc {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithDialer(dial func() (*dbus.Conn, error)) OptFunc {
	return func(c *Client) {
		c.dial = dial
	}
}

func New(options ...OptFunc) *Client {
	c := &Client{
		timeout: DefaultTimeout,
		dial: func() (*dbus.Conn, error) {
			return dbus.ConnectSystemBus()
		},
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) call(ctx context.Context, method string, ret []interface{}, args ...interface{}) error {
	body, err := c.invoke(ctx, method, args...)
	if err != nil {
		return err
	}
	if len(ret) == 0 {
		return nil
	}
	if err := dbus.Store(body, ret...); err != nil {
		return fmt.Errorf("%s: decoding reply: %w", method, err)
	}
	return nil
}

func (c *Client) invoke(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	if c.conn == nil {
		conn, err := c.dial()
		if err != nil {
			return nil, fmt.Errorf("unable to contact firewalld: %w", err)
		}
		c.conn = conn
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	call := c.conn.Object(busName, objectPath).CallWithContext(ctx, method, 0, args...)
	if call.Err != nil {
		// An error reply leaves the connection usable.
		if _, remote := errorName(call.Err); !remote {
			c.Close()
		}
		return nil, fmt.Errorf("%s: %w", method, call.Err)
	}
	return call.Body, nil
}

// errorName returns the D-Bus error name of an error reply.
func errorName(err error) (string, bool) {
	var value dbus.Error
	if errors.As(err, &value) {
		return value.Name, true
	}
	var ptr *dbus.Error
	if errors.As(err, &ptr) && ptr != nil {
		return ptr.Name, true
	}
	return "", false
}

func isUnknownMethod(err error) bool {
	name, ok := errorName(err)
	return ok && name == unknownMethod
}

func (c *Client) ActiveZones(ctx context.Context) ([]string, error) {
	var active map[string]map[string][]string
	if err := c.call(ctx, zoneInterface+".getActiveZones", []interface{}{&active}); err != nil {
		return nil, err
	}
	zones := make([]string, 0, len(active))
	for zone := range active {
		zones = append(zones, zone)
	}
	sort.Strings(zones)
	return zones, nil
}

// ZoneSettings uses getZoneSettings2 and falls back to the tuple reply of
// getZoneSettings on firewalld older than 0.9.
func (c *Client) ZoneSettings(ctx context.Context, zone string) (model.ZoneSettings, error) {
	var raw map[string]dbus.Variant
	err := c.call(ctx, zoneInterface+".getZoneSettings2", []interface{}{&raw}, zone)
	if err == nil {
		return decodeZoneSettings(raw)
	}
	if !isUnknownMethod(err) {
		return model.ZoneSettings{}, err
	}

	body, err := c.invoke(ctx, zoneInterface+".getZoneSettings", zone)
	if err != nil {
		return model.ZoneSettings{}, err
	}
	if len(body) != 1 {
		return model.ZoneSettings{}, fmt.Errorf("getZoneSettings: expected one value, got %d", len(body))
	}
	tuple, ok := body[0].([]interface{})
	if !ok {
		return model.ZoneSettings{}, fmt.Errorf("getZoneSettings: unexpected reply type %T", body[0])
	}
	return decodeLegacyZoneSettings(tuple)
}

func (c *Client) Entries(ctx context.Context, ipset string) ([]string, error) {
	var entries []string
	if err := c.call(ctx, ipsetInterface+".getEntries", []interface{}{&entries}, ipset); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *Client) SetEntries(ctx context.Context, ipset string, entries []string) error {
	if entries == nil {
		entries = []string{}
	}
	return c.call(ctx, ipsetInterface+".setEntries", nil, ipset, entries)
}
