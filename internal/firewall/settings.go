package firewall

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"

	"submission-allowlist/internal/model"
)

// decodeZoneSettings converts the a{sv} reply of getZoneSettings2. Keys
// that are absent are left empty, firewalld omits empty lists.
func decodeZoneSettings(raw map[string]dbus.Variant) (model.ZoneSettings, error) {
	var settings model.ZoneSettings

	if v, ok := raw["target"]; ok {
		target, ok := v.Value().(string)
		if !ok {
			return settings, fmt.Errorf("zone target: unexpected type %s", v.Signature())
		}
		settings.Target = normalizeTarget(target)
	}

	var err error
	if settings.Services, err = stringList(raw, "services"); err != nil {
		return settings, err
	}
	if settings.Sources, err = stringList(raw, "sources"); err != nil {
		return settings, err
	}

	if v, ok := raw["ports"]; ok {
		settings.Ports, err = decodePorts(v.Value())
		if err != nil {
			return settings, fmt.Errorf("zone ports: %w", err)
		}
	}
	return settings, nil
}

// normalizeTarget maps the %%REJECT%% style placeholders firewalld uses
// for the default target onto plain names.
func normalizeTarget(target string) string {
	return strings.Trim(strings.ToUpper(target), "%")
}

func stringList(raw map[string]dbus.Variant, key string) ([]string, error) {
	v, ok := raw[key]
	if !ok {
		return nil, nil
	}
	list, ok := v.Value().([]string)
	if !ok {
		return nil, fmt.Errorf("zone %s: unexpected type %s", key, v.Signature())
	}
	return list, nil
}

func decodePorts(value interface{}) ([]model.Port, error) {
	switch ports := value.(type) {
	case [][]interface{}:
		out := make([]model.Port, 0, len(ports))
		for _, pair := range ports {
			if len(pair) != 2 {
				return nil, fmt.Errorf("expected (port, protocol) pair, got %v", pair)
			}
			port, ok1 := pair[0].(string)
			proto, ok2 := pair[1].(string)
			if !ok1 || !ok2 {
				return nil, fmt.Errorf("expected string pair, got %v", pair)
			}
			out = append(out, model.Port{Port: port, Protocol: model.Protocol(strings.ToLower(proto))})
		}
		return out, nil
	case [][]string:
		out := make([]model.Port, 0, len(ports))
		for _, pair := range ports {
			if len(pair) != 2 {
				return nil, fmt.Errorf("expected (port, protocol) pair, got %v", pair)
			}
			out = append(out, model.Port{Port: pair[0], Protocol: model.Protocol(strings.ToLower(pair[1]))})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected type %T", value)
	}
}

// Field positions in the (sssbsasa(ss)asba(ssss)asasasasa(ss)b) reply of
// the legacy getZoneSettings call.
const (
	legacyTarget   = 4
	legacyServices = 5
	legacyPorts    = 6
	legacySources  = 11
)

func decodeLegacyZoneSettings(tuple []interface{}) (model.ZoneSettings, error) {
	var settings model.ZoneSettings
	if len(tuple) <= legacySources {
		return settings, fmt.Errorf("zone settings: expected at least %d fields, got %d", legacySources+1, len(tuple))
	}

	target, ok := tuple[legacyTarget].(string)
	if !ok {
		return settings, fmt.Errorf("zone target: unexpected type %T", tuple[legacyTarget])
	}
	settings.Target = normalizeTarget(target)

	if settings.Services, ok = tuple[legacyServices].([]string); !ok {
		return settings, fmt.Errorf("zone services: unexpected type %T", tuple[legacyServices])
	}
	if settings.Sources, ok = tuple[legacySources].([]string); !ok {
		return settings, fmt.Errorf("zone sources: unexpected type %T", tuple[legacySources])
	}

	var err error
	if settings.Ports, err = decodePorts(tuple[legacyPorts]); err != nil {
		return settings, fmt.Errorf("zone ports: %w", err)
	}
	return settings, nil
}
