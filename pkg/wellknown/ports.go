package wellknown

import (
	"bytes"
	"encoding/csv"
	"io"
	"log"
	"strings"

	_ "embed"

	"submission-allowlist/internal/model"
	"submission-allowlist/internal/utils"
)

//go:embed services.csv
var servicesData string

// ServiceEntry is one port or port range a firewalld service opens.
type ServiceEntry struct {
	Protocol model.Protocol
	Port     string
}

var serviceRegistry map[string][]ServiceEntry

func init() {
	serviceRegistry = make(map[string][]ServiceEntry)
	reader := csv.NewReader(bytes.NewBufferString(servicesData))
	reader.TrimLeadingSpace = true
	// Skip header
	if _, err := reader.Read(); err != nil {
		log.Fatalf("Failed to read header from embedded services.csv: %v", err)
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("Failed to parse embedded services.csv: %v", err)
		}
		if len(record) < 3 {
			continue
		}
		if _, _, err := utils.PortRange(record[1]); err != nil {
			continue
		}
		protocol := model.Protocol(strings.ToLower(strings.TrimSpace(record[2])))
		if protocol != model.TCP && protocol != model.UDP {
			continue
		}
		Register(record[0], ServiceEntry{Protocol: protocol, Port: strings.TrimSpace(record[1])})
	}
}

// Register adds a service definition. Site-local firewalld services can be
// registered here so that they count when zones are scanned.
func Register(name string, entries ...ServiceEntry) {
	key := strings.ToUpper(strings.TrimSpace(name))
	if key == "" {
		return
	}
	serviceRegistry[key] = append(serviceRegistry[key], entries...)
}

// GetService returns the ports a firewalld service name opens.
func GetService(name string) ([]ServiceEntry, bool) {
	entry, ok := serviceRegistry[strings.ToUpper(name)]
	return entry, ok
}

// Opens reports whether the named service opens port over protocol.
func Opens(name string, port int, protocol model.Protocol) bool {
	entries, ok := GetService(name)
	if !ok {
		return false
	}
	for _, entry := range entries {
		if entry.Protocol == protocol && utils.PortInRange(entry.Port, port) {
			return true
		}
	}
	return false
}
