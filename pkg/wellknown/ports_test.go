package wellknown

import (
	"testing"

	"submission-allowlist/internal/model"
)

func TestGetServiceReturnsSubmissionAliases(t *testing.T) {
	// firewalld ships the 587 service as smtp-submission, sites often define submission.
	for _, name := range []string{"submission", "smtp-submission", "SMTP-Submission"} {
		entries, ok := GetService(name)
		if !ok {
			t.Fatalf("expected %s to be present in service registry", name)
		}
		if !containsPort(entries, "587", model.TCP) {
			t.Fatalf("expected %s to include 587/tcp, got %#v", name, entries)
		}
	}
}

func TestGetServiceReturnsFalseForUnknown(t *testing.T) {
	_, ok := GetService("definitely-not-a-service")
	if ok {
		t.Fatalf("expected unknown service to return ok=false")
	}
}

func TestOpens(t *testing.T) {
	if !Opens("smtp-submission", 587, model.TCP) {
		t.Fatalf("expected smtp-submission to open 587/tcp")
	}
	if Opens("smtp-submission", 587, model.UDP) {
		t.Fatalf("did not expect smtp-submission to open 587/udp")
	}
	if Opens("imaps", 587, model.TCP) {
		t.Fatalf("did not expect imaps to open 587/tcp")
	}
}

func TestRegisterAddsRangeService(t *testing.T) {
	Register("local-mail-range", ServiceEntry{Protocol: model.TCP, Port: "580-590"})
	if !Opens("local-mail-range", 587, model.TCP) {
		t.Fatalf("expected registered range service to open 587/tcp")
	}
}

func containsPort(entries []ServiceEntry, port string, protocol model.Protocol) bool {
	for _, entry := range entries {
		if entry.Port == port && entry.Protocol == protocol {
			return true
		}
	}
	return false
}
