package poller

import (
	"testing"

	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/domain"
)

func TestParseProbe(t *testing.T) {
	out := []byte(`OS=Ubuntu 22.04.3 LTS
UPTIME=432000
CPU=12.3
RAM=47.5
DISK=81
`)
	hs := parseProbe(out)

	want := domain.HostStatus{
		OS:     "Ubuntu 22.04.3 LTS",
		Uptime: 432000,
		CPU:    12.3,
		RAM:    47.5,
		Disk:   81,
	}
	if hs.OS != want.OS || hs.Uptime != want.Uptime || hs.CPU != want.CPU ||
		hs.RAM != want.RAM || hs.Disk != want.Disk {
		t.Errorf("parseProbe() = %+v, want %+v", hs, want)
	}
}

func TestParseProbePartialOutput(t *testing.T) {
	tests := []struct {
		name string
		out  string
	}{
		{"empty output", ""},
		{"garbage lines", "bash: top: command not found\nOS=Debian 12\n"},
		{"malformed values", "UPTIME=not-a-number\nCPU=\nDISK=55\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hs := parseProbe([]byte(tt.out))
			// Must not panic and must keep whatever parsed cleanly.
			if tt.name == "garbage lines" && hs.OS != "Debian 12" {
				t.Errorf("Expected OS parsed from mixed output, got %q", hs.OS)
			}
			if tt.name == "malformed values" {
				if hs.Uptime != 0 {
					t.Errorf("Expected malformed uptime ignored, got %d", hs.Uptime)
				}
				if hs.Disk != 55 {
					t.Errorf("Expected disk parsed, got %v", hs.Disk)
				}
			}
		})
	}
}
