package rules

import (
	"testing"

	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/domain"
)

func TestClassify(t *testing.T) {
	engine := NewEngine()

	tests := []struct {
		name         string
		kind         domain.LogKind
		line         string
		wantMatch    bool
		wantType     domain.EventType
		wantSeverity domain.Severity
	}{
		{
			name:         "failed ssh password",
			kind:         domain.LogKindAuth,
			line:         "Jan  5 10:00:01 u2 sshd[123]: Failed password for invalid user admin from 10.0.0.5 port 22 ssh2",
			wantMatch:    true,
			wantType:     domain.EventBruteForce,
			wantSeverity: domain.SeverityHigh,
		},
		{
			name:         "invalid user",
			kind:         domain.LogKindAuth,
			line:         "Jan  5 10:00:02 u2 sshd[456]: Invalid user oracle from 192.168.1.44",
			wantMatch:    true,
			wantType:     domain.EventBruteForce,
			wantSeverity: domain.SeverityHigh,
		},
		{
			name:         "user not in sudoers",
			kind:         domain.LogKindAuth,
			line:         "Jan  5 10:00:03 u2 sudo: bob : user NOT in sudoers ; TTY=pts/0 ; PWD=/home/bob ; USER=root ; COMMAND=/bin/bash",
			wantMatch:    true,
			wantType:     domain.EventBruteForce,
			wantSeverity: domain.SeverityHigh,
		},
		{
			name:         "sudo command for root",
			kind:         domain.LogKindAuth,
			line:         "Jan  5 10:01:00 u2 sudo: alice : TTY=pts/1 ; PWD=/home/alice ; USER=root COMMAND=/usr/bin/apt update",
			wantMatch:    true,
			wantType:     domain.EventPrivilegeEscalation,
			wantSeverity: domain.SeverityHigh,
		},
		{
			name:         "sudo session for non-root",
			kind:         domain.LogKindAuth,
			line:         "Jan  5 10:01:05 u2 sudo: pam_unix(sudo:session): session opened for user backup by alice(uid=0)",
			wantMatch:    true,
			wantType:     domain.EventPrivilegeEscalation,
			wantSeverity: domain.SeverityMedium,
		},
		{
			name:         "egress of sensitive file",
			kind:         domain.LogKindKernel,
			line:         "Jan  5 10:02:00 u2 kernel: [99.1] egress (7) pid 4242 read /srv/data/customers.csv write /tmp/out uid 1000 gid 1000",
			wantMatch:    true,
			wantType:     domain.EventEgressAttempt,
			wantSeverity: domain.SeverityCritical,
		},
		{
			name:         "egress of plain file",
			kind:         domain.LogKindKernel,
			line:         "Jan  5 10:02:01 u2 kernel: [99.2] egress (7) pid 4242 read /var/log/foo.txt write /tmp/out uid 1000 gid 1000",
			wantMatch:    true,
			wantType:     domain.EventEgressAttempt,
			wantSeverity: domain.SeverityHigh,
		},
		{
			name:         "oom killer",
			kind:         domain.LogKindKernel,
			line:         "Jan  5 10:03:00 u2 kernel: Out of memory: Kill process 9912 (java) score 900 or sacrifice child",
			wantMatch:    true,
			wantType:     domain.EventOOMKill,
			wantSeverity: domain.SeverityMedium,
		},
		{
			name:         "segfault",
			kind:         domain.LogKindSystem,
			line:         "Jan  5 10:04:00 u2 kernel: myproc[311]: segfault at 7f1c ip 00007f error 4",
			wantMatch:    true,
			wantType:     domain.EventSystemAlert,
			wantSeverity: domain.SeverityMedium,
		},
		{
			name:      "benign auth line",
			kind:      domain.LogKindAuth,
			line:      "Jan  5 10:05:00 u2 sshd[777]: Accepted publickey for alice from 10.0.0.9 port 50000 ssh2",
			wantMatch: false,
		},
		{
			name:      "kernel rule does not fire on auth log",
			kind:      domain.LogKindAuth,
			line:      "Jan  5 10:02:00 u2 kernel: egress (7) pid 4242 read /srv/x.csv write /tmp uid 0 gid 0",
			wantMatch: false,
		},
		{
			name:      "empty line",
			kind:      domain.LogKindAuth,
			line:      "   ",
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := engine.Classify(tt.kind, tt.line)

			if (m != nil) != tt.wantMatch {
				t.Fatalf("Classify() match = %v, want %v", m != nil, tt.wantMatch)
			}
			if !tt.wantMatch {
				return
			}
			if m.Type != tt.wantType {
				t.Errorf("Classify() type = %s, want %s", m.Type, tt.wantType)
			}
			if m.Severity != tt.wantSeverity {
				t.Errorf("Classify() severity = %s, want %s", m.Severity, tt.wantSeverity)
			}
		})
	}
}

func TestClassifyDeterministic(t *testing.T) {
	engine := NewEngine()
	line := "Jan  5 10:00:01 u2 sshd[123]: Failed password for invalid user admin from 10.0.0.5"

	first := engine.Classify(domain.LogKindAuth, line)
	if first == nil {
		t.Fatal("expected a match")
	}

	for i := 0; i < 50; i++ {
		m := engine.Classify(domain.LogKindAuth, line)
		if m == nil || m.Type != first.Type || m.Severity != first.Severity {
			t.Fatalf("classification not deterministic on iteration %d: %+v vs %+v", i, m, first)
		}
	}
}

func TestClassifyMetadata(t *testing.T) {
	engine := NewEngine()

	m := engine.Classify(domain.LogKindAuth,
		"Jan  5 10:00:01 u2 sshd[123]: Failed password for invalid user admin from 10.0.0.5")
	if m == nil {
		t.Fatal("expected a match")
	}
	if m.Metadata["username"] != "admin" {
		t.Errorf("expected username=admin, got %q", m.Metadata["username"])
	}
	if m.Metadata["source_ip"] != "10.0.0.5" {
		t.Errorf("expected source_ip=10.0.0.5, got %q", m.Metadata["source_ip"])
	}

	m = engine.Classify(domain.LogKindKernel,
		"Jan  5 10:02:00 u2 kernel: egress (7) pid 4242 read /srv/db.sql write /tmp/x uid 1000 gid 100")
	if m == nil {
		t.Fatal("expected a match")
	}
	if m.Metadata["pid"] != "4242" || m.Metadata["read_file"] != "/srv/db.sql" {
		t.Errorf("unexpected egress metadata: %v", m.Metadata)
	}
}
