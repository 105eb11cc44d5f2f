package rules

import (
	"regexp"
	"strings"

	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/domain"
)

// Match is the result of classifying one log line.
type Match struct {
	Type     domain.EventType
	Severity domain.Severity
	Metadata map[string]string
}

// refineFunc may adjust a rule's base severity or attach metadata based on
// the captured groups. Must be pure.
type refineFunc func(groups []string, line string) (domain.Severity, map[string]string)

// rule is one entry in the ordered detection table. Rules apply only to the
// log kinds they name; the first matching rule wins and no further rules are
// evaluated for the line.
type rule struct {
	eventType domain.EventType
	severity  domain.Severity
	kinds     []domain.LogKind
	pattern   *regexp.Regexp
	refine    refineFunc
}

// sensitiveExtensions escalate an egress read to critical.
var sensitiveExtensions = []string{".csv", ".zip", ".sql", ".key", ".pem"}

// detectionTable holds every recognized rule family in priority order.
// Adding a rule family is an addition here, not a new code path.
var detectionTable = []rule{
	{
		eventType: domain.EventEgressAttempt,
		severity:  domain.SeverityHigh,
		kinds:     []domain.LogKind{domain.LogKindKernel},
		pattern:   regexp.MustCompile(`(?i)kernel:.*egress\s*\(\d+\)\s*pid\s+(\d+)\s+read\s+(\S+|\([^)]+\))\s+write\s+(\S*)\s+uid\s+(\d+)\s+gid\s+(\d+)`),
		refine: func(groups []string, line string) (domain.Severity, map[string]string) {
			md := map[string]string{
				"pid":        groups[1],
				"read_file":  groups[2],
				"write_dest": groups[3],
				"uid":        groups[4],
				"gid":        groups[5],
			}
			readFile := strings.ToLower(groups[2])
			for _, ext := range sensitiveExtensions {
				if strings.Contains(readFile, ext) {
					return domain.SeverityCritical, md
				}
			}
			return domain.SeverityHigh, md
		},
	},
	{
		eventType: domain.EventBruteForce,
		severity:  domain.SeverityHigh,
		kinds:     []domain.LogKind{domain.LogKindAuth},
		pattern:   regexp.MustCompile(`(?i)sshd\[\d+\]:\s*Failed\s+password\s+for\s+(?:invalid\s+user\s+)?(\w+)\s+from\s+([\d.]+)`),
		refine: func(groups []string, line string) (domain.Severity, map[string]string) {
			return domain.SeverityHigh, map[string]string{
				"username":  groups[1],
				"source_ip": groups[2],
			}
		},
	},
	{
		eventType: domain.EventBruteForce,
		severity:  domain.SeverityHigh,
		kinds:     []domain.LogKind{domain.LogKindAuth},
		pattern:   regexp.MustCompile(`(?i)sshd\[\d+\]:\s*Invalid\s+user\s+(\w+)\s+from\s+([\d.]+)`),
		refine: func(groups []string, line string) (domain.Severity, map[string]string) {
			return domain.SeverityHigh, map[string]string{
				"username":  groups[1],
				"source_ip": groups[2],
			}
		},
	},
	{
		eventType: domain.EventBruteForce,
		severity:  domain.SeverityHigh,
		kinds:     []domain.LogKind{domain.LogKindAuth},
		pattern:   regexp.MustCompile(`(?i)sudo:.*user\s+NOT\s+in\s+sudoers.*USER=(\w+).*COMMAND=(.+)`),
		refine: func(groups []string, line string) (domain.Severity, map[string]string) {
			return domain.SeverityHigh, map[string]string{
				"user":    groups[1],
				"command": strings.TrimSpace(groups[2]),
			}
		},
	},
	{
		eventType: domain.EventPrivilegeEscalation,
		severity:  domain.SeverityMedium,
		kinds:     []domain.LogKind{domain.LogKindAuth},
		pattern:   regexp.MustCompile(`(?i)sudo:\s*(\w+)\s*:.*TTY=.*USER=(\w+)\s+COMMAND=(.+)`),
		refine: func(groups []string, line string) (domain.Severity, map[string]string) {
			md := map[string]string{
				"user":        groups[1],
				"target_user": groups[2],
				"command":     strings.TrimSpace(groups[3]),
			}
			if groups[2] == "root" {
				return domain.SeverityHigh, md
			}
			return domain.SeverityMedium, md
		},
	},
	{
		eventType: domain.EventPrivilegeEscalation,
		severity:  domain.SeverityMedium,
		kinds:     []domain.LogKind{domain.LogKindAuth},
		pattern:   regexp.MustCompile(`(?i)sudo:\s*pam_unix\(sudo:session\):\s*session\s+(opened|closed)\s+for\s+user\s+(\w+)`),
		refine: func(groups []string, line string) (domain.Severity, map[string]string) {
			md := map[string]string{"user": groups[2], "session": groups[1]}
			if groups[2] == "root" {
				return domain.SeverityHigh, md
			}
			return domain.SeverityMedium, md
		},
	},
	{
		eventType: domain.EventPrivilegeEscalation,
		severity:  domain.SeverityMedium,
		kinds:     []domain.LogKind{domain.LogKindAuth},
		pattern:   regexp.MustCompile(`(?i)su:\s*pam_unix\(su:session\):\s*session\s+opened\s+for\s+user\s+(\w+).*by\s+(\w+)`),
		refine: func(groups []string, line string) (domain.Severity, map[string]string) {
			md := map[string]string{"user": groups[1], "by": groups[2]}
			if groups[1] == "root" {
				return domain.SeverityHigh, md
			}
			return domain.SeverityMedium, md
		},
	},
	{
		eventType: domain.EventOOMKill,
		severity:  domain.SeverityMedium,
		kinds:     []domain.LogKind{domain.LogKindKernel, domain.LogKindSystem},
		pattern:   regexp.MustCompile(`(?i)kernel:.*Out\s+of\s+memory:\s*Kill\s+process\s+(\d+)\s*\(([^)]+)\)`),
		refine: func(groups []string, line string) (domain.Severity, map[string]string) {
			return domain.SeverityMedium, map[string]string{
				"pid":     groups[1],
				"process": groups[2],
			}
		},
	},
	{
		eventType: domain.EventOOMKill,
		severity:  domain.SeverityMedium,
		kinds:     []domain.LogKind{domain.LogKindKernel, domain.LogKindSystem},
		pattern:   regexp.MustCompile(`(?i)kernel:.*oom-kill:.*killed\s+process\s+(\d+)`),
		refine: func(groups []string, line string) (domain.Severity, map[string]string) {
			return domain.SeverityMedium, map[string]string{"pid": groups[1]}
		},
	},
	{
		eventType: domain.EventFileAccess,
		severity:  domain.SeverityHigh,
		kinds:     []domain.LogKind{domain.LogKindAuth, domain.LogKindSystem},
		pattern:   regexp.MustCompile(`(?i)audit.*name="?(/etc/shadow|/etc/passwd|[^\s"]*\.ssh/authorized_keys)"?`),
		refine: func(groups []string, line string) (domain.Severity, map[string]string) {
			return domain.SeverityHigh, map[string]string{"path": groups[1]}
		},
	},
	{
		eventType: domain.EventSuspiciousBehavior,
		severity:  domain.SeverityHigh,
		kinds:     []domain.LogKind{domain.LogKindAuth, domain.LogKindSystem},
		pattern:   regexp.MustCompile(`(?i)(reverse shell|/dev/tcp/[\d.]+|nc\s+-e\s)`),
		refine:    nil,
	},
	{
		eventType: domain.EventSuspiciousBehavior,
		severity:  domain.SeverityLow,
		kinds:     []domain.LogKind{domain.LogKindAuth},
		pattern:   regexp.MustCompile(`(?i)sshd\[\d+\]:.*POSSIBLE BREAK-IN ATTEMPT`),
		refine:    nil,
	},
	{
		eventType: domain.EventSystemAlert,
		severity:  domain.SeverityMedium,
		kinds:     []domain.LogKind{domain.LogKindKernel, domain.LogKindSystem},
		pattern:   regexp.MustCompile(`(?i)kernel:.*(segfault at [0-9a-f]+|Kernel panic|I/O error, dev \w+)`),
		refine:    nil,
	},
}

// Engine is a stateless classifier over the ordered detection table.
type Engine struct {
	byKind map[domain.LogKind][]*rule
}

// NewEngine builds the per-kind rule dispatch from the detection table.
func NewEngine() *Engine {
	e := &Engine{byKind: make(map[domain.LogKind][]*rule)}
	for i := range detectionTable {
		r := &detectionTable[i]
		for _, k := range r.kinds {
			e.byKind[k] = append(e.byKind[k], r)
		}
	}
	return e
}

// Classify matches a raw log line against the rules for its log kind.
// Returns nil if no rule matches; unmatched lines are not events.
func (e *Engine) Classify(kind domain.LogKind, line string) *Match {
	if strings.TrimSpace(line) == "" {
		return nil
	}

	for _, r := range e.byKind[kind] {
		groups := r.pattern.FindStringSubmatch(line)
		if groups == nil {
			continue
		}

		m := &Match{Type: r.eventType, Severity: r.severity}
		if r.refine != nil {
			m.Severity, m.Metadata = r.refine(groups, line)
		}
		return m
	}

	return nil
}
