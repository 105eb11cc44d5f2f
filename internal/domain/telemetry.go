package domain

import "time"

// HostStatus is one health sample for a fleet host, collected over the
// remote channel. Down means the host did not answer the probe at all;
// in that state the metric fields are stale and every VM on the host is
// marked offline until the next successful probe.
type HostStatus struct {
	Name     string    `json:"name"`
	OS       string    `json:"os"`
	Uptime   int64     `json:"uptime"`
	SSH      bool      `json:"ssh"`
	CPU      float64   `json:"cpu"`
	RAM      float64   `json:"ram"`
	Disk     float64   `json:"disk"`
	Down     bool      `json:"down"`
	PolledAt time.Time `json:"polledAt"`
}

// VMRecord is the inventory view of a VM used by the identity resolver.
// Aliases carries every naming convention the VM is known by.
type VMRecord struct {
	ID      int64
	Name    string
	Aliases []string
}
