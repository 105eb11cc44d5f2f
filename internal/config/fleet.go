package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SSHConfig describes how remote shell sessions are opened.
type SSHConfig struct {
	User           string `yaml:"user"`
	IdentityFile   string `yaml:"identity_file"`
	ConnectTimeout int    `yaml:"connect_timeout"` // seconds
	CommandTimeout int    `yaml:"command_timeout"` // seconds
}

// HostEntry is one physical host in the fleet.
type HostEntry struct {
	Name string `yaml:"name"`
	Addr string `yaml:"addr"`
}

// Fleet describes the monitored fleet: the hosts to probe and the SSH
// settings used when the log root is not locally mounted.
type Fleet struct {
	LogHost string      `yaml:"log_host"` // host serving the log root over SSH
	SSH     SSHConfig   `yaml:"ssh"`
	Hosts   []HostEntry `yaml:"hosts"`
}

// LoadFleet loads the fleet topology from a YAML file.
func LoadFleet(path string) (*Fleet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fleet config: %w", err)
	}

	var f Fleet
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fleet config: %w", err)
	}

	if f.SSH.User == "" {
		f.SSH.User = "i4ops"
	}
	if f.SSH.ConnectTimeout <= 0 {
		f.SSH.ConnectTimeout = 10
	}
	if f.SSH.CommandTimeout <= 0 {
		f.SSH.CommandTimeout = 30
	}

	return &f, nil
}

// ConnectTimeoutDuration returns the SSH connect timeout as a duration.
func (s SSHConfig) ConnectTimeoutDuration() time.Duration {
	return time.Duration(s.ConnectTimeout) * time.Second
}

// CommandTimeoutDuration returns the SSH command deadline as a duration.
func (s SSHConfig) CommandTimeoutDuration() time.Duration {
	return time.Duration(s.CommandTimeout) * time.Second
}

// HostNames returns the names of all configured hosts.
func (f *Fleet) HostNames() []string {
	names := make([]string, 0, len(f.Hosts))
	for _, h := range f.Hosts {
		names = append(names, h.Name)
	}
	return names
}

// AddrFor returns the address for a host name, falling back to the name
// itself so that ssh config aliases keep working.
func (f *Fleet) AddrFor(name string) string {
	for _, h := range f.Hosts {
		if h.Name == name {
			if h.Addr != "" {
				return h.Addr
			}
			return h.Name
		}
	}
	return name
}
