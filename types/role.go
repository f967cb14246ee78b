package types

import "fmt"

// Role names one of the managed backend processes
type Role string

const (
	RoleServer  Role = "server"
	RoleGateway Role = "gateway"
)

// Roles lists every role in start order. The gateway dials the server, so the
// server always comes first.
var Roles = []Role{RoleServer, RoleGateway}

// IsValid returns true if the role is one we know how to manage
func (r Role) IsValid() bool {
	switch r {
	case RoleServer, RoleGateway:
		return true
	default:
		return false
	}
}

// ProbeConfig describes how to decide that a started role is ready.
// At most one of Addr and URL may be set; when neither is set the
// supervisor falls back to a fixed settle delay.
type ProbeConfig struct {
	Addr string `yaml:"addr,omitempty"`
	URL  string `yaml:"url,omitempty"`
}

// IsZero returns true if no probe is configured
func (p *ProbeConfig) IsZero() bool {
	return p == nil || (p.Addr == "" && p.URL == "")
}

// Validate checks that the probe is unambiguous
func (p *ProbeConfig) Validate() error {
	if p == nil {
		return nil
	}
	if p.Addr != "" && p.URL != "" {
		return fmt.Errorf("probe may set addr or url, not both")
	}
	return nil
}

// RoleConfig is the manifest entry for one managed process
type RoleConfig struct {
	Name   Role         `yaml:"name"`
	Module string       `yaml:"module"`
	Binary string       `yaml:"binary"`
	Args   []string     `yaml:"args,omitempty"`
	Dir    string       `yaml:"dir,omitempty"`
	Env    []string     `yaml:"env,omitempty"`
	Ready  *ProbeConfig `yaml:"ready,omitempty"`
}

// ManifestConfig is the on-disk harness manifest
type ManifestConfig struct {
	Roles []RoleConfig `yaml:"roles"`
	Specs []string     `yaml:"specs"`
}
