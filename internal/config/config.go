// Package config loads the YAML configuration document describing an
// MTS node: its agent id, which transports to activate, which peer
// service signatures to accept, and which discovery scopes to join.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration document.
type Config struct {
	AgentID                string            `yaml:"agent_id"`
	Debug                  bool              `yaml:"debug"`
	Transports             []TransportConfig `yaml:"transports"`
	AcceptedSignatures     []string          `yaml:"accepted_signatures"`
	InternalRepresentation string            `yaml:"internal_representation"`
	Discovery              DiscoveryConfig   `yaml:"discovery"`
}

// TransportConfig describes one transport to activate at startup.
type TransportConfig struct {
	Type           string `yaml:"type"`
	ListeningPort  int    `yaml:"listening_port"`
	MaximumClients int    `yaml:"maximum_clients"`
	TTL            int    `yaml:"ttl"`
}

// DiscoveryConfig names the multicast scopes the distributed directory
// joins.
type DiscoveryConfig struct {
	Scopes []string `yaml:"scopes"`
}

// Load reads and parses filename, applying defaults and validating the
// result.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.InternalRepresentation == "" {
		c.InternalRepresentation = "binary"
	}
	if len(c.AcceptedSignatures) == 0 {
		c.AcceptedSignatures = []string{"fipa::services::transports::MessageTransport"}
	}
	if len(c.Discovery.Scopes) == 0 {
		c.Discovery.Scopes = []string{"_fipa_service_directory._udp"}
	}
	for i := range c.Transports {
		if c.Transports[i].MaximumClients == 0 {
			c.Transports[i].MaximumClients = 50
		}
		if c.Transports[i].TTL == 0 {
			c.Transports[i].TTL = -1
		}
	}
}

func (c *Config) validate() error {
	if c.AgentID == "" {
		return fmt.Errorf("agent_id must be set")
	}
	for _, tr := range c.Transports {
		switch tr.Type {
		case "tcp", "udt":
		default:
			return fmt.Errorf("transport type %q is not one of tcp, udt", tr.Type)
		}
		if tr.ListeningPort < 0 || tr.ListeningPort > 65535 {
			return fmt.Errorf("transport %q: listening_port %d out of range", tr.Type, tr.ListeningPort)
		}
	}
	switch c.InternalRepresentation {
	case "binary", "xml", "string":
	default:
		return fmt.Errorf("internal_representation %q is not one of binary, xml, string", c.InternalRepresentation)
	}
	return nil
}
