package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mts.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
agent_id: mts1
transports:
  - type: tcp
    listening_port: 4000
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.InternalRepresentation != "binary" {
		t.Fatalf("expected default representation binary, got %s", cfg.InternalRepresentation)
	}
	if len(cfg.AcceptedSignatures) != 1 {
		t.Fatalf("expected a default accepted signature, got %v", cfg.AcceptedSignatures)
	}
	if len(cfg.Discovery.Scopes) != 1 {
		t.Fatalf("expected a default discovery scope, got %v", cfg.Discovery.Scopes)
	}
	if cfg.Transports[0].MaximumClients != 50 {
		t.Fatalf("expected default maximum_clients 50, got %d", cfg.Transports[0].MaximumClients)
	}
	if cfg.Transports[0].TTL != -1 {
		t.Fatalf("expected default ttl -1, got %d", cfg.Transports[0].TTL)
	}
}

func TestLoadRejectsMissingAgentID(t *testing.T) {
	path := writeTempConfig(t, `
transports:
  - type: tcp
    listening_port: 4000
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for a missing agent_id")
	}
}

func TestLoadRejectsUnknownTransportType(t *testing.T) {
	path := writeTempConfig(t, `
agent_id: mts1
transports:
  - type: carrier-pigeon
    listening_port: 4000
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an unknown transport type")
	}
}

func TestLoadRejectsOutOfRangePort(t *testing.T) {
	path := writeTempConfig(t, `
agent_id: mts1
transports:
  - type: tcp
    listening_port: 70000
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an out-of-range port")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
