package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"zypher/internal/transport"
)

// ManifestEntry describes one server in a --manifest file, the multi-server
// counterpart to the single-server --command/--url flags. Mirrors the
// shape of registry.ServerDetail loosely, trimmed to what a local fixture
// needs to declare.
type ManifestEntry struct {
	ID      string            `yaml:"id"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

// ToEndpoint converts a manifest entry into a transport.Endpoint, enforcing
// the same exactly-one-variant invariant as the single-server flag path.
func (e ManifestEntry) ToEndpoint() (transport.Endpoint, error) {
	switch {
	case e.Command != "" && e.URL != "":
		return transport.Endpoint{}, fmt.Errorf("manifest entry %q: specify either command or url, not both", e.ID)
	case e.Command != "":
		return transport.Endpoint{ID: e.ID, Command: &transport.CommandEndpoint{Command: e.Command, Args: e.Args, Env: e.Env}}, nil
	case e.URL != "":
		return transport.Endpoint{ID: e.ID, Remote: &transport.RemoteEndpoint{URL: e.URL, Headers: e.Headers}}, nil
	default:
		return transport.Endpoint{}, fmt.Errorf("manifest entry %q: one of command or url is required", e.ID)
	}
}

// LoadManifest parses a YAML list of ManifestEntry from path.
func LoadManifest(path string) ([]ManifestEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	var entries []ManifestEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return entries, nil
}
